package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fmogensen/investment-platform/internal/provider"
	"github.com/fmogensen/investment-platform/internal/provider/ratelimit"
)

type countingProvider struct{ calls int }

func (c *countingProvider) Name() string { return "counting" }
func (c *countingProvider) Quote(context.Context, string) (provider.Quote, error) {
	c.calls++
	return provider.Quote{Symbol: "AAPL", Price: 1}, nil
}
func (c *countingProvider) Search(context.Context, string) ([]provider.SearchResult, error) {
	c.calls++
	return nil, nil
}

func TestMinInterval_SpacesCalls(t *testing.T) {
	t.Parallel()

	inner := &countingProvider{}
	m := &ratelimit.MinInterval{P: inner, Interval: 30 * time.Millisecond}

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := m.Quote(t.Context(), "AAPL")
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	require.Equal(t, 3, inner.calls)
}

func TestMinInterval_ContextCancel(t *testing.T) {
	t.Parallel()

	inner := &countingProvider{}
	m := &ratelimit.MinInterval{P: inner, Interval: time.Hour}
	_, err := m.Quote(t.Context(), "AAPL")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = m.Quote(ctx, "AAPL")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, inner.calls, "gated call must not reach the provider")
}

func TestTokenBucket_AllowsBurstThenThrottles(t *testing.T) {
	t.Parallel()

	inner := &countingProvider{}
	tb := &ratelimit.TokenBucketProvider{P: inner, TB: ratelimit.NewTokenBucket(20, 2)}

	start := time.Now()
	for i := 0; i < 2; i++ {
		_, err := tb.Quote(t.Context(), "AAPL")
		require.NoError(t, err)
	}
	require.Less(t, time.Since(start), 40*time.Millisecond, "burst must not wait")

	_, err := tb.Quote(t.Context(), "AAPL")
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "third call waits for a token")
	require.Equal(t, 3, inner.calls)
}

func TestTokenBucket_ContextCancel(t *testing.T) {
	t.Parallel()

	inner := &countingProvider{}
	tb := &ratelimit.TokenBucketProvider{P: inner, TB: ratelimit.NewTokenBucket(0.001, 1)}

	_, err := tb.Quote(t.Context(), "AAPL")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = tb.Quote(ctx, "AAPL")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, inner.calls)
}
