package quote_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fmogensen/investment-platform/internal/provider"
	"github.com/fmogensen/investment-platform/internal/provider/registry"
	"github.com/fmogensen/investment-platform/internal/quote"
	"github.com/fmogensen/investment-platform/internal/usage"
)

type scriptedProvider struct {
	name    string
	quote   provider.Quote
	err     error
	results []provider.SearchResult
	calls   int
}

func (s *scriptedProvider) Name() string { return s.name }
func (s *scriptedProvider) Quote(context.Context, string) (provider.Quote, error) {
	s.calls++
	return s.quote, s.err
}
func (s *scriptedProvider) Search(context.Context, string) ([]provider.SearchResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func newRegistry(t *testing.T, ps ...provider.Provider) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, p := range ps {
		require.NoError(t, reg.Add(registry.Entry{Provider: p, HasCredential: true, Active: true}))
	}
	return reg
}

func TestGetQuote_FirstProviderWins(t *testing.T) {
	t.Parallel()

	a := &scriptedProvider{name: "a", quote: provider.Quote{Symbol: "AAPL", Price: 190.5, Source: "a"}}
	b := &scriptedProvider{name: "b", quote: provider.Quote{Symbol: "AAPL", Price: 191.0, Source: "b"}}
	rec := usage.NewMemoryRecorder(0)
	f := &quote.Fetcher{Registry: newRegistry(t, a, b), Recorder: rec}

	q, err := f.GetQuote(t.Context(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, "a", q.Source)
	require.Equal(t, 1, a.calls)
	require.Zero(t, b.calls)
	require.Len(t, rec.Records(), 1)
	require.Equal(t, usage.StatusSuccess, rec.Records()[0].Status)
}

func TestGetQuote_FailoverRecordsEveryAttempt(t *testing.T) {
	t.Parallel()

	a := &scriptedProvider{name: "a", err: errors.New("upstream 500")}
	b := &scriptedProvider{name: "b", quote: provider.Quote{Symbol: "TSLA", Price: 240.1, Source: "b"}}
	rec := usage.NewMemoryRecorder(0)
	f := &quote.Fetcher{Registry: newRegistry(t, a, b), Recorder: rec}

	q, err := f.GetQuote(t.Context(), "TSLA")
	require.NoError(t, err)
	require.Equal(t, "b", q.Source)

	records := rec.Records()
	require.Len(t, records, 2)
	require.Equal(t, "a", records[0].Provider)
	require.Equal(t, usage.StatusError, records[0].Status)
	require.Equal(t, "upstream 500", records[0].ErrorMessage)
	require.Equal(t, "b", records[1].Provider)
	require.Equal(t, usage.StatusSuccess, records[1].Status)
}

func TestGetQuote_AllFail(t *testing.T) {
	t.Parallel()

	a := &scriptedProvider{name: "a", err: errors.New("boom")}
	b := &scriptedProvider{name: "b", err: provider.ErrNotFound}
	rec := usage.NewMemoryRecorder(0)
	f := &quote.Fetcher{Registry: newRegistry(t, a, b), Recorder: rec}

	_, err := f.GetQuote(t.Context(), "NOPE")
	require.ErrorIs(t, err, quote.ErrNoQuote)
	require.Len(t, rec.Records(), 2)
}

func TestGetQuote_NoProvidersNoRecords(t *testing.T) {
	t.Parallel()

	rec := usage.NewMemoryRecorder(0)
	f := &quote.Fetcher{Registry: registry.New(), Recorder: rec}

	_, err := f.GetQuote(t.Context(), "AAPL")
	require.ErrorIs(t, err, quote.ErrNoQuote)
	require.Empty(t, rec.Records())
}

func TestGetQuote_MissingCredentialNotRecorded(t *testing.T) {
	t.Parallel()

	a := &scriptedProvider{name: "a", err: provider.ErrNoCredential}
	b := &scriptedProvider{name: "b", quote: provider.Quote{Symbol: "AAPL", Price: 1, Source: "b"}}
	rec := usage.NewMemoryRecorder(0)
	f := &quote.Fetcher{Registry: newRegistry(t, a, b), Recorder: rec}

	_, err := f.GetQuote(t.Context(), "AAPL")
	require.NoError(t, err)
	require.Len(t, rec.Records(), 1)
	require.Equal(t, "b", rec.Records()[0].Provider)
}

func TestGetQuote_CacheHitSkipsProviders(t *testing.T) {
	t.Parallel()

	a := &scriptedProvider{name: "a", quote: provider.Quote{Symbol: "AAPL", Price: 190.5, Source: "a"}}
	rec := usage.NewMemoryRecorder(0)
	f := &quote.Fetcher{
		Registry: newRegistry(t, a),
		Caches:   []quote.Cache{quote.NewMemoryCache(time.Minute, 100)},
		Recorder: rec,
	}

	_, err := f.GetQuote(t.Context(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, 1, a.calls)

	q, err := f.GetQuote(t.Context(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, 190.5, q.Price)
	require.Equal(t, 1, a.calls, "second lookup must be served from cache")
	require.Len(t, rec.Records(), 1)
}

func TestGetQuote_BackfillsFasterTier(t *testing.T) {
	t.Parallel()

	front := quote.NewMemoryCache(time.Minute, 100)
	back := quote.NewMemoryCache(time.Minute, 100)
	back.Put(t.Context(), "MSFT", provider.Quote{Symbol: "MSFT", Price: 410})

	f := &quote.Fetcher{Registry: registry.New(), Caches: []quote.Cache{front, back}}

	q, err := f.GetQuote(t.Context(), "MSFT")
	require.NoError(t, err)
	require.Equal(t, float64(410), q.Price)

	filled, ok := front.Get(t.Context(), "MSFT")
	require.True(t, ok)
	require.Equal(t, float64(410), filled.Price)
}

func TestGetQuote_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &scriptedProvider{name: "a", err: context.Canceled}
	f := &quote.Fetcher{Registry: newRegistry(t, a)}

	_, err := f.GetQuote(ctx, "AAPL")
	require.ErrorIs(t, err, context.Canceled)
}

func TestSearch_Failover(t *testing.T) {
	t.Parallel()

	a := &scriptedProvider{name: "a", err: provider.ErrNotFound}
	b := &scriptedProvider{name: "b", results: []provider.SearchResult{{Symbol: "AAPL", Description: "Apple Inc"}}}
	rec := usage.NewMemoryRecorder(0)
	f := &quote.Fetcher{Registry: newRegistry(t, a, b), Recorder: rec}

	rs, err := f.Search(t.Context(), "apple")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	require.Equal(t, "AAPL", rs[0].Symbol)

	// ErrNotFound from a provider whose search is unsupported is skipped
	// without a usage record.
	require.Len(t, rec.Records(), 1)
	require.Equal(t, "b", rec.Records()[0].Provider)
	require.Equal(t, "search", rec.Records()[0].Endpoint)
}

func TestSearch_NoProviders(t *testing.T) {
	t.Parallel()

	f := &quote.Fetcher{Registry: registry.New()}
	_, err := f.Search(t.Context(), "apple")
	require.ErrorIs(t, err, quote.ErrNoQuote)
}
