package quote_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fmogensen/investment-platform/internal/provider"
	"github.com/fmogensen/investment-platform/internal/quote"
)

func TestMemoryCache_PutGet(t *testing.T) {
	t.Parallel()

	c := quote.NewMemoryCache(time.Minute, 10)
	_, ok := c.Get(t.Context(), "AAPL")
	require.False(t, ok)

	c.Put(t.Context(), "AAPL", provider.Quote{Symbol: "AAPL", Price: 190.5})
	q, ok := c.Get(t.Context(), "AAPL")
	require.True(t, ok)
	require.Equal(t, 190.5, q.Price)
}

func TestMemoryCache_Expiry(t *testing.T) {
	t.Parallel()

	c := quote.NewMemoryCache(10*time.Millisecond, 10)
	c.Put(t.Context(), "AAPL", provider.Quote{Symbol: "AAPL", Price: 1})

	_, ok := c.Get(t.Context(), "AAPL")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get(t.Context(), "AAPL")
	require.False(t, ok, "expired entries must read as absent")
}

func TestMemoryCache_ZeroTTLDisables(t *testing.T) {
	t.Parallel()

	c := quote.NewMemoryCache(0, 10)
	c.Put(t.Context(), "AAPL", provider.Quote{Symbol: "AAPL", Price: 1})
	_, ok := c.Get(t.Context(), "AAPL")
	require.False(t, ok)
}

func TestMemoryCache_CapKeepsNewestWrite(t *testing.T) {
	t.Parallel()

	c := quote.NewMemoryCache(time.Minute, 3)
	for i := 0; i < 10; i++ {
		c.Put(t.Context(), fmt.Sprintf("SYM%d", i), provider.Quote{Price: float64(i)})
	}

	// the just-written symbol always survives eviction
	q, ok := c.Get(t.Context(), "SYM9")
	require.True(t, ok)
	require.Equal(t, float64(9), q.Price)
}
