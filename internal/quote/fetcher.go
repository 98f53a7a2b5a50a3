package quote

import (
	"context"
	"errors"
	"time"

	"github.com/fmogensen/investment-platform/internal/provider"
	"github.com/fmogensen/investment-platform/internal/provider/registry"
	"github.com/fmogensen/investment-platform/internal/usage"
)

// ErrNoQuote means every candidate provider failed or none is configured.
// It is a normal outcome surfaced to the caller as "no live data", not a
// crash.
var ErrNoQuote = errors.New("unable to fetch live data; check provider configuration")

// Fetcher resolves quotes by trying providers in registry order, first
// success wins. Cache tiers are consulted front to back before any upstream
// call; each attempt appends one usage record.
type Fetcher struct {
	Registry *registry.Registry
	Caches   []Cache
	Recorder usage.Recorder

	// AttemptTimeout bounds each provider call so one slow upstream cannot
	// stall the whole fallback chain.
	AttemptTimeout time.Duration
}

// GetQuote returns the freshest quote for symbol, from cache when younger
// than the tier's TTL, otherwise from the first provider that answers.
func (f *Fetcher) GetQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	for i, c := range f.Caches {
		if q, ok := c.Get(ctx, symbol); ok {
			// refill the faster tiers in front of this one
			for j := 0; j < i; j++ {
				f.Caches[j].Put(ctx, symbol, q)
			}
			return q, nil
		}
	}

	candidates := f.Registry.Order()
	if len(candidates) == 0 {
		return provider.Quote{}, ErrNoQuote
	}

	for _, p := range candidates {
		q, latency, err := f.attemptQuote(ctx, p, symbol)
		if errors.Is(err, provider.ErrNoCredential) {
			// no upstream call happened; nothing to record
			continue
		}
		f.record(ctx, p.Name(), "quote", latency, err)
		if err != nil {
			if ctx.Err() != nil {
				return provider.Quote{}, ctx.Err()
			}
			continue
		}
		for _, c := range f.Caches {
			c.Put(ctx, symbol, q)
		}
		return q, nil
	}
	return provider.Quote{}, ErrNoQuote
}

// Search resolves a symbol lookup with the same failover shape as GetQuote.
// Results are not cached.
func (f *Fetcher) Search(ctx context.Context, query string) ([]provider.SearchResult, error) {
	candidates := f.Registry.Order()
	if len(candidates) == 0 {
		return nil, ErrNoQuote
	}
	for _, p := range candidates {
		start := time.Now()
		attemptCtx, cancel := f.attemptContext(ctx)
		rs, err := p.Search(attemptCtx, query)
		cancel()
		if errors.Is(err, provider.ErrNoCredential) || errors.Is(err, provider.ErrNotFound) {
			// provider does not serve search or has no key; not an upstream failure
			continue
		}
		f.record(ctx, p.Name(), "search", time.Since(start), err)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return rs, nil
	}
	return nil, ErrNoQuote
}

func (f *Fetcher) attemptQuote(ctx context.Context, p provider.Provider, symbol string) (provider.Quote, time.Duration, error) {
	attemptCtx, cancel := f.attemptContext(ctx)
	defer cancel()

	start := time.Now()
	q, err := p.Quote(attemptCtx, symbol)
	return q, time.Since(start), err
}

func (f *Fetcher) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.AttemptTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, f.AttemptTimeout)
}

func (f *Fetcher) record(ctx context.Context, providerName, endpoint string, latency time.Duration, err error) {
	f.Registry.MarkUsed(providerName)
	if f.Recorder == nil {
		return
	}
	rec := usage.Record{
		Provider:  providerName,
		Endpoint:  endpoint,
		LatencyMS: latency.Milliseconds(),
		Status:    usage.StatusSuccess,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		rec.Status = usage.StatusError
		rec.ErrorMessage = err.Error()
	}
	f.Recorder.Record(ctx, rec)
}
