// Package yahoo wraps the unofficial Yahoo Finance API via piquette/finance-go.
// It needs no credential, which makes it the fallback of last resort.
package yahoo

import (
	"context"
	"fmt"
	"time"

	"github.com/piquette/finance-go/quote"

	"github.com/fmogensen/investment-platform/internal/provider"
)

type Provider struct {
	name string
}

var _ provider.Provider = (*Provider)(nil)

func New() *Provider {
	return &Provider{name: "yahoo"}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Quote(ctx context.Context, symbol string) (provider.Quote, error) {
	q, err := quote.Get(symbol)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("yahoo quote %s: %w", symbol, err)
	}
	if q == nil || q.RegularMarketPrice == 0 {
		return provider.Quote{}, provider.ErrNotFound
	}
	return provider.Quote{
		Symbol:        q.Symbol,
		Price:         q.RegularMarketPrice,
		Change:        q.RegularMarketChange,
		ChangePercent: q.RegularMarketChangePercent,
		Open:          q.RegularMarketOpen,
		High:          q.RegularMarketDayHigh,
		Low:           q.RegularMarketDayLow,
		PreviousClose: q.RegularMarketPreviousClose,
		Volume:        int64(q.RegularMarketVolume),
		Exchange:      q.ExchangeID,
		Currency:      q.CurrencyID,
		Source:        p.name,
		AsOf:          time.Unix(int64(q.RegularMarketTime), 0).UTC(),
		ReceivedAt:    time.Now().UTC(),
	}, nil
}

// Search is not offered by the piquette client; yahoo participates in quote
// failover only.
func (p *Provider) Search(ctx context.Context, query string) ([]provider.SearchResult, error) {
	return nil, provider.ErrNotFound
}
