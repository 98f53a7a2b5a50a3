package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/fmogensen/investment-platform/internal/provider"
)

type Config struct {
	Name      string // display name, default: finnhub
	StreamURL string // websocket endpoint, default: wss://ws.finnhub.io
	Currency  string // reported on quotes, default: USD
}

// Provider adapts the Finnhub REST and websocket APIs to the canonical
// provider capability set.
type Provider struct {
	cfg    Config
	client *APIClient
}

var _ provider.Streamer = (*Provider)(nil)

func New(cfg Config, client *APIClient) *Provider {
	if cfg.Name == "" {
		cfg.Name = "finnhub"
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = "wss://ws.finnhub.io"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) Quote(ctx context.Context, symbol string) (provider.Quote, error) {
	if p.client.Token() == "" {
		return provider.Quote{}, provider.ErrNoCredential
	}
	resp, err := p.client.GetQuote(ctx, symbol)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("finnhub quote %s: %w", symbol, err)
	}
	// Finnhub answers 200 with all-zero fields for unknown symbols.
	if resp.Current == 0 && resp.PreviousClose == 0 && resp.Timestamp == 0 {
		return provider.Quote{}, provider.ErrNotFound
	}
	return provider.Quote{
		Symbol:        symbol,
		Price:         resp.Current,
		Change:        resp.Change,
		ChangePercent: resp.ChangePercent,
		Open:          resp.Open,
		High:          resp.High,
		Low:           resp.Low,
		PreviousClose: resp.PreviousClose,
		Currency:      p.cfg.Currency,
		Source:        p.cfg.Name,
		AsOf:          time.Unix(resp.Timestamp, 0).UTC(),
		ReceivedAt:    time.Now().UTC(),
	}, nil
}

func (p *Provider) Search(ctx context.Context, query string) ([]provider.SearchResult, error) {
	if p.client.Token() == "" {
		return nil, provider.ErrNoCredential
	}
	resp, err := p.client.SymbolSearch(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("finnhub search %q: %w", query, err)
	}
	out := make([]provider.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, provider.SearchResult{
			Symbol:      r.Symbol,
			Description: r.Description,
			Type:        r.Type,
			Source:      p.cfg.Name,
		})
	}
	return out, nil
}

// StreamURL returns the authenticated websocket URL.
func (p *Provider) StreamURL() (string, error) {
	token := p.client.Token()
	if token == "" {
		return "", provider.ErrNoCredential
	}
	return p.cfg.StreamURL + "?token=" + url.QueryEscape(token), nil
}

type subscribeFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

func (p *Provider) SubscribeFrame(symbol string) ([]byte, error) {
	return json.Marshal(subscribeFrame{Type: "subscribe", Symbol: symbol})
}

func (p *Provider) UnsubscribeFrame(symbol string) ([]byte, error) {
	return json.Marshal(subscribeFrame{Type: "unsubscribe", Symbol: symbol})
}

// tradeMessage is the wire shape of a streaming trade event.
type tradeMessage struct {
	Type string `json:"type"`
	Data []struct {
		Price     float64 `json:"p"`
		Symbol    string  `json:"s"`
		Timestamp int64   `json:"t"` // unix ms
		Volume    float64 `json:"v"`
	} `json:"data"`
}

func (p *Provider) ParseFrame(data []byte) ([]provider.Trade, error) {
	var msg tradeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("finnhub frame: %w", err)
	}
	if msg.Type != "trade" {
		// ping and subscription acks carry no trades
		return nil, nil
	}
	trades := make([]provider.Trade, 0, len(msg.Data))
	for _, d := range msg.Data {
		trades = append(trades, provider.Trade{
			Symbol: d.Symbol,
			Price:  d.Price,
			Volume: d.Volume,
			At:     time.UnixMilli(d.Timestamp).UTC(),
		})
	}
	return trades, nil
}
