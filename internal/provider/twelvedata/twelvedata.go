package twelvedata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fmogensen/investment-platform/internal/httpx"
	"github.com/fmogensen/investment-platform/internal/provider"
)

type Config struct {
	Name   string // display name, default: twelve_data
	URL    string // base URL, default: https://api.twelvedata.com
	APIKey string
}

// Provider adapts the Twelve Data REST API.
type Provider struct {
	client *httpx.Client

	mu  sync.RWMutex
	cfg Config
}

var _ provider.Provider = (*Provider)(nil)

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "twelve_data"
	}
	if cfg.URL == "" {
		cfg.URL = "https://api.twelvedata.com"
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Name
}

// SetAPIKey replaces the credential used for subsequent requests.
func (p *Provider) SetAPIKey(key string) {
	p.mu.Lock()
	p.cfg.APIKey = key
	p.mu.Unlock()
}

func (p *Provider) apiKey() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.APIKey
}

// apiQuote is the wire shape of GET /quote. Twelve Data sends numbers as
// strings.
type apiQuote struct {
	Symbol        string `json:"symbol"`
	Exchange      string `json:"exchange"`
	Currency      string `json:"currency"`
	Open          string `json:"open"`
	High          string `json:"high"`
	Low           string `json:"low"`
	Close         string `json:"close"`
	Volume        string `json:"volume"`
	PreviousClose string `json:"previous_close"`
	Change        string `json:"change"`
	PercentChange string `json:"percent_change"`
	Timestamp     int64  `json:"timestamp"`

	// error envelope fields; present when the request failed
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *Provider) Quote(ctx context.Context, symbol string) (provider.Quote, error) {
	if p.apiKey() == "" {
		return provider.Quote{}, provider.ErrNoCredential
	}
	var api apiQuote
	q := url.Values{"symbol": []string{symbol}}
	if err := p.getJSON(ctx, "/quote", q, &api); err != nil {
		return provider.Quote{}, fmt.Errorf("twelvedata quote %s: %w", symbol, err)
	}
	if api.Status == "error" {
		if api.Code == 404 {
			return provider.Quote{}, provider.ErrNotFound
		}
		return provider.Quote{}, fmt.Errorf("twelvedata quote %s: code=%d msg=%q", symbol, api.Code, api.Message)
	}
	if api.Symbol == "" || api.Close == "" {
		return provider.Quote{}, provider.ErrNotFound
	}
	out := provider.Quote{
		Symbol:        api.Symbol,
		Price:         parseFloat(api.Close),
		Change:        parseFloat(api.Change),
		ChangePercent: parseFloat(api.PercentChange),
		Open:          parseFloat(api.Open),
		High:          parseFloat(api.High),
		Low:           parseFloat(api.Low),
		PreviousClose: parseFloat(api.PreviousClose),
		Volume:        parseInt(api.Volume),
		Exchange:      api.Exchange,
		Currency:      api.Currency,
		Source:        p.Name(),
		ReceivedAt:    time.Now().UTC(),
	}
	if api.Timestamp > 0 {
		out.AsOf = time.Unix(api.Timestamp, 0).UTC()
	}
	return out, nil
}

// apiSearch is the wire shape of GET /symbol_search.
type apiSearch struct {
	Data []struct {
		Symbol         string `json:"symbol"`
		InstrumentName string `json:"instrument_name"`
		Exchange       string `json:"exchange"`
		InstrumentType string `json:"instrument_type"`
		Currency       string `json:"currency"`
	} `json:"data"`
	Status string `json:"status"`
}

func (p *Provider) Search(ctx context.Context, query string) ([]provider.SearchResult, error) {
	if p.apiKey() == "" {
		return nil, provider.ErrNoCredential
	}
	var api apiSearch
	q := url.Values{"symbol": []string{query}}
	if err := p.getJSON(ctx, "/symbol_search", q, &api); err != nil {
		return nil, fmt.Errorf("twelvedata search %q: %w", query, err)
	}
	out := make([]provider.SearchResult, 0, len(api.Data))
	for _, d := range api.Data {
		out = append(out, provider.SearchResult{
			Symbol:      d.Symbol,
			Description: d.InstrumentName,
			Type:        d.InstrumentType,
			Exchange:    d.Exchange,
			Currency:    d.Currency,
			Source:      p.Name(),
		})
	}
	return out, nil
}

func (p *Provider) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	p.mu.RLock()
	base := p.cfg.URL
	key := p.cfg.APIKey
	p.mu.RUnlock()

	query.Set("apikey", key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return fmt.Errorf("GET %s -> %d: %s", path, resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}
