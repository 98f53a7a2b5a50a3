package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
)

const defaultBaseURL = "https://finnhub.io/api/v1"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=finnhub_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIClient is a client for the Finnhub REST API.
type APIClient struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP httpClient.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header

	// token authenticates each request via the X-Finnhub-Token header.
	// Guarded so an admin credential update cannot race an in-flight fetch.
	mu    sync.RWMutex
	token string
}

// APIClientOption is a configuration option for the Finnhub API client.
type APIClientOption func(*APIClient)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) APIClientOption {
	return func(c *APIClient) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) APIClientOption {
	return func(c *APIClient) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) APIClientOption {
	return func(c *APIClient) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewAPIClient creates a new Finnhub API client.
func NewAPIClient(token string, options ...APIClientOption) (*APIClient, error) {
	var apiClient = &APIClient{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		token:      token,
	}
	for _, option := range options {
		option(apiClient)
	}
	return apiClient, nil
}

// SetToken replaces the credential used for subsequent requests.
func (c *APIClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current credential. Empty means unauthenticated.
func (c *APIClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// QuoteResponse is the wire shape of GET /quote.
type QuoteResponse struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

// SearchResponse is the wire shape of GET /search.
type SearchResponse struct {
	Count  int `json:"count"`
	Result []struct {
		Description   string `json:"description"`
		DisplaySymbol string `json:"displaySymbol"`
		Symbol        string `json:"symbol"`
		Type          string `json:"type"`
	} `json:"result"`
}

// GetQuote calls GET /quote for one symbol.
func (c *APIClient) GetQuote(ctx context.Context, symbol string) (QuoteResponse, error) {
	var out QuoteResponse
	q := url.Values{"symbol": []string{symbol}}
	if err := c.getJSON(ctx, "/quote", q, &out); err != nil {
		return out, err
	}
	return out, nil
}

// SymbolSearch calls GET /search.
func (c *APIClient) SymbolSearch(ctx context.Context, query string) (SearchResponse, error) {
	var out SearchResponse
	q := url.Values{"q": []string{query}}
	if err := c.getJSON(ctx, "/search", q, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *APIClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	for key, values := range c.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if token := c.Token(); token != "" {
		req.Header.Set("X-Finnhub-Token", token)
	}
	resp, err := c.httpClient.Do(req)
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
