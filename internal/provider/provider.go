package provider

import (
	"context"
	"errors"
	"time"
)

// Quote is the normalized shape returned by all providers.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	PreviousClose float64   `json:"previous_close"`
	Volume        int64     `json:"volume"`
	Exchange      string    `json:"exchange,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	Source        string    `json:"source"`
	AsOf          time.Time `json:"as_of"`
	ReceivedAt    time.Time `json:"received_at"`
}

// SearchResult is one row of a symbol lookup.
type SearchResult struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Type        string `json:"type,omitempty"`
	Exchange    string `json:"exchange,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Source      string `json:"source"`
}

// Trade is a single tick from a streaming feed.
type Trade struct {
	Symbol string
	Price  float64
	Volume float64
	At     time.Time
}

var (
	// ErrNotFound means the provider answered but has no data for the symbol.
	ErrNotFound = errors.New("symbol not found")
	// ErrNoCredential means the provider cannot be called without an API key.
	ErrNoCredential = errors.New("provider credential not set")
)

type Provider interface {
	Name() string
	Quote(ctx context.Context, symbol string) (Quote, error)
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// Streamer is implemented by providers that push trades over a websocket feed.
type Streamer interface {
	Provider

	// StreamURL returns the dial URL for the feed. ErrNoCredential when the
	// provider has no usable key.
	StreamURL() (string, error)
	SubscribeFrame(symbol string) ([]byte, error)
	UnsubscribeFrame(symbol string) ([]byte, error)

	// ParseFrame decodes one websocket message. A nil slice with a nil error
	// means the message carried no trades (ping, ack).
	ParseFrame(data []byte) ([]Trade, error)
}
