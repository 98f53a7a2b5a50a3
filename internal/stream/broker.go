// Package stream relays quotes to attached clients and keeps the upstream
// feed alive across transport failures.
package stream

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fmogensen/investment-platform/internal/provider"
)

// Event is the envelope pushed to clients.
type Event struct {
	Type    string        `json:"type"` // connected | quote | error | heartbeat
	Quote   *QuotePayload `json:"quote,omitempty"`
	Message string        `json:"message,omitempty"`
}

// QuotePayload is the quote body of a push event.
type QuotePayload struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent string    `json:"change_percent"`
	Volume        float64   `json:"volume,omitempty"`
	At            time.Time `json:"at"`
}

// Config carries the broker and reconnect knobs.
type Config struct {
	PollInterval   time.Duration
	HeartbeatEvery int // heartbeat once per this many poll cycles
	MaxLifetime    time.Duration

	BackoffBase time.Duration
	BackoffMax  time.Duration
	// MaxReconnectAttempts bounds consecutive failed reconnects before the
	// broker reports a terminal disconnected status. 0 means retry forever
	// at the capped delay.
	MaxReconnectAttempts int
}

// QuoteGetter is the pull path used by the polling loop.
type QuoteGetter interface {
	GetQuote(ctx context.Context, symbol string) (provider.Quote, error)
}

// Subscriber is one attached client. It owns its channel and set of symbols;
// both are discarded on unsubscribe.
type Subscriber struct {
	C chan Event

	mu      sync.RWMutex
	symbols map[string]struct{}
}

func (s *Subscriber) wants(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.symbols[symbol]
	return ok
}

// Symbols returns the subscribed set, unordered.
func (s *Subscriber) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}

// Broker fans quotes out to subscribers and tracks the last known price per
// symbol to compute deltas for trade events.
type Broker struct {
	cfg     Config
	fetcher QuoteGetter

	mu        sync.RWMutex
	subs      []*Subscriber // registration order; delivery follows it
	lastPrice map[string]float64

	// baseSymbols supplies symbols watched even with no subscriber attached
	// (the watchlist). Optional.
	baseSymbols func() []string

	// notifyMu serializes union-change notifications so the listener sees
	// diffs in order.
	notifyMu  sync.Mutex
	onSymbols func(added, removed []string)
	lastUnion map[string]struct{}
}

func NewBroker(cfg Config, fetcher QuoteGetter) *Broker {
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	return &Broker{
		cfg:       cfg,
		fetcher:   fetcher,
		lastPrice: make(map[string]float64),
	}
}

// Subscribe attaches a client interested in the given symbols. The returned
// subscriber's channel is buffered; a slow client loses events rather than
// blocking delivery to the others.
func (b *Broker) Subscribe(symbols []string) *Subscriber {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	sub := &Subscriber{C: make(chan Event, 64), symbols: set}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	b.notifySymbols()
	return sub
}

// Unsubscribe detaches the client and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.C)
			break
		}
	}
	b.mu.Unlock()
	b.notifySymbols()
}

// SetBaseSymbols installs the always-watched symbol source.
func (b *Broker) SetBaseSymbols(src func() []string) {
	b.mu.Lock()
	b.baseSymbols = src
	b.mu.Unlock()
}

// SetSymbolListener installs fn to be told when the watched symbol union
// changes. The union at call time is the baseline; only later diffs are
// reported.
func (b *Broker) SetSymbolListener(fn func(added, removed []string)) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	b.onSymbols = fn
	b.lastUnion = make(map[string]struct{})
	for _, s := range b.Symbols() {
		b.lastUnion[s] = struct{}{}
	}
}

// RefreshSymbols re-reads the symbol union and reports any change to the
// listener. Called after base-set edits the broker cannot observe itself,
// such as watchlist changes.
func (b *Broker) RefreshSymbols() {
	b.notifySymbols()
}

func (b *Broker) notifySymbols() {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	if b.onSymbols == nil {
		return
	}
	after := b.Symbols()
	next := make(map[string]struct{}, len(after))
	var added []string
	for _, s := range after {
		next[s] = struct{}{}
		if _, ok := b.lastUnion[s]; !ok {
			added = append(added, s)
		}
	}
	var removed []string
	for s := range b.lastUnion {
		if _, ok := next[s]; !ok {
			removed = append(removed, s)
		}
	}
	b.lastUnion = next
	if len(added) > 0 || len(removed) > 0 {
		b.onSymbols(added, removed)
	}
}

// Symbols returns the union of the base set and all subscribers' symbols,
// the set the upstream legs watch.
func (b *Broker) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set := make(map[string]struct{})
	var out []string
	add := func(sym string) {
		if _, ok := set[sym]; !ok {
			set[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	if b.baseSymbols != nil {
		for _, sym := range b.baseSymbols() {
			add(sym)
		}
	}
	for _, sub := range b.subs {
		for _, sym := range sub.Symbols() {
			add(sym)
		}
	}
	return out
}

// Publish distributes one streamed trade. The delta is computed against the
// last known price for the symbol, which the trade then supersedes.
func (b *Broker) Publish(t provider.Trade) {
	b.mu.Lock()
	last, known := b.lastPrice[t.Symbol]
	b.lastPrice[t.Symbol] = t.Price
	b.mu.Unlock()

	var change, pct float64
	if known && last != 0 {
		change = t.Price - last
		pct = change / last * 100
	}
	b.send(t.Symbol, Event{Type: "quote", Quote: &QuotePayload{
		Symbol:        t.Symbol,
		Price:         t.Price,
		Change:        change,
		ChangePercent: fmt.Sprintf("%.2f%%", pct),
		Volume:        t.Volume,
		At:            t.At,
	}})
}

// PublishQuote distributes one polled quote, carrying the provider's own
// day-change figures.
func (b *Broker) PublishQuote(q provider.Quote) {
	b.mu.Lock()
	b.lastPrice[q.Symbol] = q.Price
	b.mu.Unlock()

	at := q.AsOf
	if at.IsZero() {
		at = q.ReceivedAt
	}
	b.send(q.Symbol, Event{Type: "quote", Quote: &QuotePayload{
		Symbol:        q.Symbol,
		Price:         q.Price,
		Change:        q.Change,
		ChangePercent: fmt.Sprintf("%.2f%%", q.ChangePercent),
		Volume:        float64(q.Volume),
		At:            at,
	}})
}

// send delivers to every subscriber of symbol, in registration order.
// Delivery holds the read lock: Unsubscribe closes channels under the write
// lock, so a send can never race a close.
func (b *Broker) send(symbol string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.wants(symbol) {
			continue
		}
		select {
		case sub.C <- ev:
		default:
			// slow client; drop rather than stall the fan-out
		}
	}
}

// Broadcast delivers a status event to every subscriber regardless of
// symbol set.
func (b *Broker) Broadcast(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.C <- ev:
		default:
		}
	}
}

// RunPolling pulls quotes for every watched symbol on a fixed interval and
// pushes them downstream. It is the fallback leg when no streaming provider
// is configured, and runs until ctx is canceled.
func (b *Broker) RunPolling(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	cycle := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cycle++
		for _, symbol := range b.Symbols() {
			q, err := b.fetcher.GetQuote(ctx, symbol)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("stream: poll %s: %v", symbol, err)
				b.send(symbol, Event{Type: "error", Message: fmt.Sprintf("no live data for %s", symbol)})
				continue
			}
			b.PublishQuote(q)
		}
		if cycle%b.cfg.HeartbeatEvery == 0 {
			// keeps proxies from closing an idle-looking connection
			b.Broadcast(Event{Type: "heartbeat"})
		}
	}
}
