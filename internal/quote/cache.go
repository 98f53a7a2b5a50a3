package quote

import (
	"context"
	"sync"
	"time"

	"github.com/fmogensen/investment-platform/internal/provider"
)

// Cache maps a symbol to its last known quote. Implementations treat entries
// older than their TTL as absent on read; expired entries are overwritten by
// the next successful fetch rather than swept.
type Cache interface {
	Get(ctx context.Context, symbol string) (provider.Quote, bool)
	Put(ctx context.Context, symbol string, q provider.Quote)
}

// entry stores one cached quote with expiry.
type entry struct {
	expiresAt time.Time
	quote     provider.Quote
}

// MemoryCache caches quotes per symbol for a TTL.
type MemoryCache struct {
	TTL      time.Duration
	MaxItems int

	mu    sync.RWMutex
	items map[string]entry // key: symbol
}

func NewMemoryCache(ttl time.Duration, maxItems int) *MemoryCache {
	return &MemoryCache{TTL: ttl, MaxItems: maxItems, items: make(map[string]entry)}
}

func (c *MemoryCache) Get(_ context.Context, symbol string) (provider.Quote, bool) {
	if c.TTL <= 0 {
		return provider.Quote{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[symbol]
	if !ok || time.Now().After(e.expiresAt) {
		return provider.Quote{}, false
	}
	return e.quote, true
}

func (c *MemoryCache) Put(_ context.Context, symbol string, q provider.Quote) {
	if c.TTL <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = make(map[string]entry)
	}
	c.items[symbol] = entry{expiresAt: time.Now().Add(c.TTL), quote: q}

	// best-effort cap cache size: drop expired first, then arbitrary
	if c.MaxItems > 0 && len(c.items) > c.MaxItems {
		now := time.Now()
		for k, v := range c.items {
			if now.After(v.expiresAt) {
				delete(c.items, k)
			}
			if len(c.items) <= c.MaxItems {
				return
			}
		}
		for k := range c.items {
			if len(c.items) <= c.MaxItems {
				return
			}
			if k == symbol {
				continue
			}
			delete(c.items, k)
		}
	}
}
