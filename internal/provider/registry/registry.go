// Package registry holds the configured quote providers and computes the
// failover order used by the fetcher.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/fmogensen/investment-platform/internal/provider"
)

// Entry describes one configured provider.
type Entry struct {
	Provider provider.Provider
	Label    string

	HasCredential bool
	Active        bool
	Default       bool

	RateLimitPerMinute int
	DailyLimit         int // 0 means unlimited

	// ApplyCredential pushes a new key into the underlying adapter when an
	// operator updates it at runtime. Optional; nil for credential-free
	// providers.
	ApplyCredential func(key string)
}

// Info is a read-only snapshot of an entry for the admin surface. The
// credential itself is never exposed, only its presence.
type Info struct {
	Name               string    `json:"name"`
	Label              string    `json:"label"`
	HasCredential      bool      `json:"has_credential"`
	Active             bool      `json:"active"`
	Default            bool      `json:"default"`
	RateLimitPerMinute int       `json:"rate_limit_per_minute"`
	DailyLimit         int       `json:"daily_limit"`
	CallsToday         int       `json:"calls_today"`
	LastUsedAt         time.Time `json:"last_used_at"`
}

type entry struct {
	Entry
	callsToday int
	lastUsedAt time.Time
}

// Registry keeps entries in their configured order. Providers are never
// removed at runtime; an operator disables them instead.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	byName  map[string]*entry
}

func New() *Registry {
	return &Registry{byName: make(map[string]*entry)}
}

// Add registers a provider. The name is taken from the provider itself.
func (r *Registry) Add(e Entry) error {
	name := e.Provider.Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("provider already registered: %s", name)
	}
	ent := &entry{Entry: e}
	r.entries = append(r.entries, ent)
	r.byName[name] = ent
	return nil
}

// usable reports whether the entry may take another call right now.
func (e *entry) usable() bool {
	if !e.Active || !e.HasCredential {
		return false
	}
	if e.DailyLimit > 0 && e.callsToday >= e.DailyLimit {
		return false
	}
	return true
}

// Order returns the providers to try, default first, then the remaining
// usable providers in configured order. An empty slice means no provider has
// both an active flag and a credential; callers treat that as "no quote
// available", not as an error.
func (r *Registry) Order() []provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]provider.Provider, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Default && e.usable() {
			out = append(out, e.Provider)
		}
	}
	for _, e := range r.entries {
		if !e.Default && e.usable() {
			out = append(out, e.Provider)
		}
	}
	return out
}

// MarkUsed records one upstream call against the named provider.
func (r *Registry) MarkUsed(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byName[name]; ok {
		e.callsToday++
		e.lastUsedAt = time.Now().UTC()
	}
}

// SetDefault makes the named provider the first candidate. Exactly one
// provider is default at a time.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}
	for _, e := range r.entries {
		e.Default = false
	}
	target.Default = true
	return nil
}

// SetActive soft-enables or soft-disables a provider.
func (r *Registry) SetActive(name string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}
	e.Active = active
	return nil
}

// SetCredential stores a new key for the named provider and pushes it into
// the adapter. An empty key marks the provider unusable.
func (r *Registry) SetCredential(name, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}
	if e.ApplyCredential == nil {
		return fmt.Errorf("provider %s does not take a credential", name)
	}
	e.ApplyCredential(key)
	e.HasCredential = key != ""
	return nil
}

// ResetDailyCounters zeroes per-day call counts. Wired to a midnight cron
// entry by the server.
func (r *Registry) ResetDailyCounters() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.callsToday = 0
	}
}

// Providers returns admin snapshots in configured order.
func (r *Registry) Providers() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Info{
			Name:               e.Provider.Name(),
			Label:              e.Label,
			HasCredential:      e.HasCredential,
			Active:             e.Active,
			Default:            e.Default,
			RateLimitPerMinute: e.RateLimitPerMinute,
			DailyLimit:         e.DailyLimit,
			CallsToday:         e.callsToday,
			LastUsedAt:         e.lastUsedAt,
		})
	}
	return out
}
