package portfolio

import "sync"

// Watchlist is the ordered symbol list feeding the realtime broker's
// polling set.
type Watchlist struct {
	mu      sync.RWMutex
	symbols []string
	set     map[string]struct{}
}

func NewWatchlist(symbols ...string) *Watchlist {
	w := &Watchlist{set: make(map[string]struct{})}
	for _, s := range symbols {
		w.add(s)
	}
	return w
}

// Add appends symbol; duplicates are ignored. Reports whether it was new.
func (w *Watchlist) Add(symbol string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.add(symbol)
}

func (w *Watchlist) add(symbol string) bool {
	if _, ok := w.set[symbol]; ok {
		return false
	}
	w.set[symbol] = struct{}{}
	w.symbols = append(w.symbols, symbol)
	return true
}

// Remove drops symbol. Reports whether it was present.
func (w *Watchlist) Remove(symbol string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.set[symbol]; !ok {
		return false
	}
	delete(w.set, symbol)
	for i, s := range w.symbols {
		if s == symbol {
			w.symbols = append(w.symbols[:i], w.symbols[i+1:]...)
			break
		}
	}
	return true
}

// Symbols returns the list in insertion order.
func (w *Watchlist) Symbols() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.symbols))
	copy(out, w.symbols)
	return out
}
