package stream

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// SSEHandler attaches a client to the broker over server-sent events.
// Symbols come from the `symbols` query parameter as CSV. The connection is
// closed after the configured maximum lifetime even when healthy; clients
// reopen to continue.
func SSEHandler(b *Broker, maxLifetime time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbols := splitCSV(r.URL.Query().Get("symbols"))
		if len(symbols) == 0 {
			http.Error(w, "missing symbols query param", http.StatusBadRequest)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		sub := b.Subscribe(symbols)
		defer b.Unsubscribe(sub)

		writeEvent(w, Event{Type: "connected"})
		flusher.Flush()

		lifetime := time.NewTimer(maxLifetime)
		defer lifetime.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-lifetime.C:
				writeEvent(w, Event{Type: "error", Message: "stream lifetime reached; reconnect"})
				flusher.Flush()
				return
			case ev, open := <-sub.C:
				if !open {
					return
				}
				writeEvent(w, ev)
				flusher.Flush()
			}
		}
	})
}

func writeEvent(w http.ResponseWriter, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(b)
	w.Write([]byte("\n\n"))
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
