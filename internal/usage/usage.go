// Package usage records one row per upstream provider call for observability.
// Recording is fire-and-forget: it must never block or fail the call path.
package usage

import (
	"context"
	"sync"
	"time"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Record is one provider call. Append-only, never mutated.
type Record struct {
	ID           string    `json:"id" db:"id"`
	Provider     string    `json:"provider" db:"provider"`
	Endpoint     string    `json:"endpoint" db:"endpoint"`
	LatencyMS    int64     `json:"latency_ms" db:"latency_ms"`
	Status       Status    `json:"status" db:"status"`
	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}

// Stats aggregates records for one provider over a trailing window.
type Stats struct {
	Provider     string  `json:"provider" db:"provider"`
	Calls        int     `json:"calls" db:"calls"`
	Errors       int     `json:"errors" db:"errors"`
	AvgLatencyMS float64 `json:"avg_latency_ms" db:"avg_latency_ms"`
}

type Recorder interface {
	// Record appends one usage row. Implementations absorb storage errors.
	Record(ctx context.Context, rec Record)
	// Stats aggregates over the trailing window, computed on demand.
	Stats(ctx context.Context, window time.Duration) ([]Stats, error)
}

// MemoryRecorder keeps records in memory, newest last. Used when no database
// is configured, and by tests.
type MemoryRecorder struct {
	mu      sync.RWMutex
	records []Record
	max     int
}

// NewMemoryRecorder caps retention at max records (0 means 10000).
func NewMemoryRecorder(max int) *MemoryRecorder {
	if max <= 0 {
		max = 10000
	}
	return &MemoryRecorder{max: max}
}

func (m *MemoryRecorder) Record(_ context.Context, rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	if len(m.records) > m.max {
		m.records = m.records[len(m.records)-m.max:]
	}
}

func (m *MemoryRecorder) Stats(_ context.Context, window time.Duration) ([]Stats, error) {
	cutoff := time.Now().Add(-window)
	m.mu.RLock()
	defer m.mu.RUnlock()

	type acc struct {
		calls, errors int
		latencySum    int64
	}
	byProvider := make(map[string]*acc)
	var order []string
	for _, r := range m.records {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		a, ok := byProvider[r.Provider]
		if !ok {
			a = &acc{}
			byProvider[r.Provider] = a
			order = append(order, r.Provider)
		}
		a.calls++
		a.latencySum += r.LatencyMS
		if r.Status != StatusSuccess {
			a.errors++
		}
	}
	out := make([]Stats, 0, len(order))
	for _, name := range order {
		a := byProvider[name]
		s := Stats{Provider: name, Calls: a.calls, Errors: a.errors}
		if a.calls > 0 {
			s.AvgLatencyMS = float64(a.latencySum) / float64(a.calls)
		}
		out = append(out, s)
	}
	return out, nil
}

// Records returns a copy of everything retained. Test helper.
func (m *MemoryRecorder) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}
