package usage

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const insertRecord = `
	INSERT INTO usage_records
	(id, provider, endpoint, latency_ms, status, error_message, timestamp)
	VALUES (:id, :provider, :endpoint, :latency_ms, :status, :error_message, :timestamp)`

const statsQuery = `
	SELECT provider,
	       COUNT(*) AS calls,
	       COUNT(*) FILTER (WHERE status <> 'success') AS errors,
	       COALESCE(AVG(latency_ms), 0) AS avg_latency_ms
	FROM usage_records
	WHERE timestamp >= $1
	GROUP BY provider
	ORDER BY provider`

// PostgresRecorder persists usage rows through a buffered background writer.
// The write queue is non-blocking: when it is full, rows are dropped and
// counted rather than stalling a quote fetch.
type PostgresRecorder struct {
	db      *sqlx.DB
	queue   chan Record
	done    chan struct{}
	dropped atomic.Int64
}

func NewPostgresRecorder(db *sqlx.DB) *PostgresRecorder {
	r := &PostgresRecorder{
		db:    db,
		queue: make(chan Record, 256),
		done:  make(chan struct{}),
	}
	go r.writeLoop()
	return r
}

func (r *PostgresRecorder) Record(_ context.Context, rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
		log.Printf("usage: queue full, dropping record for %s", rec.Provider)
	}
}

func (r *PostgresRecorder) writeLoop() {
	for {
		select {
		case rec := <-r.queue:
			if _, err := r.db.NamedExec(insertRecord, rec); err != nil {
				log.Printf("usage: insert record for %s: %v", rec.Provider, err)
			}
		case <-r.done:
			return
		}
	}
}

func (r *PostgresRecorder) Stats(ctx context.Context, window time.Duration) ([]Stats, error) {
	cutoff := time.Now().Add(-window)
	var out []Stats
	if err := r.db.SelectContext(ctx, &out, statsQuery, cutoff); err != nil {
		return nil, err
	}
	return out, nil
}

// Close stops the background writer. Queued rows not yet written are lost,
// which is acceptable for observability data.
func (r *PostgresRecorder) Close() {
	close(r.done)
}
