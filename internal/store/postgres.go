// Package store owns the Postgres connection and schema bootstrap.
package store

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id       TEXT PRIMARY KEY,
	symbol   TEXT NOT NULL,
	side     TEXT NOT NULL,
	quantity NUMERIC NOT NULL,
	price    NUMERIC NOT NULL,
	at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS watchlist (
	symbol   TEXT PRIMARY KEY,
	added_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS usage_records (
	id            TEXT PRIMARY KEY,
	provider      TEXT NOT NULL,
	endpoint      TEXT NOT NULL,
	latency_ms    BIGINT NOT NULL,
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	timestamp     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS usage_records_timestamp_idx ON usage_records (timestamp);
`

// Open connects to Postgres and bootstraps the schema.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return db, nil
}
