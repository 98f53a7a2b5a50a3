package portfolio

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Store persists the transaction ledger and watchlist to Postgres. The
// in-memory ledger remains the source of truth at runtime; the store is
// replayed once at startup.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const insertTransaction = `
	INSERT INTO transactions (id, symbol, side, quantity, price, at)
	VALUES (:id, :symbol, :side, :quantity, :price, :at)`

func (s *Store) SaveTransaction(ctx context.Context, tx Transaction) error {
	if _, err := s.db.NamedExecContext(ctx, insertTransaction, tx); err != nil {
		return fmt.Errorf("save transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (s *Store) LoadTransactions(ctx context.Context) ([]Transaction, error) {
	var out []Transaction
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, symbol, side, quantity, price, at FROM transactions ORDER BY at, id`)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	return out, nil
}

// RestoreLedger rebuilds the in-memory ledger from the persisted rows.
func (s *Store) RestoreLedger(ctx context.Context) (*Ledger, error) {
	txs, err := s.LoadTransactions(ctx)
	if err != nil {
		return nil, err
	}
	l := NewLedger()
	for _, tx := range txs {
		if err := l.Replay(tx); err != nil {
			return nil, fmt.Errorf("replay transaction %s: %w", tx.ID, err)
		}
	}
	return l, nil
}

func (s *Store) AddWatchlistSymbol(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watchlist (symbol) VALUES ($1) ON CONFLICT (symbol) DO NOTHING`, symbol)
	if err != nil {
		return fmt.Errorf("add watchlist symbol %s: %w", symbol, err)
	}
	return nil
}

func (s *Store) RemoveWatchlistSymbol(ctx context.Context, symbol string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM watchlist WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("remove watchlist symbol %s: %w", symbol, err)
	}
	return nil
}

func (s *Store) LoadWatchlist(ctx context.Context) ([]string, error) {
	var out []string
	if err := s.db.SelectContext(ctx, &out, `SELECT symbol FROM watchlist ORDER BY added_at, symbol`); err != nil {
		return nil, fmt.Errorf("load watchlist: %w", err)
	}
	return out, nil
}
