// Package portfolio keeps the simulated holdings and their transaction
// ledger. All money math runs on decimals; floats never touch a position.
package portfolio

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Holding is one open position.
type Holding struct {
	Symbol   string          `json:"symbol" db:"symbol"`
	Quantity decimal.Decimal `json:"quantity" db:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost" db:"avg_cost"`
}

// Transaction is one ledger row. Append-only.
type Transaction struct {
	ID       string          `json:"id" db:"id"`
	Symbol   string          `json:"symbol" db:"symbol"`
	Side     Side            `json:"side" db:"side"`
	Quantity decimal.Decimal `json:"quantity" db:"quantity"`
	Price    decimal.Decimal `json:"price" db:"price"`
	At       time.Time       `json:"at" db:"at"`
}

var (
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrInvalidPrice       = errors.New("price must not be negative")
	ErrInsufficientShares = errors.New("not enough shares to sell")
)

// Ledger is the in-memory portfolio state. It is safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	holdings map[string]*Holding
	txs      []Transaction
}

func NewLedger() *Ledger {
	return &Ledger{holdings: make(map[string]*Holding)}
}

// Buy opens or extends a position at the given price. The average cost is
// quantity-weighted across all buys.
func (l *Ledger) Buy(symbol string, qty, price decimal.Decimal) (Transaction, error) {
	if qty.Sign() <= 0 {
		return Transaction{}, ErrInvalidQuantity
	}
	if price.Sign() < 0 {
		return Transaction{}, ErrInvalidPrice
	}
	tx := Transaction{
		ID:       uuid.NewString(),
		Symbol:   symbol,
		Side:     SideBuy,
		Quantity: qty,
		Price:    price,
		At:       time.Now().UTC(),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyBuy(tx)
	return tx, nil
}

// Sell reduces a position and returns the realized profit or loss against
// the average cost. Oversells are rejected.
func (l *Ledger) Sell(symbol string, qty, price decimal.Decimal) (Transaction, decimal.Decimal, error) {
	if qty.Sign() <= 0 {
		return Transaction{}, decimal.Zero, ErrInvalidQuantity
	}
	if price.Sign() < 0 {
		return Transaction{}, decimal.Zero, ErrInvalidPrice
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.holdings[symbol]
	if !ok || h.Quantity.LessThan(qty) {
		return Transaction{}, decimal.Zero, ErrInsufficientShares
	}
	tx := Transaction{
		ID:       uuid.NewString(),
		Symbol:   symbol,
		Side:     SideSell,
		Quantity: qty,
		Price:    price,
		At:       time.Now().UTC(),
	}
	realized := price.Sub(h.AvgCost).Mul(qty)
	l.applySell(tx)
	return tx, realized, nil
}

// Replay re-applies a persisted transaction in ledger order. Used when
// restoring state from the store at startup.
func (l *Ledger) Replay(tx Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch tx.Side {
	case SideBuy:
		l.applyBuy(tx)
	case SideSell:
		h, ok := l.holdings[tx.Symbol]
		if !ok || h.Quantity.LessThan(tx.Quantity) {
			return ErrInsufficientShares
		}
		l.applySell(tx)
	default:
		return errors.New("unknown transaction side: " + string(tx.Side))
	}
	return nil
}

func (l *Ledger) applyBuy(tx Transaction) {
	h, ok := l.holdings[tx.Symbol]
	if !ok {
		h = &Holding{Symbol: tx.Symbol}
		l.holdings[tx.Symbol] = h
	}
	newQty := h.Quantity.Add(tx.Quantity)
	cost := h.AvgCost.Mul(h.Quantity).Add(tx.Price.Mul(tx.Quantity))
	h.AvgCost = cost.DivRound(newQty, 8)
	h.Quantity = newQty
	l.txs = append(l.txs, tx)
}

func (l *Ledger) applySell(tx Transaction) {
	h := l.holdings[tx.Symbol]
	h.Quantity = h.Quantity.Sub(tx.Quantity)
	if h.Quantity.Sign() == 0 {
		delete(l.holdings, tx.Symbol)
	}
	l.txs = append(l.txs, tx)
}

// Holdings returns open positions sorted by symbol.
func (l *Ledger) Holdings() []Holding {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Holding, 0, len(l.holdings))
	for _, h := range l.holdings {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Holding returns one position by symbol.
func (l *Ledger) Holding(symbol string) (Holding, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.holdings[symbol]
	if !ok {
		return Holding{}, false
	}
	return *h, true
}

// Transactions returns the ledger rows oldest first.
func (l *Ledger) Transactions() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Transaction, len(l.txs))
	copy(out, l.txs)
	return out
}
