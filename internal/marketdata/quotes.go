// Package marketdata keeps the last observed quote per symbol. The board
// is fed by the NATS price subscriber and read by the engine when it needs
// a market price before entering the atomic section.
package marketdata

import (
	"sync"
	"time"
)

// Quote is the last trade price for a symbol in paisa.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     int64     `json:"price"`
	Sequence  int64     `json:"sequence"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Board holds the latest quote per symbol. Updates carry a source
// sequence number; a stale or replayed tick never overwrites a newer one.
type Board struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewBoard() *Board {
	return &Board{quotes: make(map[string]Quote)}
}

// Update applies a tick. Returns false when the tick is stale (sequence
// not greater than the current one) or the price is non-positive.
func (b *Board) Update(symbol string, price, sequence int64, at time.Time) bool {
	if price <= 0 || symbol == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.quotes[symbol]; ok && sequence <= current.Sequence {
		return false
	}

	b.quotes[symbol] = Quote{
		Symbol:    symbol,
		Price:     price,
		Sequence:  sequence,
		UpdatedAt: at,
	}
	return true
}

// Last returns the current price for symbol.
func (b *Board) Last(symbol string) (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q, ok := b.quotes[symbol]
	if !ok {
		return 0, false
	}
	return q.Price, true
}

// Snapshot returns a copy of every known quote.
func (b *Board) Snapshot() []Quote {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Quote, 0, len(b.quotes))
	for _, q := range b.quotes {
		out = append(out, q)
	}
	return out
}
