// Package portfolio tracks per-user share holdings keyed by symbol.
// A holding only exists while its quantity is positive; selling the last
// share deletes the row.
package portfolio

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInsufficientHoldings = errors.New("insufficient holdings")

// Holding is one (user, symbol) position. AveragePrice is the
// weighted-average acquisition cost in paisa and is never recomputed on
// sells, only on buys.
type Holding struct {
	ID           int64     `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Symbol       string    `json:"symbol"`
	Quantity     int64     `json:"quantity"`
	AveragePrice int64     `json:"average_price"`
	UpdatedAt    time.Time `json:"updated_at"`
}
