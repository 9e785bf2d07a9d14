// Package order holds the order model and its Postgres store. An order's
// status moves open -> executed or open -> canceled; rejected is assigned
// at creation and, like the other terminal states, never changes again.
package order

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type Type string

const (
	TypeMarket Type = "market"
	TypeLimit  Type = "limit"
	TypeStop   Type = "stop"
)

type Status string

const (
	StatusOpen     Status = "open"
	StatusExecuted Status = "executed"
	StatusCanceled Status = "canceled"
	StatusRejected Status = "rejected"
)

var (
	ErrNotFound     = errors.New("order not found")
	ErrInvalidState = errors.New("order is not open")
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusCanceled || s == StatusRejected
}

// CanTransitionTo reports whether next is a legal successor of s.
// Rejected is only ever assigned at creation, so nothing transitions
// into it.
func (s Status) CanTransitionTo(next Status) bool {
	if s != StatusOpen {
		return false
	}
	return next == StatusExecuted || next == StatusCanceled
}

func ValidSide(s Side) bool {
	return s == SideBuy || s == SideSell
}

func ValidType(t Type) bool {
	return t == TypeMarket || t == TypeLimit || t == TypeStop
}

// Order is one order row. Price is the limit or stop price in paisa; for
// market buys it records the quote captured at placement, which is the
// collateral lock basis, so cancel and execute can always recover exactly
// what was locked. Market sells carry no price.
type Order struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	Symbol        string     `json:"symbol"`
	Side          Side       `json:"side"`
	Type          Type       `json:"type"`
	Quantity      int64      `json:"quantity"`
	Price         *int64     `json:"price,omitempty"`
	Status        Status     `json:"status"`
	ExecutedPrice *int64     `json:"executed_price,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
}
