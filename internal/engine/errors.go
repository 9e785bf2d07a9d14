package engine

import (
	"errors"
	"fmt"

	"tradeheaven/internal/ledger"
	"tradeheaven/internal/order"
	"tradeheaven/internal/portfolio"
)

var (
	// ErrMissingPrice means no execution price could be determined: the
	// order has no recorded price and the caller supplied none.
	ErrMissingPrice = errors.New("no price available")

	// ErrValidation wraps all malformed-input failures.
	ErrValidation = errors.New("validation failed")
)

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// reasonFor maps an operation error to a stable metric label.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrExceedsLocked):
		return "exceeds_locked"
	case errors.Is(err, ledger.ErrWalletNotFound):
		return "wallet_not_found"
	case errors.Is(err, portfolio.ErrInsufficientHoldings):
		return "insufficient_holdings"
	case errors.Is(err, order.ErrNotFound):
		return "order_not_found"
	case errors.Is(err, order.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrMissingPrice):
		return "missing_price"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}
