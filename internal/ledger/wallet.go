// Package ledger owns the wallet balances and the append-only transaction
// log. Every balance mutation writes a signed transaction row inside the
// same SQL transaction, so the log always reconciles with the wallet row.
package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies a wallet_transactions row.
type TransactionType string

const (
	TransactionDeposit           TransactionType = "deposit"
	TransactionWithdrawal        TransactionType = "withdrawal"
	TransactionCollateralLock    TransactionType = "collateral_lock"
	TransactionCollateralRelease TransactionType = "collateral_release"
	TransactionTrade             TransactionType = "trade"
)

var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInsufficientFunds = errors.New("insufficient available funds")
	ErrExceedsLocked     = errors.New("release exceeds locked collateral")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// Wallet is a user's cash account. Invariant, enforced here and by a DB
// CHECK constraint: 0 <= CollateralLocked <= Balance.
type Wallet struct {
	UserID           uuid.UUID `json:"user_id"`
	Balance          int64     `json:"balance"`
	CollateralLocked int64     `json:"collateral_locked"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Available is the spendable portion of the balance.
func (w *Wallet) Available() int64 {
	return w.Balance - w.CollateralLocked
}

// Transaction is one immutable row of the wallet log. Amount is signed:
// credits are positive, debits negative. Lock rows are positive and their
// matching release rows negative, so a completed lock/release pair nets
// to zero in the log.
type Transaction struct {
	ID          int64           `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Type        TransactionType `json:"type"`
	Amount      int64           `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}
