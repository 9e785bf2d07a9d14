package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Store persists wallets and their transaction log in Postgres.
// Reads run on the pool; every mutating method takes the caller's *sql.Tx
// so multi-table units commit or roll back as a whole.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetWallet reads a wallet outside any transaction.
func (s *Store) GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	return scanWallet(s.db.QueryRowContext(ctx, `
		SELECT user_id, balance, collateral_locked, created_at, updated_at
		FROM wallets WHERE user_id = $1`, userID))
}

// GetWalletForUpdate reads and row-locks the wallet inside tx. All mutating
// engine operations take this lock first so per-user units serialize at the
// database even if two instances race.
func (s *Store) GetWalletForUpdate(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (*Wallet, error) {
	return scanWallet(tx.QueryRowContext(ctx, `
		SELECT user_id, balance, collateral_locked, created_at, updated_at
		FROM wallets WHERE user_id = $1 FOR UPDATE`, userID))
}

// EnsureWallet creates the wallet on first touch, seeding it with
// seedBalance, then returns it row-locked. The seed is logged as a deposit
// so the transaction log reconciles from the very first row.
func (s *Store) EnsureWallet(ctx context.Context, tx *sql.Tx, userID uuid.UUID, seedBalance int64) (*Wallet, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, seedBalance)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if inserted == 1 && seedBalance > 0 {
		if err := s.appendTransaction(ctx, tx, userID, TransactionDeposit, seedBalance, "starting balance"); err != nil {
			return nil, err
		}
	}

	return s.GetWalletForUpdate(ctx, tx, userID)
}

// Credit adds amount to the balance and logs a positive transaction row.
func (s *Store) Credit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount int64, txType TransactionType, description string) (*Wallet, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	w, err := scanWallet(tx.QueryRowContext(ctx, `
		UPDATE wallets
		SET balance = balance + $1, updated_at = NOW()
		WHERE user_id = $2
		RETURNING user_id, balance, collateral_locked, created_at, updated_at`,
		amount, userID))
	if err != nil {
		return nil, err
	}

	if err := s.appendTransaction(ctx, tx, userID, txType, amount, description); err != nil {
		return nil, err
	}
	return w, nil
}

// Debit removes amount from the balance and logs a negative transaction
// row. The guard clause keeps balance - collateral_locked >= 0, so locked
// collateral can never be spent out from under an open order.
func (s *Store) Debit(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount int64, txType TransactionType, description string) (*Wallet, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	w, err := scanWallet(tx.QueryRowContext(ctx, `
		UPDATE wallets
		SET balance = balance - $1, updated_at = NOW()
		WHERE user_id = $2 AND balance - collateral_locked >= $1
		RETURNING user_id, balance, collateral_locked, created_at, updated_at`,
		amount, userID))
	if errors.Is(err, ErrWalletNotFound) {
		// Distinguish a missing wallet from a guard failure.
		if _, lookupErr := s.GetWalletForUpdate(ctx, tx, userID); lookupErr != nil {
			return nil, lookupErr
		}
		return nil, ErrInsufficientFunds
	}
	if err != nil {
		return nil, err
	}

	if err := s.appendTransaction(ctx, tx, userID, txType, -amount, description); err != nil {
		return nil, err
	}
	return w, nil
}

// ListTransactions returns the user's transaction log, newest first.
func (s *Store) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tx_type, amount, description, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *Store) appendTransaction(ctx context.Context, tx *sql.Tx, userID uuid.UUID, txType TransactionType, amount int64, description string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (user_id, tx_type, amount, description)
		VALUES ($1, $2, $3, $4)`,
		userID, txType, amount, description)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func scanWallet(row *sql.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.UserID, &w.Balance, &w.CollateralLocked, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	return &w, nil
}
