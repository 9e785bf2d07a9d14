package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// CollateralManager moves funds between the spendable and locked portions
// of a wallet. Locking never changes the balance, only how much of it is
// reserved; the log records a positive collateral_lock row and, later, a
// matching negative collateral_release row.
type CollateralManager struct {
	store *Store
}

func NewCollateralManager(store *Store) *CollateralManager {
	return &CollateralManager{store: store}
}

// Lock reserves amount against the order. Fails with ErrInsufficientFunds
// when the available balance cannot cover it.
func (c *CollateralManager) Lock(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount int64, orderID uuid.UUID) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET collateral_locked = collateral_locked + $1, updated_at = NOW()
		WHERE user_id = $2 AND balance - collateral_locked >= $1`,
		amount, userID)
	if err != nil {
		return fmt.Errorf("lock collateral: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrInsufficientFunds
	}

	return c.store.appendTransaction(ctx, tx, userID, TransactionCollateralLock, amount,
		fmt.Sprintf("collateral locked for order %s", orderID))
}

// Release frees previously locked collateral. Fails with ErrExceedsLocked
// when amount is greater than what is currently locked; a correct caller
// always releases exactly what it locked.
func (c *CollateralManager) Release(ctx context.Context, tx *sql.Tx, userID uuid.UUID, amount int64, orderID uuid.UUID) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET collateral_locked = collateral_locked - $1, updated_at = NOW()
		WHERE user_id = $2 AND collateral_locked >= $1`,
		amount, userID)
	if err != nil {
		return fmt.Errorf("release collateral: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrExceedsLocked
	}

	return c.store.appendTransaction(ctx, tx, userID, TransactionCollateralRelease, -amount,
		fmt.Sprintf("collateral released for order %s", orderID))
}
