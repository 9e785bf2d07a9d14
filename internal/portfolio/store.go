package portfolio

import (
	"context"
	"database/sql"
	"fmt"

	"tradeheaven/internal/money"

	"github.com/google/uuid"
)

// Store persists holdings in Postgres. Mutating methods take the caller's
// *sql.Tx so holding changes commit atomically with the wallet movements
// that pay for them.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the holding for (userID, symbol), or nil when the user holds
// none of the symbol.
func (s *Store) Get(ctx context.Context, userID uuid.UUID, symbol string) (*Holding, error) {
	return scanHolding(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, symbol, quantity, average_price, updated_at
		FROM holdings WHERE user_id = $1 AND symbol = $2`, userID, symbol))
}

// GetForUpdate row-locks the holding inside tx. Returns nil when absent.
func (s *Store) GetForUpdate(ctx context.Context, tx *sql.Tx, userID uuid.UUID, symbol string) (*Holding, error) {
	return scanHolding(tx.QueryRowContext(ctx, `
		SELECT id, user_id, symbol, quantity, average_price, updated_at
		FROM holdings WHERE user_id = $1 AND symbol = $2 FOR UPDATE`, userID, symbol))
}

// ApplyBuy adds quantity shares at unitPrice, folding the fill into the
// weighted-average cost. Creates the holding on first buy.
func (s *Store) ApplyBuy(ctx context.Context, tx *sql.Tx, userID uuid.UUID, symbol string, quantity, unitPrice int64) (*Holding, error) {
	existing, err := s.GetForUpdate(ctx, tx, userID, symbol)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		return scanHolding(tx.QueryRowContext(ctx, `
			INSERT INTO holdings (user_id, symbol, quantity, average_price)
			VALUES ($1, $2, $3, $4)
			RETURNING id, user_id, symbol, quantity, average_price, updated_at`,
			userID, symbol, quantity, unitPrice))
	}

	newAvg := money.WeightedAvg(existing.Quantity, existing.AveragePrice, quantity, unitPrice)
	return scanHolding(tx.QueryRowContext(ctx, `
		UPDATE holdings
		SET quantity = quantity + $1, average_price = $2, updated_at = NOW()
		WHERE user_id = $3 AND symbol = $4
		RETURNING id, user_id, symbol, quantity, average_price, updated_at`,
		quantity, newAvg, userID, symbol))
}

// ApplySell removes quantity shares. The guard clause rejects oversells
// with ErrInsufficientHoldings; selling the last share deletes the row so
// zero-quantity holdings never exist.
func (s *Store) ApplySell(ctx context.Context, tx *sql.Tx, userID uuid.UUID, symbol string, quantity int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE holdings
		SET quantity = quantity - $1, updated_at = NOW()
		WHERE user_id = $2 AND symbol = $3 AND quantity > $1`,
		quantity, userID, symbol)
	if err != nil {
		return fmt.Errorf("apply sell: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Either an exact close-out or an oversell. DELETE with the equality
	// guard settles which.
	res, err = tx.ExecContext(ctx, `
		DELETE FROM holdings
		WHERE user_id = $1 AND symbol = $2 AND quantity = $3`,
		userID, symbol, quantity)
	if err != nil {
		return fmt.Errorf("close holding: %w", err)
	}

	n, err = res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrInsufficientHoldings
	}
	return nil
}

// List returns all of the user's holdings ordered by symbol.
func (s *Store) List(ctx context.Context, userID uuid.UUID) ([]Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, symbol, quantity, average_price, updated_at
		FROM holdings WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer rows.Close()

	var holdings []Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.ID, &h.UserID, &h.Symbol, &h.Quantity, &h.AveragePrice, &h.UpdatedAt); err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func scanHolding(row *sql.Row) (*Holding, error) {
	var h Holding
	err := row.Scan(&h.ID, &h.UserID, &h.Symbol, &h.Quantity, &h.AveragePrice, &h.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan holding: %w", err)
	}
	return &h, nil
}
