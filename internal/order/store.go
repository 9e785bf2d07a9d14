package order

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const orderColumns = `id, user_id, symbol, side, order_type, quantity, price, status, executed_price, created_at, executed_at`

// Create inserts the order with its initial status (open or rejected).
func (s *Store) Create(ctx context.Context, tx *sql.Tx, o *Order) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO orders (id, user_id, symbol, side, order_type, quantity, price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		o.ID, o.UserID, o.Symbol, o.Side, o.Type, o.Quantity, o.Price, o.Status,
	).Scan(&o.CreatedAt)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// Get reads an order outside any transaction.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// GetForUpdate reads and row-locks an order inside tx.
func (s *Store) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*Order, error) {
	return scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

// MarkExecuted moves an open order to executed. The status guard makes a
// repeat execute a no-op at the SQL level; callers surface that as
// ErrInvalidState.
func (s *Store) MarkExecuted(ctx context.Context, tx *sql.Tx, id uuid.UUID, executedPrice int64, executedAt time.Time) error {
	return s.transition(ctx, tx, `
		UPDATE orders
		SET status = 'executed', executed_price = $2, executed_at = $3
		WHERE id = $1 AND status = 'open'`, id, executedPrice, executedAt)
}

// MarkCanceled moves an open order to canceled.
func (s *Store) MarkCanceled(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	return s.transition(ctx, tx, `
		UPDATE orders
		SET status = 'canceled'
		WHERE id = $1 AND status = 'open'`, id)
}

func (s *Store) transition(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("order transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrInvalidState
	}
	return nil
}

// ListByUser returns the user's orders, newest first.
func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return collectOrders(rows)
}

// ListOpenPriced returns open limit and stop orders, the population the
// matching sweep evaluates against the quote board.
func (s *Store) ListOpenPriced(ctx context.Context) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status = 'open' AND order_type IN ('limit', 'stop')
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]Order, error) {
	defer rows.Close()
	var orders []Order
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row *sql.Row) (*Order, error) {
	o, err := scanOrderRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return o, err
}

func scanOrderRow(r rowScanner) (*Order, error) {
	var o Order
	var price, executedPrice sql.NullInt64
	var executedAt sql.NullTime
	err := r.Scan(&o.ID, &o.UserID, &o.Symbol, &o.Side, &o.Type, &o.Quantity,
		&price, &o.Status, &executedPrice, &o.CreatedAt, &executedAt)
	if err != nil {
		return nil, err
	}
	if price.Valid {
		o.Price = &price.Int64
	}
	if executedPrice.Valid {
		o.ExecutedPrice = &executedPrice.Int64
	}
	if executedAt.Valid {
		o.ExecutedAt = &executedAt.Time
	}
	return &o, nil
}
