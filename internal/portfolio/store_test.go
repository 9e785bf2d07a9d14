package portfolio_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"tradeheaven/internal/portfolio"
	"tradeheaven/internal/testutil"

	"github.com/google/uuid"
)

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return nil
}

func TestBuyCreatesAndAverages(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := portfolio.NewStore(db)
	userID := uuid.New()

	err := inTx(t, db, func(tx *sql.Tx) error {
		h, err := store.ApplyBuy(ctx, tx, userID, "NABIL", 10, 100_000)
		if err != nil {
			return err
		}
		if h.Quantity != 10 || h.AveragePrice != 100_000 {
			t.Errorf("first buy: qty=%d avg=%d", h.Quantity, h.AveragePrice)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("first buy: %v", err)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		h, err := store.ApplyBuy(ctx, tx, userID, "NABIL", 10, 200_000)
		if err != nil {
			return err
		}
		if h.Quantity != 20 {
			t.Errorf("qty = %d, want 20", h.Quantity)
		}
		if h.AveragePrice != 150_000 {
			t.Errorf("avg = %d, want 150000", h.AveragePrice)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("second buy: %v", err)
	}
}

func TestSellDecrementKeepsAverage(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := portfolio.NewStore(db)
	userID := uuid.New()

	err := inTx(t, db, func(tx *sql.Tx) error {
		if _, err := store.ApplyBuy(ctx, tx, userID, "NABIL", 20, 150_000); err != nil {
			return err
		}
		return store.ApplySell(ctx, tx, userID, "NABIL", 5)
	})
	if err != nil {
		t.Fatalf("buy then sell: %v", err)
	}

	h, err := store.Get(ctx, userID, "NABIL")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if h == nil {
		t.Fatal("holding missing after partial sell")
	}
	if h.Quantity != 15 {
		t.Errorf("qty = %d, want 15", h.Quantity)
	}
	if h.AveragePrice != 150_000 {
		t.Errorf("avg changed on sell: %d", h.AveragePrice)
	}
}

func TestSellToZeroDeletesHolding(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := portfolio.NewStore(db)
	userID := uuid.New()

	err := inTx(t, db, func(tx *sql.Tx) error {
		if _, err := store.ApplyBuy(ctx, tx, userID, "NABIL", 10, 150_000); err != nil {
			return err
		}
		return store.ApplySell(ctx, tx, userID, "NABIL", 10)
	})
	if err != nil {
		t.Fatalf("close out: %v", err)
	}

	h, err := store.Get(ctx, userID, "NABIL")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if h != nil {
		t.Errorf("holding still present after selling to zero: %+v", h)
	}

	// Rebuying after a close-out starts a fresh average.
	err = inTx(t, db, func(tx *sql.Tx) error {
		h, err := store.ApplyBuy(ctx, tx, userID, "NABIL", 5, 90_000)
		if err != nil {
			return err
		}
		if h.AveragePrice != 90_000 {
			t.Errorf("fresh avg = %d, want 90000", h.AveragePrice)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("rebuy: %v", err)
	}
}

func TestOversellRejected(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := portfolio.NewStore(db)
	userID := uuid.New()

	err := inTx(t, db, func(tx *sql.Tx) error {
		if _, err := store.ApplyBuy(ctx, tx, userID, "NABIL", 10, 150_000); err != nil {
			return err
		}
		return store.ApplySell(ctx, tx, userID, "NABIL", 11)
	})
	if !errors.Is(err, portfolio.ErrInsufficientHoldings) {
		t.Fatalf("err = %v, want ErrInsufficientHoldings", err)
	}

	// Selling a symbol never held is the same error.
	err = inTx(t, db, func(tx *sql.Tx) error {
		return store.ApplySell(ctx, tx, userID, "NICA", 1)
	})
	if !errors.Is(err, portfolio.ErrInsufficientHoldings) {
		t.Fatalf("unknown symbol: err = %v, want ErrInsufficientHoldings", err)
	}
}
