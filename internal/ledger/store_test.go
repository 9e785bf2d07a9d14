package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"tradeheaven/internal/ledger"
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

func TestEnsureWalletSeedsOnce(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := ledger.NewStore(db)
	userID := uuid.New()

	err := inTx(t, db, func(tx *sql.Tx) error {
		w, err := store.EnsureWallet(ctx, tx, userID, 500_000)
		if err != nil {
			return err
		}
		if w.Balance != 500_000 {
			t.Errorf("seeded balance = %d, want 500000", w.Balance)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}

	// Second touch must not re-seed.
	err = inTx(t, db, func(tx *sql.Tx) error {
		w, err := store.EnsureWallet(ctx, tx, userID, 500_000)
		if err != nil {
			return err
		}
		if w.Balance != 500_000 {
			t.Errorf("balance after second ensure = %d, want 500000", w.Balance)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}

	txns, err := store.ListTransactions(ctx, userID, 10)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("seed logged %d transactions, want 1", len(txns))
	}
	if txns[0].Type != ledger.TransactionDeposit || txns[0].Amount != 500_000 {
		t.Errorf("seed transaction = %+v", txns[0])
	}
}

func TestCreditDebitLogsSignedAmounts(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := ledger.NewStore(db)
	userID := uuid.New()

	err := inTx(t, db, func(tx *sql.Tx) error {
		if _, err := store.EnsureWallet(ctx, tx, userID, 0); err != nil {
			return err
		}
		if _, err := store.Credit(ctx, tx, userID, 100_000, ledger.TransactionDeposit, "deposit"); err != nil {
			return err
		}
		if _, err := store.Debit(ctx, tx, userID, 30_000, ledger.TransactionWithdrawal, "withdrawal"); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("credit/debit: %v", err)
	}

	w, err := store.GetWallet(ctx, userID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.Balance != 70_000 {
		t.Errorf("balance = %d, want 70000", w.Balance)
	}

	txns, err := store.ListTransactions(ctx, userID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var sum int64
	for _, txn := range txns {
		sum += txn.Amount
	}
	if sum != w.Balance {
		t.Errorf("signed transaction sum = %d, want balance %d", sum, w.Balance)
	}
}

func TestDebitCannotSpendLockedCollateral(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := ledger.NewStore(db)
	collateral := ledger.NewCollateralManager(store)
	userID := uuid.New()
	orderID := uuid.New()

	err := inTx(t, db, func(tx *sql.Tx) error {
		if _, err := store.EnsureWallet(ctx, tx, userID, 100_000); err != nil {
			return err
		}
		return collateral.Lock(ctx, tx, userID, 80_000, orderID)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		_, err := store.Debit(ctx, tx, userID, 30_000, ledger.TransactionWithdrawal, "withdrawal")
		return err
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("debit over available: err = %v, want ErrInsufficientFunds", err)
	}

	// Available is 20_000; that much can still move.
	err = inTx(t, db, func(tx *sql.Tx) error {
		_, err := store.Debit(ctx, tx, userID, 20_000, ledger.TransactionWithdrawal, "withdrawal")
		return err
	})
	if err != nil {
		t.Fatalf("debit within available: %v", err)
	}
}

func TestLockReleaseSymmetry(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := ledger.NewStore(db)
	collateral := ledger.NewCollateralManager(store)
	userID := uuid.New()
	orderID := uuid.New()

	err := inTx(t, db, func(tx *sql.Tx) error {
		if _, err := store.EnsureWallet(ctx, tx, userID, 100_000); err != nil {
			return err
		}
		if err := collateral.Lock(ctx, tx, userID, 60_000, orderID); err != nil {
			return err
		}
		return collateral.Release(ctx, tx, userID, 60_000, orderID)
	})
	if err != nil {
		t.Fatalf("lock/release: %v", err)
	}

	w, err := store.GetWallet(ctx, userID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.CollateralLocked != 0 {
		t.Errorf("collateral_locked = %d, want 0", w.CollateralLocked)
	}
	if w.Balance != 100_000 {
		t.Errorf("balance = %d, want 100000 (locking never changes balance)", w.Balance)
	}

	// The lock and release rows net to zero in the log.
	txns, err := store.ListTransactions(ctx, userID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var lockSum int64
	for _, txn := range txns {
		if txn.Type == ledger.TransactionCollateralLock || txn.Type == ledger.TransactionCollateralRelease {
			lockSum += txn.Amount
		}
	}
	if lockSum != 0 {
		t.Errorf("lock/release rows sum to %d, want 0", lockSum)
	}
}

func TestLockBeyondAvailableFails(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := ledger.NewStore(db)
	collateral := ledger.NewCollateralManager(store)
	userID := uuid.New()

	err := inTx(t, db, func(tx *sql.Tx) error {
		if _, err := store.EnsureWallet(ctx, tx, userID, 50_000); err != nil {
			return err
		}
		return collateral.Lock(ctx, tx, userID, 50_001, uuid.New())
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestReleaseBeyondLockedFails(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := ledger.NewStore(db)
	collateral := ledger.NewCollateralManager(store)
	userID := uuid.New()
	orderID := uuid.New()

	err := inTx(t, db, func(tx *sql.Tx) error {
		if _, err := store.EnsureWallet(ctx, tx, userID, 100_000); err != nil {
			return err
		}
		if err := collateral.Lock(ctx, tx, userID, 10_000, orderID); err != nil {
			return err
		}
		return collateral.Release(ctx, tx, userID, 10_001, orderID)
	})
	if !errors.Is(err, ledger.ErrExceedsLocked) {
		t.Fatalf("err = %v, want ErrExceedsLocked", err)
	}
}
