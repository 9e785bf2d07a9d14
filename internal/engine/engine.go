// Package engine coordinates order placement, cancellation, and execution
// across the wallet ledger, the portfolio, and the order book. Every
// mutating operation runs as one unit: per-user critical section, then a
// single SQL transaction that row-locks the wallet before touching
// anything else, so partial updates are never visible.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tradeheaven/internal/ledger"
	"tradeheaven/internal/money"
	"tradeheaven/internal/observability"
	"tradeheaven/internal/order"
	"tradeheaven/internal/portfolio"
	"tradeheaven/internal/stream"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QuoteSource provides the last market price per symbol. Quotes are read
// before the atomic section; a price arriving mid-transaction is not
// observed by it.
type QuoteSource interface {
	Last(symbol string) (int64, bool)
}

// EventSink receives post-commit notifications. Publish must not block.
type EventSink interface {
	Publish(evt stream.Event) bool
}

type Config struct {
	// SeedBalance is credited to a wallet on first touch, in paisa.
	SeedBalance int64
}

type Engine struct {
	db         *sql.DB
	wallets    *ledger.Store
	collateral *ledger.CollateralManager
	holdings   *portfolio.Store
	orders     *order.Store
	quotes     QuoteSource
	events     EventSink
	metrics    *observability.Metrics
	log        zerolog.Logger
	cfg        Config

	mu        sync.Mutex
	userLocks map[uuid.UUID]*sync.Mutex
}

func New(db *sql.DB, cfg Config, quotes QuoteSource, events EventSink, metrics *observability.Metrics) *Engine {
	wallets := ledger.NewStore(db)
	return &Engine{
		db:         db,
		wallets:    wallets,
		collateral: ledger.NewCollateralManager(wallets),
		holdings:   portfolio.NewStore(db),
		orders:     order.NewStore(db),
		quotes:     quotes,
		events:     events,
		metrics:    metrics,
		log:        observability.NewLogger("engine"),
		cfg:        cfg,
		userLocks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

// OrderStore exposes the order store for read paths and the sweep.
func (e *Engine) OrderStore() *order.Store { return e.orders }

// PlaceOrderParams is the validated-at-the-edge input to PlaceOrder.
// Price is required for limit and stop orders and must be absent for
// market orders.
type PlaceOrderParams struct {
	UserID   uuid.UUID
	Symbol   string
	Side     order.Side
	Type     order.Type
	Quantity int64
	Price    *int64
}

// PlaceOrder validates the request, locks collateral for buys, verifies
// holdings for sells, and records the order. A request that fails the
// funds or holdings check still records the order, as rejected, and the
// sentinel error is returned alongside it. Rejected orders never lock
// anything.
func (e *Engine) PlaceOrder(ctx context.Context, p PlaceOrderParams) (*order.Order, error) {
	done := e.observe("place_order")

	o, err := e.placeOrder(ctx, p)
	done(err)
	if err != nil && o == nil {
		return nil, err
	}

	if o != nil {
		evtType := stream.EventOrderPlaced
		if o.Status == order.StatusRejected {
			evtType = stream.EventOrderRejected
		}
		e.publish(stream.Event{
			Type:     evtType,
			UserID:   o.UserID,
			OrderID:  &o.ID,
			Symbol:   o.Symbol,
			Quantity: o.Quantity,
			Price:    priceOrZero(o.Price),
		})
		if e.metrics != nil {
			if o.Status == order.StatusRejected {
				e.metrics.OrdersRejected.WithLabelValues(reasonFor(err)).Inc()
			} else {
				e.metrics.OrdersPlaced.WithLabelValues(string(o.Side), string(o.Type)).Inc()
			}
		}
	}

	return o, err
}

func (e *Engine) placeOrder(ctx context.Context, p PlaceOrderParams) (*order.Order, error) {
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))

	if p.UserID == uuid.Nil {
		return nil, validationf("user id is required")
	}
	if p.Symbol == "" {
		return nil, validationf("symbol is required")
	}
	if !order.ValidSide(p.Side) {
		return nil, validationf("side must be buy or sell")
	}
	if !order.ValidType(p.Type) {
		return nil, validationf("type must be market, limit, or stop")
	}
	if p.Quantity <= 0 {
		return nil, validationf("quantity must be positive")
	}
	switch p.Type {
	case order.TypeMarket:
		if p.Price != nil {
			return nil, validationf("market orders take no price")
		}
	default:
		if p.Price == nil || *p.Price <= 0 {
			return nil, validationf("%s orders require a positive price", p.Type)
		}
	}

	o := &order.Order{
		ID:       uuid.New(),
		UserID:   p.UserID,
		Symbol:   p.Symbol,
		Side:     p.Side,
		Type:     p.Type,
		Quantity: p.Quantity,
		Price:    p.Price,
		Status:   order.StatusOpen,
	}

	// Buys need a lock basis before entering the atomic section. Market
	// buys capture the current quote as the order price so cancel and
	// execute can recover exactly what was locked.
	var rejectErr error
	if p.Side == order.SideBuy && p.Type == order.TypeMarket {
		quote, ok := e.quotes.Last(p.Symbol)
		if !ok {
			rejectErr = fmt.Errorf("%w: no market quote for %s", ErrMissingPrice, p.Symbol)
			o.Status = order.StatusRejected
		} else {
			o.Price = &quote
		}
	}

	var lockValue int64
	if p.Side == order.SideBuy && rejectErr == nil {
		var err error
		lockValue, err = money.OrderValue(o.Quantity, *o.Price)
		if err != nil {
			return nil, validationf("order value for %d shares at %s does not fit", o.Quantity, money.FormatNPR(*o.Price))
		}
	}

	err := e.withUserTx(ctx, p.UserID, func(tx *sql.Tx) error {
		if _, err := e.wallets.EnsureWallet(ctx, tx, p.UserID, e.cfg.SeedBalance); err != nil {
			return err
		}

		if rejectErr == nil {
			switch p.Side {
			case order.SideBuy:
				if err := e.collateral.Lock(ctx, tx, p.UserID, lockValue, o.ID); err != nil {
					if !errors.Is(err, ledger.ErrInsufficientFunds) {
						return err
					}
					rejectErr = err
					o.Status = order.StatusRejected
				}
			case order.SideSell:
				h, err := e.holdings.GetForUpdate(ctx, tx, p.UserID, p.Symbol)
				if err != nil {
					return err
				}
				if h == nil || h.Quantity < o.Quantity {
					rejectErr = portfolio.ErrInsufficientHoldings
					o.Status = order.StatusRejected
				}
			}
		}

		return e.orders.Create(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}

	if rejectErr != nil {
		e.log.Info().
			Str("order_id", o.ID.String()).
			Str("user_id", p.UserID.String()).
			Str("reason", reasonFor(rejectErr)).
			Msg("order rejected")
		return o, rejectErr
	}

	e.log.Info().
		Str("order_id", o.ID.String()).
		Str("user_id", p.UserID.String()).
		Str("symbol", o.Symbol).
		Str("side", string(o.Side)).
		Str("type", string(o.Type)).
		Int64("quantity", o.Quantity).
		Msg("order placed")
	return o, nil
}

// CancelOrder cancels an open order and, for buys, releases exactly the
// collateral locked at placement. Terminal orders fail with ErrInvalidState
// and are left untouched.
func (e *Engine) CancelOrder(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	done := e.observe("cancel_order")

	o, err := e.orders.Get(ctx, orderID)
	if err != nil {
		done(err)
		return nil, err
	}

	err = e.withUserTx(ctx, o.UserID, func(tx *sql.Tx) error {
		if _, err := e.wallets.GetWalletForUpdate(ctx, tx, o.UserID); err != nil {
			return err
		}

		current, err := e.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(order.StatusCanceled) {
			return fmt.Errorf("%w: order %s is %s", order.ErrInvalidState, orderID, current.Status)
		}
		o = current

		if current.Side == order.SideBuy {
			lockValue, err := money.OrderValue(current.Quantity, *current.Price)
			if err != nil {
				return err
			}
			if err := e.collateral.Release(ctx, tx, current.UserID, lockValue, current.ID); err != nil {
				return err
			}
		}

		return e.orders.MarkCanceled(ctx, tx, orderID)
	})
	done(err)
	if err != nil {
		return nil, err
	}

	o.Status = order.StatusCanceled
	e.publish(stream.Event{
		Type:     stream.EventOrderCanceled,
		UserID:   o.UserID,
		OrderID:  &o.ID,
		Symbol:   o.Symbol,
		Quantity: o.Quantity,
		Price:    priceOrZero(o.Price),
	})
	if e.metrics != nil {
		e.metrics.OrdersCanceled.Inc()
	}
	e.log.Info().Str("order_id", orderID.String()).Msg("order canceled")
	return o, nil
}

// ExecuteOrder fills an open order at executionPrice, falling back to the
// order's own price when none is given. For buys the original lock is
// released in full and the execution total debited; if the wallet cannot
// cover a higher execution price the whole unit rolls back, the order
// stays open, and the lock is untouched. Sells verify holdings and credit
// the proceeds.
func (e *Engine) ExecuteOrder(ctx context.Context, orderID uuid.UUID, executionPrice *int64) (*order.Order, error) {
	done := e.observe("execute_order")

	o, err := e.orders.Get(ctx, orderID)
	if err != nil {
		done(err)
		return nil, err
	}

	var finalPrice, execValue int64
	err = e.withUserTx(ctx, o.UserID, func(tx *sql.Tx) error {
		if _, err := e.wallets.GetWalletForUpdate(ctx, tx, o.UserID); err != nil {
			return err
		}

		current, err := e.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(order.StatusExecuted) {
			return fmt.Errorf("%w: order %s is %s", order.ErrInvalidState, orderID, current.Status)
		}
		o = current

		switch {
		case executionPrice != nil:
			finalPrice = *executionPrice
		case current.Price != nil:
			finalPrice = *current.Price
		default:
			return fmt.Errorf("%w: order %s has no price and none was supplied", ErrMissingPrice, orderID)
		}
		if finalPrice <= 0 {
			return validationf("execution price must be positive")
		}

		var verr error
		execValue, verr = money.OrderValue(current.Quantity, finalPrice)
		if verr != nil {
			return validationf("execution value for %d shares at %s does not fit", current.Quantity, money.FormatNPR(finalPrice))
		}

		switch current.Side {
		case order.SideBuy:
			lockValue, verr := money.OrderValue(current.Quantity, *current.Price)
			if verr != nil {
				return verr
			}
			if err := e.collateral.Release(ctx, tx, current.UserID, lockValue, current.ID); err != nil {
				return err
			}
			if _, err := e.wallets.Debit(ctx, tx, current.UserID, execValue, ledger.TransactionTrade,
				fmt.Sprintf("bought %d %s at %s (order %s)", current.Quantity, current.Symbol, money.FormatNPR(finalPrice), current.ID)); err != nil {
				return err
			}
			if _, err := e.holdings.ApplyBuy(ctx, tx, current.UserID, current.Symbol, current.Quantity, finalPrice); err != nil {
				return err
			}

		case order.SideSell:
			if err := e.holdings.ApplySell(ctx, tx, current.UserID, current.Symbol, current.Quantity); err != nil {
				return err
			}
			if _, err := e.wallets.Credit(ctx, tx, current.UserID, execValue, ledger.TransactionTrade,
				fmt.Sprintf("sold %d %s at %s (order %s)", current.Quantity, current.Symbol, money.FormatNPR(finalPrice), current.ID)); err != nil {
				return err
			}
		}

		return e.orders.MarkExecuted(ctx, tx, orderID, finalPrice, time.Now())
	})
	done(err)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	o.Status = order.StatusExecuted
	o.ExecutedPrice = &finalPrice
	o.ExecutedAt = &now

	e.publish(stream.Event{
		Type:     stream.EventOrderExecuted,
		UserID:   o.UserID,
		OrderID:  &o.ID,
		Symbol:   o.Symbol,
		Quantity: o.Quantity,
		Price:    finalPrice,
		Amount:   execValue,
	})
	if e.metrics != nil {
		e.metrics.OrdersExecuted.WithLabelValues(string(o.Side), string(o.Type)).Inc()
	}
	e.log.Info().
		Str("order_id", orderID.String()).
		Int64("price", finalPrice).
		Msg("order executed")
	return o, nil
}

// Deposit credits the wallet, creating it on first touch.
func (e *Engine) Deposit(ctx context.Context, userID uuid.UUID, amount int64) (*ledger.Wallet, error) {
	done := e.observe("deposit")

	var w *ledger.Wallet
	err := func() error {
		if amount <= 0 {
			return validationf("deposit amount must be positive")
		}
		return e.withUserTx(ctx, userID, func(tx *sql.Tx) error {
			if _, err := e.wallets.EnsureWallet(ctx, tx, userID, e.cfg.SeedBalance); err != nil {
				return err
			}
			var err error
			w, err = e.wallets.Credit(ctx, tx, userID, amount, ledger.TransactionDeposit, "deposit")
			return err
		})
	}()
	done(err)
	if err != nil {
		return nil, err
	}

	e.publish(stream.Event{Type: stream.EventDeposit, UserID: userID, Amount: amount})
	if e.metrics != nil {
		e.metrics.DepositsTotal.Add(float64(amount))
	}
	return w, nil
}

// Withdraw debits the wallet. Fails with InsufficientFunds when amount
// exceeds the available (unlocked) balance.
func (e *Engine) Withdraw(ctx context.Context, userID uuid.UUID, amount int64) (*ledger.Wallet, error) {
	done := e.observe("withdraw")

	var w *ledger.Wallet
	err := func() error {
		if amount <= 0 {
			return validationf("withdrawal amount must be positive")
		}
		return e.withUserTx(ctx, userID, func(tx *sql.Tx) error {
			if _, err := e.wallets.EnsureWallet(ctx, tx, userID, e.cfg.SeedBalance); err != nil {
				return err
			}
			var err error
			w, err = e.wallets.Debit(ctx, tx, userID, amount, ledger.TransactionWithdrawal, "withdrawal")
			return err
		})
	}()
	done(err)
	if err != nil {
		return nil, err
	}

	e.publish(stream.Event{Type: stream.EventWithdrawal, UserID: userID, Amount: amount})
	if e.metrics != nil {
		e.metrics.WithdrawalsTotal.Add(float64(amount))
	}
	return w, nil
}

// LockCollateral reserves amount against orderID without changing the
// balance. Fails with InsufficientFunds when the available balance cannot
// cover it.
func (e *Engine) LockCollateral(ctx context.Context, userID uuid.UUID, amount int64, orderID uuid.UUID) (*ledger.Wallet, error) {
	done := e.observe("lock_collateral")

	var w *ledger.Wallet
	err := func() error {
		if amount <= 0 {
			return validationf("lock amount must be positive")
		}
		return e.withUserTx(ctx, userID, func(tx *sql.Tx) error {
			if _, err := e.wallets.EnsureWallet(ctx, tx, userID, e.cfg.SeedBalance); err != nil {
				return err
			}
			if err := e.collateral.Lock(ctx, tx, userID, amount, orderID); err != nil {
				return err
			}
			var err error
			w, err = e.wallets.GetWalletForUpdate(ctx, tx, userID)
			return err
		})
	}()
	done(err)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ReleaseCollateral frees previously locked collateral. Fails with
// ExceedsLocked when amount is more than what is currently locked.
func (e *Engine) ReleaseCollateral(ctx context.Context, userID uuid.UUID, amount int64, orderID uuid.UUID) (*ledger.Wallet, error) {
	done := e.observe("release_collateral")

	var w *ledger.Wallet
	err := func() error {
		if amount <= 0 {
			return validationf("release amount must be positive")
		}
		return e.withUserTx(ctx, userID, func(tx *sql.Tx) error {
			if _, err := e.wallets.GetWalletForUpdate(ctx, tx, userID); err != nil {
				return err
			}
			if err := e.collateral.Release(ctx, tx, userID, amount, orderID); err != nil {
				return err
			}
			var err error
			w, err = e.wallets.GetWalletForUpdate(ctx, tx, userID)
			return err
		})
	}()
	done(err)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Wallet returns the user's wallet, creating and seeding it on first touch.
func (e *Engine) Wallet(ctx context.Context, userID uuid.UUID) (*ledger.Wallet, error) {
	var w *ledger.Wallet
	err := e.withUserTx(ctx, userID, func(tx *sql.Tx) error {
		var err error
		w, err = e.wallets.EnsureWallet(ctx, tx, userID, e.cfg.SeedBalance)
		return err
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// GetOrder returns a single order.
func (e *Engine) GetOrder(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	return e.orders.Get(ctx, orderID)
}

// Orders returns the user's orders, newest first.
func (e *Engine) Orders(ctx context.Context, userID uuid.UUID, limit int) ([]order.Order, error) {
	return e.orders.ListByUser(ctx, userID, limit)
}

// Holdings returns the user's portfolio ordered by symbol.
func (e *Engine) Holdings(ctx context.Context, userID uuid.UUID) ([]portfolio.Holding, error) {
	return e.holdings.List(ctx, userID)
}

// Transactions returns the user's wallet log, newest first.
func (e *Engine) Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]ledger.Transaction, error) {
	return e.wallets.ListTransactions(ctx, userID, limit)
}

// withUserTx serializes on the user's mutex, then runs fn inside a SQL
// transaction. The mutex orders concurrent requests in-process; the wallet
// row lock taken first inside fn does the same at the database.
func (e *Engine) withUserTx(ctx context.Context, userID uuid.UUID, fn func(tx *sql.Tx) error) error {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (e *Engine) userLock(userID uuid.UUID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		e.userLocks[userID] = lock
	}
	return lock
}

func (e *Engine) publish(evt stream.Event) {
	if e.events != nil {
		e.events.Publish(evt)
	}
}

// observe starts an operation timer and returns the completion callback.
func (e *Engine) observe(op string) func(error) {
	start := time.Now()
	return func(err error) {
		if e.metrics == nil {
			return
		}
		e.metrics.EngineOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err != nil {
			e.metrics.EngineOpErrors.WithLabelValues(op, reasonFor(err)).Inc()
		} else {
			e.metrics.EngineOps.WithLabelValues(op).Inc()
		}
	}
}

func priceOrZero(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
