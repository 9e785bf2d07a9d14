// Package server exposes the engine over HTTP/JSON.
package server

import (
	"context"
	"errors"
	"strconv"
	"time"

	"tradeheaven/internal/engine"
	"tradeheaven/internal/ledger"
	"tradeheaven/internal/marketdata"
	"tradeheaven/internal/observability"
	"tradeheaven/internal/order"
	"tradeheaven/internal/portfolio"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Server struct {
	app     *fiber.App
	engine  *engine.Engine
	board   *marketdata.Board
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
	addr    string
}

func New(addr string, eng *engine.Engine, board *marketdata.Board, health *observability.HealthChecker, metrics *observability.Metrics) *Server {
	s := &Server{
		engine:  eng,
		board:   board,
		health:  health,
		metrics: metrics,
		log:     observability.NewLogger("http"),
		addr:    addr,
	}

	app := fiber.New(fiber.Config{
		AppName:               "tradeheaven",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})

	app.Use(s.instrument)

	app.Get("/healthz", s.handleLiveness)
	app.Get("/readyz", s.handleReadiness)

	api := app.Group("/api")
	api.Post("/orders", s.handlePlaceOrder)
	api.Get("/orders/:id", s.handleGetOrder)
	api.Post("/orders/:id/cancel", s.handleCancelOrder)
	api.Post("/orders/:id/execute", s.handleExecuteOrder)
	api.Get("/users/:userID/orders", s.handleListOrders)
	api.Get("/users/:userID/wallet", s.handleGetWallet)
	api.Post("/users/:userID/deposits", s.handleDeposit)
	api.Post("/users/:userID/withdrawals", s.handleWithdraw)
	api.Post("/users/:userID/collateral/lock", s.handleLockCollateral)
	api.Post("/users/:userID/collateral/release", s.handleReleaseCollateral)
	api.Get("/users/:userID/portfolio", s.handleListHoldings)
	api.Get("/users/:userID/transactions", s.handleListTransactions)
	api.Get("/quotes", s.handleListQuotes)

	s.app = app
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.addr)
	}()

	s.log.Info().Str("addr", s.addr).Msg("http server listening")

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.app.ShutdownWithContext(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) instrument(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	if s.metrics != nil {
		route := c.Route().Path
		s.metrics.HTTPRequests.WithLabelValues(c.Method(), route, strconv.Itoa(c.Response().StatusCode())).Inc()
		s.metrics.HTTPDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
	}
	return err
}

type placeOrderRequest struct {
	UserID   string `json:"user_id"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Type     string `json:"type"`
	Quantity int64  `json:"quantity"`
	Price    *int64 `json:"price"`
}

func (s *Server) handlePlaceOrder(c *fiber.Ctx) error {
	var req placeOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "cannot parse request body")
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return badRequest(c, "invalid user_id")
	}

	o, err := s.engine.PlaceOrder(c.Context(), engine.PlaceOrderParams{
		UserID:   userID,
		Symbol:   req.Symbol,
		Side:     order.Side(req.Side),
		Type:     order.Type(req.Type),
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		// A rejected order is recorded; surface it with the error.
		if o != nil {
			status, code := statusForError(err)
			return c.Status(status).JSON(fiber.Map{
				"error": err.Error(),
				"code":  code,
				"order": o,
			})
		}
		return s.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(o)
}

func (s *Server) handleGetOrder(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid order id")
	}

	o, err := s.engine.GetOrder(c.Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(o)
}

func (s *Server) handleCancelOrder(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid order id")
	}

	o, err := s.engine.CancelOrder(c.Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(o)
}

type executeOrderRequest struct {
	ExecutionPrice *int64 `json:"execution_price"`
}

func (s *Server) handleExecuteOrder(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid order id")
	}

	var req executeOrderRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "cannot parse request body")
		}
	}

	o, err := s.engine.ExecuteOrder(c.Context(), id, req.ExecutionPrice)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(o)
}

func (s *Server) handleListOrders(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return badRequest(c, "invalid user id")
	}

	orders, err := s.engine.Orders(c.Context(), userID, c.QueryInt("limit"))
	if err != nil {
		return s.fail(c, err)
	}
	if orders == nil {
		orders = []order.Order{}
	}
	return c.JSON(orders)
}

func (s *Server) handleGetWallet(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return badRequest(c, "invalid user id")
	}

	w, err := s.engine.Wallet(c.Context(), userID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(w)
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) handleDeposit(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return badRequest(c, "invalid user id")
	}

	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "cannot parse request body")
	}

	w, err := s.engine.Deposit(c.Context(), userID, req.Amount)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(w)
}

func (s *Server) handleWithdraw(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return badRequest(c, "invalid user id")
	}

	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "cannot parse request body")
	}

	w, err := s.engine.Withdraw(c.Context(), userID, req.Amount)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(w)
}

type collateralRequest struct {
	Amount  int64  `json:"amount"`
	OrderID string `json:"order_id"`
}

func (s *Server) handleLockCollateral(c *fiber.Ctx) error {
	userID, amount, orderID, ok := s.parseCollateral(c)
	if !ok {
		return nil
	}

	w, err := s.engine.LockCollateral(c.Context(), userID, amount, orderID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(w)
}

func (s *Server) handleReleaseCollateral(c *fiber.Ctx) error {
	userID, amount, orderID, ok := s.parseCollateral(c)
	if !ok {
		return nil
	}

	w, err := s.engine.ReleaseCollateral(c.Context(), userID, amount, orderID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(w)
}

// parseCollateral reads the user id and lock/release body; on failure the
// 400 response has already been written and ok is false.
func (s *Server) parseCollateral(c *fiber.Ctx) (userID uuid.UUID, amount int64, orderID uuid.UUID, ok bool) {
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		badRequest(c, "invalid user id")
		return
	}

	var req collateralRequest
	if err := c.BodyParser(&req); err != nil {
		badRequest(c, "cannot parse request body")
		return
	}
	orderID, err = uuid.Parse(req.OrderID)
	if err != nil {
		badRequest(c, "invalid order_id")
		return
	}
	return userID, req.Amount, orderID, true
}

func (s *Server) handleListHoldings(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return badRequest(c, "invalid user id")
	}

	holdings, err := s.engine.Holdings(c.Context(), userID)
	if err != nil {
		return s.fail(c, err)
	}
	if holdings == nil {
		holdings = []portfolio.Holding{}
	}
	return c.JSON(holdings)
}

func (s *Server) handleListTransactions(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return badRequest(c, "invalid user id")
	}

	txns, err := s.engine.Transactions(c.Context(), userID, c.QueryInt("limit"))
	if err != nil {
		return s.fail(c, err)
	}
	if txns == nil {
		txns = []ledger.Transaction{}
	}
	return c.JSON(txns)
}

func (s *Server) handleListQuotes(c *fiber.Ctx) error {
	return c.JSON(s.board.Snapshot())
}

func (s *Server) handleLiveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "alive",
		"uptime": s.health.Uptime().String(),
	})
}

func (s *Server) handleReadiness(c *fiber.Ctx) error {
	if !s.health.IsReady() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	status, code := statusForError(err)
	if status == fiber.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return c.Status(status).JSON(fiber.Map{"error": "internal error", "code": code})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error(), "code": code})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg, "code": "validation_error"})
}

// statusForError maps domain sentinels to an HTTP status and a stable
// machine-readable code.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, order.ErrNotFound), errors.Is(err, ledger.ErrWalletNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, order.ErrInvalidState):
		return fiber.StatusConflict, "invalid_state"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, portfolio.ErrInsufficientHoldings):
		return fiber.StatusUnprocessableEntity, "insufficient_holdings"
	case errors.Is(err, ledger.ErrExceedsLocked):
		return fiber.StatusUnprocessableEntity, "exceeds_locked"
	case errors.Is(err, engine.ErrMissingPrice):
		return fiber.StatusUnprocessableEntity, "missing_price"
	case errors.Is(err, engine.ErrValidation), errors.Is(err, ledger.ErrInvalidAmount):
		return fiber.StatusBadRequest, "validation_error"
	default:
		return fiber.StatusInternalServerError, "internal"
	}
}
