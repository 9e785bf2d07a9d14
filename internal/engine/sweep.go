package engine

import (
	"context"
	"errors"
	"time"

	"tradeheaven/internal/ledger"
	"tradeheaven/internal/observability"
	"tradeheaven/internal/order"
	"tradeheaven/internal/portfolio"

	"github.com/rs/zerolog"
)

// Sweeper periodically scans open limit and stop orders against the quote
// board and executes the ones that have become marketable. Orders that
// fail the funds or holdings check at execution time stay open and are
// retried on the next pass.
type Sweeper struct {
	engine   *Engine
	quotes   QuoteSource
	metrics  *observability.Metrics
	log      zerolog.Logger
	interval time.Duration
}

func NewSweeper(engine *Engine, quotes QuoteSource, metrics *observability.Metrics, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sweeper{
		engine:   engine,
		quotes:   quotes,
		metrics:  metrics,
		log:      observability.NewLogger("sweep"),
		interval: interval,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single matching pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.SweepRuns.Inc()
	}

	open, err := s.engine.OrderStore().ListOpenPriced(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list open orders")
		return
	}

	for _, o := range open {
		quote, ok := s.quotes.Last(o.Symbol)
		if !ok || !Marketable(o, quote) {
			continue
		}

		if _, err := s.engine.ExecuteOrder(ctx, o.ID, &quote); err != nil {
			// A concurrent cancel or execute is expected noise; funds
			// and holdings shortfalls leave the order open for retry.
			if errors.Is(err, order.ErrInvalidState) {
				continue
			}
			if s.metrics != nil {
				s.metrics.SweepErrors.Inc()
			}
			if errors.Is(err, ledger.ErrInsufficientFunds) || errors.Is(err, portfolio.ErrInsufficientHoldings) {
				s.log.Debug().
					Str("order_id", o.ID.String()).
					Err(err).
					Msg("marketable order not executable yet")
				continue
			}
			s.log.Warn().Str("order_id", o.ID.String()).Err(err).Msg("sweep execution failed")
			continue
		}

		if s.metrics != nil {
			s.metrics.SweepExecutions.Inc()
		}
	}
}

// Marketable reports whether an open limit or stop order triggers at the
// given quote. Limit orders fill when the market trades through the limit;
// stop orders arm when the market crosses the stop level.
func Marketable(o order.Order, quote int64) bool {
	if o.Price == nil {
		return false
	}
	price := *o.Price

	switch o.Type {
	case order.TypeLimit:
		if o.Side == order.SideBuy {
			return quote <= price
		}
		return quote >= price
	case order.TypeStop:
		if o.Side == order.SideBuy {
			return quote >= price
		}
		return quote <= price
	default:
		return false
	}
}
