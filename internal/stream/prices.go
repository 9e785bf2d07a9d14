package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tradeheaven/internal/marketdata"
	"tradeheaven/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// PriceTick is the wire format of one inbound price update on
// tradeheaven.prices.{symbol}.
type PriceTick struct {
	Symbol    string    `json:"symbol"`
	Price     int64     `json:"price"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceSubscriber consumes the price stream and applies ticks to the
// quote board. Messages are acked after the board update; malformed
// ticks are acked too, since redelivery cannot fix them.
type PriceSubscriber struct {
	js       jetstream.JetStream
	board    *marketdata.Board
	metrics  *observability.Metrics
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, board *marketdata.Board, metrics *observability.Metrics) *PriceSubscriber {
	return &PriceSubscriber{
		js:      js,
		board:   board,
		metrics: metrics,
		log:     observability.NewLogger("prices"),
	}
}

// Subscribe creates the durable consumer and starts delivery.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, PricesStream, jetstream.ConsumerConfig{
		Durable:       "tradeheaven-prices",
		FilterSubject: PricesSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ps.handle(msg)
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}

	ps.consumer = cc
	ps.log.Info().Str("subject", PricesSubject).Msg("subscribed to price stream")
	return nil
}

func (ps *PriceSubscriber) handle(msg jetstream.Msg) {
	var tick PriceTick
	if err := json.Unmarshal(msg.Data(), &tick); err != nil {
		ps.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("unparseable price tick")
		msg.Ack()
		return
	}

	at := tick.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	if ps.board.Update(tick.Symbol, tick.Price, tick.Sequence, at) {
		if ps.metrics != nil {
			ps.metrics.PriceUpdates.Inc()
		}
	} else {
		if ps.metrics != nil {
			ps.metrics.PriceUpdatesStale.Inc()
		}
		ps.log.Debug().
			Str("symbol", tick.Symbol).
			Int64("sequence", tick.Sequence).
			Msg("dropped stale price tick")
	}

	msg.Ack()
}

// Stop gracefully stops the consumer.
func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
	ps.log.Info().Msg("price subscriber stopped")
}
