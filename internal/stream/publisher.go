package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tradeheaven/internal/observability"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Event types published on tradeheaven.ledger.events.{type}.
const (
	EventOrderPlaced   = "order_placed"
	EventOrderExecuted = "order_executed"
	EventOrderCanceled = "order_canceled"
	EventOrderRejected = "order_rejected"
	EventDeposit       = "deposit"
	EventWithdrawal    = "withdrawal"
)

// Event is one outbound ledger notification. Amounts are paisa; Amount is
// the order value for order events and the moved amount for wallet events.
type Event struct {
	Type      string     `json:"type"`
	UserID    uuid.UUID  `json:"user_id"`
	OrderID   *uuid.UUID `json:"order_id,omitempty"`
	Symbol    string     `json:"symbol,omitempty"`
	Quantity  int64      `json:"quantity,omitempty"`
	Price     int64      `json:"price,omitempty"`
	Amount    int64      `json:"amount,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Publisher pushes events to NATS from a buffered channel. Sends never
// block the engine's request path: when the channel is full the event is
// dropped and counted. Consumers needing a complete history read the
// wallet_transactions and orders tables instead.
type Publisher struct {
	js      jetstream.JetStream
	ch      chan Event
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, metrics *observability.Metrics, bufferSize int) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &Publisher{
		js:      js,
		ch:      make(chan Event, bufferSize),
		metrics: metrics,
		log:     observability.NewLogger("publisher"),
	}
}

// Publish queues an event for delivery. Returns false when the buffer is
// full and the event was dropped.
func (p *Publisher) Publish(evt Event) bool {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case p.ch <- evt:
		return true
	default:
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
		p.log.Warn().Str("type", evt.Type).Msg("publish channel full, event dropped")
		return false
	}
}

// Run drains the channel until ctx is cancelled, then flushes whatever
// is already queued.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		case evt, ok := <-p.ch:
			if !ok {
				return nil
			}
			p.publish(ctx, evt)
		}
	}
}

func (p *Publisher) drain() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case evt := <-p.ch:
			p.publish(flushCtx, evt)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		p.log.Error().Err(err).Str("type", evt.Type).Msg("marshal event")
		return
	}

	subject := fmt.Sprintf(eventSubjectFmt, evt.Type)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		if p.metrics != nil {
			p.metrics.PublishErrors.Inc()
		}
		p.log.Warn().Err(err).Str("subject", subject).Msg("outbound publish failed")
		return
	}

	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues(evt.Type).Inc()
	}
}
