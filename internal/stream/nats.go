// Package stream is the NATS JetStream edge: inbound price ticks feeding
// the quote board and outbound post-commit ledger events. Correctness of
// the ledger never depends on this package; it can lag or drop without
// corrupting state.
package stream

import (
	"context"
	"fmt"
	"time"

	"tradeheaven/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	PricesStream    = "TRADEHEAVEN_PRICES"
	PricesSubject   = "tradeheaven.prices.>"
	EventsStream    = "TRADEHEAVEN_EVENTS"
	EventsSubject   = "tradeheaven.ledger.events.>"
	eventSubjectFmt = "tradeheaven.ledger.events.%s"
)

// Connect establishes a NATS connection and returns a JetStream context.
// Reconnects forever with a fixed backoff.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	log := observability.NewLogger("nats")

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

// EnsureStreams creates the price and event streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      PricesStream,
			Subjects:  []string{PricesSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      EventsStream,
			Subjects:  []string{EventsSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}

	return nil
}
