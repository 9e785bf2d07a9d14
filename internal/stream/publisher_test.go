package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Run must return promptly after cancellation so shutdown can join it
// instead of guessing with a sleep.
func TestPublisherRunReturnsOnCancel(t *testing.T) {
	p := NewPublisher(nil, nil, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	// Run is not started, so the buffer never drains.
	p := NewPublisher(nil, nil, 1)

	evt := Event{Type: EventDeposit, UserID: uuid.New(), Amount: 100}
	if !p.Publish(evt) {
		t.Fatal("first publish should be buffered")
	}
	if p.Publish(evt) {
		t.Error("second publish should be dropped, buffer is full")
	}
}

func TestPublishStampsTimestamp(t *testing.T) {
	p := NewPublisher(nil, nil, 1)

	p.Publish(Event{Type: EventWithdrawal, UserID: uuid.New(), Amount: 50})
	got := <-p.ch
	if got.Timestamp.IsZero() {
		t.Error("publish left the timestamp zero")
	}
}
