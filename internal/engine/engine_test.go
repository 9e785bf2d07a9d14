package engine

import (
	"context"
	"errors"
	"testing"

	"tradeheaven/internal/order"

	"github.com/google/uuid"
)

type noQuotes struct{}

func (noQuotes) Last(string) (int64, bool) { return 0, false }

func validationEngine() *Engine {
	// Validation failures return before the engine touches the database.
	return New(nil, Config{}, noQuotes{}, nil, nil)
}

func TestPlaceOrderValidation(t *testing.T) {
	e := validationEngine()
	ctx := context.Background()
	userID := uuid.New()

	tests := []struct {
		name   string
		params PlaceOrderParams
	}{
		{"missing user", PlaceOrderParams{Symbol: "NABIL", Side: order.SideBuy, Type: order.TypeLimit, Quantity: 1, Price: price(100)}},
		{"missing symbol", PlaceOrderParams{UserID: userID, Side: order.SideBuy, Type: order.TypeLimit, Quantity: 1, Price: price(100)}},
		{"bad side", PlaceOrderParams{UserID: userID, Symbol: "NABIL", Side: "short", Type: order.TypeLimit, Quantity: 1, Price: price(100)}},
		{"bad type", PlaceOrderParams{UserID: userID, Symbol: "NABIL", Side: order.SideBuy, Type: "iceberg", Quantity: 1, Price: price(100)}},
		{"zero quantity", PlaceOrderParams{UserID: userID, Symbol: "NABIL", Side: order.SideBuy, Type: order.TypeLimit, Quantity: 0, Price: price(100)}},
		{"negative quantity", PlaceOrderParams{UserID: userID, Symbol: "NABIL", Side: order.SideSell, Type: order.TypeLimit, Quantity: -3, Price: price(100)}},
		{"limit without price", PlaceOrderParams{UserID: userID, Symbol: "NABIL", Side: order.SideBuy, Type: order.TypeLimit, Quantity: 1}},
		{"stop without price", PlaceOrderParams{UserID: userID, Symbol: "NABIL", Side: order.SideSell, Type: order.TypeStop, Quantity: 1}},
		{"zero price", PlaceOrderParams{UserID: userID, Symbol: "NABIL", Side: order.SideBuy, Type: order.TypeLimit, Quantity: 1, Price: price(0)}},
		{"market with price", PlaceOrderParams{UserID: userID, Symbol: "NABIL", Side: order.SideBuy, Type: order.TypeMarket, Quantity: 1, Price: price(100)}},
		{"order value overflow", PlaceOrderParams{UserID: userID, Symbol: "NABIL", Side: order.SideBuy, Type: order.TypeLimit, Quantity: 1 << 40, Price: price(1 << 40)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := e.PlaceOrder(ctx, tt.params)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
			if o != nil {
				t.Errorf("validation failure persisted an order: %+v", o)
			}
		})
	}
}

func TestReasonForLabels(t *testing.T) {
	if got := reasonFor(ErrMissingPrice); got != "missing_price" {
		t.Errorf("missing price reason = %q", got)
	}
	if got := reasonFor(validationf("bad")); got != "validation" {
		t.Errorf("validation reason = %q", got)
	}
	if got := reasonFor(errors.New("boom")); got != "internal" {
		t.Errorf("unknown reason = %q", got)
	}
}
