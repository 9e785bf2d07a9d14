package order

import "testing"

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusOpen, false},
		{StatusExecuted, true},
		{StatusCanceled, true},
		{StatusRejected, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusOpen, StatusExecuted, true},
		{StatusOpen, StatusCanceled, true},
		{StatusOpen, StatusRejected, false}, // rejected only at creation
		{StatusOpen, StatusOpen, false},
		{StatusExecuted, StatusCanceled, false},
		{StatusExecuted, StatusExecuted, false},
		{StatusCanceled, StatusExecuted, false},
		{StatusRejected, StatusOpen, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestValidSideAndType(t *testing.T) {
	if !ValidSide(SideBuy) || !ValidSide(SideSell) {
		t.Error("buy/sell must be valid sides")
	}
	if ValidSide("short") {
		t.Error("unknown side accepted")
	}
	if !ValidType(TypeMarket) || !ValidType(TypeLimit) || !ValidType(TypeStop) {
		t.Error("market/limit/stop must be valid types")
	}
	if ValidType("iceberg") {
		t.Error("unknown type accepted")
	}
}
