package marketdata

import (
	"testing"
	"time"
)

func TestBoardUpdateAndLast(t *testing.T) {
	b := NewBoard()

	if _, ok := b.Last("NABIL"); ok {
		t.Fatal("empty board returned a quote")
	}

	if !b.Update("NABIL", 150_000, 1, time.Now()) {
		t.Fatal("first tick rejected")
	}
	price, ok := b.Last("NABIL")
	if !ok || price != 150_000 {
		t.Fatalf("Last = (%d, %v), want (150000, true)", price, ok)
	}
}

func TestBoardRejectsStaleSequence(t *testing.T) {
	b := NewBoard()
	now := time.Now()

	b.Update("NABIL", 150_000, 5, now)

	if b.Update("NABIL", 140_000, 5, now) {
		t.Error("equal sequence accepted")
	}
	if b.Update("NABIL", 140_000, 4, now) {
		t.Error("older sequence accepted")
	}

	price, _ := b.Last("NABIL")
	if price != 150_000 {
		t.Errorf("stale tick overwrote price: %d", price)
	}

	if !b.Update("NABIL", 140_000, 6, now) {
		t.Error("newer sequence rejected")
	}
}

func TestBoardRejectsBadTicks(t *testing.T) {
	b := NewBoard()
	if b.Update("NABIL", 0, 1, time.Now()) {
		t.Error("zero price accepted")
	}
	if b.Update("NABIL", -5, 2, time.Now()) {
		t.Error("negative price accepted")
	}
	if b.Update("", 100, 3, time.Now()) {
		t.Error("empty symbol accepted")
	}
}

func TestBoardSnapshot(t *testing.T) {
	b := NewBoard()
	now := time.Now()
	b.Update("NABIL", 150_000, 1, now)
	b.Update("NICA", 90_000, 1, now)

	snap := b.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snap))
	}
}
