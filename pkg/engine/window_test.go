package engine

import (
	"testing"
	"time"
)

func TestSpendWindowNeverArmed(t *testing.T) {
	w := NewSpendWindow(5 * time.Second)
	now := time.Now()

	if w.Active(now) {
		t.Error("window should be inactive before any spend")
	}
	if got := w.Remaining(now); got != 0 {
		t.Errorf("expected 0 remaining, got %v", got)
	}
}

func TestSpendWindowBoundary(t *testing.T) {
	w := NewSpendWindow(5 * time.Second)
	base := time.Date(2025, 1, 1, 12, 0, 10, 0, time.UTC)

	w.Arm(base)

	// 1. Just inside the window
	almost := base.Add(4*time.Second + 999*time.Millisecond)
	if !w.Active(almost) {
		t.Error("window should still be active at 4.999s")
	}

	// 2. Exactly at the boundary the window is closed
	exact := base.Add(5 * time.Second)
	if w.Active(exact) {
		t.Error("window should be inactive at exactly 5.0s")
	}
	if got := w.Remaining(exact); got != 0 {
		t.Errorf("expected 0 remaining at boundary, got %v", got)
	}
}

func TestSpendWindowRemaining(t *testing.T) {
	w := NewSpendWindow(5 * time.Second)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	w.Arm(base)

	if got := w.Remaining(base.Add(2 * time.Second)); got != 3*time.Second {
		t.Errorf("expected 3s remaining, got %v", got)
	}
	if got := w.Remaining(base.Add(10 * time.Second)); got != 0 {
		t.Errorf("expected 0 remaining after expiry, got %v", got)
	}
}

func TestSpendWindowRearm(t *testing.T) {
	w := NewSpendWindow(5 * time.Second)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	w.Arm(base)
	// Second spend 3s later restarts the clock
	w.Arm(base.Add(3 * time.Second))

	at := base.Add(7 * time.Second)
	if !w.Active(at) {
		t.Error("re-armed window should still be active 4s after second spend")
	}
	if got := w.Remaining(at); got != 1*time.Second {
		t.Errorf("expected 1s remaining, got %v", got)
	}
}

func TestSpendWindowDefaultDuration(t *testing.T) {
	w := NewSpendWindow(0)
	if w.Duration() != DefaultWindowDuration {
		t.Errorf("expected default duration %v, got %v", DefaultWindowDuration, w.Duration())
	}
}
