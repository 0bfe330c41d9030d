package engine

import "time"

// DefaultWindowDuration is how long regeneration stays suppressed after a
// spend is observed.
const DefaultWindowDuration = 5 * time.Second

// SpendWindow tracks the regen-suppression window that follows any observed
// pool decrease. It is re-armed on every decrease and expires on its own;
// there is no explicit disarm.
type SpendWindow struct {
	armedAt  time.Time
	duration time.Duration
}

// NewSpendWindow creates a window with the given duration. A zero or
// negative duration falls back to the default.
func NewSpendWindow(duration time.Duration) *SpendWindow {
	if duration <= 0 {
		duration = DefaultWindowDuration
	}
	return &SpendWindow{duration: duration}
}

// Arm records an observed decrease at the given time, (re)starting the
// window. Safe to call repeatedly from multiple call sites within the same
// sample cycle.
func (w *SpendWindow) Arm(now time.Time) {
	w.armedAt = now
}

// Active reports whether the window is currently open. The boundary is
// exclusive: exactly at armedAt+duration the window is closed.
func (w *SpendWindow) Active(now time.Time) bool {
	if w.armedAt.IsZero() {
		return false
	}
	return now.Sub(w.armedAt) < w.duration
}

// Remaining returns how long the window stays open from now, or 0 if it is
// closed or was never armed.
func (w *SpendWindow) Remaining(now time.Time) time.Duration {
	if w.armedAt.IsZero() {
		return 0
	}
	left := w.duration - now.Sub(w.armedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Duration returns the configured window length.
func (w *SpendWindow) Duration() time.Duration {
	return w.duration
}
