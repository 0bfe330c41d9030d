package engine

import "math"

// DefaultHistoryCapacity bounds how many tick amounts are kept per bucket.
const DefaultHistoryCapacity = 5

// TickHistory keeps a short rolling window of observed per-tick gain
// amounts for one (pool, phase) bucket and reduces them to a single
// conservative rate: the floored minimum of the window. Overestimating the
// rate would make predictions come due early, so the reduction always
// undercounts.
type TickHistory struct {
	samples  []float64
	capacity int

	conservative    float64
	hasConservative bool

	lastGood    float64
	hasLastGood bool
}

// NewTickHistory creates an empty history with the given capacity. A zero
// or negative capacity falls back to the default.
func NewTickHistory(capacity int) *TickHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &TickHistory{
		samples:  make([]float64, 0, capacity),
		capacity: capacity,
	}
}

// Insert records one observed tick amount, evicting the oldest sample once
// the window is full, and recomputes the conservative rate.
func (h *TickHistory) Insert(amount float64) {
	if len(h.samples) >= h.capacity {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, amount)

	min := h.samples[0]
	for _, s := range h.samples[1:] {
		if s < min {
			min = s
		}
	}
	h.conservative = math.Floor(min)
	h.hasConservative = true
	h.lastGood = h.conservative
	h.hasLastGood = true
}

// ConservativeRate returns floor(min(samples)) and whether any samples
// exist.
func (h *TickHistory) ConservativeRate() (float64, bool) {
	return h.conservative, h.hasConservative
}

// LastGoodRate returns the last non-empty conservative rate. It survives
// Reset and is the first fallback when the window is empty.
func (h *TickHistory) LastGoodRate() (float64, bool) {
	return h.lastGood, h.hasLastGood
}

// EffectiveRate resolves the usable rate for prediction: the current
// conservative rate, else the last good rate, else 0.
func (h *TickHistory) EffectiveRate() float64 {
	if h.hasConservative && h.conservative > 0 {
		return h.conservative
	}
	if h.hasLastGood && h.lastGood > 0 {
		return h.lastGood
	}
	return 0
}

// Samples returns a copy of the current window, oldest first.
func (h *TickHistory) Samples() []float64 {
	out := make([]float64, len(h.samples))
	copy(out, h.samples)
	return out
}

// Len returns the number of samples currently held.
func (h *TickHistory) Len() int {
	return len(h.samples)
}

// Reset clears the sample window. The last good rate is kept as fallback.
func (h *TickHistory) Reset() {
	h.samples = h.samples[:0]
	h.conservative = 0
	h.hasConservative = false
}

// Restore replaces the history contents wholesale, used when loading a
// snapshot. Samples beyond capacity keep only the newest.
func (h *TickHistory) Restore(samples []float64, lastGood float64, hasLastGood bool) {
	h.Reset()
	start := 0
	if len(samples) > h.capacity {
		start = len(samples) - h.capacity
	}
	for _, s := range samples[start:] {
		h.Insert(s)
	}
	// With no samples to recompute from, the persisted fallback carries over.
	if len(h.samples) == 0 && hasLastGood {
		h.lastGood = lastGood
		h.hasLastGood = true
	}
}
