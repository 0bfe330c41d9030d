package engine

import "time"

// TickOracle supplies tick timing for one pool: when the next regen event
// lands and how large a fixed tick is expected to be. The estimator feeds
// observed ticks back through NotifyTickObserved so the oracle's phase
// stays aligned with reality.
//
// Implementations must degrade rather than fail: an unsynchronized oracle
// reports a full period, never an error.
type TickOracle interface {
	// ExpectedAmountPerTick returns the fixed per-tick gain, or 0 when
	// the amount is only learnable from observation.
	ExpectedAmountPerTick() float64

	// NominalTickPeriod returns the tick interval.
	NominalTickPeriod() time.Duration

	// UntilNextTick returns the time until the next projected tick.
	UntilNextTick(now time.Time) time.Duration

	// UntilFirstTickAfter returns the time until the first tick landing
	// at or after now+gap, used to find the first full-rate tick once a
	// suppression window closes.
	UntilFirstTickAfter(now time.Time, gap time.Duration) time.Duration

	// NotifyTickObserved synchronizes the oracle to a confirmed tick.
	NotifyTickObserved(ts time.Time)
}
