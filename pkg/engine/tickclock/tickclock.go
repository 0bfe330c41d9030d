// Package tickclock tracks the phase of a pool's periodic regeneration so
// that "time until the next tick" stays answerable even when ticks are not
// directly observable (pool at cap, no recent gains). The clock anchors on
// the most recently confirmed tick and projects boundaries forward from it.
package tickclock

import "time"

// Clock answers tick-timing queries for a single resource pool. It is not
// safe for concurrent use; the engine serializes access.
type Clock struct {
	amountPerTick float64
	period        time.Duration
	anchor        time.Time // last confirmed tick boundary; zero until synchronized
}

// New creates a clock for a pool that ticks every period. amountPerTick may
// be 0 for pools whose per-tick amount is learned rather than fixed.
func New(amountPerTick float64, period time.Duration) *Clock {
	return &Clock{
		amountPerTick: amountPerTick,
		period:        period,
	}
}

// ExpectedAmountPerTick returns the fixed per-tick gain, or 0 when the
// amount is not analytically known.
func (c *Clock) ExpectedAmountPerTick() float64 {
	return c.amountPerTick
}

// NominalTickPeriod returns the configured tick interval.
func (c *Clock) NominalTickPeriod() time.Duration {
	return c.period
}

// Synchronized reports whether at least one tick has been observed.
func (c *Clock) Synchronized() bool {
	return !c.anchor.IsZero()
}

// NotifyTickObserved aligns the clock to a tick confirmed at ts. Later
// boundaries are projected as ts + k*period. Out-of-order hints older than
// the current anchor are ignored.
func (c *Clock) NotifyTickObserved(ts time.Time) {
	if ts.After(c.anchor) {
		c.anchor = ts
	}
}

// UntilNextTick returns the time from now until the next projected tick
// boundary. Unsynchronized clocks report a full period, which errs toward
// predicting late rather than early. A query landing exactly on a boundary
// reports a full period: that tick is considered already delivered.
func (c *Clock) UntilNextTick(now time.Time) time.Duration {
	if c.period <= 0 {
		return 0
	}
	if c.anchor.IsZero() || !now.After(c.anchor) {
		return c.period
	}
	elapsed := now.Sub(c.anchor)
	into := elapsed % c.period
	if into == 0 {
		return c.period
	}
	return c.period - into
}

// UntilFirstTickAfter returns the time from now until the first tick
// boundary that lands at or after now+gap. With gap 0 this is simply the
// next tick. Used to find the first full-rate tick after a suppression
// window closes.
func (c *Clock) UntilFirstTickAfter(now time.Time, gap time.Duration) time.Duration {
	if c.period <= 0 {
		return gap
	}
	next := c.UntilNextTick(now)
	for next < gap {
		next += c.period
	}
	return next
}
