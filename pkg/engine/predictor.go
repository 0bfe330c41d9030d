package engine

import (
	"math"
	"time"
)

const (
	// DefaultTickRegisterBuffer absorbs the gap between a tick timer
	// reaching zero and the gain actually showing up in a sampled pool.
	DefaultTickRegisterBuffer = 150 * time.Millisecond

	// DefaultSafetyFraction is added to the needed amount (as a fraction
	// of the rate) before each ceil so learned predictions round late,
	// never early.
	DefaultSafetyFraction = 0.05

	// DefaultHeuristicFraction approximates an unobserved sustained regen
	// rate as a fraction of the max pool, for pools with no history yet.
	DefaultHeuristicFraction = 0.02
)

// Prediction bases name which rate source produced a wait time.
const (
	BasisAffordable = "affordable" // nothing needed, no wait
	BasisTick       = "tick"       // fixed per-tick amount from the oracle
	BasisLearned    = "learned"    // observed conservative rate
	BasisHeuristic  = "heuristic"  // max-pool fraction, no history yet
	BasisNone       = "none"       // no prediction possible
)

// PredictionInput carries everything one affordability query needs,
// resolved by the engine from catalog, window, and learned-rate state.
type PredictionInput struct {
	Model   RegenModel
	Needed  float64
	MaxPool float64

	WindowActive bool
	WindowLeft   time.Duration

	// Resolved per-tick rates for learned pools; 0 means never observed.
	RateSuppressed float64
	RateSustained  float64

	Oracle TickOracle
}

// Predictor converts "amount still needed" into "time until affordable"
// using the strategy matching the pool's regen model. Every path degrades
// on missing data instead of failing: a HUD that stops rendering is worse
// than one that shows no countdown.
type Predictor struct {
	Buffer            time.Duration
	SafetyFraction    float64
	HeuristicFraction float64
}

// NewPredictor creates a predictor with the default tuning.
func NewPredictor() *Predictor {
	return &Predictor{
		Buffer:            DefaultTickRegisterBuffer,
		SafetyFraction:    DefaultSafetyFraction,
		HeuristicFraction: DefaultHeuristicFraction,
	}
}

// TimeUntilAffordable returns the wait until the pool can cover the needed
// amount, plus the basis the estimate was computed on. A zero wait with
// BasisNone means "no prediction available", which callers render as an
// untimed indicator.
func (p *Predictor) TimeUntilAffordable(now time.Time, in PredictionInput) (time.Duration, string) {
	if in.Needed <= 0 {
		return 0, BasisAffordable
	}

	switch in.Model {
	case RegenFixedTick:
		return p.fixedTick(now, in)
	case RegenLearned:
		return p.learned(now, in)
	default:
		// Event-driven pools regenerate on gameplay, not on a clock.
		return 0, BasisNone
	}
}

// fixedTick handles pools that tick by a known amount at a known period,
// regardless of the suppression window.
func (p *Predictor) fixedTick(now time.Time, in PredictionInput) (time.Duration, string) {
	if in.Oracle == nil {
		return 0, BasisNone
	}
	per := in.Oracle.ExpectedAmountPerTick()
	if per <= 0 {
		return 0, BasisNone
	}

	ticks := int(math.Ceil(in.Needed / per))
	if ticks < 1 {
		ticks = 1
	}

	wait := in.Oracle.UntilNextTick(now)
	if ticks > 1 {
		wait += time.Duration(ticks-1) * in.Oracle.NominalTickPeriod()
	}
	return wait + p.Buffer, BasisTick
}

// learned handles pools whose per-tick amounts are only known from
// observation and whose rate drops inside the suppression window.
func (p *Predictor) learned(now time.Time, in PredictionInput) (time.Duration, string) {
	if in.Oracle == nil {
		return 0, BasisNone
	}
	period := in.Oracle.NominalTickPeriod()
	if period <= 0 {
		return 0, BasisNone
	}

	if in.RateSustained <= 0 {
		return p.heuristic(now, in, period)
	}

	gainedInWindow := 0.0
	if in.WindowActive && in.RateSuppressed > 0 {
		// Walk the ticks that land inside the remaining window. If they
		// cover the need on their own, the answer lies entirely in the
		// suppressed phase.
		first := in.Oracle.UntilNextTick(now)
		for t := first; t < in.WindowLeft; t += period {
			gainedInWindow += in.RateSuppressed
			if gainedInWindow >= in.Needed {
				ticks := p.ticksWithMargin(in.Needed, in.RateSuppressed)
				wait := first + time.Duration(ticks-1)*period
				return wait + p.Buffer, BasisLearned
			}
		}
	}

	stillNeeded := in.Needed - gainedInWindow
	ticksAfter := p.ticksWithMargin(stillNeeded, in.RateSustained)
	wait := in.Oracle.UntilFirstTickAfter(now, p.windowGap(in))
	wait += time.Duration(ticksAfter-1) * period
	return wait + p.Buffer, BasisLearned
}

// heuristic covers the cold start: nothing observed yet, so assume the
// sustained rate is a small fraction of the max pool and time ticks from
// the first full-phase boundary.
func (p *Predictor) heuristic(now time.Time, in PredictionInput, period time.Duration) (time.Duration, string) {
	if in.MaxPool <= 0 {
		return 0, BasisNone
	}
	rate := p.HeuristicFraction * in.MaxPool
	if rate <= 0 {
		return 0, BasisNone
	}

	ticks := p.ticksWithMargin(in.Needed, rate)
	wait := in.Oracle.UntilFirstTickAfter(now, p.windowGap(in))
	wait += time.Duration(ticks-1) * period
	return wait + p.Buffer, BasisHeuristic
}

// ticksWithMargin computes how many ticks at rate cover needed, padding
// the need by a fraction of one tick before rounding up.
func (p *Predictor) ticksWithMargin(needed, rate float64) int {
	n := int(math.Ceil((needed + p.SafetyFraction*rate) / rate))
	if n < 1 {
		n = 1
	}
	return n
}

// windowGap returns the remaining suppression time, or 0 when the window
// is closed.
func (p *Predictor) windowGap(in PredictionInput) time.Duration {
	if in.WindowActive {
		return in.WindowLeft
	}
	return 0
}
