package engine

import "time"

const (
	// DefaultSpikeFraction filters windfall gains (potions, drain effects):
	// any single gain above this fraction of the max pool is excluded from
	// rate learning.
	DefaultSpikeFraction = 0.10

	// DefaultNoiseFraction filters sub-tick jitter: gains below this
	// fraction of the max pool are ignored outright.
	DefaultNoiseFraction = 0.003
)

// ObservationKind classifies what a single pool sample revealed.
type ObservationKind string

const (
	ObservationNone  ObservationKind = "none"  // no change, or change too ambiguous to classify
	ObservationSeed  ObservationKind = "seed"  // first sample for this pool
	ObservationSpend ObservationKind = "spend" // pool decreased
	ObservationTick  ObservationKind = "tick"  // candidate regen tick
	ObservationSpike ObservationKind = "spike" // windfall gain, timing only
	ObservationNoise ObservationKind = "noise" // gain below the noise floor
)

// Observation is the estimator's verdict on one sample. The sampler turns
// these into journal events and status updates.
type Observation struct {
	Kind       ObservationKind `json:"kind"`
	PoolID     PoolID          `json:"pool_id"`
	Amount     float64         `json:"amount,omitempty"`   // gain or spend magnitude
	Fraction   float64         `json:"fraction,omitempty"` // gain / max, gains only
	Suppressed bool            `json:"suppressed"`         // window phase at tick time
	Recorded   bool            `json:"recorded"`           // amount trustworthy for rate learning
	Current    float64         `json:"current"`
	Max        float64         `json:"max"`
	At         time.Time       `json:"at"`
}

// RateEstimator converts a stream of periodic pool readings into classified
// observations: spends arm the suppression window, gains are split into
// genuine regen ticks, filtered spikes, and noise. It owns the last two
// readings for its pool and the inferred tick clock bookkeeping; only the
// sampling driver may call Observe.
type RateEstimator struct {
	poolID PoolID
	window *SpendWindow
	oracle TickOracle

	spikeFraction float64
	noiseFraction float64

	// previous and prior are the last two samples. A gain is only trusted
	// for rate learning if the pool was not being spent between them.
	previous float64
	prior    float64
	seeded   bool

	lastTick time.Time
}

// NewRateEstimator creates an estimator for one pool. Zero thresholds fall
// back to the defaults.
func NewRateEstimator(poolID PoolID, window *SpendWindow, oracle TickOracle, spikeFraction, noiseFraction float64) *RateEstimator {
	if spikeFraction <= 0 {
		spikeFraction = DefaultSpikeFraction
	}
	if noiseFraction <= 0 {
		noiseFraction = DefaultNoiseFraction
	}
	return &RateEstimator{
		poolID:        poolID,
		window:        window,
		oracle:        oracle,
		spikeFraction: spikeFraction,
		noiseFraction: noiseFraction,
	}
}

// Observe processes one pool sample and returns its classification. It
// must be called for every sample, including unchanged ones: the reading
// shift and the capped-pool clock advance both depend on it.
func (e *RateEstimator) Observe(now time.Time, current, max float64) Observation {
	if !e.seeded {
		e.previous = current
		e.prior = current
		e.seeded = true
		return Observation{Kind: ObservationSeed, PoolID: e.poolID, Current: current, Max: max, At: now}
	}

	obs := Observation{Kind: ObservationNone, PoolID: e.poolID, Current: current, Max: max, At: now}

	switch {
	case current < e.previous:
		// Any decrease arms the window. Spends by the player and drains
		// by external effects are indistinguishable here.
		e.window.Arm(now)
		obs.Kind = ObservationSpend
		obs.Amount = e.previous - current
	case current > e.previous:
		obs = e.classifyGain(now, current, max)
	}

	if max > 0 && current >= max {
		e.advanceThroughCap(now)
	}

	e.prior = e.previous
	e.previous = current
	return obs
}

// classifyGain sorts an observed gain into tick, spike, or noise.
func (e *RateEstimator) classifyGain(now time.Time, current, max float64) Observation {
	gain := current - e.previous
	obs := Observation{Kind: ObservationNone, PoolID: e.poolID, Amount: gain, Current: current, Max: max, At: now}
	if max <= 0 {
		// No pool bounds, no way to judge the gain.
		return obs
	}

	frac := gain / max
	obs.Fraction = frac

	switch {
	case frac > e.spikeFraction:
		// Windfall: a tick boundary passed, but the amount would corrupt
		// the learned rate.
		e.markTick(now)
		obs.Kind = ObservationSpike
	case frac < e.noiseFraction:
		obs.Kind = ObservationNoise
	default:
		e.markTick(now)
		obs.Kind = ObservationTick
		obs.Suppressed = e.window.Active(now)
		// A sample taken mid-spend can show tick minus partial spend.
		// Only a pool that sat passive across the prior interval yields a
		// trustworthy amount.
		obs.Recorded = e.previous >= e.prior
	}
	return obs
}

func (e *RateEstimator) markTick(now time.Time) {
	e.lastTick = now
	if e.oracle != nil {
		e.oracle.NotifyTickObserved(now)
	}
}

// advanceThroughCap keeps the tick clock current while the pool sits at
// max and ticks produce no visible delta. Without this the clock would be
// stale by the whole capped stretch once the pool drops below max again.
func (e *RateEstimator) advanceThroughCap(now time.Time) {
	if e.lastTick.IsZero() || e.oracle == nil {
		return
	}
	period := e.oracle.NominalTickPeriod()
	if period <= 0 {
		return
	}
	advanced := false
	for now.Sub(e.lastTick) > period {
		e.lastTick = e.lastTick.Add(period)
		advanced = true
	}
	if advanced {
		e.oracle.NotifyTickObserved(e.lastTick)
	}
}

// LastTickAt returns the time of the last confirmed or inferred tick.
func (e *RateEstimator) LastTickAt() time.Time {
	return e.lastTick
}

// LastReading returns the most recent sample seen, and false before the
// first sample.
func (e *RateEstimator) LastReading() (float64, bool) {
	return e.previous, e.seeded
}
