package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/pulseworks/readycheck/pkg/engine/tickclock"
)

// poolRuntime is the per-pool mutable state: the suppression window, the
// estimator feeding off samples, and the tick clock. The sampler is the
// only writer; prediction reads may arm the window but touch nothing else.
type poolRuntime struct {
	spec      PoolSpec
	window    *SpendWindow
	estimator *RateEstimator
	oracle    TickOracle

	// lastKnown carries the latest reading for pools without an estimator
	// (event-driven); estimator pools keep theirs in the estimator.
	lastKnown float64
	lastMax   float64
	lastSeen  time.Time
}

// Engine composes the catalog, the per-pool estimation state, the learned
// rates, and the predictor behind the three operations clients ask for:
// seconds until affordable, suppression state, and pool status. One Engine
// instance serves one owner; all dependencies are injected.
type Engine struct {
	cfg       EngineConfig
	catalog   *Catalog
	rates     *RateProjection
	states    StateStore
	predictor *Predictor

	mu       sync.RWMutex
	runtimes map[PoolID]*poolRuntime

	kick chan CastNotice
}

// NewEngine creates an engine over a catalog. rates and states may be
// shared with snapshot and mirror machinery; both must be non-nil.
func NewEngine(cfg EngineConfig, catalog *Catalog, rates *RateProjection, states StateStore) *Engine {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	pred := NewPredictor()
	if cfg.Buffer > 0 {
		pred.Buffer = cfg.Buffer
	}
	if cfg.SafetyFraction > 0 {
		pred.SafetyFraction = cfg.SafetyFraction
	}
	if cfg.HeuristicRate > 0 {
		pred.HeuristicFraction = cfg.HeuristicRate
	}

	return &Engine{
		cfg:       cfg,
		catalog:   catalog,
		rates:     rates,
		states:    states,
		predictor: pred,
		runtimes:  make(map[PoolID]*poolRuntime),
		kick:      make(chan CastNotice, 8),
	}
}

// Catalog returns the ability/pool catalog the engine serves.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Rates returns the learned-rate projection backing this engine.
func (e *Engine) Rates() *RateProjection {
	return e.rates
}

// Config returns the construction-time tunables.
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// runtime returns the mutable state for a pool, creating it on first use
// so pools added by a catalog reload start being tracked. Callers hold
// e.mu for writing.
func (e *Engine) runtime(poolID PoolID) *poolRuntime {
	if rt, ok := e.runtimes[poolID]; ok {
		return rt
	}
	spec, ok := e.catalog.Pool(poolID)
	if !ok {
		return nil
	}

	rt := &poolRuntime{
		spec:   spec,
		window: NewSpendWindow(spec.WindowDuration()),
	}
	if spec.Model != RegenEventDriven {
		rt.oracle = tickclock.New(spec.AmountPerTick, spec.TickPeriod())
		rt.estimator = NewRateEstimator(poolID, rt.window, rt.oracle, e.cfg.SpikeFraction, e.cfg.NoiseFraction)
	}
	e.runtimes[poolID] = rt
	return rt
}

// Observe feeds one pool reading through the estimation pipeline and
// returns the classification. Only the sampler calls this.
func (e *Engine) Observe(now time.Time, reading PoolReading) Observation {
	e.mu.Lock()
	defer e.mu.Unlock()

	rt := e.runtime(reading.PoolID)
	if rt == nil {
		return Observation{Kind: ObservationNone, PoolID: reading.PoolID, Current: reading.Current, Max: reading.Max, At: now}
	}

	seenBefore := !rt.lastSeen.IsZero()
	if reading.Max > 0 {
		rt.lastMax = reading.Max
	}
	rt.lastSeen = now
	ReadycheckPoolCurrent.WithLabelValues(string(reading.PoolID)).Set(reading.Current)

	if rt.estimator == nil {
		// Event-driven pools are tracked but never classified; a decrease
		// still arms the window so suppression queries stay truthful.
		obs := Observation{Kind: ObservationNone, PoolID: reading.PoolID, Current: reading.Current, Max: reading.Max, At: now}
		if seenBefore && reading.Current < rt.lastKnown {
			rt.window.Arm(now)
			obs.Kind = ObservationSpend
			obs.Amount = rt.lastKnown - reading.Current
		}
		rt.lastKnown = reading.Current
		return obs
	}

	return rt.estimator.Observe(now, reading.Current, reading.Max)
}

// NoticeCast queues an action-success hint. The sampler drains the queue
// and re-samples immediately; the pool delta stays the authoritative spend
// signal, so a notice for a free action changes nothing.
func (e *Engine) NoticeCast(notice CastNotice) {
	select {
	case e.kick <- notice:
	default:
		// Queue full: the sampler is already about to run.
	}
}

// Kick exposes the cast-notice queue to the sampler.
func (e *Engine) Kick() <-chan CastNotice {
	return e.kick
}

// TimeUntilAffordable answers "in how many seconds can abilityID be paid
// for". A caller-supplied fresher reading heals a spend the sampler has
// not seen yet: if it is lower than the last sample the window arms before
// predicting. The fresher reading never feeds the estimator.
func (e *Engine) TimeUntilAffordable(now time.Time, abilityID AbilityID, fresher *PoolReading) (Prediction, error) {
	cost, poolID, err := e.catalog.ResourceCost(abilityID)
	if err != nil {
		return Prediction{}, err
	}

	pred, err := e.TimeUntilAmount(now, poolID, cost, fresher)
	if err != nil {
		return Prediction{}, err
	}
	pred.AbilityID = abilityID
	ReadycheckPredictionSeconds.WithLabelValues(string(abilityID)).Set(pred.WaitSecs)
	return pred, nil
}

// TimeUntilAmount predicts when a pool will hold at least amount.
func (e *Engine) TimeUntilAmount(now time.Time, poolID PoolID, amount float64, fresher *PoolReading) (Prediction, error) {
	spec, ok := e.catalog.Pool(poolID)
	if !ok {
		return Prediction{}, fmt.Errorf("unknown pool %q", poolID)
	}

	if fresher != nil && fresher.PoolID == poolID {
		e.healFromReading(now, *fresher)
	}

	e.mu.RLock()
	rt := e.runtimes[poolID]
	var (
		current float64
		sampled bool
		maxPool float64
		input   PredictionInput
	)
	if rt != nil {
		if rt.estimator != nil {
			current, sampled = rt.estimator.LastReading()
		} else if !rt.lastSeen.IsZero() {
			current, sampled = rt.lastKnown, true
		}
		maxPool = rt.lastMax
		input.WindowActive = rt.window.Active(now)
		input.WindowLeft = rt.window.Remaining(now)
		input.Oracle = rt.oracle
	}
	e.mu.RUnlock()

	if fresher != nil && fresher.PoolID == poolID {
		current, sampled = fresher.Current, true
		if fresher.Max > 0 {
			maxPool = fresher.Max
		}
	}

	pred := Prediction{
		PoolID:     poolID,
		Model:      spec.Model,
		Needed:     amount,
		Basis:      BasisNone,
		ComputedAt: now,
	}

	if !sampled {
		// Never seen this pool; no countdown beats a wrong countdown.
		return pred, nil
	}

	needed := amount - current
	pred.Needed = needed

	// A cost above the pool ceiling can never be met by regeneration.
	if maxPool > 0 && amount > maxPool && needed > 0 {
		return pred, nil
	}

	input.Model = spec.Model
	input.Needed = needed
	input.MaxPool = maxPool
	input.RateSuppressed, input.RateSustained = e.poolRates(spec)

	wait, basis := e.predictor.TimeUntilAffordable(now, input)
	pred.Wait = wait
	pred.WaitSecs = wait.Seconds()
	pred.Basis = basis
	pred.Affordable = basis == BasisAffordable
	return pred, nil
}

// poolRates resolves the per-tick rates used for prediction: fixed pools
// use the declared amount for both phases, learned pools use what the
// projection has observed.
func (e *Engine) poolRates(spec PoolSpec) (suppressed, sustained float64) {
	switch spec.Model {
	case RegenFixedTick:
		return spec.AmountPerTick, spec.AmountPerTick
	case RegenLearned:
		return e.rates.Rates(spec.ID)
	default:
		return 0, 0
	}
}

// healFromReading arms the window when a caller-provided reading reveals a
// decrease the sampler has not registered. Arming is idempotent; sample
// state stays untouched so the single-writer rule holds.
func (e *Engine) healFromReading(now time.Time, r PoolReading) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rt := e.runtimes[r.PoolID]
	if rt == nil {
		return
	}
	var last float64
	var ok bool
	if rt.estimator != nil {
		last, ok = rt.estimator.LastReading()
	} else {
		last, ok = rt.lastKnown, !rt.lastSeen.IsZero()
	}
	if ok && r.Current < last {
		rt.window.Arm(now)
	}
}

// IsSuppressed reports whether the pool's suppression window is active.
func (e *Engine) IsSuppressed(now time.Time, poolID PoolID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rt := e.runtimes[poolID]
	if rt == nil {
		return false
	}
	return rt.window.Active(now)
}

// SuppressionRemaining returns how long the window has left, zero when
// inactive or unknown.
func (e *Engine) SuppressionRemaining(now time.Time, poolID PoolID) time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rt := e.runtimes[poolID]
	if rt == nil {
		return 0
	}
	return rt.window.Remaining(now)
}

// Status assembles the live view of one pool.
func (e *Engine) Status(now time.Time, poolID PoolID) (PoolStatus, bool) {
	spec, ok := e.catalog.Pool(poolID)
	if !ok {
		return PoolStatus{}, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	status := PoolStatus{
		OwnerID: e.cfg.OwnerID,
		PoolID:  poolID,
		Model:   spec.Model,
	}
	rt := e.runtimes[poolID]
	if rt == nil {
		return status, true
	}

	if rt.estimator != nil {
		if current, sampled := rt.estimator.LastReading(); sampled {
			status.Current = current
		}
		status.LastTickAt = rt.estimator.LastTickAt()
	} else {
		status.Current = rt.lastKnown
	}
	status.Max = rt.lastMax
	status.Suppressed = rt.window.Active(now)
	status.SuppressedForSecs = rt.window.Remaining(now).Seconds()
	status.RateSuppressed, status.RateSustained = e.poolRates(spec)
	status.LastUpdated = rt.lastSeen
	return status, true
}

// StatusAll returns the live view of every catalog pool.
func (e *Engine) StatusAll(now time.Time) []PoolStatus {
	specs := e.catalog.Pools()
	statuses := make([]PoolStatus, 0, len(specs))
	for _, spec := range specs {
		if status, ok := e.Status(now, spec.ID); ok {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

// RefreshStates pushes the current status of every pool into the state
// store. The sampler calls this once per cycle so external mirrors stay
// within one sampling interval of the truth.
func (e *Engine) RefreshStates(now time.Time) {
	if e.states == nil {
		return
	}
	for _, status := range e.StatusAll(now) {
		e.states.Set(status)
	}
}
