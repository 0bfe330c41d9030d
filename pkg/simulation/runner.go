// Package simulation runs scripted combat against a synthetic world and
// grades the engine's countdowns against the world's true pool levels. The
// run is in-process and clock-compressed: a minute of combat takes
// milliseconds of wall time, and a fixed seed reproduces it exactly.
package simulation

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/pulseworks/readycheck/pkg/engine"
	"github.com/pulseworks/readycheck/pkg/provider/synthetic"
	"github.com/pulseworks/readycheck/pkg/store"
)

// caster is one scheduled stream of cast attempts. Stats are shared across
// the casters spawned from one config, keyed by the config name.
type caster struct {
	cfg   CasterConfig
	rng   *rand.Rand
	pool  engine.PoolID
	cost  float64
	stats *CasterStats

	nextAt time.Time

	// pendingDue is the one outstanding countdown, zero when none. A new
	// ask waits until the current one has been judged.
	pendingDue time.Time
}

// scheduleNext computes the attempt after one at now. Greedy casters ride
// the sample boundaries instead of a private timer.
func (c *caster) scheduleNext(now, nextSample time.Time) {
	switch c.cfg.Behavior {
	case BehaviorGreedy:
		c.nextAt = nextSample
	case BehaviorPoisson:
		lambda := c.cfg.Rate
		if lambda <= 0 {
			lambda = 1
		}
		gap := -math.Log(1-c.rng.Float64()) / lambda
		c.nextAt = now.Add(time.Duration(gap * float64(time.Second)))
	case BehaviorBursty:
		c.nextAt = now.Add(time.Second)
	default: // periodic
		interval := time.Second
		if c.cfg.Rate > 0 {
			interval = time.Duration(float64(time.Second) / c.cfg.Rate)
		}
		if interval < 10*time.Millisecond {
			interval = 10 * time.Millisecond
		}
		if c.cfg.JitterSeconds > 0 {
			interval += time.Duration(c.rng.Float64() * c.cfg.JitterSeconds * float64(time.Second))
		}
		c.nextAt = now.Add(interval)
	}
}

type runner struct {
	scenario Scenario
	world    *synthetic.World
	eng      *engine.Engine
	smp      *engine.Sampler
	casters  []*caster
	res      *SimulationResult
	ctx      context.Context
}

// RunScenario builds the true world and a full engine stack over it, then
// drives both on a compressed clock: the world advances in exact steps, the
// sampler reads it at the configured cadence, and casters spend on their
// schedules. The journal lands in a throwaway database; a run proves
// behavior, it does not leave history behind.
func RunScenario(ctx context.Context, s Scenario) (SimulationResult, error) {
	s.normalize()
	if s.Duration <= 0 {
		return SimulationResult{}, fmt.Errorf("scenario needs a duration")
	}
	if s.Seed == 0 {
		s.Seed = time.Now().UnixNano()
	}
	if s.World.Seed == 0 {
		s.World.Seed = s.Seed
	}
	if s.Sabotage != nil && s.Sabotage.Enabled {
		if s.Sabotage.Interval <= 0 {
			return SimulationResult{}, fmt.Errorf("sabotage needs an interval")
		}
		if !hasPool(s.World, s.Sabotage.Pool) {
			return SimulationResult{}, fmt.Errorf("sabotage targets unknown pool %q", s.Sabotage.Pool)
		}
	}

	log.Printf("Running Scenario: %s (Seed: %d)", s.Name, s.Seed)

	start := time.Unix(0, 0).UTC()
	world, err := synthetic.NewWorld("sim", s.World, start)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("world: %w", err)
	}

	catalog, err := engine.NewCatalog(catalogFor(s.World))
	if err != nil {
		return SimulationResult{}, fmt.Errorf("catalog: %w", err)
	}

	dir, err := os.MkdirTemp("", "readycheck-sim-")
	if err != nil {
		return SimulationResult{}, err
	}
	defer os.RemoveAll(dir)
	st, err := store.NewStore(filepath.Join(dir, "sim.db"))
	if err != nil {
		return SimulationResult{}, fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	eng := engine.NewEngine(engine.EngineConfig{OwnerID: "sim", SampleInterval: s.SampleEvery},
		catalog, engine.NewRateProjection(0), engine.NewMemoryStateStore())
	smp := engine.NewSampler(st, eng, s.SampleEvery)
	smp.Register(world)

	res := SimulationResult{
		ScenarioName: s.Name,
		Seed:         s.Seed,
		Duration:     s.Duration,
		CasterStats:  make(map[string]*CasterStats),
	}

	r := &runner{scenario: s, world: world, eng: eng, smp: smp, res: &res, ctx: ctx}
	if err := r.setupCasters(start, start.Add(s.SampleEvery)); err != nil {
		return SimulationResult{}, err
	}

	r.run(start)

	res.RateErrors = rateErrors(s.World, eng)
	evaluateInvariants(&res, s.Invariants)
	res.Success = true
	for _, inv := range res.Invariants {
		if !inv.Passed {
			res.Success = false
			break
		}
	}

	log.Printf("Scenario %s finished: %d casts, %d denied, %d predictions (%d early)",
		s.Name, res.TotalCasts, res.TotalDenied, res.TotalPredictions, res.TotalEarly)
	return res, nil
}

func hasPool(cfg synthetic.Config, id engine.PoolID) bool {
	for _, pc := range cfg.Pools {
		if pc.ID == id {
			return true
		}
	}
	return false
}

// catalogFor derives the client-facing catalog from the world's true
// config. Fixed pools expose their tick amount, which a HUD would know;
// learned pools expose only the cadence and must earn their amounts.
func catalogFor(cfg synthetic.Config) *engine.CatalogConfig {
	out := &engine.CatalogConfig{}
	for _, pc := range cfg.Pools {
		secs := pc.TickPeriodSeconds
		if secs <= 0 && pc.TickPeriod > 0 {
			secs = pc.TickPeriod.Seconds()
		}
		winSecs := pc.WindowSeconds
		if winSecs <= 0 && pc.Window > 0 {
			winSecs = pc.Window.Seconds()
		}
		spec := engine.PoolSpec{
			ID:                pc.ID,
			Model:             pc.Model,
			TickPeriodSeconds: secs,
			WindowSeconds:     winSecs,
		}
		if pc.Model == engine.RegenFixedTick {
			spec.AmountPerTick = pc.TickAmount
		}
		out.Pools = append(out.Pools, spec)
	}
	for _, ac := range cfg.Abilities {
		out.Abilities = append(out.Abilities, engine.AbilitySpec{
			ID:   ac.ID,
			Cost: ac.Cost,
			Pool: ac.Pool,
		})
	}
	return out
}

func (r *runner) setupCasters(start, firstSample time.Time) error {
	byID := make(map[engine.AbilityID]synthetic.AbilityConfig, len(r.scenario.World.Abilities))
	for _, ac := range r.scenario.World.Abilities {
		byID[ac.ID] = ac
	}

	for idx, cfg := range r.scenario.Casters {
		ability, ok := byID[cfg.AbilityID]
		if !ok {
			return fmt.Errorf("caster %s casts unknown ability %q", cfg.Name, cfg.AbilityID)
		}
		count := cfg.Count
		if count < 1 {
			count = 1
		}
		stats, ok := r.res.CasterStats[cfg.Name]
		if !ok {
			stats = &CasterStats{}
			r.res.CasterStats[cfg.Name] = stats
		}
		for i := 0; i < count; i++ {
			c := &caster{
				cfg:   cfg,
				rng:   rand.New(rand.NewSource(r.scenario.Seed + int64(idx*1000) + int64(i))),
				pool:  ability.Pool,
				cost:  ability.Cost,
				stats: stats,
			}
			c.scheduleNext(start, firstSample)
			r.casters = append(r.casters, c)
		}
	}
	return nil
}

// run drives the clock to the end of the scenario. The world only ever
// advances to the exact instant of the next scheduled thing, so casts,
// drains, and countdown deadlines land on their true times instead of the
// nearest step. Order within one instant is fixed: due countdowns are
// judged first, then sabotage lands, then the sampler reads, then casters
// act on the freshest engine state.
func (r *runner) run(start time.Time) {
	now := start
	end := start.Add(r.scenario.Duration)
	nextSample := start.Add(r.scenario.SampleEvery)

	var nextDrain time.Time
	sab := r.scenario.Sabotage
	if sab != nil && sab.Enabled {
		nextDrain = start.Add(sab.Interval)
	}

	for now.Before(end) {
		if r.ctx.Err() != nil {
			return
		}

		next := nextSample
		if !nextDrain.IsZero() && nextDrain.Before(next) {
			next = nextDrain
		}
		for _, c := range r.casters {
			if c.nextAt.Before(next) {
				next = c.nextAt
			}
			if !c.pendingDue.IsZero() && c.pendingDue.Before(next) {
				next = c.pendingDue
			}
		}
		if next.After(end) {
			next = end
		}

		r.world.Advance(next.Sub(now))
		now = next

		r.resolveDue(now)

		if !nextDrain.IsZero() && !now.Before(nextDrain) {
			if err := r.world.Drain(sab.Pool, sab.Amount); err == nil {
				r.res.TotalDrained += sab.Amount
				r.cancelPending(sab.Pool)
			}
			nextDrain = nextDrain.Add(sab.Interval)
		}

		if !now.Before(nextSample) {
			r.smp.Sample(r.ctx, now)
			nextSample = nextSample.Add(r.scenario.SampleEvery)
		}

		for _, c := range r.casters {
			if now.Before(c.nextAt) {
				continue
			}
			n := 1
			if c.cfg.Behavior == BehaviorBursty && c.cfg.Burst > 1 {
				n = c.cfg.Burst
			}
			for k := 0; k < n; k++ {
				r.attempt(c, now)
			}
			c.scheduleNext(now, nextSample)
		}
	}
}

// attempt is one button press. A denial asks the engine for a countdown,
// which is then held until its due time and judged against the true pool
// level, not the engine's belief.
func (r *runner) attempt(c *caster, now time.Time) {
	r.res.TotalAttempts++
	c.stats.Attempts++

	ok, err := r.world.Cast(c.cfg.AbilityID)
	if err != nil {
		return
	}
	if ok {
		r.res.TotalCasts++
		c.stats.Casts++
		r.cancelPending(c.pool)
		r.drainNotices()
		// A cast triggers an immediate extra sample, standing in for the
		// kick a cast notice gives the daemon's sampler.
		r.smp.Sample(r.ctx, now)
		return
	}

	r.res.TotalDenied++
	c.stats.Denied++

	if !c.pendingDue.IsZero() {
		return
	}
	// Ask the way the HUD does: with the on-screen reading, so the engine
	// can heal a spend the sampler has not seen yet.
	var fresher *engine.PoolReading
	if cur, ok := r.poolLevels()[c.pool]; ok {
		fresher = &engine.PoolReading{PoolID: c.pool, Current: cur}
	}
	pred, err := r.eng.TimeUntilAffordable(now, c.cfg.AbilityID, fresher)
	if err != nil || pred.Wait <= 0 {
		return
	}
	// Heuristic countdowns are guesses by construction and are not held to
	// the late-only promise.
	if pred.Basis != engine.BasisTick && pred.Basis != engine.BasisLearned {
		return
	}
	c.pendingDue = now.Add(pred.Wait)
	r.res.TotalPredictions++
	c.stats.Predictions++
}

// resolveDue judges every countdown whose time arrived. The promise is that
// regeneration alone covers the cost by the predicted instant; short means
// the engine called it early.
func (r *runner) resolveDue(now time.Time) {
	var levels map[engine.PoolID]float64

	for _, c := range r.casters {
		if c.pendingDue.IsZero() || now.Before(c.pendingDue) {
			continue
		}
		if levels == nil {
			levels = r.poolLevels()
		}
		if levels[c.pool]+1e-9 < c.cost {
			r.res.TotalEarly++
			c.stats.Early++
		}
		c.pendingDue = time.Time{}
	}
}

// cancelPending voids countdowns on a pool after a fresh spend. A countdown
// assumes no further spending; once that breaks, judging it would grade a
// promise nobody made.
func (r *runner) cancelPending(pool engine.PoolID) {
	for _, c := range r.casters {
		if c.pool == pool && !c.pendingDue.IsZero() {
			c.pendingDue = time.Time{}
		}
	}
}

// drainNotices keeps the world's notice channel from filling. The runner
// samples right after each cast, which is everything a notice would buy.
func (r *runner) drainNotices() {
	for {
		select {
		case <-r.world.Notices():
		default:
			return
		}
	}
}

func (r *runner) poolLevels() map[engine.PoolID]float64 {
	readings, err := r.world.Read(r.ctx)
	if err != nil {
		return map[engine.PoolID]float64{}
	}
	levels := make(map[engine.PoolID]float64, len(readings))
	for _, rd := range readings {
		levels[rd.PoolID] = rd.Current
	}
	return levels
}

// rateErrors compares what the engine learned against the world's true
// per-tick amounts, as a relative error per learned pool. A pool the engine
// never rated scores 1: everything was missed.
func rateErrors(cfg synthetic.Config, eng *engine.Engine) map[string]float64 {
	errs := make(map[string]float64)
	for _, pc := range cfg.Pools {
		if pc.Model != engine.RegenLearned || pc.TickAmount <= 0 {
			continue
		}
		learned, ok := eng.Rates().EffectiveRate(pc.ID, engine.PhaseSustained)
		if !ok || learned <= 0 {
			errs[string(pc.ID)] = 1
			continue
		}
		errs[string(pc.ID)] = math.Abs(pc.TickAmount-learned) / pc.TickAmount
	}
	return errs
}

// evaluateInvariants grades the run. Scope selects the counters: "global"
// or empty for the totals, a caster name for one group, or a pool ID for
// learned_rate_error.
func evaluateInvariants(res *SimulationResult, invariants []Invariant) {
	for _, inv := range invariants {
		var actual float64
		known := true

		switch inv.Metric {
		case "learned_rate_error":
			e, ok := res.RateErrors[inv.Scope]
			if !ok {
				known = false
			}
			actual = e

		case "cast_rate", "denial_rate", "early_rate":
			var stats *CasterStats
			if inv.Scope == "global" || inv.Scope == "" {
				stats = &CasterStats{
					Attempts:    res.TotalAttempts,
					Casts:       res.TotalCasts,
					Denied:      res.TotalDenied,
					Predictions: res.TotalPredictions,
					Early:       res.TotalEarly,
				}
			} else if s, ok := res.CasterStats[inv.Scope]; ok {
				stats = s
			} else {
				known = false
			}
			if known {
				switch inv.Metric {
				case "cast_rate":
					if stats.Attempts > 0 {
						actual = float64(stats.Casts) / float64(stats.Attempts)
					}
				case "denial_rate":
					if stats.Attempts > 0 {
						actual = float64(stats.Denied) / float64(stats.Attempts)
					}
				case "early_rate":
					if stats.Predictions > 0 {
						actual = float64(stats.Early) / float64(stats.Predictions)
					}
				}
			}

		default:
			known = false
		}

		if !known {
			res.Invariants = append(res.Invariants, InvariantResult{
				Metric: inv.Metric, Scope: inv.Scope,
				Expected: fmt.Sprintf("%s %.2f", inv.Condition, inv.Value),
				Actual:   "N/A", Passed: false,
			})
			continue
		}

		var passed bool
		switch inv.Condition {
		case ">":
			passed = actual > inv.Value
		case ">=":
			passed = actual >= inv.Value
		case "<":
			passed = actual < inv.Value
		case "<=":
			passed = actual <= inv.Value
		case "==":
			passed = math.Abs(actual-inv.Value) < 0.0001
		}

		res.Invariants = append(res.Invariants, InvariantResult{
			Metric:   inv.Metric,
			Scope:    inv.Scope,
			Expected: fmt.Sprintf("%s %.2f", inv.Condition, inv.Value),
			Actual:   fmt.Sprintf("%.4f", actual),
			Passed:   passed,
		})
	}
}
