// Package synthetic implements a self-contained combat world. Pools
// regenerate by their true server-side rules: periodic ticks, a real
// suppression window after every spend, and random gain events for
// event-driven pools. The engine only ever sees the readings, never the
// rules, which makes the world the reference against which learned rates
// and predictions can be judged.
package synthetic

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pulseworks/readycheck/pkg/engine"
)

// PoolConfig declares one pool's true behavior.
type PoolConfig struct {
	ID    engine.PoolID     `json:"id"`
	Model engine.RegenModel `json:"model"`
	Max   float64           `json:"max"`
	Start float64           `json:"start"`

	// Periodic pools.
	TickPeriod           time.Duration `json:"-"`
	TickPeriodSeconds    float64       `json:"tick_period_seconds,omitempty"`
	TickAmount           float64       `json:"tick_amount,omitempty"`
	SuppressedTickAmount float64       `json:"suppressed_tick_amount,omitempty"`

	// Window is how long a spend suppresses regeneration. Zero means
	// spends do not affect regen (fixed-tick pools).
	Window        time.Duration `json:"-"`
	WindowSeconds float64       `json:"window_seconds,omitempty"`

	// Event-driven pools.
	EventRate float64 `json:"event_rate,omitempty"` // expected gains per second
	EventMin  float64 `json:"event_min,omitempty"`
	EventMax  float64 `json:"event_max,omitempty"`
}

// AbilityConfig declares a castable ability.
type AbilityConfig struct {
	ID   engine.AbilityID `json:"id"`
	Pool engine.PoolID    `json:"pool"`
	Cost float64          `json:"cost"`
}

// Config declares a whole world. Seed fixes the random stream so runs are
// reproducible.
type Config struct {
	Seed      int64           `json:"seed"`
	Pools     []PoolConfig    `json:"pools"`
	Abilities []AbilityConfig `json:"abilities"`
}

type poolState struct {
	cfg       PoolConfig
	current   float64
	nextTick  time.Time
	lastSpend time.Time
	hasSpend  bool
}

// World holds the true state and advances it on an explicit clock, so the
// simulator can compress time and tests stay deterministic.
type World struct {
	id string

	mu        sync.Mutex
	now       time.Time
	rng       *rand.Rand
	order     []engine.PoolID
	pools     map[engine.PoolID]*poolState
	abilities map[engine.AbilityID]AbilityConfig
	notices   chan engine.CastNotice
}

// NewWorld builds a world from cfg, anchored at start.
func NewWorld(id string, cfg Config, start time.Time) (*World, error) {
	if len(cfg.Pools) == 0 {
		return nil, fmt.Errorf("world needs at least one pool")
	}

	w := &World{
		id:        id,
		now:       start,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		pools:     make(map[engine.PoolID]*poolState),
		abilities: make(map[engine.AbilityID]AbilityConfig),
		notices:   make(chan engine.CastNotice, 16),
	}

	for _, pc := range cfg.Pools {
		if pc.ID == "" {
			return nil, fmt.Errorf("pool with empty id")
		}
		if _, dup := w.pools[pc.ID]; dup {
			return nil, fmt.Errorf("duplicate pool %s", pc.ID)
		}
		if pc.TickPeriod <= 0 && pc.TickPeriodSeconds > 0 {
			pc.TickPeriod = time.Duration(pc.TickPeriodSeconds * float64(time.Second))
		}
		if pc.Window <= 0 && pc.WindowSeconds > 0 {
			pc.Window = time.Duration(pc.WindowSeconds * float64(time.Second))
		}
		switch pc.Model {
		case engine.RegenFixedTick, engine.RegenLearned:
			if pc.TickPeriod <= 0 || pc.TickAmount <= 0 {
				return nil, fmt.Errorf("pool %s needs tick period and amount", pc.ID)
			}
		case engine.RegenEventDriven:
			if pc.EventMax < pc.EventMin || pc.EventMin < 0 {
				return nil, fmt.Errorf("pool %s has invalid event amounts", pc.ID)
			}
		default:
			return nil, fmt.Errorf("pool %s has unknown model %q", pc.ID, pc.Model)
		}

		ps := &poolState{cfg: pc, current: pc.Start}
		if pc.TickPeriod > 0 {
			ps.nextTick = start.Add(pc.TickPeriod)
		}
		w.pools[pc.ID] = ps
		w.order = append(w.order, pc.ID)
	}

	for _, ac := range cfg.Abilities {
		if _, ok := w.pools[ac.Pool]; !ok {
			return nil, fmt.Errorf("ability %s references unknown pool %s", ac.ID, ac.Pool)
		}
		w.abilities[ac.ID] = ac
	}

	return w, nil
}

func (w *World) ID() string {
	return w.id
}

// Now returns the world clock.
func (w *World) Now() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now
}

// Notices delivers cast notices for wiring into the engine.
func (w *World) Notices() <-chan engine.CastNotice {
	return w.notices
}

// Advance moves the world clock forward by delta, applying every tick and
// random event that falls in the span.
func (w *World) Advance(delta time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	target := w.now.Add(delta)
	for _, id := range w.order {
		ps := w.pools[id]
		switch ps.cfg.Model {
		case engine.RegenFixedTick, engine.RegenLearned:
			w.advanceTicks(ps, target)
		case engine.RegenEventDriven:
			w.advanceEvents(ps, delta)
		}
	}
	w.now = target
}

// advanceTicks applies every tick due up to target. A tick strictly inside
// the suppression window regenerates the suppressed amount; a tick exactly
// on the window boundary is already back at full rate.
func (w *World) advanceTicks(ps *poolState, target time.Time) {
	for !ps.nextTick.After(target) {
		amount := ps.cfg.TickAmount
		if ps.cfg.Window > 0 && ps.hasSpend && ps.nextTick.Before(ps.lastSpend.Add(ps.cfg.Window)) {
			amount = ps.cfg.SuppressedTickAmount
		}
		ps.current += amount
		if ps.cfg.Max > 0 && ps.current > ps.cfg.Max {
			ps.current = ps.cfg.Max
		}
		ps.nextTick = ps.nextTick.Add(ps.cfg.TickPeriod)
	}
}

// advanceEvents applies random gains for an event-driven pool over delta.
func (w *World) advanceEvents(ps *poolState, delta time.Duration) {
	expected := ps.cfg.EventRate * delta.Seconds()
	n := int(expected)
	if w.rng.Float64() < expected-float64(n) {
		n++
	}
	for i := 0; i < n; i++ {
		gain := ps.cfg.EventMin + w.rng.Float64()*(ps.cfg.EventMax-ps.cfg.EventMin)
		ps.current += gain
		if ps.cfg.Max > 0 && ps.current > ps.cfg.Max {
			ps.current = ps.cfg.Max
		}
	}
}

// Cast attempts an ability. It returns false without error when the pool
// cannot afford the cost. A successful cast deducts the cost, starts the
// pool's suppression window, and emits a cast notice.
func (w *World) Cast(abilityID engine.AbilityID) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ability, ok := w.abilities[abilityID]
	if !ok {
		return false, fmt.Errorf("unknown ability %s", abilityID)
	}
	ps := w.pools[ability.Pool]
	if ps.current < ability.Cost {
		return false, nil
	}

	ps.current -= ability.Cost
	if ps.cfg.Window > 0 {
		ps.lastSpend = w.now
		ps.hasSpend = true
	}

	select {
	case w.notices <- engine.CastNotice{AbilityID: abilityID, At: w.now}:
	default:
	}
	return true, nil
}

// Drain removes an amount from a pool without a cast, like an enemy's
// drain effect. Drains start the suppression window too: the server does
// not care who emptied the pool.
func (w *World) Drain(poolID engine.PoolID, amount float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ps, ok := w.pools[poolID]
	if !ok {
		return fmt.Errorf("unknown pool %s", poolID)
	}
	ps.current -= amount
	if ps.current < 0 {
		ps.current = 0
	}
	if ps.cfg.Window > 0 {
		ps.lastSpend = w.now
		ps.hasSpend = true
	}
	return nil
}

// Grant adds an amount to a pool outside the regen rules, like a potion.
func (w *World) Grant(poolID engine.PoolID, amount float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ps, ok := w.pools[poolID]
	if !ok {
		return fmt.Errorf("unknown pool %s", poolID)
	}
	ps.current += amount
	if ps.cfg.Max > 0 && ps.current > ps.cfg.Max {
		ps.current = ps.cfg.Max
	}
	return nil
}

// Read returns a snapshot of every pool, in declaration order.
func (w *World) Read(ctx context.Context) ([]engine.PoolReading, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	readings := make([]engine.PoolReading, 0, len(w.order))
	for _, id := range w.order {
		ps := w.pools[id]
		readings = append(readings, engine.PoolReading{
			PoolID:  id,
			Current: ps.current,
			Max:     ps.cfg.Max,
		})
	}
	return readings, nil
}

// Run advances the world on the wall clock until the context ends. It is
// the demo-mode driver; the simulator advances the world itself.
func (w *World) Run(ctx context.Context, step time.Duration) {
	if step <= 0 {
		step = 100 * time.Millisecond
	}
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Advance(step)
		}
	}
}
