package simulation

import (
	"time"

	"github.com/pulseworks/readycheck/pkg/engine"
	"github.com/pulseworks/readycheck/pkg/provider/synthetic"
)

// SimulationResult captures the final state of a finished run for reporting.
type SimulationResult struct {
	ScenarioName     string                  `json:"scenario_name"`
	Seed             int64                   `json:"seed"`
	Duration         time.Duration           `json:"duration"`
	TotalAttempts    uint64                  `json:"total_attempts"`
	TotalCasts       uint64                  `json:"total_casts"`
	TotalDenied      uint64                  `json:"total_denied"`
	TotalPredictions uint64                  `json:"total_predictions"`
	TotalEarly       uint64                  `json:"total_early"`
	TotalDrained     float64                 `json:"total_drained"`
	CasterStats      map[string]*CasterStats `json:"caster_stats"`
	RateErrors       map[string]float64      `json:"rate_errors,omitempty"`
	Invariants       []InvariantResult       `json:"invariants"`
	Success          bool                    `json:"success"`
}

// CasterStats groups counters by caster config name.
type CasterStats struct {
	Attempts    uint64 `json:"attempts"`
	Casts       uint64 `json:"casts"`
	Denied      uint64 `json:"denied"`
	Predictions uint64 `json:"predictions"`
	Early       uint64 `json:"early"`
}

type InvariantResult struct {
	Metric   string `json:"metric"`
	Scope    string `json:"scope"`
	Expected string `json:"expected"` // e.g. "== 0.00"
	Actual   string `json:"actual"`   // e.g. "0.0000"
	Passed   bool   `json:"passed"`
}

// Scenario declares a run: the true world, who casts what and how often,
// optional sabotage drains, and the invariants to grade at the end.
// Durations travel as seconds on the wire, like the catalog does.
type Scenario struct {
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Duration        time.Duration    `json:"-"`
	DurationSeconds float64          `json:"duration_seconds"`
	Seed            int64            `json:"seed"` // 0 means derive from the wall clock
	World           synthetic.Config `json:"world"`

	// SampleEvery is the compressed-clock polling cadence. Zero keeps the
	// engine default.
	SampleEvery        time.Duration `json:"-"`
	SampleEverySeconds float64       `json:"sample_every_seconds,omitempty"`

	Casters    []CasterConfig  `json:"casters"`
	Sabotage   *SabotageConfig `json:"sabotage,omitempty"`
	Invariants []Invariant     `json:"invariants,omitempty"`
}

// Invariant is a postcondition checked after the run.
type Invariant struct {
	Metric    string  `json:"metric"`    // "cast_rate", "denial_rate", "early_rate", "learned_rate_error"
	Condition string  `json:"condition"` // ">", ">=", "<", "<=", "=="
	Value     float64 `json:"value"`
	Scope     string  `json:"scope"` // "global", a caster name, or a pool ID for rate metrics
}

// CasterConfig declares a group of scripted button-mashers hammering one
// ability on a schedule.
type CasterConfig struct {
	Name          string           `json:"name"`
	Count         int              `json:"count"`
	AbilityID     engine.AbilityID `json:"ability_id"`
	Behavior      BehaviorType     `json:"behavior"`
	Rate          float64          `json:"rate"` // attempts per second
	Burst         int              `json:"burst,omitempty"`
	JitterSeconds float64          `json:"jitter_seconds,omitempty"`
}

type BehaviorType string

const (
	BehaviorPeriodic BehaviorType = "periodic"
	BehaviorGreedy   BehaviorType = "greedy"
	BehaviorPoisson  BehaviorType = "poisson"
	BehaviorBursty   BehaviorType = "bursty"
)

// SabotageConfig drains a pool on a fixed cadence, the way an enemy's mana
// burn would, to exercise suppression under adversarial spends.
type SabotageConfig struct {
	Enabled         bool          `json:"enabled"`
	Interval        time.Duration `json:"-"`
	IntervalSeconds float64       `json:"interval_seconds"`
	Amount          float64       `json:"amount"`
	Pool            engine.PoolID `json:"pool"`
}

// normalize resolves the seconds-denominated wire fields into durations and
// fills defaults.
func (s *Scenario) normalize() {
	if s.Duration <= 0 && s.DurationSeconds > 0 {
		s.Duration = time.Duration(s.DurationSeconds * float64(time.Second))
	}
	if s.SampleEvery <= 0 && s.SampleEverySeconds > 0 {
		s.SampleEvery = time.Duration(s.SampleEverySeconds * float64(time.Second))
	}
	if s.SampleEvery <= 0 {
		s.SampleEvery = engine.DefaultSampleInterval
	}
	if s.Sabotage != nil && s.Sabotage.Interval <= 0 && s.Sabotage.IntervalSeconds > 0 {
		s.Sabotage.Interval = time.Duration(s.Sabotage.IntervalSeconds * float64(time.Second))
	}
}
