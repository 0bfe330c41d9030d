package simulation

import (
	"context"
	"testing"
	"time"

	"github.com/pulseworks/readycheck/pkg/engine"
	"github.com/pulseworks/readycheck/pkg/provider/synthetic"
)

// energyWorld is a rogue's energy bar: fixed 20 per 2s ticks, spends do not
// slow regeneration.
func energyWorld() synthetic.Config {
	return synthetic.Config{
		Pools: []synthetic.PoolConfig{{
			ID:         "energy",
			Model:      engine.RegenFixedTick,
			Max:        100,
			Start:      100,
			TickPeriod: 2 * time.Second,
			TickAmount: 20,
		}},
		Abilities: []synthetic.AbilityConfig{
			{ID: "sinister_strike", Pool: "energy", Cost: 45},
		},
	}
}

// manaWorld is a caster's mana bar: amounts unknown to the engine, 35 per
// 2s ticks dropping to 10 inside the 5s window after every spend.
func manaWorld() synthetic.Config {
	return synthetic.Config{
		Pools: []synthetic.PoolConfig{{
			ID:                   "mana",
			Model:                engine.RegenLearned,
			Max:                  1000,
			Start:                1000,
			TickPeriod:           2 * time.Second,
			TickAmount:           35,
			SuppressedTickAmount: 10,
			Window:               5 * time.Second,
		}},
		Abilities: []synthetic.AbilityConfig{
			{ID: "fireball", Pool: "mana", Cost: 250},
		},
	}
}

func TestScenarioFixedTickNeverEarly(t *testing.T) {
	s := Scenario{
		Name:     "rogue-mash",
		Duration: 30 * time.Second,
		Seed:     11,
		World:    energyWorld(),
		Casters: []CasterConfig{
			{Name: "rogue", Count: 1, AbilityID: "sinister_strike", Behavior: BehaviorGreedy},
		},
		Invariants: []Invariant{
			{Metric: "early_rate", Condition: "==", Value: 0, Scope: "global"},
			{Metric: "cast_rate", Condition: ">", Value: 0, Scope: "global"},
			{Metric: "denial_rate", Condition: ">", Value: 0, Scope: "rogue"},
		},
	}

	res, err := RunScenario(context.Background(), s)
	if err != nil {
		t.Fatalf("RunScenario failed: %v", err)
	}

	// 1. The rogue mashed through the whole fight
	if res.TotalCasts == 0 {
		t.Errorf("expected some casts, got none")
	}
	if res.TotalDenied == 0 {
		t.Errorf("expected some denials, got none")
	}

	// 2. Denials produced countdowns, and none of them came up short when
	// judged against the true pool
	if res.TotalPredictions == 0 {
		t.Errorf("expected countdowns after denials, got none")
	}
	if res.TotalEarly != 0 {
		t.Errorf("expected no early countdowns, got %d of %d",
			res.TotalEarly, res.TotalPredictions)
	}

	// 3. All invariants graded as passed
	if !res.Success {
		t.Errorf("expected success, invariants: %+v", res.Invariants)
	}
	if len(res.Invariants) != 3 {
		t.Fatalf("expected 3 invariant rows, got %d", len(res.Invariants))
	}
	for _, inv := range res.Invariants {
		if !inv.Passed {
			t.Errorf("invariant %s %s failed: actual %s", inv.Metric, inv.Expected, inv.Actual)
		}
	}
}

func TestScenarioLearnsTrueRates(t *testing.T) {
	s := Scenario{
		Name:     "mage-rotation",
		Duration: 90 * time.Second,
		Seed:     42,
		World:    manaWorld(),
		Casters: []CasterConfig{
			// One fireball every 8s: windows close between casts, so both
			// the suppressed and the sustained phase get observed.
			{Name: "mage", Count: 1, AbilityID: "fireball", Behavior: BehaviorPeriodic, Rate: 0.125},
		},
		Invariants: []Invariant{
			{Metric: "early_rate", Condition: "==", Value: 0, Scope: "global"},
			{Metric: "learned_rate_error", Condition: "<", Value: 0.01, Scope: "mana"},
			{Metric: "denial_rate", Condition: ">", Value: 0, Scope: "global"},
		},
	}

	res, err := RunScenario(context.Background(), s)
	if err != nil {
		t.Fatalf("RunScenario failed: %v", err)
	}

	// 1. The engine converged on the true sustained amount
	errRate, ok := res.RateErrors["mana"]
	if !ok {
		t.Fatalf("expected a rate error entry for mana")
	}
	if errRate >= 0.01 {
		t.Errorf("expected learned rate within 1%% of truth, got error %f", errRate)
	}

	// 2. Countdowns were issued on the learned basis and held up
	if res.TotalPredictions == 0 {
		t.Errorf("expected countdowns after the pool drained, got none")
	}
	if res.TotalEarly != 0 {
		t.Errorf("expected no early countdowns, got %d", res.TotalEarly)
	}

	if !res.Success {
		t.Errorf("expected success, invariants: %+v", res.Invariants)
	}
}

func TestScenarioSabotageDrains(t *testing.T) {
	s := Scenario{
		Name:     "warrior-drained",
		Duration: 30 * time.Second,
		Seed:     5,
		World: synthetic.Config{
			Pools: []synthetic.PoolConfig{{
				ID:        "rage",
				Model:     engine.RegenEventDriven,
				Max:       100,
				Start:     0,
				EventRate: 2,
				EventMin:  1,
				EventMax:  5,
			}},
			Abilities: []synthetic.AbilityConfig{
				{ID: "heroic_strike", Pool: "rage", Cost: 15},
			},
		},
		Casters: []CasterConfig{
			{Name: "warrior", Count: 1, AbilityID: "heroic_strike", Behavior: BehaviorGreedy},
		},
		Sabotage: &SabotageConfig{
			Enabled:  true,
			Interval: 7 * time.Second,
			Amount:   50,
			Pool:     "rage",
		},
		Invariants: []Invariant{
			{Metric: "early_rate", Condition: "==", Value: 0, Scope: "global"},
			{Metric: "cast_rate", Condition: ">", Value: 0, Scope: "global"},
		},
	}

	res, err := RunScenario(context.Background(), s)
	if err != nil {
		t.Fatalf("RunScenario failed: %v", err)
	}

	// 1. Four drains landed: 7s, 14s, 21s, 28s
	if res.TotalDrained != 200 {
		t.Errorf("expected 200 drained, got %f", res.TotalDrained)
	}

	// 2. Rage builds from swings, not a clock: no countdowns, ever
	if res.TotalPredictions != 0 {
		t.Errorf("expected no countdowns for an event-driven pool, got %d", res.TotalPredictions)
	}

	// 3. Casts still happened between drains
	if res.TotalCasts == 0 {
		t.Errorf("expected some casts, got none")
	}
	if !res.Success {
		t.Errorf("expected success, invariants: %+v", res.Invariants)
	}
}

func TestScenarioDeterministic(t *testing.T) {
	s := Scenario{
		Name:     "repeatable",
		Duration: 12 * time.Second,
		Seed:     99,
		World: synthetic.Config{
			Pools: []synthetic.PoolConfig{{
				ID:        "rage",
				Model:     engine.RegenEventDriven,
				Max:       100,
				Start:     20,
				EventRate: 3,
				EventMin:  1,
				EventMax:  6,
			}},
			Abilities: []synthetic.AbilityConfig{
				{ID: "heroic_strike", Pool: "rage", Cost: 15},
			},
		},
		Casters: []CasterConfig{
			{Name: "warrior", Count: 2, AbilityID: "heroic_strike", Behavior: BehaviorPoisson, Rate: 1.5},
		},
	}

	first, err := RunScenario(context.Background(), s)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := RunScenario(context.Background(), s)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if first.TotalAttempts != second.TotalAttempts ||
		first.TotalCasts != second.TotalCasts ||
		first.TotalDenied != second.TotalDenied ||
		first.TotalPredictions != second.TotalPredictions {
		t.Errorf("same seed diverged: %+v vs %+v", first, second)
	}

	w1, ok := first.CasterStats["warrior"]
	if !ok {
		t.Fatalf("expected warrior stats")
	}
	w2 := second.CasterStats["warrior"]
	if *w1 != *w2 {
		t.Errorf("same seed diverged per caster: %+v vs %+v", *w1, *w2)
	}
}

func TestScenarioValidation(t *testing.T) {
	base := func() Scenario {
		return Scenario{
			Name:     "invalid",
			Duration: 5 * time.Second,
			Seed:     1,
			World:    energyWorld(),
			Casters: []CasterConfig{
				{Name: "rogue", AbilityID: "sinister_strike", Behavior: BehaviorPeriodic, Rate: 1},
			},
		}
	}
	ctx := context.Background()

	// 1. A duration is required
	s := base()
	s.Duration = 0
	if _, err := RunScenario(ctx, s); err == nil {
		t.Errorf("expected error for missing duration")
	}

	// 2. Seconds on the wire work as well
	s = base()
	s.Duration = 0
	s.DurationSeconds = 5
	res, err := RunScenario(ctx, s)
	if err != nil {
		t.Fatalf("expected duration_seconds to be accepted: %v", err)
	}
	if res.Duration != 5*time.Second {
		t.Errorf("expected normalized duration 5s, got %v", res.Duration)
	}

	// 3. Casters must reference a world ability
	s = base()
	s.Casters[0].AbilityID = "shadowstep"
	if _, err := RunScenario(ctx, s); err == nil {
		t.Errorf("expected error for unknown ability")
	}

	// 4. Sabotage must target a world pool and carry an interval
	s = base()
	s.Sabotage = &SabotageConfig{Enabled: true, Interval: time.Second, Amount: 10, Pool: "focus"}
	if _, err := RunScenario(ctx, s); err == nil {
		t.Errorf("expected error for unknown sabotage pool")
	}
	s = base()
	s.Sabotage = &SabotageConfig{Enabled: true, Amount: 10, Pool: "energy"}
	if _, err := RunScenario(ctx, s); err == nil {
		t.Errorf("expected error for missing sabotage interval")
	}

	// 5. The world itself is validated
	s = base()
	s.World.Pools = nil
	if _, err := RunScenario(ctx, s); err == nil {
		t.Errorf("expected error for empty world")
	}
}

func TestEvaluateInvariants(t *testing.T) {
	res := SimulationResult{
		TotalAttempts:    100,
		TotalCasts:       70,
		TotalDenied:      30,
		TotalPredictions: 10,
		TotalEarly:       0,
		CasterStats: map[string]*CasterStats{
			"rogue": {Attempts: 50, Casts: 40, Denied: 10},
		},
		RateErrors: map[string]float64{"mana": 0.02},
	}

	evaluateInvariants(&res, []Invariant{
		{Metric: "cast_rate", Condition: ">=", Value: 0.7, Scope: "global"},
		{Metric: "denial_rate", Condition: "<", Value: 0.2, Scope: ""},
		{Metric: "early_rate", Condition: "==", Value: 0, Scope: "global"},
		{Metric: "cast_rate", Condition: ">", Value: 0.5, Scope: "rogue"},
		{Metric: "learned_rate_error", Condition: "<=", Value: 0.05, Scope: "mana"},
		{Metric: "cast_rate", Condition: ">", Value: 0, Scope: "ghost"},
		{Metric: "latency_p99", Condition: "<", Value: 1, Scope: "global"},
	})

	if len(res.Invariants) != 7 {
		t.Fatalf("expected 7 invariant rows, got %d", len(res.Invariants))
	}

	// 1. Rates compute from the right counters
	if !res.Invariants[0].Passed || res.Invariants[0].Actual != "0.7000" {
		t.Errorf("expected global cast_rate 0.7000 to pass, got %+v", res.Invariants[0])
	}
	if res.Invariants[1].Passed {
		t.Errorf("expected denial_rate 0.3 to fail < 0.2, got %+v", res.Invariants[1])
	}
	if !res.Invariants[2].Passed {
		t.Errorf("expected early_rate 0 to pass ==, got %+v", res.Invariants[2])
	}

	// 2. Caster and pool scopes resolve
	if !res.Invariants[3].Passed || res.Invariants[3].Actual != "0.8000" {
		t.Errorf("expected rogue cast_rate 0.8000, got %+v", res.Invariants[3])
	}
	if !res.Invariants[4].Passed || res.Invariants[4].Actual != "0.0200" {
		t.Errorf("expected mana rate error 0.0200 to pass, got %+v", res.Invariants[4])
	}

	// 3. Unknown scopes and metrics grade as N/A failures
	if res.Invariants[5].Passed || res.Invariants[5].Actual != "N/A" {
		t.Errorf("expected unknown scope to fail as N/A, got %+v", res.Invariants[5])
	}
	if res.Invariants[6].Passed || res.Invariants[6].Actual != "N/A" {
		t.Errorf("expected unknown metric to fail as N/A, got %+v", res.Invariants[6])
	}
	if res.Invariants[6].Expected != "< 1.00" {
		t.Errorf("expected formatted condition, got %s", res.Invariants[6].Expected)
	}
}
