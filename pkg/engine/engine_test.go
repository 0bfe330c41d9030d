package engine

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/pulseworks/readycheck/pkg/store"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cat, err := NewCatalog(testCatalogConfig())
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	return NewEngine(EngineConfig{OwnerID: "hunter_42"}, cat, NewRateProjection(0), NewMemoryStateStore())
}

// feed pushes a reading through the engine and, like the sampler would,
// applies any recorded tick to the rate projection.
func feed(t *testing.T, e *Engine, now time.Time, poolID PoolID, current, max float64) Observation {
	t.Helper()
	obs := e.Observe(now, PoolReading{PoolID: poolID, Current: current, Max: max})
	if obs.Kind == ObservationTick {
		payload, err := json.Marshal(tickPayloadFrom(obs))
		if err != nil {
			t.Fatalf("failed to marshal tick payload: %v", err)
		}
		evt := store.Event{
			EventID:   store.EventID(fmt.Sprintf("tick_%d", now.UnixNano())),
			EventType: store.EventTypeRegenTickObserved,
			TsIngest:  now,
			Payload:   payload,
		}
		if err := e.Rates().Apply(evt); err != nil {
			t.Fatalf("failed to apply tick event: %v", err)
		}
	}
	return obs
}

func TestEngineFixedTickPrediction(t *testing.T) {
	e := testEngine(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Seed, then one observed tick synchronizes the clock. The +20 jump is
	// 20% of max, so it is filtered as a spike, but spikes still carry
	// timing.
	feed(t, e, base, "energy", 25, 100)
	obs := feed(t, e, base.Add(2*time.Second), "energy", 45, 100)
	if obs.Kind != ObservationSpike {
		t.Fatalf("expected spike classification, got %s", obs.Kind)
	}

	// 45 energy, need 65: one tick away. Asked 0.8s past the last tick,
	// the next lands in 1.2s, plus the registration buffer.
	pred, err := e.TimeUntilAffordable(base.Add(2800*time.Millisecond), "sinister_strike", nil)
	if err != nil {
		t.Fatalf("TimeUntilAffordable failed: %v", err)
	}
	if pred.Basis != BasisTick {
		t.Errorf("expected tick basis, got %s", pred.Basis)
	}
	if pred.Wait != 1350*time.Millisecond {
		t.Errorf("expected 1.35s wait, got %v", pred.Wait)
	}
	if pred.Affordable {
		t.Errorf("expected not affordable yet")
	}
	if pred.PoolID != "energy" || pred.AbilityID != "sinister_strike" {
		t.Errorf("unexpected identifiers: %+v", pred)
	}
}

func TestEngineAffordableNow(t *testing.T) {
	e := testEngine(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	feed(t, e, base, "energy", 80, 100)

	pred, err := e.TimeUntilAffordable(base.Add(time.Second), "sinister_strike", nil)
	if err != nil {
		t.Fatalf("TimeUntilAffordable failed: %v", err)
	}
	if !pred.Affordable || pred.Wait != 0 {
		t.Errorf("expected affordable now, got %+v", pred)
	}
	if pred.Basis != BasisAffordable {
		t.Errorf("expected affordable basis, got %s", pred.Basis)
	}
}

func TestEngineLearnedPrediction(t *testing.T) {
	e := testEngine(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Two passive +40 ticks teach the sustained rate.
	feed(t, e, base, "mana", 500, 1000)
	obs := feed(t, e, base.Add(2*time.Second), "mana", 540, 1000)
	if obs.Kind != ObservationTick || !obs.Recorded {
		t.Fatalf("expected recorded tick, got %+v", obs)
	}
	feed(t, e, base.Add(4*time.Second), "mana", 580, 1000)

	supp, sust := e.Rates().Rates("mana")
	if supp != 0 || sust != 40 {
		t.Fatalf("expected rates 0/40, got %f/%f", supp, sust)
	}

	// 580 mana, need 700: 120 short. With 5%% margin that is
	// ceil(122/40) = 4 ticks. Asked 0.5s past the last tick: 1.5s to the
	// first tick, three more periods, plus the buffer.
	pred, err := e.TimeUntilAmount(base.Add(4500*time.Millisecond), "mana", 700, nil)
	if err != nil {
		t.Fatalf("TimeUntilAmount failed: %v", err)
	}
	if pred.Basis != BasisLearned {
		t.Errorf("expected learned basis, got %s", pred.Basis)
	}
	want := 1500*time.Millisecond + 3*2*time.Second + 150*time.Millisecond
	if pred.Wait != want {
		t.Errorf("expected %v, got %v", want, pred.Wait)
	}
}

func TestEngineHeuristicBeforeAnyTicks(t *testing.T) {
	e := testEngine(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Seeded but no ticks observed yet: predictions fall back to the
	// 2%-of-max heuristic instead of refusing.
	feed(t, e, base, "mana", 100, 1000)

	pred, err := e.TimeUntilAffordable(base.Add(time.Second), "fireball", nil)
	if err != nil {
		t.Fatalf("TimeUntilAffordable failed: %v", err)
	}
	if pred.Basis != BasisHeuristic {
		t.Errorf("expected heuristic basis, got %s", pred.Basis)
	}
	if pred.Wait <= 0 {
		t.Errorf("expected a positive heuristic wait, got %v", pred.Wait)
	}
}

func TestEngineNeverSampled(t *testing.T) {
	e := testEngine(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	pred, err := e.TimeUntilAffordable(now, "fireball", nil)
	if err != nil {
		t.Fatalf("TimeUntilAffordable failed: %v", err)
	}
	if pred.Basis != BasisNone || pred.Wait != 0 || pred.Affordable {
		t.Errorf("expected no prediction before any sample, got %+v", pred)
	}
}

func TestEngineUnknownAbilityAndPool(t *testing.T) {
	e := testEngine(t)
	now := time.Now()

	if _, err := e.TimeUntilAffordable(now, "slam", nil); err == nil {
		t.Errorf("expected error for unknown ability")
	}
	if _, err := e.TimeUntilAmount(now, "focus", 10, nil); err == nil {
		t.Errorf("expected error for unknown pool")
	}
}

func TestEngineCostAboveMax(t *testing.T) {
	e := testEngine(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	feed(t, e, base, "mana", 500, 1000)

	pred, err := e.TimeUntilAmount(base.Add(time.Second), "mana", 1200, nil)
	if err != nil {
		t.Fatalf("TimeUntilAmount failed: %v", err)
	}
	if pred.Basis != BasisNone || pred.Wait != 0 {
		t.Errorf("expected no prediction for cost above max, got %+v", pred)
	}
}

func TestEngineSelfHealingRearm(t *testing.T) {
	e := testEngine(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	feed(t, e, base, "mana", 800, 1000)

	if e.IsSuppressed(base.Add(time.Second), "mana") {
		t.Fatalf("window should not be armed yet")
	}

	// A prediction arrives with a fresher reading showing a spend the
	// sampler has not seen. The window arms before the math runs.
	askAt := base.Add(1200 * time.Millisecond)
	fresher := &PoolReading{PoolID: "mana", Current: 650, Max: 1000}
	if _, err := e.TimeUntilAmount(askAt, "mana", 700, fresher); err != nil {
		t.Fatalf("TimeUntilAmount failed: %v", err)
	}

	if !e.IsSuppressed(askAt, "mana") {
		t.Errorf("expected window armed by fresher reading")
	}
	left := e.SuppressionRemaining(askAt, "mana")
	if left != DefaultWindowDuration {
		t.Errorf("expected full window remaining, got %v", left)
	}

	// The estimator's own readings are untouched: the sampler still sees
	// 800 as the last sample, so its next 800 reading is no change.
	obs := e.Observe(base.Add(2*time.Second), PoolReading{PoolID: "mana", Current: 800, Max: 1000})
	if obs.Kind != ObservationNone {
		t.Errorf("expected no classification for unchanged sampler reading, got %s", obs.Kind)
	}
}

func TestEngineEventDrivenPool(t *testing.T) {
	e := testEngine(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	feed(t, e, base, "rage", 10, 100)

	// Under cost: no prediction, ever.
	pred, err := e.TimeUntilAffordable(base.Add(time.Second), "heroic_strike", nil)
	if err != nil {
		t.Fatalf("TimeUntilAffordable failed: %v", err)
	}
	if pred.Basis != BasisNone || pred.Wait != 0 || pred.Affordable {
		t.Errorf("expected no prediction for event-driven pool, got %+v", pred)
	}

	// At or above cost: affordable immediately.
	feed(t, e, base.Add(2*time.Second), "rage", 40, 100)
	pred, err = e.TimeUntilAffordable(base.Add(3*time.Second), "heroic_strike", nil)
	if err != nil {
		t.Fatalf("TimeUntilAffordable failed: %v", err)
	}
	if !pred.Affordable || pred.Wait != 0 {
		t.Errorf("expected affordable, got %+v", pred)
	}

	// Decreases arm the window even without an estimator.
	obs := feed(t, e, base.Add(4*time.Second), "rage", 15, 100)
	if obs.Kind != ObservationSpend || obs.Amount != 25 {
		t.Errorf("expected spend of 25, got %+v", obs)
	}
	if !e.IsSuppressed(base.Add(4*time.Second), "rage") {
		t.Errorf("expected window armed by rage spend")
	}
}

func TestEngineStatus(t *testing.T) {
	e := testEngine(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	feed(t, e, base, "mana", 500, 1000)
	feed(t, e, base.Add(2*time.Second), "mana", 540, 1000)
	feed(t, e, base.Add(3*time.Second), "mana", 400, 1000) // spend arms window

	status, ok := e.Status(base.Add(4*time.Second), "mana")
	if !ok {
		t.Fatalf("expected status for mana")
	}
	if status.OwnerID != "hunter_42" {
		t.Errorf("expected owner hunter_42, got %s", status.OwnerID)
	}
	if status.Current != 400 || status.Max != 1000 {
		t.Errorf("unexpected pool values: %+v", status)
	}
	if !status.Suppressed {
		t.Errorf("expected suppressed status")
	}
	if status.SuppressedForSecs <= 3.9 || status.SuppressedForSecs > 4.0 {
		t.Errorf("expected about 4s of window left, got %f", status.SuppressedForSecs)
	}
	if status.RateSustained != 40 {
		t.Errorf("expected sustained rate 40, got %f", status.RateSustained)
	}
	if status.LastTickAt.IsZero() {
		t.Errorf("expected a last tick timestamp")
	}

	// Fixed pools report their declared amount as the rate.
	feed(t, e, base, "energy", 50, 100)
	es, _ := e.Status(base.Add(time.Second), "energy")
	if es.RateSustained != 20 || es.RateSuppressed != 20 {
		t.Errorf("expected declared rates 20/20, got %f/%f", es.RateSuppressed, es.RateSustained)
	}

	// StatusAll covers every catalog pool.
	all := e.StatusAll(base.Add(4 * time.Second))
	if len(all) != 3 {
		t.Errorf("expected 3 statuses, got %d", len(all))
	}
}

func TestEngineRefreshStates(t *testing.T) {
	states := NewMemoryStateStore()
	cat, err := NewCatalog(testCatalogConfig())
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	e := NewEngine(EngineConfig{OwnerID: "hunter_42"}, cat, NewRateProjection(0), states)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	feed(t, e, base, "mana", 500, 1000)
	e.RefreshStates(base.Add(time.Second))

	status, ok := states.Get("hunter_42", "mana")
	if !ok {
		t.Fatalf("expected mirrored status")
	}
	if status.Current != 500 {
		t.Errorf("expected current 500, got %f", status.Current)
	}
	if len(states.GetAll()) != 3 {
		t.Errorf("expected all pools mirrored, got %d", len(states.GetAll()))
	}
}

func TestEngineNoticeCast(t *testing.T) {
	e := testEngine(t)

	notice := CastNotice{AbilityID: "fireball", At: time.Now()}
	e.NoticeCast(notice)

	select {
	case got := <-e.Kick():
		if got.AbilityID != "fireball" {
			t.Errorf("expected fireball notice, got %+v", got)
		}
	default:
		t.Fatalf("expected a queued notice")
	}

	// A full queue drops instead of blocking.
	for i := 0; i < 20; i++ {
		e.NoticeCast(notice)
	}
}
