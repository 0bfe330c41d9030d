package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pulseworks/readycheck/pkg/store"
)

// TickPayload is the journal payload of a regen_tick_observed event.
type TickPayload struct {
	PoolID   PoolID      `json:"pool_id"`
	Phase    WindowPhase `json:"phase"`
	Amount   float64     `json:"amount"`
	Fraction float64     `json:"fraction"`
	Recorded bool        `json:"recorded"`
	Current  float64     `json:"current"`
	Max      float64     `json:"max"`
}

// tickPayloadFrom converts a tick observation to its journal payload. The
// window phase is captured explicitly so a later replay does not need to
// reconstruct window state.
func tickPayloadFrom(obs Observation) TickPayload {
	return TickPayload{
		PoolID:   obs.PoolID,
		Phase:    phaseOf(obs.Suppressed),
		Amount:   obs.Amount,
		Fraction: obs.Fraction,
		Recorded: obs.Recorded,
		Current:  obs.Current,
		Max:      obs.Max,
	}
}

// RatePayload is the journal payload of a rate_learned event.
type RatePayload struct {
	PoolID PoolID      `json:"pool_id"`
	Phase  WindowPhase `json:"phase"`
	Rate   float64     `json:"rate"`
}

// RateBucketState is the serializable form of one (pool, phase) history,
// used in snapshots.
type RateBucketState struct {
	PoolID      PoolID      `json:"pool_id"`
	Phase       WindowPhase `json:"phase"`
	Samples     []float64   `json:"samples"`
	LastGood    float64     `json:"last_good,omitempty"`
	HasLastGood bool        `json:"has_last_good,omitempty"`
}

type rateKey struct {
	poolID PoolID
	phase  WindowPhase
}

// RateProjection maintains the learned per-tick regen amounts, one bounded
// history per (pool, phase) bucket. It is rebuilt from regen_tick_observed
// journal events, so a replay or snapshot restore reproduces exactly the
// rates the live engine had learned.
type RateProjection struct {
	mu             sync.RWMutex
	capacity       int
	buckets        map[rateKey]*TickHistory
	lastEventID    string
	lastIngestTime time.Time
}

// NewRateProjection creates an empty projection. capacity <= 0 selects the
// default history depth.
func NewRateProjection(capacity int) *RateProjection {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &RateProjection{
		capacity: capacity,
		buckets:  make(map[rateKey]*TickHistory),
	}
}

func (p *RateProjection) bucket(poolID PoolID, phase WindowPhase) *TickHistory {
	key := rateKey{poolID: poolID, phase: phase}
	h, ok := p.buckets[key]
	if !ok {
		h = NewTickHistory(p.capacity)
		p.buckets[key] = h
	}
	return h
}

// Apply updates the projection with a single event. Only recorded tick
// observations change the histories; timing-only ticks and all other event
// types just advance the cursor.
func (p *RateProjection) Apply(event store.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastEventID = string(event.EventID)
	p.lastIngestTime = event.TsIngest

	if event.EventType != store.EventTypeRegenTickObserved {
		return nil
	}

	var payload TickPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal tick payload: %w", err)
	}

	if !payload.Recorded {
		return nil
	}

	h := p.bucket(payload.PoolID, payload.Phase)
	h.Insert(payload.Amount)

	if rate, ok := h.ConservativeRate(); ok {
		ReadycheckLearnedRate.WithLabelValues(string(payload.PoolID), string(payload.Phase)).Set(rate)
	}

	return nil
}

// Replay rebuilds the projection from a slice of events
func (p *RateProjection) Replay(events []*store.Event) error {
	for _, event := range events {
		if event == nil {
			continue
		}
		if err := p.Apply(*event); err != nil {
			return err
		}
	}
	return nil
}

// EffectiveRate returns the usable per-tick rate for a bucket: the
// conservative rate when the history has samples, otherwise the last good
// rate that survived a reset. ok is false when the bucket has never
// produced a usable rate.
func (p *RateProjection) EffectiveRate(poolID PoolID, phase WindowPhase) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	h, ok := p.buckets[rateKey{poolID: poolID, phase: phase}]
	if !ok {
		return 0, false
	}
	rate := h.EffectiveRate()
	return rate, rate > 0
}

// Rates returns the suppressed and sustained per-tick rates for a pool;
// zero means unlearned.
func (p *RateProjection) Rates(poolID PoolID) (suppressed, sustained float64) {
	suppressed, _ = p.EffectiveRate(poolID, PhaseSuppressed)
	sustained, _ = p.EffectiveRate(poolID, PhaseSustained)
	return suppressed, sustained
}

// ResetBucket clears the sample history for one bucket, keeping the last
// good rate as a degraded fallback.
func (p *RateProjection) ResetBucket(poolID PoolID, phase WindowPhase) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.buckets[rateKey{poolID: poolID, phase: phase}]; ok {
		h.Reset()
	}
}

// GetState returns the last applied event ID/timestamp and the serializable
// bucket states, for snapshotting.
func (p *RateProjection) GetState() (string, time.Time, []RateBucketState) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	states := make([]RateBucketState, 0, len(p.buckets))
	for key, h := range p.buckets {
		lastGood, hasLastGood := h.LastGoodRate()
		states = append(states, RateBucketState{
			PoolID:      key.poolID,
			Phase:       key.phase,
			Samples:     h.Samples(),
			LastGood:    lastGood,
			HasLastGood: hasLastGood,
		})
	}
	return p.lastEventID, p.lastIngestTime, states
}

// LoadState restores the projection from a snapshot.
func (p *RateProjection) LoadState(lastEventID string, lastIngestTime time.Time, states []RateBucketState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastEventID = lastEventID
	p.lastIngestTime = lastIngestTime
	p.buckets = make(map[rateKey]*TickHistory)

	for _, st := range states {
		h := p.bucket(st.PoolID, st.Phase)
		h.Restore(st.Samples, st.LastGood, st.HasLastGood)
	}
}

// LastEventID returns the cursor of the last applied event.
func (p *RateProjection) LastEventID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastEventID
}
