package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/pulseworks/readycheck/pkg/store"
)

// Source delivers pool readings from wherever the game state lives: a live
// bridge, a recorded session, or a synthetic world. Implementations live in
// pkg/provider.
type Source interface {
	// ID returns the unique identifier for this source.
	ID() string

	// Read retrieves the current value of every pool the source can see.
	Read(ctx context.Context) ([]PoolReading, error)
}

// SourceHealth is the sampler's in-memory view of one source's recent
// behavior. It is not journaled; it resets on restart.
type SourceHealth struct {
	SourceID            string    `json:"source_id"`
	Healthy             bool      `json:"healthy"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorAt         time.Time `json:"last_error_at,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures,omitempty"`
}

// Sampler runs the polling loop: it reads every registered source each
// cycle, pushes the readings through the engine's classification, journals
// anything notable, and refreshes the live pool states. It is the only
// writer on the observation path; deployments enforce that with the
// sampler lease.
type Sampler struct {
	store    *store.Store
	engine   *Engine
	interval time.Duration

	mu      sync.RWMutex
	sources []Source
	health  map[string]*SourceHealth

	epochFunc func() int64
}

// NewSampler creates a sampler. interval <= 0 falls back to the engine's
// configured sample interval.
func NewSampler(st *store.Store, eng *Engine, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = eng.Config().SampleInterval
	}
	return &Sampler{
		store:    st,
		engine:   eng,
		interval: interval,
		sources:  make([]Source, 0),
		health:   make(map[string]*SourceHealth),
	}
}

// SetEpochFunc sets the function to retrieve the current lease epoch.
func (s *Sampler) SetEpochFunc(f func() int64) {
	s.epochFunc = f
}

// getEpoch returns the current epoch or 0 if not configured.
func (s *Sampler) getEpoch() int64 {
	if s.epochFunc != nil {
		return s.epochFunc()
	}
	return 0
}

// Register adds a source to the sampler.
func (s *Sampler) Register(src Source) {
	s.mu.Lock()
	s.sources = append(s.sources, src)
	s.health[src.ID()] = &SourceHealth{SourceID: src.ID()}
	s.mu.Unlock()
}

// Health returns the current health of every registered source, sorted by
// source ID.
func (s *Sampler) Health() []SourceHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SourceHealth, 0, len(s.health))
	for _, h := range s.health {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Start begins the sampling loop. Cast notices queued on the engine force
// an immediate extra cycle so a just-finished spend is seen without waiting
// out the interval.
func (s *Sampler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Println("Sampler started")

	for {
		select {
		case <-ctx.Done():
			log.Println("Sampler stopping due to context cancellation")
			return
		case notice := <-s.engine.Kick():
			now := time.Now().UTC()
			s.journalCast(ctx, now, notice)
			s.drainKicks(ctx, now)
			s.Sample(ctx, now)
		case <-ticker.C:
			s.Sample(ctx, time.Now().UTC())
		}
	}
}

// drainKicks journals any further queued notices so one sample cycle covers
// a burst of casts.
func (s *Sampler) drainKicks(ctx context.Context, now time.Time) {
	for {
		select {
		case notice := <-s.engine.Kick():
			s.journalCast(ctx, now, notice)
		default:
			return
		}
	}
}

// Sample runs one full sampling cycle at the given time: every source is
// read, every reading classified and journaled, and the live states
// refreshed. The explicit clock keeps the cycle deterministic for tests and
// the simulator.
func (s *Sampler) Sample(ctx context.Context, now time.Time) {
	s.mu.RLock()
	sources := make([]Source, len(s.sources))
	copy(sources, s.sources)
	s.mu.RUnlock()

	for _, src := range sources {
		s.sampleSource(ctx, now, src)
	}

	s.engine.RefreshStates(now)
}

// sampleSource reads one source and journals what the engine made of it.
func (s *Sampler) sampleSource(ctx context.Context, now time.Time, src Source) {
	readings, err := src.Read(ctx)
	if err != nil {
		log.Printf("Read failed for source %s: %v", src.ID(), err)
		s.markFailure(src.ID(), now, err)

		payload, _ := json.Marshal(map[string]interface{}{
			"source_id": src.ID(),
			"error":     err.Error(),
		})
		event := s.newEvent(store.EventTypeSourceError,
			fmt.Sprintf("error_%s_%d", src.ID(), now.UnixNano()),
			now, now, "source", src.ID(),
			store.EventDimensions{SourceID: src.ID()},
			fmt.Sprintf("sample_%s_%d", src.ID(), now.Unix()), store.SentinelUnknown,
			payload)
		s.append(ctx, event)
		return
	}
	s.markSuccess(src.ID(), now)

	correlationID := fmt.Sprintf("sample_%s_%d", src.ID(), now.Unix())
	for _, reading := range readings {
		obs := s.engine.Observe(now, reading)
		s.journalObservation(ctx, now, src.ID(), correlationID, obs)
	}
}

// journalObservation appends the journal record for one classified sample,
// if its kind warrants one, and feeds ticks into the rate projection.
func (s *Sampler) journalObservation(ctx context.Context, now time.Time, sourceID, correlationID string, obs Observation) {
	dims := store.EventDimensions{PoolID: string(obs.PoolID), SourceID: sourceID}

	switch obs.Kind {
	case ObservationSeed:
		payload, _ := json.Marshal(obs)
		event := s.newEvent(store.EventTypeSampleObserved,
			fmt.Sprintf("seed_%s_%d", obs.PoolID, now.UnixNano()),
			obs.At, now, "source", sourceID, dims, correlationID, store.SentinelUnknown, payload)
		s.append(ctx, event)

	case ObservationSpend:
		payload, _ := json.Marshal(obs)
		event := s.newEvent(store.EventTypeSpendObserved,
			fmt.Sprintf("spend_%s_%d", obs.PoolID, now.UnixNano()),
			obs.At, now, "source", sourceID, dims, correlationID, store.SentinelUnknown, payload)
		s.append(ctx, event)

	case ObservationTick:
		s.journalTick(ctx, now, sourceID, correlationID, obs)

	case ObservationSpike:
		ReadycheckGainsFilteredTotal.WithLabelValues(string(obs.PoolID), "spike").Inc()
		payload, _ := json.Marshal(obs)
		event := s.newEvent(store.EventTypeGainSpikeFiltered,
			fmt.Sprintf("spike_%s_%d", obs.PoolID, now.UnixNano()),
			obs.At, now, "source", sourceID, dims, correlationID, store.SentinelUnknown, payload)
		s.append(ctx, event)

	case ObservationNoise:
		ReadycheckGainsFilteredTotal.WithLabelValues(string(obs.PoolID), "noise").Inc()
		payload, _ := json.Marshal(obs)
		event := s.newEvent(store.EventTypeGainNoiseIgnored,
			fmt.Sprintf("noise_%s_%d", obs.PoolID, now.UnixNano()),
			obs.At, now, "source", sourceID, dims, correlationID, store.SentinelUnknown, payload)
		s.append(ctx, event)
	}
}

// journalTick appends a regen_tick_observed event, applies it to the rate
// projection, and emits a derived rate_learned event when the effective
// rate for the bucket moved. Counters only increment here, on the live
// path, so a boot replay does not double-count.
func (s *Sampler) journalTick(ctx context.Context, now time.Time, sourceID, correlationID string, obs Observation) {
	phase := phaseOf(obs.Suppressed)
	ReadycheckTicksTotal.WithLabelValues(string(obs.PoolID), string(phase)).Inc()

	payload, err := json.Marshal(tickPayloadFrom(obs))
	if err != nil {
		log.Printf("Failed to marshal tick payload for pool %s: %v", obs.PoolID, err)
		return
	}

	dims := store.EventDimensions{PoolID: string(obs.PoolID), SourceID: sourceID}
	tickEvent := s.newEvent(store.EventTypeRegenTickObserved,
		fmt.Sprintf("tick_%s_%d", obs.PoolID, now.UnixNano()),
		obs.At, now, "source", sourceID, dims, correlationID, store.SentinelUnknown, payload)
	s.append(ctx, tickEvent)

	rates := s.engine.Rates()
	before, _ := rates.EffectiveRate(obs.PoolID, phase)
	if err := rates.Apply(*tickEvent); err != nil {
		log.Printf("Failed to apply tick event %s: %v", tickEvent.EventID, err)
		return
	}
	after, ok := rates.EffectiveRate(obs.PoolID, phase)
	if !ok || after == before {
		return
	}

	ratePayload, _ := json.Marshal(RatePayload{PoolID: obs.PoolID, Phase: phase, Rate: after})
	rateEvent := s.newEvent(store.EventTypeRateLearned,
		fmt.Sprintf("rate_%s_%s_%d", obs.PoolID, phase, now.UnixNano()),
		now, now, "daemon", "sampler", dims, correlationID, string(tickEvent.EventID), ratePayload)
	s.append(ctx, rateEvent)
}

// journalCast records an action-success notice. The pool delta remains the
// authoritative spend signal; this event only explains why an extra sample
// cycle ran.
func (s *Sampler) journalCast(ctx context.Context, now time.Time, notice CastNotice) {
	dims := store.EventDimensions{AbilityID: string(notice.AbilityID)}
	if _, poolID, err := s.engine.Catalog().ResourceCost(notice.AbilityID); err == nil {
		dims.PoolID = string(poolID)
	}

	payload, _ := json.Marshal(notice)
	event := s.newEvent(store.EventTypeCastNoticed,
		fmt.Sprintf("cast_%s_%d", notice.AbilityID, now.UnixNano()),
		notice.At, now, "client", "cast_notice", dims,
		fmt.Sprintf("cast_%d", now.Unix()), store.SentinelUnknown, payload)
	s.append(ctx, event)
}

// newEvent assembles the standard envelope. Empty dimensions are filled
// with sentinels so every event carries the full scope set.
func (s *Sampler) newEvent(eventType store.EventType, id string, tsEvent, now time.Time, originKind, originID string, dims store.EventDimensions, correlationID, causationID string, payload json.RawMessage) *store.Event {
	if dims.OwnerID == "" {
		dims.OwnerID = s.engine.Config().OwnerID
	}
	if dims.PoolID == "" {
		dims.PoolID = store.SentinelGlobal
	}
	if dims.AbilityID == "" {
		dims.AbilityID = store.SentinelGlobal
	}
	if dims.SourceID == "" {
		dims.SourceID = store.SentinelUnknown
	}

	return &store.Event{
		EventID:       store.EventID(id),
		EventType:     eventType,
		SchemaVersion: 1,
		TsEvent:       tsEvent,
		TsIngest:      now,
		Epoch:         s.getEpoch(),
		Source: store.EventSource{
			OriginKind: originKind,
			OriginID:   originID,
			WriterID:   "readycheck-d",
		},
		Dimensions: dims,
		Correlation: store.EventCorrelation{
			CorrelationID: correlationID,
			CausationID:   causationID,
		},
		Payload: payload,
	}
}

// append writes one event to the journal. Append failures are logged and
// dropped; the live engine state already advanced and serving keeps
// priority over a complete journal.
func (s *Sampler) append(ctx context.Context, event *store.Event) {
	if err := s.store.AppendEvent(ctx, event); err != nil {
		log.Printf("Failed to append %s event: %v", event.EventType, err)
	}
}

func (s *Sampler) markSuccess(sourceID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.health[sourceID]
	if !ok {
		h = &SourceHealth{SourceID: sourceID}
		s.health[sourceID] = h
	}
	h.Healthy = true
	h.LastSuccess = now
	h.ConsecutiveFailures = 0
}

func (s *Sampler) markFailure(sourceID string, now time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.health[sourceID]
	if !ok {
		h = &SourceHealth{SourceID: sourceID}
		s.health[sourceID] = h
	}
	h.Healthy = false
	h.LastError = err.Error()
	h.LastErrorAt = now
	h.ConsecutiveFailures++
}
