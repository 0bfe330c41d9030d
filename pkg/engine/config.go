package engine

import "time"

// CatalogConfig represents the top-level structure of catalog.json
type CatalogConfig struct {
	Pools     []PoolSpec    `json:"pools"`
	Abilities []AbilitySpec `json:"abilities"`
}

// PoolSpec declares a tracked resource pool.
type PoolSpec struct {
	ID    PoolID     `json:"id"`
	Name  string     `json:"name,omitempty"`
	Model RegenModel `json:"model"`

	// TickPeriodSeconds is the nominal spacing of regen ticks. Required
	// for fixed_tick and learned pools; meaningless for event_driven.
	TickPeriodSeconds float64 `json:"tick_period_seconds,omitempty"`

	// AmountPerTick is the known per-tick gain of a fixed_tick pool.
	// Learned pools leave it zero and earn their rates from observation.
	AmountPerTick float64 `json:"amount_per_tick,omitempty"`

	// WindowSeconds overrides the suppression window duration. Zero keeps
	// the default.
	WindowSeconds float64 `json:"window_seconds,omitempty"`
}

// TickPeriod returns the nominal tick period as a duration.
func (p PoolSpec) TickPeriod() time.Duration {
	return time.Duration(p.TickPeriodSeconds * float64(time.Second))
}

// WindowDuration returns the suppression window for this pool.
func (p PoolSpec) WindowDuration() time.Duration {
	if p.WindowSeconds <= 0 {
		return DefaultWindowDuration
	}
	return time.Duration(p.WindowSeconds * float64(time.Second))
}

// AbilitySpec declares a castable ability and its resource cost.
type AbilitySpec struct {
	ID   AbilityID `json:"id"`
	Name string    `json:"name,omitempty"`
	Cost float64   `json:"cost"`
	Pool PoolID    `json:"pool"`
}

// EngineConfig carries the tunables fixed at engine construction. Zero
// values select the defaults; nothing here changes at runtime.
type EngineConfig struct {
	OwnerID         string
	SampleInterval  time.Duration
	HistoryCapacity int
	SpikeFraction   float64
	NoiseFraction   float64
	Buffer          time.Duration
	SafetyFraction  float64
	HeuristicRate   float64
}

// DefaultSampleInterval is the polling cadence of the sampler loop.
const DefaultSampleInterval = 150 * time.Millisecond
