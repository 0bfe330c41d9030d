package engine

import (
	"time"
)

// PoolID identifies a tracked resource pool (e.g. "mana", "energy", "rage").
type PoolID string

// AbilityID identifies a castable ability with a resource cost.
type AbilityID string

// RegenModel selects the prediction strategy for a pool.
type RegenModel string

const (
	// RegenFixedTick regenerates in discrete ticks of a known amount at a
	// known period, unaffected by the suppression window.
	RegenFixedTick RegenModel = "fixed_tick"

	// RegenLearned regenerates in periodic ticks whose per-tick amount is
	// not known analytically and must be learned from observation. Regen
	// is reduced inside the suppression window.
	RegenLearned RegenModel = "learned"

	// RegenEventDriven is generated by gameplay events with no periodic
	// structure. No timed prediction is possible.
	RegenEventDriven RegenModel = "event_driven"
)

// WindowPhase distinguishes the two regeneration regimes of a learned pool.
type WindowPhase string

const (
	PhaseSuppressed WindowPhase = "suppressed"
	PhaseSustained  WindowPhase = "sustained"
)

func phaseOf(suppressed bool) WindowPhase {
	if suppressed {
		return PhaseSuppressed
	}
	return PhaseSustained
}

// PoolReading is a single observation of a pool, as delivered by a source.
type PoolReading struct {
	PoolID  PoolID  `json:"pool_id"`
	Current float64 `json:"current"`
	Max     float64 `json:"max"`
}

// CastNotice is a hint that the player's own action completed. It triggers
// an immediate re-sample so a just-happened spend is picked up without
// waiting for the next polling cycle. The pool delta remains the
// authoritative spend signal; free actions must not arm the window.
type CastNotice struct {
	AbilityID AbilityID `json:"ability_id"`
	At        time.Time `json:"at"`
}

// Prediction is the result of an affordability query.
type Prediction struct {
	AbilityID  AbilityID     `json:"ability_id,omitempty"`
	PoolID     PoolID        `json:"pool_id"`
	Model      RegenModel    `json:"model"`
	Needed     float64       `json:"needed"`
	Wait       time.Duration `json:"-"`
	WaitSecs   float64       `json:"wait_seconds"`
	Affordable bool          `json:"affordable"`
	Basis      string        `json:"basis"` // "tick", "learned", "heuristic", "none"
	ComputedAt time.Time     `json:"computed_at"`
}

// PoolStatus is the live view of a tracked pool, refreshed every sampling
// cycle and served to clients.
type PoolStatus struct {
	OwnerID           string     `json:"owner_id"`
	PoolID            PoolID     `json:"pool_id"`
	Model             RegenModel `json:"model"`
	Current           float64    `json:"current"`
	Max               float64    `json:"max"`
	Suppressed        bool       `json:"suppressed"`
	SuppressedForSecs float64    `json:"suppressed_for_seconds"`
	RateSuppressed    float64    `json:"rate_suppressed"`
	RateSustained     float64    `json:"rate_sustained"`
	LastTickAt        time.Time  `json:"last_tick_at,omitempty"`
	LastUpdated       time.Time  `json:"last_updated"`
}
