package client

import (
	"encoding/json"
	"time"
)

// Ask names the ability the caller wants to use. An optional Reading carries
// a pool value the caller has seen on screen but the daemon's sampler may
// not have observed yet.
type Ask struct {
	// AbilityID is the required catalog identifier of the ability.
	AbilityID string
	// Reading is an optional fresher pool observation.
	Reading *Reading
}

// Reading is a point-in-time pool observation made by the caller.
type Reading struct {
	// Current is the pool value as seen by the caller.
	Current float64
	// Max is the pool capacity, if known. Zero means unknown.
	Max float64
}

// Prediction is the daemon's affordability answer.
type Prediction struct {
	AbilityID   string    `json:"ability_id,omitempty"`
	PoolID      string    `json:"pool_id"`
	Model       string    `json:"model"`
	Needed      float64   `json:"needed"`
	WaitSeconds float64   `json:"wait_seconds"`
	Affordable  bool      `json:"affordable"`
	// Basis is "affordable", "tick", "learned", "heuristic" or "none"; a
	// fail-closed answer carries the failure reason here instead.
	Basis      string    `json:"basis"`
	ComputedAt time.Time `json:"computed_at"`

	// Wait is derived from WaitSeconds on unmarshal.
	Wait time.Duration `json:"-"`
}

// UnmarshalJSON derives Wait from the wire's wait_seconds.
func (p *Prediction) UnmarshalJSON(data []byte) error {
	type Alias Prediction
	aux := &Alias{}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	*p = Prediction(*aux)
	p.Wait = time.Duration(p.WaitSeconds * float64(time.Second))
	return nil
}

// PoolStatus is the live view of one tracked pool.
type PoolStatus struct {
	OwnerID              string    `json:"owner_id"`
	PoolID               string    `json:"pool_id"`
	Model                string    `json:"model"`
	Current              float64   `json:"current"`
	Max                  float64   `json:"max"`
	Suppressed           bool      `json:"suppressed"`
	SuppressedForSeconds float64   `json:"suppressed_for_seconds"`
	RateSuppressed       float64   `json:"rate_suppressed"`
	RateSustained        float64   `json:"rate_sustained"`
	LastTickAt           time.Time `json:"last_tick_at,omitempty"`
	LastUpdated          time.Time `json:"last_updated"`
}

// Health is the daemon health check response.
type Health struct {
	// Status is "ok" or "degraded".
	Status string `json:"status"`
	// Role is "leader", "follower" or "standalone".
	Role    string         `json:"role"`
	Epoch   int64          `json:"epoch,omitempty"`
	Sources []SourceHealth `json:"sources,omitempty"`
}

// SourceHealth reports the sampling state of one configured source.
type SourceHealth struct {
	SourceID            string    `json:"source_id"`
	Healthy             bool      `json:"healthy"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorAt         time.Time `json:"last_error_at,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures,omitempty"`
}

// Event is one journal entry as served by the daemon.
type Event struct {
	EventID       string           `json:"event_id"`
	EventType     string           `json:"event_type"`
	SchemaVersion int              `json:"schema_version"`
	TsEvent       time.Time        `json:"ts_event"`
	TsIngest      time.Time        `json:"ts_ingest"`
	Epoch         int64            `json:"epoch,omitempty"`
	Source        EventSource      `json:"source"`
	Dimensions    EventDimensions  `json:"dimensions"`
	Correlation   EventCorrelation `json:"correlation"`
	Payload       json.RawMessage  `json:"payload"`
}

type EventSource struct {
	OriginKind string `json:"origin_kind"`
	OriginID   string `json:"origin_id"`
	WriterID   string `json:"writer_id"`
}

type EventDimensions struct {
	OwnerID   string `json:"owner_id"`
	PoolID    string `json:"pool_id"`
	AbilityID string `json:"ability_id"`
	SourceID  string `json:"source_id"`
}

type EventCorrelation struct {
	CorrelationID string `json:"correlation_id"`
	CausationID   string `json:"causation_id"`
}

// TickStat aggregates observed regen ticks over a time bucket.
type TickStat struct {
	BucketTs    time.Time `json:"bucket_ts"`
	Granularity string    `json:"granularity"`
	OwnerID     string    `json:"owner_id"`
	PoolID      string    `json:"pool_id"`
	Phase       string    `json:"phase"`
	TotalGain   float64   `json:"total_gain"`
	MinGain     float64   `json:"min_gain"`
	MaxGain     float64   `json:"max_gain"`
	TickCount   int       `json:"tick_count"`
}

// StatsOptions defines filters for Stats.
type StatsOptions struct {
	From    time.Time
	To      time.Time
	Bucket  string // "hour" or "day"
	OwnerID string
	PoolID  string
	Phase   string
}
