package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// EventType represents the kind of event.
type EventType string

const (
	EventTypeSampleObserved    EventType = "sample_observed"
	EventTypeSourceError       EventType = "source_error"
	EventTypeSpendObserved     EventType = "spend_observed"
	EventTypeRegenTickObserved EventType = "regen_tick_observed"
	EventTypeGainSpikeFiltered EventType = "gain_spike_filtered"
	EventTypeGainNoiseIgnored  EventType = "gain_noise_ignored"
	EventTypeRateLearned       EventType = "rate_learned"
	EventTypeCastNoticed       EventType = "cast_noticed"
	EventTypePredictionMade    EventType = "prediction_made"
	EventTypeCatalogUpdated    EventType = "catalog_updated"
)

// Sentinel errors for callers that need to distinguish expected misses from
// real failures.
var (
	ErrKeyNotFound = errors.New("system state key not found")
	ErrNoSnapshots = errors.New("no snapshot exists yet")
	ErrLeaseLost   = errors.New("lease lost or stolen")
)

// Lease is a single-writer claim on the sampling role. Version bumps on
// every write for optimistic concurrency; Epoch bumps only when the holder
// changes, so it works as a fencing token across failovers.
type Lease struct {
	Name      string    `json:"name"`
	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Version   int64     `json:"version"`
	Epoch     int64     `json:"epoch"`
}

// LeaseStore is the storage side of leader election.
type LeaseStore interface {
	// Acquire claims the lease, or renews it when holderID already holds
	// it. False with a nil error means someone else holds a live lease.
	Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error)

	// Renew extends a lease held by holderID. A lost or stolen lease
	// returns ErrLeaseLost; the caller must stop writing.
	Renew(ctx context.Context, name, holderID string, ttl time.Duration) error

	// Release gives the lease up early. Releasing a lease held by
	// someone else is a no-op.
	Release(ctx context.Context, name, holderID string) error

	// Get reports the current lease row, nil when none exists.
	Get(ctx context.Context, name string) (*Lease, error)
}

// EventID is a unique identifier for an event.
type EventID string

// Event represents the canonical envelope for everything the sampler and
// its workers observe or derive. Events are append-only; projections and
// rollups rebuild all other state from them.
type Event struct {
	EventID       EventID          `json:"event_id"`
	EventType     EventType        `json:"event_type"`
	SchemaVersion int              `json:"schema_version"`
	TsEvent       time.Time        `json:"ts_event"`
	TsIngest      time.Time        `json:"ts_ingest"`
	Epoch         int64            `json:"epoch,omitempty"` // Sampler lease epoch at generation time
	Source        EventSource      `json:"source"`
	Dimensions    EventDimensions  `json:"dimensions"`
	Correlation   EventCorrelation `json:"correlation"`
	Payload       json.RawMessage  `json:"payload"`
}

// EventSource describes the origin of the event.
type EventSource struct {
	OriginKind string `json:"origin_kind"` // daemon, source, client, operator
	OriginID   string `json:"origin_id"`
	WriterID   string `json:"writer_id"` // Always "readycheck-d"
}

// EventDimensions are the mandatory scopes for every event. Unused scopes
// carry a sentinel, never an empty string, so filters stay unambiguous.
type EventDimensions struct {
	OwnerID   string `json:"owner_id"`
	PoolID    string `json:"pool_id"`
	AbilityID string `json:"ability_id"`
	SourceID  string `json:"source_id"`
}

// EventCorrelation threads an event to the observation that caused it.
type EventCorrelation struct {
	CorrelationID string `json:"correlation_id"`
	CausationID   string `json:"causation_id"`
}

// TickStat aggregates observed regen ticks over a time bucket, split by
// regeneration phase.
type TickStat struct {
	BucketTs    time.Time `json:"bucket_ts"`
	Granularity string    `json:"granularity"` // "hour" or "day"
	OwnerID     string    `json:"owner_id"`
	PoolID      string    `json:"pool_id"`
	Phase       string    `json:"phase"` // "suppressed" or "sustained"
	TotalGain   float64   `json:"total_gain"`
	MinGain     float64   `json:"min_gain"`
	MaxGain     float64   `json:"max_gain"`
	TickCount   int       `json:"tick_count"`
}

// StatFilter defines filters for querying tick statistics.
type StatFilter struct {
	From    time.Time
	To      time.Time
	Bucket  string // "hour" or "day"
	OwnerID string
	PoolID  string
	Phase   string
}

// EventFilter defines filters for querying events.
type EventFilter struct {
	From       time.Time
	To         time.Time
	EventTypes []EventType
	OwnerID    string
	PoolID     string
	Limit      int
}

// WebhookConfig is a registered webhook endpoint. Deliveries are signed
// with the shared secret so receivers can verify the sender.
type WebhookConfig struct {
	WebhookID string    `json:"webhook_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret"`
	Events    []string  `json:"events"` // Event types to deliver, empty means all
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
}

// Sentinel dimension values. SentinelGlobal marks a scope an event spans
// entirely (a catalog update touches every ability); SentinelUnknown marks
// one the writer could not determine.
const (
	SentinelSystem  = "sentinel:system"
	SentinelGlobal  = "sentinel:global"
	SentinelUnknown = "sentinel:unknown"
)

// Snapshot represents a point-in-time capture of the learned-rate state.
type Snapshot struct {
	SnapshotID    string          `json:"snapshot_id"`
	SchemaVersion int             `json:"schema_version"`
	TsSnapshot    time.Time       `json:"ts_snapshot"`
	LastEventID   EventID         `json:"last_event_id"`
	Payload       json.RawMessage `json:"payload"`
}
