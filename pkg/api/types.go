package api

import "github.com/pulseworks/readycheck/pkg/engine"

// CastRequest matches the POST /v1/cast body schema
type CastRequest struct {
	AbilityID string `json:"ability_id"`
}

// CastResponse matches the response for POST /v1/cast
type CastResponse struct {
	Status    string `json:"status"`
	AbilityID string `json:"ability_id"`
}

// HealthResponse matches the response for GET /v1/health
type HealthResponse struct {
	Status  string                `json:"status"` // ok, degraded
	Role    string                `json:"role"`   // leader, follower, standalone
	Epoch   int64                 `json:"epoch,omitempty"`
	Sources []engine.SourceHealth `json:"sources,omitempty"`
}
