// Package bridge polls a game-client bridge endpoint for pool readings.
// The bridge is whatever add-on or companion process exports the player's
// live pool values as JSON on localhost.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pulseworks/readycheck/pkg/engine"
)

// Source reads pool values from a bridge endpoint over HTTP.
type Source struct {
	id     string
	url    string
	token  string
	client *http.Client
}

// New creates a bridge source. The timeout is kept short: the sampling
// loop cannot afford long stalls on a wedged bridge.
func New(id, url, token string) *Source {
	return &Source{
		id:     id,
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 2 * time.Second},
	}
}

func (s *Source) ID() string {
	return s.id
}

// Read fetches the bridge's pool export.
func (s *Source) Read(ctx context.Context) ([]engine.PoolReading, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.url, nil)
	if err != nil {
		return nil, err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var export struct {
		Pools []struct {
			ID      string  `json:"id"`
			Current float64 `json:"current"`
			Max     float64 `json:"max"`
		} `json:"pools"`
	}
	if err := json.Unmarshal(body, &export); err != nil {
		return nil, fmt.Errorf("failed to decode bridge export: %w", err)
	}

	readings := make([]engine.PoolReading, 0, len(export.Pools))
	for _, p := range export.Pools {
		readings = append(readings, engine.PoolReading{
			PoolID:  engine.PoolID(p.ID),
			Current: p.Current,
			Max:     p.Max,
		})
	}
	return readings, nil
}
