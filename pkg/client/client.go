package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is the readycheck SDK client.
type Client struct {
	endpoint string
	http     *http.Client
	backoff  BackoffStrategy
}

// NewClient creates a new readycheck client.
// endpoint defaults to "http://127.0.0.1:8090" if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8090"
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		backoff: DefaultBackoff(),
	}
}

// SetBackoff replaces the retry schedule AwaitAffordable uses for answers
// that carry no countdown.
func (c *Client) SetBackoff(b BackoffStrategy) {
	if b != nil {
		c.backoff = b
	}
}

// Ask queries the daemon for the affordability of one ability.
// It is fail-closed: transport errors return a not-affordable Prediction
// whose Basis names the failure, so a HUD can keep rendering.
func (c *Client) Ask(ctx context.Context, ask Ask) (Prediction, error) {
	// 1. Validate mandatory fields
	if ask.AbilityID == "" {
		return Prediction{}, fmt.Errorf("invalid ask: missing ability id")
	}

	// 2. Build URL
	q := url.Values{}
	q.Set("ability", ask.AbilityID)
	if ask.Reading != nil {
		q.Set("current", strconv.FormatFloat(ask.Reading.Current, 'f', -1, 64))
		if ask.Reading.Max > 0 {
			q.Set("max", strconv.FormatFloat(ask.Reading.Max, 'f', -1, 64))
		}
	}

	// 3. Create Request
	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"/v1/readiness?"+q.Encode(), nil)
	if err != nil {
		return failClosed(ask.AbilityID, "request_creation_failed"), nil
	}

	// 4. Send Request (Handle Network Errors as Fail-Closed)
	resp, err := c.http.Do(req)
	if err != nil {
		return failClosed(ask.AbilityID, "daemon_unreachable"), nil
	}
	defer resp.Body.Close()

	// 5. Handle HTTP Status Codes
	if resp.StatusCode >= 500 {
		return failClosed(ask.AbilityID, "upstream_error"), nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return Prediction{}, fmt.Errorf("unknown_ability: %s", ask.AbilityID)
	}
	if resp.StatusCode == http.StatusBadRequest {
		return Prediction{}, fmt.Errorf("invalid_ask: bad request from daemon")
	}
	if resp.StatusCode != http.StatusOK {
		return failClosed(ask.AbilityID, fmt.Sprintf("unexpected_status_%d", resp.StatusCode)), nil
	}

	// 6. Parse Response
	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return failClosed(ask.AbilityID, "response_parsing_failed"), nil
	}

	return pred, nil
}

// AwaitAffordable implements Ask-Wait-Act: it asks, sleeps the daemon's
// countdown, and re-asks until the ability is affordable or the context
// ends. Answers without a countdown (event-driven pools, unreachable
// daemon) are retried on the backoff schedule.
func (c *Client) AwaitAffordable(ctx context.Context, ask Ask) (Prediction, error) {
	// A reading is a point-in-time observation. Resending it after sleeping
	// would report an already-healed spend as a fresh decrease, so only the
	// first ask carries it.
	next := ask
	attempt := 0
	for {
		pred, err := c.Ask(ctx, next)
		if err != nil {
			return pred, err
		}
		if pred.Affordable {
			return pred, nil
		}
		next = Ask{AbilityID: ask.AbilityID}

		wait := pred.Wait
		if wait <= 0 {
			wait = c.backoff.Next(attempt)
			attempt++
		} else {
			attempt = 0
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return pred, ctx.Err()
		}
	}
}

// Readiness fetches predictions for the whole catalog, the bulk poll a HUD
// refreshes its buttons from.
func (c *Client) Readiness(ctx context.Context) ([]Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"/v1/readiness", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var preds []Prediction
	if err := json.NewDecoder(resp.Body).Decode(&preds); err != nil {
		return nil, err
	}

	return preds, nil
}

// CastNotice tells the daemon an ability was just used so it can sample
// immediately instead of waiting out the polling interval. Best effort;
// callers may ignore the error.
func (c *Client) CastNotice(ctx context.Context, abilityID string) error {
	if abilityID == "" {
		return fmt.Errorf("missing ability id")
	}

	body, err := json.Marshal(map[string]string{"ability_id": abilityID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/v1/cast", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

// Pools fetches the live state of every tracked pool.
func (c *Client) Pools(ctx context.Context) ([]PoolStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"/v1/pools", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var pools []PoolStatus
	if err := json.NewDecoder(resp.Body).Decode(&pools); err != nil {
		return nil, err
	}

	return pools, nil
}

// Pool fetches the live state of one pool.
func (c *Client) Pool(ctx context.Context, poolID string) (PoolStatus, error) {
	u := fmt.Sprintf("%s/v1/pools?pool=%s", c.endpoint, url.QueryEscape(poolID))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return PoolStatus{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return PoolStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return PoolStatus{}, fmt.Errorf("unknown_pool: %s", poolID)
	}
	if resp.StatusCode != http.StatusOK {
		return PoolStatus{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var status PoolStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return PoolStatus{}, err
	}

	return status, nil
}

// Ping checks the health of the daemon.
func (c *Client) Ping(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"/v1/health", nil)
	if err != nil {
		return Health{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Health{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Health{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return Health{}, err
	}

	return health, nil
}

// Events fetches recent journal events from the daemon.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	u := fmt.Sprintf("%s/v1/events?limit=%d", c.endpoint, limit)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var events []Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, err
	}

	return events, nil
}

// Stats fetches aggregated regen tick statistics.
func (c *Client) Stats(ctx context.Context, opts StatsOptions) ([]TickStat, error) {
	bucket := opts.Bucket
	if bucket == "" {
		bucket = "hour"
	}
	u := fmt.Sprintf("%s/v1/stats?bucket=%s", c.endpoint, bucket)
	if !opts.From.IsZero() {
		u += fmt.Sprintf("&from=%s", url.QueryEscape(opts.From.Format(time.RFC3339)))
	}
	if !opts.To.IsZero() {
		u += fmt.Sprintf("&to=%s", url.QueryEscape(opts.To.Format(time.RFC3339)))
	}
	if opts.OwnerID != "" {
		u += fmt.Sprintf("&owner_id=%s", url.QueryEscape(opts.OwnerID))
	}
	if opts.PoolID != "" {
		u += fmt.Sprintf("&pool_id=%s", url.QueryEscape(opts.PoolID))
	}
	if opts.Phase != "" {
		u += fmt.Sprintf("&phase=%s", url.QueryEscape(opts.Phase))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var stats []TickStat
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, err
	}

	return stats, nil
}

// failClosed returns a not-affordable prediction with a specific reason.
func failClosed(abilityID, reason string) Prediction {
	return Prediction{
		AbilityID:  abilityID,
		Affordable: false,
		Basis:      reason,
	}
}
