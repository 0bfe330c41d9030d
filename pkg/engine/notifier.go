package engine

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/pulseworks/readycheck/pkg/store"
)

const (
	// NotifierCursorKey is the system_state key holding the last delivered
	// event timestamp.
	NotifierCursorKey = "notifier_cursor"
	// NotifierBatchSize is the number of events to fetch per poll.
	NotifierBatchSize = 50
	// NotifierPollInterval is how often to check for new events.
	NotifierPollInterval = 1 * time.Second
	// NotifierTimeout is the HTTP client timeout for webhook requests.
	NotifierTimeout = 5 * time.Second
	// NotifierMaxRetries is the number of delivery attempts.
	NotifierMaxRetries = 3
)

// Notifier delivers journal events to registered webhooks, so overlays can
// react to rate changes and casts without polling the API.
type Notifier struct {
	store      *store.Store
	client     *http.Client
	pollTicker *time.Ticker
}

// NewNotifier creates a webhook notifier.
func NewNotifier(s *store.Store) *Notifier {
	return &Notifier{
		store: s,
		client: &http.Client{
			Timeout: NotifierTimeout,
		},
		pollTicker: time.NewTicker(NotifierPollInterval),
	}
}

// Start begins the event polling and delivery loop. It blocks until the
// context is cancelled.
func (n *Notifier) Start(ctx context.Context) {
	log.Println("Starting webhook notifier...")

	cursor, err := n.loadCursor(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrKeyNotFound) {
			log.Printf("Failed to load notifier cursor: %v. Defaulting to now.", err)
		}
		cursor = time.Now().UTC()
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("Stopping webhook notifier...")
			n.pollTicker.Stop()
			return
		case <-n.pollTicker.C:
			newCursor, count, err := n.processBatch(ctx, cursor)
			if err != nil {
				log.Printf("Error processing notifier batch: %v", err)
				continue
			}
			if count > 0 {
				cursor = newCursor
				if err := n.saveCursor(ctx, cursor); err != nil {
					log.Printf("Failed to save notifier cursor: %v", err)
				}
			}
		}
	}
}

// processBatch fetches and delivers a batch of events. It returns the
// timestamp of the last processed event and how many events it covered.
func (n *Notifier) processBatch(ctx context.Context, since time.Time) (time.Time, int, error) {
	events, err := n.store.ReadEvents(ctx, since, NotifierBatchSize)
	if err != nil {
		return since, 0, err
	}
	if len(events) == 0 {
		return since, 0, nil
	}

	webhooks, err := n.store.ListWebhooks(ctx)
	if err != nil {
		return since, 0, fmt.Errorf("failed to list webhooks: %w", err)
	}

	var active []*store.WebhookConfig
	for _, w := range webhooks {
		if w.Active {
			active = append(active, w)
		}
	}

	if len(active) == 0 {
		// No listeners, just advance the cursor.
		return events[len(events)-1].TsIngest, len(events), nil
	}

	lastTs := since
	for _, evt := range events {
		for _, wh := range active {
			if !n.subscribed(wh, evt) {
				continue
			}
			// Delivery stays synchronous so the cursor never advances
			// past an undelivered event.
			if err := n.send(ctx, wh, evt); err != nil {
				log.Printf("Failed to deliver event %s to webhook %s: %v", evt.EventID, wh.WebhookID, err)
			}
		}
		lastTs = evt.TsIngest
	}

	return lastTs, len(events), nil
}

// subscribed checks if the webhook wants this event type.
func (n *Notifier) subscribed(wh *store.WebhookConfig, evt *store.Event) bool {
	for _, t := range wh.Events {
		if t == "*" || t == string(evt.EventType) {
			return true
		}
	}
	return false
}

// send performs the HTTP POST with retries. Client errors are final;
// network errors and 5xx responses retry with a linear backoff.
func (n *Notifier) send(ctx context.Context, wh *store.WebhookConfig, evt *store.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var lastErr error
	for i := 0; i < NotifierMaxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(i) * time.Second)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewBuffer(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "readycheck-notifier/1.0")
		req.Header.Set("X-Readycheck-Event-ID", string(evt.EventID))
		req.Header.Set("X-Readycheck-Event-Type", string(evt.EventType))
		if wh.Secret != "" {
			req.Header.Set("X-Readycheck-Signature", sign(wh.Secret, payload))
		}

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		status := resp.StatusCode
		resp.Body.Close()

		if status >= 200 && status < 300 {
			return nil
		}

		lastErr = fmt.Errorf("webhook responded with status: %d", status)
		if status >= 400 && status < 500 {
			return lastErr
		}
	}

	return fmt.Errorf("max retries reached: %w", lastErr)
}

// sign computes the HMAC-SHA256 signature subscribers verify deliveries
// with.
func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// loadCursor retrieves the last processed timestamp from system_state.
func (n *Notifier) loadCursor(ctx context.Context) (time.Time, error) {
	val, err := n.store.GetSystemState(ctx, NotifierCursorKey)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, val)
}

// saveCursor persists the last processed timestamp.
func (n *Notifier) saveCursor(ctx context.Context, t time.Time) error {
	return n.store.SetSystemState(ctx, NotifierCursorKey, t.Format(time.RFC3339Nano))
}
