package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/pulseworks/readycheck/pkg/store"
)

// EventReport generates a flat CSV dump of journal events, one row per
// event, payloads omitted. Useful for spreadsheet triage of a session.
type EventReport struct {
	store ReportStore
}

// NewEventReport creates a new EventReport generator.
func NewEventReport(s ReportStore) *EventReport {
	return &EventReport{store: s}
}

// Generate creates a CSV report of raw events based on the provided parameters.
func (r *EventReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	// Write CSV headers
	headers := []string{"event_id", "event_type", "timestamp", "owner", "pool", "ability", "source"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}

	// Construct EventFilter from params
	filter := store.EventFilter{
		From: params.Start,
		To:   params.End,
	}
	if eventType, ok := params.Filters["event_type"].(string); ok && eventType != "" {
		filter.EventTypes = []store.EventType{store.EventType(eventType)}
	}
	if owner, ok := params.Filters["owner"].(string); ok && owner != "" {
		filter.OwnerID = owner
	}
	if pool, ok := params.Filters["pool"].(string); ok && pool != "" {
		filter.PoolID = pool
	}
	if limit, ok := params.Filters["limit"].(int); ok && limit > 0 {
		filter.Limit = limit
	}

	events, err := r.store.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	for _, event := range events {
		row := []string{
			string(event.EventID),
			string(event.EventType),
			event.TsEvent.Format(time.RFC3339),
			event.Dimensions.OwnerID,
			event.Dimensions.PoolID,
			event.Dimensions.AbilityID,
			event.Dimensions.SourceID,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush writer: %w", err)
	}

	return buf, nil
}
