package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pulseworks/readycheck/pkg/engine"
	"github.com/pulseworks/readycheck/pkg/store"
)

// SpendLogReport generates CSV reports of observed spends (the combat log
// as the sampler reconstructed it).
type SpendLogReport struct {
	store ReportStore
}

// NewSpendLogReport creates a new SpendLogReport generator.
func NewSpendLogReport(s ReportStore) *SpendLogReport {
	return &SpendLogReport{store: s}
}

// Generate creates a CSV report of spend observations based on the provided parameters.
func (r *SpendLogReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	// Write CSV headers
	headers := []string{"timestamp", "owner", "pool", "amount", "remaining", "max", "source"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}

	// Construct EventFilter from params
	filter := store.EventFilter{
		From:       params.Start,
		To:         params.End,
		EventTypes: []store.EventType{store.EventTypeSpendObserved},
	}
	if owner, ok := params.Filters["owner"].(string); ok && owner != "" {
		filter.OwnerID = owner
	}
	if pool, ok := params.Filters["pool"].(string); ok && pool != "" {
		filter.PoolID = pool
	}

	events, err := r.store.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	for _, event := range events {
		var obs engine.Observation
		if err := json.Unmarshal(event.Payload, &obs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload for event %s: %w", event.EventID, err)
		}

		row := []string{
			event.TsEvent.Format(time.RFC3339),
			event.Dimensions.OwnerID,
			event.Dimensions.PoolID,
			fmt.Sprintf("%g", obs.Amount),
			fmt.Sprintf("%g", obs.Current),
			fmt.Sprintf("%g", obs.Max),
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
