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

// RegenReport generates CSV reports of aggregated regen tick statistics.
type RegenReport struct {
	store ReportStore
}

// NewRegenReport creates a new RegenReport generator.
func NewRegenReport(s ReportStore) *RegenReport {
	return &RegenReport{store: s}
}

// Generate creates a CSV report of tick statistics based on the provided parameters.
func (r *RegenReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	// Write CSV headers
	headers := []string{"bucket_ts", "granularity", "owner", "pool", "phase", "total_gain", "min_gain", "max_gain", "tick_count"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}

	// Construct StatFilter from params
	filter := store.StatFilter{
		From: params.Start,
		To:   params.End,
	}

	// Default to "hour" bucket if not specified
	bucket := "hour"
	if b, ok := params.Filters["bucket"].(string); ok && b != "" {
		bucket = b
	}
	filter.Bucket = bucket

	if owner, ok := params.Filters["owner"].(string); ok && owner != "" {
		filter.OwnerID = owner
	}
	if pool, ok := params.Filters["pool"].(string); ok && pool != "" {
		filter.PoolID = pool
	}
	if phase, ok := params.Filters["phase"].(string); ok && phase != "" {
		filter.Phase = phase
	}

	stats, err := r.store.GetTickStats(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query tick stats: %w", err)
	}

	for _, stat := range stats {
		row := []string{
			stat.BucketTs.Format(time.RFC3339),
			stat.Granularity,
			stat.OwnerID,
			stat.PoolID,
			stat.Phase,
			fmt.Sprintf("%g", stat.TotalGain),
			fmt.Sprintf("%g", stat.MinGain),
			fmt.Sprintf("%g", stat.MaxGain),
			fmt.Sprintf("%d", stat.TickCount),
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
