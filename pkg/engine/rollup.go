package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pulseworks/readycheck/pkg/store"
)

// RollupCursorKey is the system_state key holding the rollup high-water
// mark.
const RollupCursorKey = "rollup_hwm_ts"

// RollupWorker aggregates recorded regen ticks from the journal into
// hourly and daily stats buckets, split by pool and window phase. Only
// recorded ticks roll up: timing-only tick amounts would poison the
// min/max columns.
type RollupWorker struct {
	store    *store.Store
	interval time.Duration
}

// NewRollupWorker creates a rollup worker. interval <= 0 selects the
// default minute cadence.
func NewRollupWorker(st *store.Store, interval time.Duration) *RollupWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &RollupWorker{store: st, interval: interval}
}

func (r *RollupWorker) Run(ctx context.Context) {
	log.Println("Starting rollup worker")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Rollup worker stopping")
			return
		case <-ticker.C:
			if err := r.ProcessBatch(ctx); err != nil {
				log.Printf("Rollup batch failed: %v", err)
			}
		}
	}
}

// ProcessBatch rolls up everything journaled since the high-water mark.
func (r *RollupWorker) ProcessBatch(ctx context.Context) error {
	hwmStr, err := r.store.GetSystemState(ctx, RollupCursorKey)
	if err != nil && !errors.Is(err, store.ErrKeyNotFound) {
		return fmt.Errorf("failed to get rollup cursor: %w", err)
	}
	var since time.Time
	if hwmStr != "" {
		if ts, err := time.Parse(time.RFC3339Nano, hwmStr); err == nil {
			since = ts
		}
	}

	events, err := r.store.ReadEvents(ctx, since, 1000)
	if err != nil {
		return fmt.Errorf("failed to read events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	groups := make(map[string]*store.TickStat)
	for _, evt := range events {
		if evt.EventType != store.EventTypeRegenTickObserved {
			continue
		}

		var payload TickPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			log.Printf("Failed to unmarshal tick payload: %v", err)
			continue
		}
		if !payload.Recorded || payload.PoolID == "" {
			continue
		}

		for _, granularity := range []string{"hour", "day"} {
			span := time.Hour
			if granularity == "day" {
				span = 24 * time.Hour
			}
			bucket := evt.TsEvent.Truncate(span)

			key := fmt.Sprintf("%s|%s|%s|%s|%s",
				bucket.Format(time.RFC3339), granularity,
				evt.Dimensions.OwnerID, payload.PoolID, payload.Phase)

			stat, exists := groups[key]
			if !exists {
				stat = &store.TickStat{
					BucketTs:    bucket,
					Granularity: granularity,
					OwnerID:     evt.Dimensions.OwnerID,
					PoolID:      string(payload.PoolID),
					Phase:       string(payload.Phase),
				}
				groups[key] = stat
			}

			stat.TickCount++
			stat.TotalGain += payload.Amount
			if stat.TickCount == 1 {
				stat.MinGain = payload.Amount
				stat.MaxGain = payload.Amount
			} else {
				if payload.Amount < stat.MinGain {
					stat.MinGain = payload.Amount
				}
				if payload.Amount > stat.MaxGain {
					stat.MaxGain = payload.Amount
				}
			}
		}
	}

	if len(groups) > 0 {
		stats := make([]store.TickStat, 0, len(groups))
		for _, stat := range groups {
			stats = append(stats, *stat)
		}
		if err := r.store.UpsertTickStats(ctx, stats); err != nil {
			return fmt.Errorf("failed to upsert tick stats: %w", err)
		}
	}

	// The nanosecond format matters: a seconds-truncated cursor would
	// re-read the tail of this batch and double-count it.
	lastTs := events[len(events)-1].TsIngest
	return r.store.SetSystemState(ctx, RollupCursorKey, lastTs.Format(time.RFC3339Nano))
}
