package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pulseworks/readycheck/pkg/store"
)

// SnapshotPayload defines the structure of the JSON blob stored in
// snapshots. Only the learned rates are event-sourced; live pool state is
// rebuilt by the sampler within one cycle and needs no snapshot.
type SnapshotPayload struct {
	Buckets []RateBucketState `json:"buckets"`
}

// SnapshotWorker periodically persists the rate projection so learned
// rates survive restarts without a full journal replay.
type SnapshotWorker struct {
	store    *store.Store
	rates    *RateProjection
	interval time.Duration
}

func NewSnapshotWorker(st *store.Store, rates *RateProjection, interval time.Duration) *SnapshotWorker {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	return &SnapshotWorker{
		store:    st,
		rates:    rates,
		interval: interval,
	}
}

// Run starts the snapshot loop.
func (w *SnapshotWorker) Run(ctx context.Context) {
	fmt.Printf(`{"level":"info","msg":"snapshot_worker_started","interval":"%s"}`+"\n", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println(`{"level":"info","msg":"snapshot_worker_stopped"}`)
			return
		case <-ticker.C:
			if err := w.TakeSnapshot(ctx); err != nil {
				fmt.Printf(`{"level":"error","msg":"snapshot_failed","error":"%v"}`+"\n", err)
				continue
			}
			fmt.Println(`{"level":"info","msg":"snapshot_created"}`)
		}
	}
}

// TakeSnapshot persists the rate projection keyed to its event cursor.
func (w *SnapshotWorker) TakeSnapshot(ctx context.Context) error {
	cursor, _, buckets := w.rates.GetState()
	if cursor == "" {
		// A fresh projection has no checkpoint to anchor a snapshot on.
		return errors.New("cannot snapshot: no events processed yet")
	}

	payload, err := json.Marshal(SnapshotPayload{Buckets: buckets})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot payload: %w", err)
	}

	return w.store.SaveSnapshot(ctx, &store.Snapshot{
		SnapshotID:    fmt.Sprintf("snap_%d", time.Now().UnixNano()),
		SchemaVersion: 1,
		TsSnapshot:    time.Now().UTC(),
		LastEventID:   store.EventID(cursor),
		Payload:       payload,
	})
}

// LoadLatestSnapshot restores the rate projection from the latest snapshot
// and returns the ingestion time of its checkpoint event. A zero time means
// no snapshot exists and a full replay is needed.
func LoadLatestSnapshot(ctx context.Context, st *store.Store, rates *RateProjection) (time.Time, error) {
	snap, err := st.GetLatestSnapshot(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	if snap == nil {
		return time.Time{}, nil
	}

	// The snapshot row stores only the checkpoint's event id; its ingest
	// time lives on the event itself and anchors the replay window.
	checkpoint, err := st.GetEvent(ctx, snap.LastEventID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get checkpoint event %s: %w", snap.LastEventID, err)
	}
	if checkpoint == nil {
		return time.Time{}, fmt.Errorf("checkpoint event %s missing from journal", snap.LastEventID)
	}

	var payload SnapshotPayload
	if err := json.Unmarshal(snap.Payload, &payload); err != nil {
		return time.Time{}, fmt.Errorf("failed to unmarshal snapshot payload: %w", err)
	}

	rates.LoadState(string(snap.LastEventID), checkpoint.TsIngest, payload.Buckets)
	return checkpoint.TsIngest, nil
}

// RestoreRates rebuilds the rate projection at boot: snapshot first, then
// a batched replay of everything journaled after the checkpoint. It
// returns how many events were replayed.
func RestoreRates(ctx context.Context, st *store.Store, rates *RateProjection) (int, error) {
	since, err := LoadLatestSnapshot(ctx, st, rates)
	if err != nil {
		return 0, err
	}

	const batchSize = 500
	replayed := 0
	for {
		events, err := st.ReadEvents(ctx, since, batchSize)
		if err != nil {
			return replayed, fmt.Errorf("failed to read events for replay: %w", err)
		}
		if len(events) == 0 {
			return replayed, nil
		}
		if err := rates.Replay(events); err != nil {
			return replayed, fmt.Errorf("replay failed: %w", err)
		}
		replayed += len(events)
		since = events[len(events)-1].TsIngest
	}
}
