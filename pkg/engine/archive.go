package engine

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pulseworks/readycheck/pkg/blob"
	"github.com/pulseworks/readycheck/pkg/store"
)

// ArchiveConfig holds configuration for the ArchiveWorker.
type ArchiveConfig struct {
	Enabled       bool          `json:"enabled"`
	Retention     time.Duration `json:"retention"`
	BatchSize     int           `json:"batch_size"`
	CheckInterval time.Duration `json:"check_interval"`
}

// ArchiveWorker moves cold journal events into blob storage as gzipped
// JSON Lines segments, then deletes them from the journal. Tick
// observations dominate the journal; archiving keeps the sqlite file
// small without losing the session history.
type ArchiveWorker struct {
	store     *store.Store
	blobStore blob.BlobStore
	config    ArchiveConfig
}

func NewArchiveWorker(st *store.Store, blobStore blob.BlobStore, config ArchiveConfig) *ArchiveWorker {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = 10 * time.Minute
	}
	return &ArchiveWorker{
		store:     st,
		blobStore: blobStore,
		config:    config,
	}
}

// Run starts the archive worker loop.
func (w *ArchiveWorker) Run(ctx context.Context) {
	log.Printf("Starting archive worker (interval: %v)", w.config.CheckInterval)
	ticker := time.NewTicker(w.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Archive worker stopping")
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				log.Printf("Archive worker error: %v", err)
			}
		}
	}
}

// archiveCutoff picks the newest ingest time that is safe to archive.
// Rate replay reads only the journal, so an event may leave it only once
// a snapshot checkpoint covers it; without a snapshot nothing moves.
func (w *ArchiveWorker) archiveCutoff(ctx context.Context) (time.Time, bool, error) {
	snap, err := w.store.GetLatestSnapshot(ctx)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	if snap == nil {
		return time.Time{}, false, nil
	}
	checkpoint, err := w.store.GetEvent(ctx, snap.LastEventID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to load snapshot checkpoint: %w", err)
	}

	cutoff := time.Now().UTC().Add(-w.config.Retention)
	if checkpoint != nil && checkpoint.TsIngest.Before(cutoff) {
		cutoff = checkpoint.TsIngest
	}
	return cutoff, true, nil
}

// encodeSegment gzips the batch as one JSON Lines segment.
func encodeSegment(events []*store.Event) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			gz.Close()
			return nil, fmt.Errorf("failed to encode event %s: %w", event.EventID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return &buf, nil
}

// segmentKey names a segment events/YYYY/MM/DD/first_last_uuid.jsonl.gz,
// dated and bounded by the batch's ingest times so operators can find a
// session without opening segments.
func segmentKey(events []*store.Event) string {
	first, last := events[0], events[len(events)-1]
	year, month, day := first.TsIngest.Date()
	return fmt.Sprintf("events/%04d/%02d/%02d/%d_%d_%s.jsonl.gz",
		year, month, day,
		first.TsIngest.Unix(),
		last.TsIngest.Unix(),
		uuid.New().String(),
	)
}

func (w *ArchiveWorker) processBatch(ctx context.Context) error {
	cutoff, ok, err := w.archiveCutoff(ctx)
	if err != nil || !ok {
		return err
	}

	events, err := w.store.ReadCandidateEvents(ctx, cutoff, w.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to read candidate events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	buf, err := encodeSegment(events)
	if err != nil {
		return err
	}

	key := segmentKey(events)
	if err := w.blobStore.Put(ctx, key, buf); err != nil {
		return fmt.Errorf("failed to upload archive to blob store: %w", err)
	}

	// Delete only after the blob write succeeded.
	ids := make([]string, 0, len(events))
	for _, event := range events {
		ids = append(ids, string(event.EventID))
	}
	if err := w.store.DeleteEvents(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete archived events: %w", err)
	}

	log.Printf("Archived %d events to %s", len(events), key)
	return nil
}
