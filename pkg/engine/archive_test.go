package engine

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pulseworks/readycheck/pkg/blob"
	"github.com/pulseworks/readycheck/pkg/store"
)

func archiveTestEvent(ts time.Time) *store.Event {
	return &store.Event{
		EventID:       store.EventID(uuid.New().String()),
		EventType:     store.EventTypeRegenTickObserved,
		SchemaVersion: 1,
		TsEvent:       ts,
		TsIngest:      ts,
		Source: store.EventSource{
			OriginKind: "daemon",
			OriginID:   "sampler",
			WriterID:   "readycheck-d",
		},
		Dimensions: store.EventDimensions{
			OwnerID:   "hunter_42",
			PoolID:    "mana",
			AbilityID: store.SentinelGlobal,
			SourceID:  "mock_client",
		},
		Correlation: store.EventCorrelation{
			CorrelationID: uuid.New().String(),
		},
		Payload: json.RawMessage(`{"pool_id":"mana","phase":"sustained","amount":40,"recorded":true}`),
	}
}

func setupArchiveTest(t *testing.T) (*store.Store, *blob.LocalBlobStore, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "readycheck-archive-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	st, err := store.NewStore(filepath.Join(tmpDir, "readycheck.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("NewStore failed: %v", err)
	}
	blobStore := blob.NewLocalBlobStore(filepath.Join(tmpDir, "blobs"))
	return st, blobStore, func() {
		st.Close()
		os.RemoveAll(tmpDir)
	}
}

func TestArchiveWorkerProcessBatch(t *testing.T) {
	st, blobStore, cleanup := setupArchiveTest(t)
	defer cleanup()
	ctx := context.Background()

	// 1. Five cold ticks past retention, five warm ones inside it
	now := time.Now().UTC()
	retention := time.Hour
	oldTime := now.Add(-2 * retention)
	newTime := now.Add(-30 * time.Minute)

	for i := 0; i < 5; i++ {
		if err := st.AppendEvent(ctx, archiveTestEvent(oldTime)); err != nil {
			t.Fatalf("failed to append old event %d: %v", i, err)
		}
	}
	var lastNew *store.Event
	for i := 0; i < 5; i++ {
		lastNew = archiveTestEvent(newTime)
		if err := st.AppendEvent(ctx, lastNew); err != nil {
			t.Fatalf("failed to append new event %d: %v", i, err)
		}
	}

	// 2. Snapshot checkpointed at the newest event covers everything older
	if err := st.SaveSnapshot(ctx, &store.Snapshot{
		SnapshotID:    "snap_1",
		SchemaVersion: 1,
		TsSnapshot:    now,
		LastEventID:   lastNew.EventID,
		Payload:       []byte("{}"),
	}); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	worker := NewArchiveWorker(st, blobStore, ArchiveConfig{
		Enabled:       true,
		Retention:     retention,
		BatchSize:     10,
		CheckInterval: time.Minute,
	})
	if err := worker.processBatch(ctx); err != nil {
		t.Fatalf("processBatch failed: %v", err)
	}

	// 3. Journal keeps only the warm events
	events, err := st.ReadEvents(ctx, time.Time{}, 100)
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 5 {
		t.Errorf("expected 5 events remaining, got %d", len(events))
	}
	for _, event := range events {
		if event.TsIngest.Before(newTime.Add(-time.Minute)) {
			t.Errorf("found old event that should have been archived: %v", event.EventID)
		}
	}

	// 4. Blob holds the cold events as gzipped JSON Lines
	files, err := blobStore.List(ctx, "events/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 archived file, got %d", len(files))
	}

	reader, err := blobStore.Get(ctx, files[0])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	gzReader, err := gzip.NewReader(reader)
	if err != nil {
		reader.Close()
		t.Fatalf("gzip.NewReader failed: %v", err)
	}
	data, err := io.ReadAll(gzReader)
	gzReader.Close()
	reader.Close()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	var archived []*store.Event
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var event store.Event
		if err := json.Unmarshal(line, &event); err != nil {
			t.Fatalf("json.Unmarshal failed: %v", err)
		}
		archived = append(archived, &event)
	}
	if len(archived) != 5 {
		t.Errorf("expected 5 archived events, got %d", len(archived))
	}
	for _, event := range archived {
		if !event.TsIngest.Equal(oldTime) {
			t.Errorf("archived event has wrong TsIngest: %v", event.TsIngest)
		}
		if event.EventType != store.EventTypeRegenTickObserved {
			t.Errorf("archived event has wrong type: %v", event.EventType)
		}
	}
}

func TestArchiveWorkerWithoutSnapshot(t *testing.T) {
	st, blobStore, cleanup := setupArchiveTest(t)
	defer cleanup()
	ctx := context.Background()

	oldTime := time.Now().UTC().Add(-2 * time.Hour)
	if err := st.AppendEvent(ctx, archiveTestEvent(oldTime)); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	// Without a snapshot, replay still needs every event. Nothing may
	// leave the journal.
	worker := NewArchiveWorker(st, blobStore, ArchiveConfig{
		Enabled:   true,
		Retention: time.Hour,
	})
	if err := worker.processBatch(ctx); err != nil {
		t.Fatalf("processBatch failed: %v", err)
	}

	events, err := st.ReadEvents(ctx, time.Time{}, 100)
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected event to survive without a snapshot, got %d events", len(events))
	}
	files, err := blobStore.List(ctx, "events/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected no archive files, got %d", len(files))
	}
}

func TestArchiveWorkerStopsAtCheckpoint(t *testing.T) {
	st, blobStore, cleanup := setupArchiveTest(t)
	defer cleanup()
	ctx := context.Background()

	// Checkpoint sits between two cold events. Only the one before the
	// checkpoint may be archived, and the checkpoint event itself stays.
	now := time.Now().UTC()
	older := archiveTestEvent(now.Add(-4 * time.Hour))
	checkpoint := archiveTestEvent(now.Add(-3 * time.Hour))
	newer := archiveTestEvent(now.Add(-2 * time.Hour))
	for _, evt := range []*store.Event{older, checkpoint, newer} {
		if err := st.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}
	if err := st.SaveSnapshot(ctx, &store.Snapshot{
		SnapshotID:    "snap_1",
		SchemaVersion: 1,
		TsSnapshot:    now.Add(-3 * time.Hour),
		LastEventID:   checkpoint.EventID,
		Payload:       []byte("{}"),
	}); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	worker := NewArchiveWorker(st, blobStore, ArchiveConfig{
		Enabled:   true,
		Retention: time.Hour,
	})
	if err := worker.processBatch(ctx); err != nil {
		t.Fatalf("processBatch failed: %v", err)
	}

	if evt, _ := st.GetEvent(ctx, older.EventID); evt != nil {
		t.Errorf("expected pre-checkpoint event to be archived")
	}
	if evt, _ := st.GetEvent(ctx, checkpoint.EventID); evt == nil {
		t.Errorf("expected checkpoint event to stay in the journal")
	}
	if evt, _ := st.GetEvent(ctx, newer.EventID); evt == nil {
		t.Errorf("expected post-checkpoint event to stay in the journal")
	}
}
