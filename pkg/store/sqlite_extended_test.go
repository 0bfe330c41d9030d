package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore opens a store on a per-test temp database. Close and
// file removal ride on the test cleanup stack.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "readycheck.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testEvent(id string, eventType EventType) *Event {
	return &Event{
		EventID:       EventID(id),
		EventType:     eventType,
		SchemaVersion: 1,
		TsEvent:       time.Now().UTC(),
		TsIngest:      time.Now().UTC(),
		Source:        EventSource{OriginKind: "test", OriginID: "test", WriterID: "test"},
		Dimensions:    EventDimensions{OwnerID: "hunter_42", PoolID: "mana", AbilityID: SentinelGlobal, SourceID: "sim"},
		Payload:       json.RawMessage(`{}`),
	}
}

func TestGetEvent(t *testing.T) {
	store := setupTestStore(t)

	// A miss is (nil, nil), not an error: callers probe for optional
	// events, e.g. dedup checks before re-journaling.
	val, err := store.GetEvent(context.Background(), "never_written")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil for an id that was never written, got %v", val)
	}

	evt := testEvent("tick_0001", EventTypeSampleObserved)
	if err := store.AppendEvent(context.Background(), evt); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	got, err := store.GetEvent(context.Background(), "tick_0001")
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if got == nil {
		t.Fatalf("expected the stored event back, got nil")
	}
	if got.EventID != evt.EventID {
		t.Errorf("expected ID %s, got %s", evt.EventID, got.EventID)
	}
	if got.Dimensions.PoolID != "mana" {
		t.Errorf("expected pool mana, got %s", got.Dimensions.PoolID)
	}
}

func TestReadRecentEvents(t *testing.T) {
	store := setupTestStore(t)

	// Five samples a second apart in ingest order.
	for i := 1; i <= 5; i++ {
		evt := testEvent(fmt.Sprintf("sample_%d", i), EventTypeSampleObserved)
		evt.TsIngest = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := store.AppendEvent(context.Background(), evt); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	// 1. Newest three, newest first: the /v1/events tail view.
	recent, err := store.ReadRecentEvents(context.Background(), 3)
	if err != nil {
		t.Fatalf("ReadRecentEvents failed: %v", err)
	}
	if len(recent) != 3 {
		t.Errorf("expected 3 events, got %d", len(recent))
	}
	if recent[0].EventID != "sample_5" {
		t.Errorf("expected newest first (sample_5), got %s", recent[0].EventID)
	}
	if recent[2].EventID != "sample_3" {
		t.Errorf("expected sample_3 last in the window, got %s", recent[2].EventID)
	}

	// 2. Non-positive limit falls back to the default, which covers
	// everything seeded here.
	recentAll, err := store.ReadRecentEvents(context.Background(), 0)
	if err != nil {
		t.Fatalf("ReadRecentEvents failed: %v", err)
	}
	if len(recentAll) != 5 {
		t.Errorf("expected all 5 events under the default limit, got %d", len(recentAll))
	}
}

func TestQueryEvents(t *testing.T) {
	store := setupTestStore(t)

	baseTime := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// A morning of activity: hunter ticks mana at 10:00, spends energy
	// at 11:00, and a second owner ticks mana at noon.
	events := []*Event{
		{
			EventID:    "hunter_mana_tick",
			EventType:  EventTypeRegenTickObserved,
			TsEvent:    baseTime,
			Dimensions: EventDimensions{OwnerID: "hunter_42", PoolID: "mana", AbilityID: SentinelGlobal, SourceID: "sim"},
		},
		{
			EventID:    "hunter_energy_spend",
			EventType:  EventTypeSpendObserved,
			TsEvent:    baseTime.Add(1 * time.Hour),
			Dimensions: EventDimensions{OwnerID: "hunter_42", PoolID: "energy", AbilityID: SentinelGlobal, SourceID: "sim"},
		},
		{
			EventID:    "mage_mana_tick",
			EventType:  EventTypeRegenTickObserved,
			TsEvent:    baseTime.Add(2 * time.Hour),
			Dimensions: EventDimensions{OwnerID: "mage_7", PoolID: "mana", AbilityID: SentinelGlobal, SourceID: "sim"},
		},
	}

	for _, e := range events {
		e.SchemaVersion = 1
		e.TsIngest = time.Now().UTC()
		e.Source = EventSource{OriginKind: "test", OriginID: "test", WriterID: "test"}
		e.Payload = json.RawMessage(`{}`)
		if err := store.AppendEvent(context.Background(), e); err != nil {
			t.Fatalf("failed to seed: %v", err)
		}
	}

	// 1. Half-open time range [10:30, 11:30) holds only the spend.
	res, err := store.QueryEvents(context.Background(), EventFilter{
		From: baseTime.Add(30 * time.Minute),
		To:   baseTime.Add(90 * time.Minute),
	})
	if err != nil {
		t.Fatalf("QueryEvents time filter failed: %v", err)
	}
	if len(res) != 1 {
		t.Errorf("expected 1 event in time range, got %d", len(res))
	} else if res[0].EventID != "hunter_energy_spend" {
		t.Errorf("expected hunter_energy_spend, got %s", res[0].EventID)
	}

	// 2. Owner filter.
	res, err = store.QueryEvents(context.Background(), EventFilter{
		OwnerID: "hunter_42",
	})
	if err != nil {
		t.Fatalf("QueryEvents owner filter failed: %v", err)
	}
	if len(res) != 2 {
		t.Errorf("expected 2 events for hunter_42, got %d", len(res))
	}

	// 3. Pool filter crosses owners.
	res, err = store.QueryEvents(context.Background(), EventFilter{
		PoolID: "mana",
	})
	if err != nil {
		t.Fatalf("QueryEvents pool filter failed: %v", err)
	}
	if len(res) != 2 {
		t.Errorf("expected 2 mana events, got %d", len(res))
	}

	// 4. Type filter.
	res, err = store.QueryEvents(context.Background(), EventFilter{
		EventTypes: []EventType{EventTypeSpendObserved},
	})
	if err != nil {
		t.Fatalf("QueryEvents type filter failed: %v", err)
	}
	if len(res) != 1 {
		t.Errorf("expected 1 spend event, got %d", len(res))
	} else if res[0].EventID != "hunter_energy_spend" {
		t.Errorf("expected hunter_energy_spend, got %s", res[0].EventID)
	}

	// 5. Owner and pool together pin down a single row.
	res, err = store.QueryEvents(context.Background(), EventFilter{
		OwnerID: "hunter_42",
		PoolID:  "mana",
	})
	if err != nil {
		t.Fatalf("QueryEvents combined filter failed: %v", err)
	}
	if len(res) != 1 {
		t.Errorf("expected exactly the hunter mana tick, got %d events", len(res))
	} else if res[0].EventID != "hunter_mana_tick" {
		t.Errorf("expected hunter_mana_tick, got %s", res[0].EventID)
	}
}

func TestSystemState(t *testing.T) {
	store := setupTestStore(t)

	// 1. Missing keys surface as ErrKeyNotFound so workers can tell
	// "first run" apart from a broken read.
	val, err := store.GetSystemState(context.Background(), "missing_key")
	if err == nil {
		t.Errorf("expected error for missing key, got nil")
	}
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
	if val != "" {
		t.Errorf("expected empty string, got %s", val)
	}

	// 2. The notifier parks its delivery cursor here between runs.
	key := "notifier_cursor"
	if err := store.SetSystemState(context.Background(), key, "tick_0100"); err != nil {
		t.Fatalf("SetSystemState failed: %v", err)
	}

	got, err := store.GetSystemState(context.Background(), key)
	if err != nil {
		t.Fatalf("GetSystemState failed: %v", err)
	}
	if got != "tick_0100" {
		t.Errorf("expected tick_0100, got %s", got)
	}

	// 3. Writing the same key again replaces, never duplicates.
	if err := store.SetSystemState(context.Background(), key, "tick_0200"); err != nil {
		t.Fatalf("SetSystemState (update) failed: %v", err)
	}

	gotUpdated, err := store.GetSystemState(context.Background(), key)
	if err != nil {
		t.Fatalf("GetSystemState failed: %v", err)
	}
	if gotUpdated != "tick_0200" {
		t.Errorf("expected tick_0200, got %s", gotUpdated)
	}
}

func TestTickStats(t *testing.T) {
	store := setupTestStore(t)

	baseHour := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	baseDay := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	stats := []TickStat{
		{
			BucketTs:    baseHour,
			Granularity: "hour",
			OwnerID:     "hunter_42",
			PoolID:      "mana",
			Phase:       "sustained",
			TotalGain:   100,
			MinGain:     10,
			MaxGain:     50,
			TickCount:   5,
		},
		{
			BucketTs:    baseDay,
			Granularity: "day",
			OwnerID:     "hunter_42",
			PoolID:      "mana",
			Phase:       "sustained",
			TotalGain:   1000,
			MinGain:     10,
			MaxGain:     100,
			TickCount:   50,
		},
	}

	// 1. First write creates both buckets.
	if err := store.UpsertTickStats(context.Background(), stats); err != nil {
		t.Fatalf("UpsertTickStats failed: %v", err)
	}

	// 2. The hourly bucket reads back through the filter the /v1/stats
	// handler builds.
	hourly, err := store.GetTickStats(context.Background(), StatFilter{
		Bucket:  "hour",
		From:    baseHour,
		To:      baseHour.Add(1 * time.Hour),
		OwnerID: "hunter_42",
	})
	if err != nil {
		t.Fatalf("GetTickStats (hourly) failed: %v", err)
	}
	if len(hourly) != 1 {
		t.Errorf("expected 1 hourly stat, got %d", len(hourly))
	} else if hourly[0].TotalGain != 100 {
		t.Errorf("expected total gain 100, got %f", hourly[0].TotalGain)
	}

	// 3. Daily bucket, same day.
	daily, err := store.GetTickStats(context.Background(), StatFilter{
		Bucket: "day",
		From:   baseDay,
		To:     baseDay.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("GetTickStats (daily) failed: %v", err)
	}
	if len(daily) != 1 {
		t.Errorf("expected 1 daily stat, got %d", len(daily))
	}

	// 4. A second rollup pass into the same bucket merges rather than
	// replaces: totals and counts add, min and max widen.
	second := []TickStat{
		{
			BucketTs:    baseHour,
			Granularity: "hour",
			OwnerID:     "hunter_42",
			PoolID:      "mana",
			Phase:       "sustained",
			TotalGain:   50,
			MinGain:     5,
			MaxGain:     60,
			TickCount:   2,
		},
	}
	if err := store.UpsertTickStats(context.Background(), second); err != nil {
		t.Fatalf("UpsertTickStats (merge) failed: %v", err)
	}

	updated, err := store.GetTickStats(context.Background(), StatFilter{
		Bucket: "hour",
		From:   baseHour,
		To:     baseHour.Add(1 * time.Hour),
	})
	if err != nil {
		t.Fatalf("GetTickStats (updated) failed: %v", err)
	}
	u := updated[0]
	if u.TotalGain != 150 {
		t.Errorf("expected merged total 150, got %f", u.TotalGain)
	}
	if u.MinGain != 5 {
		t.Errorf("expected merged min 5, got %f", u.MinGain)
	}
	if u.MaxGain != 60 {
		t.Errorf("expected merged max 60, got %f", u.MaxGain)
	}
	if u.TickCount != 7 {
		t.Errorf("expected merged count 7, got %d", u.TickCount)
	}

	// 5. A bucket timestamp off the hour boundary is a caller bug.
	offBoundary := []TickStat{{
		BucketTs:    baseHour.Add(1 * time.Minute),
		Granularity: "hour",
	}}
	if err := store.UpsertTickStats(context.Background(), offBoundary); err == nil {
		t.Errorf("expected error for off-boundary bucket timestamp, got nil")
	}

	// 6. So is a granularity the schema does not know.
	badGran := []TickStat{{
		BucketTs:    baseHour,
		Granularity: "week",
	}}
	if err := store.UpsertTickStats(context.Background(), badGran); err == nil {
		t.Errorf("expected error for unknown granularity, got nil")
	}
}

// An hourly bucket at midnight and a daily bucket share the same
// timestamp. The granularity column keeps them apart.
func TestTickStatsMidnightBuckets(t *testing.T) {
	store := setupTestStore(t)

	midnight := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	stats := []TickStat{
		{BucketTs: midnight, Granularity: "hour", OwnerID: "o", PoolID: "mana", Phase: "sustained", TotalGain: 40, MinGain: 40, MaxGain: 40, TickCount: 1},
		{BucketTs: midnight, Granularity: "day", OwnerID: "o", PoolID: "mana", Phase: "sustained", TotalGain: 900, MinGain: 30, MaxGain: 45, TickCount: 22},
	}
	if err := store.UpsertTickStats(context.Background(), stats); err != nil {
		t.Fatalf("UpsertTickStats failed: %v", err)
	}

	hourly, err := store.GetTickStats(context.Background(), StatFilter{
		Bucket: "hour", From: midnight, To: midnight.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("GetTickStats (hourly) failed: %v", err)
	}
	if len(hourly) != 1 || hourly[0].TotalGain != 40 {
		t.Errorf("expected 1 hourly stat with total 40, got %+v", hourly)
	}

	daily, err := store.GetTickStats(context.Background(), StatFilter{
		Bucket: "day", From: midnight, To: midnight.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("GetTickStats (daily) failed: %v", err)
	}
	if len(daily) != 1 || daily[0].TotalGain != 900 {
		t.Errorf("expected 1 daily stat with total 900, got %+v", daily)
	}
}

func TestWebhooks(t *testing.T) {
	store := setupTestStore(t)

	wh := &WebhookConfig{
		WebhookID: "wh_overlay",
		URL:       "http://127.0.0.1:9421/hooks/ready",
		Secret:    "overlay-secret",
		Events:    []string{"prediction_made"},
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}

	// 1. Register and read back through List.
	if err := store.RegisterWebhook(context.Background(), wh); err != nil {
		t.Fatalf("RegisterWebhook failed: %v", err)
	}

	list, err := store.ListWebhooks(context.Background())
	if err != nil {
		t.Fatalf("ListWebhooks failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 webhook, got %d", len(list))
	}
	if list[0].WebhookID != "wh_overlay" {
		t.Errorf("expected wh_overlay, got %s", list[0].WebhookID)
	}
	if len(list[0].Events) != 1 || list[0].Events[0] != "prediction_made" {
		t.Errorf("expected the event subscription to round-trip, got %v", list[0].Events)
	}
	if !list[0].Active {
		t.Errorf("expected webhook to be active")
	}

	// 2. Delete empties the table.
	if err := store.DeleteWebhook(context.Background(), "wh_overlay"); err != nil {
		t.Fatalf("DeleteWebhook failed: %v", err)
	}

	listEmpty, err := store.ListWebhooks(context.Background())
	if err != nil {
		t.Fatalf("ListWebhooks failed: %v", err)
	}
	if len(listEmpty) != 0 {
		t.Errorf("expected 0 webhooks after delete, got %d", len(listEmpty))
	}
}
