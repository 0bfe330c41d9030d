package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store manages the SQLite connection and schema.
type Store struct {
	db *sql.DB
}

// NewStore initializes the SQLite database connection.
// It enables WAL mode for concurrency and durability.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	// Enable WAL mode (Write-Ahead Logging)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the necessary tables if they don't exist.
func (s *Store) migrate() error {
	// The events table is append-only. Envelope fields are stored as
	// columns for querying, the payload as a JSON blob.
	query := `
	CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		schema_version INTEGER NOT NULL,
		ts_event DATETIME NOT NULL,
		ts_ingest DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		epoch INTEGER NOT NULL DEFAULT 0,

		-- Source metadata
		origin_kind TEXT,
		origin_id TEXT,
		writer_id TEXT,

		-- Dimensions (Mandatory)
		owner_id TEXT NOT NULL,
		pool_id TEXT NOT NULL,
		ability_id TEXT NOT NULL,
		source_id TEXT NOT NULL,

		-- Correlation
		correlation_id TEXT,
		causation_id TEXT,

		-- Payload
		payload JSON NOT NULL
	);

	-- Index for replay by ingestion order
	CREATE INDEX IF NOT EXISTS idx_events_ts_ingest ON events(ts_ingest);

	-- Index for lookup by correlation (common access pattern)
	CREATE INDEX IF NOT EXISTS idx_events_correlation ON events(correlation_id);

	CREATE TABLE IF NOT EXISTS system_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		snapshot_id TEXT PRIMARY KEY,
		schema_version INTEGER NOT NULL,
		ts_snapshot DATETIME NOT NULL,
		last_event_id TEXT NOT NULL,
		payload JSON NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts_snapshot);

	CREATE TABLE IF NOT EXISTS tick_stats (
		bucket_ts DATETIME NOT NULL,
		granularity TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		pool_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		total_gain REAL NOT NULL DEFAULT 0,
		min_gain REAL NOT NULL DEFAULT 0,
		max_gain REAL NOT NULL DEFAULT 0,
		tick_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (bucket_ts, granularity, owner_id, pool_id, phase)
	);

	CREATE TABLE IF NOT EXISTS webhooks (
		webhook_id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		secret TEXT,
		events TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS leases (
		name TEXT PRIMARY KEY,
		holder_id TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		epoch INTEGER NOT NULL DEFAULT 1
	);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// AppendEvent writes one event to the journal.
func (s *Store) AppendEvent(ctx context.Context, evt *Event) error {
	if evt == nil {
		return errors.New("nil event")
	}
	if evt.EventID == "" {
		return errors.New("event_id is required")
	}
	if evt.Payload == nil {
		evt.Payload = json.RawMessage(`{}`)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			event_id, event_type, schema_version, ts_event, ts_ingest, epoch,
			origin_kind, origin_id, writer_id,
			owner_id, pool_id, ability_id, source_id,
			correlation_id, causation_id, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(evt.EventID), string(evt.EventType), evt.SchemaVersion,
		evt.TsEvent, evt.TsIngest, evt.Epoch,
		evt.Source.OriginKind, evt.Source.OriginID, evt.Source.WriterID,
		evt.Dimensions.OwnerID, evt.Dimensions.PoolID, evt.Dimensions.AbilityID, evt.Dimensions.SourceID,
		evt.Correlation.CorrelationID, evt.Correlation.CausationID, string(evt.Payload),
	)
	if err != nil {
		return fmt.Errorf("failed to append event %s: %w", evt.EventID, err)
	}
	return nil
}

const eventColumns = `event_id, event_type, schema_version, ts_event, ts_ingest, epoch,
	origin_kind, origin_id, writer_id,
	owner_id, pool_id, ability_id, source_id,
	correlation_id, causation_id, payload`

// scanEvent reads one event row into an Event.
func scanEvent(scanner interface{ Scan(...any) error }) (*Event, error) {
	var evt Event
	var payload string
	err := scanner.Scan(
		&evt.EventID, &evt.EventType, &evt.SchemaVersion, &evt.TsEvent, &evt.TsIngest, &evt.Epoch,
		&evt.Source.OriginKind, &evt.Source.OriginID, &evt.Source.WriterID,
		&evt.Dimensions.OwnerID, &evt.Dimensions.PoolID, &evt.Dimensions.AbilityID, &evt.Dimensions.SourceID,
		&evt.Correlation.CorrelationID, &evt.Correlation.CausationID, &payload,
	)
	if err != nil {
		return nil, err
	}
	evt.Payload = json.RawMessage(payload)
	return &evt, nil
}

// GetEvent returns a single event by ID, or nil if it does not exist.
func (s *Store) GetEvent(ctx context.Context, id EventID) (*Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE event_id = ?`, string(id))
	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event %s: %w", id, err)
	}
	return evt, nil
}

// ReadEvents returns up to limit events ingested strictly after since, in
// ingestion order. Used by the dispatcher and rollup cursors.
func (s *Store) ReadEvents(ctx context.Context, since time.Time, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE ts_ingest > ? ORDER BY ts_ingest ASC, event_id ASC LIMIT ?`,
		since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ReadRecentEvents returns the newest events first, up to limit.
func (s *Store) ReadRecentEvents(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY ts_ingest DESC, event_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ReadCandidateEvents returns up to limit events ingested strictly before
// the cutoff, oldest first. Used by the archive worker.
func (s *Store) ReadCandidateEvents(ctx context.Context, before time.Time, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE ts_ingest < ? ORDER BY ts_ingest ASC, event_id ASC LIMIT ?`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidate events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// QueryEvents returns events matching the filter, in event-time order.
func (s *Store) QueryEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	var conds []string
	var args []any

	if !filter.From.IsZero() {
		conds = append(conds, "ts_event >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		conds = append(conds, "ts_event < ?")
		args = append(args, filter.To)
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			placeholders[i] = "?"
			args = append(args, string(et))
		}
		conds = append(conds, "event_type IN ("+strings.Join(placeholders, ",")+")")
	}
	if filter.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.PoolID != "" {
		conds = append(conds, "pool_id = ?")
		args = append(args, filter.PoolID)
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts_event ASC, event_id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// DeleteEvents removes the given events by ID. A nil or empty list is a
// no-op.
func (s *Store) DeleteEvents(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE event_id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	return nil
}

// PruneEvents deletes events older than the retention window. It refuses
// to prune past the latest snapshot's checkpoint so replay stays possible.
// eventType restricts pruning to one type; exclusions protects types from
// the unrestricted pass. Returns the number of deleted rows.
func (s *Store) PruneEvents(ctx context.Context, retention time.Duration, eventType string, exclusions []string) (int64, error) {
	snap, err := s.GetLatestSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	if snap == nil {
		return 0, ErrNoSnapshots
	}

	checkpoint, err := s.GetEvent(ctx, snap.LastEventID)
	if err != nil {
		return 0, fmt.Errorf("failed to load snapshot checkpoint: %w", err)
	}

	cutoff := time.Now().UTC().Add(-retention)
	// Never prune events the latest snapshot has not covered yet.
	if checkpoint != nil && checkpoint.TsIngest.Before(cutoff) {
		cutoff = checkpoint.TsIngest
	}

	conds := []string{"ts_ingest < ?"}
	args := []any{cutoff}

	if eventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, eventType)
	} else if len(exclusions) > 0 {
		placeholders := make([]string, len(exclusions))
		for i, ex := range exclusions {
			placeholders[i] = "?"
			args = append(args, ex)
		}
		conds = append(conds, "event_type NOT IN ("+strings.Join(placeholders, ",")+")")
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE `+strings.Join(conds, " AND "), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return res.RowsAffected()
}

// SetSystemState upserts a key/value pair in system_state.
func (s *Store) SetSystemState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set system state %s: %w", key, err)
	}
	return nil
}

// GetSystemState returns the value for a key, or ErrKeyNotFound.
func (s *Store) GetSystemState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM system_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return "", fmt.Errorf("failed to get system state %s: %w", key, err)
	}
	return value, nil
}

// SaveSnapshot persists a snapshot of the learned-rate state.
func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (snapshot_id, schema_version, ts_snapshot, last_event_id, payload)
		VALUES (?, ?, ?, ?, ?)
	`, snap.SnapshotID, snap.SchemaVersion, snap.TsSnapshot, string(snap.LastEventID), string(snap.Payload))
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snap.SnapshotID, err)
	}
	return nil
}

// GetLatestSnapshot returns the most recent snapshot, or nil if none exist.
func (s *Store) GetLatestSnapshot(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot_id, schema_version, ts_snapshot, last_event_id, payload
		FROM snapshots ORDER BY ts_snapshot DESC LIMIT 1
	`).Scan(&snap.SnapshotID, &snap.SchemaVersion, &snap.TsSnapshot, &snap.LastEventID, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	snap.Payload = json.RawMessage(payload)
	return &snap, nil
}

// GetLatestSnapshotTime returns the timestamp of the most recent snapshot,
// or the zero time if none exist.
func (s *Store) GetLatestSnapshotTime(ctx context.Context) (time.Time, error) {
	snap, err := s.GetLatestSnapshot(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if snap == nil {
		return time.Time{}, nil
	}
	return snap.TsSnapshot, nil
}

// UpsertTickStats merges aggregated tick statistics into their buckets:
// totals and counts add, minima and maxima extend.
func (s *Store) UpsertTickStats(ctx context.Context, stats []TickStat) error {
	if len(stats) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, stat := range stats {
		if err := validateBucket(stat); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tick_stats (bucket_ts, granularity, owner_id, pool_id, phase, total_gain, min_gain, max_gain, tick_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(bucket_ts, granularity, owner_id, pool_id, phase) DO UPDATE SET
				total_gain = total_gain + excluded.total_gain,
				min_gain = MIN(min_gain, excluded.min_gain),
				max_gain = MAX(max_gain, excluded.max_gain),
				tick_count = tick_count + excluded.tick_count
		`, stat.BucketTs, stat.Granularity, stat.OwnerID, stat.PoolID, stat.Phase,
			stat.TotalGain, stat.MinGain, stat.MaxGain, stat.TickCount)
		if err != nil {
			return fmt.Errorf("failed to upsert tick stat: %w", err)
		}
	}

	return tx.Commit()
}

// validateBucket checks that the bucket timestamp is aligned to its
// granularity.
func validateBucket(stat TickStat) error {
	switch stat.Granularity {
	case "hour":
		if !stat.BucketTs.Truncate(time.Hour).Equal(stat.BucketTs) {
			return fmt.Errorf("bucket %v is not aligned to the hour", stat.BucketTs)
		}
	case "day":
		if !stat.BucketTs.Truncate(24 * time.Hour).Equal(stat.BucketTs) {
			return fmt.Errorf("bucket %v is not aligned to the day", stat.BucketTs)
		}
	default:
		return fmt.Errorf("unknown granularity %q", stat.Granularity)
	}
	return nil
}

// GetTickStats returns tick statistics matching the filter, oldest first.
func (s *Store) GetTickStats(ctx context.Context, filter StatFilter) ([]TickStat, error) {
	bucket := filter.Bucket
	if bucket == "" {
		bucket = "hour"
	}

	conds := []string{"granularity = ?"}
	args := []any{bucket}

	if !filter.From.IsZero() {
		conds = append(conds, "bucket_ts >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		conds = append(conds, "bucket_ts < ?")
		args = append(args, filter.To)
	}
	if filter.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.PoolID != "" {
		conds = append(conds, "pool_id = ?")
		args = append(args, filter.PoolID)
	}
	if filter.Phase != "" {
		conds = append(conds, "phase = ?")
		args = append(args, filter.Phase)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket_ts, granularity, owner_id, pool_id, phase, total_gain, min_gain, max_gain, tick_count
		FROM tick_stats WHERE `+strings.Join(conds, " AND ")+` ORDER BY bucket_ts ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tick stats: %w", err)
	}
	defer rows.Close()

	var stats []TickStat
	for rows.Next() {
		var st TickStat
		if err := rows.Scan(&st.BucketTs, &st.Granularity, &st.OwnerID, &st.PoolID, &st.Phase,
			&st.TotalGain, &st.MinGain, &st.MaxGain, &st.TickCount); err != nil {
			return nil, fmt.Errorf("failed to scan tick stat: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// RegisterWebhook stores a webhook registration.
func (s *Store) RegisterWebhook(ctx context.Context, wh *WebhookConfig) error {
	if wh == nil {
		return errors.New("nil webhook")
	}
	events, err := json.Marshal(wh.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook events: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhooks (webhook_id, url, secret, events, created_at, active)
		VALUES (?, ?, ?, ?, ?, ?)
	`, wh.WebhookID, wh.URL, wh.Secret, string(events), wh.CreatedAt, boolToInt(wh.Active))
	if err != nil {
		return fmt.Errorf("failed to register webhook %s: %w", wh.WebhookID, err)
	}
	return nil
}

// ListWebhooks returns all registered webhooks.
func (s *Store) ListWebhooks(ctx context.Context) ([]*WebhookConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT webhook_id, url, secret, events, created_at, active FROM webhooks ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []*WebhookConfig
	for rows.Next() {
		var wh WebhookConfig
		var events string
		var active int
		if err := rows.Scan(&wh.WebhookID, &wh.URL, &wh.Secret, &events, &wh.CreatedAt, &active); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		if err := json.Unmarshal([]byte(events), &wh.Events); err != nil {
			return nil, fmt.Errorf("failed to unmarshal webhook events: %w", err)
		}
		wh.Active = active != 0
		hooks = append(hooks, &wh)
	}
	return hooks, rows.Err()
}

// DeleteWebhook removes a webhook registration.
func (s *Store) DeleteWebhook(ctx context.Context, webhookID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE webhook_id = ?`, webhookID)
	if err != nil {
		return fmt.Errorf("failed to delete webhook %s: %w", webhookID, err)
	}
	return nil
}

// DeleteOwnerData removes all events and statistics for one owner.
func (s *Store) DeleteOwnerData(ctx context.Context, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("failed to delete events for %s: %w", ownerID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tick_stats WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("failed to delete tick stats for %s: %w", ownerID, err)
	}

	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
