package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "readycheck.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file was not created at %s", dbPath)
	}

	// Opening the store runs the migration; every table the daemon
	// touches must exist before the first write.
	for _, table := range []string{"events", "system_state", "snapshots", "tick_stats", "webhooks", "leases"} {
		var tableName string
		err = store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&tableName)
		if err != nil {
			t.Fatalf("failed to query sqlite_master for %s table: %v", table, err)
		}
		if tableName != table {
			t.Errorf("expected table %q to exist, but it was not found", table)
		}
	}

	// The ingest index backs ReadEvents cursors and the correlation
	// index backs causation lookups; without them both degrade to full
	// scans silently.
	rows, err := store.db.Query("PRAGMA index_list('events')")
	if err != nil {
		t.Fatalf("failed to query index_list: %v", err)
	}
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var seq int
		var name string
		var unique int
		var origin string
		var partial int
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			// The number of columns returned by PRAGMA index_list varies by SQLite version.
			t.Logf("scanning index row failed: %v", err)
			continue
		}
		found[name] = true
	}

	if !found["idx_events_ts_ingest"] {
		t.Errorf("idx_events_ts_ingest not found")
	}
	if !found["idx_events_correlation"] {
		t.Errorf("idx_events_correlation not found")
	}
}
