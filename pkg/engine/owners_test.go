package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pulseworks/readycheck/pkg/store"
)

func ownerEvent(id, owner, pool string, ts time.Time) *store.Event {
	return &store.Event{
		EventID:   store.EventID(id),
		EventType: store.EventTypeSpendObserved,
		TsEvent:   ts,
		TsIngest:  ts,
		Dimensions: store.EventDimensions{
			OwnerID:  owner,
			PoolID:   pool,
			SourceID: "synthetic",
		},
	}
}

func TestOwnerProjectionApply(t *testing.T) {
	p := NewOwnerProjection()
	base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	// 1. System and anonymous events carry no ownership
	p.Apply(*ownerEvent("e1", store.SentinelSystem, "energy", base))
	p.Apply(*ownerEvent("e2", "", "energy", base))
	if got := len(p.GetAll()); got != 0 {
		t.Fatalf("expected empty registry, got %d owners", got)
	}

	// 2. Real owners are tracked with their pools
	p.Apply(*ownerEvent("e3", "hunter_42", "energy", base.Add(time.Minute)))
	p.Apply(*ownerEvent("e4", "hunter_42", "mana", base.Add(2*time.Minute)))
	p.Apply(*ownerEvent("e5", "hunter_42", store.SentinelGlobal, base.Add(3*time.Minute)))

	info, ok := p.Get("hunter_42")
	if !ok {
		t.Fatal("expected hunter_42 in registry")
	}
	if info.Events != 3 {
		t.Errorf("expected 3 events, got %d", info.Events)
	}
	if len(info.Pools) != 2 || info.Pools[0] != "energy" || info.Pools[1] != "mana" {
		t.Errorf("expected pools [energy mana], got %v", info.Pools)
	}

	// 3. First/last seen follow event time, not arrival order
	p.Apply(*ownerEvent("e6", "hunter_42", "energy", base.Add(-time.Hour)))
	info, _ = p.Get("hunter_42")
	if !info.FirstSeen.Equal(base.Add(-time.Hour)) {
		t.Errorf("expected first seen %v, got %v", base.Add(-time.Hour), info.FirstSeen)
	}
	if !info.LastSeen.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("expected last seen %v, got %v", base.Add(3*time.Minute), info.LastSeen)
	}
}

func TestOwnerProjectionReplay(t *testing.T) {
	p := NewOwnerProjection()
	base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	// 1. Pre-existing state is discarded by a replay
	p.Apply(*ownerEvent("old", "ghost", "energy", base))

	p.Replay([]*store.Event{
		ownerEvent("e1", "hunter_42", "energy", base),
		nil,
		ownerEvent("e2", "mage_7", "mana", base.Add(time.Minute)),
		ownerEvent("e3", store.SentinelSystem, "mana", base.Add(2*time.Minute)),
	})

	all := p.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 owners after replay, got %d", len(all))
	}
	if all[0].ID != "hunter_42" || all[1].ID != "mage_7" {
		t.Errorf("expected sorted owners [hunter_42 mage_7], got [%s %s]", all[0].ID, all[1].ID)
	}
	if _, ok := p.Get("ghost"); ok {
		t.Error("replay should have dropped pre-existing state")
	}
}

func TestOwnerProjectionRefresh(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewStore(filepath.Join(dir, "readycheck.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	// 1. Journal events for two owners
	for _, evt := range []*store.Event{
		ownerEvent("e1", "hunter_42", "energy", base),
		ownerEvent("e2", "mage_7", "mana", base.Add(time.Second)),
		ownerEvent("e3", "hunter_42", "energy", base.Add(2*time.Second)),
	} {
		if err := st.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	p := NewOwnerProjection()
	if err := p.Refresh(ctx, st); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	info, ok := p.Get("hunter_42")
	if !ok || info.Events != 2 {
		t.Fatalf("expected hunter_42 with 2 events, got %+v ok=%v", info, ok)
	}

	// 2. A second refresh only folds in what arrived since
	if err := st.AppendEvent(ctx, ownerEvent("e4", "hunter_42", "rage", base.Add(3*time.Second))); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	if err := p.Refresh(ctx, st); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	info, _ = p.Get("hunter_42")
	if info.Events != 3 {
		t.Errorf("expected 3 events after incremental refresh, got %d", info.Events)
	}
	if len(info.Pools) != 2 || info.Pools[1] != "rage" {
		t.Errorf("expected pools [energy rage], got %v", info.Pools)
	}
	if mage, _ := p.Get("mage_7"); mage.Events != 1 {
		t.Errorf("expected mage_7 untouched at 1 event, got %d", mage.Events)
	}
}

func TestOwnerProjectionRemove(t *testing.T) {
	p := NewOwnerProjection()
	base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	p.Apply(*ownerEvent("e1", "hunter_42", "energy", base))
	p.Remove("hunter_42")

	if _, ok := p.Get("hunter_42"); ok {
		t.Error("expected hunter_42 gone after Remove")
	}
	if got := len(p.GetAll()); got != 0 {
		t.Errorf("expected empty registry, got %d owners", got)
	}
}
