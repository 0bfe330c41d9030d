package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pulseworks/readycheck/pkg/store"
)

// OwnerInfo is the read-model for one owner seen in the journal.
type OwnerInfo struct {
	ID        string    `json:"id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Events    int       `json:"events"`
	Pools     []string  `json:"pools"`
}

type ownerEntry struct {
	first  time.Time
	last   time.Time
	events int
	pools  map[string]struct{}
}

// EventReader is the slice of the journal the registry syncs from.
type EventReader interface {
	ReadEvents(ctx context.Context, since time.Time, limit int) ([]*store.Event, error)
}

// OwnerProjection maintains an in-memory registry of owners derived from
// journal dimensions. A daemon samples one owner, but the journal can hold
// several: old sessions, other instances writing to a shared store. The
// registry answers "whose data lives here", which is what an operator
// needs before purging anyone.
type OwnerProjection struct {
	mu     sync.RWMutex
	owners map[string]*ownerEntry
	cursor time.Time
}

// NewOwnerProjection creates an empty registry.
func NewOwnerProjection() *OwnerProjection {
	return &OwnerProjection{
		owners: make(map[string]*ownerEntry),
	}
}

// Apply folds one event into the registry. Events with sentinel or empty
// owner dimensions carry no ownership and are skipped.
func (p *OwnerProjection) Apply(event store.Event) {
	owner := event.Dimensions.OwnerID
	if owner == "" || strings.HasPrefix(owner, "sentinel:") {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.apply(event, owner)
}

func (p *OwnerProjection) apply(event store.Event, owner string) {
	entry, ok := p.owners[owner]
	if !ok {
		entry = &ownerEntry{
			first: event.TsEvent,
			pools: make(map[string]struct{}),
		}
		p.owners[owner] = entry
	}
	if event.TsEvent.Before(entry.first) {
		entry.first = event.TsEvent
	}
	if event.TsEvent.After(entry.last) {
		entry.last = event.TsEvent
	}
	entry.events++

	if pool := event.Dimensions.PoolID; pool != "" && !strings.HasPrefix(pool, "sentinel:") {
		entry.pools[pool] = struct{}{}
	}
}

// Replay rebuilds the registry from a slice of events.
func (p *OwnerProjection) Replay(events []*store.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.owners = make(map[string]*ownerEntry)
	p.cursor = time.Time{}
	for _, event := range events {
		if event == nil {
			continue
		}
		owner := event.Dimensions.OwnerID
		if owner == "" || strings.HasPrefix(owner, "sentinel:") {
			continue
		}
		p.apply(*event, owner)
		if event.TsIngest.After(p.cursor) {
			p.cursor = event.TsIngest
		}
	}
}

// Refresh applies everything journaled since the last call, so callers can
// serve a current view without replaying the whole journal per request.
func (p *OwnerProjection) Refresh(ctx context.Context, src EventReader) error {
	const batch = 500

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		events, err := src.ReadEvents(ctx, p.cursor, batch)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for _, event := range events {
			owner := event.Dimensions.OwnerID
			if owner == "" || strings.HasPrefix(owner, "sentinel:") {
				continue
			}
			p.apply(*event, owner)
		}
		p.cursor = events[len(events)-1].TsIngest
		if len(events) < batch {
			return nil
		}
	}
}

// GetAll returns every known owner sorted by ID.
func (p *OwnerProjection) GetAll() []OwnerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	list := make([]OwnerInfo, 0, len(p.owners))
	for id, entry := range p.owners {
		list = append(list, p.info(id, entry))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Get looks up a specific owner.
func (p *OwnerProjection) Get(id string) (OwnerInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.owners[id]
	if !ok {
		return OwnerInfo{}, false
	}
	return p.info(id, entry), true
}

// Remove drops an owner from the registry. Called after a purge so the
// view does not resurrect deleted data; the cursor stays put because the
// journal rows are gone too.
func (p *OwnerProjection) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.owners, id)
}

func (p *OwnerProjection) info(id string, entry *ownerEntry) OwnerInfo {
	pools := make([]string, 0, len(entry.pools))
	for pool := range entry.pools {
		pools = append(pools, pool)
	}
	sort.Strings(pools)
	return OwnerInfo{
		ID:        id,
		FirstSeen: entry.first,
		LastSeen:  entry.last,
		Events:    entry.events,
		Pools:     pools,
	}
}
