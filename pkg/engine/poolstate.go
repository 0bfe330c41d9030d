package engine

import (
	"fmt"
	"sync"
)

// StateStore abstracts the storage of live pool status. The sampler writes
// a fresh PoolStatus per pool every cycle; API handlers and external HUD
// processes read it. The redis backend mirrors the same interface for
// multi-process setups.
type StateStore interface {
	Get(ownerID string, poolID PoolID) (PoolStatus, bool)
	Set(status PoolStatus)
	GetAll() []PoolStatus
	Clear()
}

// MemoryStateStore implements StateStore using an in-memory map. Unlike
// the journal projections it has no surrounding single-writer guard, so it
// locks internally.
type MemoryStateStore struct {
	mu    sync.RWMutex
	pools map[string]PoolStatus
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		pools: make(map[string]PoolStatus),
	}
}

// makeStatusKey generates a unique key for a pool
func makeStatusKey(ownerID string, poolID PoolID) string {
	return fmt.Sprintf("%s:%s", ownerID, poolID)
}

func (s *MemoryStateStore) Get(ownerID string, poolID PoolID) (PoolStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.pools[makeStatusKey(ownerID, poolID)]
	return status, ok
}

func (s *MemoryStateStore) Set(status PoolStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[makeStatusKey(status.OwnerID, status.PoolID)] = status
}

func (s *MemoryStateStore) GetAll() []PoolStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]PoolStatus, 0, len(s.pools))
	for _, status := range s.pools {
		list = append(list, status)
	}
	return list
}

func (s *MemoryStateStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools = make(map[string]PoolStatus)
}
