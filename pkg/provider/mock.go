// Package provider contains the Source implementations that feed the
// sampler: a hand-settable mock, a local game-bridge poller, a recorded
// session replayer, and a synthetic combat world.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/pulseworks/readycheck/pkg/engine"
)

// Mock is a hand-settable source for tests and demos. Pool values only
// change when the test changes them.
type Mock struct {
	id    string
	mu    sync.Mutex
	order []engine.PoolID
	pools map[engine.PoolID]engine.PoolReading
	err   error
}

// NewMock creates an empty mock source.
func NewMock(id string) *Mock {
	return &Mock{
		id:    id,
		pools: make(map[engine.PoolID]engine.PoolReading),
	}
}

func (m *Mock) ID() string {
	return m.id
}

// SetPool sets a pool's current and max values, registering the pool on
// first use.
func (m *Mock) SetPool(poolID engine.PoolID, current, max float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[poolID]; !ok {
		m.order = append(m.order, poolID)
	}
	m.pools[poolID] = engine.PoolReading{PoolID: poolID, Current: current, Max: max}
}

// Adjust shifts a pool's current value by delta, clamped to [0, max].
func (m *Mock) Adjust(poolID engine.PoolID, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reading, ok := m.pools[poolID]
	if !ok {
		return fmt.Errorf("pool %s not found", poolID)
	}
	reading.Current += delta
	if reading.Current < 0 {
		reading.Current = 0
	}
	if reading.Max > 0 && reading.Current > reading.Max {
		reading.Current = reading.Max
	}
	m.pools[poolID] = reading
	return nil
}

// SetError makes every subsequent Read fail with err until cleared with
// SetError(nil).
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Read returns the current pool values in registration order.
func (m *Mock) Read(ctx context.Context) ([]engine.PoolReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}

	readings := make([]engine.PoolReading, 0, len(m.order))
	for _, id := range m.order {
		readings = append(readings, m.pools[id])
	}
	return readings, nil
}
