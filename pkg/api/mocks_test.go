package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pulseworks/readycheck/pkg/engine"
	"github.com/pulseworks/readycheck/pkg/store"
)

// MockStore records appended events and serves canned query results.
type MockStore struct {
	mu     sync.Mutex
	events []*store.Event

	journal      []*store.Event
	recentEvents []*store.Event
	queried      []*store.Event
	stats        []store.TickStat
	webhooks     []*store.WebhookConfig
	prunedCount  int64

	lastEventFilter store.EventFilter
	lastStatFilter  store.StatFilter
	deletedOwner    string
	deletedWebhook  string
	registered      *store.WebhookConfig
}

func (m *MockStore) AppendEvent(ctx context.Context, event *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockStore) ReadEvents(ctx context.Context, since time.Time, limit int) ([]*store.Event, error) {
	var out []*store.Event
	for _, evt := range m.journal {
		if evt.TsIngest.After(since) {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (m *MockStore) ReadRecentEvents(ctx context.Context, limit int) ([]*store.Event, error) {
	return m.recentEvents, nil
}

func (m *MockStore) QueryEvents(ctx context.Context, filter store.EventFilter) ([]*store.Event, error) {
	m.lastEventFilter = filter
	return m.queried, nil
}

func (m *MockStore) GetTickStats(ctx context.Context, filter store.StatFilter) ([]store.TickStat, error) {
	m.lastStatFilter = filter
	return m.stats, nil
}

func (m *MockStore) PruneEvents(ctx context.Context, retention time.Duration, includeType string, excludeTypes []string) (int64, error) {
	return m.prunedCount, nil
}

func (m *MockStore) DeleteOwnerData(ctx context.Context, ownerID string) error {
	m.deletedOwner = ownerID
	return nil
}

func (m *MockStore) RegisterWebhook(ctx context.Context, cfg *store.WebhookConfig) error {
	m.registered = cfg
	return nil
}

func (m *MockStore) ListWebhooks(ctx context.Context) ([]*store.WebhookConfig, error) {
	return m.webhooks, nil
}

func (m *MockStore) DeleteWebhook(ctx context.Context, webhookID string) error {
	m.deletedWebhook = webhookID
	return nil
}

func (m *MockStore) appendedEvents() []*store.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Event, len(m.events))
	copy(out, m.events)
	return out
}

// MockElectionManager drives the leader-check middleware in tests.
type MockElectionManager struct {
	IsLeaderFunc  func() bool
	GetLeaderFunc func(ctx context.Context) (string, bool, error)
	GetEpochFunc  func() int64
}

func (m *MockElectionManager) IsLeader() bool {
	if m.IsLeaderFunc != nil {
		return m.IsLeaderFunc()
	}
	return false
}

func (m *MockElectionManager) GetLeader(ctx context.Context) (string, bool, error) {
	if m.GetLeaderFunc != nil {
		return m.GetLeaderFunc(ctx)
	}
	return "", false, nil
}

func (m *MockElectionManager) GetEpoch() int64 {
	if m.GetEpochFunc != nil {
		return m.GetEpochFunc()
	}
	return 0
}

// MockSampler serves a fixed source health report.
type MockSampler struct {
	health []engine.SourceHealth
}

func (m *MockSampler) Health() []engine.SourceHealth {
	return m.health
}

func testCatalogConfig() *engine.CatalogConfig {
	return &engine.CatalogConfig{
		Pools: []engine.PoolSpec{
			{ID: "energy", Model: engine.RegenFixedTick, TickPeriodSeconds: 2, AmountPerTick: 20},
			{ID: "mana", Model: engine.RegenLearned, TickPeriodSeconds: 2},
			{ID: "rage", Model: engine.RegenEventDriven},
		},
		Abilities: []engine.AbilitySpec{
			{ID: "sinister_strike", Cost: 45, Pool: "energy"},
			{ID: "fireball", Cost: 240, Pool: "mana"},
			{ID: "heroic_strike", Cost: 15, Pool: "rage"},
		},
	}
}

// testServer wires a real engine over the test catalog with a mock store,
// which is enough for handler tests that go through real prediction logic.
func testServer(t *testing.T) (*Server, *engine.Engine, *MockStore) {
	t.Helper()
	cat, err := engine.NewCatalog(testCatalogConfig())
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	eng := engine.NewEngine(engine.EngineConfig{OwnerID: "hunter_42"}, cat, engine.NewRateProjection(0), engine.NewMemoryStateStore())
	mockStore := &MockStore{}
	s := &Server{store: mockStore, engine: eng, ownerID: "hunter_42"}
	return s, eng, mockStore
}
