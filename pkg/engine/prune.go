package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/pulseworks/readycheck/pkg/store"
)

// RetentionConfig controls how long journal events are kept. TTLs are
// duration strings ("720h"). ByType overrides the default for noisy
// event types like regen_tick_observed.
type RetentionConfig struct {
	Enabled       bool              `json:"enabled"`
	DefaultTTL    string            `json:"default_ttl"`
	ByType        map[string]string `json:"by_type,omitempty"`
	CheckInterval string            `json:"check_interval,omitempty"`
}

func (c *RetentionConfig) interval() time.Duration {
	if c != nil && c.CheckInterval != "" {
		if d, err := time.ParseDuration(c.CheckInterval); err == nil {
			return d
		}
	}
	return time.Hour
}

// PruneWorker deletes journal events past their retention TTL. It never
// deletes past the newest rate snapshot, so a replay can always rebuild
// learned rates from what remains.
type PruneWorker struct {
	store  *store.Store
	mu     sync.RWMutex
	config *RetentionConfig
}

func NewPruneWorker(st *store.Store, cfg *RetentionConfig) *PruneWorker {
	return &PruneWorker{store: st, config: cfg}
}

// UpdateConfig swaps the retention policy. Called on config reload.
func (w *PruneWorker) UpdateConfig(cfg *RetentionConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.config = cfg
}

func (w *PruneWorker) policy() *RetentionConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

func (w *PruneWorker) Run(ctx context.Context) {
	cfg := w.policy()
	if cfg == nil || !cfg.Enabled {
		log.Println("Pruning disabled")
		return
	}

	interval := cfg.interval()
	log.Printf("Starting prune worker (interval: %v)", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.Prune(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Println("Prune worker stopping")
			return
		case <-ticker.C:
			w.Prune(ctx)
		}
	}
}

// Prune applies the default TTL to every type without its own rule,
// then runs each per-type rule on its own.
func (w *PruneWorker) Prune(ctx context.Context) {
	cfg := w.policy()
	if cfg == nil || !cfg.Enabled {
		return
	}

	var exclusions []string
	for t := range cfg.ByType {
		exclusions = append(exclusions, t)
	}
	w.applyRule(ctx, "default", cfg.DefaultTTL, "", exclusions)

	for eventType, ttl := range cfg.ByType {
		w.applyRule(ctx, eventType, ttl, eventType, nil)
	}
}

func (w *PruneWorker) applyRule(ctx context.Context, label, ttlStr, eventType string, exclusions []string) {
	if ttlStr == "" {
		return
	}
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		return
	}

	deleted, err := w.store.PruneEvents(ctx, ttl, eventType, exclusions)
	switch {
	case errors.Is(err, store.ErrNoSnapshots):
		// A fresh journal has no snapshot yet, so nothing is safe to
		// delete. Not worth a log line.
	case err != nil:
		log.Printf("Prune error (%s): %v", label, err)
	case deleted > 0:
		log.Printf("Pruned %d events (%s policy, older than %v)", deleted, label, ttl)
	}
}
