package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// LoadCatalogConfig reads and parses a catalog file
func LoadCatalogConfig(path string) (*CatalogConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config CatalogConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Catalog is the runtime lookup of pool and ability specs. It answers the
// engine's two catalog questions: which pool does an ability draw from and
// at what cost, and how does that pool regenerate. Swap replaces the whole
// catalog atomically, which is how SIGHUP reload works.
type Catalog struct {
	mu        sync.RWMutex
	pools     map[PoolID]PoolSpec
	abilities map[AbilityID]AbilitySpec
}

// NewCatalog validates and indexes a catalog config.
func NewCatalog(cfg *CatalogConfig) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Swap(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Swap validates the new config and replaces the catalog contents. On
// validation failure the previous contents stay in effect.
func (c *Catalog) Swap(cfg *CatalogConfig) error {
	if cfg == nil {
		return fmt.Errorf("nil catalog config")
	}

	pools := make(map[PoolID]PoolSpec, len(cfg.Pools))
	for _, p := range cfg.Pools {
		if p.ID == "" {
			return fmt.Errorf("pool with empty id")
		}
		if _, dup := pools[p.ID]; dup {
			return fmt.Errorf("duplicate pool %q", p.ID)
		}
		switch p.Model {
		case RegenFixedTick:
			if p.TickPeriodSeconds <= 0 {
				return fmt.Errorf("pool %q: fixed_tick requires tick_period_seconds", p.ID)
			}
			if p.AmountPerTick <= 0 {
				return fmt.Errorf("pool %q: fixed_tick requires amount_per_tick", p.ID)
			}
		case RegenLearned:
			if p.TickPeriodSeconds <= 0 {
				return fmt.Errorf("pool %q: learned requires tick_period_seconds", p.ID)
			}
		case RegenEventDriven:
			// No timing parameters.
		default:
			return fmt.Errorf("pool %q: unknown regen model %q", p.ID, p.Model)
		}
		pools[p.ID] = p
	}

	abilities := make(map[AbilityID]AbilitySpec, len(cfg.Abilities))
	for _, a := range cfg.Abilities {
		if a.ID == "" {
			return fmt.Errorf("ability with empty id")
		}
		if _, dup := abilities[a.ID]; dup {
			return fmt.Errorf("duplicate ability %q", a.ID)
		}
		if a.Cost < 0 {
			return fmt.Errorf("ability %q: negative cost", a.ID)
		}
		if _, ok := pools[a.Pool]; !ok {
			return fmt.Errorf("ability %q references unknown pool %q", a.ID, a.Pool)
		}
		abilities[a.ID] = a
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools = pools
	c.abilities = abilities
	return nil
}

// Pool returns the spec for a pool.
func (c *Catalog) Pool(id PoolID) (PoolSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pools[id]
	return p, ok
}

// Ability returns the spec for an ability.
func (c *Catalog) Ability(id AbilityID) (AbilitySpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.abilities[id]
	return a, ok
}

// ResourceCost returns the cost and draw pool of an ability.
func (c *Catalog) ResourceCost(id AbilityID) (float64, PoolID, error) {
	a, ok := c.Ability(id)
	if !ok {
		return 0, "", fmt.Errorf("unknown ability %q", id)
	}
	return a.Cost, a.Pool, nil
}

// Pools returns all pool specs sorted by ID.
func (c *Catalog) Pools() []PoolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := make([]PoolSpec, 0, len(c.pools))
	for _, p := range c.pools {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Abilities returns all ability specs sorted by ID.
func (c *Catalog) Abilities() []AbilitySpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := make([]AbilitySpec, 0, len(c.abilities))
	for _, a := range c.abilities {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
