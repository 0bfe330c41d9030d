package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pulseworks/readycheck/pkg/store"
)

// ElectionManager decides which daemon instance owns the sampler lease.
// Only the holder samples, journals, and serves writes; followers
// redirect. The lease epoch is a fencing token: it bumps on every
// holder change, and every journaled event carries the epoch it was
// written under.
type ElectionManager struct {
	leases    store.LeaseStore
	holderID  string
	leaseName string
	ttl       time.Duration

	onPromote func()
	onDemote  func()

	mu       sync.RWMutex
	isLeader bool
	epoch    int64

	done chan struct{}
}

// NewElectionManager wires a campaign loop over the lease store.
// holderID doubles as the advertised address other instances redirect
// to, so it should be a reachable URL in multi-daemon setups.
func NewElectionManager(
	leases store.LeaseStore,
	holderID string,
	leaseName string,
	ttl time.Duration,
	onPromote func(),
	onDemote func(),
) *ElectionManager {
	return &ElectionManager{
		leases:    leases,
		holderID:  holderID,
		leaseName: leaseName,
		ttl:       ttl,
		onPromote: onPromote,
		onDemote:  onDemote,
		done:      make(chan struct{}),
	}
}

// Start campaigns once immediately, then keeps campaigning at half the
// lease TTL so a healthy holder renews well before expiry.
func (em *ElectionManager) Start(ctx context.Context) {
	em.campaign(ctx)
	go func() {
		ticker := time.NewTicker(em.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				em.campaign(ctx)
			case <-em.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Printf("Election loop started: holder=%s lease=%s ttl=%s", em.holderID, em.leaseName, em.ttl)
}

// Stop ends the campaign loop and hands the lease back if held, so the
// next daemon does not have to wait out the TTL.
func (em *ElectionManager) Stop(ctx context.Context) {
	close(em.done)

	em.mu.Lock()
	wasLeader := em.isLeader
	em.mu.Unlock()

	if wasLeader {
		if err := em.leases.Release(ctx, em.leaseName, em.holderID); err != nil {
			log.Printf("Failed to release lease %s on stop: %v", em.leaseName, err)
		} else {
			log.Printf("Released lease %s on stop", em.leaseName)
		}
	}
}

// IsLeader reports whether this instance held the lease at the last
// campaign.
func (em *ElectionManager) IsLeader() bool {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.isLeader
}

// GetEpoch returns the lease epoch observed at the last successful
// acquire or renew, zero before the first one.
func (em *ElectionManager) GetEpoch() int64 {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.epoch
}

// GetLeader returns the current holder's advertised address. The second
// return is false when no live lease exists.
func (em *ElectionManager) GetLeader(ctx context.Context) (string, bool, error) {
	lease, err := em.leases.Get(ctx, em.leaseName)
	if err != nil {
		return "", false, err
	}
	if lease == nil || lease.ExpiresAt.Before(time.Now().UTC()) {
		return "", false, nil
	}
	return lease.HolderID, true, nil
}

// campaign renews when leading, acquires when not, and fires the
// promote/demote hooks on transitions. A failed renew demotes
// immediately rather than limping on with an expiring lease.
func (em *ElectionManager) campaign(ctx context.Context) {
	em.mu.Lock()
	wasLeader := em.isLeader
	em.mu.Unlock()

	leading := false
	if wasLeader {
		if err := em.leases.Renew(ctx, em.leaseName, em.holderID, em.ttl); err != nil {
			log.Printf("Lost lease %s on renew: %v", em.leaseName, err)
		} else {
			leading = true
		}
	} else {
		got, err := em.leases.Acquire(ctx, em.leaseName, em.holderID, em.ttl)
		if err != nil {
			log.Printf("Lease %s acquire failed: %v", em.leaseName, err)
		}
		leading = got
	}

	var epoch int64
	if leading {
		// Read back the row so journaled events carry the right fencing
		// epoch after a takeover.
		if lease, err := em.leases.Get(ctx, em.leaseName); err == nil && lease != nil {
			epoch = lease.Epoch
		}
	}

	em.mu.Lock()
	em.isLeader = leading
	if leading {
		em.epoch = epoch
	}
	em.mu.Unlock()

	switch {
	case !wasLeader && leading:
		log.Printf("Promoted to leader: holder=%s lease=%s epoch=%d", em.holderID, em.leaseName, epoch)
		if em.onPromote != nil {
			em.onPromote()
		}
	case wasLeader && !leading:
		log.Printf("Demoted from leader: holder=%s lease=%s", em.holderID, em.leaseName)
		if em.onDemote != nil {
			em.onDemote()
		}
	}
}
