package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulseworks/readycheck/pkg/store"
)

const leaseKeyPrefix = "readycheck:lease:"

// Holder-checked expiry extension and deletion. Both compare the stored
// holder first so a daemon can never renew or drop a lease another
// daemon has since taken over.
var (
	renewLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisLeaseStore backs the sampler single-writer lease with redis TTL
// keys. TTL keys carry no version or epoch counters; deployments that
// need fencing tokens on journal events should use the sqlite lease.
type RedisLeaseStore struct {
	client *redis.Client
}

func NewRedisLeaseStore(client *redis.Client) *RedisLeaseStore {
	return &RedisLeaseStore{client: client}
}

func (s *RedisLeaseStore) Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	key := leaseKeyPrefix + name

	ok, err := s.client.SetNX(ctx, key, holderID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if ok {
		return true, nil
	}

	// SetNX lost: either another daemon holds the key, or we do and
	// this acquire doubles as a renewal.
	holder, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existing lease: %w", err)
	}
	if holder != holderID {
		return false, nil
	}
	return true, s.Renew(ctx, name, holderID, ttl)
}

func (s *RedisLeaseStore) Renew(ctx context.Context, name, holderID string, ttl time.Duration) error {
	key := leaseKeyPrefix + name

	res, err := renewLease.Run(ctx, s.client, []string{key}, holderID, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("failed to execute renew script: %w", err)
	}
	if extended, ok := res.(int64); !ok || extended != 1 {
		return store.ErrLeaseLost
	}
	return nil
}

func (s *RedisLeaseStore) Release(ctx context.Context, name, holderID string) error {
	key := leaseKeyPrefix + name

	// Idempotent: deleting a lease we no longer hold is a no-op, and
	// either way we do not hold it afterwards.
	if _, err := releaseLease.Run(ctx, s.client, []string{key}, holderID).Result(); err != nil {
		return fmt.Errorf("failed to execute release script: %w", err)
	}
	return nil
}

func (s *RedisLeaseStore) Get(ctx context.Context, name string) (*store.Lease, error) {
	key := leaseKeyPrefix + name

	holder, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get lease ttl: %w", err)
	}

	return &store.Lease{
		Name:      name,
		HolderID:  holder,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}
