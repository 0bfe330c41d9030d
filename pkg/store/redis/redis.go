// Package redis mirrors live pool state into redis and offers a
// redis-backed sampler lease, for setups where HUD processes on other
// machines read state without going through the daemon's API.
package redis

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulseworks/readycheck/pkg/engine"
)

const (
	poolsSet = "readycheck:pools"

	// statusTTL bounds how long a dead daemon's last mirror survives.
	// The sampler refreshes every pool far more often than this, so a
	// key that actually expires means nobody is sampling anymore.
	statusTTL = 30 * time.Second
)

func statusKey(ownerID string, poolID engine.PoolID) string {
	return "readycheck:pool:" + ownerID + ":" + string(poolID)
}

// RedisStateStore is the redis mirror of live pool status. Failures log
// and drop the write; the in-process view stays authoritative.
type RedisStateStore struct {
	client *redis.Client
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (s *RedisStateStore) Set(status engine.PoolStatus) {
	data, err := json.Marshal(status)
	if err != nil {
		log.Printf("Failed to marshal PoolStatus: %v", err)
		return
	}

	key := statusKey(status.OwnerID, status.PoolID)
	ctx := context.Background()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, statusTTL)
		pipe.SAdd(ctx, poolsSet, key)
		return nil
	})
	if err != nil {
		log.Printf("Failed to mirror pool status %s: %v", key, err)
	}
}

func (s *RedisStateStore) Get(ownerID string, poolID engine.PoolID) (engine.PoolStatus, bool) {
	key := statusKey(ownerID, poolID)
	data, err := s.client.Get(context.Background(), key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("Failed to GET key %s: %v", key, err)
		}
		return engine.PoolStatus{}, false
	}

	var status engine.PoolStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		log.Printf("Failed to unmarshal PoolStatus from key %s: %v", key, err)
		return engine.PoolStatus{}, false
	}
	return status, true
}

func (s *RedisStateStore) GetAll() []engine.PoolStatus {
	ctx := context.Background()
	keys, err := s.client.SMembers(ctx, poolsSet).Result()
	if err != nil {
		log.Printf("Failed to SMEMBERS %s: %v", poolsSet, err)
		return nil
	}
	if len(keys) == 0 {
		return []engine.PoolStatus{}
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		log.Printf("Failed to MGET pool keys: %v", err)
		return nil
	}

	statuses := make([]engine.PoolStatus, 0, len(values))
	for i, val := range values {
		// Expired statuses linger in the index set until the next
		// Clear; MGET reads them back as nil.
		str, ok := val.(string)
		if !ok {
			continue
		}
		var status engine.PoolStatus
		if err := json.Unmarshal([]byte(str), &status); err != nil {
			log.Printf("Failed to unmarshal PoolStatus for key %s: %v", keys[i], err)
			continue
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func (s *RedisStateStore) Clear() {
	ctx := context.Background()
	keys, err := s.client.SMembers(ctx, poolsSet).Result()
	if err != nil {
		log.Printf("Failed to SMEMBERS %s during clear: %v", poolsSet, err)
		return
	}
	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			log.Printf("Failed to DEL pool keys: %v", err)
		}
	}
	if err := s.client.Del(ctx, poolsSet).Err(); err != nil {
		log.Printf("Failed to DEL set %s: %v", poolsSet, err)
	}
}
