package ratelimit

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"candidate-harvester/internal/models"
)

// RedisStore keeps the ledger as a JSON value under a single Redis key.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore initializes a Redis-backed ledger store.
func NewRedisStore(addr, key string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    key,
	}
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Load reads the ledger record from Redis.
func (s *RedisStore) Load(ctx context.Context) (models.LedgerState, bool, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.LedgerState{}, false, nil
		}
		return models.LedgerState{}, false, err
	}

	var state models.LedgerState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return models.LedgerState{}, false, err
	}
	return state, true, nil
}

// Save writes the ledger record to Redis without expiry.
func (s *RedisStore) Save(ctx context.Context, state models.LedgerState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, payload, 0).Err()
}
