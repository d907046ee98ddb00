package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"candidate-harvester/internal/models"
)

// RedisStatusStore stores run status in Redis.
type RedisStatusStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStatusStore initializes a Redis-backed StatusStore.
func NewRedisStatusStore(addr, prefix string, ttl time.Duration) *RedisStatusStore {
	return NewRedisStatusStoreWithClient(redis.NewClient(&redis.Options{Addr: addr}), prefix, ttl)
}

// NewRedisStatusStoreWithClient builds a store on an existing client (tests).
func NewRedisStatusStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStatusStore {
	return &RedisStatusStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Close closes the Redis client.
func (s *RedisStatusStore) Close() error {
	return s.client.Close()
}

// SetStatus writes the status record to Redis. The latest record is also kept under the
// "latest" key so operators can look it up without a run ID.
func (s *RedisStatusStore) SetStatus(ctx context.Context, status models.RunStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.prefix+status.RunID, payload, s.ttl)
	pipe.Set(ctx, s.prefix+LatestRunKey, payload, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// LatestRunKey is the run ID that resolves to the most recently written status.
const LatestRunKey = "latest"

// GetStatus reads the status record from Redis.
func (s *RedisStatusStore) GetStatus(ctx context.Context, runID string) (models.RunStatus, bool, error) {
	key := s.prefix + runID
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.RunStatus{}, false, nil
		}
		return models.RunStatus{}, false, err
	}

	var status models.RunStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return models.RunStatus{}, false, err
	}

	return status, true, nil
}
