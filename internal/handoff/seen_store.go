package handoff

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenStore remembers which profiles have already been handed off.
type SeenStore interface {
	Seen(ctx context.Context, profileURL string) (bool, error)
	MarkSeen(ctx context.Context, profileURL string) error
}

// RedisSeenStore keeps one key per handed-off profile.
type RedisSeenStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSeenStore connects to addr. A zero ttl keeps entries forever.
func NewRedisSeenStore(addr, prefix string, ttl time.Duration) *RedisSeenStore {
	return &RedisSeenStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		ttl:    ttl,
	}
}

// Close closes the Redis client.
func (s *RedisSeenStore) Close() error {
	return s.client.Close()
}

func (s *RedisSeenStore) Seen(ctx context.Context, profileURL string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+profileURL).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisSeenStore) MarkSeen(ctx context.Context, profileURL string) error {
	return s.client.Set(ctx, s.prefix+profileURL, time.Now().UTC().Format(time.RFC3339), s.ttl).Err()
}

// MemorySeenStore is a process-local SeenStore.
type MemorySeenStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemorySeenStore() *MemorySeenStore {
	return &MemorySeenStore{seen: make(map[string]struct{})}
}

func (s *MemorySeenStore) Seen(_ context.Context, profileURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[profileURL]
	return ok, nil
}

func (s *MemorySeenStore) MarkSeen(_ context.Context, profileURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[profileURL] = struct{}{}
	return nil
}
