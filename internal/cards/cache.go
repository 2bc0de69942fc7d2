package cards

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore holds decoded provider payloads keyed by request signature.
// Entries live for a fixed TTL; a stale entry is treated as absent. The only
// explicit invalidation is an operator-triggered Clear.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, payload []byte)
	Clear(ctx context.Context) error
}

// MemoryStore is the default in-process cache.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	payload   []byte
	createdAt time.Time
}

// NewMemoryStore creates an in-memory cache with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if s.now().Sub(entry.createdAt) >= s.ttl {
		// Stale entries are dropped lazily on the next read.
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false
	}
	return entry.payload, true
}

func (s *MemoryStore) Set(_ context.Context, key string, payload []byte) {
	s.mu.Lock()
	s.entries[key] = memoryEntry{payload: payload, createdAt: s.now()}
	s.mu.Unlock()
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.entries = make(map[string]memoryEntry)
	s.mu.Unlock()
	return nil
}

// RedisStore shares the cache across worker replicas, so a bulk corpus
// fetched by one worker is reused by all of them for the TTL window.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore creates a Redis-backed cache. Expiry is delegated to Redis
// key TTLs.
func NewRedisStore(rdb *redis.Client, ttl time.Duration, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "cardscan:cache:"
	}
	return &RedisStore{rdb: rdb, ttl: ttl, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	payload, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return payload, true
}

func (s *RedisStore) Set(ctx context.Context, key string, payload []byte) {
	// A failed write only costs a refetch later.
	s.rdb.Set(ctx, s.prefix+key, payload, s.ttl)
}

func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
