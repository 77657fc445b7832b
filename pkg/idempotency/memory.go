package idempotency

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/corefold/shopstream/pkg/eventsourcing"
)

// MemoryStore is a process-local idempotency cache: a bounded LRU whose
// entries expire after the TTL. Suitable for single-process deployments;
// multi-process deployments should use the Redis store.
type MemoryStore struct {
	cache *expirable.LRU[string, *eventsourcing.CommandResult]
}

// NewMemoryStore creates a bounded in-memory store.
// size <= 0 uses DefaultSize; ttl <= 0 uses DefaultTTL.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		cache: expirable.NewLRU[string, *eventsourcing.CommandResult](size, nil, ttl),
	}
}

// Get returns the cached result for a key.
func (s *MemoryStore) Get(_ context.Context, key string) (*eventsourcing.CommandResult, bool, error) {
	result, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return result, true, nil
}

// Put caches a result under a key.
func (s *MemoryStore) Put(_ context.Context, key string, result *eventsourcing.CommandResult) error {
	s.cache.Add(key, result)
	return nil
}

// Len returns the number of live entries, for monitoring.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Close implements Store. The LRU needs no teardown.
func (s *MemoryStore) Close() error { return nil }
