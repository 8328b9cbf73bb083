package ratelimit

import (
	"context"
	"sync"
)

// MemoryStore keeps buckets in process memory. Used by tests and by
// single-instance deployments that can afford to lose counters on restart.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[bucketKey]Bucket
}

type bucketKey struct {
	name  string
	key   string
	shard int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[bucketKey]Bucket)}
}

// Acquire implements Store. The store-wide mutex serializes all buckets;
// contention is irrelevant at test scale.
func (s *MemoryStore) Acquire(_ context.Context, name, key string, shard int, init func() Bucket, fn func(*Bucket) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := bucketKey{name: name, key: key, shard: shard}
	b, ok := s.buckets[k]
	if !ok {
		b = init()
	}

	if err := fn(&b); err != nil {
		return err
	}
	s.buckets[k] = b
	return nil
}

// Peek returns the stored bucket without refill, for test assertions.
func (s *MemoryStore) Peek(name, key string, shard int) (Bucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[bucketKey{name: name, key: key, shard: shard}]
	return b, ok
}
