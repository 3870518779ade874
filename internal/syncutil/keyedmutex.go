// Package syncutil provides locking primitives shared across packages.
package syncutil

import (
	"context"
	"hash/fnv"
)

// DefaultShards is the shard count used by NewKeyedMutex when given n <= 0.
const DefaultShards = 256

// KeyedMutex serializes work per key using a fixed pool of channel-based
// locks. Memory stays bounded no matter how many keys are seen; two keys that
// hash to the same shard contend with each other. Waiting for a lock respects
// context cancellation.
type KeyedMutex struct {
	shards []chan struct{}
}

// NewKeyedMutex creates a keyed mutex with n shards.
func NewKeyedMutex(n int) *KeyedMutex {
	if n <= 0 {
		n = DefaultShards
	}
	m := &KeyedMutex{shards: make([]chan struct{}, n)}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{} // unlocked
	}
	return m
}

// Lock acquires the shard for key. On success the caller MUST call the
// returned unlock function. If ctx is done first, Lock returns ctx.Err()
// without holding anything.
func (m *KeyedMutex) Lock(ctx context.Context, key []byte) (func(), error) {
	shard := m.shards[m.shardIdx(key)]

	// Fail fast on an already-cancelled context even if the shard is free.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SameShard reports whether two keys contend for the same lock.
func (m *KeyedMutex) SameShard(a, b []byte) bool {
	return m.shardIdx(a) == m.shardIdx(b)
}

func (m *KeyedMutex) shardIdx(key []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return h.Sum32() % uint32(len(m.shards))
}
