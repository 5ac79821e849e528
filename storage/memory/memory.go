// Package memory implements storage.Backend as a sharded, in-process
// map. The sharding scheme (hash the key, mask by shard count, one
// RWMutex per shard) is adapted from shardcache's cache/shard.go: there
// the shards partitioned an evicting LRU cache, here they partition a
// plain, unbounded Entry map, since values in this family are never
// evicted by size — only ever Remove()d or Clear()d explicitly.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/IvanBrykalov/rescoord/internal/util"
	"github.com/IvanBrykalov/rescoord/storage"
)

// systemClock is the default Clock, used when Options.Clock is nil.
type systemClock struct{}

func (systemClock) NowUnixNano() int64 { return time.Now().UnixNano() }

// Options configures a Backend. Shards <= 0 picks shardcache's
// ReasonableShardCount heuristic (≈2×GOMAXPROCS, power of two, clamped
// to 256).
type Options struct {
	Shards int
	Clock  storage.Clock
}

type shard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]storage.Entry[V]
}

// Backend is a sharded in-memory storage.Backend[K,V].
type Backend[K comparable, V any] struct {
	shards []*shard[K, V]
	hash   func(K) uint64
	clock  storage.Clock
}

// New constructs a sharded in-memory backend.
func New[K comparable, V any](opt Options) *Backend[K, V] {
	n := opt.Shards
	if n <= 0 {
		n = util.ReasonableShardCount()
	} else {
		n = int(util.NextPow2(uint64(n)))
	}
	shards := make([]*shard[K, V], n)
	for i := range shards {
		shards[i] = &shard[K, V]{m: make(map[K]storage.Entry[V])}
	}
	clock := opt.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Backend[K, V]{shards: shards, hash: util.Fnv64a[K], clock: clock}
}

// Factory adapts New into a storage.Factory so coordinator.Options's
// InMemory preset can construct a Backend without importing this
// package's generic constructor signature directly.
type Factory[K comparable, V any] struct{ Options Options }

func (f Factory[K, V]) New(string, storage.DecodeFunc[V], storage.Clock) (storage.Backend[K, V], error) {
	opt := f.Options
	if opt.Clock == nil {
		opt.Clock = systemClock{}
	}
	return New[K, V](opt), nil
}

func (b *Backend[K, V]) shardFor(k K) *shard[K, V] {
	idx := util.ShardIndex(b.hash(k), len(b.shards))
	return b.shards[idx]
}

func (b *Backend[K, V]) GetOrNull(_ context.Context, k K) (storage.Entry[V], bool, error) {
	s := b.shardFor(k)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[k]
	return e, ok, nil
}

func (b *Backend[K, V]) Put(_ context.Context, k K, v V, storeTime *int64) error {
	st := int64(0)
	if storeTime != nil {
		st = *storeTime
	} else {
		st = b.clock.NowUnixNano()
	}
	s := b.shardFor(k)
	s.mu.Lock()
	s.m[k] = storage.Entry[V]{Value: v, StoreTime: st}
	s.mu.Unlock()
	return nil
}

func (b *Backend[K, V]) Remove(_ context.Context, k K) error {
	s := b.shardFor(k)
	s.mu.Lock()
	delete(s.m, k)
	s.mu.Unlock()
	return nil
}

func (b *Backend[K, V]) Clear(_ context.Context) error {
	for _, s := range b.shards {
		s.mu.Lock()
		s.m = make(map[K]storage.Entry[V])
		s.mu.Unlock()
	}
	return nil
}

// Len returns the total number of resident entries across all shards.
// Not part of storage.Backend; useful for tests and examples.
func (b *Backend[K, V]) Len() int {
	total := 0
	for _, s := range b.shards {
		s.mu.RLock()
		total += len(s.m)
		s.mu.RUnlock()
	}
	return total
}

var _ storage.Backend[string, int] = (*Backend[string, int])(nil)
var _ storage.Factory[string, int] = Factory[string, int]{}
