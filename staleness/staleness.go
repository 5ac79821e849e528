// Package staleness provides the StalenessPolicy predicate family used
// by coordinator.KeyCoordinator to decide whether a cached Entry must
// be refreshed from the origin. There is no sum type in Go, so each
// variant is built from the same unexported struct carrying an
// isStale closure behind one uniform single-method interface.
package staleness

import (
	"time"

	"github.com/IvanBrykalov/rescoord/storage"
)

// Policy decides whether entry is stale for key at the given instant
// (UnixNano). FixedDuration always treats a storage.Entry with
// StoreTime <= 0 as stale and Never never does; Delegated and
// KeyResolved leave that case to the wrapped predicate or the resolved
// policy.
type Policy[K comparable, V any] interface {
	IsStale(k K, entry storage.Entry[V], now int64) bool
}

type funcPolicy[K comparable, V any] struct {
	fn func(K, storage.Entry[V], int64) bool
}

func (p funcPolicy[K, V]) IsStale(k K, e storage.Entry[V], now int64) bool { return p.fn(k, e, now) }

// Never never considers an entry stale, including StoreTime <= 0.
// Use for values that, once fetched, are treated as permanently valid.
func Never[K comparable, V any]() Policy[K, V] {
	return funcPolicy[K, V]{fn: func(K, storage.Entry[V], int64) bool { return false }}
}

// FixedDuration considers an entry stale once it is older than d, or
// if its StoreTime is <= 0 (the invalidated marker).
func FixedDuration[K comparable, V any](d time.Duration) Policy[K, V] {
	return funcPolicy[K, V]{fn: func(_ K, e storage.Entry[V], now int64) bool {
		return e.StoreTime <= 0 || e.StoreTime < now-int64(d)
	}}
}

// Delegated wraps an arbitrary predicate as a Policy.
func Delegated[K comparable, V any](fn func(K, storage.Entry[V], int64) bool) Policy[K, V] {
	return funcPolicy[K, V]{fn: fn}
}

// KeyResolved picks a different Policy per call by consulting resolve
// with the key and current entry, then delegates to it. resolve must
// not return a KeyResolved policy that would immediately re-resolve to
// itself for the same (k, entry) pair; IsStale panics if it detects such
// a self-referential cycle within maxResolveDepth hops, since resolve is
// an opaque closure and full cycle detection is not possible in
// general. KeyResolved itself performs no check when it is constructed.
func KeyResolved[K comparable, V any](resolve func(K, storage.Entry[V]) Policy[K, V]) Policy[K, V] {
	return &keyResolved[K, V]{resolve: resolve}
}

const maxResolveDepth = 8

type keyResolved[K comparable, V any] struct {
	resolve func(K, storage.Entry[V]) Policy[K, V]
}

func (p *keyResolved[K, V]) IsStale(k K, e storage.Entry[V], now int64) bool {
	var cur Policy[K, V] = p
	for depth := 0; depth < maxResolveDepth; depth++ {
		next, ok := cur.(*keyResolved[K, V])
		if !ok {
			return cur.IsStale(k, e, now)
		}
		resolved := next.resolve(k, e)
		if resolved == Policy[K, V](next) {
			panic("staleness: KeyResolved policy resolved to itself")
		}
		cur = resolved
	}
	panic("staleness: KeyResolved resolution exceeded max depth; likely a resolver cycle")
}
