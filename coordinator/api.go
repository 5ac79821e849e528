package coordinator

import "context"

// ResourceCoordinator is the public surface for a family of keys
// sharing one Backend, one Fetch, one staleness Policy. Every per-key
// method except Remove lazily creates the addressed key's internal
// keyCoordinator on first use.
type ResourceCoordinator[K comparable, V any] interface {
	// AsStream opens a cold subscription to key k's refresh events.
	AsStream(ctx context.Context, k K, forceReload bool) (<-chan Resource[V], func(), error)

	// Get waits for the first non-Loading (or, with allowLoadingState,
	// first data-bearing Loading) emission for k. Concurrent Get/
	// Invalidate(forceReload) callers for the same k are coalesced into
	// one underlying wait.
	Get(ctx context.Context, k K, forceReload, allowLoadingState bool) (Resource[V], error)

	// Invalidate marks k's stored entry stale and optionally triggers
	// and awaits a reload.
	Invalidate(ctx context.Context, k K, forceReload, emitLoadingOnReload bool) error

	// UpdateCachedValue applies edit to k's cached value in place.
	UpdateCachedValue(ctx context.Context, k K, edit func(*V) *V, notifyOnNull bool) error

	// GetCachedValue reads k's cached value without consulting Fetch.
	GetCachedValue(ctx context.Context, k K, synchronized bool) (*V, error)

	// PutValue writes v for k directly, stamped with the current time.
	PutValue(ctx context.Context, k K, v V) error

	// ClearCache removes k from storage without an explicit Remove of
	// its keyCoordinator (subscribers survive; see Remove).
	ClearCache(ctx context.Context, k K) error

	// Remove closes k's keyCoordinator (ending its subscriptions) and
	// deletes it from storage.
	Remove(ctx context.Context, k K) error

	// ClearAll empties storage for every key and erases the key
	// registry. If closeSubscriptions is true, every live keyCoordinator
	// and its subscriptions are closed first; otherwise they are simply
	// dropped from the registry, and any still-open subscription to one
	// keeps running against that orphaned instance until its owner
	// cancels it — the next AsStream/Get for that key lazily creates a
	// fresh keyCoordinator instead of reusing it.
	ClearAll(ctx context.Context, closeSubscriptions bool) error

	// Close tears down every key's keyCoordinator.
	Close() error
}
