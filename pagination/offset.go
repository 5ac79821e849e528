package pagination

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/rescoord/coordinator"
	"github.com/IvanBrykalov/rescoord/staleness"
	"github.com/IvanBrykalov/rescoord/storage"
)

// LoadOffsetPage is the origin call for the offset+intersection
// variant: a page starting at offset, of at most limit items.
type LoadOffsetPage[K comparable, V any] func(ctx context.Context, k K, offset, limit int) ([]V, error)

// OffsetOptions configures an OffsetCoordinator.
type OffsetOptions[K comparable, V any] struct {
	StorageName        string
	Backend            coordinator.StorageKind
	Storage            storage.Backend[K, Bundle[V, struct{}]]
	Policy             staleness.Policy[K, Bundle[V, struct{}]]
	LoadPage           LoadOffsetPage[K, V]
	PageSize           int
	IntersectionCount  int
	Factory            BundleFactory[V, struct{}]
	Logger             storage.Logger
	Metrics            coordinator.Metrics
	Clock              storage.Clock
}

// OffsetCoordinator is the offset+intersection PageableCoordinator
// variant: pages are addressed by a byte/item offset, and a trailing
// slice of `IntersectionCount` items is re-requested on every
// subsequent page to detect upstream reordering.
type OffsetCoordinator[K comparable, V any] struct {
	inner    coordinator.ResourceCoordinator[K, Bundle[V, struct{}]]
	loadPage LoadOffsetPage[K, V]
	pageSize int
	inter    int
	factory  BundleFactory[V, struct{}]

	mu      sync.Mutex
	loading map[K]*atomic.Bool
}

// NewOffsetCoordinator constructs an OffsetCoordinator. Returns an error
// if PageSize <= IntersectionCount or IntersectionCount < 0: a
// misconfigured pager can never progress.
func NewOffsetCoordinator[K comparable, V any](opt OffsetOptions[K, V]) (*OffsetCoordinator[K, V], error) {
	if opt.IntersectionCount < 0 || opt.PageSize <= opt.IntersectionCount {
		return nil, fmt.Errorf("pagination: PageSize (%d) must exceed IntersectionCount (%d)", opt.PageSize, opt.IntersectionCount)
	}
	factory := opt.Factory
	if factory == nil {
		factory = defaultBundleFactory[V, struct{}]{}
	}

	oc := &OffsetCoordinator[K, V]{
		loadPage: opt.LoadPage,
		pageSize: opt.PageSize,
		inter:    opt.IntersectionCount,
		factory:  factory,
		loading:  make(map[K]*atomic.Bool),
	}

	inner, err := coordinator.New[K, Bundle[V, struct{}]](coordinator.Options[K, Bundle[V, struct{}]]{
		StorageName: opt.StorageName,
		Backend:     opt.Backend,
		Storage:     opt.Storage,
		Policy:      opt.Policy,
		Fetch:       oc.loadFirstPage,
		Logger:      opt.Logger,
		Metrics:     opt.Metrics,
		Clock:       opt.Clock,
	})
	if err != nil {
		return nil, err
	}
	oc.inner = inner
	return oc, nil
}

func (oc *OffsetCoordinator[K, V]) loadingFlag(k K) *atomic.Bool {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if f, ok := oc.loading[k]; ok {
		return f
	}
	f := &atomic.Bool{}
	oc.loading[k] = f
	return f
}

// loadFirstPage is this coordinator's Fetch: the page at offset 0. If
// the existing cached bundle's first pageSize items equal the new
// page, the whole cache is reused unchanged so later pages already
// loaded survive an invalidate-refresh cycle.
func (oc *OffsetCoordinator[K, V]) loadFirstPage(ctx context.Context, k K) (Bundle[V, struct{}], error) {
	newPage, err := oc.loadPage(ctx, k, 0, oc.pageSize)
	if err != nil {
		return Bundle[V, struct{}]{}, err
	}

	if cached, cerr := oc.inner.GetCachedValue(ctx, k, false); cerr == nil && cached != nil {
		if len(cached.Items) >= len(newPage) && slicesEqual(cached.Items[:len(newPage)], newPage) {
			return *cached, nil
		}
	}

	return Bundle[V, struct{}]{Items: newPage, LoadedAll: len(newPage) < oc.pageSize}, nil
}

// AsStream, Get, Invalidate, GetCachedValue, Remove, ClearAll and Close
// delegate to the inner ResourceCoordinator; only LoadNextPage is new
// behavior.
func (oc *OffsetCoordinator[K, V]) AsStream(ctx context.Context, k K, forceReload bool) (<-chan coordinator.Resource[Bundle[V, struct{}]], func(), error) {
	return oc.inner.AsStream(ctx, k, forceReload)
}

func (oc *OffsetCoordinator[K, V]) Get(ctx context.Context, k K, forceReload, allowLoadingState bool) (coordinator.Resource[Bundle[V, struct{}]], error) {
	return oc.inner.Get(ctx, k, forceReload, allowLoadingState)
}

func (oc *OffsetCoordinator[K, V]) Invalidate(ctx context.Context, k K, forceReload, emitLoadingOnReload bool) error {
	return oc.inner.Invalidate(ctx, k, forceReload, emitLoadingOnReload)
}

func (oc *OffsetCoordinator[K, V]) GetCachedValue(ctx context.Context, k K, synchronized bool) (*Bundle[V, struct{}], error) {
	return oc.inner.GetCachedValue(ctx, k, synchronized)
}

func (oc *OffsetCoordinator[K, V]) Remove(ctx context.Context, k K) error { return oc.inner.Remove(ctx, k) }

func (oc *OffsetCoordinator[K, V]) ClearAll(ctx context.Context, closeSubscriptions bool) error {
	return oc.inner.ClearAll(ctx, closeSubscriptions)
}

func (oc *OffsetCoordinator[K, V]) Close() error { return oc.inner.Close() }

// LoadNextPage fetches and merges the next page for k. Rejects
// re-entrant calls for the same key with ErrPageLoadInProgress.
func (oc *OffsetCoordinator[K, V]) LoadNextPage(ctx context.Context, k K) error {
	flag := oc.loadingFlag(k)
	if !flag.CompareAndSwap(false, true) {
		return ErrPageLoadInProgress
	}
	defer flag.Store(false)

	current, err := oc.inner.GetCachedValue(ctx, k, false)
	if err != nil {
		return err
	}
	loaded := 0
	if current != nil {
		loaded = len(current.Items)
	}

	offset := loaded - oc.inter
	if offset < 0 {
		offset = 0
	}
	expectedOverlap := oc.inter
	if offset == 0 {
		expectedOverlap = loaded
	}

	newPage, err := oc.loadPage(ctx, k, offset, oc.pageSize)
	if err != nil {
		return err
	}

	var mergeErr error
	err = oc.inner.UpdateCachedValue(ctx, k, func(cache *Bundle[V, struct{}]) *Bundle[V, struct{}] {
		var old []V
		if cache != nil {
			old = cache.Items
		}

		if expectedOverlap > 0 {
			if expectedOverlap > len(old) || expectedOverlap > len(newPage) ||
				!slicesEqual(newPage[:expectedOverlap], old[len(old)-expectedOverlap:]) {
				mergeErr = &coordinator.InconsistentPageDataError{Key: k, Reason: "offset page overlap mismatch"}
				return cache
			}
		}

		merged := append(append([]V{}, old...), newPage[expectedOverlap:]...)
		next := Bundle[V, struct{}]{Items: merged, LoadedAll: len(newPage) < oc.pageSize}
		return &next
	}, true)
	if err != nil {
		return err
	}
	return mergeErr
}

func slicesEqual[V any](a, b []V) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !reflect.DeepEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
