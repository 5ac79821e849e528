package pagination

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/rescoord/coordinator"
	"github.com/IvanBrykalov/rescoord/staleness"
	"github.com/IvanBrykalov/rescoord/storage"
)

// LoadSizePage is the origin call for the page+size variant: page
// numbers start at 1, each response carries its own items and an
// optional, caller-defined page of metadata M.
type LoadSizePage[K comparable, V any, M any] func(ctx context.Context, k K, page, size int) (items []V, meta *M, err error)

// SizeOptions configures a SizeCoordinator.
type SizeOptions[K comparable, V any, M any] struct {
	StorageName               string
	Backend                   coordinator.StorageKind
	Storage                   storage.Backend[K, Bundle[V, M]]
	Policy                    staleness.Policy[K, Bundle[V, M]]
	LoadPage                  LoadSizePage[K, V, M]
	PageSize                  int
	DuplicatesDetectionEnabled bool
	Factory                   BundleFactory[V, M]
	Logger                    storage.Logger
	Metrics                   coordinator.Metrics
	Clock                     storage.Clock
}

// SizeCoordinator is the page+size PageableCoordinator variant: pages
// are addressed by a 1-based page number, and the cached bundle
// persists the next page number to request as its cursor (see
// DESIGN.md for why the cursor is persisted rather than recomputed).
type SizeCoordinator[K comparable, V any, M any] struct {
	inner       coordinator.ResourceCoordinator[K, Bundle[V, M]]
	loadPage    LoadSizePage[K, V, M]
	pageSize    int
	dupDetect   bool
	factory     BundleFactory[V, M]

	mu      sync.Mutex
	loading map[K]*atomic.Bool
}

// NewSizeCoordinator constructs a SizeCoordinator. Returns
// errPageSizeTooSmall if PageSize < 1.
func NewSizeCoordinator[K comparable, V any, M any](opt SizeOptions[K, V, M]) (*SizeCoordinator[K, V, M], error) {
	if opt.PageSize < 1 {
		return nil, errPageSizeTooSmall
	}
	factory := opt.Factory
	if factory == nil {
		factory = defaultBundleFactory[V, M]{}
	}

	sc := &SizeCoordinator[K, V, M]{
		loadPage:  opt.LoadPage,
		pageSize:  opt.PageSize,
		dupDetect: opt.DuplicatesDetectionEnabled,
		factory:   factory,
		loading:   make(map[K]*atomic.Bool),
	}

	inner, err := coordinator.New[K, Bundle[V, M]](coordinator.Options[K, Bundle[V, M]]{
		StorageName: opt.StorageName,
		Backend:     opt.Backend,
		Storage:     opt.Storage,
		Policy:      opt.Policy,
		Fetch:       sc.loadFirstPage,
		Logger:      opt.Logger,
		Metrics:     opt.Metrics,
		Clock:       opt.Clock,
	})
	if err != nil {
		return nil, err
	}
	sc.inner = inner
	return sc, nil
}

func (sc *SizeCoordinator[K, V, M]) loadingFlag(k K) *atomic.Bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if f, ok := sc.loading[k]; ok {
		return f
	}
	f := &atomic.Bool{}
	sc.loading[k] = f
	return f
}

func (sc *SizeCoordinator[K, V, M]) loadFirstPage(ctx context.Context, k K) (Bundle[V, M], error) {
	items, meta, err := sc.loadPage(ctx, k, 1, sc.pageSize)
	if err != nil {
		return Bundle[V, M]{}, err
	}

	if cached, cerr := sc.inner.GetCachedValue(ctx, k, false); cerr == nil && cached != nil {
		if sc.factory.CanReuseCache(cached, items) {
			return *cached, nil
		}
	}

	loadedAll := len(items) < sc.pageSize
	var next *int
	if !loadedAll {
		p := 2
		next = &p
	}
	return Bundle[V, M]{Items: items, LoadedAll: loadedAll, NextPage: next, Meta: meta}, nil
}

func (sc *SizeCoordinator[K, V, M]) AsStream(ctx context.Context, k K, forceReload bool) (<-chan coordinator.Resource[Bundle[V, M]], func(), error) {
	return sc.inner.AsStream(ctx, k, forceReload)
}

func (sc *SizeCoordinator[K, V, M]) Get(ctx context.Context, k K, forceReload, allowLoadingState bool) (coordinator.Resource[Bundle[V, M]], error) {
	return sc.inner.Get(ctx, k, forceReload, allowLoadingState)
}

func (sc *SizeCoordinator[K, V, M]) Invalidate(ctx context.Context, k K, forceReload, emitLoadingOnReload bool) error {
	return sc.inner.Invalidate(ctx, k, forceReload, emitLoadingOnReload)
}

func (sc *SizeCoordinator[K, V, M]) GetCachedValue(ctx context.Context, k K, synchronized bool) (*Bundle[V, M], error) {
	return sc.inner.GetCachedValue(ctx, k, synchronized)
}

func (sc *SizeCoordinator[K, V, M]) Remove(ctx context.Context, k K) error { return sc.inner.Remove(ctx, k) }

func (sc *SizeCoordinator[K, V, M]) ClearAll(ctx context.Context, closeSubscriptions bool) error {
	return sc.inner.ClearAll(ctx, closeSubscriptions)
}

func (sc *SizeCoordinator[K, V, M]) Close() error { return sc.inner.Close() }

// LoadNextPage fetches and merges the next page for k.
func (sc *SizeCoordinator[K, V, M]) LoadNextPage(ctx context.Context, k K) error {
	flag := sc.loadingFlag(k)
	if !flag.CompareAndSwap(false, true) {
		return ErrPageLoadInProgress
	}
	defer flag.Store(false)

	snapshot, err := sc.inner.GetCachedValue(ctx, k, false)
	if err != nil {
		return err
	}
	if snapshot != nil && snapshot.LoadedAll {
		return nil
	}
	nextPage := 1
	if snapshot != nil && snapshot.NextPage != nil {
		nextPage = *snapshot.NextPage
	}

	items, _, err := sc.loadPage(ctx, k, nextPage, sc.pageSize)
	if err != nil {
		return err
	}

	var mergeErr error
	err = sc.inner.UpdateCachedValue(ctx, k, func(cache *Bundle[V, M]) *Bundle[V, M] {
		if !bundleIdentical(cache, snapshot) {
			return cache // concurrent update won; discard this page
		}

		var old []V
		if cache != nil {
			old = cache.Items
		}

		if sc.dupDetect && overlaps(old, items) {
			mergeErr = &coordinator.InconsistentPageDataError{Key: k, Reason: "duplicate items between cached and new page"}
			return cache
		}
		if cerr := sc.factory.CheckConsistency(cache, items); cerr != nil {
			mergeErr = cerr
			return cache
		}

		loadedAll := len(items) < sc.pageSize
		var next *int
		if !loadedAll {
			p := nextPage + 1
			next = &p
		}
		merged := Bundle[V, M]{
			Items:     append(append([]V{}, old...), items...),
			LoadedAll: loadedAll,
			NextPage:  next,
			Meta:      sc.factory.BuildMeta(cache, items),
		}
		return &merged
	}, true)
	if err != nil {
		return err
	}
	return mergeErr
}

func bundleIdentical[V any, M any](a, b *Bundle[V, M]) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(*a, *b)
}

func overlaps[V any](old, fresh []V) bool {
	for _, o := range old {
		for _, n := range fresh {
			if slicesEqual([]V{o}, []V{n}) {
				return true
			}
		}
	}
	return false
}
