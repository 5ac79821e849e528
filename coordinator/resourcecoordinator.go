package coordinator

import (
	"context"

	"github.com/IvanBrykalov/rescoord/internal/singleflight"
	"github.com/IvanBrykalov/rescoord/staleness"
	"github.com/IvanBrykalov/rescoord/storage"
)

// resourceCoordinator is the ResourceCoordinator implementation. Its
// family-level actorLoop guards the keys registry the same way
// shardcache's per-shard mutex guarded a bucket of nodes; lazy creation
// of a keyCoordinator is just one more job posted to that loop.
type resourceCoordinator[K comparable, V any] struct {
	loop *actorLoop
	keys map[K]*keyCoordinator[K, V]

	backend storage.Backend[K, V]
	fetch   FetchFunc[K, V]
	policy  staleness.Policy[K, V]
	logger  storage.Logger
	metrics Metrics
	clock   storage.Clock
	dataEq  equalFunc[V]

	disableLastEmitted bool

	sf singleflight.Group[K, Resource[V]]
}

// New constructs a ResourceCoordinator per Options, resolving its
// storage preset against config.Current() when Options.Storage is unset.
func New[K comparable, V any](opt Options[K, V]) (ResourceCoordinator[K, V], error) {
	backend, err := opt.resolveBackend()
	if err != nil {
		return nil, err
	}

	return &resourceCoordinator[K, V]{
		loop:               newActorLoop(),
		keys:               make(map[K]*keyCoordinator[K, V]),
		backend:            backend,
		fetch:              opt.Fetch,
		policy:             opt.resolvePolicy(),
		logger:             opt.resolveLogger(),
		metrics:            opt.resolveMetrics(),
		clock:              opt.resolveClock(),
		dataEq:             opt.resolveDataEqual(),
		disableLastEmitted: opt.resolveDisableLastEmitted(),
	}, nil
}

func (rc *resourceCoordinator[K, V]) keyFor(k K) *keyCoordinator[K, V] {
	var kc *keyCoordinator[K, V]
	rc.loop.submit(func() {
		if existing, ok := rc.keys[k]; ok {
			kc = existing
			return
		}
		kc = newKeyCoordinator[K, V](k, rc.backend, rc.fetch, rc.policy, rc.clock, rc.logger, rc.metrics, rc.dataEq, rc.disableLastEmitted)
		rc.keys[k] = kc
	})
	return kc
}

func (rc *resourceCoordinator[K, V]) AsStream(ctx context.Context, k K, forceReload bool) (<-chan Resource[V], func(), error) {
	return rc.keyFor(k).AsStream(ctx, forceReload)
}

func (rc *resourceCoordinator[K, V]) Get(ctx context.Context, k K, forceReload, allowLoadingState bool) (Resource[V], error) {
	kc := rc.keyFor(k)
	r, err := rc.sf.Do(ctx, k, func() (Resource[V], error) {
		return kc.Get(ctx, forceReload, allowLoadingState)
	})
	rc.metrics.Waiters(rc.sf.Inflight())
	return r, err
}

func (rc *resourceCoordinator[K, V]) Invalidate(ctx context.Context, k K, forceReload, emitLoadingOnReload bool) error {
	kc := rc.keyFor(k)
	if !forceReload {
		return kc.Invalidate(ctx, false, emitLoadingOnReload)
	}
	_, err := rc.sf.Do(ctx, k, func() (Resource[V], error) {
		return Resource[V]{}, kc.Invalidate(ctx, true, emitLoadingOnReload)
	})
	rc.metrics.Waiters(rc.sf.Inflight())
	return err
}

func (rc *resourceCoordinator[K, V]) UpdateCachedValue(ctx context.Context, k K, edit func(*V) *V, notifyOnNull bool) error {
	return rc.keyFor(k).UpdateCachedValue(ctx, edit, notifyOnNull)
}

func (rc *resourceCoordinator[K, V]) GetCachedValue(ctx context.Context, k K, synchronized bool) (*V, error) {
	return rc.keyFor(k).GetCachedValue(ctx, synchronized)
}

func (rc *resourceCoordinator[K, V]) PutValue(ctx context.Context, k K, v V) error {
	return rc.keyFor(k).PutValue(ctx, v)
}

func (rc *resourceCoordinator[K, V]) ClearCache(ctx context.Context, k K) error {
	return rc.keyFor(k).ClearCache(ctx)
}

func (rc *resourceCoordinator[K, V]) Remove(ctx context.Context, k K) error {
	var kc *keyCoordinator[K, V]
	rc.loop.submit(func() {
		kc = rc.keys[k]
		delete(rc.keys, k)
	})
	if kc != nil {
		kc.Close()
	}
	return rc.backend.Remove(ctx, k)
}

func (rc *resourceCoordinator[K, V]) ClearAll(ctx context.Context, closeSubscriptions bool) error {
	rc.loop.submit(func() {
		if closeSubscriptions {
			for _, kc := range rc.keys {
				kc.Close()
			}
		}
		rc.keys = make(map[K]*keyCoordinator[K, V])
	})
	return rc.backend.Clear(ctx)
}

func (rc *resourceCoordinator[K, V]) Close() error {
	rc.loop.submit(func() {
		for _, kc := range rc.keys {
			kc.Close()
		}
		rc.keys = make(map[K]*keyCoordinator[K, V])
	})
	rc.loop.stop()
	return nil
}

var _ ResourceCoordinator[string, int] = (*resourceCoordinator[string, int])(nil)
