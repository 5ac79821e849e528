package coordinator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/rescoord/staleness"
	"github.com/IvanBrykalov/rescoord/storage"
)

// FetchFunc loads the authoritative value for a key from outside the
// cache. A nil FetchFunc means the family is cache-only: requestLoading
// always serves directly from storage (see loadFromCache).
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

const subscriberBuffer = 8

// keyCoordinator owns the refresh state machine and broadcast stream
// for a single key, mirroring shardcache's per-key bookkeeping but
// replacing its bounded-LRU node with an unbounded, policy-driven
// Resource state machine.
//
// isLoading/shouldReload are plain atomics rather than state guarded by
// loop: a concurrent forceReload request arriving while an epoch's
// fetch is in flight must be able to latch shouldReload without
// queuing behind that fetch, or concurrent reload requests would each
// trigger their own epoch instead of coalescing into at most one extra
// one. Storage mutation and broadcast — the parts that must never
// interleave — run as loop jobs instead, which
// is why the fetch call itself lives inside loadFromExternal's single
// loop.submit and blocks other loop jobs (PutValue, UpdateCachedValue,
// a synchronized GetCachedValue) for its duration, exactly as
// "a reentrant mutex held across the refresh" would.
type keyCoordinator[K comparable, V any] struct {
	key K

	backend storage.Backend[K, V]
	fetch   FetchFunc[K, V]
	policy  staleness.Policy[K, V]
	clock   storage.Clock
	logger  storage.Logger
	metrics Metrics
	dataEq  equalFunc[V]

	disableLastEmitted bool

	loop    *actorLoop
	subject *subject[Resource[V]]

	lastEmitted *V // only touched on the loop goroutine

	isLoading    atomic.Bool
	shouldReload atomic.Bool
	closed       atomic.Bool
}

func newKeyCoordinator[K comparable, V any](
	key K,
	backend storage.Backend[K, V],
	fetch FetchFunc[K, V],
	policy staleness.Policy[K, V],
	clock storage.Clock,
	logger storage.Logger,
	metrics Metrics,
	dataEq equalFunc[V],
	disableLastEmitted bool,
) *keyCoordinator[K, V] {
	if dataEq == nil {
		dataEq = defaultDataEqual[V]
	}
	kc := &keyCoordinator[K, V]{
		key:                 key,
		backend:             backend,
		fetch:               fetch,
		policy:              policy,
		clock:               clock,
		logger:              logger,
		metrics:             metrics,
		dataEq:              dataEq,
		disableLastEmitted:  disableLastEmitted,
		loop:                newActorLoop(),
	}
	kc.subject = newSubject[Resource[V]](func(a, b Resource[V]) bool { return a.Equal(b, dataEq) })
	return kc
}

func (kc *keyCoordinator[K, V]) equalPtr(a, b *V) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return kc.dataEq(a, b)
}

// setLastEmittedLocked must only be called from the loop goroutine.
func (kc *keyCoordinator[K, V]) setLastEmittedLocked(v *V) {
	if kc.disableLastEmitted {
		return
	}
	kc.lastEmitted = v
}

// snapshotLastEmitted reads lastEmitted from outside the loop by
// routing the read through a trivial loop job.
func (kc *keyCoordinator[K, V]) snapshotLastEmitted() *V {
	var v *V
	kc.loop.submit(func() { v = kc.lastEmitted })
	return v
}

// AsStream opens a cold subscription: it triggers a load, synthesizes
// an initial Loading(lastEmitted) item, then forwards the shared
// broadcast bus to the caller with per-subscriber dedup.
func (kc *keyCoordinator[K, V]) AsStream(ctx context.Context, forceReload bool) (<-chan Resource[V], func(), error) {
	if kc.closed.Load() {
		return nil, nil, ErrClosedCoordinator
	}

	initial := Loading(kc.snapshotLastEmitted())
	_, in, cancel, err := kc.subject.subscribe(subscriberBuffer, &initial)
	if err != nil {
		return nil, nil, ErrClosedCoordinator
	}

	out := make(chan Resource[V], subscriberBuffer)
	go func() {
		out <- initial
		for v := range in {
			out <- v
		}
		close(out)
	}()

	go kc.requestLoading(ctx, forceReload)

	return out, cancel, nil
}

// Get waits for the first emission that is not Loading, or that is
// Loading with non-nil data when allowLoadingState is set.
func (kc *keyCoordinator[K, V]) Get(ctx context.Context, forceReload, allowLoadingState bool) (Resource[V], error) {
	ch, cancel, err := kc.AsStream(ctx, forceReload)
	if err != nil {
		return Resource[V]{}, err
	}
	defer cancel()

	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return Resource[V]{}, ErrClosedCoordinator
			}
			if r.State != StateLoading || (allowLoadingState && r.Data != nil) {
				return r, nil
			}
		case <-ctx.Done():
			return Resource[V]{}, ctx.Err()
		}
	}
}

// Invalidate rewrites the stored entry's storeTime to 0, preserving
// the value, then optionally triggers and awaits a reload.
func (kc *keyCoordinator[K, V]) Invalidate(ctx context.Context, forceReload, emitLoadingOnReload bool) error {
	if kc.closed.Load() {
		return ErrClosedCoordinator
	}

	var invalidateErr error
	kc.loop.submit(func() {
		entry, ok, err := kc.backend.GetOrNull(ctx, kc.key)
		if err != nil {
			invalidateErr = err
			return
		}
		if !ok {
			return
		}
		zero := int64(0)
		invalidateErr = kc.backend.Put(ctx, kc.key, entry.Value, &zero)
	})
	if invalidateErr != nil {
		return invalidateErr
	}

	if emitLoadingOnReload {
		kc.loop.submit(func() { kc.subject.publish(Loading(kc.lastEmitted)) })
	}

	if !forceReload {
		return nil
	}

	if kc.subject.subscriberCount() == 0 {
		kc.requestLoading(ctx, true)
		return nil
	}

	ch, cancel, err := kc.AsStream(ctx, true)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return ErrClosedCoordinator
			}
			if r.State != StateLoading {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// UpdateCachedValue applies edit to the current cached value (nil if
// absent) without consulting the fetcher or staleness policy.
func (kc *keyCoordinator[K, V]) UpdateCachedValue(ctx context.Context, edit func(*V) *V, notifyOnNull bool) error {
	if kc.closed.Load() {
		return ErrClosedCoordinator
	}

	var opErr error
	kc.loop.submit(func() {
		entry, ok, err := kc.backend.GetOrNull(ctx, kc.key)
		if err != nil {
			opErr = err
			return
		}
		var cur *V
		if ok {
			v := entry.Value
			cur = &v
		}

		next := edit(cur)
		if next != nil {
			storeTime := int64(0)
			if ok {
				storeTime = entry.StoreTime
			}
			if err := kc.backend.Put(ctx, kc.key, *next, &storeTime); err != nil {
				opErr = err
				return
			}
			kc.setLastEmittedLocked(next)
			kc.subject.publish(Success(next))
			return
		}

		if ok {
			if err := kc.backend.Remove(ctx, kc.key); err != nil {
				opErr = err
				return
			}
			kc.setLastEmittedLocked(nil)
			if notifyOnNull {
				kc.subject.publish(Success[V](nil))
			}
		}
	})
	return opErr
}

// GetCachedValue reads the current cached value directly. When
// synchronized is true (the default for external callers) the read is
// serialized behind in-flight storage mutations via the loop; callers
// already running inside a Fetch or edit callback must pass false to
// avoid deadlocking on their own loop job.
func (kc *keyCoordinator[K, V]) GetCachedValue(ctx context.Context, synchronized bool) (*V, error) {
	if !synchronized {
		entry, ok, err := kc.backend.GetOrNull(ctx, kc.key)
		if err != nil || !ok {
			return nil, err
		}
		v := entry.Value
		return &v, nil
	}

	var (
		out *V
		err error
	)
	kc.loop.submit(func() {
		entry, ok, e := kc.backend.GetOrNull(ctx, kc.key)
		if e != nil || !ok {
			err = e
			return
		}
		v := entry.Value
		out = &v
	})
	return out, err
}

// PutValue writes v directly, stamping it with the current time, and
// broadcasts a Success event.
func (kc *keyCoordinator[K, V]) PutValue(ctx context.Context, v V) error {
	if kc.closed.Load() {
		return ErrClosedCoordinator
	}
	var opErr error
	kc.loop.submit(func() {
		now := kc.clock.NowUnixNano()
		if err := kc.backend.Put(ctx, kc.key, v, &now); err != nil {
			opErr = err
			return
		}
		kc.setLastEmittedLocked(&v)
		kc.subject.publish(Success(&v))
	})
	return opErr
}

// ClearCache removes the key from storage and clears lastEmitted
// without broadcasting; callers observe the removal only on their next
// refresh.
func (kc *keyCoordinator[K, V]) ClearCache(ctx context.Context) error {
	var opErr error
	kc.loop.submit(func() {
		if err := kc.backend.Remove(ctx, kc.key); err != nil {
			opErr = err
			return
		}
		kc.setLastEmittedLocked(nil)
	})
	return opErr
}

// Close stops accepting new subscriptions and tears down the existing ones.
func (kc *keyCoordinator[K, V]) Close() error {
	if !kc.closed.CompareAndSwap(false, true) {
		return nil
	}
	kc.subject.close()
	kc.loop.stop()
	return nil
}

// requestLoading is the refresh state machine, written as a loop
// instead of tail recursion. forceReload latches shouldReload; isLoading's
// compare-and-swap guarantees at most one epoch runs per key at a
// time, and a forceReload that arrives mid-epoch is folded into at
// most one additional epoch once the current one finishes.
func (kc *keyCoordinator[K, V]) requestLoading(ctx context.Context, forceReload bool) {
	for {
		if forceReload {
			kc.shouldReload.Store(true)
		}
		if !kc.isLoading.CompareAndSwap(false, true) {
			return
		}

		reload := kc.shouldReload.Swap(false)
		if kc.fetch == nil {
			kc.loadFromCache(ctx)
		} else {
			kc.loadFromExternal(ctx, reload)
		}

		kc.isLoading.Store(false)

		if !kc.shouldReload.Load() {
			return
		}
		forceReload = false // shouldReload is still latched; the next epoch consumes it
	}
}

func (kc *keyCoordinator[K, V]) loadFromCache(ctx context.Context) {
	kc.loop.submit(func() {
		entry, ok, err := kc.backend.GetOrNull(ctx, kc.key)
		if err != nil {
			kc.logger.Trace(storage.LevelError, "cache read failed", err, "")
			kc.subject.publish(Errored(kc.lastEmitted, err.Error(), err, ""))
			return
		}
		var v *V
		if ok {
			val := entry.Value
			v = &val
		}
		kc.setLastEmittedLocked(v)
		kc.subject.publish(Success(v))
	})
}

func (kc *keyCoordinator[K, V]) loadFromExternal(ctx context.Context, reload bool) {
	kc.loop.submit(func() {
		entry, ok, err := kc.backend.GetOrNull(ctx, kc.key)
		if err != nil {
			kc.logger.Trace(storage.LevelError, "cache read failed", err, "")
			kc.subject.publish(Errored(kc.lastEmitted, err.Error(), err, ""))
			return
		}

		var cacheVal *V
		if ok {
			v := entry.Value
			cacheVal = &v
		}

		if !kc.equalPtr(kc.lastEmitted, cacheVal) {
			kc.subject.publish(Loading(cacheVal))
		}

		needsOrigin := reload
		if ok && !needsOrigin {
			needsOrigin = kc.policy.IsStale(kc.key, entry, kc.clock.NowUnixNano())
		}

		if ok && !needsOrigin {
			kc.metrics.CacheHit()
			kc.setLastEmittedLocked(cacheVal)
			kc.subject.publish(Success(cacheVal))
			return
		}

		kc.metrics.FetchStarted()
		v, err := kc.fetch(ctx, kc.key)
		if err != nil {
			kc.metrics.FetchFailed()
			kc.logger.Trace(storage.LevelError, "origin fetch failed", err, "")
			cause := &OriginError{Key: kc.key, Cause: err}
			kc.subject.publish(Errored(cacheVal, err.Error(), cause, ""))
			return
		}
		kc.metrics.FetchSucceeded()

		now := kc.clock.NowUnixNano()
		if perr := kc.backend.Put(ctx, kc.key, v, &now); perr != nil {
			kc.logger.Trace(storage.LevelError, "storage put failed", perr, "")
			cause := &OriginError{Key: kc.key, Cause: perr}
			kc.subject.publish(Errored(cacheVal, perr.Error(), cause, ""))
			return
		}
		kc.setLastEmittedLocked(&v)
		kc.subject.publish(Success(&v))
	})
}

// defaultClock is used when coordinator.Options.Clock is nil.
type defaultClock struct{}

func (defaultClock) NowUnixNano() int64 { return time.Now().UnixNano() }
