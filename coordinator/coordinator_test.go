package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/rescoord/staleness"
	"github.com/IvanBrykalov/rescoord/storage"
	"github.com/IvanBrykalov/rescoord/storage/memory"
)

type manualClock struct{ t atomic.Int64 }

func (c *manualClock) NowUnixNano() int64 { return c.t.Load() }
func (c *manualClock) set(v int64)        { c.t.Store(v) }

func newIntFamily(t *testing.T, fetch FetchFunc[string, int], policy staleness.Policy[string, int], clk storage.Clock) (ResourceCoordinator[string, int], *memory.Backend[string, int]) {
	t.Helper()
	backend := memory.New[string, int](memory.Options{Clock: clk})
	rc, err := New[string, int](Options[string, int]{
		Storage: backend,
		Fetch:   fetch,
		Policy:  policy,
		Clock:   clk,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, backend
}

// TestScenario_S1_FreshHit: storage pre-populated with a fresh value and
// no staleness; Get must resolve to Success without invoking fetch.
func TestScenario_S1_FreshHit(t *testing.T) {
	t.Parallel()
	clk := &manualClock{}
	clk.set(1000)
	var fetchCalls int32
	fetch := func(ctx context.Context, key string) (int, error) {
		atomic.AddInt32(&fetchCalls, 1)
		return -1, nil
	}
	rc, backend := newIntFamily(t, fetch, staleness.FixedDuration[string, int](100), clk)
	zero := int64(1000)
	_ = backend.Put(context.Background(), "k", 1, &zero)

	r, err := rc.Get(context.Background(), "k", false, false)
	if err != nil {
		t.Fatal(err)
	}
	if r.State != StateSuccess || r.Data == nil || *r.Data != 1 {
		t.Fatalf("unexpected resource: %+v", r)
	}
	if atomic.LoadInt32(&fetchCalls) != 0 {
		t.Fatalf("expected no fetch calls, got %d", fetchCalls)
	}
}

// TestScenario_S2_StaleRefresh: storage holds a stale value; Get must
// trigger exactly one fetch and end up with the fetched value in storage.
func TestScenario_S2_StaleRefresh(t *testing.T) {
	t.Parallel()
	clk := &manualClock{}
	clk.set(1000)
	var fetchCalls int32
	fetch := func(ctx context.Context, key string) (int, error) {
		atomic.AddInt32(&fetchCalls, 1)
		return 2, nil
	}
	rc, backend := newIntFamily(t, fetch, staleness.FixedDuration[string, int](100), clk)
	old := int64(500)
	_ = backend.Put(context.Background(), "k", 1, &old)

	r, err := rc.Get(context.Background(), "k", false, false)
	if err != nil {
		t.Fatal(err)
	}
	if r.State != StateSuccess || r.Data == nil || *r.Data != 2 {
		t.Fatalf("unexpected resource: %+v", r)
	}
	if atomic.LoadInt32(&fetchCalls) != 1 {
		t.Fatalf("expected exactly one fetch call, got %d", fetchCalls)
	}
	entry, ok, _ := backend.GetOrNull(context.Background(), "k")
	if !ok || entry.Value != 2 || entry.StoreTime != 1000 {
		t.Fatalf("unexpected storage state: ok=%v entry=%+v", ok, entry)
	}
}

// TestScenario_S3_FetchErrorPreservesCache: a fetch failure must surface
// an Error resource carrying the prior cached value, and must not mutate
// storage.
func TestScenario_S3_FetchErrorPreservesCache(t *testing.T) {
	t.Parallel()
	clk := &manualClock{}
	clk.set(1000)
	wantErr := errors.New("origin unavailable")
	fetch := func(ctx context.Context, key string) (int, error) {
		return 0, wantErr
	}
	rc, backend := newIntFamily(t, fetch, staleness.FixedDuration[string, int](100), clk)
	old := int64(500)
	_ = backend.Put(context.Background(), "k", 1, &old)

	r, err := rc.Get(context.Background(), "k", false, false)
	if err != nil {
		t.Fatal(err)
	}
	if r.State != StateError {
		t.Fatalf("expected StateError, got %+v", r)
	}
	if r.Data == nil || *r.Data != 1 {
		t.Fatalf("expected prior cached value 1 to survive in the error resource, got %+v", r.Data)
	}
	var originErr *OriginError
	if !errors.As(r.Cause, &originErr) || !errors.Is(originErr.Cause, wantErr) {
		t.Fatalf("expected Cause to wrap %v, got %v", wantErr, r.Cause)
	}

	entry, ok, _ := backend.GetOrNull(context.Background(), "k")
	if !ok || entry.Value != 1 || entry.StoreTime != 500 {
		t.Fatalf("expected storage unchanged, got ok=%v entry=%+v", ok, entry)
	}
}

// TestScenario_S4_ConcurrentSubscribersSingleFetch: two concurrent Get
// calls for an empty key must observe the same fetched value while the
// origin is invoked exactly once (single-flight coalescing, property 2).
func TestScenario_S4_ConcurrentSubscribersSingleFetch(t *testing.T) {
	t.Parallel()
	clk := &manualClock{}
	clk.set(1000)
	var fetchCalls int32
	release := make(chan struct{})
	fetch := func(ctx context.Context, key string) (int, error) {
		atomic.AddInt32(&fetchCalls, 1)
		<-release
		return 9, nil
	}
	rc, _ := newIntFamily(t, fetch, staleness.FixedDuration[string, int](100), clk)

	var eg errgroup.Group
	results := make([]Resource[int], 2)
	for i := 0; i < 2; i++ {
		i := i
		eg.Go(func() error {
			r, err := rc.Get(context.Background(), "k", false, false)
			results[i] = r
			return err
		})
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}

	for i := range results {
		if results[i].State != StateSuccess || results[i].Data == nil || *results[i].Data != 9 {
			t.Fatalf("subscriber %d: unexpected resource %+v", i, results[i])
		}
	}
	if atomic.LoadInt32(&fetchCalls) != 1 {
		t.Fatalf("expected exactly one fetch call across concurrent subscribers, got %d", fetchCalls)
	}
}

// TestProperty1_EpochCoalescing verifies that concurrent forceReload
// requests arriving while a fetch is in flight coalesce into at most
// one additional epoch rather than one epoch per caller. This drives
// keyCoordinator.requestLoading directly, bypassing the
// ResourceCoordinator-level single-flight wait-coalescing (a distinct
// mechanism, see Group's doc comment) so the isLoading/shouldReload
// latch itself is what's under test.
func TestProperty1_EpochCoalescing(t *testing.T) {
	clk := &manualClock{}
	clk.set(1000)
	var fetchCalls int32
	release := make(chan struct{})
	fetch := func(ctx context.Context, key string) (int, error) {
		n := atomic.AddInt32(&fetchCalls, 1)
		if n == 1 {
			<-release
		}
		return int(n), nil
	}
	backend := memory.New[string, int](memory.Options{Clock: clk})
	kc := newKeyCoordinator[string, int]("k", backend, fetch, staleness.Never[string, int](), clk, storage.NoopLogger{}, NoopMetrics{}, nil, false)
	t.Cleanup(func() { _ = kc.Close() })

	done := make(chan struct{})
	go func() {
		kc.requestLoading(context.Background(), false)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond) // let the first epoch start and block on release

	const reloaders = 10
	var eg errgroup.Group
	for i := 0; i < reloaders; i++ {
		eg.Go(func() error {
			kc.requestLoading(context.Background(), true)
			return nil
		})
	}
	time.Sleep(20 * time.Millisecond) // let all reload requests latch shouldReload
	close(release)
	_ = eg.Wait()
	<-done

	// Give the coalesced second epoch time to finish.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&fetchCalls); got > 2 {
		t.Fatalf("expected at most 2 fetch epochs (initial + one coalesced reload), got %d", got)
	}
	if got := atomic.LoadInt32(&fetchCalls); got < 2 {
		t.Fatalf("expected the coalesced reload to still trigger a second epoch, got %d", got)
	}
}

// TestProperty4_DurabilityBeforeNotification verifies that by the time a
// Success(v) resource is observed, storage already reflects v.
func TestProperty4_DurabilityBeforeNotification(t *testing.T) {
	t.Parallel()
	clk := &manualClock{}
	clk.set(1000)
	fetch := func(ctx context.Context, key string) (int, error) { return 42, nil }
	rc, backend := newIntFamily(t, fetch, staleness.Never[string, int](), clk)

	r, err := rc.Get(context.Background(), "k", false, false)
	if err != nil {
		t.Fatal(err)
	}
	if r.State != StateSuccess || *r.Data != 42 {
		t.Fatalf("unexpected resource: %+v", r)
	}
	entry, ok, _ := backend.GetOrNull(context.Background(), "k")
	if !ok || entry.Value != 42 {
		t.Fatalf("expected storage to already hold 42, got ok=%v entry=%+v", ok, entry)
	}
}

// TestProperty5_InvalidateMarksStale verifies that Invalidate without
// forceReload rewrites storeTime to 0 while preserving the value.
func TestProperty5_InvalidateMarksStale(t *testing.T) {
	t.Parallel()
	clk := &manualClock{}
	clk.set(1000)
	rc, backend := newIntFamily(t, nil, staleness.Never[string, int](), clk)
	old := int64(500)
	_ = backend.Put(context.Background(), "k", 7, &old)

	if err := rc.Invalidate(context.Background(), "k", false, false); err != nil {
		t.Fatal(err)
	}
	entry, ok, _ := backend.GetOrNull(context.Background(), "k")
	if !ok || entry.Value != 7 || entry.StoreTime != 0 {
		t.Fatalf("expected value preserved with storeTime=0, got ok=%v entry=%+v", ok, entry)
	}
}

// TestProperty6_UpdatePreservesStoreTime verifies that UpdateCachedValue
// does not advance storeTime (it is not a refresh).
func TestProperty6_UpdatePreservesStoreTime(t *testing.T) {
	t.Parallel()
	clk := &manualClock{}
	clk.set(1000)
	rc, backend := newIntFamily(t, nil, staleness.Never[string, int](), clk)
	old := int64(500)
	_ = backend.Put(context.Background(), "k", 1, &old)

	err := rc.UpdateCachedValue(context.Background(), "k", func(v *int) *int {
		n := *v + 1
		return &n
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	entry, ok, _ := backend.GetOrNull(context.Background(), "k")
	if !ok || entry.Value != 2 || entry.StoreTime != 500 {
		t.Fatalf("expected value=2 storeTime=500 preserved, got ok=%v entry=%+v", ok, entry)
	}
}

// putFailingBackend wraps a Backend and fails every Put after
// allowedPuts successful ones, to exercise the durability-before-
// notification path when the origin succeeds but storage write fails.
type putFailingBackend[K comparable, V any] struct {
	storage.Backend[K, V]
	allowedPuts int32
	putErr      error
}

func (b *putFailingBackend[K, V]) Put(ctx context.Context, k K, v V, storeTime *int64) error {
	if atomic.AddInt32(&b.allowedPuts, -1) < 0 {
		return b.putErr
	}
	return b.Backend.Put(ctx, k, v, storeTime)
}

// TestProperty4_PutFailureSurfacesErrorNotSuccess verifies that a
// successful fetch whose subsequent storage Put fails is surfaced as an
// Error resource (carrying the prior cached value), never as a Success
// for a value that never became durable.
func TestProperty4_PutFailureSurfacesErrorNotSuccess(t *testing.T) {
	t.Parallel()
	clk := &manualClock{}
	clk.set(1000)
	putErr := errors.New("disk full")
	backend := &putFailingBackend[string, int]{
		Backend:     memory.New[string, int](memory.Options{Clock: clk}),
		allowedPuts: 0,
		putErr:      putErr,
	}
	old := int64(500)
	_ = backend.Backend.Put(context.Background(), "k", 1, &old)

	fetch := func(ctx context.Context, key string) (int, error) { return 2, nil }
	rc, err := New[string, int](Options[string, int]{
		Storage: backend,
		Fetch:   fetch,
		Policy:  staleness.FixedDuration[string, int](100),
		Clock:   clk,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	r, err := rc.Get(context.Background(), "k", false, false)
	if err != nil {
		t.Fatal(err)
	}
	if r.State != StateError {
		t.Fatalf("expected StateError when Put fails after a successful fetch, got %+v", r)
	}
	if r.Data == nil || *r.Data != 1 {
		t.Fatalf("expected the prior cached value 1 to survive, got %+v", r.Data)
	}
	var originErr *OriginError
	if !errors.As(r.Cause, &originErr) || !errors.Is(originErr.Cause, putErr) {
		t.Fatalf("expected Cause to wrap %v, got %v", putErr, r.Cause)
	}

	entry, ok, _ := backend.Backend.GetOrNull(context.Background(), "k")
	if !ok || entry.Value != 1 || entry.StoreTime != 500 {
		t.Fatalf("expected storage unchanged by the failed write, got ok=%v entry=%+v", ok, entry)
	}
}

// TestClearAll_ErasesRegistryRegardlessOfCloseSubscriptions verifies
// that ClearAll always drops every key from the internal registry, even
// when closeSubscriptions is false (only whether existing
// keyCoordinators are closed first is conditional on that flag).
func TestClearAll_ErasesRegistryRegardlessOfCloseSubscriptions(t *testing.T) {
	t.Parallel()
	clk := &manualClock{}
	clk.set(1000)
	fetch := func(ctx context.Context, key string) (int, error) { return 1, nil }
	rc, _ := newIntFamily(t, fetch, staleness.Never[string, int](), clk)

	if _, err := rc.Get(context.Background(), "k", false, false); err != nil {
		t.Fatal(err)
	}

	impl := rc.(*resourceCoordinator[string, int])
	keyCount := func() int {
		var n int
		impl.loop.submit(func() { n = len(impl.keys) })
		return n
	}
	if keyCount() != 1 {
		t.Fatalf("expected 1 registered key before ClearAll, got %d", keyCount())
	}

	if err := rc.ClearAll(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if n := keyCount(); n != 0 {
		t.Fatalf("expected ClearAll(closeSubscriptions=false) to erase the registry, got %d keys", n)
	}
}

// TestCacheOnlyFamily_NoFetchConfigured exercises loadFromCache: a family
// with a nil Fetch always serves directly from storage.
func TestCacheOnlyFamily_NoFetchConfigured(t *testing.T) {
	t.Parallel()
	clk := &manualClock{}
	clk.set(1000)
	rc, backend := newIntFamily(t, nil, staleness.Never[string, int](), clk)
	zero := int64(0)
	_ = backend.Put(context.Background(), "k", 5, &zero)

	r, err := rc.Get(context.Background(), "k", false, false)
	if err != nil {
		t.Fatal(err)
	}
	if r.State != StateSuccess || r.Data == nil || *r.Data != 5 {
		t.Fatalf("unexpected resource: %+v", r)
	}
}
