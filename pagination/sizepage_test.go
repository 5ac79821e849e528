package pagination

import (
	"context"
	"testing"

	"github.com/IvanBrykalov/rescoord/coordinator"
)

type meta struct{ Total int }

// pagedSource backs a page+size LoadSizePage (1-based pages) over an
// in-memory slice, reporting a constant Total in its meta.
func pagedSource(data []int) LoadSizePage[string, int, meta] {
	return func(ctx context.Context, k string, page, size int) ([]int, *meta, error) {
		offset := (page - 1) * size
		if offset >= len(data) {
			return nil, &meta{Total: len(data)}, nil
		}
		end := offset + size
		if end > len(data) {
			end = len(data)
		}
		m := meta{Total: len(data)}
		return append([]int{}, data[offset:end]...), &m, nil
	}
}

func newSizePager(t *testing.T, data []int, pageSize int, dupDetect bool) *SizeCoordinator[string, int, meta] {
	t.Helper()
	sc, err := NewSizeCoordinator[string, int, meta](SizeOptions[string, int, meta]{
		LoadPage:                   pagedSource(data),
		PageSize:                   pageSize,
		DuplicatesDetectionEnabled: dupDetect,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sc.Close() })
	return sc
}

func TestNewSizeCoordinator_RejectsZeroPageSize(t *testing.T) {
	t.Parallel()
	_, err := NewSizeCoordinator[string, int, meta](SizeOptions[string, int, meta]{
		LoadPage: pagedSource(nil),
		PageSize: 0,
	})
	if err != errPageSizeTooSmall {
		t.Fatalf("expected errPageSizeTooSmall, got %v", err)
	}
}

// TestProperty8_SizePagingLaw: repeated LoadNextPage calls drain a
// source exactly once each, with NextPage advancing 1-based and
// LoadedAll set only once the source is exhausted.
func TestProperty8_SizePagingLaw(t *testing.T) {
	t.Parallel()
	data := []int{1, 2, 3, 4, 5, 6, 7}
	sc := newSizePager(t, data, 3, false)
	ctx := context.Background()

	r, err := sc.Get(ctx, "k", false, false)
	if err != nil {
		t.Fatal(err)
	}
	if r.Data == nil || len(r.Data.Items) != 3 || r.Data.NextPage == nil || *r.Data.NextPage != 2 {
		t.Fatalf("unexpected first page: %+v", r.Data)
	}

	if err := sc.LoadNextPage(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	bundle, _ := sc.GetCachedValue(ctx, "k", false)
	if len(bundle.Items) != 6 || bundle.LoadedAll || bundle.NextPage == nil || *bundle.NextPage != 3 {
		t.Fatalf("unexpected bundle after second page: %+v", bundle)
	}

	if err := sc.LoadNextPage(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	bundle, _ = sc.GetCachedValue(ctx, "k", false)
	if len(bundle.Items) != 7 || !bundle.LoadedAll || bundle.NextPage != nil {
		t.Fatalf("unexpected bundle after exhausting the source: %+v", bundle)
	}
	for i, v := range bundle.Items {
		if v != data[i] {
			t.Fatalf("item %d = %d, want %d", i, v, data[i])
		}
	}

	// A further call is a no-op once LoadedAll is true.
	if err := sc.LoadNextPage(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	after, _ := sc.GetCachedValue(ctx, "k", false)
	if len(after.Items) != 7 {
		t.Fatalf("expected no further growth once LoadedAll, got %d items", len(after.Items))
	}
}

// TestProperty9_CacheReuseOnRefetch verifies CanReuseCache lets an
// Invalidate(forceReload) refetch of page 1 keep an existing, larger
// bundle instead of truncating it back to one page.
func TestProperty9_CacheReuseOnRefetch(t *testing.T) {
	t.Parallel()
	data := []int{1, 2, 3, 4, 5, 6}
	sc, err := NewSizeCoordinator[string, int, meta](SizeOptions[string, int, meta]{
		LoadPage: pagedSource(data),
		PageSize: 3,
		Factory:  reusingFactory{},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sc.Close() })
	ctx := context.Background()

	if _, err := sc.Get(ctx, "k", false, false); err != nil {
		t.Fatal(err)
	}
	if err := sc.LoadNextPage(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	before, _ := sc.GetCachedValue(ctx, "k", false)
	if len(before.Items) != 6 {
		t.Fatalf("expected 6 items loaded before refetch, got %d", len(before.Items))
	}

	if err := sc.Invalidate(ctx, "k", true, false); err != nil {
		t.Fatal(err)
	}
	after, _ := sc.GetCachedValue(ctx, "k", false)
	if len(after.Items) != 6 {
		t.Fatalf("expected the reused bundle to retain all 6 items, got %d: %v", len(after.Items), after.Items)
	}
}

type reusingFactory struct{}

func (reusingFactory) CanReuseCache(cache *Bundle[int, meta], firstPage []int) bool {
	return cache != nil && len(cache.Items) > len(firstPage)
}
func (reusingFactory) CheckConsistency(*Bundle[int, meta], []int) error { return nil }
func (reusingFactory) BuildMeta(cache *Bundle[int, meta], newItems []int) *meta {
	if cache != nil {
		return cache.Meta
	}
	return nil
}

// TestScenario_S6_DuplicateDetectionRejectsOverlappingPage verifies that
// with DuplicatesDetectionEnabled, a next page overlapping the cached
// items is rejected rather than silently duplicated.
func TestScenario_S6_DuplicateDetectionRejectsOverlappingPage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	calls := 0
	loader := func(ctx context.Context, k string, page, size int) ([]int, *meta, error) {
		calls++
		if calls == 1 {
			return []int{1, 2, 3}, nil, nil
		}
		// Simulates the origin re-serving an item already seen on page 1.
		return []int{3, 4, 5}, nil, nil
	}
	sc, err := NewSizeCoordinator[string, int, meta](SizeOptions[string, int, meta]{
		LoadPage:                   loader,
		PageSize:                   3,
		DuplicatesDetectionEnabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sc.Close() })

	if _, err := sc.Get(ctx, "k", false, false); err != nil {
		t.Fatal(err)
	}
	before, _ := sc.GetCachedValue(ctx, "k", false)

	err = sc.LoadNextPage(ctx, "k")
	if err == nil {
		t.Fatal("expected InconsistentPageDataError")
	}
	if _, ok := err.(*coordinator.InconsistentPageDataError); !ok {
		t.Fatalf("expected *coordinator.InconsistentPageDataError, got %T: %v", err, err)
	}

	after, _ := sc.GetCachedValue(ctx, "k", false)
	if len(after.Items) != len(before.Items) {
		t.Fatalf("expected bundle unchanged after a rejected page, before=%v after=%v", before.Items, after.Items)
	}
}
