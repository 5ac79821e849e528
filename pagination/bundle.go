// Package pagination builds PageableCoordinator on top of an internal
// coordinator.ResourceCoordinator[K, Bundle[V,M]], composing repeated
// origin page calls into one cached, growing list. Two variants are
// offered: offset+intersection (offset.go) and page+size (sizepage.go).
package pagination

// Bundle is the cached, growing page list for a key. NextPage is only
// meaningful for the size+page variant; the offset variant derives
// LoadedAll from the last fetched page's length instead of a cursor.
type Bundle[V any, M any] struct {
	Items     []V
	LoadedAll bool
	NextPage  *int
	Meta      *M
}

// BundleFactory offers the extension points the offset and size+page
// pagination variants use to customize cache-reuse and consistency
// handling on a first-page refetch or a subsequent page merge — mirrors
// shardcache's policy factory-of-factories pattern (policy.Policy[K,V]
// constructing eviction strategies), here constructing per-bundle hook
// behavior.
type BundleFactory[V any, M any] interface {
	// CanReuseCache decides, for the size+page variant, whether a
	// refetched first page should be discarded in favor of keeping the
	// existing bundle (offset-mode has its own unconditional prefix-match
	// rule and does not consult this hook).
	CanReuseCache(cache *Bundle[V, M], firstPage []V) bool

	// CheckConsistency runs before merging a newly loaded next page into
	// the cached bundle (size+page variant only); returning an error
	// aborts the merge with that error.
	CheckConsistency(cache *Bundle[V, M], newItems []V) error

	// BuildMeta derives the Meta stored alongside a merged bundle.
	BuildMeta(cache *Bundle[V, M], newItems []V) *M
}

// defaultBundleFactory is the factory used when none is supplied:
// CanReuseCache always false, CheckConsistency always nil, BuildMeta
// always nil.
type defaultBundleFactory[V any, M any] struct{}

func (defaultBundleFactory[V, M]) CanReuseCache(*Bundle[V, M], []V) bool      { return false }
func (defaultBundleFactory[V, M]) CheckConsistency(*Bundle[V, M], []V) error { return nil }
func (defaultBundleFactory[V, M]) BuildMeta(*Bundle[V, M], []V) *M           { return nil }
