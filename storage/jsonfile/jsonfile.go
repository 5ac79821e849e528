// Package jsonfile implements storage.Backend as one JSON file per key
// on an afero.Fs, using a plain persisted layout:
// {"value": <encoded V>, "storeTime": <int64>}.
//
// This backs the coordinator.Persistent preset. afero.Fs is used
// (rather than os directly) so tests and embedders can substitute
// afero.NewMemMapFs(), the same indirection Borislavv-advanced-cache
// pulls in transitively through viper for its own config file reads.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"github.com/IvanBrykalov/rescoord/internal/util"
	"github.com/IvanBrykalov/rescoord/storage"
)

type record[V any] struct {
	Value     V     `json:"value"`
	StoreTime int64 `json:"storeTime"`
}

// Options configures a Backend.
type Options struct {
	Fs    afero.Fs // nil => afero.NewOsFs()
	Dir   string   // root directory; storageName is appended as a subdirectory
	Clock storage.Clock
}

// Backend is a one-file-per-key JSON storage.Backend[K,V].
type Backend[K comparable, V any] struct {
	fs    afero.Fs
	dir   string
	clock storage.Clock
	mu    sync.Mutex
}

// New constructs a jsonfile Backend rooted at dir/storageName.
func New[K comparable, V any](storageName string, opt Options) (*Backend[K, V], error) {
	fs := opt.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	dir := opt.Dir
	if dir == "" {
		dir = "."
	}
	root := dir + "/" + storageName
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("jsonfile: mkdir %s: %w", root, err)
	}
	return &Backend[K, V]{fs: fs, dir: root, clock: opt.Clock}, nil
}

// Factory adapts New into a storage.Factory.
type Factory[K comparable, V any] struct{ Options Options }

func (f Factory[K, V]) New(storageName string, _ storage.DecodeFunc[V], clock storage.Clock) (storage.Backend[K, V], error) {
	opt := f.Options
	if opt.Clock == nil {
		opt.Clock = clock
	}
	return New[K, V](storageName, opt)
}

func (b *Backend[K, V]) pathFor(k K) string {
	h := util.Fnv64a[K](k)
	return fmt.Sprintf("%s/%016x.json", b.dir, h)
}

func (b *Backend[K, V]) GetOrNull(_ context.Context, k K) (storage.Entry[V], bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := afero.ReadFile(b.fs, b.pathFor(k))
	if err != nil {
		return storage.Entry[V]{}, false, nil //nolint:nilerr // absent file == miss, not an error
	}
	var rec record[V]
	if err := json.Unmarshal(raw, &rec); err != nil {
		var zero storage.Entry[V]
		return zero, false, fmt.Errorf("jsonfile: decode %v: %w", k, err)
	}
	return storage.Entry[V]{Value: rec.Value, StoreTime: rec.StoreTime}, true, nil
}

func (b *Backend[K, V]) Put(_ context.Context, k K, v V, storeTime *int64) error {
	st := int64(0)
	if storeTime != nil {
		st = *storeTime
	} else if b.clock != nil {
		st = b.clock.NowUnixNano()
	}
	raw, err := json.Marshal(record[V]{Value: v, StoreTime: st})
	if err != nil {
		return fmt.Errorf("jsonfile: encode %v: %w", k, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return afero.WriteFile(b.fs, b.pathFor(k), raw, 0o644)
}

func (b *Backend[K, V]) Remove(_ context.Context, k K) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	path := b.pathFor(k)
	ok, err := afero.Exists(b.fs, path)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return b.fs.Remove(path)
}

func (b *Backend[K, V]) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fs.RemoveAll(b.dir); err != nil {
		return err
	}
	return b.fs.MkdirAll(b.dir, 0o755)
}

var _ storage.Backend[string, int] = (*Backend[string, int])(nil)
var _ storage.Factory[string, int] = Factory[string, int]{}
