package coordinator

import (
	"fmt"

	"github.com/IvanBrykalov/rescoord/config"
	"github.com/IvanBrykalov/rescoord/staleness"
	"github.com/IvanBrykalov/rescoord/storage"
	"github.com/IvanBrykalov/rescoord/storage/memory"
)

// StorageKind selects which config.Global-registered storage.Factory a
// ResourceCoordinator resolves its Backend from, unless Options.Storage
// overrides it explicitly.
type StorageKind uint8

const (
	// InMemory is the default: storage/memory, or config.Global's
	// InMemoryStorageFactory if one is registered.
	InMemory StorageKind = iota
	// Persistent resolves config.Global().PersistentStorageFactory.
	Persistent
	// Secure resolves config.Global().SecureStorageFactory and forces
	// DisableLastEmitted: a secure family's keyCoordinators keep no
	// lastEmitted copy of the value. The broadcast bus still holds the
	// most recently published Resource, and each subscriber's last
	// delivered one, for duplicate suppression.
	Secure
)

// Options configures a ResourceCoordinator.
type Options[K comparable, V any] struct {
	// StorageName identifies this family to a Persistent/Secure Factory
	// (e.g. a subdirectory name); ignored by the InMemory default.
	StorageName string

	// Backend selects a preset; ignored if Storage is set explicitly.
	Backend StorageKind

	// Storage, if non-nil, bypasses preset resolution entirely.
	Storage storage.Backend[K, V]

	// Decode is passed to a resolved Factory for Persistent/Secure
	// presets; whether it is used is up to the factory (storage/jsonfile's
	// Factory ignores it and always decodes with encoding/json).
	Decode storage.DecodeFunc[V]

	// Policy defaults to staleness.FixedDuration(config defaults' window).
	Policy staleness.Policy[K, V]

	// Fetch is the origin loader. Nil means a cache-only family served
	// directly from storage (loadFromCache).
	Fetch FetchFunc[K, V]

	Logger  storage.Logger
	Metrics Metrics
	Clock   storage.Clock

	// DisableLastEmitted suppresses the in-process "last known value"
	// used to decide whether to emit an intermediate Loading event and
	// to serve allowLoadingState reads. Forced true for Secure.
	DisableLastEmitted bool

	// DataEqual overrides the default reflect.DeepEqual-based value
	// comparison used for duplicate-emission suppression.
	DataEqual func(a, b *V) bool
}

func (o Options[K, V]) resolveBackend() (storage.Backend[K, V], error) {
	if o.Storage != nil {
		return o.Storage, nil
	}

	clock := o.Clock
	if clock == nil {
		clock = defaultClock{}
	}

	switch o.Backend {
	case Persistent:
		factory, ok := config.Current().PersistentStorageFactory.(storage.Factory[K, V])
		if !ok || factory == nil {
			return nil, configurationMissing("persistent")
		}
		return factory.New(o.StorageName, o.Decode, clock)

	case Secure:
		factory, ok := config.Current().SecureStorageFactory.(storage.Factory[K, V])
		if !ok || factory == nil {
			return nil, configurationMissing("secure")
		}
		return factory.New(o.StorageName, o.Decode, clock)

	default:
		if factory, ok := config.Current().InMemoryStorageFactory.(storage.Factory[K, V]); ok && factory != nil {
			return factory.New(o.StorageName, o.Decode, clock)
		}
		return memory.New[K, V](memory.Options{Clock: clock}), nil
	}
}

func (o Options[K, V]) resolvePolicy() staleness.Policy[K, V] {
	if o.Policy != nil {
		return o.Policy
	}
	return staleness.FixedDuration[K, V](config.Current().Defaults.StalenessDuration)
}

func (o Options[K, V]) resolveLogger() storage.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	if l := config.Current().Logger; l != nil {
		return l
	}
	return storage.NoopLogger{}
}

func (o Options[K, V]) resolveMetrics() Metrics {
	if o.Metrics != nil {
		return o.Metrics
	}
	return NoopMetrics{}
}

func (o Options[K, V]) resolveClock() storage.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return defaultClock{}
}

func (o Options[K, V]) resolveDisableLastEmitted() bool {
	return o.DisableLastEmitted || o.Backend == Secure
}

func (o Options[K, V]) resolveDataEqual() equalFunc[V] {
	if o.DataEqual != nil {
		return o.DataEqual
	}
	return defaultDataEqual[V]
}

func (k StorageKind) String() string {
	switch k {
	case InMemory:
		return "in-memory"
	case Persistent:
		return "persistent"
	case Secure:
		return "secure"
	default:
		return fmt.Sprintf("StorageKind(%d)", uint8(k))
	}
}
