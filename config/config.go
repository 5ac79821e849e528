// Package config holds the process-wide configuration surface:
// the Persistent/Secure/InMemory storage factories a
// ResourceCoordinator resolves its presets from, the default Logger,
// and a handful of tunable defaults (default staleness duration,
// default pagination size, default on-disk storage directory) loaded
// from the environment.
//
// Loading follows Borislavv-advanced-cache's pattern: godotenv loads a
// local .env file (ignored if absent), viper.AutomaticEnv binds process
// environment variables, and envconfig/mapstructure struct tags name
// them on a plain Defaults struct.
package config

import (
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/IvanBrykalov/rescoord/storage"
)

// Defaults are environment-tunable knobs. Only StalenessDuration is
// read by another package (coordinator presets); PageSize and
// PersistentStorageDir are loaded and exposed but not consulted by the
// pagination or storage/jsonfile packages.
type Defaults struct {
	// StalenessDuration is the FixedDuration window used by presets
	// that don't specify their own staleness.Policy.
	StalenessDuration time.Duration `envconfig:"RESCOORD_STALENESS_DURATION" mapstructure:"RESCOORD_STALENESS_DURATION" default:"30s"`
	// PageSize is a default page size; the pagination constructors do
	// not read it and reject a PageSize below 1.
	PageSize int `envconfig:"RESCOORD_PAGE_SIZE" mapstructure:"RESCOORD_PAGE_SIZE" default:"50"`
	// PersistentStorageDir is a default storage root; storage/jsonfile
	// does not read it and falls back to "." when Options.Dir is empty.
	PersistentStorageDir string `envconfig:"RESCOORD_STORAGE_DIR" mapstructure:"RESCOORD_STORAGE_DIR" default:"./rescoord-data"`
}

// Global is the process-wide singleton consulted by coordinator.New
// when resolving its Persistent/Secure/InMemory presets.
//
// Go has no existential generics, so a registered Factory is stored
// type-erased (as `any`, expected to hold a storage.Factory[K,V] for
// the specific K,V the caller will type-assert against) — this is an
// Open Question resolution documented in DESIGN.md, not an oversight.
type Global struct {
	PersistentStorageFactory any // storage.Factory[K,V], type-asserted by callers
	SecureStorageFactory     any // storage.Factory[K,V], type-asserted by callers
	InMemoryStorageFactory   any // storage.Factory[K,V]; nil => storage/memory default
	Logger                   storage.Logger
	Defaults                 Defaults
}

var (
	mu      sync.RWMutex
	current = Global{Logger: storage.NoopLogger{}}
	loaded  bool
)

// Configure replaces the process-wide Global configuration, Defaults
// included: a g with zero Defaults clears what an earlier Load stored.
// A nil Logger is replaced by storage.NoopLogger.
func Configure(g Global) {
	mu.Lock()
	defer mu.Unlock()
	if g.Logger == nil {
		g.Logger = storage.NoopLogger{}
	}
	current = g
}

// Current returns the active Global configuration.
func Current() Global {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Load reads Defaults from the environment (optionally via a .env
// file) and merges them into the current Global, leaving registered
// factories and Logger untouched. Safe to call more than once; later
// calls overwrite only the Defaults fields.
func Load() (Defaults, error) {
	_ = godotenv.Load()
	viper.AutomaticEnv()
	_ = viper.BindEnv("RESCOORD_STALENESS_DURATION")
	_ = viper.BindEnv("RESCOORD_PAGE_SIZE")
	_ = viper.BindEnv("RESCOORD_STORAGE_DIR")

	var d Defaults
	if err := envconfig.Process("", &d); err != nil {
		return Defaults{}, err
	}

	mu.Lock()
	current.Defaults = d
	loaded = true
	mu.Unlock()

	return d, nil
}

// Loaded reports whether Load has run at least once.
func Loaded() bool {
	mu.RLock()
	defer mu.RUnlock()
	return loaded
}
