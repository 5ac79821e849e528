package coordinator

import "github.com/IvanBrykalov/rescoord/storage"

// Level and Logger are re-exported from package storage, which defines
// them so that both storage backends and package config can log
// without importing this package (coordinator imports config to
// resolve its Persistent/Secure presets, so config must not import
// coordinator back).
type (
	Level  = storage.Level
	Logger = storage.Logger
)

const (
	LevelDebug   = storage.LevelDebug
	LevelWarning = storage.LevelWarning
	LevelError   = storage.LevelError
)

// NoopLogger discards everything; it is the zero-value default logger.
type NoopLogger = storage.NoopLogger

// Metrics exposes coordinator-level observability hooks: fetch
// outcomes, staleness decisions, and waiter coalescing pressure.
// Shaped after shardcache's Metrics interface (Hit/Miss/Evict/Size)
// but renamed to this domain's events.
type Metrics interface {
	// FetchStarted is called each time requestLoading actually invokes
	// the origin (fetch/loadPage), i.e. at most once per refresh epoch; an
	// epoch served from a fresh cache reports CacheHit instead.
	FetchStarted()
	// FetchSucceeded/FetchFailed report the outcome of an origin call.
	FetchSucceeded()
	FetchFailed()
	// CacheHit is called when a refresh is satisfied by the cache
	// without an origin call (cache present and not stale).
	CacheHit()
	// Waiters reports the current number of keys with a coalesced
	// Get/Invalidate wait in flight, sampled each time such a wait returns.
	Waiters(n int)
}

// NoopMetrics discards every signal; the default when no Metrics is configured.
type NoopMetrics struct{}

func (NoopMetrics) FetchStarted()   {}
func (NoopMetrics) FetchSucceeded() {}
func (NoopMetrics) FetchFailed()    {}
func (NoopMetrics) CacheHit()       {}
func (NoopMetrics) Waiters(int)     {}

var _ Metrics = NoopMetrics{}
var _ Logger = NoopLogger{}
