package coordinator

import "github.com/IvanBrykalov/rescoord/internal/util"

// CountingMetrics is a lock-free Metrics implementation for tests and
// benchmarks. Each counter is padded to its own cache line (shardcache's
// internal/util.PaddedAtomicInt64) since many keyCoordinators across many
// goroutines update these same five counters concurrently; without padding
// they'd all fall in one or two cache lines and false-share on every update.
type CountingMetrics struct {
	fetchStarted   util.PaddedAtomicInt64
	fetchSucceeded util.PaddedAtomicInt64
	fetchFailed    util.PaddedAtomicInt64
	cacheHits      util.PaddedAtomicInt64
	waiters        util.PaddedAtomicInt64
}

func (m *CountingMetrics) FetchStarted()   { m.fetchStarted.Add(1) }
func (m *CountingMetrics) FetchSucceeded() { m.fetchSucceeded.Add(1) }
func (m *CountingMetrics) FetchFailed()    { m.fetchFailed.Add(1) }
func (m *CountingMetrics) CacheHit()       { m.cacheHits.Add(1) }
func (m *CountingMetrics) Waiters(n int)   { m.waiters.Store(int64(n)) }

func (m *CountingMetrics) Snapshot() (fetchStarted, fetchSucceeded, fetchFailed, cacheHits, waiters int64) {
	return m.fetchStarted.Load(), m.fetchSucceeded.Load(), m.fetchFailed.Load(), m.cacheHits.Load(), m.waiters.Load()
}

var _ Metrics = (*CountingMetrics)(nil)
