// Package prom adapts coordinator.Metrics onto Prometheus counters and
// gauges, the same shape shardcache's metrics/prom package used for its
// cache.Metrics interface.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/rescoord/coordinator"
)

// Adapter implements coordinator.Metrics and exports Prometheus
// counters/gauges. Safe for concurrent use; all Prometheus metric
// types are goroutine-safe.
type Adapter struct {
	fetchStarted   prometheus.Counter
	fetchSucceeded prometheus.Counter
	fetchFailed    prometheus.Counter
	cacheHits      prometheus.Counter
	waiters        prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels: static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		fetchStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "fetch_started_total",
			Help:        "Origin fetch calls started",
			ConstLabels: constLabels,
		}),
		fetchSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "fetch_succeeded_total",
			Help:        "Origin fetch calls that returned a value",
			ConstLabels: constLabels,
		}),
		fetchFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "fetch_failed_total",
			Help:        "Origin fetch calls that returned an error",
			ConstLabels: constLabels,
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "cache_hits_total",
			Help:        "Refreshes satisfied from storage without an origin call",
			ConstLabels: constLabels,
		}),
		waiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "waiters",
			Help:        "Keys with a coalesced Get/Invalidate wait currently in flight",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.fetchStarted, a.fetchSucceeded, a.fetchFailed, a.cacheHits, a.waiters)
	return a
}

func (a *Adapter) FetchStarted()   { a.fetchStarted.Inc() }
func (a *Adapter) FetchSucceeded() { a.fetchSucceeded.Inc() }
func (a *Adapter) FetchFailed()    { a.fetchFailed.Inc() }
func (a *Adapter) CacheHit()       { a.cacheHits.Inc() }
func (a *Adapter) Waiters(n int)   { a.waiters.Set(float64(n)) }

// Compile-time check: ensure Adapter implements coordinator.Metrics.
var _ coordinator.Metrics = (*Adapter)(nil)
