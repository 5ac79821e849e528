// Command bench runs a synthetic workload against a ResourceCoordinator
// and exposes a Prometheus /metrics endpoint plus an optional pprof
// endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/rescoord/coordinator"
	"github.com/IvanBrykalov/rescoord/logging/zlog"
	pmet "github.com/IvanBrykalov/rescoord/metrics/prom"
	"github.com/IvanBrykalov/rescoord/staleness"
)

// fanoutMetrics forwards every signal to both a reporting backend (here
// Prometheus, for the /metrics endpoint) and an in-process
// coordinator.CountingMetrics, whose padded atomics are built to absorb
// exactly this kind of many-goroutines-one-counter contention.
type fanoutMetrics struct {
	reporting coordinator.Metrics
	counting  *coordinator.CountingMetrics
}

func (m fanoutMetrics) FetchStarted() { m.reporting.FetchStarted(); m.counting.FetchStarted() }
func (m fanoutMetrics) FetchSucceeded() {
	m.reporting.FetchSucceeded()
	m.counting.FetchSucceeded()
}
func (m fanoutMetrics) FetchFailed() { m.reporting.FetchFailed(); m.counting.FetchFailed() }
func (m fanoutMetrics) CacheHit()    { m.reporting.CacheHit(); m.counting.CacheHit() }
func (m fanoutMetrics) Waiters(n int) {
	m.reporting.Waiters(n)
	m.counting.Waiters(n)
}

var _ coordinator.Metrics = fanoutMetrics{}

func main() {
	// ---- Flags ----
	var (
		staleAfter = flag.Duration("stale-after", time.Second, "staleness window before a refresh re-invokes the origin")
		workers    = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration   = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct    = flag.Int("reads", 80, "read percentage [0..100]; the remainder forces an invalidating reload")

		keys    = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS   = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload = flag.Int("preload", 50_000, "keys to preload before the timed run")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	logger := zlog.New(zl)

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			zl.Info().Str("addr", *pprofAddr).Msg("pprof: serving")
			zl.Error().Err(http.ListenAndServe(*pprofAddr, nil)).Msg("pprof server exited")
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux), fanned out to a
	// local CountingMetrics for the in-process report below ----
	counting := &coordinator.CountingMetrics{}
	metrics := fanoutMetrics{reporting: pmet.New(nil, "rescoord", "bench", nil), counting: counting}
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		zl.Info().Str("addr", *metricsAddr).Msg("metrics: serving")
		zl.Error().Err(http.ListenAndServe(*metricsAddr, nil)).Msg("metrics server exited")
	}()

	var origins int64
	rc, err := coordinator.New[string, string](coordinator.Options[string, string]{
		Policy:  staleness.FixedDuration[string, string](*staleAfter),
		Metrics: metrics,
		Logger:  logger,
		Fetch: func(_ context.Context, key string) (string, error) {
			atomic.AddInt64(&origins, 1)
			return "v:" + key, nil
		},
	})
	if err != nil {
		zl.Fatal().Err(err).Msg("coordinator.New failed")
	}
	defer rc.Close()

	ctx := context.Background()

	// ---- Preload so the timed run starts with a realistic hit-rate ----
	for i := 0; i < *preload; i++ {
		k := "k:" + strconv.Itoa(i)
		if _, err := rc.Get(ctx, k, false, false); err != nil {
			zl.Fatal().Err(err).Str("key", k).Msg("preload failed")
		}
	}

	// ---- Snapshot flags for goroutines ----
	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var reads, reloads, errs, total uint64
	runCtx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var eg errgroup.Group
	for w := 0; w < workersN; w++ {
		id := w
		eg.Go(func() error {
			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			keyByZipf := func() string {
				return "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
			}

			for {
				select {
				case <-runCtx.Done():
					return nil
				default:
				}

				atomic.AddUint64(&total, 1)
				k := keyByZipf()
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					if _, err := rc.Get(ctx, k, false, false); err != nil {
						atomic.AddUint64(&errs, 1)
					}
				} else {
					atomic.AddUint64(&reloads, 1)
					if err := rc.Invalidate(ctx, k, true, false); err != nil {
						atomic.AddUint64(&errs, 1)
					}
				}
			}
		})
	}
	_ = eg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	reloadsN := atomic.LoadUint64(&reloads)
	errsN := atomic.LoadUint64(&errs)

	fmt.Printf("stale-after=%s workers=%d keys=%d dur=%v seed=%d\n",
		*staleAfter, workersN, *keys, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  forced-reloads=%d  errors=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, reloadsN, errsN)
	fmt.Printf("origin calls=%d\n", atomic.LoadInt64(&origins))

	fetchStarted, fetchSucceeded, fetchFailed, cacheHits, waiters := counting.Snapshot()
	fmt.Printf("counting metrics: fetchStarted=%d fetchSucceeded=%d fetchFailed=%d cacheHits=%d waiters=%d\n",
		fetchStarted, fetchSucceeded, fetchFailed, cacheHits, waiters)
}
