/*
Package metrics provides Prometheus metrics collection and exposition for
the cache engine.

The metrics package defines and registers every engine metric using the
Prometheus client library, giving observability into cache effectiveness,
flush behaviour, transaction outcomes, and backend latency. Metrics are
exposed via an HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (buffered bytes)     │          │
	│  │  Counter: Monotonic increases (cache hits)  │          │
	│  │  Histogram: Distributions (flush duration)  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Cache: hit/miss counts, cached keys        │          │
	│  │  Flush: counts, duration, buffered bytes    │          │
	│  │  Transaction: commits, conflicts, duration  │          │
	│  │  Store: backend read/write/commit duration  │          │
	│  │  Server: serve-mode request count/duration  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Thread-safe for concurrent updates

Gauge Metrics:
  - Instant value that can go up or down
  - Examples: buffered bytes, cached keys, open transactions
  - Operations: Set, Inc, Dec, Add, Sub

Counter Metrics:
  - Monotonically increasing value
  - Examples: cache hits/misses, flushes, transaction commits
  - Operations: Inc, Add (cannot decrease)

Histogram Metrics:
  - Distribution of observed values
  - Examples: flush duration, transaction commit duration, store latency
  - Includes: sum, count, buckets

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

Collector:
  - Polls cache layers on a fixed interval for gauges that have no
    natural increment/decrement point (buffered bytes, cached key
    counts), so a layer idle between writes still reports current state
  - Layers register a StatsFunc/KeyCountFunc pair; per-event counters
    are still updated directly at the call site, not by the collector

# Metrics Catalog

Cache Metrics:

hierdb_cache_hits_total{index, layer}:
  - Type: Counter
  - Description: Reads served without touching the backend
  - Labels: index (e.g. "MAIN"), layer ("writeback", "readthrough", "lru")

hierdb_cache_misses_total{index, layer}:
  - Type: Counter
  - Description: Reads that fell through to the backend

hierdb_cached_keys_total{index, layer}:
  - Type: Gauge
  - Description: Keys currently held in a cache layer

hierdb_buffered_bytes{layer}:
  - Type: Gauge
  - Description: Approximate size of unflushed cache data

Flush Metrics:

hierdb_flushes_total{layer, outcome}:
  - Type: Counter
  - Description: Flushes from a cache layer to the backend, by outcome
    ("success" or "failure")

hierdb_flush_duration_seconds{layer}:
  - Type: Histogram
  - Description: Time taken to flush a cache layer to the backend

Transaction Metrics:

hierdb_transactions_open_total:
  - Type: Gauge
  - Description: HierarchicalDB transaction nodes currently open

hierdb_transaction_commits_total{outcome}:
  - Type: Counter
  - Description: Commit attempts, by outcome ("success", "conflict",
    "uncommitted_children", "already_committed")

hierdb_transaction_commit_duration_seconds:
  - Type: Histogram
  - Description: Time taken to commit a transaction node

hierdb_transaction_conflicts_total:
  - Type: Counter
  - Description: Commits rejected due to a sibling write-write conflict

Store Metrics:

hierdb_store_read_duration_seconds{index}:
  - Type: Histogram
  - Description: Time to read from the persistent backend

hierdb_store_write_duration_seconds{index}:
  - Type: Histogram
  - Description: Time to write to the persistent backend

hierdb_store_transaction_duration_seconds:
  - Type: Histogram
  - Description: Time to commit a batched backend write transaction

Server Metrics:

hierdb_requests_total{operation, status}:
  - Type: Counter
  - Description: Serve-mode requests by operation and status

hierdb_request_duration_seconds{operation}:
  - Type: Histogram
  - Description: Serve-mode request duration

# Usage

Updating Gauge Metrics:

	import "github.com/nebliotech/hierdb/pkg/metrics"

	metrics.CachedKeysTotal.WithLabelValues("MAIN", "writeback").Set(120)
	metrics.TransactionsOpenTotal.Inc()

Updating Counter Metrics:

	metrics.CacheHitsTotal.WithLabelValues("MAIN", "writeback").Inc()
	metrics.FlushesTotal.WithLabelValues("writeback", "success").Inc()

Recording Histogram Observations:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.TransactionCommitDuration)

Using Timer with Labels:

	timer := metrics.NewTimer()
	// ... flush a layer ...
	timer.ObserveDurationVec(metrics.FlushDuration, "writeback")

Registering a Layer with the Collector:

	c := metrics.NewCollector()
	c.Register("writeback", func() metrics.LayerStats {
		s := writebackLayer.Stats()
		return metrics.LayerStats{
			FlushCount:    s.FlushCount,
			FlushFailures: s.FlushFailures,
			BufferedBytes: s.BufferedBytes,
		}
	}, writebackLayer.CachedKeyCounts)
	c.Start()
	defer c.Stop()

Exposing the Endpoint:

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/health", metrics.HealthHandler())
	http.HandleFunc("/ready", metrics.ReadyHandler())
	http.ListenAndServe(":9090", nil)

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration

Label Discipline:
  - Labels are bounded by the fixed index set and the three layer names
  - No unbounded labels (keys, timestamps, transaction names)

Direct Instrumentation Over Polling:
  - Counters and durations are updated inline at the operation that
    causes them (a cache read, a flush, a transaction commit)
  - The Collector only covers gauges with no natural update point

# Performance Characteristics

Metric Update Overhead:
  - Gauge set/inc: ~50ns per operation
  - Counter inc: ~50ns per operation
  - Histogram observe: ~200ns per operation
  - Negligible impact on the read/write hot path

Cardinality:
  - index: 10 fixed values
  - layer: 3 fixed values ("writeback", "readthrough", "lru")
  - outcome: a handful of fixed values per metric
  - Total series count stays small and bounded regardless of workload

# Troubleshooting

Missing Metrics:
  - Check the metric is registered in init()
  - Check the code path that should update it was actually exercised

Stale Gauges:
  - hierdb_buffered_bytes and hierdb_cached_keys_total are refreshed by
    the Collector on its tick interval; a layer registered after
    Collector.Start was called will not appear until the next interval

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
