package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hierdb_cache_hits_total",
			Help: "Total number of cache reads served without touching the backend, by index and layer",
		},
		[]string{"index", "layer"},
	)

	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hierdb_cache_misses_total",
			Help: "Total number of cache reads that fell through to the backend, by index and layer",
		},
		[]string{"index", "layer"},
	)

	CachedKeysTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hierdb_cached_keys_total",
			Help: "Number of keys currently held in a cache layer, by index and layer",
		},
		[]string{"index", "layer"},
	)

	BufferedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hierdb_buffered_bytes",
			Help: "Approximate size in bytes of unflushed cache data, by layer",
		},
		[]string{"layer"},
	)

	// Flush metrics
	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hierdb_flushes_total",
			Help: "Total number of flushes from a cache layer to the backend, by layer and outcome",
		},
		[]string{"layer", "outcome"},
	)

	FlushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hierdb_flush_duration_seconds",
			Help:    "Time taken to flush a cache layer to the backend, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"layer"},
	)

	// Transaction metrics
	TransactionsOpenTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hierdb_transactions_open_total",
			Help: "Number of HierarchicalDB transaction nodes currently open across the overlay tree",
		},
	)

	TransactionCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hierdb_transaction_commits_total",
			Help: "Total number of transaction commit attempts, by outcome",
		},
		[]string{"outcome"},
	)

	TransactionCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hierdb_transaction_commit_duration_seconds",
			Help:    "Time taken to commit a transaction node, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TransactionConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hierdb_transaction_conflicts_total",
			Help: "Total number of commits rejected due to a write-write conflict with a sibling",
		},
	)

	// Store metrics
	StoreReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hierdb_store_read_duration_seconds",
			Help:    "Time taken to read from the persistent backend, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"index"},
	)

	StoreWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hierdb_store_write_duration_seconds",
			Help:    "Time taken to write to the persistent backend, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"index"},
	)

	StoreTransactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hierdb_store_transaction_duration_seconds",
			Help:    "Time taken to commit a batched backend write transaction, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Server metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hierdb_requests_total",
			Help: "Total number of serve-mode requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hierdb_request_duration_seconds",
			Help:    "Serve-mode request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CachedKeysTotal)
	prometheus.MustRegister(BufferedBytes)

	prometheus.MustRegister(FlushesTotal)
	prometheus.MustRegister(FlushDuration)

	prometheus.MustRegister(TransactionsOpenTotal)
	prometheus.MustRegister(TransactionCommitsTotal)
	prometheus.MustRegister(TransactionCommitDuration)
	prometheus.MustRegister(TransactionConflictsTotal)

	prometheus.MustRegister(StoreReadDuration)
	prometheus.MustRegister(StoreWriteDuration)
	prometheus.MustRegister(StoreTransactionDuration)

	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
