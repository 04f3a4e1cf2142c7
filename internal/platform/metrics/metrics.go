package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing, so tests can run services unregistered.
type Metrics struct {
	EventsAccepted       prometheus.Counter
	EventsDedupedInBatch prometheus.Counter
	JobsEnqueued         prometheus.Counter
	JobsCompleted        prometheus.Counter
	JobsRetried          prometheus.Counter
	JobsFailed           prometheus.Counter
	EventsPersisted      prometheus.Counter
	DuplicateInserts     prometheus.Counter
	CacheHits            *prometheus.CounterVec
	CacheMisses          *prometheus.CounterVec
	QueryDuration        *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		EventsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulse_events_accepted_total",
			Help: "Events accepted by the ingestion gateway after truncation and in-batch dedup",
		}),
		EventsDedupedInBatch: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulse_events_deduped_in_batch_total",
			Help: "Submissions discarded as in-batch duplicates",
		}),
		JobsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulse_ingest_jobs_enqueued_total",
			Help: "Batch persistence jobs handed to the durable queue",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulse_ingest_jobs_completed_total",
			Help: "Batch persistence jobs completed successfully",
		}),
		JobsRetried: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulse_ingest_jobs_retried_total",
			Help: "Batch persistence job attempts that ended in a scheduled retry",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulse_ingest_jobs_failed_total",
			Help: "Batch persistence jobs that exhausted their retry budget",
		}),
		EventsPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulse_events_persisted_total",
			Help: "Event rows written to the store",
		}),
		DuplicateInserts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulse_duplicate_inserts_total",
			Help: "Benign duplicate-key conflicts swallowed during persistence",
		}),
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_result_cache_hits_total",
			Help: "Analytics result cache hits by operation",
		}, []string{"operation"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_result_cache_misses_total",
			Help: "Analytics result cache misses by operation",
		}, []string{"operation"}),
		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulse_query_duration_seconds",
			Help:    "Latency of analytics queries by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// AddEventsAccepted records events accepted post-dedup.
func (m *Metrics) AddEventsAccepted(n int) {
	if m == nil {
		return
	}
	m.EventsAccepted.Add(float64(n))
}

// AddEventsDeduped records in-batch duplicate discards.
func (m *Metrics) AddEventsDeduped(n int) {
	if m == nil {
		return
	}
	m.EventsDedupedInBatch.Add(float64(n))
}

// IncJobsEnqueued records one job handed to the queue.
func (m *Metrics) IncJobsEnqueued() {
	if m == nil {
		return
	}
	m.JobsEnqueued.Inc()
}

// IncJobsCompleted records one successfully completed job.
func (m *Metrics) IncJobsCompleted() {
	if m == nil {
		return
	}
	m.JobsCompleted.Inc()
}

// IncJobsRetried records one attempt that ended in a scheduled retry.
func (m *Metrics) IncJobsRetried() {
	if m == nil {
		return
	}
	m.JobsRetried.Inc()
}

// IncJobsFailed records one job that exhausted its retry budget.
func (m *Metrics) IncJobsFailed() {
	if m == nil {
		return
	}
	m.JobsFailed.Inc()
}

// AddEventsPersisted records rows written to the store.
func (m *Metrics) AddEventsPersisted(n int) {
	if m == nil {
		return
	}
	m.EventsPersisted.Add(float64(n))
}

// IncDuplicateInserts records one benign duplicate-key conflict.
func (m *Metrics) IncDuplicateInserts() {
	if m == nil {
		return
	}
	m.DuplicateInserts.Inc()
}

// IncCacheHit records a result cache hit for the given operation.
func (m *Metrics) IncCacheHit(operation string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(operation).Inc()
}

// IncCacheMiss records a result cache miss for the given operation.
func (m *Metrics) IncCacheMiss(operation string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(operation).Inc()
}

// ObserveQuery records the latency of one analytics query.
func (m *Metrics) ObserveQuery(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(operation).Observe(seconds)
}
