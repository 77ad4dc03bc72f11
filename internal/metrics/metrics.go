// Package metrics registers and updates the Prometheus metrics published by
// the job orchestration core. Exporting them over HTTP is the API layer's
// concern; this package only owns registration and updates.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all core metrics.
	Namespace = "scrapecore"
	// Subsystem is the subsystem for core metrics.
	Subsystem = "jobs"
)

// Metrics holds every Prometheus metric the core publishes.
type Metrics struct {
	// Job metrics
	JobsSubmittedTotal *prometheus.CounterVec
	JobsFinishedTotal  *prometheus.CounterVec
	JobDurationSeconds *prometheus.HistogramVec
	JobsRunning        prometheus.Gauge
	RetriesTotal       prometheus.Counter

	// Worker pool metrics
	WorkerPoolSize prometheus.Gauge
	WorkersBusy    prometheus.Gauge
	WorkersIdle    prometheus.Gauge

	// Queue metrics
	QueueDepth    *prometheus.GaugeVec
	QueueEnqueued *prometheus.CounterVec
	QueueDequeued *prometheus.CounterVec
	QueueWaitSeconds *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheHitRatio    *prometheus.GaugeVec
	CacheTierLatency *prometheus.HistogramVec

	// Remote cache client metrics
	RemoteConnOpened prometheus.Counter
	RemoteConnClosed prometheus.Counter
	RemotePoolAvail  prometheus.Gauge
	RemoteErrors     *prometheus.CounterVec
}

// New creates and registers all metrics against reg. If reg is nil, a fresh
// private registry is used so tests never collide on prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initJobMetrics(factory)
	m.initWorkerMetrics(factory)
	m.initQueueMetrics(factory)
	m.initCacheMetrics(factory)
	m.initRemoteMetrics(factory)

	return m
}

func (m *Metrics) initJobMetrics(factory promauto.Factory) {
	m.JobsSubmittedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "submitted_total",
			Help:      "Total number of jobs submitted",
		},
		[]string{"scraper_variant"},
	)

	m.JobsFinishedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "finished_total",
			Help:      "Total number of jobs reaching a terminal state",
		},
		[]string{"status"},
	)

	m.JobDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "duration_seconds",
			Help:      "Duration from RUNNING to a terminal state",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"scraper_variant", "status"},
	)

	m.JobsRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "running",
			Help:      "Number of jobs currently RUNNING",
		},
	)

	m.RetriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "retries_total",
			Help:      "Total number of job retries performed",
		},
	)
}

func (m *Metrics) initWorkerMetrics(factory promauto.Factory) {
	m.WorkerPoolSize = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "workers",
			Name:      "pool_size",
			Help:      "Configured size of the worker pool",
		},
	)
	m.WorkersBusy = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "workers",
			Name:      "busy",
			Help:      "Number of busy workers",
		},
	)
	m.WorkersIdle = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "workers",
			Name:      "idle",
			Help:      "Number of idle workers",
		},
	)
}

func (m *Metrics) initQueueMetrics(factory promauto.Factory) {
	m.QueueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current queue depth",
		},
		[]string{"priority_bucket"},
	)
	m.QueueEnqueued = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total number of enqueue operations",
		},
		[]string{"priority_bucket"},
	)
	m.QueueDequeued = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "dequeued_total",
			Help:      "Total number of dequeue operations",
		},
		[]string{"priority_bucket"},
	)
	m.QueueWaitSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "wait_seconds",
			Help:      "Time a job spent queued before being dequeued",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"priority_bucket"},
	)
}

func (m *Metrics) initCacheMetrics(factory promauto.Factory) {
	m.CacheHitsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total cache hits",
		},
		[]string{"tier", "key_prefix"},
	)
	m.CacheMissesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total cache misses",
		},
		[]string{"tier", "key_prefix"},
	)
	m.CacheHitRatio = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "hit_ratio",
			Help:      "Periodically recomputed cache hit ratio",
		},
		[]string{"tier"},
	)
	m.CacheTierLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "operation_seconds",
			Help:      "Cache tier operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"tier", "op"},
	)
}

func (m *Metrics) initRemoteMetrics(factory promauto.Factory) {
	m.RemoteConnOpened = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "remote_cache",
			Name:      "connections_opened_total",
			Help:      "Total remote cache connections opened",
		},
	)
	m.RemoteConnClosed = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "remote_cache",
			Name:      "connections_closed_total",
			Help:      "Total remote cache connections closed",
		},
	)
	m.RemotePoolAvail = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "remote_cache",
			Name:      "pool_available",
			Help:      "Available connections in the remote cache pool",
		},
	)
	m.RemoteErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "remote_cache",
			Name:      "errors_total",
			Help:      "Total remote cache errors",
		},
		[]string{"op"},
	)
}
