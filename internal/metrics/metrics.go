// Package metrics exposes Prometheus instruments for the scheduler, the
// execution coordinator, the library cache, and playlist sync.
//
// Every method is safe on a nil *Collector so components can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cmdarr"

// Collector owns a registry and the instruments registered on it.
type Collector struct {
	registry *prometheus.Registry

	executionsEnqueued *prometheus.CounterVec
	executionsFinished *prometheus.CounterVec
	executionsDropped  *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	executionsPending  prometheus.Gauge
	executionsRunning  prometheus.Gauge

	schedulerTicks prometheus.Counter

	cacheLookups   *prometheus.CounterVec
	snapshotTracks *prometheus.GaugeVec
	snapshotBytes  *prometheus.GaugeVec
	snapshotBuild  *prometheus.HistogramVec

	trackMatches *prometheus.CounterVec
}

// NewCollector creates a Collector with its own registry, including the Go runtime
// and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		executionsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_enqueued_total",
			Help:      "Executions enqueued, by trigger.",
		}, []string{"trigger"}),
		executionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_finished_total",
			Help:      "Executions that reached a terminal status, by command kind and status.",
		}, []string{"kind", "status"}),
		executionsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_dropped_total",
			Help:      "Enqueue requests dropped because the command was already active.",
		}, []string{"trigger"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of finished executions.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"kind"}),
		executionsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_pending",
			Help:      "Executions waiting for a free slot.",
		}),
		executionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_running",
			Help:      "Executions currently running.",
		}),
		schedulerTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler evaluations.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "library_cache_lookups_total",
			Help:      "Library snapshot acquisitions, by target and result (hit, miss, degraded, corrupt).",
		}, []string{"target", "result"}),
		snapshotTracks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "library_snapshot_tracks",
			Help:      "Tracks in the latest snapshot per target.",
		}, []string{"target"}),
		snapshotBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "library_snapshot_bytes",
			Help:      "Estimated in-memory size of the latest snapshot per target.",
		}, []string{"target"}),
		snapshotBuild: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "library_snapshot_build_seconds",
			Help:      "Time to fetch and index a target library.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"target"}),
		trackMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "track_matches_total",
			Help:      "Source tracks resolved during playlist sync, by strategy (unmatched when none).",
		}, []string{"strategy"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.executionsEnqueued,
		c.executionsFinished,
		c.executionsDropped,
		c.executionDuration,
		c.executionsPending,
		c.executionsRunning,
		c.schedulerTicks,
		c.cacheLookups,
		c.snapshotTracks,
		c.snapshotBytes,
		c.snapshotBuild,
		c.trackMatches,
	)
	return c
}

// Registry returns the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ExecutionEnqueued(trigger string) {
	if c == nil {
		return
	}
	c.executionsEnqueued.WithLabelValues(trigger).Inc()
}

func (c *Collector) ExecutionDropped(trigger string) {
	if c == nil {
		return
	}
	c.executionsDropped.WithLabelValues(trigger).Inc()
}

// ExecutionFinished records a terminal status and, when the execution ran, its duration.
func (c *Collector) ExecutionFinished(kind, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.executionsFinished.WithLabelValues(kind, status).Inc()
	if d > 0 {
		c.executionDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// QueueDepth sets the pending and running gauges.
func (c *Collector) QueueDepth(pending, running int) {
	if c == nil {
		return
	}
	c.executionsPending.Set(float64(pending))
	c.executionsRunning.Set(float64(running))
}

func (c *Collector) SchedulerTick() {
	if c == nil {
		return
	}
	c.schedulerTicks.Inc()
}

// CacheLookup counts a snapshot acquisition result for target.
func (c *Collector) CacheLookup(target, result string) {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues(target, result).Inc()
}

// SnapshotBuilt records the size of a freshly built snapshot.
func (c *Collector) SnapshotBuilt(target string, tracks int, bytes int64, took time.Duration) {
	if c == nil {
		return
	}
	c.snapshotTracks.WithLabelValues(target).Set(float64(tracks))
	c.snapshotBytes.WithLabelValues(target).Set(float64(bytes))
	c.snapshotBuild.WithLabelValues(target).Observe(took.Seconds())
}

func (c *Collector) TrackMatched(strategy string) {
	if c == nil {
		return
	}
	if strategy == "" {
		strategy = "unmatched"
	}
	c.trackMatches.WithLabelValues(strategy).Inc()
}
