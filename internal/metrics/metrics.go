// Package metrics exposes Prometheus instrumentation for captures, restores
// and sessions. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "guild_backup"

// Metrics holds every collector the service records into
type Metrics struct {
	capturesTotal   *prometheus.CounterVec
	captureDuration prometheus.Histogram
	captureBytes    prometheus.Histogram
	failedFetches   prometheus.Counter
	restoresTotal   *prometheus.CounterVec
	restoreOps      *prometheus.CounterVec
	restoreDuration prometheus.Histogram
	activeRestores  prometheus.Gauge
	sessions        prometheus.Gauge
	retentionPruned prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		capturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "total",
			Help:      "Snapshot captures by source and status",
		}, []string{"source", "status"}),
		captureDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "duration_seconds",
			Help:      "Wall time of a snapshot capture",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		captureBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "archive_bytes",
			Help:      "Size of written archives",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		failedFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "degraded_fetches_total",
			Help:      "Auxiliary collections that failed and were captured empty",
		}),
		restoresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "restore",
			Name:      "total",
			Help:      "Restore runs by outcome",
		}, []string{"outcome"}),
		restoreOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "restore",
			Name:      "operations_total",
			Help:      "Restore units by phase and result",
		}, []string{"phase", "result"}),
		restoreDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "restore",
			Name:      "duration_seconds",
			Help:      "Wall time of a restore run",
			Buckets:   []float64{10, 60, 300, 900, 1800, 3600, 7200},
		}),
		activeRestores: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "restore",
			Name:      "active",
			Help:      "Restores currently running in this process",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "restore",
			Name:      "sessions",
			Help:      "Live load sessions",
		}),
		retentionPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "pruned_total",
			Help:      "Automatic backups deleted by retention",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.capturesTotal, m.captureDuration, m.captureBytes, m.failedFetches,
			m.restoresTotal, m.restoreOps, m.restoreDuration, m.activeRestores,
			m.sessions, m.retentionPruned,
		)
	}
	return m
}

// ObserveCapture records one capture attempt
func (m *Metrics) ObserveCapture(source string, sizeBytes int64, failedFetches int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.capturesTotal.WithLabelValues(source, status).Inc()
	m.captureDuration.Observe(duration.Seconds())
	m.failedFetches.Add(float64(failedFetches))
	if err == nil {
		m.captureBytes.Observe(float64(sizeBytes))
	}
}

// RestoreStarted marks a restore as running
func (m *Metrics) RestoreStarted() {
	if m == nil {
		return
	}
	m.activeRestores.Inc()
}

// RestoreFinished records the outcome of a restore that RestoreStarted counted
func (m *Metrics) RestoreFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.activeRestores.Dec()
	m.restoresTotal.WithLabelValues(outcome).Inc()
	m.restoreDuration.Observe(duration.Seconds())
}

// ObserveOp records one restore unit
func (m *Metrics) ObserveOp(phase, result string) {
	if m == nil {
		return
	}
	m.restoreOps.WithLabelValues(phase, result).Inc()
}

// SetSessions publishes the live session count
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// AddPruned counts backups removed by retention
func (m *Metrics) AddPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.retentionPruned.Add(float64(n))
}

// Handler serves the metrics in g in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
