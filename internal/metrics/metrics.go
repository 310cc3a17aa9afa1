// Package metrics exposes restore observability counters on a private
// Prometheus registry, served at /metrics by the API server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the restore instrumentation. A nil *Metrics is valid
// and records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	registry *prometheus.Registry

	restoresTotal    *prometheus.CounterVec
	restoresInFlight prometheus.Gauge
	stageSeconds     *prometheus.HistogramVec
	keyRecoveries    *prometheus.CounterVec
}

// New builds the metrics set on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		restoresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbvault_restores_total",
			Help: "Completed restore executions by terminal status.",
		}, []string{"status"}),
		restoresInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dbvault_restores_in_flight",
			Help: "Restore pipelines currently running.",
		}),
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dbvault_restore_stage_duration_seconds",
			Help:    "Wall time spent in each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.1, 3, 12), // 100ms .. ~4.9h
		}, []string{"stage"}),
		keyRecoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbvault_key_recoveries_total",
			Help: "Smart key recovery searches by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.restoresTotal, m.restoresInFlight, m.stageSeconds, m.keyRecoveries)
	return m
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RestoreStarted marks a pipeline entering the background phase
func (m *Metrics) RestoreStarted() {
	if m == nil {
		return
	}
	m.restoresInFlight.Inc()
}

// RestoreFinished records a terminal status ("Success" or "Failed")
func (m *Metrics) RestoreFinished(status string) {
	if m == nil {
		return
	}
	m.restoresInFlight.Dec()
	m.restoresTotal.WithLabelValues(status).Inc()
}

// ObserveStage records how long one pipeline stage took
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// KeyRecovery records a smart key recovery outcome ("hit" or "miss")
func (m *Metrics) KeyRecovery(outcome string) {
	if m == nil {
		return
	}
	m.keyRecoveries.WithLabelValues(outcome).Inc()
}
