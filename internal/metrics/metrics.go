// Package metrics exposes load pipeline counters for Prometheus.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request status labels.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

const namespace = "featuresync"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	featuresFetched prometheus.Counter
	rowsDropped     *prometheus.CounterVec
	loadRuns        *prometheus.CounterVec
	sinkWrites      *prometheus.CounterVec
	watermark       prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "service_requests_total",
				Help:      "Feature service requests by kind and status",
			},
			[]string{"kind", "status"},
		),
		featuresFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_fetched_total",
			Help:      "Features received from the feature service",
		}),
		rowsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_dropped_total",
				Help:      "Features excluded from the table by reason",
			},
			[]string{"reason"},
		),
		loadRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "load_runs_total",
				Help:      "Load runs by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		sinkWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_writes_total",
				Help:      "Sink writes by sink and status",
			},
			[]string{"sink", "status"},
		),
		watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark",
			Help:      "Last persisted incremental identifier",
		}),
	}

	reg.MustRegister(
		m.requests,
		m.featuresFetched,
		m.rowsDropped,
		m.loadRuns,
		m.sinkWrites,
		m.watermark,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest counts one feature service request.
func (m *Metrics) ObserveRequest(kind, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind, status).Inc()
}

// AddFeaturesFetched counts received features.
func (m *Metrics) AddFeaturesFetched(n int) {
	if m == nil {
		return
	}
	m.featuresFetched.Add(float64(n))
}

// AddRowsDropped counts features excluded for reason.
func (m *Metrics) AddRowsDropped(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rowsDropped.WithLabelValues(reason).Add(float64(n))
}

// ObserveLoad counts one finished load run.
func (m *Metrics) ObserveLoad(mode, outcome string) {
	if m == nil {
		return
	}
	m.loadRuns.WithLabelValues(mode, outcome).Inc()
}

// ObserveSinkWrite counts one sink write.
func (m *Metrics) ObserveSinkWrite(sink, status string) {
	if m == nil {
		return
	}
	m.sinkWrites.WithLabelValues(sink, status).Inc()
}

// SetWatermark records the last persisted identifier.
func (m *Metrics) SetWatermark(id int64) {
	if m == nil {
		return
	}
	m.watermark.Set(float64(id))
}
