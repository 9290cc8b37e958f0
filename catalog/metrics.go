package catalog

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the catalog.
type Metrics struct {
	Registry       *prometheus.Registry
	ReloadsTotal   *prometheus.CounterVec
	ReloadDuration prometheus.Histogram
	Rows           prometheus.Gauge
	QueriesTotal   *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	reloads := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_reloads_total",
			Help: "Catalog file reloads by result.",
		},
		[]string{"result"},
	)
	reloadDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_reload_duration_seconds",
			Help:    "Time spent parsing the catalog file.",
			Buckets: prometheus.DefBuckets,
		},
	)
	rows := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_rows",
			Help: "Rows in the currently cached catalog table.",
		},
	)
	queries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_queries_total",
			Help: "Catalog queries served by operation.",
		},
		[]string{"op"},
	)

	registry.MustRegister(reloads, reloadDuration, rows, queries)

	return &Metrics{
		Registry:       registry,
		ReloadsTotal:   reloads,
		ReloadDuration: reloadDuration,
		Rows:           rows,
		QueriesTotal:   queries,
	}
}

// ObserveReload records the outcome of a reload.
func (m *Metrics) ObserveReload(result string, d time.Duration, rows int) {
	if m == nil {
		return
	}
	m.ReloadsTotal.WithLabelValues(result).Inc()
	m.ReloadDuration.Observe(d.Seconds())
	if result == "ok" {
		m.Rows.Set(float64(rows))
	}
}

// IncQuery increments the query counter for an operation.
func (m *Metrics) IncQuery(op string) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(op).Inc()
}
