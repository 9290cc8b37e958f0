package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "openbooks"

// Metrics bundles Prometheus collectors for a crawl. Every method is safe on
// a nil receiver.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	ItemsScrapedTotal prometheus.Counter
	CategoriesTotal   prometheus.Counter
	PagesTotal        prometheus.Counter
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
}

// NewMetrics registers the crawl collectors on a dedicated registry.
func NewMetrics() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scraper",
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scraper",
			Name:      "requests_total",
			Help:      "HTTP requests issued by the crawler.",
		}, []string{"phase"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "scraper",
			Name:      "request_duration_seconds",
			Help:      "Latency of crawler requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		ItemsScrapedTotal: counter("items_scraped_total", "Books handed to the pipeline."),
		CategoriesTotal:   counter("categories_total", "Categories queued for crawling."),
		PagesTotal:        counter("next_pages_total", "Pagination links followed or capped."),
		RetriesTotal:      counter("retries_total", "Retry attempts scheduled."),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scraper",
			Name:      "errors_total",
			Help:      "Failed requests by kind.",
		}, []string{"error_type"}),
	}

	m.Registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ItemsScrapedTotal,
		m.CategoriesTotal,
		m.PagesTotal,
		m.RetriesTotal,
		m.ErrorsTotal,
	)
	return m
}

func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.Inc()
}

func (m *Metrics) IncCategory() {
	if m == nil {
		return
	}
	m.CategoriesTotal.Inc()
}

func (m *Metrics) IncPage() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError counts a failure under its kind label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
