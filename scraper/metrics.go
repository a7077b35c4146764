package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the harvester.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	AcceptedTotal   prometheus.Counter
	PagesTotal      prometheus.Counter
	BooksTotal      *prometheus.CounterVec
	RestartsTotal   prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_requests_total",
			Help: "Total page loads issued by the harvester.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvest_request_duration_seconds",
			Help:    "Latency of harvester page loads.",
			Buckets: prometheus.DefBuckets,
		},
	)
	accepted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_reviews_accepted_total",
			Help: "Total number of new reviews accepted.",
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_pages_total",
			Help: "Total number of review feed pages read.",
		},
	)
	books := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_books_total",
			Help: "Books processed by outcome.",
		},
		[]string{"outcome"},
	)
	restarts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_session_restarts_total",
			Help: "Total number of browsing sessions replaced after a fault.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_errors_total",
			Help: "Total number of harvester errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, accepted, pages, books, restarts, errorsTotal)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		AcceptedTotal:   accepted,
		PagesTotal:      pages,
		BooksTotal:      books,
		RestartsTotal:   restarts,
		ErrorsTotal:     errorsTotal,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records a page load duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddAccepted adds newly accepted reviews.
func (m *Metrics) AddAccepted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AcceptedTotal.Add(float64(n))
}

// AddPages adds feed pages read.
func (m *Metrics) AddPages(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PagesTotal.Add(float64(n))
}

// IncBook counts a finished book under its outcome.
func (m *Metrics) IncBook(outcome string) {
	if m == nil {
		return
	}
	m.BooksTotal.WithLabelValues(outcome).Inc()
}

// IncRestart counts a replaced session.
func (m *Metrics) IncRestart() {
	if m == nil {
		return
	}
	m.RestartsTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
