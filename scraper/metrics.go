package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry        *prometheus.Registry
	PageOpensTotal  *prometheus.CounterVec
	PageDuration    prometheus.Histogram
	CardsTotal      *prometheus.CounterVec
	RejectionsTotal *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	pageOpens := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_page_opens_total",
			Help: "Total pages opened by the scraper.",
		},
		[]string{"phase"},
	)
	pageDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_page_duration_seconds",
			Help:    "Time to open and settle a page.",
			Buckets: prometheus.DefBuckets,
		},
	)
	cards := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_cards_total",
			Help: "Listing cards processed by result.",
		},
		[]string{"result"},
	)
	rejections := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_rejections_total",
			Help: "Cards skipped by rejection reason.",
		},
		[]string{"reason"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(pageOpens, pageDuration, cards, rejections, retries, errorsTotal)

	return &Metrics{
		Registry:        registry,
		PageOpensTotal:  pageOpens,
		PageDuration:    pageDuration,
		CardsTotal:      cards,
		RejectionsTotal: rejections,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
	}
}

// IncPageOpen counts a page open for phase (listing or detail).
func (m *Metrics) IncPageOpen(phase string) {
	if m == nil {
		return
	}
	m.PageOpensTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records how long a page took to load.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.PageDuration.Observe(d.Seconds())
}

// IncCard counts a card by its final status.
func (m *Metrics) IncCard(result string) {
	if m == nil {
		return
	}
	m.CardsTotal.WithLabelValues(result).Inc()
}

// IncRejection counts a skipped card.
func (m *Metrics) IncRejection(reason RejectReason) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(string(reason)).Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
