// Package metrics provides Prometheus metrics for the catalog services.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors shared by the REST surface and the workers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	MessagesTotal      *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	AnalysisDuration   *prometheus.HistogramVec
	SearchRequests     *prometheus.CounterVec
	CatalogEntries     *prometheus.GaugeVec
	PersistDuration    prometheus.Histogram
}

// New registers all collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "myroom_messages_total",
			Help: "Messages handled by the workers, by queue and outcome",
		}, []string{"queue", "outcome"}),
		GenerationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "myroom_generation_seconds",
			Help:    "End-to-end duration of generation requests",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~8.5min
		}, []string{"status"}),
		AnalysisDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "myroom_room_analysis_seconds",
			Help:    "Duration of room analysis calls, by outcome",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
		}, []string{"status"}),
		SearchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "myroom_search_requests_total",
			Help: "Search requests by mode and response status",
		}, []string{"mode", "status"}),
		CatalogEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "myroom_catalog_entries",
			Help: "Catalog entries by state",
		}, []string{"state"}),
		PersistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "myroom_store_persist_seconds",
			Help:    "Duration of catalog snapshot writes",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveMessage(queue, outcome string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(queue, outcome).Inc()
}

func (m *Metrics) ObserveGeneration(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) ObserveAnalysis(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.AnalysisDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) ObserveSearch(mode, status string) {
	if m == nil {
		return
	}
	m.SearchRequests.WithLabelValues(mode, status).Inc()
}

func (m *Metrics) ObservePersist(d time.Duration) {
	if m == nil {
		return
	}
	m.PersistDuration.Observe(d.Seconds())
}

// SetCatalog publishes live, deleted and hidden entry counts.
func (m *Metrics) SetCatalog(live, deleted, hidden int) {
	if m == nil {
		return
	}
	m.CatalogEntries.WithLabelValues("live").Set(float64(live))
	m.CatalogEntries.WithLabelValues("deleted").Set(float64(deleted))
	m.CatalogEntries.WithLabelValues("hidden").Set(float64(hidden))
}
