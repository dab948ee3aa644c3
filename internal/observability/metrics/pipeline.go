package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PipelineMetrics struct {
	registry *prometheus.Registry

	documentsTotal    *prometheus.CounterVec
	itemsAddedTotal   *prometheus.CounterVec
	processDuration   *prometheus.HistogramVec
	processInFlight   prometheus.Gauge
	retrievalDuration prometheus.Histogram
	retrievalResults  prometheus.Histogram
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	documentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mkb",
			Subsystem: "pipeline",
			Name:      "documents_total",
			Help:      "Total ingested documents by outcome.",
		},
		[]string{"service", "status"},
	)
	itemsAddedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mkb",
			Subsystem: "pipeline",
			Name:      "items_added_total",
			Help:      "Total content items persisted, by kind.",
		},
		[]string{"service", "kind"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mkb",
			Subsystem: "pipeline",
			Name:      "document_process_duration_seconds",
			Help:      "Document processing duration in seconds by outcome.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mkb",
			Subsystem: "pipeline",
			Name:      "document_process_in_flight",
			Help:      "Number of documents currently being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retrievalDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mkb",
			Subsystem: "retrieval",
			Name:      "query_duration_seconds",
			Help:      "Retrieval latency in seconds.",
			Buckets:   prometheus.DefBuckets,
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retrievalResults := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mkb",
			Subsystem: "retrieval",
			Name:      "results_returned",
			Help:      "Number of results returned per retrieval.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		documentsTotal,
		itemsAddedTotal,
		processDuration,
		processInFlight,
		retrievalDuration,
		retrievalResults,
	)

	return &PipelineMetrics{
		registry:          registry,
		documentsTotal:    documentsTotal,
		itemsAddedTotal:   itemsAddedTotal,
		processDuration:   processDuration,
		processInFlight:   processInFlight,
		retrievalDuration: retrievalDuration,
		retrievalResults:  retrievalResults,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *PipelineMetrics) FinishDocument(service, status string, duration time.Duration) {
	m.processInFlight.Dec()
	m.documentsTotal.WithLabelValues(service, status).Inc()
	m.processDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

// ObserveDocument records an outcome for work that was not tracked by the
// in-flight gauge, such as the startup sweep.
func (m *PipelineMetrics) ObserveDocument(service, status string, duration time.Duration) {
	m.documentsTotal.WithLabelValues(service, status).Inc()
	m.processDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) AddItems(service, kind string, count int) {
	if count <= 0 {
		return
	}
	m.itemsAddedTotal.WithLabelValues(service, kind).Add(float64(count))
}

func (m *PipelineMetrics) ObserveRetrieval(duration time.Duration, results int) {
	m.retrievalDuration.Observe(duration.Seconds())
	m.retrievalResults.Observe(float64(results))
}
