package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signaldigest/signaldigest/internal/models"
)

// IngestionCollector exposes Prometheus metrics for connector fetches and
// metered provider calls.
type IngestionCollector struct {
	registry            *prometheus.Registry
	fetchesTotal        *prometheus.CounterVec
	itemsEmittedTotal   *prometheus.CounterVec
	providerCallsTotal  *prometheus.CounterVec
	providerTokensTotal *prometheus.CounterVec
	fetchDuration       *prometheus.HistogramVec
}

// NewIngestionCollector constructs a collector with its own registry.
func NewIngestionCollector() (*IngestionCollector, error) {
	registry := prometheus.NewRegistry()

	fetchesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaldigest",
		Subsystem: "ingestion",
		Name:      "fetches_total",
		Help:      "Total connector fetch runs by outcome.",
	}, []string{"source_type", "status"})

	itemsEmittedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaldigest",
		Subsystem: "ingestion",
		Name:      "items_emitted_total",
		Help:      "Raw items emitted by connector fetches.",
	}, []string{"source_type"})

	providerCallsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaldigest",
		Subsystem: "provider",
		Name:      "calls_total",
		Help:      "Metered provider calls by outcome.",
	}, []string{"provider", "status"})

	providerTokensTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaldigest",
		Subsystem: "provider",
		Name:      "tokens_total",
		Help:      "Token usage reported by metered providers.",
	}, []string{"provider", "direction"})

	fetchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signaldigest",
		Subsystem: "ingestion",
		Name:      "fetch_duration_seconds",
		Help:      "Latency distribution of connector fetches.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source_type"})

	for _, c := range []prometheus.Collector{
		fetchesTotal, itemsEmittedTotal, providerCallsTotal, providerTokensTotal, fetchDuration,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &IngestionCollector{
		registry:            registry,
		fetchesTotal:        fetchesTotal,
		itemsEmittedTotal:   itemsEmittedTotal,
		providerCallsTotal:  providerCallsTotal,
		providerTokensTotal: providerTokensTotal,
		fetchDuration:       fetchDuration,
	}, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *IngestionCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveFetch records the outcome of one connector fetch.
func (c *IngestionCollector) ObserveFetch(sourceType models.SourceType, status string, items int, seconds float64) {
	c.fetchesTotal.WithLabelValues(string(sourceType), status).Inc()
	c.itemsEmittedTotal.WithLabelValues(string(sourceType)).Add(float64(items))
	c.fetchDuration.WithLabelValues(string(sourceType)).Observe(seconds)
}

// ObserveProviderCall records accounting for one metered provider call.
func (c *IngestionCollector) ObserveProviderCall(call models.ProviderCallDraft) {
	c.providerCallsTotal.WithLabelValues(call.Provider, string(call.Status)).Inc()
	if call.InputTokens != nil {
		c.providerTokensTotal.WithLabelValues(call.Provider, "input").Add(float64(*call.InputTokens))
	}
	if call.OutputTokens != nil {
		c.providerTokensTotal.WithLabelValues(call.Provider, "output").Add(float64(*call.OutputTokens))
	}
}
