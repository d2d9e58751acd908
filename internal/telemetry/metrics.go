// Package telemetry exposes Prometheus collectors for the adapter.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationDurationSeconds *prometheus.HistogramVec
	operationRetriesTotal    *prometheus.CounterVec
	pagesFetchedTotal        *prometheus.CounterVec
	resultsTotal             *prometheus.CounterVec

	once sync.Once
)

// Init registers the Prometheus collectors on the default registry.
// It is safe to call multiple times.
func Init() {
	once.Do(func() {
		operationDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ptspider_operation_duration_seconds",
				Help:    "Wall-clock runtime of site operations, labeled by site and operation.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"site", "op"},
		)

		operationRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptspider_operation_retries_total",
				Help: "Retries performed by the orchestrator, labeled by site and operation.",
			},
			[]string{"site", "op"},
		)

		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptspider_pages_fetched_total",
				Help: "Pages fetched per site, labeled by HTTP status class.",
			},
			[]string{"site", "status"},
		)

		resultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptspider_batch_results_total",
				Help: "Fan-out result messages emitted, labeled by result type.",
			},
			[]string{"type"},
		)
	})
}

// ObserveOperation records the runtime of one site operation.
func ObserveOperation(site, op string, d time.Duration) {
	if operationDurationSeconds == nil {
		return
	}
	operationDurationSeconds.WithLabelValues(site, op).Observe(d.Seconds())
}

// IncRetry counts one orchestrator retry.
func IncRetry(site, op string) {
	if operationRetriesTotal == nil {
		return
	}
	operationRetriesTotal.WithLabelValues(site, op).Inc()
}

// IncPageFetched counts a fetched page by status class (2xx, 4xx, ...).
func IncPageFetched(site, statusClass string) {
	if pagesFetchedTotal == nil {
		return
	}
	pagesFetchedTotal.WithLabelValues(site, statusClass).Inc()
}

// IncResult counts one emitted fan-out result message.
func IncResult(resultType string) {
	if resultsTotal == nil {
		return
	}
	resultsTotal.WithLabelValues(resultType).Inc()
}

// ClassifyStatus groups HTTP status codes for the fetch counter.
func ClassifyStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}
