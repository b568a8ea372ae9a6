// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eavault"

var (
	// Registry is private to the service so tests can read counters without global state from other packages.
	Registry = prometheus.NewRegistry()

	// Validations counts license validations by outcome ("granted" or the refusal kind).
	Validations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "license_validations_total",
		Help:      "License validation requests by outcome.",
	}, []string{"outcome"})

	// ValidationDuration observes end-to-end validation latency.
	ValidationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "license_validation_duration_seconds",
		Help:      "Time spent validating a license request.",
		Buckets:   prometheus.DefBuckets,
	})

	// SeatsBound counts accounts bound to a license for the first time.
	SeatsBound = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "seats_bound_total",
		Help:      "New trading accounts bound to a license.",
	})

	// RateLimited counts requests refused by a rate limiter, by scope.
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests refused by the rate limiter.",
	}, []string{"scope"})

	// MaintenanceRows counts rows changed by periodic maintenance jobs.
	MaintenanceRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "maintenance_rows_total",
		Help:      "Rows changed by maintenance jobs.",
	}, []string{"job"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		Validations,
		ValidationDuration,
		SeatsBound,
		RateLimited,
		MaintenanceRows,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
