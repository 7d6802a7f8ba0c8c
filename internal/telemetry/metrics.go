// Package telemetry registers the prometheus metrics exported by the working-memory manager.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "working_memory"

var (
	Registry = prometheus.NewRegistry()

	EntriesStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_stored_total",
			Help:      "Total number of entries inserted.",
		},
	)

	// Evictions counts victims by trigger (capacity, expiry, pressure,
	// bulk_promotion, manual) and outcome (promoted, deleted, retained).
	Evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Victims handled by the eviction policy.",
		},
		[]string{"trigger", "outcome"},
	)

	Promotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Transfers to the long-term store.",
		},
		[]string{"result"},
	)

	AccessTrackingFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_tracking_failures_total",
			Help:      "Read-side usage updates that failed and were ignored.",
		},
	)

	Sweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Reclamation sweeps by result (completed, skipped, failed).",
		},
		[]string{"result"},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Latency of reclamation sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)

	PressureRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pressure_ratio",
			Help:      "Live entries divided by the global capacity at the last pressure check.",
		},
	)

	LiveEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_entries",
			Help:      "Live entries at the last pressure check.",
		},
	)
)

func init() {
	Registry.MustRegister(
		EntriesStored, Evictions, Promotions, AccessTrackingFailures,
		Sweeps, SweepDuration, PressureRatio, LiveEntries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
