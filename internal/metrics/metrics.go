// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the engine-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	holdOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stockhold",
			Subsystem: "holds",
			Name:      "set_desired_total",
			Help:      "Total number of set-desired-quantity calls by result.",
		},
		[]string{"result"},
	)

	settleOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stockhold",
			Subsystem: "holds",
			Name:      "settled_total",
			Help:      "Total number of holds settled by mode.",
		},
		[]string{"mode"},
	)

	reapOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stockhold",
			Subsystem: "reaper",
			Name:      "leases_total",
			Help:      "Total number of expired leases resolved by outcome.",
		},
		[]string{"outcome"},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "stockhold",
			Subsystem: "reaper",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of reaper sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
	)

	rehydrationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stockhold",
			Subsystem: "rehydration",
			Name:      "runs_total",
			Help:      "Total number of rehydration runs by outcome.",
		},
		[]string{"outcome"},
	)

	rehydrationScanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stockhold",
			Subsystem: "rehydration",
			Name:      "rows_scanned_total",
			Help:      "Total number of durable store rows scanned.",
		},
	)

	rehydrationCorrected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stockhold",
			Subsystem: "rehydration",
			Name:      "rows_corrected_total",
			Help:      "Total number of rows whose available figure drifted.",
		},
	)

	rehydrationDrift = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "stockhold",
			Subsystem: "rehydration",
			Name:      "drift_units_total",
			Help:      "Sum of absolute drift corrected, in stock units.",
		},
	)

	rehydrationMaxDrift = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stockhold",
			Subsystem: "rehydration",
			Name:      "last_max_abs_drift",
			Help:      "Largest per-row absolute drift seen in the last run.",
		},
	)
)

func init() {
	Registry.MustRegister(
		holdOps,
		settleOps,
		reapOutcomes,
		sweepDuration,
		rehydrationRuns,
		rehydrationScanned,
		rehydrationCorrected,
		rehydrationDrift,
		rehydrationMaxDrift,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordSetDesired counts a set-desired-quantity call.
// result: "ok", "out_of_stock" or "invalid".
func RecordSetDesired(result string) {
	holdOps.WithLabelValues(result).Inc()
}

// RecordSettle counts a settled hold. mode: "consume" or "release".
func RecordSettle(mode string) {
	settleOps.WithLabelValues(mode).Inc()
}

// RecordReap counts a resolved expired lease.
// outcome: "consumed", "released", "dropped", "skipped" or "error".
func RecordReap(outcome string) {
	reapOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSweep records the duration of one reaper sweep.
func RecordSweep(duration time.Duration) {
	sweepDuration.Observe(duration.Seconds())
}

// RecordRehydration records the aggregates of one rehydration run.
// outcome: "ok", "skipped" or "error". The max-drift gauge reflects the
// last completed run, so it is only overwritten on "ok".
func RecordRehydration(outcome string, scanned, corrected, maxAbsDrift, totalAbsDrift int64) {
	rehydrationRuns.WithLabelValues(outcome).Inc()
	rehydrationScanned.Add(float64(scanned))
	rehydrationCorrected.Add(float64(corrected))
	rehydrationDrift.Add(float64(totalAbsDrift))
	if outcome == "ok" {
		rehydrationMaxDrift.Set(float64(maxAbsDrift))
	}
}
