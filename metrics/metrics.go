// Package metrics exposes prometheus metrics for scan orchestration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"untestables/model"
)

const namespace = "untestables"

// registry keeps the scan metrics separate from the process-global default
// registry, so /metrics exposes exactly what this package declares.
var registry = prometheus.NewRegistry()

var (
	// Orchestration cycle results, labelled by outcome
	// (success/failed/rate_limited/spawn_error/no_work/blocked).
	CyclesTotal = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestration_cycles_total",
			Help:      "Total orchestration cycles by outcome.",
		},
		[]string{"outcome"},
	)

	// Wall-clock duration of worker invocations.
	WorkerDurationSeconds = promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_duration_seconds",
			Help:      "Duration distribution of worker process invocations.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// Unix timestamp of the known quota reset, 0 when no rate limit is in
	// effect.
	RateLimitResetTimestamp = promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_reset_timestamp_seconds",
			Help:      "Unix time at which the remote API quota resets (0 when unblocked).",
		},
	)

	// Chunked gaps remaining at the last gap computation.
	GapsRemaining = promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gaps_remaining",
			Help:      "Number of chunked unprocessed star ranges at the last computation.",
		},
	)
)

// ObserveCycle records one finished orchestration cycle.
func ObserveCycle(outcome string, workerDuration time.Duration) {
	CyclesTotal.WithLabelValues(outcome).Inc()
	if workerDuration > 0 {
		WorkerDurationSeconds.Observe(workerDuration.Seconds())
	}
}

// SetRateLimitState mirrors the orchestrator's rate-limit state.
func SetRateLimitState(state model.RateLimitState) {
	if state.ResetAt.IsZero() {
		RateLimitResetTimestamp.Set(0)
		return
	}
	RateLimitResetTimestamp.Set(float64(state.ResetAt.Unix()))
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
