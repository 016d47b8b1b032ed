// Package metrics defines the Prometheus instruments for a prediction run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SamplesProcessed counts samples fully predicted and persisted.
	SamplesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "segpredict_samples_processed_total",
			Help: "Number of samples predicted and written to artifacts.",
		},
	)

	// InferenceLatencySeconds is a histogram of per-sample forward-pass
	// latency, excluding data loading and artifact writing.
	InferenceLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "segpredict_inference_latency_seconds",
			Help:    "Histogram of per-sample inference latency (seconds).",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// WriteLatencySeconds is a histogram of artifact write latency.
	WriteLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "segpredict_artifact_write_latency_seconds",
			Help:    "Histogram of per-sample artifact write latency (seconds).",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// RunProgress is the fraction of the resolved sample stream processed.
	RunProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "segpredict_run_progress_ratio",
			Help: "Fraction of the resolved sample stream processed so far.",
		},
	)

	// HealthStatus indicates whether the run is alive (1) or failed (0).
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "segpredict_health_status",
			Help: "Health status of the run (1 = healthy, 0 = unhealthy).",
		},
	)
)

// RecordSample records one completed sample with its latencies.
func RecordSample(inferenceSeconds, writeSeconds float64) {
	SamplesProcessed.Inc()
	InferenceLatencySeconds.Observe(inferenceSeconds)
	WriteLatencySeconds.Observe(writeSeconds)
}

// SetProgress records the completed fraction of the run.
func SetProgress(processed, total int) {
	if total > 0 {
		RunProgress.Set(float64(processed) / float64(total))
	}
}

// SetHealthy sets the health status to healthy.
func SetHealthy() {
	HealthStatus.Set(1)
}

// SetUnhealthy sets the health status to unhealthy.
func SetUnhealthy() {
	HealthStatus.Set(0)
}
