// Package metrics provides Prometheus metrics for the enrichment pipelines.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	PipelineDetails = "details"
	PipelineUpdates = "updates"
)

var (
	// StageDuration measures how long each pipeline stage takes.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deadline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"pipeline", "stage"},
	)

	// Candidates counts items surviving each stage.
	Candidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deadline",
			Name:      "candidates_total",
			Help:      "Number of candidates that survived a pipeline stage",
		},
		[]string{"pipeline", "stage"},
	)

	// Runs counts pipeline runs by outcome.
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deadline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by outcome",
		},
		[]string{"pipeline", "outcome"},
	)

	// FetchFailures counts skipped pages, URLs and provider calls.
	FetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deadline",
			Name:      "fetch_failures_total",
			Help:      "Total number of recovered fetch failures",
		},
		[]string{"component"},
	)
)

// ObserveStage records a stage duration and how many candidates it produced.
func ObserveStage(pipeline, stage string, elapsed time.Duration, survivors int) {
	StageDuration.WithLabelValues(pipeline, stage).Observe(elapsed.Seconds())
	Candidates.WithLabelValues(pipeline, stage).Add(float64(survivors))
}

// RecordRun records the outcome of a pipeline run.
func RecordRun(pipeline, outcome string) {
	Runs.WithLabelValues(pipeline, outcome).Inc()
}

// RecordFetchFailure records a failure that was recovered by skipping the item.
func RecordFetchFailure(component string) {
	FetchFailures.WithLabelValues(component).Inc()
}
