// Package metrics exposes Prometheus counters and a progress gauge the
// out-of-scope façade is expected to scrape, grounded on
// ManuGH-xg2g/internal/metrics/admission.go's promauto.NewCounterVec /
// NewGaugeVec package-level variable pattern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageTransitionsTotal counts stage completions by stage name and
	// outcome ("ok" or "failed").
	StageTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_stage_transitions_total",
		Help: "Total number of pipeline stage completions, by stage and outcome.",
	}, []string{"stage", "outcome"})

	// DetectorCallsTotal counts capability calls by source and status
	// ("ok" or "runtime_error").
	DetectorCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestion_detector_calls_total",
		Help: "Total number of detector capability calls, by source and status.",
	}, []string{"source", "status"})

	// JobsInProgress tracks the number of jobs currently in the processing
	// state.
	JobsInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingestion_jobs_in_progress",
		Help: "Current number of jobs in the processing state.",
	})

	// JobProgressPercent tracks the last-reported progress percentage per
	// video_id, pruned when the job reaches a terminal state.
	JobProgressPercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingestion_job_progress_percent",
		Help: "Last reported progress percentage for an in-flight job.",
	}, []string{"video_id"})
)

// RecordStageOutcome increments the stage-transition counter.
func RecordStageOutcome(stage, outcome string) {
	StageTransitionsTotal.WithLabelValues(stage, outcome).Inc()
}

// RecordDetectorCall increments the detector-call counter.
func RecordDetectorCall(source, status string) {
	DetectorCallsTotal.WithLabelValues(source, status).Inc()
}

// SetJobProgress sets the progress gauge for videoID.
func SetJobProgress(videoID string, percent float64) {
	JobProgressPercent.WithLabelValues(videoID).Set(percent)
}

// DeleteJobProgress removes the gauge series for videoID once the job
// reaches a terminal state, so the gauge does not grow unbounded.
func DeleteJobProgress(videoID string) {
	JobProgressPercent.DeleteLabelValues(videoID)
}
