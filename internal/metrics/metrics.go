package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inspectord_jobs_total",
		Help: "Total number of inference jobs finished, by terminal status",
	}, []string{"status"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inspectord_job_duration_seconds",
		Help:    "Wall-clock duration of inference jobs",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"model_type"})

	FramesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inspectord_frames_processed_total",
		Help: "Total number of frames run through inference across all jobs",
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inspectord_active_jobs",
		Help: "Number of inference jobs currently running",
	})

	InteractiveInferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inspectord_interactive_inference_duration_seconds",
		Help:    "Duration of single-frame interactive inference requests",
		Buckets: prometheus.DefBuckets,
	})
)
