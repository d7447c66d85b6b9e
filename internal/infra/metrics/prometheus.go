package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowscore_jobs_processed_total",
		Help: "Total number of scoring jobs processed, by status",
	}, []string{"status"})

	JobProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowscore_job_processing_duration_seconds",
		Help:    "Duration of each scoring pipeline stage",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage"})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowscore_frames_extracted_total",
		Help: "Total number of frames decoded across all videos",
	})

	FlowPairsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowscore_flow_pairs_processed_total",
		Help: "Total number of frame pairs turned into flow rasters",
	})

	ModelInferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowscore_model_inference_duration_seconds",
		Help:    "Latency of a single model worker call",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"model"})

	VideoScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flowscore_video_score",
		Help:    "Distribution of final video scores",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowscore_active_workers",
		Help: "Number of scoring jobs currently in progress",
	})
)
