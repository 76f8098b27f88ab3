package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiapx_ocr_tasks_processed_total",
		Help: "Total number of OCR tasks finished, by outcome",
	}, []string{"status"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fiapx_ocr_task_duration_seconds",
		Help:    "Duration of OCR task stages",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage"})

	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fiapx_ocr_frames_sampled_total",
		Help: "Total number of frames sent to the text recognizer",
	})

	ReadingsEmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fiapx_ocr_readings_emitted_total",
		Help: "Total number of frame readings that survived token filtering",
	})

	RecognitionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fiapx_ocr_recognition_failures_total",
		Help: "Total number of frames skipped because recognition failed",
	})

	SegmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fiapx_ocr_segments_total",
		Help: "Total number of text segments persisted",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fiapx_ocr_active_workers",
		Help: "Number of tasks currently being processed",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiapx_ocr_retry_total",
		Help: "Total number of requeued deliveries, by attempt",
	}, []string{"attempt"})

	StaleTasksFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fiapx_ocr_stale_tasks_failed_total",
		Help: "Total number of tasks failed by the stale task reaper",
	})
)
