// internal/common/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeSuccess  = "success"
	OutcomeNoResult = "no_result"
	OutcomeError    = "error"
)

var (
	RAGBackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_backend_requests_total",
			Help: "Total number of RAG backend query calls by outcome",
		},
		[]string{"outcome"},
	)

	RAGBackendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_backend_request_duration_seconds",
			Help:    "Duration of RAG backend query calls in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

// ObserveRAGBackendCall records one backend call.
func ObserveRAGBackendCall(outcome string, started time.Time) {
	RAGBackendRequests.WithLabelValues(outcome).Inc()
	RAGBackendDuration.Observe(time.Since(started).Seconds())
}

// TrackJob marks a job active and returns a func that records its end.
func TrackJob(taskType string) func(errorCode string) {
	started := time.Now()
	WorkerJobsActive.WithLabelValues(taskType).Inc()

	return func(errorCode string) {
		WorkerJobsActive.WithLabelValues(taskType).Dec()
		WorkerJobDuration.WithLabelValues(taskType).Observe(time.Since(started).Seconds())
		if errorCode == "" {
			WorkerJobsCompleted.WithLabelValues(taskType).Inc()
			return
		}
		WorkerJobsFailed.WithLabelValues(taskType, errorCode).Inc()
	}
}
