// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_completed_total",
			Help: "Total number of jobs completed, by job type",
		},
		[]string{"job_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_failed_total",
			Help: "Total number of failed job attempts",
		},
		[]string{"job_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_job_duration_seconds",
			Help:    "Duration of job processing in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"job_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_jobs_active",
			Help: "Number of jobs currently being processed",
		},
		[]string{"job_type"},
	)

	JobsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_deduplicated_total",
			Help: "Enqueue requests skipped because an equivalent job is outstanding",
		},
		[]string{"job_type"},
	)

	JobsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_retried_total",
			Help: "Jobs rescheduled after a failed attempt",
		},
		[]string{"job_type"},
	)

	JobsExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_exhausted_total",
			Help: "Jobs moved to the failed set after their last attempt",
		},
		[]string{"job_type"},
	)

	StagesUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_stages_updated_total",
			Help: "External case stage changes applied by reconciliation",
		},
	)

	ReconcileBatchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_reconcile_batch_failures_total",
			Help: "Registry search batches that failed during reconciliation",
		},
	)

	DataIntegrityFindings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_data_integrity_findings_total",
			Help: "Packages whose household data contradicts itself",
		},
		[]string{"check"},
	)

	RegistryRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "orchestrator_registry_request_duration_seconds",
			Help: "Latency of registry API calls",
		},
		[]string{"operation", "outcome"},
	)
)
