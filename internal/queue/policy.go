package queue

import (
	"package-orchestrator/internal/common/config"
	"package-orchestrator/internal/models"
)

// WithWorkerOverrides returns a copy of base with the retry settings of every
// configured worker applied on top. Unknown worker names are ignored.
func WithWorkerOverrides(base map[models.JobType]models.RetryPolicy, workers map[string]config.WorkerConfig) map[models.JobType]models.RetryPolicy {
	out := make(map[models.JobType]models.RetryPolicy, len(base))
	for jobType, p := range base {
		out[jobType] = p
	}
	for name, w := range workers {
		jobType := models.JobType(name)
		p, ok := out[jobType]
		if !ok {
			continue
		}
		if w.MaxRetries > 0 {
			p.MaxAttempts = w.MaxRetries
		}
		if w.BackoffType != "" {
			p.Backoff = models.BackoffType(w.BackoffType)
		}
		if w.BackoffDelay > 0 {
			p.Delay = config.GetDuration(w.BackoffDelay)
		}
		if w.BackoffMax > 0 {
			p.MaxDelay = config.GetDuration(w.BackoffMax)
		}
		out[jobType] = p
	}
	return out
}
