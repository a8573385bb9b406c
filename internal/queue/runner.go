// internal/queue/runner.go
package queue

import (
	"context"
	"sync"
	"time"

	"package-orchestrator/internal/common/errors"
	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/common/metrics"
	"package-orchestrator/internal/models"

	"golang.org/x/sync/errgroup"
)

// Recorder receives per-job telemetry. observability.Observability implements it.
type Recorder interface {
	RecordJobProcessed(ctx context.Context, jobType, status string)
	RecordJobDuration(ctx context.Context, jobType string, duration time.Duration, status string)
}

// Worker binds a handler to a job type.
type Worker struct {
	Type          models.JobType
	Handler       Handler
	MaxJobsActive int
	Timeout       time.Duration
}

// Runner polls the queue for every registered worker.
type Runner struct {
	queue        *Queue
	pollInterval time.Duration
	logger       logger.Logger
	recorder     Recorder

	mu      sync.Mutex
	workers []Worker
}

func NewRunner(q *Queue, pollInterval time.Duration, log logger.Logger, rec Recorder) *Runner {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Runner{
		queue:        q,
		pollInterval: pollInterval,
		logger:       log.WithFields(map[string]interface{}{"component": "runner"}),
		recorder:     rec,
	}
}

func (r *Runner) Register(w Worker) {
	if w.MaxJobsActive < 1 {
		w.MaxJobsActive = 1
	}
	r.mu.Lock()
	r.workers = append(r.workers, w)
	r.mu.Unlock()

	r.logger.Info("worker started", map[string]interface{}{
		"taskType":      w.Type,
		"maxJobsActive": w.MaxJobsActive,
		"timeout_ms":    w.Timeout.Milliseconds(),
	})
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	workers := append([]Worker(nil), r.workers...)
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		for i := 0; i < w.MaxJobsActive; i++ {
			g.Go(func() error {
				r.poll(ctx, w)
				return nil
			})
		}
	}
	g.Go(func() error {
		r.maintain(ctx, workers)
		return nil
	})
	return g.Wait()
}

func (r *Runner) poll(ctx context.Context, w Worker) {
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := r.queue.ProcessNext(ctx, w.Type, w.Timeout, r.instrument(w))
		if err != nil && ctx.Err() == nil {
			r.logger.Error("queue poll failed", map[string]interface{}{"taskType": w.Type, "error": err})
		}
		if res != nil {
			r.record(ctx, res)
			continue
		}
		if !sleep(ctx, r.pollInterval) {
			return
		}
	}
}

func (r *Runner) maintain(ctx context.Context, workers []Worker) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, w := range workers {
				if err := r.queue.Maintain(ctx, w.Type); err != nil && ctx.Err() == nil {
					r.logger.Warn("queue maintenance failed", map[string]interface{}{"taskType": w.Type, "error": err})
				}
			}
		}
	}
}

func (r *Runner) instrument(w Worker) Handler {
	return func(ctx context.Context, job *models.Job) error {
		metrics.WorkerJobsActive.WithLabelValues(string(w.Type)).Inc()
		defer metrics.WorkerJobsActive.WithLabelValues(string(w.Type)).Dec()

		start := time.Now()
		err := w.Handler(ctx, job)
		duration := time.Since(start)

		metrics.WorkerJobDuration.WithLabelValues(string(w.Type)).Observe(duration.Seconds())
		if r.recorder != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			r.recorder.RecordJobDuration(ctx, string(w.Type), duration, status)
		}
		return err
	}
}

func (r *Runner) record(ctx context.Context, res *Result) {
	jobType := string(res.Job.Type)
	switch res.Outcome {
	case OutcomeCompleted:
		metrics.WorkerJobsCompleted.WithLabelValues(jobType).Inc()
	default:
		metrics.WorkerJobsFailed.WithLabelValues(jobType, string(errors.CodeOf(res.Err))).Inc()
	}
	if r.recorder != nil {
		r.recorder.RecordJobProcessed(ctx, jobType, res.Outcome)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
