// Package scheduler enqueues the periodic jobs on jittered intervals. It never
// runs work itself: the queue's singleton dedup key keeps a second periodic
// job from being queued while one is still waiting or running.
package scheduler

import (
	"context"
	"time"

	"package-orchestrator/internal/common/config"
	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/models"
	"package-orchestrator/internal/queue"

	"github.com/lthibault/jitterbug/v2"
)

const (
	DefaultScanInterval       = 5 * time.Minute
	DefaultStageCheckInterval = 30 * time.Second

	maxJitter = 500 * time.Millisecond
)

type Enqueuer interface {
	Enqueue(ctx context.Context, jobType models.JobType, payload models.JobPayload, opts ...queue.EnqueueOption) (queue.EnqueueResult, error)
}

type Scheduler struct {
	queue              Enqueuer
	scanInterval       time.Duration
	stageCheckInterval time.Duration
	logger             logger.Logger
}

func New(q Enqueuer, cfg config.SchedulerConfig, log logger.Logger) *Scheduler {
	s := &Scheduler{
		queue:              q,
		scanInterval:       DefaultScanInterval,
		stageCheckInterval: DefaultStageCheckInterval,
		logger:             log.WithFields(map[string]interface{}{"component": "scheduler"}),
	}
	if cfg.ScanInterval > 0 {
		s.scanInterval = config.GetDuration(cfg.ScanInterval)
	}
	if cfg.StageCheckInterval > 0 {
		s.stageCheckInterval = config.GetDuration(cfg.StageCheckInterval)
	}
	return s
}

// TriggerScan queues a periodic scan unless one is already outstanding.
func (s *Scheduler) TriggerScan(ctx context.Context) (queue.EnqueueResult, error) {
	return s.trigger(ctx, models.JobPeriodicScan)
}

// TriggerStageCheck queues a reconciliation run unless one is already outstanding.
func (s *Scheduler) TriggerStageCheck(ctx context.Context) (queue.EnqueueResult, error) {
	return s.trigger(ctx, models.JobStageCheck)
}

func (s *Scheduler) trigger(ctx context.Context, jobType models.JobType) (queue.EnqueueResult, error) {
	res, err := s.queue.Enqueue(ctx, jobType, models.JobPayload{Reason: "scheduler"})
	if err != nil {
		s.logger.Error("periodic trigger failed", map[string]interface{}{
			"jobType": jobType,
			"error":   err.Error(),
		})
		return res, err
	}
	if res.Duplicate {
		s.logger.Debug("periodic job still outstanding", map[string]interface{}{
			"jobType": jobType,
			"jobId":   res.JobID,
		})
	}
	return res, nil
}

// Run fires both triggers on their intervals until ctx is done. Trigger
// errors are logged and the next tick tries again.
func (s *Scheduler) Run(ctx context.Context) error {
	scan := jitterbug.New(s.scanInterval, &jitterbug.Norm{Stdev: jitter(s.scanInterval)})
	defer scan.Stop()
	stage := jitterbug.New(s.stageCheckInterval, &jitterbug.Norm{Stdev: jitter(s.stageCheckInterval)})
	defer stage.Stop()

	s.logger.Info("scheduler started", map[string]interface{}{
		"scanInterval":       s.scanInterval.String(),
		"stageCheckInterval": s.stageCheckInterval.String(),
	})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", nil)
			return nil
		case <-scan.C:
			_, _ = s.TriggerScan(ctx)
		case <-stage.C:
			_, _ = s.TriggerStageCheck(ctx)
		}
	}
}

// jitter spreads replicas apart without letting short intervals go negative.
func jitter(interval time.Duration) time.Duration {
	if j := interval / 10; j < maxJitter {
		return j
	}
	return maxJitter
}
