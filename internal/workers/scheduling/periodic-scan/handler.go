package periodicscan

import (
	"context"
	"fmt"

	"package-orchestrator/internal/common/config"
	"package-orchestrator/internal/common/errors"
	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/models"
	"package-orchestrator/internal/queue"
)

const TaskType = string(models.JobPeriodicScan)

type ScanStore interface {
	ListForScan(ctx context.Context, status models.PackageStatus, statuses []models.SubmissionStatus) ([]string, error)
	ListReferralCandidates(ctx context.Context, statuses []models.SubmissionStatus) ([]string, error)
}

type JobQueue interface {
	Enqueue(ctx context.Context, jobType models.JobType, payload models.JobPayload, opts ...queue.EnqueueOption) (queue.EnqueueResult, error)
	PendingPackageIDs(ctx context.Context, jobType models.JobType) (map[string]struct{}, error)
}

// Handler sweeps the package store for work that was never queued or whose
// job was lost, and enqueues it. Every enqueue is deduplicated by the queue,
// so overlapping scans are harmless.
type Handler struct {
	config *Config
	logger logger.Logger
	store  ScanStore
	queue  JobQueue
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Store        ScanStore
	Queue        JobQueue
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Store == nil || opts.Queue == nil {
		return nil, fmt.Errorf("%s: store and queue are required", TaskType)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}

	return &Handler{
		config: cfg,
		logger: log.WithFields(map[string]interface{}{"taskType": TaskType}),
		store:  opts.Store,
		queue:  opts.Queue,
	}, nil
}

func (h *Handler) Handle(ctx context.Context, job *models.Job) error {
	log := h.logger.WithFields(map[string]interface{}{"jobId": job.ID})
	log.Info("processing job", nil)

	out, err := h.Execute(ctx)
	if err != nil {
		return err
	}

	log.Info("job completed successfully", map[string]interface{}{
		"completenessQueued": out.CompletenessQueued,
		"submissionsQueued":  out.SubmissionsQueued,
		"referralsQueued":    out.ReferralsQueued,
		"alreadyQueued":      out.AlreadyQueued,
		"enqueueFailures":    out.EnqueueFailures,
	})
	return nil
}

// Execute runs one sweep. Failed packages are never picked up.
func (h *Handler) Execute(ctx context.Context) (*Output, error) {
	out := &Output{}

	awaiting, err := h.store.ListForScan(ctx, models.StatusAwaitingConsent, models.ScanSubmissionStatuses)
	if err != nil {
		return nil, err
	}
	out.CompletenessQueued = h.enqueueAll(ctx, out, models.JobCompletenessCheck, awaiting)

	ready, err := h.store.ListForScan(ctx, models.StatusReady, models.ScanSubmissionStatuses)
	if err != nil {
		return nil, err
	}
	if len(ready) > 0 {
		pending, err := h.queue.PendingPackageIDs(ctx, models.JobSubmission)
		if err != nil {
			return nil, err
		}
		fresh := ready[:0:0]
		for _, id := range ready {
			if _, queued := pending[id]; queued {
				out.AlreadyQueued++
				continue
			}
			fresh = append(fresh, id)
		}
		out.SubmissionsQueued = h.enqueueAll(ctx, out, models.JobSubmission, fresh)
	}

	if h.config.Referrals {
		referrals, err := h.store.ListReferralCandidates(ctx, models.ScanSubmissionStatuses)
		if err != nil {
			return nil, err
		}
		out.ReferralsQueued = h.enqueueAll(ctx, out, models.JobSubmitReferral, referrals)
	}

	return out, nil
}

// enqueueAll returns how many new jobs were created. Per-package failures are
// logged and left for the next sweep.
func (h *Handler) enqueueAll(ctx context.Context, out *Output, jobType models.JobType, ids []string) int {
	queued := 0
	for _, id := range ids {
		res, err := h.queue.Enqueue(ctx, jobType, models.JobPayload{PackageID: id, Reason: TaskType})
		if err != nil {
			out.EnqueueFailures++
			h.logger.Warn("scan enqueue failed", map[string]interface{}{
				"jobType":   jobType,
				"packageId": id,
				"errorCode": string(errors.CodeOf(err)),
				"error":     err.Error(),
			})
			continue
		}
		if res.Duplicate {
			out.AlreadyQueued++
			continue
		}
		queued++
	}
	return queued
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) GetConfig() *Config {
	return h.config
}
