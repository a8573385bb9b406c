package completenesscheck

import (
	"context"
	"fmt"

	"package-orchestrator/internal/audit"
	"package-orchestrator/internal/common/config"
	"package-orchestrator/internal/common/errors"
	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/common/metrics"
	"package-orchestrator/internal/models"
	"package-orchestrator/internal/queue"
)

const TaskType = string(models.JobCompletenessCheck)

type PackageStore interface {
	Get(ctx context.Context, id string) (*models.ApplicationPackage, error)
	TransitionToReady(ctx context.Context, id string, enqueue func(ctx context.Context) error) (bool, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, jobType models.JobType, payload models.JobPayload, opts ...queue.EnqueueOption) (queue.EnqueueResult, error)
}

type Handler struct {
	config    *Config
	logger    logger.Logger
	packages  PackageStore
	queue     Enqueuer
	audit     audit.Recorder
	evaluator *Evaluator
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Packages     PackageStore
	Household    HouseholdReader
	Queue        Enqueuer
	Audit        audit.Recorder
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Packages == nil || opts.Household == nil || opts.Queue == nil {
		return nil, fmt.Errorf("%s: packages, household and queue are required", TaskType)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	rec := opts.Audit
	if rec == nil {
		rec = audit.Nop()
	}

	return &Handler{
		config:    cfg,
		logger:    log.WithFields(map[string]interface{}{"taskType": TaskType}),
		packages:  opts.Packages,
		queue:     opts.Queue,
		audit:     rec,
		evaluator: NewEvaluator(opts.Household, cfg.ScreeningAge),
	}, nil
}

// Handle is the queue entry point.
func (h *Handler) Handle(ctx context.Context, job *models.Job) error {
	log := h.logger.WithFields(map[string]interface{}{
		"jobId":     job.ID,
		"packageId": job.Payload.PackageID,
		"attempt":   job.AttemptsMade,
	})
	log.Info("processing job", nil)

	out, err := h.Execute(ctx, &Input{PackageID: job.Payload.PackageID})
	if err != nil {
		return err
	}

	log.Info("job completed successfully", map[string]interface{}{
		"isComplete": out.IsComplete,
		"status":     out.Status,
		"skipped":    out.Skipped,
	})
	return nil
}

// Execute evaluates the package and, when it is complete, moves it to Ready
// and enqueues its submission in one transaction.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input.PackageID == "" {
		return nil, errors.NewInvalidJobPayloadError(TaskType, "packageId is required")
	}

	pkg, err := h.packages.Get(ctx, input.PackageID)
	if err != nil {
		return nil, err
	}

	out := &Output{PackageID: pkg.ID, Status: pkg.Status}
	if pkg.Status != models.StatusAwaitingConsent {
		h.logger.Info("completeness check skipped", map[string]interface{}{
			"packageId": pkg.ID,
			"status":    pkg.Status,
			"reason":    "package is not AwaitingConsent",
		})
		out.Skipped = true
		return out, nil
	}

	result, err := h.evaluator.Evaluate(ctx, pkg)
	if err != nil {
		return nil, err
	}
	if !result.IsComplete {
		out.Reason = result.Reason
		out.DataIntegrity = result.DataIntegrity
		h.reportIncomplete(ctx, pkg, result)
		return out, nil
	}

	transitioned, err := h.packages.TransitionToReady(ctx, pkg.ID, func(ctx context.Context) error {
		var opts []queue.EnqueueOption
		if h.config.SubmissionDelay > 0 {
			opts = append(opts, queue.WithDelay(h.config.SubmissionDelay))
		}
		_, err := h.queue.Enqueue(ctx, models.JobSubmission, models.JobPayload{
			PackageID: pkg.ID,
			Reason:    TaskType,
		}, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !transitioned {
		h.logger.Info("completeness check skipped", map[string]interface{}{
			"packageId": pkg.ID,
			"reason":    "package left AwaitingConsent during evaluation",
		})
		out.Skipped = true
		return out, nil
	}

	h.logger.Info("package ready for submission", map[string]interface{}{
		"packageId": pkg.ID,
	})
	out.IsComplete = true
	out.Status = models.StatusReady
	return out, nil
}

func (h *Handler) reportIncomplete(ctx context.Context, pkg *models.ApplicationPackage, result models.CompletenessResult) {
	if !result.DataIntegrity {
		h.logger.Info("package incomplete", map[string]interface{}{
			"packageId": pkg.ID,
			"check":     result.Check,
			"reason":    result.Reason,
		})
		return
	}

	h.logger.Error("package data integrity violation", map[string]interface{}{
		"packageId":     pkg.ID,
		"check":         result.Check,
		"reason":        result.Reason,
		"errorCode":     string(errors.ErrCodeDataIntegrity),
		"errorCategory": errors.GetErrorCategory(errors.ErrCodeDataIntegrity),
	})
	metrics.DataIntegrityFindings.WithLabelValues(result.Check).Inc()
	h.audit.Record(ctx, audit.Event{
		Kind:      audit.KindDataIntegrity,
		PackageID: pkg.ID,
		Details: map[string]interface{}{
			"check":  result.Check,
			"reason": result.Reason,
		},
	})
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) GetConfig() *Config {
	return h.config
}

// Evaluator exposes the side-effect free evaluator for operator tooling.
func (h *Handler) Evaluator() *Evaluator {
	return h.evaluator
}
