package submitpackage

import (
	"context"
	"fmt"
	"time"

	"package-orchestrator/internal/audit"
	"package-orchestrator/internal/common/config"
	"package-orchestrator/internal/common/errors"
	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/models"
	"package-orchestrator/internal/notification"
	"package-orchestrator/internal/workers/submission/workflow"
)

const (
	TaskType = string(models.JobSubmission)

	bookkeepingTimeout = 10 * time.Second
)

type Handler struct {
	config   *Config
	logger   logger.Logger
	packages PackageStore
	service  *Service
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Packages     PackageStore
	Household    workflow.Household
	Registry     workflow.Registry
	Notifier     Notifier
	Audit        audit.Recorder
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Packages == nil || opts.Household == nil || opts.Registry == nil {
		return nil, fmt.Errorf("%s: packages, household and registry are required", TaskType)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	rec := opts.Audit
	if rec == nil {
		rec = audit.Nop()
	}

	return &Handler{
		config:   cfg,
		logger:   log,
		packages: opts.Packages,
		service: &Service{
			config:   cfg,
			packages: opts.Packages,
			steps:    workflow.New(opts.Registry, opts.Packages, opts.Household, log),
			notifier: opts.Notifier,
			audit:    rec,
			logger:   log,
			now:      time.Now,
		},
	}, nil
}

// Handle runs one submission attempt. A failure is recorded on the package
// and returned so the queue schedules the next attempt.
func (h *Handler) Handle(ctx context.Context, job *models.Job) error {
	log := h.logger.WithFields(map[string]interface{}{
		"jobId":     job.ID,
		"packageId": job.Payload.PackageID,
		"attempt":   job.AttemptsMade,
	})
	log.Info("processing job", nil)

	if job.Payload.PackageID == "" {
		return errors.NewInvalidJobPayloadError(TaskType, "packageId is required")
	}

	out, err := h.service.Execute(ctx, &Input{PackageID: job.Payload.PackageID, Attempt: job.AttemptsMade})
	if err != nil {
		h.recordError(ctx, job, err)
		return err
	}

	log.Info("job completed successfully", map[string]interface{}{
		"caseId":  out.ExternalCaseID,
		"status":  out.Status,
		"skipped": out.Skipped,
	})
	return nil
}

func (h *Handler) recordError(ctx context.Context, job *models.Job, cause error) {
	// The job context may already be past its deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if errors.CodeOf(cause) == errors.ErrCodePackageNotFound {
		return
	}
	if err := h.packages.RecordSubmissionError(ctx, job.Payload.PackageID, job.AttemptsMade, h.service.now().UTC(), cause.Error()); err != nil {
		h.logger.Error("failed to record submission error", map[string]interface{}{
			"jobId":     job.ID,
			"packageId": job.Payload.PackageID,
			"error":     err.Error(),
		})
	}
	h.service.audit.Record(ctx, audit.Event{
		Kind:      audit.KindSubmissionError,
		PackageID: job.Payload.PackageID,
		JobID:     job.ID,
		Details: map[string]interface{}{
			"attempt":   job.AttemptsMade,
			"errorCode": string(errors.CodeOf(cause)),
			"error":     models.TruncateError(cause.Error()),
		},
	})
}

// OnExhausted marks the package failed once the queue gives up on it.
// Only an operator reset clears the flag.
func (h *Handler) OnExhausted(ctx context.Context, job *models.Job, cause error) {
	pkgID := job.Payload.PackageID
	msg := "submission failed"
	if cause != nil {
		msg = cause.Error()
	}

	if err := h.packages.MarkSubmissionFailed(ctx, pkgID, msg); err != nil {
		h.logger.Error("failed to mark submission failed", map[string]interface{}{
			"jobId":     job.ID,
			"packageId": pkgID,
			"error":     err.Error(),
		})
	}
	h.logger.Error("submission attempts exhausted", map[string]interface{}{
		"jobId":     job.ID,
		"packageId": pkgID,
		"attempts":  job.AttemptsMade,
		"errorCode": string(errors.CodeOf(cause)),
	})

	h.service.audit.Record(ctx, audit.Event{
		Kind:      audit.KindSubmissionFailed,
		PackageID: pkgID,
		JobID:     job.ID,
		Details: map[string]interface{}{
			"attempts":  job.AttemptsMade,
			"errorCode": string(errors.CodeOf(cause)),
			"error":     models.TruncateError(msg),
		},
	})
	h.service.notify(ctx, notification.Request{
		Type:      notification.TypeSubmissionFailed,
		PackageID: pkgID,
		Data: map[string]interface{}{
			"attempts": job.AttemptsMade,
			"error":    string(errors.CodeOf(cause)),
		},
	})
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) GetConfig() *Config {
	return h.config
}
