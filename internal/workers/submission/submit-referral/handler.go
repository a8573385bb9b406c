package submitreferral

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

const TaskType = string(models.JobSubmitReferral)

type PackageStore interface {
	Get(ctx context.Context, id string) (*models.ApplicationPackage, error)
	SetExternalCaseID(ctx context.Context, id, caseID string) (string, error)
	MarkReferralSubmitted(ctx context.Context, id, stage string, attempts int, at time.Time) (bool, error)
	RecordSubmissionError(ctx context.Context, id string, attempts int, at time.Time, message string) error
	MarkSubmissionFailed(ctx context.Context, id, message string) error
}

type Notifier interface {
	Notify(ctx context.Context, req notification.Request) (*models.Notification, error)
}

// Handler opens the registry case for a package that asked for a referral.
// The package status stays ReferralRequested; the later full submission
// reuses the case through its checkpoint.
type Handler struct {
	config   *Config
	logger   logger.Logger
	packages PackageStore
	steps    *workflow.Steps
	notifier Notifier
	audit    audit.Recorder
	now      func() time.Time
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
		steps:    workflow.New(opts.Registry, opts.Packages, opts.Household, log),
		notifier: opts.Notifier,
		audit:    rec,
		now:      time.Now,
	}, nil
}

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

	out, err := h.Execute(ctx, &Input{PackageID: job.Payload.PackageID, Attempt: job.AttemptsMade})
	if err != nil {
		h.recordError(ctx, job, err)
		return err
	}

	log.Info("job completed successfully", map[string]interface{}{
		"caseId":  out.ExternalCaseID,
		"skipped": out.Skipped,
	})
	return nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	pkg, err := h.packages.Get(ctx, input.PackageID)
	if err != nil {
		return nil, err
	}

	out := &Output{PackageID: pkg.ID, ExternalCaseID: pkg.CaseID()}
	if pkg.Status != models.StatusReferralRequested ||
		pkg.SubmissionStatus == models.SubmissionSuccess ||
		pkg.SubmissionStatus == models.SubmissionFailed {
		h.logger.Info("referral skipped", map[string]interface{}{
			"packageId":        pkg.ID,
			"status":           pkg.Status,
			"submissionStatus": pkg.SubmissionStatus,
			"reason":           "package has no outstanding referral",
		})
		out.Skipped = true
		return out, nil
	}

	result, err := h.steps.Run(ctx, pkg, h.config.Stage)
	if err != nil {
		return nil, err
	}

	ok, err := h.packages.MarkReferralSubmitted(ctx, pkg.ID, h.config.Stage, input.Attempt, h.now().UTC())
	if err != nil {
		return nil, err
	}
	out.ExternalCaseID = result.CaseID
	if !ok {
		h.logger.Warn("package left ReferralRequested during referral", map[string]interface{}{
			"packageId": pkg.ID,
			"caseId":    result.CaseID,
		})
		out.Skipped = true
		return out, nil
	}

	h.audit.Record(ctx, audit.Event{
		Kind:      audit.KindReferralSubmitted,
		PackageID: pkg.ID,
		Details: map[string]interface{}{
			"caseId":        result.CaseID,
			"participantId": result.ParticipantID,
			"stage":         h.config.Stage,
			"attempt":       input.Attempt,
		},
	})

	out.Stage = h.config.Stage
	return out, nil
}

func (h *Handler) recordError(ctx context.Context, job *models.Job, cause error) {
	if errors.CodeOf(cause) == errors.ErrCodePackageNotFound {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := h.packages.RecordSubmissionError(ctx, job.Payload.PackageID, job.AttemptsMade, h.now().UTC(), cause.Error()); err != nil {
		h.logger.Error("failed to record referral error", map[string]interface{}{
			"jobId":     job.ID,
			"packageId": job.Payload.PackageID,
			"error":     err.Error(),
		})
	}
	h.audit.Record(ctx, audit.Event{
		Kind:      audit.KindSubmissionError,
		PackageID: job.Payload.PackageID,
		JobID:     job.ID,
		Details: map[string]interface{}{
			"jobType":   TaskType,
			"attempt":   job.AttemptsMade,
			"errorCode": string(errors.CodeOf(cause)),
		},
	})
}

func (h *Handler) OnExhausted(ctx context.Context, job *models.Job, cause error) {
	pkgID := job.Payload.PackageID
	msg := "referral failed"
	if cause != nil {
		msg = cause.Error()
	}
	if err := h.packages.MarkSubmissionFailed(ctx, pkgID, msg); err != nil {
		h.logger.Error("failed to mark referral failed", map[string]interface{}{
			"jobId":     job.ID,
			"packageId": pkgID,
			"error":     err.Error(),
		})
	}

	h.audit.Record(ctx, audit.Event{
		Kind:      audit.KindSubmissionFailed,
		PackageID: pkgID,
		JobID:     job.ID,
		Details: map[string]interface{}{
			"jobType":   TaskType,
			"attempts":  job.AttemptsMade,
			"errorCode": string(errors.CodeOf(cause)),
		},
	})

	if h.notifier == nil {
		return
	}
	if _, err := h.notifier.Notify(ctx, notification.Request{
		Type:      notification.TypeSubmissionFailed,
		PackageID: pkgID,
		Data:      map[string]interface{}{"attempts": job.AttemptsMade, "error": string(errors.CodeOf(cause))},
	}); err != nil {
		h.logger.Warn("notification failed", map[string]interface{}{"packageId": pkgID, "error": err.Error()})
	}
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) GetConfig() *Config {
	return h.config
}
