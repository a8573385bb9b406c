package stagecheck

import (
	"context"
	"fmt"

	"package-orchestrator/internal/audit"
	"package-orchestrator/internal/common/config"
	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/models"
)

const TaskType = string(models.JobStageCheck)

type Handler struct {
	config  *Config
	logger  logger.Logger
	service *Service
}

type HandlerOptions struct {
	AppConfig    *config.Config
	CustomConfig *Config
	Store        TrackedStore
	Registry     CaseSearcher
	Notifier     Notifier
	Audit        audit.Recorder
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Store == nil || opts.Registry == nil {
		return nil, fmt.Errorf("%s: store and registry are required", TaskType)
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
		config: cfg,
		logger: log,
		service: &Service{
			config:   cfg,
			store:    opts.Store,
			registry: opts.Registry,
			notifier: opts.Notifier,
			audit:    rec,
			logger:   log,
		},
	}, nil
}

func (h *Handler) Handle(ctx context.Context, job *models.Job) error {
	log := h.logger.WithFields(map[string]interface{}{"jobId": job.ID})
	log.Info("processing job", nil)

	out, err := h.service.Reconcile(ctx)
	if err != nil {
		log.Error("reconciliation aborted", map[string]interface{}{"error": err.Error()})
		return err
	}

	log.Info("job completed successfully", map[string]interface{}{
		"checked":       out.Checked,
		"updated":       out.Updated,
		"missing":       out.Missing,
		"failedBatches": out.FailedBatches,
	})
	return nil
}

// Reconcile runs one pass outside the queue, for operator tooling.
func (h *Handler) Reconcile(ctx context.Context) (*Output, error) {
	return h.service.Reconcile(ctx)
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) GetConfig() *Config {
	return h.config
}
