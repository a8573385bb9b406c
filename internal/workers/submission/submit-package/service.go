package submitpackage

import (
	"context"
	"time"

	"package-orchestrator/internal/audit"
	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/models"
	"package-orchestrator/internal/notification"
	"package-orchestrator/internal/workers/submission/workflow"
)

type PackageStore interface {
	Get(ctx context.Context, id string) (*models.ApplicationPackage, error)
	SetExternalCaseID(ctx context.Context, id, caseID string) (string, error)
	MarkSubmitted(ctx context.Context, id, stage string, attempts int, at time.Time) (bool, error)
	RecordSubmissionError(ctx context.Context, id string, attempts int, at time.Time, message string) error
	MarkSubmissionFailed(ctx context.Context, id, message string) error
}

type Notifier interface {
	Notify(ctx context.Context, req notification.Request) (*models.Notification, error)
}

type Service struct {
	config   *Config
	packages PackageStore
	steps    *workflow.Steps
	notifier Notifier
	audit    audit.Recorder
	logger   logger.Logger
	now      func() time.Time
}

// Execute runs the submission workflow for a Ready package. Packages in any
// other state, or already flagged failed, are left alone.
func (s *Service) Execute(ctx context.Context, input *Input) (*Output, error) {
	pkg, err := s.packages.Get(ctx, input.PackageID)
	if err != nil {
		return nil, err
	}

	out := &Output{PackageID: pkg.ID, Status: pkg.Status, ExternalCaseID: pkg.CaseID()}
	if pkg.Status != models.StatusReady || pkg.SubmissionStatus == models.SubmissionFailed {
		s.logger.Info("submission skipped", map[string]interface{}{
			"packageId":        pkg.ID,
			"status":           pkg.Status,
			"submissionStatus": pkg.SubmissionStatus,
			"reason":           "package is not Ready for submission",
		})
		out.Skipped = true
		return out, nil
	}

	result, err := s.steps.Run(ctx, pkg, s.config.Stage)
	if err != nil {
		return nil, err
	}

	ok, err := s.packages.MarkSubmitted(ctx, pkg.ID, s.config.Stage, input.Attempt, s.now().UTC())
	if err != nil {
		return nil, err
	}
	out.ExternalCaseID = result.CaseID
	if !ok {
		s.logger.Warn("package left Ready during submission", map[string]interface{}{
			"packageId": pkg.ID,
			"caseId":    result.CaseID,
		})
		if cur, err := s.packages.Get(ctx, pkg.ID); err == nil {
			out.Status = cur.Status
		}
		out.Skipped = true
		return out, nil
	}

	out.Stage = s.config.Stage
	out.Status = models.StatusSubmitted

	s.audit.Record(ctx, audit.Event{
		Kind:      audit.KindSubmissionSucceeded,
		PackageID: pkg.ID,
		Details: map[string]interface{}{
			"caseId":             result.CaseID,
			"participantId":      result.ParticipantID,
			"stage":              s.config.Stage,
			"attempt":            input.Attempt,
			"caseCreated":        result.CaseCreated,
			"participantCreated": result.ParticipantCreated,
		},
	})
	s.notify(ctx, notification.Request{
		Type:      notification.TypeSubmissionReceived,
		PackageID: pkg.ID,
		Data:      map[string]interface{}{"caseId": result.CaseID, "stage": s.config.Stage},
	})
	return out, nil
}

// notify is best effort.
func (s *Service) notify(ctx context.Context, req notification.Request) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Notify(ctx, req); err != nil {
		s.logger.Warn("notification failed", map[string]interface{}{
			"packageId": req.PackageID,
			"type":      req.Type,
			"error":     err.Error(),
		})
	}
}
