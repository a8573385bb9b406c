package stagecheck

import (
	"context"

	"package-orchestrator/internal/audit"
	"package-orchestrator/internal/common/errors"
	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/common/metrics"
	"package-orchestrator/internal/models"
	"package-orchestrator/internal/notification"
	"package-orchestrator/internal/registry"
)

type TrackedStore interface {
	ListTracked(ctx context.Context) ([]models.TrackedCase, error)
	UpdateExternalStage(ctx context.Context, id, stage string) error
}

type CaseSearcher interface {
	SearchCases(ctx context.Context, filter string) ([]registry.Case, error)
}

type Notifier interface {
	Notify(ctx context.Context, req notification.Request) (*models.Notification, error)
}

type Service struct {
	config   *Config
	store    TrackedStore
	registry CaseSearcher
	notifier Notifier
	audit    audit.Recorder
	logger   logger.Logger
}

// Reconcile pulls the registry stage of every tracked case and mirrors the
// changes locally. Per-package problems are logged and skipped; the run only
// fails when the tracked list cannot be read or no registry batch succeeds.
func (s *Service) Reconcile(ctx context.Context) (*Output, error) {
	tracked, err := s.store.ListTracked(ctx)
	if err != nil {
		return nil, err
	}

	out := &Output{Checked: len(tracked)}
	if len(tracked) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(tracked))
	for _, tc := range tracked {
		ids = append(ids, tc.ExternalCaseID)
	}

	remote := make(map[string]string, len(ids))
	var lastErr error
	for i, batch := range registry.Chunk(ids, s.config.BatchSize) {
		out.Batches++
		cases, err := s.registry.SearchCases(ctx, registry.AnyOf("id", batch))
		if err != nil {
			out.FailedBatches++
			lastErr = err
			metrics.ReconcileBatchFailures.Inc()
			s.logger.Warn("registry search batch failed", map[string]interface{}{
				"batch":     i,
				"batchSize": len(batch),
				"errorCode": string(errors.CodeOf(err)),
				"error":     err.Error(),
			})
			continue
		}
		for _, c := range cases {
			remote[c.ID] = c.Stage
		}
	}
	if out.FailedBatches == out.Batches {
		return nil, errors.NewRegistryUnavailableError("search cases", lastErr)
	}

	for _, tc := range tracked {
		stage, ok := remote[tc.ExternalCaseID]
		if !ok {
			out.Missing++
			s.logger.Info("case missing from registry results", map[string]interface{}{
				"packageId": tc.PackageID,
				"caseId":    tc.ExternalCaseID,
			})
			continue
		}
		if stage == tc.LocalStage {
			continue
		}
		if err := s.applyStage(ctx, tc, stage); err != nil {
			s.logger.Error("failed to apply stage change", map[string]interface{}{
				"packageId": tc.PackageID,
				"caseId":    tc.ExternalCaseID,
				"error":     err.Error(),
			})
			continue
		}
		out.Updated++
	}

	s.audit.Record(ctx, audit.Event{
		Kind: audit.KindReconciliationRun,
		Details: map[string]interface{}{
			"checked":       out.Checked,
			"updated":       out.Updated,
			"missing":       out.Missing,
			"failedBatches": out.FailedBatches,
		},
	})
	return out, nil
}

func (s *Service) applyStage(ctx context.Context, tc models.TrackedCase, stage string) error {
	if err := s.store.UpdateExternalStage(ctx, tc.PackageID, stage); err != nil {
		return err
	}
	metrics.StagesUpdated.Inc()

	s.logger.Info("case stage changed", map[string]interface{}{
		"packageId":     tc.PackageID,
		"caseId":        tc.ExternalCaseID,
		"previousStage": tc.LocalStage,
		"stage":         stage,
	})
	s.audit.Record(ctx, audit.Event{
		Kind:      audit.KindStageChanged,
		PackageID: tc.PackageID,
		Details: map[string]interface{}{
			"caseId":        tc.ExternalCaseID,
			"previousStage": tc.LocalStage,
			"stage":         stage,
		},
	})

	if s.notifier == nil {
		return nil
	}
	if _, err := s.notifier.Notify(ctx, notification.Request{
		Type:      notification.TypeStageChanged,
		PackageID: tc.PackageID,
		Data:      map[string]interface{}{"previousStage": tc.LocalStage, "stage": stage, "caseId": tc.ExternalCaseID},
	}); err != nil {
		s.logger.Warn("notification failed", map[string]interface{}{
			"packageId": tc.PackageID,
			"type":      notification.TypeStageChanged,
			"error":     err.Error(),
		})
	}
	return nil
}
