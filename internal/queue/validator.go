package queue

import (
	"fmt"
	"time"

	"package-orchestrator/internal/common/errors"
	"package-orchestrator/internal/common/validation"
	"package-orchestrator/internal/models"
	"package-orchestrator/pkg/catalog"
)

// CatalogValidator checks payloads against the job catalog's JSON schemas.
type CatalogValidator struct {
	schemas map[models.JobType]*validation.Schema
}

func NewCatalogValidator(c *catalog.JobCatalog) (*CatalogValidator, error) {
	v := &CatalogValidator{schemas: make(map[models.JobType]*validation.Schema, len(c.JobTypes))}
	for _, jt := range c.JobTypes {
		s, err := validation.Compile(jt.PayloadSchema)
		if err != nil {
			return nil, fmt.Errorf("job type %s: %w", jt.Type, err)
		}
		v.schemas[models.JobType(jt.Type)] = s
	}
	return v, nil
}

func (v *CatalogValidator) ValidatePayload(jobType models.JobType, payload models.JobPayload) error {
	s, ok := v.schemas[jobType]
	if !ok {
		return errors.NewInvalidJobPayloadError(string(jobType), "job type not in catalog")
	}
	result, err := s.Validate(payload)
	if err != nil {
		return errors.NewInvalidJobPayloadError(string(jobType), err.Error())
	}
	if !result.Valid {
		return errors.NewInvalidJobPayloadError(string(jobType), result.Summary())
	}
	return nil
}

// PoliciesFromCatalog builds retry policies from the catalog defaults.
func PoliciesFromCatalog(c *catalog.JobCatalog) map[models.JobType]models.RetryPolicy {
	out := make(map[models.JobType]models.RetryPolicy, len(c.JobTypes))
	for _, jt := range c.JobTypes {
		out[models.JobType(jt.Type)] = models.RetryPolicy{
			MaxAttempts: jt.DefaultPolicy.MaxAttempts,
			Backoff:     models.BackoffType(jt.DefaultPolicy.Backoff),
			Delay:       time.Duration(jt.DefaultPolicy.DelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(jt.DefaultPolicy.MaxDelayMs) * time.Millisecond,
		}
	}
	return out
}
