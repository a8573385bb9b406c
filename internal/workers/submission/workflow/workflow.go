// Package workflow holds the resumable registry steps shared by the
// submission and referral jobs. Each step checks the persisted checkpoint
// before calling the registry, so a job can be re-run after any partial
// failure without creating a second case or participant.
package workflow

import (
	"context"

	"package-orchestrator/internal/common/errors"
	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/models"
	"package-orchestrator/internal/registry"
)

// Registry is the subset of the registry client the steps need.
type Registry interface {
	CreateCase(ctx context.Context, req *registry.CreateCaseRequest) (string, error)
	CreateParticipant(ctx context.Context, req *registry.CreateParticipantRequest) (string, error)
	UpdateCaseStage(ctx context.Context, caseID, stage string) error
}

type CaseStore interface {
	SetExternalCaseID(ctx context.Context, id, caseID string) (string, error)
}

type Household interface {
	ListMembers(ctx context.Context, packageID string) ([]models.HouseholdMember, error)
	SetParticipantID(ctx context.Context, memberID, participantID string) (string, error)
}

// Outcome reports what a run did. The Created flags are false when a
// checkpoint from an earlier attempt was reused.
type Outcome struct {
	CaseID             string
	ParticipantID      string
	CaseCreated        bool
	ParticipantCreated bool
	Primary            *models.HouseholdMember
}

type Steps struct {
	registry  Registry
	cases     CaseStore
	household Household
	logger    logger.Logger
}

func New(reg Registry, cases CaseStore, household Household, log logger.Logger) *Steps {
	return &Steps{
		registry:  reg,
		cases:     cases,
		household: household,
		logger:    log,
	}
}

// Run ensures the case, ensures the primary participant and then sets the
// case stage. The stage update is not checkpointed; the registry overwrites it.
func (s *Steps) Run(ctx context.Context, pkg *models.ApplicationPackage, stage string) (*Outcome, error) {
	members, err := s.household.ListMembers(ctx, pkg.ID)
	if err != nil {
		return nil, err
	}
	primary := models.FindPrimary(members)
	if primary == nil {
		return nil, errors.NewDataIntegrityError(pkg.ID, "primary applicant (relationshipToPrimary=Self) not found")
	}

	out := &Outcome{Primary: primary}

	out.CaseID, out.CaseCreated, err = s.ensureCase(ctx, pkg, primary)
	if err != nil {
		return nil, err
	}

	out.ParticipantID, out.ParticipantCreated, err = s.ensureParticipant(ctx, pkg, out.CaseID, primary)
	if err != nil {
		return nil, err
	}

	if err := s.registry.UpdateCaseStage(ctx, out.CaseID, stage); err != nil {
		return nil, err
	}

	s.logger.Info("registry case staged", map[string]interface{}{
		"packageId":          pkg.ID,
		"caseId":             out.CaseID,
		"participantId":      out.ParticipantID,
		"stage":              stage,
		"caseCreated":        out.CaseCreated,
		"participantCreated": out.ParticipantCreated,
	})
	return out, nil
}

func (s *Steps) ensureCase(ctx context.Context, pkg *models.ApplicationPackage, primary *models.HouseholdMember) (string, bool, error) {
	if id := pkg.CaseID(); id != "" {
		return id, false, nil
	}

	caseID, err := s.registry.CreateCase(ctx, &registry.CreateCaseRequest{
		ExternalReference: pkg.ID,
		OwnerID:           pkg.OwnerID,
		Subtype:           pkg.Subtype,
		SubSubtype:        pkg.SubSubtype,
		HasPartner:        pkg.HasPartner,
		HasHousehold:      pkg.HasHousehold,
		ApplicantName:     primary.FullName(),
		ApplicantEmail:    primary.Email,
	})
	if err != nil {
		return "", false, err
	}
	if caseID == "" {
		return "", false, errors.NewInternalError("registry returned no case id", nil)
	}

	// Persist before anything else so a retry never creates a second case.
	stored, err := s.cases.SetExternalCaseID(ctx, pkg.ID, caseID)
	if err != nil {
		return "", false, err
	}
	if stored != caseID {
		s.logger.Warn("case id already recorded by a concurrent run", map[string]interface{}{
			"packageId":  pkg.ID,
			"caseId":     stored,
			"orphanCase": caseID,
		})
	}
	if stored == "" {
		return "", false, errors.NewInternalError("case id not persisted", nil)
	}
	pkg.ExternalCaseID = &stored
	return stored, stored == caseID, nil
}

func (s *Steps) ensureParticipant(ctx context.Context, pkg *models.ApplicationPackage, caseID string, primary *models.HouseholdMember) (string, bool, error) {
	if id := primary.ParticipantID(); id != "" {
		return id, false, nil
	}

	req := &registry.CreateParticipantRequest{
		CaseID:            caseID,
		ExternalReference: primary.ID,
		Role:              registry.RolePrimary,
		FirstName:         primary.FirstName,
		LastName:          primary.LastName,
		Email:             primary.Email,
		Phone:             primary.Phone,
	}
	if primary.DateOfBirth != nil {
		req.DateOfBirth = primary.DateOfBirth.Format("2006-01-02")
	}

	participantID, err := s.registry.CreateParticipant(ctx, req)
	if err != nil {
		return "", false, err
	}
	if participantID == "" {
		return "", false, errors.NewInternalError("registry returned no participant id", nil)
	}

	stored, err := s.household.SetParticipantID(ctx, primary.ID, participantID)
	if err != nil {
		return "", false, err
	}
	if stored == "" {
		return "", false, errors.NewInternalError("participant id not persisted", nil)
	}
	primary.ExternalParticipantID = &stored
	return stored, stored == participantID, nil
}
