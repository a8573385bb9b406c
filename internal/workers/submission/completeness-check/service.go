package completenesscheck

import (
	"context"
	"fmt"
	"strings"
	"time"

	"package-orchestrator/internal/models"
)

// HouseholdReader provides the dependent records the evaluator inspects.
type HouseholdReader interface {
	ListMembers(ctx context.Context, packageID string) ([]models.HouseholdMember, error)
	ListForms(ctx context.Context, packageID string) ([]models.Form, error)
}

// Evaluator decides whether a package may advance to Ready. It has no side
// effects and stops at the first failing check.
type Evaluator struct {
	household    HouseholdReader
	screeningAge int
	now          func() time.Time
}

func NewEvaluator(household HouseholdReader, screeningAge int) *Evaluator {
	return &Evaluator{
		household:    household,
		screeningAge: screeningAge,
		now:          time.Now,
	}
}

func (e *Evaluator) Evaluate(ctx context.Context, pkg *models.ApplicationPackage) (models.CompletenessResult, error) {
	members, err := e.household.ListMembers(ctx, pkg.ID)
	if err != nil {
		return models.CompletenessResult{}, err
	}

	primary := models.FindPrimary(members)
	if primary == nil {
		return integrity(pkg, CheckPrimaryApplicant, "primary applicant (relationshipToPrimary=Self) not found"), nil
	}

	forms, err := e.household.ListForms(ctx, pkg.ID)
	if err != nil {
		return models.CompletenessResult{}, err
	}
	if r, ok := checkForms(pkg, primary, forms); !ok {
		return r, nil
	}
	if r, ok := checkHousehold(pkg, members); !ok {
		return r, nil
	}
	if r, ok := e.checkScreening(pkg, members); !ok {
		return r, nil
	}

	return models.CompletenessResult{IsComplete: true, Status: pkg.Status}, nil
}

func checkForms(pkg *models.ApplicationPackage, primary *models.HouseholdMember, forms []models.Form) (models.CompletenessResult, bool) {
	found := 0
	for _, f := range forms {
		if f.MemberID != primary.ID || f.FormType == models.FormTypeReferral || f.FormType == models.FormTypeHousehold {
			continue
		}
		found++
		if f.Status != models.FormComplete {
			return incomplete(pkg, CheckForms, fmt.Sprintf("form %s is %s", f.FormType, f.Status)), false
		}
	}
	if found == 0 {
		return incomplete(pkg, CheckForms, "no application forms found for primary applicant"), false
	}
	return models.CompletenessResult{}, true
}

func checkHousehold(pkg *models.ApplicationPackage, members []models.HouseholdMember) (models.CompletenessResult, bool) {
	var partners, others []models.HouseholdMember
	for _, m := range members {
		switch {
		case m.Relationship == models.RelationshipSelf:
		case m.Relationship.IsPartner():
			partners = append(partners, m)
		default:
			others = append(others, m)
		}
	}

	switch {
	case pkg.HasPartner && len(partners) == 0:
		return integrity(pkg, CheckHousehold, "partner missing: hasPartner is true but no Spouse or Partner member exists"), false
	case pkg.HasPartner && len(partners) > 1:
		return integrity(pkg, CheckHousehold, fmt.Sprintf("expected exactly one partner, found %d", len(partners))), false
	case !pkg.HasPartner && len(partners) > 0:
		return integrity(pkg, CheckHousehold, "partner data present but hasPartner is false"), false
	}
	if pkg.HasPartner {
		if missing := partners[0].MissingFields(); len(missing) > 0 {
			return incomplete(pkg, CheckHousehold, "partner record incomplete: missing "+strings.Join(missing, ", ")), false
		}
	}

	switch {
	case pkg.HasHousehold && len(others) == 0:
		return integrity(pkg, CheckHousehold, "household members missing: hasHousehold is true but only the applicant and partner exist"), false
	case !pkg.HasHousehold && len(others) > 0:
		return integrity(pkg, CheckHousehold, "household member data present but hasHousehold is false"), false
	}
	for _, m := range others {
		if missing := m.MissingFields(); len(missing) > 0 {
			return incomplete(pkg, CheckHousehold, fmt.Sprintf("household member %s incomplete: missing %s", m.ID, strings.Join(missing, ", "))), false
		}
	}
	return models.CompletenessResult{}, true
}

func (e *Evaluator) checkScreening(pkg *models.ApplicationPackage, members []models.HouseholdMember) (models.CompletenessResult, bool) {
	today := e.now()
	for _, m := range members {
		if m.Relationship == models.RelationshipSelf || m.ScreeningInfoProvided {
			continue
		}
		if m.AgeOn(today) >= e.screeningAge {
			return incomplete(pkg, CheckScreening, fmt.Sprintf("screening info missing for member %s", m.ID)), false
		}
	}
	return models.CompletenessResult{}, true
}

func incomplete(pkg *models.ApplicationPackage, check, reason string) models.CompletenessResult {
	return models.CompletenessResult{Status: pkg.Status, Check: check, Reason: reason}
}

func integrity(pkg *models.ApplicationPackage, check, reason string) models.CompletenessResult {
	r := incomplete(pkg, check, reason)
	r.DataIntegrity = true
	return r
}
