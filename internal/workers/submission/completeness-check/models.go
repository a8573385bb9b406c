package completenesscheck

import "package-orchestrator/internal/models"

type Input struct {
	PackageID string `json:"packageId"`
}

type Output struct {
	PackageID     string               `json:"packageId"`
	IsComplete    bool                 `json:"isComplete"`
	Status        models.PackageStatus `json:"status"`
	Reason        string               `json:"reason,omitempty"`
	DataIntegrity bool                 `json:"dataIntegrity,omitempty"`
	// Skipped is set when the package was not AwaitingConsent.
	Skipped bool `json:"skipped,omitempty"`
}

// Check names, in evaluation order.
const (
	CheckPrimaryApplicant = "primary_applicant"
	CheckForms            = "forms"
	CheckHousehold        = "household"
	CheckScreening        = "screening"
)
