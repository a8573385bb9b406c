// internal/models/package.go
package models

import "time"

// PackageStatus is the lifecycle status of an application package.
type PackageStatus string

const (
	StatusDraft             PackageStatus = "Draft"
	StatusReferralRequested PackageStatus = "ReferralRequested"
	StatusApplication       PackageStatus = "Application"
	StatusAwaitingConsent   PackageStatus = "AwaitingConsent"
	StatusReady             PackageStatus = "Ready"
	StatusSubmitted         PackageStatus = "Submitted"
	StatusReturned          PackageStatus = "Returned"
	StatusWithdrawn         PackageStatus = "Withdrawn"
	StatusArchived          PackageStatus = "Archived"
)

// SubmissionStatus tracks the registry submission separately from the lifecycle status.
type SubmissionStatus string

const (
	SubmissionNone    SubmissionStatus = ""
	SubmissionPending SubmissionStatus = "pending"
	SubmissionSuccess SubmissionStatus = "success"
	SubmissionError   SubmissionStatus = "error"
	SubmissionFailed  SubmissionStatus = "failed"
)

// MaxSubmissionErrorLength bounds the persisted last_submission_error text.
const MaxSubmissionErrorLength = 500

// ScanSubmissionStatuses are the submission statuses the periodic scan picks up.
// Failed packages are excluded until an operator resets them.
var ScanSubmissionStatuses = []SubmissionStatus{SubmissionPending, SubmissionError}

type ApplicationPackage struct {
	ID                    string           `json:"id"`
	OwnerID               string           `json:"ownerId"`
	Subtype               string           `json:"subtype"`
	SubSubtype            string           `json:"subSubtype"`
	Status                PackageStatus    `json:"status"`
	HasPartner            bool             `json:"hasPartner"`
	HasHousehold          bool             `json:"hasHousehold"`
	ExternalCaseID        *string          `json:"externalCaseId,omitempty"`
	ExternalCaseStage     *string          `json:"externalCaseStage,omitempty"`
	SubmissionStatus      SubmissionStatus `json:"submissionStatus"`
	SubmissionAttempts    int              `json:"submissionAttempts"`
	LastSubmissionAttempt *time.Time       `json:"lastSubmissionAttempt,omitempty"`
	LastSubmissionError   string           `json:"lastSubmissionError,omitempty"`
	SubmittedAt           *time.Time       `json:"submittedAt,omitempty"`
	CreatedAt             time.Time        `json:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
}

// CaseID returns the external case id or "" when the case has not been created.
func (p *ApplicationPackage) CaseID() string {
	if p.ExternalCaseID == nil {
		return ""
	}
	return *p.ExternalCaseID
}

// Stage returns the locally mirrored registry stage or "".
func (p *ApplicationPackage) Stage() string {
	if p.ExternalCaseStage == nil {
		return ""
	}
	return *p.ExternalCaseStage
}

// CompletenessResult is produced by the completeness evaluator and never persisted.
type CompletenessResult struct {
	IsComplete bool          `json:"isComplete"`
	Status     PackageStatus `json:"status"`
	// Reason is the first blocking issue, empty when complete.
	Reason        string `json:"reason,omitempty"`
	Check         string `json:"check,omitempty"`
	DataIntegrity bool   `json:"dataIntegrity,omitempty"`
}

// TrackedCase is a package whose registry case stage is mirrored locally.
type TrackedCase struct {
	PackageID      string `json:"packageId"`
	ExternalCaseID string `json:"externalCaseId"`
	LocalStage     string `json:"localStage"`
}

// TruncateError bounds an error message to MaxSubmissionErrorLength runes.
func TruncateError(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxSubmissionErrorLength {
		return msg
	}
	return string(r[:MaxSubmissionErrorLength])
}
