// internal/registry/models.go
package registry

// CreateCaseRequest opens a case for an application package.
type CreateCaseRequest struct {
	ExternalReference string `json:"externalReference" validate:"required"`
	OwnerID           string `json:"ownerId" validate:"required"`
	Subtype           string `json:"subtype" validate:"required"`
	SubSubtype        string `json:"subSubtype,omitempty"`
	HasPartner        bool   `json:"hasPartner"`
	HasHousehold      bool   `json:"hasHousehold"`
	ApplicantName     string `json:"applicantName,omitempty"`
	ApplicantEmail    string `json:"applicantEmail,omitempty" validate:"omitempty,email"`
}

// CreateParticipantRequest registers a household member on a case.
type CreateParticipantRequest struct {
	CaseID            string `json:"caseId" validate:"required"`
	ExternalReference string `json:"externalReference" validate:"required"`
	Role              string `json:"role" validate:"required,oneof=primary member"`
	FirstName         string `json:"firstName" validate:"required"`
	LastName          string `json:"lastName" validate:"required"`
	DateOfBirth       string `json:"dateOfBirth,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Email             string `json:"email,omitempty" validate:"omitempty,email"`
	Phone             string `json:"phone,omitempty"`
}

type updateStageRequest struct {
	Stage string `json:"stage" validate:"required"`
}

type createdResponse struct {
	ID string `json:"id"`
}

// Case is one search result.
type Case struct {
	ID     string `json:"id"`
	Stage  string `json:"stage"`
	Status string `json:"status,omitempty"`
}

type searchResponse struct {
	Items []Case `json:"items"`
}

const (
	RolePrimary = "primary"
	RoleMember  = "member"
)
