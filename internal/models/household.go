// internal/models/household.go
package models

import (
	"strings"
	"time"
)

type Relationship string

const (
	RelationshipSelf    Relationship = "Self"
	RelationshipSpouse  Relationship = "Spouse"
	RelationshipPartner Relationship = "Partner"
	RelationshipChild   Relationship = "Child"
	RelationshipParent  Relationship = "Parent"
	RelationshipSibling Relationship = "Sibling"
	RelationshipOther   Relationship = "Other"
)

// IsPartner reports whether the relationship counts as the applicant's partner.
func (r Relationship) IsPartner() bool {
	return r == RelationshipSpouse || r == RelationshipPartner
}

type HouseholdMember struct {
	ID                    string       `json:"id"`
	PackageID             string       `json:"packageId"`
	Relationship          Relationship `json:"relationshipToPrimary"`
	FirstName             string       `json:"firstName"`
	LastName              string       `json:"lastName"`
	DateOfBirth           *time.Time   `json:"dateOfBirth,omitempty"`
	Email                 string       `json:"email,omitempty"`
	Phone                 string       `json:"phone,omitempty"`
	ScreeningInfoProvided bool         `json:"screeningInfoProvided"`
	ExternalParticipantID *string      `json:"externalParticipantId,omitempty"`
}

func (m *HouseholdMember) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// MissingFields lists the required fields that are empty on the member record.
func (m *HouseholdMember) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(m.FirstName) == "" {
		missing = append(missing, "firstName")
	}
	if strings.TrimSpace(m.LastName) == "" {
		missing = append(missing, "lastName")
	}
	if m.DateOfBirth == nil || m.DateOfBirth.IsZero() {
		missing = append(missing, "dateOfBirth")
	}
	if m.Relationship == "" {
		missing = append(missing, "relationshipToPrimary")
	}
	return missing
}

// AgeOn returns the member's age in whole years on the given day, or -1 without a date of birth.
func (m *HouseholdMember) AgeOn(day time.Time) int {
	if m.DateOfBirth == nil || m.DateOfBirth.IsZero() {
		return -1
	}
	dob := m.DateOfBirth.UTC()
	day = day.UTC()
	age := day.Year() - dob.Year()
	if day.Month() < dob.Month() || (day.Month() == dob.Month() && day.Day() < dob.Day()) {
		age--
	}
	return age
}

func (m *HouseholdMember) ParticipantID() string {
	if m.ExternalParticipantID == nil {
		return ""
	}
	return *m.ExternalParticipantID
}

// FindPrimary returns the member whose relationship is Self, or nil.
func FindPrimary(members []HouseholdMember) *HouseholdMember {
	for i := range members {
		if members[i].Relationship == RelationshipSelf {
			return &members[i]
		}
	}
	return nil
}

type FormStatus string

const (
	FormNotStarted FormStatus = "NotStarted"
	FormInProgress FormStatus = "InProgress"
	FormComplete   FormStatus = "Complete"
)

// Form types that the completeness check ignores.
const (
	FormTypeReferral  = "referral"
	FormTypeHousehold = "household"
)

type Form struct {
	ID        string     `json:"id"`
	PackageID string     `json:"packageId"`
	MemberID  string     `json:"memberId"`
	FormType  string     `json:"formType"`
	Status    FormStatus `json:"status"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
