// internal/store/household.go
package store

import (
	"context"
	"database/sql"

	"package-orchestrator/internal/common/errors"
	"package-orchestrator/internal/models"
)

type HouseholdStore struct {
	db *sql.DB
}

func NewHouseholdStore(db *sql.DB) *HouseholdStore {
	return &HouseholdStore{db: db}
}

func (s *HouseholdStore) ListMembers(ctx context.Context, packageID string) ([]models.HouseholdMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, package_id, relationship, first_name, last_name, date_of_birth,
		       email, phone, screening_info_provided, external_participant_id
		FROM household_members
		WHERE package_id = $1
		ORDER BY created_at, id`, packageID)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("list members", err)
	}
	defer rows.Close()

	var members []models.HouseholdMember
	for rows.Next() {
		var (
			m             models.HouseholdMember
			dob           sql.NullTime
			participantID sql.NullString
		)
		err := rows.Scan(&m.ID, &m.PackageID, &m.Relationship, &m.FirstName, &m.LastName, &dob,
			&m.Email, &m.Phone, &m.ScreeningInfoProvided, &participantID)
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError("list members", err)
		}
		if dob.Valid {
			m.DateOfBirth = &dob.Time
		}
		if participantID.Valid {
			m.ExternalParticipantID = &participantID.String
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("list members", err)
	}
	return members, nil
}

func (s *HouseholdStore) ListForms(ctx context.Context, packageID string) ([]models.Form, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, package_id, member_id, form_type, status, updated_at
		FROM package_forms
		WHERE package_id = $1
		ORDER BY id`, packageID)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("list forms", err)
	}
	defer rows.Close()

	var forms []models.Form
	for rows.Next() {
		var f models.Form
		if err := rows.Scan(&f.ID, &f.PackageID, &f.MemberID, &f.FormType, &f.Status, &f.UpdatedAt); err != nil {
			return nil, errors.NewQueryExecutionFailedError("list forms", err)
		}
		forms = append(forms, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("list forms", err)
	}
	return forms, nil
}

// SetParticipantID records the registry participant id for a member unless one
// is already set, and returns the id persisted afterwards.
func (s *HouseholdStore) SetParticipantID(ctx context.Context, memberID, participantID string) (string, error) {
	var stored string
	err := s.db.QueryRowContext(ctx, `
		UPDATE household_members
		SET external_participant_id = $2, updated_at = NOW()
		WHERE id = $1 AND external_participant_id IS NULL
		RETURNING external_participant_id`, memberID, participantID).Scan(&stored)
	if err == nil {
		return stored, nil
	}
	if err != sql.ErrNoRows {
		return "", errors.NewQueryExecutionFailedError("set participant id", err)
	}

	var existing sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT external_participant_id FROM household_members WHERE id = $1`, memberID).Scan(&existing)
	if err == sql.ErrNoRows {
		return "", errors.NewDataIntegrityError("", "household member "+memberID+" not found")
	}
	if err != nil {
		return "", errors.NewQueryExecutionFailedError("get participant id", err)
	}
	return existing.String, nil
}

// MarkScreeningProvided sets a member's screening flag and returns the
// package the member belongs to.
func (s *HouseholdStore) MarkScreeningProvided(ctx context.Context, memberID string) (string, error) {
	var packageID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE household_members
		SET screening_info_provided = TRUE, updated_at = NOW()
		WHERE id = $1
		RETURNING package_id`, memberID).Scan(&packageID)
	if err == sql.ErrNoRows {
		return "", errors.NewDataIntegrityError("", "household member "+memberID+" not found")
	}
	if err != nil {
		return "", errors.NewQueryExecutionFailedError("mark screening provided", err)
	}
	return packageID, nil
}
