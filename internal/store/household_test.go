package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"package-orchestrator/internal/common/errors"
	"package-orchestrator/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHouseholdStore_ListMembers(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewHouseholdStore(db)

	dob := time.Date(1985, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM household_members\s+WHERE package_id = \$1`).
		WithArgs("pkg-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "package_id", "relationship", "first_name", "last_name", "date_of_birth",
			"email", "phone", "screening_info_provided", "external_participant_id",
		}).
			AddRow("m-1", "pkg-1", "Self", "Ada", "Lovelace", dob, "ada@example.com", "+15550100", true, "P1").
			AddRow("m-2", "pkg-1", "Child", "Byron", "Lovelace", nil, "", "", false, nil))

	members, err := s.ListMembers(context.Background(), "pkg-1")
	require.NoError(t, err)
	require.Len(t, members, 2)

	assert.Equal(t, models.RelationshipSelf, members[0].Relationship)
	assert.Equal(t, "P1", members[0].ParticipantID())
	require.NotNil(t, members[0].DateOfBirth)
	assert.True(t, dob.Equal(*members[0].DateOfBirth))

	assert.Nil(t, members[1].DateOfBirth)
	assert.Empty(t, members[1].ParticipantID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHouseholdStore_ListForms(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewHouseholdStore(db)

	now := time.Now()
	mock.ExpectQuery(`FROM package_forms`).
		WithArgs("pkg-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "package_id", "member_id", "form_type", "status", "updated_at"}).
			AddRow("f-1", "pkg-1", "m-1", "application", "Complete", now).
			AddRow("f-2", "pkg-1", "m-1", "referral", "InProgress", now))

	forms, err := s.ListForms(context.Background(), "pkg-1")
	require.NoError(t, err)
	require.Len(t, forms, 2)
	assert.Equal(t, models.FormComplete, forms[0].Status)
	assert.Equal(t, models.FormTypeReferral, forms[1].FormType)
}

func TestHouseholdStore_SetParticipantID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewHouseholdStore(db)

	mock.ExpectQuery(`UPDATE household_members`).
		WithArgs("m-1", "P2").
		WillReturnRows(sqlmock.NewRows([]string{"external_participant_id"}))
	mock.ExpectQuery(`SELECT external_participant_id FROM household_members`).
		WithArgs("m-1").
		WillReturnRows(sqlmock.NewRows([]string{"external_participant_id"}).AddRow("P1"))

	id, err := s.SetParticipantID(context.Background(), "m-1", "P2")
	require.NoError(t, err)
	assert.Equal(t, "P1", id)

	mock.ExpectQuery(`UPDATE household_members`).
		WithArgs("m-404", "P3").
		WillReturnRows(sqlmock.NewRows([]string{"external_participant_id"}))
	mock.ExpectQuery(`SELECT external_participant_id FROM household_members`).
		WithArgs("m-404").
		WillReturnRows(sqlmock.NewRows([]string{"external_participant_id"}))

	_, err = s.SetParticipantID(context.Background(), "m-404", "P3")
	assert.Equal(t, errors.ErrCodeDataIntegrity, errors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHouseholdStore_MarkScreeningProvided(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewHouseholdStore(db)

	mock.ExpectQuery(`UPDATE household_members\s+SET screening_info_provided = TRUE`).
		WithArgs("m-2").
		WillReturnRows(sqlmock.NewRows([]string{"package_id"}).AddRow("pkg-1"))

	packageID, err := s.MarkScreeningProvided(context.Background(), "m-2")
	require.NoError(t, err)
	assert.Equal(t, "pkg-1", packageID)

	mock.ExpectQuery(`UPDATE household_members`).
		WithArgs("m-404").
		WillReturnRows(sqlmock.NewRows([]string{"package_id"}))

	_, err = s.MarkScreeningProvided(context.Background(), "m-404")
	assert.Equal(t, errors.ErrCodeDataIntegrity, errors.CodeOf(err))

	mock.ExpectQuery(`UPDATE household_members`).
		WithArgs("m-3").
		WillReturnError(sql.ErrConnDone)

	_, err = s.MarkScreeningProvided(context.Background(), "m-3")
	assert.Equal(t, errors.ErrCodeQueryExecutionFailed, errors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
