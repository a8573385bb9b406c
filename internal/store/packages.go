// internal/store/packages.go
package store

import (
	"context"
	"database/sql"
	"time"

	"package-orchestrator/internal/common/database"
	"package-orchestrator/internal/common/errors"
	"package-orchestrator/internal/models"

	"github.com/lib/pq"
)

const packageColumns = `
	id, owner_id, subtype, sub_subtype, status, has_partner, has_household,
	external_case_id, external_case_stage, submission_status, submission_attempts,
	last_submission_attempt, COALESCE(last_submission_error, ''), submitted_at,
	created_at, updated_at`

// PackageStore persists application packages. Every write touches only the
// columns it owns so concurrent writers never clobber each other.
type PackageStore struct {
	db *sql.DB
}

func NewPackageStore(db *sql.DB) *PackageStore {
	return &PackageStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPackage(row rowScanner) (*models.ApplicationPackage, error) {
	var (
		p                      models.ApplicationPackage
		caseID, caseStage      sql.NullString
		lastAttempt, submitted sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.Subtype, &p.SubSubtype, &p.Status, &p.HasPartner, &p.HasHousehold,
		&caseID, &caseStage, &p.SubmissionStatus, &p.SubmissionAttempts,
		&lastAttempt, &p.LastSubmissionError, &submitted,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if caseID.Valid {
		p.ExternalCaseID = &caseID.String
	}
	if caseStage.Valid {
		p.ExternalCaseStage = &caseStage.String
	}
	if lastAttempt.Valid {
		p.LastSubmissionAttempt = &lastAttempt.Time
	}
	if submitted.Valid {
		p.SubmittedAt = &submitted.Time
	}
	return &p, nil
}

// Get loads a package. A missing package is PACKAGE_NOT_FOUND.
func (s *PackageStore) Get(ctx context.Context, id string) (*models.ApplicationPackage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM application_packages WHERE id = $1`, id)
	p, err := scanPackage(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewPackageNotFoundError(id)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get package", err)
	}
	return p, nil
}

// TransitionToReady moves an AwaitingConsent package to Ready with a pending
// submission and calls enqueue inside the same transaction. If enqueue fails
// the status change is rolled back. It returns false when the package was no
// longer AwaitingConsent.
func (s *PackageStore) TransitionToReady(ctx context.Context, id string, enqueue func(ctx context.Context) error) (bool, error) {
	transitioned := false
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE application_packages
			SET status = $2, submission_status = $3, updated_at = NOW()
			WHERE id = $1 AND status = $4`,
			id, models.StatusReady, models.SubmissionPending, models.StatusAwaitingConsent)
		if err != nil {
			return errors.NewQueryExecutionFailedError("transition to ready", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.NewQueryExecutionFailedError("transition to ready", err)
		}
		if n == 0 {
			return nil
		}
		if err := enqueue(ctx); err != nil {
			return err
		}
		transitioned = true
		return nil
	})
	if err != nil {
		if _, ok := errors.AsStandardError(err); ok {
			return false, err
		}
		return false, errors.NewQueryExecutionFailedError("transition to ready", err)
	}
	return transitioned, nil
}

// SetExternalCaseID records the registry case id unless one is already set,
// and returns the id that is persisted afterwards.
func (s *PackageStore) SetExternalCaseID(ctx context.Context, id, caseID string) (string, error) {
	var stored string
	err := s.db.QueryRowContext(ctx, `
		UPDATE application_packages
		SET external_case_id = $2, updated_at = NOW()
		WHERE id = $1 AND external_case_id IS NULL
		RETURNING external_case_id`, id, caseID).Scan(&stored)
	if err == nil {
		return stored, nil
	}
	if err != sql.ErrNoRows {
		return "", errors.NewQueryExecutionFailedError("set external case id", err)
	}

	var existing sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT external_case_id FROM application_packages WHERE id = $1`, id).Scan(&existing)
	if err == sql.ErrNoRows {
		return "", errors.NewPackageNotFoundError(id)
	}
	if err != nil {
		return "", errors.NewQueryExecutionFailedError("get external case id", err)
	}
	return existing.String, nil
}

// RecordSubmissionError stores a failed attempt. Packages already marked
// failed keep that status.
func (s *PackageStore) RecordSubmissionError(ctx context.Context, id string, attempts int, at time.Time, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE application_packages
		SET submission_status = $2, submission_attempts = $3, last_submission_attempt = $4,
		    last_submission_error = $5, updated_at = NOW()
		WHERE id = $1 AND submission_status <> $6`,
		id, models.SubmissionError, attempts, at, models.TruncateError(message), models.SubmissionFailed)
	if err != nil {
		return errors.NewQueryExecutionFailedError("record submission error", err)
	}
	return nil
}

// MarkSubmitted completes a Ready package. It returns false when the package
// was no longer Ready.
func (s *PackageStore) MarkSubmitted(ctx context.Context, id, stage string, attempts int, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE application_packages
		SET status = $2, submission_status = $3, external_case_stage = $4, submission_attempts = $5,
		    last_submission_attempt = $6, submitted_at = $6, last_submission_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $7`,
		id, models.StatusSubmitted, models.SubmissionSuccess, stage, attempts, at, models.StatusReady)
	return affected(res, err, "mark submitted")
}

// MarkReferralSubmitted records a successful referral without touching status.
func (s *PackageStore) MarkReferralSubmitted(ctx context.Context, id, stage string, attempts int, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE application_packages
		SET submission_status = $2, external_case_stage = $3, submission_attempts = $4,
		    last_submission_attempt = $5, last_submission_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $6`,
		id, models.SubmissionSuccess, stage, attempts, at, models.StatusReferralRequested)
	return affected(res, err, "mark referral submitted")
}

// MarkSubmissionFailed flags a package whose submission ran out of attempts.
// Only an operator reset clears it.
func (s *PackageStore) MarkSubmissionFailed(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE application_packages
		SET submission_status = $2, last_submission_error = $3, updated_at = NOW()
		WHERE id = $1`,
		id, models.SubmissionFailed, models.TruncateError(message))
	if err != nil {
		return errors.NewQueryExecutionFailedError("mark submission failed", err)
	}
	return nil
}

// ResetSubmission clears a failed or errored submission back to pending and
// returns the package status, or "" when nothing needed resetting.
func (s *PackageStore) ResetSubmission(ctx context.Context, id string) (models.PackageStatus, error) {
	var status models.PackageStatus
	err := s.db.QueryRowContext(ctx, `
		UPDATE application_packages
		SET submission_status = $2, submission_attempts = 0, last_submission_error = NULL, updated_at = NOW()
		WHERE id = $1 AND submission_status = ANY($3)
		RETURNING status`,
		id, models.SubmissionPending, pq.Array([]string{string(models.SubmissionFailed), string(models.SubmissionError)}),
	).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.NewQueryExecutionFailedError("reset submission", err)
	}
	return status, nil
}

// ListForScan returns ids of packages in status whose submission status is one of statuses.
func (s *PackageStore) ListForScan(ctx context.Context, status models.PackageStatus, statuses []models.SubmissionStatus) ([]string, error) {
	return s.listIDs(ctx, "list for scan", `
		SELECT id FROM application_packages
		WHERE status = $1 AND submission_status = ANY($2)
		ORDER BY updated_at`, status, pq.Array(submissionStrings(statuses)))
}

// ListReferralCandidates returns referral packages that have no registry case yet.
func (s *PackageStore) ListReferralCandidates(ctx context.Context, statuses []models.SubmissionStatus) ([]string, error) {
	return s.listIDs(ctx, "list referral candidates", `
		SELECT id FROM application_packages
		WHERE status = $1 AND external_case_id IS NULL AND submission_status = ANY($2)
		ORDER BY updated_at`, models.StatusReferralRequested, pq.Array(submissionStrings(statuses)))
}

// ListTracked returns packages that have a registry case to reconcile.
func (s *PackageStore) ListTracked(ctx context.Context) ([]models.TrackedCase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_case_id, COALESCE(external_case_stage, '')
		FROM application_packages
		WHERE external_case_id IS NOT NULL AND status <> ALL($1)
		ORDER BY id`,
		pq.Array([]string{string(models.StatusWithdrawn), string(models.StatusArchived)}))
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("list tracked", err)
	}
	defer rows.Close()

	var tracked []models.TrackedCase
	for rows.Next() {
		var tc models.TrackedCase
		if err := rows.Scan(&tc.PackageID, &tc.ExternalCaseID, &tc.LocalStage); err != nil {
			return nil, errors.NewQueryExecutionFailedError("list tracked", err)
		}
		tracked = append(tracked, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("list tracked", err)
	}
	return tracked, nil
}

// UpdateExternalStage writes only the mirrored registry stage.
func (s *PackageStore) UpdateExternalStage(ctx context.Context, id, stage string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE application_packages
		SET external_case_stage = $2, updated_at = NOW()
		WHERE id = $1`, id, stage)
	if err != nil {
		return errors.NewQueryExecutionFailedError("update external stage", err)
	}
	return nil
}

func (s *PackageStore) listIDs(ctx context.Context, op, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError(op, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewQueryExecutionFailedError(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError(op, err)
	}
	return ids, nil
}

func affected(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, errors.NewQueryExecutionFailedError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewQueryExecutionFailedError(op, err)
	}
	return n > 0, nil
}

func submissionStrings(statuses []models.SubmissionStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
