package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"package-orchestrator/internal/audit"
	"package-orchestrator/internal/common/errors"
	"package-orchestrator/internal/models"
	"package-orchestrator/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPackageStore struct {
	mock.Mock
}

func (m *MockPackageStore) Get(ctx context.Context, id string) (*models.ApplicationPackage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ApplicationPackage), args.Error(1)
}

func (m *MockPackageStore) ResetSubmission(ctx context.Context, id string) (models.PackageStatus, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.PackageStatus), args.Error(1)
}

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, jobType models.JobType, payload models.JobPayload, _ ...queue.EnqueueOption) (queue.EnqueueResult, error) {
	args := m.Called(ctx, jobType, payload)
	return args.Get(0).(queue.EnqueueResult), args.Error(1)
}

func (m *MockQueue) ListPending(ctx context.Context, types ...models.JobType) ([]models.Job, error) {
	args := m.Called(ctx, types)
	return args.Get(0).([]models.Job), args.Error(1)
}

type MockHousehold struct {
	members []models.HouseholdMember
	forms   []models.Form
}

func (m *MockHousehold) ListMembers(context.Context, string) ([]models.HouseholdMember, error) {
	return m.members, nil
}

func (m *MockHousehold) ListForms(context.Context, string) ([]models.Form, error) {
	return m.forms, nil
}

type MockTriggers struct {
	scans, stageChecks int
}

func (m *MockTriggers) TriggerScan(context.Context) (queue.EnqueueResult, error) {
	m.scans++
	return queue.EnqueueResult{JobID: "scan-1"}, nil
}

func (m *MockTriggers) TriggerStageCheck(context.Context) (queue.EnqueueResult, error) {
	m.stageChecks++
	return queue.EnqueueResult{JobID: "stage-1", Duplicate: true}, nil
}

type staticHistory []audit.Event

func (h staticHistory) History(context.Context, string, int) ([]audit.Event, error) {
	return h, nil
}

func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(a, func(context.Context, *app) error { return nil })
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResetSubmission_EnqueuesJobForStatus(t *testing.T) {
	tests := []struct {
		status  models.PackageStatus
		jobType models.JobType
	}{
		{models.StatusReady, models.JobSubmission},
		{models.StatusReferralRequested, models.JobSubmitReferral},
		{models.StatusAwaitingConsent, models.JobCompletenessCheck},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			packages := &MockPackageStore{}
			packages.On("ResetSubmission", mock.Anything, "pkg-1").Return(tt.status, nil)
			q := &MockQueue{}
			q.On("Enqueue", mock.Anything, tt.jobType, models.JobPayload{PackageID: "pkg-1", Reason: reasonOperator}).
				Return(queue.EnqueueResult{JobID: "job-9"}, nil)

			out, err := run(t, &app{packages: packages, queue: q}, "reset-submission", "--id", "pkg-1")
			require.NoError(t, err)
			assert.Contains(t, out, "job-9")
			q.AssertExpectations(t)
		})
	}
}

func TestResetSubmission_NothingToReset(t *testing.T) {
	packages := &MockPackageStore{}
	packages.On("ResetSubmission", mock.Anything, "pkg-1").Return(models.PackageStatus(""), nil)
	q := &MockQueue{}

	out, err := run(t, &app{packages: packages, queue: q}, "reset-submission", "--id", "pkg-1")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to reset")
	q.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
}

func TestResetSubmission_RequiresID(t *testing.T) {
	_, err := run(t, &app{}, "reset-submission")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id")
}

func TestEnqueueCheck_Duplicate(t *testing.T) {
	q := &MockQueue{}
	q.On("Enqueue", mock.Anything, models.JobCompletenessCheck, mock.Anything).
		Return(queue.EnqueueResult{JobID: "job-1", Duplicate: true}, nil)

	out, err := run(t, &app{queue: q}, "enqueue-check", "--id", "pkg-1")
	require.NoError(t, err)
	assert.Contains(t, out, "already queued")
}

func TestPending(t *testing.T) {
	q := &MockQueue{}
	q.On("ListPending", mock.Anything, []models.JobType{models.JobSubmission}).Return([]models.Job{{
		ID:           "job-1",
		Type:         models.JobSubmission,
		State:        models.JobDelayed,
		Payload:      models.JobPayload{PackageID: "pkg-1"},
		AttemptsMade: 3,
		Policy:       models.RetryPolicy{MaxAttempts: 16},
	}}, nil)

	out, err := run(t, &app{queue: q}, "pending", "--type", "submission")
	require.NoError(t, err)
	assert.Contains(t, out, "pkg-1")
	assert.Contains(t, out, "attempts=3/16")
}

func TestPending_UnknownType(t *testing.T) {
	_, err := run(t, &app{queue: &MockQueue{}}, "pending", "--type", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job type")
}

func TestTrigger(t *testing.T) {
	tr := &MockTriggers{}
	a := &app{triggers: tr}

	out, err := run(t, a, "trigger", "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "scan-1")

	out, err = run(t, a, "trigger", "stage-check")
	require.NoError(t, err)
	assert.Contains(t, out, "already queued")

	_, err = run(t, a, "trigger", "everything")
	require.Error(t, err)
	assert.Equal(t, 1, tr.scans)
	assert.Equal(t, 1, tr.stageChecks)
}

func TestInspect(t *testing.T) {
	pkg := &models.ApplicationPackage{ID: "pkg-1", Status: models.StatusAwaitingConsent, HasPartner: true}
	packages := &MockPackageStore{}
	packages.On("Get", mock.Anything, "pkg-1").Return(pkg, nil)
	dob := time.Date(1980, 1, 2, 0, 0, 0, 0, time.UTC)
	household := &MockHousehold{
		members: []models.HouseholdMember{{ID: "m-1", Relationship: models.RelationshipSelf, FirstName: "Ada", LastName: "Lovelace", DateOfBirth: &dob}},
		forms:   []models.Form{{ID: "f-1", MemberID: "m-1", FormType: "application", Status: models.FormComplete}},
	}
	history := staticHistory{{Kind: audit.KindDataIntegrity, PackageID: "pkg-1"}}

	out, err := run(t, &app{packages: packages, household: household, history: history, screeningAge: 18}, "inspect", "--id", "pkg-1")
	require.NoError(t, err)

	var report inspection
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Completeness.IsComplete)
	assert.True(t, report.Completeness.DataIntegrity)
	assert.Contains(t, report.Completeness.Reason, "partner")
	assert.Len(t, report.Events, 1)
	packages.AssertNotCalled(t, "ResetSubmission", mock.Anything, mock.Anything)
}

type MockScreening struct {
	MarkFunc func(ctx context.Context, memberID string) (string, error)
}

func (m *MockScreening) MarkScreeningProvided(ctx context.Context, memberID string) (string, error) {
	return m.MarkFunc(ctx, memberID)
}

func TestMarkScreening_QueuesCompletenessCheck(t *testing.T) {
	screening := &MockScreening{MarkFunc: func(_ context.Context, memberID string) (string, error) {
		assert.Equal(t, "m-2", memberID)
		return "pkg-1", nil
	}}
	q := &MockQueue{}
	q.On("Enqueue", mock.Anything, models.JobCompletenessCheck, models.JobPayload{PackageID: "pkg-1", Reason: reasonOperator}).
		Return(queue.EnqueueResult{JobID: "job-4"}, nil)

	out, err := run(t, &app{screening: screening, queue: q}, "mark-screening", "--member", "m-2")
	require.NoError(t, err)
	assert.Contains(t, out, "member m-2 screening provided (package pkg-1)")
	assert.Contains(t, out, "completeness-check job job-4")
	q.AssertExpectations(t)
}

func TestMarkScreening_UnknownMemberQueuesNothing(t *testing.T) {
	screening := &MockScreening{MarkFunc: func(context.Context, string) (string, error) {
		return "", errors.NewDataIntegrityError("", "household member m-404 not found")
	}}
	q := &MockQueue{}

	_, err := run(t, &app{screening: screening, queue: q}, "mark-screening", "--member", "m-404")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDataIntegrity, errors.CodeOf(err))
	q.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkScreening_RequiresMember(t *testing.T) {
	_, err := run(t, &app{}, "mark-screening")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "member")
}
