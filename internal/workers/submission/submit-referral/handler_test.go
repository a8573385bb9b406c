package submitreferral

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"package-orchestrator/internal/audit"
	"package-orchestrator/internal/common/errors"
	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/models"
	"package-orchestrator/internal/notification"
	"package-orchestrator/internal/registry"

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

func (m *MockPackageStore) SetExternalCaseID(ctx context.Context, id, caseID string) (string, error) {
	args := m.Called(ctx, id, caseID)
	return args.String(0), args.Error(1)
}

func (m *MockPackageStore) MarkReferralSubmitted(ctx context.Context, id, stage string, attempts int, at time.Time) (bool, error) {
	args := m.Called(ctx, id, stage, attempts)
	return args.Bool(0), args.Error(1)
}

func (m *MockPackageStore) RecordSubmissionError(ctx context.Context, id string, attempts int, at time.Time, message string) error {
	args := m.Called(ctx, id, attempts, message)
	return args.Error(0)
}

func (m *MockPackageStore) MarkSubmissionFailed(ctx context.Context, id, message string) error {
	args := m.Called(ctx, id, message)
	return args.Error(0)
}

type MockHousehold struct {
	ListMembersFunc      func(ctx context.Context, packageID string) ([]models.HouseholdMember, error)
	SetParticipantIDFunc func(ctx context.Context, memberID, participantID string) (string, error)
}

func (m *MockHousehold) ListMembers(ctx context.Context, packageID string) ([]models.HouseholdMember, error) {
	return m.ListMembersFunc(ctx, packageID)
}

func (m *MockHousehold) SetParticipantID(ctx context.Context, memberID, participantID string) (string, error) {
	return m.SetParticipantIDFunc(ctx, memberID, participantID)
}

type MockRegistry struct {
	CreateCaseFunc        func(ctx context.Context, req *registry.CreateCaseRequest) (string, error)
	CreateParticipantFunc func(ctx context.Context, req *registry.CreateParticipantRequest) (string, error)
	UpdateCaseStageFunc   func(ctx context.Context, caseID, stage string) error
}

func (m *MockRegistry) CreateCase(ctx context.Context, req *registry.CreateCaseRequest) (string, error) {
	return m.CreateCaseFunc(ctx, req)
}

func (m *MockRegistry) CreateParticipant(ctx context.Context, req *registry.CreateParticipantRequest) (string, error) {
	return m.CreateParticipantFunc(ctx, req)
}

func (m *MockRegistry) UpdateCaseStage(ctx context.Context, caseID, stage string) error {
	return m.UpdateCaseStageFunc(ctx, caseID, stage)
}

type MockNotifier struct {
	requests []notification.Request
}

func (m *MockNotifier) Notify(_ context.Context, req notification.Request) (*models.Notification, error) {
	m.requests = append(m.requests, req)
	return &models.Notification{Status: notification.StatusSent}, nil
}

type recordingAudit struct {
	events []audit.Event
}

func (r *recordingAudit) Record(_ context.Context, ev audit.Event) {
	r.events = append(r.events, ev)
}

func referralPackage() *models.ApplicationPackage {
	return &models.ApplicationPackage{
		ID:               "pkg-1",
		OwnerID:          "owner-1",
		Subtype:          "Kinship",
		Status:           models.StatusReferralRequested,
		SubmissionStatus: models.SubmissionPending,
	}
}

func household() *MockHousehold {
	return &MockHousehold{
		ListMembersFunc: func(context.Context, string) ([]models.HouseholdMember, error) {
			return []models.HouseholdMember{{ID: "m-1", Relationship: models.RelationshipSelf, FirstName: "Grace", LastName: "Hopper"}}, nil
		},
		SetParticipantIDFunc: func(_ context.Context, _, participantID string) (string, error) { return participantID, nil },
	}
}

func newTestHandler(t *testing.T, packages *MockPackageStore, reg *MockRegistry, n *MockNotifier, rec *recordingAudit) *Handler {
	t.Helper()
	h, err := NewHandler(HandlerOptions{
		CustomConfig: &Config{Enabled: true, MaxJobsActive: 1, Timeout: time.Second, Stage: "Referral"},
		Packages:     packages,
		Household:    household(),
		Registry:     reg,
		Notifier:     n,
		Audit:        rec,
		Logger:       logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	return h
}

func referralJob() *models.Job {
	return &models.Job{ID: "job-1", Type: models.JobSubmitReferral, Payload: models.JobPayload{PackageID: "pkg-1"}, AttemptsMade: 1}
}

func TestHandle_CreatesCaseAtReferralStage(t *testing.T) {
	packages := &MockPackageStore{}
	packages.On("Get", mock.Anything, "pkg-1").Return(referralPackage(), nil)
	packages.On("SetExternalCaseID", mock.Anything, "pkg-1", "C7").Return("C7", nil)
	packages.On("MarkReferralSubmitted", mock.Anything, "pkg-1", "Referral", 1).Return(true, nil)

	var stagedCase, stagedTo string
	reg := &MockRegistry{
		CreateCaseFunc: func(_ context.Context, req *registry.CreateCaseRequest) (string, error) {
			assert.Equal(t, "Kinship", req.Subtype)
			assert.Equal(t, "Grace Hopper", req.ApplicantName)
			return "C7", nil
		},
		CreateParticipantFunc: func(context.Context, *registry.CreateParticipantRequest) (string, error) { return "P7", nil },
		UpdateCaseStageFunc: func(_ context.Context, caseID, stage string) error {
			stagedCase, stagedTo = caseID, stage
			return nil
		},
	}
	rec := &recordingAudit{}

	h := newTestHandler(t, packages, reg, &MockNotifier{}, rec)
	require.NoError(t, h.Handle(context.Background(), referralJob()))

	assert.Equal(t, "C7", stagedCase)
	assert.Equal(t, "Referral", stagedTo)
	packages.AssertExpectations(t)
	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.KindReferralSubmitted, rec.events[0].Kind)
}

func TestHandle_SkipsSettledReferrals(t *testing.T) {
	tests := map[string]func(p *models.ApplicationPackage){
		"already referred": func(p *models.ApplicationPackage) { p.SubmissionStatus = models.SubmissionSuccess },
		"failed":           func(p *models.ApplicationPackage) { p.SubmissionStatus = models.SubmissionFailed },
		"moved on":         func(p *models.ApplicationPackage) { p.Status = models.StatusApplication },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			pkg := referralPackage()
			mutate(pkg)
			packages := &MockPackageStore{}
			packages.On("Get", mock.Anything, "pkg-1").Return(pkg, nil)

			h := newTestHandler(t, packages, &MockRegistry{}, &MockNotifier{}, &recordingAudit{})
			out, err := h.Execute(context.Background(), &Input{PackageID: "pkg-1", Attempt: 1})
			require.NoError(t, err)
			assert.True(t, out.Skipped)
			packages.AssertNotCalled(t, "MarkReferralSubmitted", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestHandle_ResumesWithExistingCase(t *testing.T) {
	pkg := referralPackage()
	pkg.SubmissionStatus = models.SubmissionError
	caseID := "C3"
	pkg.ExternalCaseID = &caseID

	packages := &MockPackageStore{}
	packages.On("Get", mock.Anything, "pkg-1").Return(pkg, nil)
	packages.On("MarkReferralSubmitted", mock.Anything, "pkg-1", "Referral", 2).Return(true, nil)

	reg := &MockRegistry{
		CreateCaseFunc: func(context.Context, *registry.CreateCaseRequest) (string, error) {
			t.Fatal("case must not be created twice")
			return "", nil
		},
		CreateParticipantFunc: func(_ context.Context, req *registry.CreateParticipantRequest) (string, error) {
			assert.Equal(t, "C3", req.CaseID)
			return "P3", nil
		},
		UpdateCaseStageFunc: func(context.Context, string, string) error { return nil },
	}

	h := newTestHandler(t, packages, reg, &MockNotifier{}, &recordingAudit{})
	out, err := h.Execute(context.Background(), &Input{PackageID: "pkg-1", Attempt: 2})
	require.NoError(t, err)
	assert.Equal(t, "C3", out.ExternalCaseID)
	packages.AssertExpectations(t)
}

func TestHandle_ErrorIsRecorded(t *testing.T) {
	packages := &MockPackageStore{}
	packages.On("Get", mock.Anything, "pkg-1").Return(referralPackage(), nil)
	packages.On("RecordSubmissionError", mock.Anything, "pkg-1", 1, mock.AnythingOfType("string")).Return(nil)

	reg := &MockRegistry{
		CreateCaseFunc: func(context.Context, *registry.CreateCaseRequest) (string, error) {
			return "", errors.NewRegistryRequestRejectedError("create case", 422, `{"error":"subtype unknown"}`)
		},
	}
	rec := &recordingAudit{}

	h := newTestHandler(t, packages, reg, &MockNotifier{}, rec)
	err := h.Handle(context.Background(), referralJob())
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	packages.AssertExpectations(t)
	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.KindSubmissionError, rec.events[0].Kind)
}

func TestOnExhausted(t *testing.T) {
	packages := &MockPackageStore{}
	packages.On("MarkSubmissionFailed", mock.Anything, "pkg-1", mock.AnythingOfType("string")).Return(nil)
	n := &MockNotifier{}
	rec := &recordingAudit{}

	h := newTestHandler(t, packages, &MockRegistry{}, n, rec)
	h.OnExhausted(context.Background(), referralJob(), errors.NewRegistryUnavailableError("create case", stderrors.New("timeout")))

	packages.AssertExpectations(t)
	require.Len(t, n.requests, 1)
	assert.Equal(t, notification.TypeSubmissionFailed, n.requests[0].Type)
	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.KindSubmissionFailed, rec.events[0].Kind)
}

func TestExecute_PackageMovedOnDuringReferral(t *testing.T) {
	packages := &MockPackageStore{}
	packages.On("Get", mock.Anything, "pkg-1").Return(referralPackage(), nil)
	packages.On("SetExternalCaseID", mock.Anything, "pkg-1", "C7").Return("C7", nil)
	packages.On("MarkReferralSubmitted", mock.Anything, "pkg-1", "Referral", 1).Return(false, nil)

	reg := &MockRegistry{
		CreateCaseFunc:        func(context.Context, *registry.CreateCaseRequest) (string, error) { return "C7", nil },
		CreateParticipantFunc: func(context.Context, *registry.CreateParticipantRequest) (string, error) { return "P7", nil },
		UpdateCaseStageFunc:   func(context.Context, string, string) error { return nil },
	}
	rec := &recordingAudit{}

	h := newTestHandler(t, packages, reg, &MockNotifier{}, rec)
	out, err := h.Execute(context.Background(), &Input{PackageID: "pkg-1", Attempt: 1})
	require.NoError(t, err)

	assert.True(t, out.Skipped)
	assert.Equal(t, "C7", out.ExternalCaseID)
	assert.Empty(t, out.Stage)
	assert.Empty(t, rec.events)
	packages.AssertExpectations(t)
}
