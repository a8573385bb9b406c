package queue

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"package-orchestrator/internal/common/errors"
	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/models"
	"package-orchestrator/pkg/catalog"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func setupQueue(t *testing.T) (*Queue, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	q := New(rdb, Options{
		Logger: logger.NewTestLogger(t),
		Now:    clock.Now,
	})
	return q, mr, clock
}

func pkg(id string) models.JobPayload {
	return models.JobPayload{PackageID: id, Reason: "test"}
}

func TestEnqueue_DuplicateKeepsDepthAtOne(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, models.JobCompletenessCheck, pkg("pkg-1"))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := q.Enqueue(ctx, models.JobCompletenessCheck, pkg("pkg-1"))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.JobID, second.JobID)

	counts, err := q.Counts(ctx, models.JobCompletenessCheck)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.JobWaiting])

	// same package, different type is a different job
	other, err := q.Enqueue(ctx, models.JobSubmission, pkg("pkg-1"))
	require.NoError(t, err)
	assert.False(t, other.Duplicate)
}

func TestEnqueue_PeriodicTypesAreSingletons(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, models.JobStageCheck, models.JobPayload{Reason: "timer"})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, models.JobStageCheck, models.JobPayload{Reason: "manual"})
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.JobID, second.JobID)
}

func TestEnqueue_Rejects(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.JobSubmission, models.JobPayload{})
	assert.Equal(t, errors.ErrCodeInvalidJobPayload, errors.CodeOf(err))

	_, err = q.Enqueue(ctx, models.JobType("send-email"), pkg("pkg-1"))
	assert.Equal(t, errors.ErrCodeInvalidJobPayload, errors.CodeOf(err))
}

func TestEnqueue_StaleMarkerIsReplaced(t *testing.T) {
	q, mr, _ := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("orchestrator:dedup:submission:pkg-1", "lost-job"))

	res, err := q.Enqueue(ctx, models.JobSubmission, pkg("pkg-1"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.NotEqual(t, "lost-job", res.JobID)
}

func TestEnqueue_RedisFailure(t *testing.T) {
	q, mr, _ := setupQueue(t)
	mr.SetError("LOADING Redis is loading the dataset in memory")

	_, err := q.Enqueue(context.Background(), models.JobSubmission, pkg("pkg-1"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeQueueEnqueueFailed, errors.CodeOf(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestProcessNext_Empty(t *testing.T) {
	q, _, _ := setupQueue(t)

	res, err := q.ProcessNext(context.Background(), models.JobSubmission, time.Second, func(context.Context, *models.Job) error {
		t.Fatal("handler must not run")
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestProcessNext_CompletesAndReleasesDedup(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	enq, err := q.Enqueue(ctx, models.JobCompletenessCheck, pkg("pkg-1"))
	require.NoError(t, err)

	var seen *models.Job
	res, err := q.ProcessNext(ctx, models.JobCompletenessCheck, time.Second, func(_ context.Context, job *models.Job) error {
		seen = job
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, enq.JobID, seen.ID)
	assert.Equal(t, 1, seen.AttemptsMade)
	assert.Equal(t, "pkg-1", seen.Payload.PackageID)

	counts, err := q.Counts(ctx, models.JobCompletenessCheck)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[models.JobWaiting])
	assert.Equal(t, int64(0), counts[models.JobActive])

	again, err := q.Enqueue(ctx, models.JobCompletenessCheck, pkg("pkg-1"))
	require.NoError(t, err)
	assert.False(t, again.Duplicate)
}

func TestProcessNext_RetainCompleted(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := New(rdb, Options{RetainCompleted: true})
	ctx := context.Background()

	enq, err := q.Enqueue(ctx, models.JobPeriodicScan, models.JobPayload{})
	require.NoError(t, err)
	_, err = q.ProcessNext(ctx, models.JobPeriodicScan, time.Second, func(context.Context, *models.Job) error { return nil })
	require.NoError(t, err)

	job, err := q.GetJob(ctx, enq.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobCompleted, job.State)
	assert.NotNil(t, job.FinishedAt)
}

func TestProcessNext_RetriesUntilExhausted(t *testing.T) {
	q, _, clock := setupQueue(t)
	ctx := context.Background()

	var hookCalls int
	var hookJob *models.Job
	q.OnExhausted(models.JobSubmission, func(_ context.Context, job *models.Job, err error) {
		hookCalls++
		hookJob = job
		assert.Equal(t, errors.ErrCodeRegistryUnavailable, errors.CodeOf(err))
	})

	_, err := q.Enqueue(ctx, models.JobSubmission, pkg("pkg-1"))
	require.NoError(t, err)

	failing := func(context.Context, *models.Job) error {
		return errors.NewRegistryUnavailableError("create case", stderrors.New("503 Service Unavailable"))
	}

	for attempt := 1; attempt <= 16; attempt++ {
		res, err := q.ProcessNext(ctx, models.JobSubmission, time.Second, failing)
		require.NoError(t, err)
		require.NotNil(t, res, "attempt %d", attempt)
		assert.Equal(t, attempt, res.Job.AttemptsMade)

		if attempt < 16 {
			assert.Equal(t, OutcomeRetried, res.Outcome)
			assert.Equal(t, 0, hookCalls)

			// not runnable before its delay elapses
			promoted, err := q.PromoteDelayed(ctx, models.JobSubmission)
			require.NoError(t, err)
			assert.Equal(t, 0, promoted)

			clock.Advance(res.Job.Policy.NextDelay(attempt) + time.Millisecond)
			promoted, err = q.PromoteDelayed(ctx, models.JobSubmission)
			require.NoError(t, err)
			assert.Equal(t, 1, promoted)
			continue
		}
		assert.Equal(t, OutcomeFailed, res.Outcome)
	}

	assert.Equal(t, 1, hookCalls)
	require.NotNil(t, hookJob)
	assert.Equal(t, "pkg-1", hookJob.Payload.PackageID)

	counts, err := q.Counts(ctx, models.JobSubmission)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.JobFailed])
	assert.Equal(t, int64(0), counts[models.JobDelayed])

	pending, err := q.ListPending(ctx, models.JobSubmission)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessNext_NonRetryableFailsImmediately(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	hookCalled := false
	q.OnExhausted(models.JobSubmission, func(context.Context, *models.Job, error) { hookCalled = true })

	_, err := q.Enqueue(ctx, models.JobSubmission, pkg("pkg-1"))
	require.NoError(t, err)

	res, err := q.ProcessNext(ctx, models.JobSubmission, time.Second, func(context.Context, *models.Job) error {
		return errors.NewDataIntegrityError("pkg-1", "no primary applicant")
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, errors.Discard, res.Disposition)
	assert.Equal(t, 1, res.Job.AttemptsMade)
	assert.True(t, hookCalled)
}

func TestProcessNext_PanicIsAFailure(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.JobCompletenessCheck, pkg("pkg-1"))
	require.NoError(t, err)

	res, err := q.ProcessNext(ctx, models.JobCompletenessCheck, time.Second, func(context.Context, *models.Job) error {
		panic("nil household")
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeRetried, res.Outcome)
	assert.Contains(t, res.Job.LastError, "nil household")
}

func TestProcessNext_HandlerTimeout(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.JobCompletenessCheck, pkg("pkg-1"))
	require.NoError(t, err)

	res, err := q.ProcessNext(ctx, models.JobCompletenessCheck, 20*time.Millisecond, func(ctx context.Context, _ *models.Job) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeRetried, res.Outcome)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestRecoverStalled(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	enq, err := q.Enqueue(ctx, models.JobSubmission, pkg("pkg-1"))
	require.NoError(t, err)

	// a worker that died after taking the job leaves it active with no lease
	require.NoError(t, q.rdb.LMove(ctx, "orchestrator:wait:submission", "orchestrator:active:submission", "RIGHT", "LEFT").Err())

	recovered, err := q.RecoverStalled(ctx, models.JobSubmission)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	res, err := q.ProcessNext(ctx, models.JobSubmission, time.Second, func(ctx context.Context, job *models.Job) error {
		// a leased job is never recovered from under its worker
		n, err := q.RecoverStalled(ctx, models.JobSubmission)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, enq.JobID, res.Job.ID)
}

func TestListPending(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.JobSubmission, pkg("pkg-1"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, models.JobSubmission, pkg("pkg-2"), WithDelay(time.Minute))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, models.JobCompletenessCheck, pkg("pkg-3"))
	require.NoError(t, err)

	jobs, err := q.ListPending(ctx, models.JobSubmission)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	states := map[string]models.JobState{}
	for _, j := range jobs {
		states[j.Payload.PackageID] = j.State
	}
	assert.Equal(t, models.JobWaiting, states["pkg-1"])
	assert.Equal(t, models.JobDelayed, states["pkg-2"])

	ids, err := q.PendingPackageIDs(ctx, models.JobSubmission)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "pkg-1")
	assert.NotContains(t, ids, "pkg-3")

	all, err := q.ListPending(ctx, models.JobSubmission, models.JobCompletenessCheck)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestListPending_RedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := New(db, Options{})

	mock.ExpectLRange("orchestrator:wait:submission", 0, -1).SetErr(stderrors.New("connection reset"))

	_, err := q.ListPending(context.Background(), models.JobSubmission)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaintain_TrimsFinishedPastRetention(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	q := New(rdb, Options{RetainCompleted: true, Retention: time.Hour, Now: clock.Now})
	ctx := context.Background()

	enq, err := q.Enqueue(ctx, models.JobStageCheck, models.JobPayload{})
	require.NoError(t, err)
	_, err = q.ProcessNext(ctx, models.JobStageCheck, time.Second, func(context.Context, *models.Job) error { return nil })
	require.NoError(t, err)

	require.NoError(t, q.Maintain(ctx, models.JobStageCheck))
	job, err := q.GetJob(ctx, enq.JobID)
	require.NoError(t, err)
	assert.NotNil(t, job)

	clock.Advance(2 * time.Hour)
	require.NoError(t, q.Maintain(ctx, models.JobStageCheck))
	job, err = q.GetJob(ctx, enq.JobID)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestCatalogValidator(t *testing.T) {
	c, err := catalog.Default()
	require.NoError(t, err)
	v, err := NewCatalogValidator(c)
	require.NoError(t, err)

	assert.NoError(t, v.ValidatePayload(models.JobSubmission, pkg("pkg-1")))
	assert.NoError(t, v.ValidatePayload(models.JobPeriodicScan, models.JobPayload{}))

	err = v.ValidatePayload(models.JobSubmission, models.JobPayload{Reason: "scan"})
	assert.Equal(t, errors.ErrCodeInvalidJobPayload, errors.CodeOf(err))

	err = v.ValidatePayload(models.JobType("send-email"), pkg("pkg-1"))
	assert.Equal(t, errors.ErrCodeInvalidJobPayload, errors.CodeOf(err))
}

func TestPoliciesFromCatalogMatchDefaults(t *testing.T) {
	c, err := catalog.Default()
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicies(), PoliciesFromCatalog(c))
}
