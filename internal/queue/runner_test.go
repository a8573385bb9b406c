package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	jobType string
	status  string
}

type mockRecorder struct {
	mu        sync.Mutex
	processed []recordedCall
	durations []recordedCall
}

func (m *mockRecorder) RecordJobProcessed(_ context.Context, jobType, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = append(m.processed, recordedCall{jobType, status})
}

func (m *mockRecorder) RecordJobDuration(_ context.Context, jobType string, _ time.Duration, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations = append(m.durations, recordedCall{jobType, status})
}

func (m *mockRecorder) processedCalls() []recordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedCall(nil), m.processed...)
}

func TestRunner_ProcessesRegisteredTypes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := New(rdb, Options{})
	rec := &mockRecorder{}

	runner := NewRunner(q, 10*time.Millisecond, logger.NewTestLogger(t), rec)

	handled := make(chan string, 4)
	runner.Register(Worker{
		Type:          models.JobCompletenessCheck,
		MaxJobsActive: 2,
		Timeout:       time.Second,
		Handler: func(_ context.Context, job *models.Job) error {
			handled <- job.Payload.PackageID
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	_, err := q.Enqueue(context.Background(), models.JobCompletenessCheck, pkg("pkg-1"))
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), models.JobCompletenessCheck, pkg("pkg-2"))
	require.NoError(t, err)

	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case id := <-handled:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("jobs were not processed")
		}
	}

	assert.Eventually(t, func() bool { return len(rec.processedCalls()) == 2 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	for _, call := range rec.processedCalls() {
		assert.Equal(t, "completeness-check", call.jobType)
		assert.Equal(t, OutcomeCompleted, call.status)
	}
}

func TestRunner_PromotesDelayedJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := New(rdb, Options{})

	runner := NewRunner(q, 10*time.Millisecond, logger.NewNoOpLogger(), nil)
	handled := make(chan struct{}, 1)
	runner.Register(Worker{
		Type:    models.JobSubmission,
		Timeout: time.Second,
		Handler: func(context.Context, *models.Job) error {
			handled <- struct{}{}
			return nil
		},
	})

	_, err := q.Enqueue(context.Background(), models.JobSubmission, pkg("pkg-1"), WithDelay(30*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = runner.Run(ctx) }()

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("delayed job was never promoted")
	}
}
