// internal/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"package-orchestrator/internal/common/errors"
	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/common/metrics"
	"package-orchestrator/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix  = "orchestrator"
	defaultTimeout = 30 * time.Second

	// GlobalDedupKey is the singleton key shared by the periodic job types.
	GlobalDedupKey = "global"
)

// Handler processes one job. A returned error is classified by the queue:
// retryable errors reschedule the job, others fail it at once.
type Handler func(ctx context.Context, job *models.Job) error

// ExhaustedHook runs once a job lands in the failed set.
type ExhaustedHook func(ctx context.Context, job *models.Job, err error)

// PayloadValidator checks a payload before it is accepted.
type PayloadValidator interface {
	ValidatePayload(jobType models.JobType, payload models.JobPayload) error
}

type Options struct {
	Prefix          string
	Policies        map[models.JobType]models.RetryPolicy
	Validator       PayloadValidator
	RetainCompleted bool
	Retention       time.Duration
	Logger          logger.Logger
	Now             func() time.Time
}

// Queue is a Redis-backed at-least-once job queue with per-type retry
// policies and deduplication on (type, package id).
type Queue struct {
	rdb             redis.Cmdable
	prefix          string
	policies        map[models.JobType]models.RetryPolicy
	validator       PayloadValidator
	retainCompleted bool
	retention       time.Duration
	logger          logger.Logger
	errHandler      *errors.Handler
	now             func() time.Time

	mu        sync.RWMutex
	exhausted map[models.JobType][]ExhaustedHook
}

type EnqueueResult struct {
	JobID     string
	Duplicate bool
}

// Result describes how ProcessNext settled a job.
type Result struct {
	Job         *models.Job
	Err         error
	Outcome     string // completed | retried | failed
	Disposition errors.Disposition
}

const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

func New(rdb redis.Cmdable, opts Options) *Queue {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policies == nil {
		opts.Policies = DefaultPolicies()
	}
	log := opts.Logger.WithFields(map[string]interface{}{"component": "queue"})
	return &Queue{
		rdb:             rdb,
		prefix:          opts.Prefix,
		policies:        opts.Policies,
		validator:       opts.Validator,
		retainCompleted: opts.RetainCompleted,
		retention:       opts.Retention,
		logger:          log,
		errHandler:      errors.NewHandler(log),
		now:             opts.Now,
		exhausted:       make(map[models.JobType][]ExhaustedHook),
	}
}

// DefaultPolicies returns the built-in retry policy per job type.
func DefaultPolicies() map[models.JobType]models.RetryPolicy {
	resubmit := models.RetryPolicy{
		MaxAttempts: 16,
		Backoff:     models.BackoffExponential,
		Delay:       2 * time.Second,
		MaxDelay:    time.Hour,
	}
	return map[models.JobType]models.RetryPolicy{
		models.JobCompletenessCheck: {MaxAttempts: 3, Backoff: models.BackoffFixed, Delay: 5 * time.Second},
		models.JobSubmission:        resubmit,
		models.JobSubmitReferral:    resubmit,
		models.JobPeriodicScan:      {MaxAttempts: 1, Backoff: models.BackoffFixed},
		models.JobStageCheck:        {MaxAttempts: 1, Backoff: models.BackoffFixed},
	}
}

// Policy returns the retry policy used for jobType.
func (q *Queue) Policy(jobType models.JobType) (models.RetryPolicy, bool) {
	p, ok := q.policies[jobType]
	return p, ok
}

// OnExhausted registers a hook for jobs of jobType that end up failed.
func (q *Queue) OnExhausted(jobType models.JobType, hook ExhaustedHook) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.exhausted[jobType] = append(q.exhausted[jobType], hook)
}

// DedupKey returns the key a job is deduplicated on.
func DedupKey(jobType models.JobType, payload models.JobPayload) string {
	if jobType.Keyed() {
		return payload.PackageID
	}
	return GlobalDedupKey
}

type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	delay time.Duration
}

// WithDelay holds the job in the delayed set for d before it becomes runnable.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.delay = d }
}

// Enqueue adds a job unless an equivalent one is still outstanding, in which
// case it returns the existing job id with Duplicate set. Duplicates are not errors.
func (q *Queue) Enqueue(ctx context.Context, jobType models.JobType, payload models.JobPayload, opts ...EnqueueOption) (EnqueueResult, error) {
	policy, ok := q.policies[jobType]
	if !ok {
		return EnqueueResult{}, errors.NewInvalidJobPayloadError(string(jobType), "unknown job type")
	}
	if jobType.Keyed() && payload.PackageID == "" {
		return EnqueueResult{}, errors.NewInvalidJobPayloadError(string(jobType), "packageId is required")
	}
	if q.validator != nil {
		if err := q.validator.ValidatePayload(jobType, payload); err != nil {
			return EnqueueResult{}, err
		}
	}

	var o enqueueOptions
	for _, fn := range opts {
		fn(&o)
	}

	now := q.now()
	job := &models.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		DedupKey:  DedupKey(jobType, payload),
		Payload:   payload,
		Policy:    policy,
		State:     models.JobWaiting,
		CreatedAt: now,
	}
	var readyAt int64
	if o.delay > 0 {
		runAt := now.Add(o.delay)
		job.State = models.JobDelayed
		job.RunAt = &runAt
		readyAt = runAt.UnixMilli()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return EnqueueResult{}, errors.NewQueueEnqueueFailedError(string(jobType), err)
	}

	existing, err := enqueueScript.Run(ctx, q.rdb,
		[]string{
			q.dedupKey(jobType, job.DedupKey),
			q.jobKey(job.ID),
			q.key("wait", string(jobType)),
			q.key("delayed", string(jobType)),
		},
		job.ID, data, readyAt, q.key("job", ""),
	).Text()
	if err != nil {
		return EnqueueResult{}, errors.NewQueueEnqueueFailedError(string(jobType), err)
	}

	if existing != "" {
		metrics.JobsDeduplicated.WithLabelValues(string(jobType)).Inc()
		q.logger.Info("duplicate job skipped", map[string]interface{}{
			"jobType":       jobType,
			"packageId":     payload.PackageID,
			"existingJobId": existing,
			"reason":        payload.Reason,
		})
		return EnqueueResult{JobID: existing, Duplicate: true}, nil
	}

	q.logger.Debug("job enqueued", map[string]interface{}{
		"jobId":     job.ID,
		"jobType":   jobType,
		"packageId": payload.PackageID,
		"reason":    payload.Reason,
	})
	return EnqueueResult{JobID: job.ID}, nil
}

// ProcessNext takes the next waiting job of jobType, runs handle under timeout
// and settles the outcome. It returns nil when nothing was waiting.
func (q *Queue) ProcessNext(ctx context.Context, jobType models.JobType, timeout time.Duration, handle Handler) (*Result, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	id, err := moveToActiveScript.Run(ctx, q.rdb,
		[]string{q.key("wait", string(jobType)), q.key("active", string(jobType))},
		q.key("lease", ""), (2 * timeout).Milliseconds(),
	).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", jobType, err)
	}

	job, err := q.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		q.logger.Warn("dropping job without a record", map[string]interface{}{"jobId": id, "jobType": jobType})
		q.rdb.LRem(ctx, q.key("active", string(jobType)), 1, id)
		q.rdb.Del(ctx, q.key("lease", id))
		return nil, nil
	}

	started := q.now()
	job.State = models.JobActive
	job.AttemptsMade++
	job.ProcessedAt = &started
	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}

	handlerErr := q.invoke(ctx, timeout, job, handle)
	if handlerErr == nil {
		return q.complete(ctx, job)
	}
	return q.fail(ctx, timeout, job, handlerErr)
}

func (q *Queue) invoke(ctx context.Context, timeout time.Duration, job *models.Job, handle Handler) (err error) {
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = errors.NewInternalError(fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()
	return handle(jobCtx, job)
}

func (q *Queue) complete(ctx context.Context, job *models.Job) (*Result, error) {
	finished := q.now()
	job.State = models.JobCompleted
	job.FinishedAt = &finished
	job.LastError = ""
	if err := q.finish(ctx, job, "completed", q.retainCompleted); err != nil {
		return nil, err
	}
	return &Result{Job: job, Outcome: OutcomeCompleted}, nil
}

func (q *Queue) fail(ctx context.Context, timeout time.Duration, job *models.Job, handlerErr error) (*Result, error) {
	stdErr, disposition := q.errHandler.HandleJobError(errors.JobInfo{
		ID:          job.ID,
		Type:        string(job.Type),
		PackageID:   job.Payload.PackageID,
		Attempt:     job.AttemptsMade,
		MaxAttempts: job.Policy.MaxAttempts,
	}, handlerErr)
	job.LastError = stdErr.Error()

	if disposition == errors.Retry && job.AttemptsMade < job.Policy.MaxAttempts {
		runAt := q.now().Add(job.Policy.NextDelay(job.AttemptsMade))
		job.State = models.JobDelayed
		job.RunAt = &runAt
		data, err := json.Marshal(job)
		if err != nil {
			return nil, err
		}
		_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.key("active", string(job.Type)), 1, job.ID)
			pipe.Del(ctx, q.key("lease", job.ID))
			pipe.Set(ctx, q.jobKey(job.ID), data, 0)
			pipe.ZAdd(ctx, q.key("delayed", string(job.Type)), redis.Z{Score: float64(runAt.UnixMilli()), Member: job.ID})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("reschedule job %s: %w", job.ID, err)
		}
		metrics.JobsRetried.WithLabelValues(string(job.Type)).Inc()
		return &Result{Job: job, Err: stdErr, Outcome: OutcomeRetried, Disposition: disposition}, nil
	}

	finished := q.now()
	job.State = models.JobFailed
	job.FinishedAt = &finished
	if err := q.finish(ctx, job, "failed", true); err != nil {
		return nil, err
	}
	metrics.JobsExhausted.WithLabelValues(string(job.Type)).Inc()
	q.logger.Warn("job exhausted", map[string]interface{}{
		"jobId":     job.ID,
		"jobType":   job.Type,
		"packageId": job.Payload.PackageID,
		"attempt":   job.AttemptsMade,
		"error":     job.LastError,
	})

	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	q.mu.RLock()
	hooks := append([]ExhaustedHook(nil), q.exhausted[job.Type]...)
	q.mu.RUnlock()
	for _, hook := range hooks {
		hook(hookCtx, job, stdErr)
	}

	return &Result{Job: job, Err: stdErr, Outcome: OutcomeFailed, Disposition: disposition}, nil
}

func (q *Queue) finish(ctx context.Context, job *models.Job, set string, keep bool) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	keepArg := "0"
	if keep {
		keepArg = "1"
	}
	err = finishScript.Run(ctx, q.rdb,
		[]string{
			q.key("active", string(job.Type)),
			q.key("lease", job.ID),
			q.dedupKey(job.Type, job.DedupKey),
			q.key(set, string(job.Type)),
			q.jobKey(job.ID),
		},
		job.ID, data, job.FinishedAt.UnixMilli(), keepArg,
	).Err()
	if err != nil {
		return fmt.Errorf("settle job %s: %w", job.ID, err)
	}
	return nil
}

// Maintain promotes due delayed jobs, returns stalled active jobs to the wait
// list and trims finished jobs past the retention period.
func (q *Queue) Maintain(ctx context.Context, jobType models.JobType) error {
	if _, err := q.PromoteDelayed(ctx, jobType); err != nil {
		return err
	}
	if _, err := q.RecoverStalled(ctx, jobType); err != nil {
		return err
	}
	return q.trimFinished(ctx, jobType)
}

// PromoteDelayed moves delayed jobs whose time has come to the wait list.
func (q *Queue) PromoteDelayed(ctx context.Context, jobType models.JobType) (int, error) {
	delayedKey := q.key("delayed", string(jobType))
	ids, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", q.now().UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list delayed %s: %w", jobType, err)
	}

	promoted := 0
	for _, id := range ids {
		n, err := promoteScript.Run(ctx, q.rdb, []string{delayedKey, q.key("wait", string(jobType))}, id).Int()
		if err != nil {
			return promoted, fmt.Errorf("promote job %s: %w", id, err)
		}
		promoted += n
	}
	return promoted, nil
}

// RecoverStalled returns active jobs whose lease expired to the wait list.
func (q *Queue) RecoverStalled(ctx context.Context, jobType models.JobType) (int, error) {
	activeKey := q.key("active", string(jobType))
	ids, err := q.rdb.LRange(ctx, activeKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list active %s: %w", jobType, err)
	}

	recovered := 0
	for _, id := range ids {
		n, err := recoverScript.Run(ctx, q.rdb,
			[]string{activeKey, q.key("wait", string(jobType)), q.key("lease", id)}, id).Int()
		if err != nil {
			return recovered, fmt.Errorf("recover job %s: %w", id, err)
		}
		if n == 1 {
			recovered++
			q.logger.Warn("recovered stalled job", map[string]interface{}{"jobId": id, "jobType": jobType})
		}
	}
	return recovered, nil
}

func (q *Queue) trimFinished(ctx context.Context, jobType models.JobType) error {
	if q.retention <= 0 {
		return nil
	}
	cutoff := fmt.Sprintf("%d", q.now().Add(-q.retention).UnixMilli())
	for _, set := range []string{"completed", "failed"} {
		setKey := q.key(set, string(jobType))
		ids, err := q.rdb.ZRangeByScore(ctx, setKey, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
		if err != nil {
			return fmt.Errorf("list %s %s: %w", set, jobType, err)
		}
		if len(ids) == 0 {
			continue
		}
		_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range ids {
				pipe.ZRem(ctx, setKey, id)
				pipe.Del(ctx, q.jobKey(id))
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("trim %s %s: %w", set, jobType, err)
		}
	}
	return nil
}

// ListPending returns the waiting, active and delayed jobs of the given types.
func (q *Queue) ListPending(ctx context.Context, types ...models.JobType) ([]models.Job, error) {
	var jobs []models.Job
	for _, jobType := range types {
		waiting, err := q.rdb.LRange(ctx, q.key("wait", string(jobType)), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("list waiting %s: %w", jobType, err)
		}
		active, err := q.rdb.LRange(ctx, q.key("active", string(jobType)), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("list active %s: %w", jobType, err)
		}
		delayed, err := q.rdb.ZRange(ctx, q.key("delayed", string(jobType)), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("list delayed %s: %w", jobType, err)
		}

		for _, group := range []struct {
			ids   []string
			state models.JobState
		}{
			{active, models.JobActive},
			{waiting, models.JobWaiting},
			{delayed, models.JobDelayed},
		} {
			found, err := q.loadJobs(ctx, group.ids)
			if err != nil {
				return nil, err
			}
			for _, job := range found {
				job.State = group.state
				jobs = append(jobs, job)
			}
		}
	}
	return jobs, nil
}

// PendingPackageIDs returns the package ids of outstanding jobs of one type.
func (q *Queue) PendingPackageIDs(ctx context.Context, jobType models.JobType) (map[string]struct{}, error) {
	jobs, err := q.ListPending(ctx, jobType)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		if job.Payload.PackageID != "" {
			ids[job.Payload.PackageID] = struct{}{}
		}
	}
	return ids, nil
}

// Counts returns the number of jobs of jobType in each state.
func (q *Queue) Counts(ctx context.Context, jobType models.JobType) (map[models.JobState]int64, error) {
	var waiting, active, delayed, completed, failed *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, q.key("wait", string(jobType)))
		active = pipe.LLen(ctx, q.key("active", string(jobType)))
		delayed = pipe.ZCard(ctx, q.key("delayed", string(jobType)))
		completed = pipe.ZCard(ctx, q.key("completed", string(jobType)))
		failed = pipe.ZCard(ctx, q.key("failed", string(jobType)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", jobType, err)
	}
	return map[models.JobState]int64{
		models.JobWaiting:   waiting.Val(),
		models.JobActive:    active.Val(),
		models.JobDelayed:   delayed.Val(),
		models.JobCompleted: completed.Val(),
		models.JobFailed:    failed.Val(),
	}, nil
}

// GetJob loads a job record. It returns nil when the record does not exist.
func (q *Queue) GetJob(ctx context.Context, id string) (*models.Job, error) {
	data, err := q.rdb.Get(ctx, q.jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) loadJobs(ctx context.Context, ids []string) ([]models.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = q.jobKey(id)
	}
	values, err := q.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	jobs := make([]models.Job, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var job models.Job
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			q.logger.Warn("skipping undecodable job", map[string]interface{}{"jobId": ids[i], "error": err})
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *Queue) saveJob(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.rdb.Set(ctx, q.jobKey(job.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (q *Queue) key(parts ...string) string {
	return q.prefix + ":" + strings.Join(parts, ":")
}

func (q *Queue) jobKey(id string) string {
	return q.key("job", id)
}

func (q *Queue) dedupKey(jobType models.JobType, key string) string {
	return q.key("dedup", string(jobType), key)
}
