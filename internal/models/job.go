// internal/models/job.go
package models

import (
	"encoding/json"
	"time"
)

type JobType string

const (
	JobCompletenessCheck JobType = "completeness-check"
	JobSubmission        JobType = "submission"
	JobSubmitReferral    JobType = "submit-referral"
	JobPeriodicScan      JobType = "periodic-scan"
	JobStageCheck        JobType = "stage-check"
)

// AllJobTypes lists every job type the orchestrator registers.
var AllJobTypes = []JobType{
	JobCompletenessCheck,
	JobSubmission,
	JobSubmitReferral,
	JobPeriodicScan,
	JobStageCheck,
}

// Keyed reports whether jobs of this type are deduplicated by package id.
// Periodic types are deduplicated on a singleton key instead.
func (t JobType) Keyed() bool {
	switch t {
	case JobCompletenessCheck, JobSubmission, JobSubmitReferral:
		return true
	}
	return false
}

type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobDelayed   JobState = "delayed"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// RetryPolicy controls how often and how quickly a failing job is retried.
type RetryPolicy struct {
	MaxAttempts int           `json:"maxAttempts"`
	Backoff     BackoffType   `json:"backoff"`
	Delay       time.Duration `json:"delay"`
	MaxDelay    time.Duration `json:"maxDelay,omitempty"`
}

// NextDelay returns the wait before the next attempt after `attempts` failed attempts.
func (p RetryPolicy) NextDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if p.Backoff != BackoffExponential {
		return p.Delay
	}
	d := p.Delay
	for i := 1; i < attempts; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// JobPayload is the common payload shape. Periodic jobs carry no package id.
type JobPayload struct {
	PackageID string          `json:"packageId,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type Job struct {
	ID           string      `json:"id"`
	Type         JobType     `json:"type"`
	DedupKey     string      `json:"dedupKey"`
	Payload      JobPayload  `json:"payload"`
	Policy       RetryPolicy `json:"policy"`
	State        JobState    `json:"state"`
	AttemptsMade int         `json:"attemptsMade"`
	LastError    string      `json:"lastError,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	ProcessedAt  *time.Time  `json:"processedAt,omitempty"`
	FinishedAt   *time.Time  `json:"finishedAt,omitempty"`
	RunAt        *time.Time  `json:"runAt,omitempty"`
}
