// internal/common/errors/handler.go
package errors

import (
	"time"
)

// Disposition tells the queue what to do with a failed job.
type Disposition int

const (
	// Retry reschedules the job according to its retry policy.
	Retry Disposition = iota
	// Discard fails the job immediately without consuming further attempts.
	Discard
)

func (d Disposition) String() string {
	if d == Discard {
		return "discard"
	}
	return "retry"
}

// JobInfo is the subset of job metadata the handler logs.
type JobInfo struct {
	ID          string
	Type        string
	PackageID   string
	Attempt     int
	MaxAttempts int
}

// Handler classifies job errors with standardized logging.
type Handler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewHandler(logger Logger) *Handler {
	return &Handler{logger: logger}
}

// HandleJobError normalizes err, logs it and returns how the queue should proceed.
func (h *Handler) HandleJobError(job JobInfo, err error) (*StandardError, Disposition) {
	stdErr := h.normalizeError(err)

	disposition := Retry
	if !stdErr.Retryable {
		disposition = Discard
	}

	h.logError(job, stdErr, disposition)
	return stdErr, disposition
}

// normalizeError ensures we always have a StandardError
func (h *Handler) normalizeError(err error) *StandardError {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func (h *Handler) logError(job JobInfo, stdErr *StandardError, disposition Disposition) {
	if h.logger == nil {
		return
	}
	h.logger.Error("Job failed", map[string]interface{}{
		"jobId":         job.ID,
		"jobType":       job.Type,
		"packageId":     job.PackageID,
		"attempt":       job.Attempt,
		"maxAttempts":   job.MaxAttempts,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"disposition":   disposition.String(),
		"errorCategory": GetErrorCategory(stdErr.Code),
	})
}
