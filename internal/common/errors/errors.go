// Package errors provides standardized error handling for queued orchestration jobs.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeRegistryUnavailable     ErrorCode = "REGISTRY_UNAVAILABLE"
	ErrCodeRegistryRequestRejected ErrorCode = "REGISTRY_REQUEST_REJECTED"
	ErrCodeRegistryEmptyResponse   ErrorCode = "REGISTRY_EMPTY_RESPONSE"

	ErrCodePackageNotFound ErrorCode = "PACKAGE_NOT_FOUND"
	ErrCodeDataIntegrity   ErrorCode = "DATA_INTEGRITY"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"

	ErrCodeQueueEnqueueFailed ErrorCode = "QUEUE_ENQUEUE_FAILED"
	ErrCodeInvalidJobPayload  ErrorCode = "INVALID_JOB_PAYLOAD"

	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

// NewRegistryUnavailableError covers transport failures, timeouts, 401/403, 5xx, 408 and 429 responses.
func NewRegistryUnavailableError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRegistryUnavailable,
		Message:   "Registry unavailable",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewRegistryRequestRejectedError is used for the remaining 4xx responses and
// for requests that fail validation before sending. Package data can still be
// corrected, so it stays within the job's retry budget.
func NewRegistryRequestRejectedError(operation string, statusCode int, body string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRegistryRequestRejected,
		Message:   "Registry rejected the request",
		Details:   fmt.Sprintf("operation: %s, status: %d, body: %s", operation, statusCode, body),
		Retryable: true,
		Metadata:  map[string]interface{}{"statusCode": statusCode},
		Timestamp: time.Now().UTC(),
	}
}

// NewRegistryEmptyResponseError is the InternalError raised when a registry call returns no identifiable id.
func NewRegistryEmptyResponseError(operation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRegistryEmptyResponse,
		Message:   "Registry response has no id",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewPackageNotFoundError(packageID string) *StandardError {
	return &StandardError{
		Code:      ErrCodePackageNotFound,
		Message:   "Application package not found",
		Details:   fmt.Sprintf("packageId: %s", packageID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDataIntegrityError flags household or package data that contradicts itself.
func NewDataIntegrityError(packageID, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDataIntegrity,
		Message:   "Package data is corrupted",
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"packageId": packageID},
		Timestamp: time.Now().UTC(),
	}
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewQueueEnqueueFailedError(jobType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueueEnqueueFailed,
		Message:   "Failed to enqueue job",
		Details:   fmt.Sprintf("jobType: %s, error: %s", jobType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewInvalidJobPayloadError(jobType, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidJobPayload,
		Message:   "Job payload failed validation",
		Details:   fmt.Sprintf("jobType: %s, %s", jobType, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewNotificationSendFailedError(notificationType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("type: %s, error: %s", notificationType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewInternalError(message string, err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   message,
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// AsStandardError unwraps err to a *StandardError if one is in the chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// IsRetryable reports whether err should go back to the queue's retry policy.
// Errors that are not StandardErrors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Retryable
	}
	return true
}

// CodeOf returns the error code of err, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "REGISTRY"):
		return "REGISTRY"
	case code == ErrCodeDataIntegrity:
		return "DATA_INTEGRITY"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY") || code == ErrCodePackageNotFound:
		return "DATABASE"
	case strings.Contains(codeStr, "QUEUE") || strings.Contains(codeStr, "JOB"):
		return "QUEUE"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	default:
		return "INTERNAL"
	}
}
