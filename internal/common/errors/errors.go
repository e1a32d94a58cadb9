// Package errors provides the standardized error taxonomy of the notification pipeline.
package errors

import (
	"context"
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
	// Routing
	ErrCodeTemplateNotFound ErrorCode = "TEMPLATE_NOT_FOUND"

	// Structural
	ErrCodeTemplateDataInvalid ErrorCode = "TEMPLATE_DATA_INVALID"
	ErrCodeInvalidEvent        ErrorCode = "INVALID_EVENT"

	// Transport
	ErrCodeContactUnavailable     ErrorCode = "CONTACT_UNAVAILABLE"
	ErrCodeDecryptFailed          ErrorCode = "DECRYPT_FAILED"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeTransportTimeout       ErrorCode = "TRANSPORT_TIMEOUT"

	// Database
	ErrCodeDatabaseQueryFailed ErrorCode = "DATABASE_QUERY_FAILED"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"

	// Dispatch policy
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// Tracking
	ErrCodeRedirectNotAllowed ErrorCode = "REDIRECT_NOT_ALLOWED"

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

// ==========================
// 2. Error Constructors
// ==========================

// NewTemplateNotFoundError creates a non-retryable routing error.
func NewTemplateNotFoundError(trigger, channel string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "template missing",
		Details:   fmt.Sprintf("trigger: %s, channel: %s", trigger, channel),
		Retryable: false,
		Metadata:  map[string]interface{}{"trigger": trigger, "channel": channel},
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateDataInvalidError creates a non-retryable structural error.
func NewTemplateDataInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateDataInvalid,
		Message:   "Malformed template data",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidEventError creates a non-retryable validation error for inbound events.
func NewInvalidEventError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidEvent,
		Message:   "Invalid domain event",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewContactUnavailableError is retryable: contact data may be added before the next attempt.
func NewContactUnavailableError(username, field string) *StandardError {
	return &StandardError{
		Code:      ErrCodeContactUnavailable,
		Message:   "Recipient contact unavailable",
		Details:   fmt.Sprintf("username: %s, field: %s", username, field),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDecryptFailedError creates a retryable transport-class error.
func NewDecryptFailedError(field string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDecryptFailed,
		Message:   "Failed to decrypt contact field",
		Details:   fmt.Sprintf("field: %s, error: %v", field, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewNotificationSendFailedError creates a retryable transport error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification send failed",
		Details:   fmt.Sprintf("channel: %s, error: %v", channel, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewTransportTimeoutError creates a retryable timeout error.
func NewTransportTimeoutError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransportTimeout,
		Message:   "Transport call timed out",
		Details:   fmt.Sprintf("channel: %s, error: %v", channel, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewDatabaseQueryFailedError creates a retryable database error.
func NewDatabaseQueryFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseQueryFailed,
		Message:   "Database query failed",
		Details:   fmt.Sprintf("operation: %s, error: %v", operation, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewNotFoundError creates a non-retryable lookup error.
func NewNotFoundError(resource, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitedError marks an enqueue dropped by the per-recipient rate limit.
func NewRateLimitedError(username, trigger string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRateLimited,
		Message:   "Rate limit exceeded",
		Details:   fmt.Sprintf("username: %s, trigger: %s", username, trigger),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRedirectNotAllowedError rejects a click destination outside the allow-list.
func NewRedirectNotAllowedError(destination string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRedirectNotAllowed,
		Message:   "Redirect destination not allowed",
		Details:   destination,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Classification
// ==========================

// AsStandardError unwraps err to a StandardError if one is in the chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// IsRetryable reports whether err should be retried with backoff.
// Errors outside the taxonomy are treated as transport failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Retryable
	}
	return true
}

// CodeOf returns the error code of err, or INTERNAL_ERROR for foreign errors.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// ClassifyTransportError wraps a raw transport error into the taxonomy.
func ClassifyTransportError(channel string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsStandardError(err); ok {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) || isTimeoutMessage(err) {
		return NewTransportTimeoutError(channel, err)
	}
	return NewNotificationSendFailedError(channel, err)
}

func isTimeoutMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, phrase := range []string{"timeout", "deadline exceeded", "timed out"} {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeTemplateNotFound:
		return "ROUTING"
	case ErrCodeTemplateDataInvalid, ErrCodeInvalidEvent:
		return "STRUCTURAL"
	case ErrCodeContactUnavailable, ErrCodeDecryptFailed, ErrCodeNotificationSendFailed, ErrCodeTransportTimeout:
		return "TRANSPORT"
	case ErrCodeDatabaseQueryFailed, ErrCodeNotFound:
		return "DATABASE"
	case ErrCodeRedirectNotAllowed:
		return "TRACKING"
	default:
		return "OTHER"
	}
}
