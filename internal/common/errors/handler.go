// internal/common/errors/handler.go
package errors

import (
	"time"
)

// ErrorHandler normalizes per-item failures and logs them in one shape.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleDeliveryError logs a failed delivery attempt and returns the normalized error.
func (h *ErrorHandler) HandleDeliveryError(notificationID string, attempts int, err error) *StandardError {
	stdErr := h.Normalize(err)

	h.logger.Error("delivery failed", map[string]interface{}{
		"notificationId": notificationID,
		"attempts":       attempts,
		"errorCode":      string(stdErr.Code),
		"errorCategory":  GetErrorCategory(stdErr.Code),
		"message":        stdErr.Message,
		"details":        stdErr.Details,
		"retryable":      stdErr.Retryable,
	})

	return stdErr
}

// Normalize ensures we always have a StandardError. Foreign errors are
// treated as retryable transport failures.
func (h *ErrorHandler) Normalize(err error) *StandardError {
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
