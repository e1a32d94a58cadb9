package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"template missing", NewTemplateNotFoundError("favorited", "email"), false},
		{"malformed data", NewTemplateDataInvalidError("bad"), false},
		{"decrypt failure", NewDecryptFailedError("email", stderrors.New("bad key")), true},
		{"send failure", NewNotificationSendFailedError("sms", stderrors.New("throttled")), true},
		{"wrapped send failure", fmt.Errorf("tick: %w", NewTransportTimeoutError("push", context.DeadlineExceeded)), true},
		{"foreign error", stderrors.New("connection reset by peer"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestClassifyTransportError(t *testing.T) {
	assert.Nil(t, ClassifyTransportError("email", nil))

	err := ClassifyTransportError("email", context.DeadlineExceeded)
	assert.Equal(t, ErrCodeTransportTimeout, CodeOf(err))
	assert.True(t, stderrors.Is(err, context.DeadlineExceeded))

	err = ClassifyTransportError("sms", stderrors.New("i/o timeout"))
	assert.Equal(t, ErrCodeTransportTimeout, CodeOf(err))

	err = ClassifyTransportError("sms", stderrors.New("InvalidParameter: phone"))
	assert.Equal(t, ErrCodeNotificationSendFailed, CodeOf(err))

	orig := NewContactUnavailableError("alice", "phone")
	assert.Same(t, orig, ClassifyTransportError("sms", orig))
}

func TestStandardError_Message(t *testing.T) {
	err := NewTemplateNotFoundError("favorited", "email")
	assert.Equal(t, "StandardError[TEMPLATE_NOT_FOUND]: template missing: trigger: favorited, channel: email", err.Error())

	stdErr, ok := AsStandardError(fmt.Errorf("wrap: %w", err))
	require.True(t, ok)
	assert.Equal(t, "email", stdErr.Metadata["channel"])
	assert.True(t, Is(err, ErrCodeTemplateNotFound))
	assert.False(t, Is(nil, ErrCodeTemplateNotFound))
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "ROUTING", GetErrorCategory(ErrCodeTemplateNotFound))
	assert.Equal(t, "STRUCTURAL", GetErrorCategory(ErrCodeTemplateDataInvalid))
	assert.Equal(t, "TRANSPORT", GetErrorCategory(ErrCodeDecryptFailed))
	assert.Equal(t, "DATABASE", GetErrorCategory(ErrCodeDatabaseQueryFailed))
	assert.Equal(t, "TRACKING", GetErrorCategory(ErrCodeRedirectNotAllowed))
	assert.Equal(t, "OTHER", GetErrorCategory(ErrCodeInternal))
}
