package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMapToZapFields(t *testing.T) {
	assert.Nil(t, mapToZapFields(nil))

	fields := mapToZapFields(map[string]interface{}{
		"channel": "email",
		"error":   errors.New("boom"),
	})
	assert.Len(t, fields, 2)
}

func TestForComponent_AddsComponentField(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := NewZapAdapter(zap.New(core))

	ForComponent(base, "queue").Info("claimed", map[string]interface{}{"count": 3})

	entries := logs.All()
	assert.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "queue", ctx["component"])
	assert.Equal(t, int64(3), ctx["count"])
}

func TestForComponent_NilLogger(t *testing.T) {
	l := ForComponent(nil, "reaper")
	assert.NotNil(t, l)
	l.Info("ok", nil)
}

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level    string
		format   string
		expected zapcore.Level
	}{
		{"debug", "console", zapcore.DebugLevel},
		{"info", "json", zapcore.InfoLevel},
		{"warn", "json", zapcore.WarnLevel},
		{"error", "console", zapcore.ErrorLevel},
		{"", "json", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			l := New(tt.level, tt.format)
			assert.True(t, l.Core().Enabled(tt.expected))
			if tt.expected > zapcore.DebugLevel {
				assert.False(t, l.Core().Enabled(tt.expected-1))
			}
		})
	}
}
