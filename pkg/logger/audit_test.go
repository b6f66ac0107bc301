package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func TestSeverityLevel(t *testing.T) {
	tests := []struct {
		severity string
		expected slog.Level
	}{
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"critical", slog.LevelError},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, SeverityLevel(tt.severity), "severity %q", tt.severity)
	}
}

func TestLogEvent_WritesOptionalFieldsOnlyWhenSet(t *testing.T) {
	logger, buf := newBufferLogger()
	al := NewAuditLogger(logger)

	al.LogEvent(context.Background(), AuditEvent{
		ID:          "audit-1",
		EventType:   "api_request",
		Description: "GET /api/voice/challenge",
		Severity:    "warning",
		IPAddress:   "203.0.113.10",
	})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))

	assert.Equal(t, "audit", line["msg"])
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "api_request", line["event_type"])
	assert.Equal(t, "203.0.113.10", line["ip_address"])
	assert.NotContains(t, line, "user_id")
	assert.NotContains(t, line, "status")
}

func TestLogSecurityEvent_LogsAtError(t *testing.T) {
	logger, buf := newBufferLogger()
	al := NewAuditLogger(logger)

	al.LogSecurityEvent(context.Background(), AuditEvent{
		ID:        "audit-2",
		EventType: "middleware_error",
		Severity:  "critical",
		Metadata:  map[string]interface{}{"error": "boom"},
	})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))

	assert.Equal(t, "security_event", line["msg"])
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "security", line["audit_type"])
	assert.NotNil(t, line["additional_data"])
}

func TestSanitizedEmail(t *testing.T) {
	assert.Equal(t, "a****@*******.com", SanitizedEmail("alice@example.com"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("not-an-email"))
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("token=abc"))
	assert.True(t, SanitizeQueryString("access_token=abc"))
	assert.True(t, SanitizeQueryString("userId=u-1&limit=5"))
	assert.True(t, SanitizeQueryString("a=%zz"))
	assert.False(t, SanitizeQueryString("severity=warning&limit=10"))
	assert.False(t, SanitizeQueryString(""))
}
