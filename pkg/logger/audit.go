package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent is the structured-log view of an audit entry
type AuditEvent struct {
	ID             string
	EventType      string
	Description    string
	Severity       string
	UserID         string
	SessionID      string
	IPAddress      string
	UserAgent      string
	RequestPath    string
	RequestMethod  string
	ResponseStatus int
	Timestamp      time.Time
	Metadata       map[string]interface{}
}

// AuditLogger writes audit events to slog
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogEvent emits one "audit" line at a level derived from the event severity
func (al *AuditLogger) LogEvent(ctx context.Context, event AuditEvent) {
	al.logger.LogAttrs(ctx, SeverityLevel(event.Severity), "audit", eventAttrs("audit", event)...)
}

// LogSecurityEvent emits a "security_event" line for high severity entries.
// Alert delivery is handled by the configured alert sink, not here.
func (al *AuditLogger) LogSecurityEvent(ctx context.Context, event AuditEvent) {
	al.logger.LogAttrs(ctx, slog.LevelError, "security_event", eventAttrs("security", event)...)
}

// SeverityLevel maps an audit severity onto a slog level
func SeverityLevel(severity string) slog.Level {
	switch severity {
	case "warning":
		return slog.LevelWarn
	case "error", "critical":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func eventAttrs(auditType string, event AuditEvent) []slog.Attr {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("audit_id", event.ID),
		slog.String("event_type", event.EventType),
		slog.String("severity", event.Severity),
		slog.String("description", event.Description),
		slog.String("timestamp", ts.UTC().Format(time.RFC3339Nano)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.RequestPath != "" {
		attrs = append(attrs, slog.String("path", event.RequestPath))
	}
	if event.RequestMethod != "" {
		attrs = append(attrs, slog.String("method", event.RequestMethod))
	}
	if event.ResponseStatus != 0 {
		attrs = append(attrs, slog.Int("status", event.ResponseStatus))
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Any("additional_data", event.Metadata))
	}

	return attrs
}
