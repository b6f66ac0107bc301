package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Severity classifies an audit entry
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// RaisesSecurityEvent reports whether entries of this severity trigger a security event
func (s Severity) RaisesSecurityEvent() bool {
	return s == SeverityError || s == SeverityCritical
}

// Event types for audit logging
const (
	AuditEventAPIRequest          = "api_request"
	AuditEventAuthSuccess         = "auth_success"
	AuditEventAuthFailure         = "auth_failure"
	AuditEventRateLimitExceeded   = "rate_limit_exceeded"
	AuditEventAdminAccess         = "admin_access"
	AuditEventUnauthorizedAdmin   = "unauthorized_admin_access"
	AuditEventUnauthorizedArea    = "unauthorized_dashboard_access"
	AuditEventMiddlewareError     = "middleware_error"
	AuditEventAuditLogAccess      = "audit_log_access"
	AuditEventAuditLogAccessError = "audit_log_access_error"
	AuditEventSessionIssued       = "session_issued"
	AuditEventSessionRefreshed    = "session_refreshed"
	AuditEventSessionInvalidated  = "session_invalidated"
	AuditEventVoiceEnrolled       = "voice_enrolled"
	AuditEventVoiceEnrollRejected = "voice_enrollment_rejected"
	AuditEventDeepfakeSuspected   = "deepfake_suspected"
	AuditEventLivenessCheck       = "liveness_check"
)

// AuditLogEntry is an immutable record of a security-relevant action
type AuditLogEntry struct {
	ID               string        `json:"id" db:"id"`
	Timestamp        time.Time     `json:"timestamp" db:"timestamp"`
	UserID           *string       `json:"userId,omitempty" db:"user_id"`
	SessionID        *string       `json:"sessionId,omitempty" db:"session_id"`
	EventType        string        `json:"eventType" db:"event_type"`
	EventDescription string        `json:"eventDescription" db:"event_description"`
	Severity         Severity      `json:"severity" db:"severity"`
	IPAddress        *string       `json:"ipAddress,omitempty" db:"ip_address"`
	UserAgent        *string       `json:"userAgent,omitempty" db:"user_agent"`
	RequestPath      *string       `json:"requestPath,omitempty" db:"request_path"`
	RequestMethod    *string       `json:"requestMethod,omitempty" db:"request_method"`
	ResponseStatus   *int          `json:"responseStatus,omitempty" db:"response_status"`
	AdditionalData   AuditMetadata `json:"additionalData,omitempty" db:"additional_data"`
}

// AuditFilter selects entries from the audit log. Zero values match everything.
type AuditFilter struct {
	UserID    string     `json:"userId,omitempty"`
	EventType string     `json:"eventType,omitempty"`
	Severity  Severity   `json:"severity,omitempty"`
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// Matches reports whether the entry passes every non-limit criterion of the filter
func (f AuditFilter) Matches(e *AuditLogEntry) bool {
	if f.UserID != "" && (e.UserID == nil || *e.UserID != f.UserID) {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.StartDate != nil && e.Timestamp.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && e.Timestamp.After(*f.EndDate) {
		return false
	}
	return true
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(am))
}

// StringPtr returns a pointer to s, or nil when s is empty
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
