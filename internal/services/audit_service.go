package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/vocalid/internal/background"
	"github.com/BradenHooton/vocalid/internal/models"
	pkghttp "github.com/BradenHooton/vocalid/pkg/http"
	"github.com/BradenHooton/vocalid/pkg/logger"
	"github.com/google/uuid"
)

// DefaultAuditCapacity is the number of entries retained in memory
const DefaultAuditCapacity = 1000

// AuditService keeps a bounded in-memory audit log and mirrors every entry to
// slog. Persistence and alerting are optional and run on background dispatchers.
type AuditService struct {
	mu       sync.RWMutex
	buf      []*models.AuditLogEntry
	start    int
	size     int
	capacity int
	evicted  bool

	logger    *slog.Logger
	emitter   *logger.AuditLogger
	persist   *background.Dispatcher
	alerts    *background.Dispatcher
	resolveIP pkghttp.IPResolver
	now       func() time.Time
}

// NewAuditService creates a new AuditService holding at most capacity entries
func NewAuditService(capacity int, log *slog.Logger) *AuditService {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}

	return &AuditService{
		buf:       make([]*models.AuditLogEntry, capacity),
		capacity:  capacity,
		logger:    log,
		emitter:   logger.NewAuditLogger(log),
		resolveIP: pkghttp.ClientIP,
		now:       time.Now,
	}
}

// WithPersistence forwards every entry to a durable sink dispatcher
func (s *AuditService) WithPersistence(d *background.Dispatcher) *AuditService {
	s.persist = d
	return s
}

// WithAlerts forwards error and critical entries to an alert dispatcher
func (s *AuditService) WithAlerts(d *background.Dispatcher) *AuditService {
	s.alerts = d
	return s
}

// WithIPResolver sets how client addresses are recorded. It must match the
// resolver the request gate keys its limiters on.
func (s *AuditService) WithIPResolver(resolve pkghttp.IPResolver) *AuditService {
	if resolve != nil {
		s.resolveIP = resolve
	}
	return s
}

// ClientIP returns the address recorded for r
func (s *AuditService) ClientIP(r *http.Request) string {
	return s.resolveIP(r)
}

// WithClock replaces the timestamp source. Used by tests.
func (s *AuditService) WithClock(now func() time.Time) *AuditService {
	s.now = now
	return s
}

// Log records an entry. ID and Timestamp are always assigned here.
func (s *AuditService) Log(ctx context.Context, entry models.AuditLogEntry) *models.AuditLogEntry {
	if !entry.Severity.Valid() {
		entry.Severity = models.SeverityInfo
	}
	entry.ID = "audit_" + uuid.NewString()
	entry.Timestamp = s.now().UTC()

	stored := &entry
	s.append(stored)

	event := toLogEvent(stored)
	s.emitter.LogEvent(ctx, event)
	s.persist.Enqueue(stored)

	if stored.Severity.RaisesSecurityEvent() {
		s.emitter.LogSecurityEvent(ctx, event)
		s.alerts.Enqueue(stored)
	}

	return stored
}

func (s *AuditService) append(entry *models.AuditLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size < s.capacity {
		s.buf[(s.start+s.size)%s.capacity] = entry
		s.size++
		return
	}

	// full: overwrite the oldest slot
	s.evicted = true
	s.buf[s.start] = entry
	s.start = (s.start + 1) % s.capacity
}

// LogRequest records an api_request entry. Status codes >= 400 are warnings.
func (s *AuditService) LogRequest(ctx context.Context, r *http.Request, status int, extra models.AuditMetadata) *models.AuditLogEntry {
	severity := models.SeverityInfo
	if status >= http.StatusBadRequest {
		severity = models.SeverityWarning
	}

	return s.Log(ctx, models.AuditLogEntry{
		EventType:        models.AuditEventAPIRequest,
		EventDescription: fmt.Sprintf("%s %s", r.Method, r.URL.Path),
		Severity:         severity,
		IPAddress:        models.StringPtr(s.resolveIP(r)),
		UserAgent:        models.StringPtr(r.UserAgent()),
		RequestPath:      models.StringPtr(r.URL.Path),
		RequestMethod:    models.StringPtr(r.Method),
		ResponseStatus:   &status,
		AdditionalData:   extra,
	})
}

// LogAuthentication records the outcome of a voice authentication attempt
func (s *AuditService) LogAuthentication(ctx context.Context, userID string, success bool, r *http.Request, extra models.AuditMetadata) *models.AuditLogEntry {
	entry := models.AuditLogEntry{
		UserID:           models.StringPtr(userID),
		EventType:        models.AuditEventAuthFailure,
		EventDescription: "User authentication failed",
		Severity:         models.SeverityWarning,
		AdditionalData:   extra,
	}
	if success {
		entry.EventType = models.AuditEventAuthSuccess
		entry.EventDescription = "User authentication successful"
		entry.Severity = models.SeverityInfo
	}
	if r != nil {
		entry.IPAddress = models.StringPtr(s.resolveIP(r))
		entry.UserAgent = models.StringPtr(r.UserAgent())
	}

	return s.Log(ctx, entry)
}

// LogSecurityEvent records an arbitrary security event. r may be nil.
func (s *AuditService) LogSecurityEvent(ctx context.Context, eventType, description string, severity models.Severity, userID string, r *http.Request, extra models.AuditMetadata) *models.AuditLogEntry {
	entry := models.AuditLogEntry{
		UserID:           models.StringPtr(userID),
		EventType:        eventType,
		EventDescription: description,
		Severity:         severity,
		AdditionalData:   extra,
	}
	if r != nil {
		entry.IPAddress = models.StringPtr(s.resolveIP(r))
		entry.UserAgent = models.StringPtr(r.UserAgent())
	}

	return s.Log(ctx, entry)
}

// GetLogs returns matching entries, newest first.
//
// Filters apply in a fixed order: exact match on user, event type and
// severity, then the inclusive date range, then the most recent Limit
// survivors in insertion order, then a stable sort by timestamp descending.
func (s *AuditService) GetLogs(filter models.AuditFilter) []models.AuditLogEntry {
	s.mu.RLock()
	matched := make([]models.AuditLogEntry, 0, s.size)
	for i := 0; i < s.size; i++ {
		entry := s.buf[(s.start+i)%s.capacity]
		if filter.Matches(entry) {
			matched = append(matched, *entry)
		}
	}
	s.mu.RUnlock()

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[len(matched)-filter.Limit:]
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	return matched
}

// Covers reports whether the retained entries fully answer filter, given that
// GetLogs returned matched entries for it. It is false once older entries
// have been evicted and the query may reach past the oldest retained one.
func (s *AuditService) Covers(filter models.AuditFilter, matched int) bool {
	if filter.Limit > 0 && matched >= filter.Limit {
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.evicted || s.size == 0 {
		return true
	}
	oldest := s.buf[s.start].Timestamp
	return filter.StartDate != nil && !filter.StartDate.Before(oldest)
}

// Len returns the number of retained entries
func (s *AuditService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Capacity returns the maximum number of retained entries
func (s *AuditService) Capacity() int {
	return s.capacity
}

func toLogEvent(e *models.AuditLogEntry) logger.AuditEvent {
	event := logger.AuditEvent{
		ID:          e.ID,
		EventType:   e.EventType,
		Description: e.EventDescription,
		Severity:    string(e.Severity),
		Timestamp:   e.Timestamp,
		Metadata:    e.AdditionalData,
	}
	if e.UserID != nil {
		event.UserID = *e.UserID
	}
	if e.SessionID != nil {
		event.SessionID = *e.SessionID
	}
	if e.IPAddress != nil {
		event.IPAddress = *e.IPAddress
	}
	if e.UserAgent != nil {
		event.UserAgent = *e.UserAgent
	}
	if e.RequestPath != nil {
		event.RequestPath = *e.RequestPath
	}
	if e.RequestMethod != nil {
		event.RequestMethod = *e.RequestMethod
	}
	if e.ResponseStatus != nil {
		event.ResponseStatus = *e.ResponseStatus
	}
	return event
}
