package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/vocalid/internal/auth"
	"github.com/BradenHooton/vocalid/internal/models"
	"github.com/BradenHooton/vocalid/internal/services"
	pkghttp "github.com/BradenHooton/vocalid/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gateNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type stubSessions struct {
	session *models.SessionData
}

func (s stubSessions) ExtractSession(*http.Request) *models.SessionData {
	return s.session
}

type panicLimiter struct{}

func (panicLimiter) Check(context.Context, string) models.RateLimitResult {
	panic("limiter exploded")
}

func newTestLimiter(t *testing.T, max int, window time.Duration) *services.RateLimiter {
	t.Helper()
	l, err := services.NewRateLimiter("test", services.RateLimiterConfig{Window: window, MaxRequests: max}, nil, gateLogger())
	require.NoError(t, err)
	return l.WithClock(func() time.Time { return gateNow })
}

func gateLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGate(t *testing.T, session *models.SessionData, config GateConfig) (*RequestGate, *services.AuditService) {
	t.Helper()
	limiters := GateLimiters{
		Strict: newTestLimiter(t, 5, 15*time.Minute),
		Admin:  newTestLimiter(t, 50, time.Minute),
		API:    newTestLimiter(t, 100, time.Minute),
	}
	audit := services.NewAuditService(100, gateLogger())
	gate := NewRequestGate(limiters, stubSessions{session: session}, audit, config, gateLogger()).
		WithClock(func() time.Time { return gateNow })
	return gate, audit
}

func adminSession() *models.SessionData {
	return &models.SessionData{
		SessionClaims: models.SessionClaims{UserID: "admin-1", Email: "admin@example.com", Role: models.RoleAdmin},
		SessionID:     "sess-admin",
	}
}

func userSession() *models.SessionData {
	return &models.SessionData{
		SessionClaims: models.SessionClaims{UserID: "user-1", Email: "user@example.com", Role: models.RoleUser},
		SessionID:     "sess-user",
	}
}

func newGateRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	return req
}

func TestRequestGate_AllowsAPIRequestWithHeaders(t *testing.T) {
	gate, audit := newTestGate(t, nil, DefaultGateConfig())

	w := httptest.NewRecorder()
	outcome, _ := gate.Evaluate(w, newGateRequest(http.MethodGet, "/api/voice/challenge"))

	assert.Equal(t, OutcomeAllowed, outcome)
	assert.Equal(t, "99", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1740830460000", w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Regexp(t, `^req_[0-9a-f-]{36}$`, w.Header().Get("X-Request-ID"))

	logs := audit.GetLogs(models.AuditFilter{EventType: models.AuditEventAPIRequest})
	require.Len(t, logs, 1)
	entry := logs[0]
	assert.Equal(t, models.SeverityInfo, entry.Severity)
	assert.Equal(t, "GET /api/voice/challenge", entry.EventDescription)
	assert.Equal(t, "203.0.113.7", *entry.IPAddress)
	assert.Equal(t, 99, entry.AdditionalData["rateLimitRemaining"])
	assert.Equal(t, w.Header().Get("X-Request-ID"), entry.AdditionalData["requestId"])
}

func TestRequestGate_RateLimitExceeded(t *testing.T) {
	gate, audit := newTestGate(t, nil, DefaultGateConfig())

	for i := 0; i < 5; i++ {
		outcome, _ := gate.Evaluate(httptest.NewRecorder(), newGateRequest(http.MethodPost, "/api/voice/authenticate"))
		require.Equal(t, OutcomeAllowed, outcome, "request %d", i+1)
	}

	w := httptest.NewRecorder()
	outcome, _ := gate.Evaluate(w, newGateRequest(http.MethodPost, "/api/voice/authenticate"))

	assert.Equal(t, OutcomeRateLimited, outcome)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "900", w.Header().Get("Retry-After"))
	assert.Empty(t, w.Header().Get("X-Request-ID"))

	var body rateLimitResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "Rate limit exceeded", body.Error)
	assert.Equal(t, 900, body.RetryAfter)

	logs := audit.GetLogs(models.AuditFilter{EventType: models.AuditEventRateLimitExceeded})
	require.Len(t, logs, 1)
	assert.Equal(t, models.SeverityWarning, logs[0].Severity)
	assert.Equal(t, 0, logs[0].AdditionalData["remaining"])
}

func TestRequestGate_RateLimitIsPerClient(t *testing.T) {
	gate, _ := newTestGate(t, nil, DefaultGateConfig())

	for i := 0; i < 5; i++ {
		gate.Evaluate(httptest.NewRecorder(), newGateRequest(http.MethodPost, "/api/auth/login"))
	}

	req := newGateRequest(http.MethodPost, "/api/auth/login")
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	outcome, _ := gate.Evaluate(httptest.NewRecorder(), req)
	assert.Equal(t, OutcomeAllowed, outcome)
}

func TestRequestGate_AdminWithoutSessionRedirects(t *testing.T) {
	gate, audit := newTestGate(t, nil, DefaultGateConfig())

	w := httptest.NewRecorder()
	outcome, _ := gate.Evaluate(w, newGateRequest(http.MethodGet, "/api/admin/users"))

	assert.Equal(t, OutcomeRedirected, outcome)
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))

	logs := audit.GetLogs(models.AuditFilter{EventType: models.AuditEventUnauthorizedAdmin})
	require.Len(t, logs, 1)
	assert.Equal(t, models.SeverityWarning, logs[0].Severity)
}

func TestRequestGate_AdminPageWithUserSessionRedirects(t *testing.T) {
	gate, audit := newTestGate(t, userSession(), DefaultGateConfig())

	w := httptest.NewRecorder()
	outcome, _ := gate.Evaluate(w, newGateRequest(http.MethodGet, "/admin/settings"))

	assert.Equal(t, OutcomeRedirected, outcome)
	logs := audit.GetLogs(models.AuditFilter{EventType: models.AuditEventUnauthorizedAdmin})
	require.Len(t, logs, 1)
	assert.Equal(t, "user-1", *logs[0].UserID)
	// page routes are not rate limited
	assert.Empty(t, audit.GetLogs(models.AuditFilter{EventType: models.AuditEventAPIRequest}))
}

func TestRequestGate_AdminAllowed(t *testing.T) {
	gate, audit := newTestGate(t, adminSession(), DefaultGateConfig())

	var seen *models.SessionData
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.GetSessionFromContext(r)
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	gate.Middleware(next).ServeHTTP(w, newGateRequest(http.MethodGet, "/api/admin/audit-logs"))

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "sess-admin", seen.SessionID)

	logs := audit.GetLogs(models.AuditFilter{EventType: models.AuditEventAdminAccess})
	require.Len(t, logs, 1)
	assert.Equal(t, "sess-admin", logs[0].AdditionalData["sessionId"])
	assert.Equal(t, "admin-1", *logs[0].UserID)
}

func TestRequestGate_DashboardRequiresSession(t *testing.T) {
	gate, audit := newTestGate(t, nil, DefaultGateConfig())

	w := httptest.NewRecorder()
	outcome, _ := gate.Evaluate(w, newGateRequest(http.MethodGet, "/dashboard"))

	assert.Equal(t, OutcomeRedirected, outcome)
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Len(t, audit.GetLogs(models.AuditFilter{EventType: models.AuditEventUnauthorizedArea}), 1)

	gate, _ = newTestGate(t, userSession(), DefaultGateConfig())
	outcome, _ = gate.Evaluate(httptest.NewRecorder(), newGateRequest(http.MethodGet, "/dashboard/profile"))
	assert.Equal(t, OutcomeAllowed, outcome)
}

func TestRequestGate_PublicPathAllowed(t *testing.T) {
	gate, audit := newTestGate(t, nil, DefaultGateConfig())

	w := httptest.NewRecorder()
	outcome, _ := gate.Evaluate(w, newGateRequest(http.MethodGet, "/about"))

	assert.Equal(t, OutcomeAllowed, outcome)
	assert.Empty(t, w.Header().Get("X-RateLimit-Remaining"))
	assert.Zero(t, audit.Len())
}

func TestRequestGate_PanicPassesThrough(t *testing.T) {
	gate, audit := newTestGate(t, nil, DefaultGateConfig())
	gate.limiters.Strict = panicLimiter{}

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	gate.Middleware(next).ServeHTTP(w, newGateRequest(http.MethodPost, "/api/voice/enroll"))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, w.Code)

	logs := audit.GetLogs(models.AuditFilter{EventType: models.AuditEventMiddlewareError})
	require.Len(t, logs, 1)
	assert.Equal(t, models.SeverityCritical, logs[0].Severity)
	assert.Contains(t, logs[0].AdditionalData["error"], "limiter exploded")
}

func TestRequestGate_FailClosed(t *testing.T) {
	config := DefaultGateConfig()
	config.FailClosed = true
	gate, _ := newTestGate(t, nil, config)
	gate.limiters.API = panicLimiter{}

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	w := httptest.NewRecorder()
	gate.Middleware(next).ServeHTTP(w, newGateRequest(http.MethodGet, "/api/voice/challenge"))

	assert.False(t, called)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestGate_UsesTrustedProxyConfig(t *testing.T) {
	config := DefaultGateConfig()
	config.IPConfig = &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}
	gate, _ := newTestGate(t, nil, config)

	// spoofed header from an untrusted peer is ignored, so every request
	// counts against the connection address
	for i := 0; i < 5; i++ {
		req := newGateRequest(http.MethodPost, "/api/auth/login")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.9.9.%d", i+1))
		gate.Evaluate(httptest.NewRecorder(), req)
	}

	w := httptest.NewRecorder()
	outcome, _ := gate.Evaluate(w, newGateRequest(http.MethodPost, "/api/auth/login"))
	assert.Equal(t, OutcomeRateLimited, outcome)
}
