package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/vocalid/internal/auth"
	"github.com/BradenHooton/vocalid/internal/background"
	"github.com/BradenHooton/vocalid/internal/handlers"
	"github.com/BradenHooton/vocalid/internal/middleware"
	"github.com/BradenHooton/vocalid/internal/models"
	"github.com/BradenHooton/vocalid/internal/routes"
	"github.com/BradenHooton/vocalid/internal/services"
	pkgauth "github.com/BradenHooton/vocalid/pkg/auth"
)

const testSessionSecret = "integration-session-secret-32-characters"

// AdminProfiles is a RoleResolver whose admin set tests can extend after
// enrollment
type AdminProfiles struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// Grant gives voiceProfileID the admin role
func (a *AdminProfiles) Grant(voiceProfileID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids[voiceProfileID] = struct{}{}
}

// RoleFor implements services.RoleResolver
func (a *AdminProfiles) RoleFor(_ context.Context, _ string, voiceProfileID string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.ids[voiceProfileID]; ok {
		return models.RoleAdmin
	}
	return models.RoleUser
}

// AlertRecorder captures entries routed to the alert sink
type AlertRecorder struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
}

// Emit records the entry
func (a *AlertRecorder) Emit(_ context.Context, entry *models.AuditLogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

// Entries returns a copy of the recorded entries
func (a *AlertRecorder) Entries() []*models.AuditLogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*models.AuditLogEntry(nil), a.entries...)
}

// TestServer wraps httptest.Server with the full middleware and handler stack.
// Rate limit counters live in a miniredis instance; audit entries are
// persisted to the test database when one is given.
type TestServer struct {
	Server *httptest.Server
	Redis  *miniredis.Miniredis
	Audit  *services.AuditService
	Alerts *AlertRecorder
	Admins *AdminProfiles

	persist *background.Dispatcher
	alerts  *background.Dispatcher
	client  *redis.Client
}

// NewTestServer initializes a complete HTTP server. db may be nil.
func NewTestServer(db *TestDB) (*TestServer, error) {
	return NewTestServerWithCapacity(db, 1000)
}

// NewTestServerWithCapacity is NewTestServer with a custom in-memory audit capacity
func NewTestServerWithCapacity(db *TestDB, auditCapacity int) (*TestServer, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	mr, err := miniredis.Run()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := services.NewRedisRateLimitStore(client, "test:ratelimit:")

	ts := &TestServer{
		Redis:  mr,
		Alerts: &AlertRecorder{},
		Admins: &AdminProfiles{ids: map[string]struct{}{}},
		client: client,
	}

	ts.Audit = services.NewAuditService(auditCapacity, logger)
	if db != nil {
		ts.persist = background.NewDispatcher("audit_store", db.NewAuditRepository(), 256, logger)
		ts.Audit.WithPersistence(ts.persist)
	}
	ts.alerts = background.NewDispatcher("security_alerts", ts.Alerts, 64, logger)
	ts.Audit.WithAlerts(ts.alerts)

	limits := services.DefaultRateLimits()
	newLimiter := func(class services.RouteClass) (*services.RateLimiter, error) {
		return services.NewRateLimiter(string(class), limits[class], store, logger)
	}
	strict, err := newLimiter(services.RouteClassStrict)
	if err != nil {
		return nil, err
	}
	admin, err := newLimiter(services.RouteClassAdmin)
	if err != nil {
		return nil, err
	}
	api, err := newLimiter(services.RouteClassAPI)
	if err != nil {
		return nil, err
	}

	sessions, err := auth.NewSessionManager(auth.DefaultSessionConfig(testSessionSecret), ts.Audit, logger)
	if err != nil {
		return nil, err
	}
	cipher, err := pkgauth.NewVoiceCipher("integration-voice-key", "integration-salt")
	if err != nil {
		return nil, err
	}

	verifiers := services.NewDefaultVoiceVerifiers(cipher, time.Minute, nil)
	verifiers.Roles = ts.Admins
	voice := services.NewVoiceService(ts.Audit, sessions, cipher, verifiers, services.VoiceConfig{
		SpectralWindow: 1024,
		Environment:    "test",
	}, logger)
	timing := auth.NewTimingDelay(auth.TimingConfig{Floor: time.Millisecond})
	cookies := auth.CookieConfig{SameSite: "strict"}
	ttl := 24 * time.Hour

	auditHandler := handlers.NewAuditHandler(ts.Audit, sessions, logger)
	if db != nil {
		auditHandler.WithArchive(db.NewAuditRepository())
	}

	h := routes.Handlers{
		Voice:   handlers.NewVoiceHandler(voice, timing, cookies, ttl, logger),
		Session: handlers.NewSessionHandler(sessions, ts.Audit, cookies, ttl, logger),
		Audit:   auditHandler,
		Health: handlers.NewHealthHandler(map[string]handlers.HealthChecker{
			"redis": func(ctx context.Context) error { return client.Ping(ctx).Err() },
		}),
	}

	gate := middleware.NewRequestGate(middleware.GateLimiters{Strict: strict, Admin: admin, API: api},
		sessions, ts.Audit, middleware.DefaultGateConfig(), logger)

	router := routes.NewRouter(routes.RouterConfig{
		Env:             "test",
		HealthRateLimit: middleware.DefaultHealthRateLimit(),
	}, h, gate, sessions, logger)

	ts.Server = httptest.NewServer(router)
	return ts, nil
}

// Close shuts down the server and drains the audit sinks
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
	ts.persist.Close()
	ts.alerts.Close()
	if ts.client != nil {
		ts.client.Close()
	}
	if ts.Redis != nil {
		ts.Redis.Close()
	}
}

// Client returns an HTTP client that does not follow redirects
func (ts *TestServer) Client() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Request makes an HTTP request to the test server. A non-empty token is sent
// as the session cookie.
func (ts *TestServer) Request(method, path string, body interface{}, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: token})
	}

	return ts.Client().Do(req)
}

// Enroll posts samples to /api/voice/enroll and decodes the 201 response
func (ts *TestServer) Enroll(userID string, samples []float32) (*models.EnrollmentResult, error) {
	resp, err := ts.Request(http.MethodPost, "/api/voice/enroll", map[string]interface{}{
		"userId":  userID,
		"samples": samples,
	}, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		return nil, fmt.Errorf("enroll returned %d", resp.StatusCode)
	}

	var result models.EnrollmentResult
	if err := ParseJSONResponse(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Challenge fetches a fresh challenge from /api/voice/challenge
func (ts *TestServer) Challenge() (*models.Challenge, error) {
	resp, err := ts.Request(http.MethodGet, "/api/voice/challenge", nil, "")
	if err != nil {
		return nil, err
	}

	var challenge models.Challenge
	if err := ParseJSONResponse(resp, &challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// SessionCookie returns the session cookie value set by resp, if any
func SessionCookie(resp *http.Response) string {
	for _, c := range resp.Cookies() {
		if c.Name == auth.SessionCookieName {
			return c.Value
		}
	}
	return ""
}
