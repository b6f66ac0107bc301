package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/vocalid/internal/auth"
	"github.com/BradenHooton/vocalid/internal/models"
	"github.com/BradenHooton/vocalid/internal/services"
	pkghttp "github.com/BradenHooton/vocalid/pkg/http"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// GateOutcome is the terminal state of a request gate evaluation
type GateOutcome string

const (
	OutcomeAllowed       GateOutcome = "allowed"
	OutcomeRateLimited   GateOutcome = "rate_limited"
	OutcomeRedirected    GateOutcome = "redirected"
	OutcomePassedThrough GateOutcome = "passed_through"
	// OutcomeFailedClosed is only reachable with GateConfig.FailClosed
	OutcomeFailedClosed GateOutcome = "failed_closed"
)

// Limiter counts a request against an identity key
type Limiter interface {
	Check(ctx context.Context, key string) models.RateLimitResult
}

// GateLimiters holds one limiter per route class
type GateLimiters struct {
	Strict Limiter
	Admin  Limiter
	API    Limiter
}

func (l GateLimiters) forPath(path string) Limiter {
	switch services.ClassifyRoute(path) {
	case services.RouteClassAdmin:
		return l.Admin
	case services.RouteClassStrict:
		return l.Strict
	default:
		return l.API
	}
}

// GateConfig holds request gate settings
type GateConfig struct {
	// FailClosed answers 503 when evaluation fails instead of letting the
	// request through
	FailClosed bool

	// IPConfig switches client IP resolution to trusted-proxy mode when set
	IPConfig *pkghttp.IPConfig

	AdminPrefixes         []string
	AuthenticatedPrefixes []string
	RedirectTo            string
}

// DefaultGateConfig returns the standard protected areas and a fail-open policy
func DefaultGateConfig() GateConfig {
	return GateConfig{
		AdminPrefixes:         []string{"/admin", "/api/admin/"},
		AuthenticatedPrefixes: []string{"/dashboard"},
		RedirectTo:            "/",
	}
}

type rateLimitResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// RequestGate rate limits API traffic, stamps security headers, audits
// requests and guards the admin and authenticated page areas.
type RequestGate struct {
	limiters GateLimiters
	sessions auth.SessionExtractor
	audit    *services.AuditService
	config    GateConfig
	resolveIP pkghttp.IPResolver
	logger    *slog.Logger
	now       func() time.Time
}

// NewRequestGate creates a new RequestGate
func NewRequestGate(limiters GateLimiters, sessions auth.SessionExtractor, audit *services.AuditService, config GateConfig, logger *slog.Logger) *RequestGate {
	if config.RedirectTo == "" {
		config.RedirectTo = "/"
	}
	return &RequestGate{
		limiters:  limiters,
		sessions:  sessions,
		audit:     audit,
		config:    config,
		resolveIP: pkghttp.NewIPResolver(config.IPConfig),
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the gate's time source. Used by tests.
func (g *RequestGate) WithClock(now func() time.Time) *RequestGate {
	g.now = now
	return g
}

// Middleware runs Evaluate and forwards only Allowed and PassedThrough requests
func (g *RequestGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outcome, req := g.Evaluate(w, r)
		switch outcome {
		case OutcomeAllowed, OutcomePassedThrough:
			next.ServeHTTP(w, req)
		}
	})
}

// Evaluate decides the request's outcome. Responses for RateLimited,
// Redirected and FailedClosed are written to w. The returned request carries
// the verified session for protected areas.
func (g *RequestGate) Evaluate(w http.ResponseWriter, r *http.Request) (GateOutcome, *http.Request) {
	start := g.now()

	outcome, req, err := g.evaluate(w, r, start)
	if err == nil {
		return outcome, req
	}

	processing := g.now().Sub(start).Milliseconds()
	g.logger.Error("request gate evaluation failed",
		slog.String("path", r.URL.Path),
		slog.Bool("fail_closed", g.config.FailClosed),
		slog.Any("error", err))
	g.audit.LogSecurityEvent(r.Context(), models.AuditEventMiddlewareError,
		fmt.Sprintf("Middleware error: %v", err), models.SeverityCritical, "", r,
		models.AuditMetadata{"error": err.Error(), "processingTime": processing})

	if g.config.FailClosed {
		pkghttp.WriteServiceUnavailable(w, "request could not be verified")
		return OutcomeFailedClosed, r
	}
	return OutcomePassedThrough, r
}

func (g *RequestGate) evaluate(w http.ResponseWriter, r *http.Request, start time.Time) (outcome GateOutcome, req *http.Request, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", models.ErrInternalGate, rec)
		}
	}()

	ctx := r.Context()
	path := r.URL.Path

	if strings.HasPrefix(path, "/api/") {
		if done := g.checkRateLimit(ctx, w, r, start); done {
			return OutcomeRateLimited, r, nil
		}
	}

	if hasAnyPrefix(path, g.config.AdminPrefixes) {
		session := g.sessions.ExtractSession(r)
		if !session.IsAdmin() {
			userID := ""
			if session != nil {
				userID = session.UserID
			}
			g.audit.LogSecurityEvent(ctx, models.AuditEventUnauthorizedAdmin,
				fmt.Sprintf("Unauthorized admin access attempt to %s", path),
				models.SeverityWarning, userID, r, nil)
			http.Redirect(w, r, g.config.RedirectTo, http.StatusTemporaryRedirect)
			return OutcomeRedirected, r, nil
		}

		g.audit.Log(ctx, models.AuditLogEntry{
			UserID:           models.StringPtr(session.UserID),
			SessionID:        models.StringPtr(session.SessionID),
			EventType:        models.AuditEventAdminAccess,
			EventDescription: fmt.Sprintf("Admin accessed %s", path),
			Severity:         models.SeverityInfo,
			IPAddress:        models.StringPtr(g.clientIP(r)),
			UserAgent:        models.StringPtr(r.UserAgent()),
			RequestPath:      models.StringPtr(path),
			RequestMethod:    models.StringPtr(r.Method),
			AdditionalData:   models.AuditMetadata{"sessionId": session.SessionID},
		})
		return OutcomeAllowed, r.WithContext(auth.WithSession(ctx, session)), nil
	}

	if hasAnyPrefix(path, g.config.AuthenticatedPrefixes) {
		session := g.sessions.ExtractSession(r)
		if session == nil {
			g.audit.LogSecurityEvent(ctx, models.AuditEventUnauthorizedArea,
				fmt.Sprintf("Unauthorized dashboard access attempt to %s", path),
				models.SeverityWarning, "", r, nil)
			http.Redirect(w, r, g.config.RedirectTo, http.StatusTemporaryRedirect)
			return OutcomeRedirected, r, nil
		}
		return OutcomeAllowed, r.WithContext(auth.WithSession(ctx, session)), nil
	}

	return OutcomeAllowed, r, nil
}

// checkRateLimit applies the route class limiter. It returns true when the
// request was rejected and a 429 has been written.
func (g *RequestGate) checkRateLimit(ctx context.Context, w http.ResponseWriter, r *http.Request, start time.Time) bool {
	path := r.URL.Path
	result := g.limiters.forPath(path).Check(ctx, g.clientIP(r))

	h := w.Header()
	resetMillis := result.WindowResetAt.UnixMilli()
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetMillis, 10))

	if err := result.Err(); err != nil {
		retryAfter := result.RetryAfter(g.now())
		g.logger.Debug("request rejected",
			slog.String("path", path),
			slog.Int("retry_after", retryAfter),
			slog.Any("error", err))
		g.audit.LogSecurityEvent(ctx, models.AuditEventRateLimitExceeded,
			fmt.Sprintf("Rate limit exceeded for %s", path),
			models.SeverityWarning, "", r,
			models.AuditMetadata{"remaining": result.Remaining, "resetTime": resetMillis})

		h.Set("Retry-After", strconv.Itoa(retryAfter))
		pkghttp.WriteJSON(w, http.StatusTooManyRequests, rateLimitResponse{
			Error:      "Rate limit exceeded",
			RetryAfter: retryAfter,
		})
		return true
	}

	ApplyBaseSecurityHeaders(h)

	requestID := middleware.GetReqID(ctx)
	if requestID == "" {
		requestID = "req_" + uuid.NewString()
	}
	h.Set("X-Request-ID", requestID)

	g.audit.LogRequest(ctx, r, http.StatusOK, models.AuditMetadata{
		"rateLimitRemaining": result.Remaining,
		"processingTime":     g.now().Sub(start).Milliseconds(),
		"requestId":          requestID,
	})
	return false
}

func (g *RequestGate) clientIP(r *http.Request) string {
	return g.resolveIP(r)
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
