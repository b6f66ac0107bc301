package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/vocalid/internal/auth"
	"github.com/BradenHooton/vocalid/internal/handlers"
	"github.com/BradenHooton/vocalid/internal/middleware"
	pkghttp "github.com/BradenHooton/vocalid/pkg/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Handlers groups the HTTP handlers mounted by the router
type Handlers struct {
	Voice   *handlers.VoiceHandler
	Session *handlers.SessionHandler
	Audit   *handlers.AuditHandler
	Health  *handlers.HealthHandler
}

// RouterConfig holds the router-wide middleware settings
type RouterConfig struct {
	Env             string
	CORS            *middleware.CORSConfig
	HealthRateLimit middleware.RateLimitConfig
	RequestTimeout  time.Duration
}

// NewRouter builds the application router. Every request passes through the
// request gate; /health is throttled separately.
func NewRouter(cfg RouterConfig, h Handlers, gate *middleware.RequestGate, sessions auth.SessionExtractor, logger *slog.Logger) http.Handler {
	if cfg.CORS == nil {
		cfg.CORS = middleware.DefaultCORSConfig(nil)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.SecureLogger(logger))
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	router.Use(middleware.CORS(cfg.CORS))
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: cfg.Env}))
	router.Use(gate.Middleware)

	RegisterRoutes(router, h, sessions, cfg.HealthRateLimit)
	return router
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, h Handlers, sessions auth.SessionExtractor, healthLimit middleware.RateLimitConfig) {
	if healthLimit.Requests <= 0 {
		healthLimit = middleware.DefaultHealthRateLimit()
	}
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteNotFound(w, "Route not found")
	})
	router.With(middleware.RateLimitByIP(healthLimit)).Get("/health", h.Health.Health)

	router.Route("/api", func(r chi.Router) {
		r.Route("/voice", func(r chi.Router) {
			r.Get("/challenge", h.Voice.Challenge)
			r.Post("/verify-liveness", h.Voice.VerifyLiveness)
			r.Post("/authenticate", h.Voice.Authenticate)
			r.Post("/enroll", h.Voice.Enroll)
		})

		r.Route("/auth", func(r chi.Router) {
			r.With(auth.RequireSession(sessions)).Get("/session", h.Session.GetSession)
			r.Post("/refresh", h.Session.Refresh)
			r.Post("/logout", h.Session.Logout)
		})

		r.Get("/audit/logs", h.Audit.GetLogs)

		// Admin area: the gate has already redirected non-admins
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAdminSession(sessions))
			r.Get("/audit-logs", h.Audit.GetLogs)
		})
	})
}
