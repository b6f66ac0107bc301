package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/vocalid/internal/auth"
	"github.com/BradenHooton/vocalid/internal/background"
	"github.com/BradenHooton/vocalid/internal/config"
	"github.com/BradenHooton/vocalid/internal/database"
	"github.com/BradenHooton/vocalid/internal/handlers"
	"github.com/BradenHooton/vocalid/internal/middleware"
	"github.com/BradenHooton/vocalid/internal/repositories"
	"github.com/BradenHooton/vocalid/internal/routes"
	"github.com/BradenHooton/vocalid/internal/services"
	pkgauth "github.com/BradenHooton/vocalid/pkg/auth"
	pkghttp "github.com/BradenHooton/vocalid/pkg/http"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthChecks := map[string]handlers.HealthChecker{}

	// Client addresses are resolved the same way for limiter keys and audit entries
	var ipConfig *pkghttp.IPConfig
	if len(cfg.Server.TrustedProxies) > 0 {
		ipConfig = &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	}

	// Audit logger, with durable storage when a database is configured
	auditService := services.NewAuditService(cfg.Audit.Capacity, logger).
		WithIPResolver(pkghttp.NewIPResolver(ipConfig))

	var (
		persistDispatcher *background.Dispatcher
		cleanupManager    *background.CleanupManager
		auditArchive      handlers.AuditArchive
	)
	if cfg.Database.Enabled() {
		db, err := database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			logger.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()
		healthChecks["database"] = db.HealthCheck

		auditRepo := repositories.NewAuditLogRepository(db)
		auditArchive = auditRepo
		persistDispatcher = background.NewDispatcher("audit_store", auditRepo, cfg.Audit.PersistBuffer, logger)
		auditService.WithPersistence(persistDispatcher)

		cleanupManager = background.NewCleanupManager(auditRepo, logger, cfg.Audit.CleanupInterval, cfg.Audit.RetentionDays)
		go cleanupManager.Start(ctx)
	} else {
		logger.Info("DB_HOST not set, audit log is in-memory only")
	}

	// Security alert e-mails
	var alertDispatcher *background.Dispatcher
	if cfg.Alerts.Enabled {
		alertService, err := services.NewSESAlertService(ctx, cfg.Alerts.AWSRegion, cfg.Alerts.FromAddress, cfg.Alerts.Recipients, logger)
		if err != nil {
			logger.Error("failed to initialize alert service", slog.Any("error", err))
			os.Exit(1)
		}
		alertDispatcher = background.NewDispatcher("security_alerts", alertService, 64, logger)
		auditService.WithAlerts(alertDispatcher)
	}

	// Rate limiting, shared through Redis when configured
	store, err := newRateLimitStore(ctx, cfg.Redis, healthChecks, logger)
	if err != nil {
		logger.Error("failed to initialize rate limit store", slog.Any("error", err))
		os.Exit(1)
	}
	limiters, err := newGateLimiters(cfg.RateLimit, store, logger)
	if err != nil {
		logger.Error("failed to initialize rate limiters", slog.Any("error", err))
		os.Exit(1)
	}

	// Sessions
	sessionManager, err := auth.NewSessionManager(auth.SessionConfig{
		Secret:           cfg.Session.Secret,
		Issuer:           cfg.Session.Issuer,
		Audience:         cfg.Session.Audience,
		TokenExpiry:      cfg.Session.TokenExpiry,
		SessionDuration:  cfg.Session.SessionDuration,
		RefreshThreshold: cfg.Session.RefreshThreshold,
	}, auditService, logger)
	if err != nil {
		logger.Error("failed to initialize session manager", slog.Any("error", err))
		os.Exit(1)
	}
	cookieConfig := auth.CookieConfig{
		Domain:   cfg.Session.CookieDomain,
		Secure:   cfg.Session.CookieSecure,
		SameSite: cfg.Session.CookieSameSite,
	}

	// Voice services
	voiceCipher, err := pkgauth.NewVoiceCipher(cfg.Voice.EncryptionKey, cfg.Voice.EncryptionSalt)
	if err != nil {
		logger.Error("failed to initialize voice cipher", slog.Any("error", err))
		os.Exit(1)
	}
	if len(cfg.Voice.AdminProfiles) == 0 {
		logger.Warn("ADMIN_VOICE_PROFILES not set, no session will carry the admin role")
	}
	verifiers := services.NewDefaultVoiceVerifiers(voiceCipher, cfg.Voice.ChallengeTTL, cfg.Voice.AdminProfiles)
	voiceService := services.NewVoiceService(auditService, sessionManager, voiceCipher, verifiers, services.VoiceConfig{
		SpectralWindow: cfg.Voice.SpectralWindow,
		Environment:    cfg.Server.Env,
	}, logger)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		Floor:  cfg.Voice.TimingFloor,
		Jitter: cfg.Voice.TimingJitter,
	})

	// Initialize handlers
	auditHandler := handlers.NewAuditHandler(auditService, sessionManager, logger)
	if auditArchive != nil {
		auditHandler.WithArchive(auditArchive)
	}
	h := routes.Handlers{
		Voice:   handlers.NewVoiceHandler(voiceService, timingDelay, cookieConfig, cfg.Session.SessionDuration, logger),
		Session: handlers.NewSessionHandler(sessionManager, auditService, cookieConfig, cfg.Session.SessionDuration, logger),
		Audit:   auditHandler,
		Health:  handlers.NewHealthHandler(healthChecks),
	}

	// Request gate
	gateConfig := middleware.DefaultGateConfig()
	gateConfig.FailClosed = cfg.RateLimit.GateFailClosed
	gateConfig.IPConfig = ipConfig
	gate := middleware.NewRequestGate(limiters, sessionManager, auditService, gateConfig, logger)

	router := routes.NewRouter(routes.RouterConfig{
		Env:  cfg.Server.Env,
		CORS: middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins),
		HealthRateLimit: middleware.RateLimitConfig{
			Requests: cfg.RateLimit.HealthMax,
			Window:   cfg.RateLimit.HealthWindow,
		},
		RequestTimeout: cfg.Server.RequestTimeout,
	}, h, gate, sessionManager, logger)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	cancel()
	if cleanupManager != nil {
		cleanupManager.Stop()
	}

	// Drain queued audit writes and alerts after the last request
	persistDispatcher.Close()
	alertDispatcher.Close()

	logger.Info("server stopped gracefully")
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// newRateLimitStore returns a Redis-backed store when REDIS_URL is set and the
// in-process store otherwise
func newRateLimitStore(ctx context.Context, cfg config.RedisConfig, healthChecks map[string]handlers.HealthChecker, logger *slog.Logger) (services.RateLimitStore, error) {
	if !cfg.Enabled() {
		logger.Info("REDIS_URL not set, rate limit counters are per process")
		return services.NewMemoryRateLimitStore(), nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, limiter will fail open until it recovers", slog.Any("error", err))
	}

	healthChecks["redis"] = func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
	return services.NewRedisRateLimitStore(client, cfg.KeyPrefix), nil
}

func newGateLimiters(cfg config.RateLimitConfig, store services.RateLimitStore, logger *slog.Logger) (middleware.GateLimiters, error) {
	strict, err := services.NewRateLimiter(string(services.RouteClassStrict), services.RateLimiterConfig{
		Window: cfg.StrictWindow, MaxRequests: cfg.StrictMax,
	}, store, logger)
	if err != nil {
		return middleware.GateLimiters{}, err
	}
	admin, err := services.NewRateLimiter(string(services.RouteClassAdmin), services.RateLimiterConfig{
		Window: cfg.AdminWindow, MaxRequests: cfg.AdminMax,
	}, store, logger)
	if err != nil {
		return middleware.GateLimiters{}, err
	}
	api, err := services.NewRateLimiter(string(services.RouteClassAPI), services.RateLimiterConfig{
		Window: cfg.APIWindow, MaxRequests: cfg.APIMax,
	}, store, logger)
	if err != nil {
		return middleware.GateLimiters{}, err
	}

	return middleware.GateLimiters{Strict: strict, Admin: admin, API: api}, nil
}
