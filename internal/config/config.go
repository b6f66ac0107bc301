package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Alerts    AlertsConfig
	Voice     VoiceConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

type SessionConfig struct {
	Secret           string
	Issuer           string
	Audience         string
	TokenExpiry      time.Duration
	SessionDuration  time.Duration
	RefreshThreshold time.Duration
	CookieDomain     string
	CookieSecure     bool
	CookieSameSite   string
}

// RateLimitConfig holds the per route class windows. Counts are per client IP.
type RateLimitConfig struct {
	StrictMax      int
	StrictWindow   time.Duration
	AdminMax       int
	AdminWindow    time.Duration
	APIMax         int
	APIWindow      time.Duration
	HealthMax      int
	HealthWindow   time.Duration
	GateFailClosed bool
}

type AuditConfig struct {
	Capacity        int
	PersistBuffer   int
	RetentionDays   int
	CleanupInterval time.Duration
}

// RedisConfig enables the shared rate limit store when URL is set
type RedisConfig struct {
	URL       string
	KeyPrefix string
}

func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// DatabaseConfig enables durable audit storage when Host is set
type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

func (c DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// AlertsConfig controls e-mail alerts for error and critical audit events
type AlertsConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
	Recipients  []string
}

type VoiceConfig struct {
	// AdminProfiles lists enrolled voice profile ids granted the admin role
	AdminProfiles  []string
	ChallengeTTL   time.Duration
	EncryptionKey  string
	EncryptionSalt string
	SpectralWindow int
	TimingFloor    time.Duration
	TimingJitter   time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		},
		Session: SessionConfig{
			Secret:           jwtSecret,
			Issuer:           getEnv("SESSION_ISSUER", "vocal-id"),
			Audience:         getEnv("SESSION_AUDIENCE", "vocal-id-users"),
			TokenExpiry:      getEnvAsDuration("SESSION_TOKEN_EXPIRY", 24*time.Hour),
			SessionDuration:  getEnvAsDuration("SESSION_DURATION", 24*time.Hour),
			RefreshThreshold: getEnvAsDuration("SESSION_REFRESH_THRESHOLD", 2*time.Hour),
			CookieDomain:     getEnv("COOKIE_DOMAIN", ""),
			CookieSecure:     getEnvAsBool("COOKIE_SECURE", env == "production"),
			CookieSameSite:   getEnv("COOKIE_SAMESITE", "strict"),
		},
		RateLimit: RateLimitConfig{
			StrictMax:      getEnvAsInt("RATE_LIMIT_STRICT_MAX", 5),
			StrictWindow:   getEnvAsDuration("RATE_LIMIT_STRICT_WINDOW", 15*time.Minute),
			AdminMax:       getEnvAsInt("RATE_LIMIT_ADMIN_MAX", 50),
			AdminWindow:    getEnvAsDuration("RATE_LIMIT_ADMIN_WINDOW", time.Minute),
			APIMax:         getEnvAsInt("RATE_LIMIT_API_MAX", 100),
			APIWindow:      getEnvAsDuration("RATE_LIMIT_API_WINDOW", time.Minute),
			HealthMax:      getEnvAsInt("RATE_LIMIT_HEALTH_MAX", 60),
			HealthWindow:   getEnvAsDuration("RATE_LIMIT_HEALTH_WINDOW", time.Minute),
			GateFailClosed: getEnvAsBool("GATE_FAIL_CLOSED", false),
		},
		Audit: AuditConfig{
			Capacity:        getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			PersistBuffer:   getEnvAsInt("AUDIT_PERSIST_BUFFER", 1024),
			RetentionDays:   getEnvAsInt("AUDIT_RETENTION_DAYS", 90),
			CleanupInterval: getEnvAsDuration("AUDIT_CLEANUP_INTERVAL", 24*time.Hour),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "vocalid:ratelimit:"),
		},
		Database: databaseFromEnv(),
		Alerts: AlertsConfig{
			Enabled:     getEnvAsBool("ALERTS_ENABLED", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("ALERT_FROM_EMAIL", ""),
			Recipients:  getEnvAsList("ALERT_RECIPIENTS"),
		},
		Voice: VoiceConfig{
			AdminProfiles:  getEnvAsList("ADMIN_VOICE_PROFILES"),
			ChallengeTTL:   getEnvAsDuration("VOICE_CHALLENGE_TTL", 5*time.Minute),
			EncryptionKey:  getEnv("VOICE_ENCRYPTION_KEY", ""),
			EncryptionSalt: getEnv("VOICE_ENCRYPTION_SALT", "vocal-id-voice-salt"),
			SpectralWindow: getEnvAsInt("VOICE_SPECTRAL_WINDOW", 1024),
			TimingFloor:    getEnvAsDuration("AUTH_TIMING_FLOOR", 250*time.Millisecond),
			TimingJitter:   getEnvAsDuration("AUTH_TIMING_JITTER", 100*time.Millisecond),
		},
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabase reads only the database settings. Used by cmd/migrate, which
// does not need session or voice secrets.
func LoadDatabase() (*DatabaseConfig, error) {
	_ = godotenv.Load()

	cfg := databaseFromEnv()
	if cfg.Enabled() && cfg.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required when DB_HOST is set")
	}
	return &cfg, nil
}

func databaseFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Host:              getEnv("DB_HOST", ""),
		Port:              getEnvAsInt("DB_PORT", 5432),
		User:              getEnv("DB_USER", "postgres"),
		Password:          getEnv("DB_PASSWORD", ""),
		Name:              getEnv("DB_NAME", "vocalid"),
		SSLMode:           getEnv("DB_SSLMODE", "disable"),
		MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 10)),
		MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 2)),
		MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
		MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
		HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
	}
}

func (c *Config) validate() error {
	if c.Voice.EncryptionKey == "" {
		return fmt.Errorf("VOICE_ENCRYPTION_KEY is required")
	}
	if c.Database.Enabled() && c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required when DB_HOST is set")
	}
	if c.Alerts.Enabled && (c.Alerts.FromAddress == "" || len(c.Alerts.Recipients) == 0) {
		return fmt.Errorf("ALERT_FROM_EMAIL and ALERT_RECIPIENTS are required when alerts are enabled")
	}
	if c.Session.RefreshThreshold > c.Session.SessionDuration {
		return fmt.Errorf("SESSION_REFRESH_THRESHOLD (%s) cannot exceed SESSION_DURATION (%s)",
			c.Session.RefreshThreshold, c.Session.SessionDuration)
	}
	if c.Audit.Capacity <= 0 {
		return fmt.Errorf("AUDIT_BUFFER_SIZE must be positive")
	}

	limits := []struct {
		name   string
		max    int
		window time.Duration
	}{
		{"RATE_LIMIT_STRICT", c.RateLimit.StrictMax, c.RateLimit.StrictWindow},
		{"RATE_LIMIT_ADMIN", c.RateLimit.AdminMax, c.RateLimit.AdminWindow},
		{"RATE_LIMIT_API", c.RateLimit.APIMax, c.RateLimit.APIWindow},
		{"RATE_LIMIT_HEALTH", c.RateLimit.HealthMax, c.RateLimit.HealthWindow},
	}
	for _, l := range limits {
		if l.max <= 0 || l.window <= 0 {
			return fmt.Errorf("%s_MAX and %s_WINDOW must be positive", l.name, l.name)
		}
	}

	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if strings.Repeat(weak, len(secretLower)/len(weak)) == secretLower {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma separated variable, dropping empty items
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if origins := getEnvAsList("ALLOWED_ORIGINS"); len(origins) > 0 {
		return origins
	}
	if env == "production" {
		return []string{}
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
