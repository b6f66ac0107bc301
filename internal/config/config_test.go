package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!!")
	t.Setenv("VOICE_ENCRYPTION_KEY", "voice-key-for-tests")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	durations := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
		{"TokenExpiry", cfg.Session.TokenExpiry, 24 * time.Hour},
		{"SessionDuration", cfg.Session.SessionDuration, 24 * time.Hour},
		{"RefreshThreshold", cfg.Session.RefreshThreshold, 2 * time.Hour},
		{"StrictWindow", cfg.RateLimit.StrictWindow, 15 * time.Minute},
		{"AdminWindow", cfg.RateLimit.AdminWindow, time.Minute},
		{"APIWindow", cfg.RateLimit.APIWindow, time.Minute},
	}
	for _, tt := range durations {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}

	ints := []struct {
		name     string
		actual   int
		expected int
	}{
		{"StrictMax", cfg.RateLimit.StrictMax, 5},
		{"AdminMax", cfg.RateLimit.AdminMax, 50},
		{"APIMax", cfg.RateLimit.APIMax, 100},
		{"AuditCapacity", cfg.Audit.Capacity, 1000},
		{"SpectralWindow", cfg.Voice.SpectralWindow, 1024},
	}
	for _, tt := range ints {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %d, want %d", tt.name, tt.actual, tt.expected)
		}
	}

	if cfg.Session.Issuer != "vocal-id" || cfg.Session.Audience != "vocal-id-users" {
		t.Errorf("issuer/audience = %q/%q", cfg.Session.Issuer, cfg.Session.Audience)
	}
	if cfg.RateLimit.GateFailClosed {
		t.Error("GateFailClosed should default to false")
	}
	if cfg.Redis.Enabled() || cfg.Database.Enabled() || cfg.Alerts.Enabled {
		t.Error("optional backends should be disabled by default")
	}
	if cfg.Session.CookieSecure {
		t.Error("CookieSecure should default to false outside production")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RATE_LIMIT_STRICT_MAX", "3")
	t.Setenv("RATE_LIMIT_STRICT_WINDOW", "10m")
	t.Setenv("GATE_FAIL_CLOSED", "true")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.0.0/16,")
	t.Setenv("ADMIN_VOICE_PROFILES", "profile-a,profile-b")
	t.Setenv("VOICE_CHALLENGE_TTL", "2m")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.RateLimit.StrictMax != 3 || cfg.RateLimit.StrictWindow != 10*time.Minute {
		t.Errorf("strict limit = %d/%v, want 3/10m", cfg.RateLimit.StrictMax, cfg.RateLimit.StrictWindow)
	}
	if !cfg.RateLimit.GateFailClosed {
		t.Error("GateFailClosed = false, want true")
	}
	if want := []string{"10.0.0.0/8", "192.168.0.0/16"}; !reflect.DeepEqual(cfg.Server.TrustedProxies, want) {
		t.Errorf("TrustedProxies = %v, want %v", cfg.Server.TrustedProxies, want)
	}
	if want := []string{"profile-a", "profile-b"}; !reflect.DeepEqual(cfg.Voice.AdminProfiles, want) {
		t.Errorf("AdminProfiles = %v, want %v", cfg.Voice.AdminProfiles, want)
	}
	if cfg.Voice.ChallengeTTL != 2*time.Minute {
		t.Errorf("ChallengeTTL = %v, want 2m", cfg.Voice.ChallengeTTL)
	}
	if !cfg.Redis.Enabled() {
		t.Error("Redis should be enabled when REDIS_URL is set")
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_READ_TIMEOUT", "soon")
	t.Setenv("RATE_LIMIT_API_MAX", "lots")
	t.Setenv("GATE_FAIL_CLOSED", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout = %v, want default", cfg.Server.ReadTimeout)
	}
	if cfg.RateLimit.APIMax != 100 {
		t.Errorf("APIMax = %d, want default", cfg.RateLimit.APIMax)
	}
	if cfg.RateLimit.GateFailClosed {
		t.Error("GateFailClosed should fall back to false")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing jwt secret",
			env:     map[string]string{"JWT_SECRET": "", "VOICE_ENCRYPTION_KEY": "k"},
			wantErr: "JWT_SECRET is required",
		},
		{
			name:    "short secret",
			env:     map[string]string{"JWT_SECRET": "short", "VOICE_ENCRYPTION_KEY": "k"},
			wantErr: "at least 16 characters",
		},
		{
			name:    "production secret length",
			env:     map[string]string{"JWT_SECRET": "twenty-characters-ok", "ENV": "production", "VOICE_ENCRYPTION_KEY": "k"},
			wantErr: "at least 32 characters",
		},
		{
			name:    "repeated weak secret",
			env:     map[string]string{"JWT_SECRET": "passwordpassword", "VOICE_ENCRYPTION_KEY": "k"},
			wantErr: "common weak value",
		},
		{
			name:    "missing voice key",
			env:     map[string]string{"JWT_SECRET": "test-secret-32-characters-long!!", "VOICE_ENCRYPTION_KEY": ""},
			wantErr: "VOICE_ENCRYPTION_KEY is required",
		},
		{
			name:    "database without password",
			env:     map[string]string{"JWT_SECRET": "test-secret-32-characters-long!!", "VOICE_ENCRYPTION_KEY": "k", "DB_HOST": "db"},
			wantErr: "DB_PASSWORD is required",
		},
		{
			name:    "alerts without recipients",
			env:     map[string]string{"JWT_SECRET": "test-secret-32-characters-long!!", "VOICE_ENCRYPTION_KEY": "k", "ALERTS_ENABLED": "true", "ALERT_FROM_EMAIL": "alerts@example.com"},
			wantErr: "ALERT_RECIPIENTS",
		},
		{
			name:    "refresh threshold above duration",
			env:     map[string]string{"JWT_SECRET": "test-secret-32-characters-long!!", "VOICE_ENCRYPTION_KEY": "k", "SESSION_DURATION": "1h", "SESSION_REFRESH_THRESHOLD": "2h"},
			wantErr: "cannot exceed SESSION_DURATION",
		},
		{
			name:    "zero rate limit",
			env:     map[string]string{"JWT_SECRET": "test-secret-32-characters-long!!", "VOICE_ENCRYPTION_KEY": "k", "RATE_LIMIT_ADMIN_MAX": "0"},
			wantErr: "RATE_LIMIT_ADMIN_MAX",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatalf("Load() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseAllowedOrigins(t *testing.T) {
	if got := parseAllowedOrigins("production"); len(got) != 0 {
		t.Errorf("production origins = %v, want none", got)
	}
	if got := parseAllowedOrigins("development"); len(got) == 0 {
		t.Error("development origins should include localhost")
	}

	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")
	want := []string{"https://app.example.com", "https://admin.example.com"}
	if got := parseAllowedOrigins("production"); !reflect.DeepEqual(got, want) {
		t.Errorf("origins = %v, want %v", got, want)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "vocalid", SSLMode: "disable"}
	want := "host=db port=5432 user=u password=p dbname=vocalid sslmode=disable"
	if got := c.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestLoadDatabase_IgnoresSessionSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PASSWORD", "pw")

	cfg, err := LoadDatabase()
	if err != nil {
		t.Fatalf("LoadDatabase() error = %v", err)
	}
	if cfg.Host != "db.internal" || cfg.Name != "vocalid" {
		t.Errorf("LoadDatabase() = %+v", cfg)
	}

	t.Setenv("DB_PASSWORD", "")
	if _, err := LoadDatabase(); err == nil {
		t.Error("expected an error without DB_PASSWORD")
	}
}
