package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/vocalid/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	// SessionCookieName is the cookie carrying the session token
	SessionCookieName = "vocal-id-session"

	signingKeyInfo = "vocal-id session signing key v1"
)

// SessionConfig holds session token settings
type SessionConfig struct {
	Secret           string
	Issuer           string
	Audience         string
	TokenExpiry      time.Duration // JWT exp claim
	SessionDuration  time.Duration // maximum age of lastAuthenticated
	RefreshThreshold time.Duration // refresh allowed only while younger than this
}

// DefaultSessionConfig returns the standard session settings for secret
func DefaultSessionConfig(secret string) SessionConfig {
	return SessionConfig{
		Secret:           secret,
		Issuer:           "vocal-id",
		Audience:         "vocal-id-users",
		TokenExpiry:      24 * time.Hour,
		SessionDuration:  24 * time.Hour,
		RefreshThreshold: 2 * time.Hour,
	}
}

// SessionVerifier verifies a session token
type SessionVerifier interface {
	Verify(token string) (*models.SessionData, error)
}

// SecurityEventLogger records security events about sessions
type SecurityEventLogger interface {
	LogSecurityEvent(ctx context.Context, eventType, description string, severity models.Severity, userID string, r *http.Request, extra models.AuditMetadata) *models.AuditLogEntry
}

// SessionManager issues and verifies stateless signed sessions.
// There is no revocation store: a token stays valid until it ages out.
type SessionManager struct {
	config     SessionConfig
	signingKey []byte
	validate   *validator.Validate
	events     SecurityEventLogger
	logger     *slog.Logger
	now        func() time.Time
}

// NewSessionManager creates a new SessionManager. events may be nil.
func NewSessionManager(config SessionConfig, events SecurityEventLogger, logger *slog.Logger) (*SessionManager, error) {
	if config.Secret == "" {
		return nil, errors.New("session secret is required")
	}
	if config.SessionDuration <= 0 || config.TokenExpiry <= 0 || config.RefreshThreshold <= 0 {
		return nil, errors.New("session durations must be positive")
	}

	key, err := deriveSigningKey(config.Secret)
	if err != nil {
		return nil, err
	}

	return &SessionManager{
		config:     config,
		signingKey: key,
		validate:   validator.New(),
		events:     events,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// WithClock replaces the manager's time source. Used by tests.
func (sm *SessionManager) WithClock(now func() time.Time) *SessionManager {
	sm.now = now
	return sm
}

// deriveSigningKey expands the configured secret into a fixed-length HMAC key
func deriveSigningKey(secret string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(signingKeyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}
	return key, nil
}

// Issue mints a session token for freshly authenticated claims
func (sm *SessionManager) Issue(claims models.SessionClaims) (string, error) {
	if err := sm.validate.Struct(claims); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	return sm.sign(claims, sm.now())
}

func (sm *SessionManager) sign(claims models.SessionClaims, authenticatedAt time.Time) (string, error) {
	now := sm.now()

	tokenClaims := &models.SessionTokenClaims{
		UserID:            claims.UserID,
		Email:             claims.Email,
		Role:              claims.Role,
		VoiceProfileID:    claims.VoiceProfileID,
		SessionID:         uuid.NewString(),
		LastAuthenticated: authenticatedAt.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sm.config.Issuer,
			Subject:   claims.UserID,
			Audience:  jwt.ClaimStrings{sm.config.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(sm.config.TokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims)

	tokenString, err := token.SignedString(sm.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return tokenString, nil
}

// Verify checks signature, issuer, audience and expiry, then rejects
// sessions whose last authentication is older than SessionDuration
func (sm *SessionManager) Verify(tokenString string) (*models.SessionData, error) {
	claims := &models.SessionTokenClaims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return sm.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sm.config.Issuer),
		jwt.WithAudience(sm.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(sm.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidSession, err)
	}

	session := claims.ToSessionData()
	if sm.now().Sub(session.LastAuthenticatedAt) > sm.config.SessionDuration {
		return nil, fmt.Errorf("%w: session older than %s", models.ErrInvalidSession, sm.config.SessionDuration)
	}

	return session, nil
}

// Refresh issues a replacement token with a new session id and a reset
// authentication time. Only sessions younger than RefreshThreshold qualify;
// older ones get ErrSessionNotRefreshable and must re-authenticate.
func (sm *SessionManager) Refresh(tokenString string) (string, error) {
	session, err := sm.Verify(tokenString)
	if err != nil {
		return "", err
	}

	now := sm.now()
	if now.Sub(session.LastAuthenticatedAt) >= sm.config.RefreshThreshold {
		return "", models.ErrSessionNotRefreshable
	}

	return sm.sign(session.SessionClaims, now)
}

// TokenFromRequest returns the bearer token, falling back to the session cookie
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token := strings.TrimPrefix(header, "Bearer "); token != "" {
			return token
		}
	}

	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// ExtractSession returns the verified session carried by r, or nil.
// Invalid tokens are treated as no session.
func (sm *SessionManager) ExtractSession(r *http.Request) *models.SessionData {
	token := TokenFromRequest(r)
	if token == "" {
		return nil
	}

	session, err := sm.Verify(token)
	if err != nil {
		sm.logger.Debug("session verification failed", slog.Any("error", err))
		return nil
	}
	return session
}

// RequireAuth returns the request's session or ErrAuthRequired
func (sm *SessionManager) RequireAuth(r *http.Request) (*models.SessionData, error) {
	session := sm.ExtractSession(r)
	if session == nil {
		return nil, models.ErrAuthRequired
	}
	return session, nil
}

// RequireAdmin returns the request's admin session, ErrAuthRequired when
// there is none, or ErrAdminRequired for a non-admin session
func (sm *SessionManager) RequireAdmin(r *http.Request) (*models.SessionData, error) {
	session, err := sm.RequireAuth(r)
	if err != nil {
		return nil, err
	}
	if !session.IsAdmin() {
		return session, models.ErrAdminRequired
	}
	return session, nil
}

// Invalidate records that a session was ended. The token itself remains
// cryptographically valid until it expires.
func (sm *SessionManager) Invalidate(ctx context.Context, sessionID, userID string, r *http.Request) {
	sm.logger.Info("session invalidated", slog.String("session_id", sessionID))

	if sm.events == nil {
		return
	}
	sm.events.LogSecurityEvent(ctx, models.AuditEventSessionInvalidated,
		fmt.Sprintf("Session invalidated: %s", sessionID),
		models.SeverityInfo, userID, r,
		models.AuditMetadata{"sessionId": sessionID})
}
