package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/vocalid/internal/auth"
	"github.com/BradenHooton/vocalid/internal/models"
	pkghttp "github.com/BradenHooton/vocalid/pkg/http"
)

// SessionServiceInterface defines the session operations the handler needs
type SessionServiceInterface interface {
	auth.SessionExtractor
	Verify(token string) (*models.SessionData, error)
	Refresh(token string) (string, error)
	Invalidate(ctx context.Context, sessionID, userID string, r *http.Request)
}

// SessionHandler handles session HTTP requests
type SessionHandler struct {
	sessions     SessionServiceInterface
	events       auth.SecurityEventLogger
	cookieConfig auth.CookieConfig
	cookieMaxAge int
	logger       *slog.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions SessionServiceInterface, events auth.SecurityEventLogger, cookieConfig auth.CookieConfig, sessionTTL time.Duration, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:     sessions,
		events:       events,
		cookieConfig: cookieConfig,
		cookieMaxAge: int(sessionTTL.Seconds()),
		logger:       logger,
	}
}

// SessionResponse is the current session as seen by the client
type SessionResponse struct {
	Session *models.SessionData `json:"session"`
}

// RefreshResponse carries the replacement token for bearer clients
type RefreshResponse struct {
	Token string `json:"token"`
}

// GetSession handles GET /api/auth/session. Expects RequireSession upstream.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, models.ErrAuthRequired.Error())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionResponse{Session: session})
}

// Refresh handles POST /api/auth/refresh
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		pkghttp.WriteUnauthorized(w, models.ErrAuthRequired.Error())
		return
	}

	session, err := h.sessions.Verify(token)
	if err != nil {
		pkghttp.WriteUnauthorized(w, "Invalid session")
		return
	}

	refreshed, err := h.sessions.Refresh(token)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSessionNotRefreshable):
			pkghttp.WriteError(w, http.StatusConflict, "session_not_refreshable", "Session must be re-authenticated")
		case errors.Is(err, models.ErrInvalidSession):
			pkghttp.WriteUnauthorized(w, "Invalid session")
		default:
			h.logger.Error("session refresh failed", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	h.events.LogSecurityEvent(r.Context(), models.AuditEventSessionRefreshed, "Session refreshed",
		models.SeverityInfo, session.UserID, r, models.AuditMetadata{"previousSessionId": session.SessionID})

	auth.SetSessionCookie(w, refreshed, h.cookieMaxAge, h.cookieConfig)
	pkghttp.WriteJSON(w, http.StatusOK, RefreshResponse{Token: refreshed})
}

// Logout handles POST /api/auth/logout. The cookie is cleared even when the
// request carries no valid session.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		session = h.sessions.ExtractSession(r)
	}
	if session != nil {
		h.sessions.Invalidate(r.Context(), session.SessionID, session.UserID, r)
	}

	auth.ClearSessionCookie(w, h.cookieConfig)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}
