package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/BradenHooton/vocalid/internal/models"
	pkghttp "github.com/BradenHooton/vocalid/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key for storing the verified session in context
	SessionContextKey contextKey = "session"
)

// SessionExtractor resolves the session carried by a request
type SessionExtractor interface {
	ExtractSession(r *http.Request) *models.SessionData
}

// WithSession returns a copy of ctx carrying session
func WithSession(ctx context.Context, session *models.SessionData) context.Context {
	return context.WithValue(ctx, SessionContextKey, session)
}

// GetSessionFromContext returns the session stored by the request gate or
// RequireSession, or nil
func GetSessionFromContext(r *http.Request) *models.SessionData {
	session, ok := r.Context().Value(SessionContextKey).(*models.SessionData)
	if !ok {
		return nil
	}
	return session
}

// sessionFor prefers a session already placed in context by the gate
func sessionFor(sm SessionExtractor, r *http.Request) *models.SessionData {
	if session := GetSessionFromContext(r); session != nil {
		return session
	}
	return sm.ExtractSession(r)
}

// RequireSession rejects requests without a valid session with 401
func RequireSession(sm SessionExtractor) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := sessionFor(sm, r)
			if session == nil {
				pkghttp.WriteUnauthorized(w, models.ErrAuthRequired.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

// RequireAdminSession rejects requests without a session with 401 and
// non-admin sessions with 403
func RequireAdminSession(sm SessionExtractor) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := requireAdmin(sessionFor(sm, r))
			if err != nil {
				if errors.Is(err, models.ErrAdminRequired) {
					pkghttp.WriteForbidden(w, err.Error())
					return
				}
				pkghttp.WriteUnauthorized(w, err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

func requireAdmin(session *models.SessionData) (*models.SessionData, error) {
	if session == nil {
		return nil, models.ErrAuthRequired
	}
	if !session.IsAdmin() {
		return nil, models.ErrAdminRequired
	}
	return session, nil
}
