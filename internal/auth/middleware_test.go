package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/vocalid/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionEcho(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := GetSessionFromContext(r)
		require.NotNil(t, session)
		w.Header().Set("X-Session-User", session.UserID)
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireSession(t *testing.T) {
	sm, _, _ := newTestSessionManager(t)
	handler := RequireSession(sm)(sessionEcho(t))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/auth/session", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := sm.Issue(userClaims())
	require.NoError(t, err)
	req := httptest.NewRequest("GET", "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user-123", rr.Header().Get("X-Session-User"))
}

func TestRequireAdminSession(t *testing.T) {
	sm, _, _ := newTestSessionManager(t)
	handler := RequireAdminSession(sm)(sessionEcho(t))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/audit/logs", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	userToken, err := sm.Issue(userClaims())
	require.NoError(t, err)
	req := httptest.NewRequest("GET", "/api/audit/logs", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	admin := userClaims()
	admin.Role = models.RoleAdmin
	adminToken, err := sm.Issue(admin)
	require.NoError(t, err)
	req = httptest.NewRequest("GET", "/api/audit/logs", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireSession_UsesSessionAlreadyInContext(t *testing.T) {
	sm, _, _ := newTestSessionManager(t)
	handler := RequireSession(sm)(sessionEcho(t))

	session := &models.SessionData{SessionClaims: models.SessionClaims{UserID: "from-gate"}}
	req := httptest.NewRequest("GET", "/dashboard", nil)
	req = req.WithContext(WithSession(req.Context(), session))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "from-gate", rr.Header().Get("X-Session-User"))
}

func TestClearSessionCookie(t *testing.T) {
	rr := httptest.NewRecorder()
	ClearSessionCookie(rr, CookieConfig{Secure: true, SameSite: "strict"})

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.True(t, cookies[0].MaxAge < 0)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)
}

func TestSetSessionCookie(t *testing.T) {
	rr := httptest.NewRecorder()
	SetSessionCookie(rr, "tok", 3600, CookieConfig{SameSite: "lax"})

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "tok", cookies[0].Value)
	assert.Equal(t, 3600, cookies[0].MaxAge)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
}
