package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/vocalid/internal/auth"
	"github.com/BradenHooton/vocalid/internal/models"
	pkghttp "github.com/BradenHooton/vocalid/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSessionContext places a session in the request context the way the
// request gate and RequireSession do
func WithSessionContext(req *http.Request, userID, role string) *http.Request {
	session := &models.SessionData{
		SessionClaims: models.SessionClaims{
			UserID: userID,
			Email:  userID + "@example.com",
			Role:   role,
		},
		SessionID: "sess-" + userID,
	}
	return req.WithContext(auth.WithSession(req.Context(), session))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockVoiceService implements VoiceServiceInterface for testing
type MockVoiceService struct {
	VerifyLivenessFunc func(ctx context.Context, r *http.Request, userID string, samples []float32) (*models.LivenessReport, error)
	AuthenticateFunc   func(ctx context.Context, r *http.Request, in models.VoiceAuthentication) (*models.AuthenticationResult, error)
	EnrollFunc         func(ctx context.Context, r *http.Request, userID string, samples []float32) (*models.EnrollmentResult, error)
	NewChallengeFunc   func() (*models.Challenge, error)
}

func (m *MockVoiceService) VerifyLiveness(ctx context.Context, r *http.Request, userID string, samples []float32) (*models.LivenessReport, error) {
	if m.VerifyLivenessFunc == nil {
		return &models.LivenessReport{}, nil
	}
	return m.VerifyLivenessFunc(ctx, r, userID, samples)
}

func (m *MockVoiceService) Authenticate(ctx context.Context, r *http.Request, in models.VoiceAuthentication) (*models.AuthenticationResult, error) {
	if m.AuthenticateFunc == nil {
		return nil, models.ErrInvalidAudio
	}
	return m.AuthenticateFunc(ctx, r, in)
}

func (m *MockVoiceService) Enroll(ctx context.Context, r *http.Request, userID string, samples []float32) (*models.EnrollmentResult, error) {
	if m.EnrollFunc == nil {
		return nil, models.ErrNotLive
	}
	return m.EnrollFunc(ctx, r, userID, samples)
}

func (m *MockVoiceService) NewChallenge() (*models.Challenge, error) {
	if m.NewChallengeFunc == nil {
		return &models.Challenge{ChallengeID: "challenge_test", Phrase: "My voice is my password"}, nil
	}
	return m.NewChallengeFunc()
}

// MockSessionService implements SessionServiceInterface and AdminAuthorizer for testing
type MockSessionService struct {
	ExtractSessionFunc func(r *http.Request) *models.SessionData
	VerifyFunc         func(token string) (*models.SessionData, error)
	RefreshFunc        func(token string) (string, error)
	RequireAdminFunc   func(r *http.Request) (*models.SessionData, error)

	Invalidated []string
}

func (m *MockSessionService) ExtractSession(r *http.Request) *models.SessionData {
	if m.ExtractSessionFunc == nil {
		return nil
	}
	return m.ExtractSessionFunc(r)
}

func (m *MockSessionService) Verify(token string) (*models.SessionData, error) {
	if m.VerifyFunc == nil {
		return nil, models.ErrInvalidSession
	}
	return m.VerifyFunc(token)
}

func (m *MockSessionService) Refresh(token string) (string, error) {
	if m.RefreshFunc == nil {
		return "", models.ErrInvalidSession
	}
	return m.RefreshFunc(token)
}

func (m *MockSessionService) Invalidate(_ context.Context, sessionID, _ string, _ *http.Request) {
	m.Invalidated = append(m.Invalidated, sessionID)
}

func (m *MockSessionService) RequireAdmin(r *http.Request) (*models.SessionData, error) {
	if m.RequireAdminFunc == nil {
		return nil, models.ErrAuthRequired
	}
	return m.RequireAdminFunc(r)
}
