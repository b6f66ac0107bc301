package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/BradenHooton/vocalid/internal/auth"
	"github.com/BradenHooton/vocalid/internal/models"
	"github.com/BradenHooton/vocalid/pkg/antispoof"
	pkgauth "github.com/BradenHooton/vocalid/pkg/auth"
	pkghttp "github.com/BradenHooton/vocalid/pkg/http"
)

const (
	// MaxSamples caps one upload at 20 seconds of 48kHz mono audio
	MaxSamples = 960000

	maxRawBodyBytes  = MaxSamples * 4
	maxJSONBodyBytes = 16 << 20
)

// VoiceServiceInterface defines the voice verification business logic
type VoiceServiceInterface interface {
	VerifyLiveness(ctx context.Context, r *http.Request, userID string, samples []float32) (*models.LivenessReport, error)
	Authenticate(ctx context.Context, r *http.Request, in models.VoiceAuthentication) (*models.AuthenticationResult, error)
	Enroll(ctx context.Context, r *http.Request, userID string, samples []float32) (*models.EnrollmentResult, error)
	NewChallenge() (*models.Challenge, error)
}

// VoiceHandler handles voice verification HTTP requests
type VoiceHandler struct {
	service      VoiceServiceInterface
	timing       *auth.TimingDelay
	cookieConfig auth.CookieConfig
	cookieMaxAge int
	logger       *slog.Logger
}

// NewVoiceHandler creates a new VoiceHandler. Session cookies live for sessionTTL.
func NewVoiceHandler(service VoiceServiceInterface, timing *auth.TimingDelay, cookieConfig auth.CookieConfig, sessionTTL time.Duration, logger *slog.Logger) *VoiceHandler {
	return &VoiceHandler{
		service:      service,
		timing:       timing,
		cookieConfig: cookieConfig,
		cookieMaxAge: int(sessionTTL.Seconds()),
		logger:       logger,
	}
}

// Request DTOs

// SamplesRequest carries mono PCM samples in [-1, 1]
type SamplesRequest struct {
	UserID  string    `json:"userId" validate:"omitempty,max=128"`
	Samples []float32 `json:"samples" validate:"required,min=1,max=960000"`
}

// EnrollRequest carries the enrollment sample for a user
type EnrollRequest struct {
	UserID  string    `json:"userId" validate:"required,max=128"`
	Samples []float32 `json:"samples" validate:"required,min=1,max=960000"`
}

// AuthenticateRequest carries the enrollment template, the answered challenge
// and the spoken samples. All factor scores are computed server side.
type AuthenticateRequest struct {
	UserID          string                      `json:"userId" validate:"required,max=128"`
	Email           string                      `json:"email" validate:"required,email"`
	VoiceProfileID  string                      `json:"voiceProfileId" validate:"required,max=128"`
	Template        *pkgauth.EncryptedVoiceData `json:"template" validate:"required"`
	ChallengeID     string                      `json:"challengeId" validate:"required,max=64"`
	ChallengePhrase string                      `json:"challengePhrase" validate:"required,max=256"`
	Samples         []float32                   `json:"samples" validate:"required,min=1,max=960000"`
}

// Challenge handles GET /api/voice/challenge
func (h *VoiceHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	challenge, err := h.service.NewChallenge()
	if err != nil {
		h.logger.Error("failed to create challenge", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, challenge)
}

// VerifyLiveness handles POST /api/voice/verify-liveness. The body is either
// JSON SamplesRequest or application/octet-stream float32 little-endian PCM
// with the user id in the userId query parameter.
func (h *VoiceHandler) VerifyLiveness(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSamples(w, r)
	if !ok {
		return
	}

	report, err := h.service.VerifyLiveness(r.Context(), r, req.UserID, req.Samples)
	if err != nil {
		h.writeVoiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, report)
}

// Authenticate handles POST /api/voice/authenticate. Failed decisions are
// answered 200 with success=false; a successful one also sets the session cookie.
func (h *VoiceHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req AuthenticateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Authenticate(r.Context(), r, models.VoiceAuthentication{
		UserID:          req.UserID,
		Email:           req.Email,
		VoiceProfileID:  req.VoiceProfileID,
		Template:        req.Template,
		ChallengeID:     req.ChallengeID,
		ChallengePhrase: req.ChallengePhrase,
		Samples:         req.Samples,
	})
	if err != nil {
		_ = h.timing.WaitFrom(r.Context(), start, false)
		h.writeVoiceError(w, err)
		return
	}

	if err := h.timing.WaitFrom(r.Context(), start, result.Success); err != nil {
		return
	}

	if result.Success {
		auth.SetSessionCookie(w, result.Token, h.cookieMaxAge, h.cookieConfig)
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Enroll handles POST /api/voice/enroll
func (h *VoiceHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Enroll(r.Context(), r, req.UserID, req.Samples)
	if err != nil {
		h.writeVoiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, result)
}

func (h *VoiceHandler) decodeSamples(w http.ResponseWriter, r *http.Request) (SamplesRequest, bool) {
	var req SamplesRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/octet-stream" {
		return req, decodeJSON(w, r, &req)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRawBodyBytes))
	if err != nil {
		pkghttp.WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Audio upload too large")
		return req, false
	}

	samples, err := antispoof.DecodeFloat32LE(body)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return req, false
	}

	req.UserID = r.URL.Query().Get("userId")
	req.Samples = samples
	if err := ValidateRequest(req); err != nil {
		writeValidationError(w, err)
		return req, false
	}
	return req, true
}

// decodeJSON reads a bounded JSON body into dst and validates it
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			pkghttp.WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
			return false
		}
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}

	if err := ValidateRequest(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func (h *VoiceHandler) writeVoiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidAudio):
		pkghttp.WriteBadRequest(w, "Audio samples are required")
	case errors.Is(err, models.ErrNotLive):
		pkghttp.WriteError(w, http.StatusUnprocessableEntity, "liveness_failed", "Audio sample failed anti-spoofing checks")
	default:
		h.logger.Error("voice request failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
