package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/BradenHooton/vocalid/internal/models"
	"github.com/BradenHooton/vocalid/pkg/antispoof"
	pkgauth "github.com/BradenHooton/vocalid/pkg/auth"
	"github.com/BradenHooton/vocalid/pkg/logger"
)

// SessionIssuer mints session tokens for authenticated users
type SessionIssuer interface {
	Issue(claims models.SessionClaims) (string, error)
}

// VoiceTemplateSealer encrypts enrolled voice data for one user
type VoiceTemplateSealer interface {
	Seal(data []byte, subject string) (*pkgauth.EncryptedVoiceData, error)
}

// VoiceConfig holds voice authentication settings
type VoiceConfig struct {
	SpectralWindow int
	Environment    string
}

// VoiceService runs the anti-spoofing checks and the triple-factor decision
type VoiceService struct {
	audit     *AuditService
	sessions  SessionIssuer
	sealer    VoiceTemplateSealer
	verifiers VoiceVerifiers
	config    VoiceConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewVoiceService creates a new VoiceService
func NewVoiceService(audit *AuditService, sessions SessionIssuer, sealer VoiceTemplateSealer, verifiers VoiceVerifiers, config VoiceConfig, log *slog.Logger) *VoiceService {
	return &VoiceService{
		audit:     audit,
		sessions:  sessions,
		sealer:    sealer,
		verifiers: verifiers,
		config:    config,
		logger:    log,
		now:       time.Now,
	}
}

// Assess scores samples for liveness and synthetic speech
func (s *VoiceService) Assess(samples []float32) (antispoof.LivenessAssessment, antispoof.DeepfakeAssessment) {
	return antispoof.ScoreLiveness(samples), antispoof.ScoreDeepfake(samples, s.config.SpectralWindow)
}

// VerifyLiveness scores samples and records the check
func (s *VoiceService) VerifyLiveness(ctx context.Context, r *http.Request, userID string, samples []float32) (*models.LivenessReport, error) {
	if len(samples) == 0 {
		return nil, models.ErrInvalidAudio
	}

	liveness, deepfake := s.Assess(samples)
	s.audit.LogSecurityEvent(ctx, models.AuditEventLivenessCheck, "Liveness verification performed",
		models.SeverityInfo, userID, r, models.AuditMetadata{
			"isLive":             liveness.IsLive,
			"livenessConfidence": liveness.Confidence,
			"isDeepfake":         deepfake.IsDeepfake,
			"deepfakeConfidence": deepfake.Confidence,
			"sampleCount":        len(samples),
		})

	if deepfake.IsDeepfake {
		s.deepfakeSuspected(ctx, r, userID, deepfake)
	}

	return &models.LivenessReport{
		Liveness:  liveness,
		Deepfake:  deepfake,
		Timestamp: s.now().UTC(),
	}, nil
}

// Authenticate combines the speaker, content and liveness scores, all of them
// computed server side. A flagged deepfake zeroes the liveness factor.
func (s *VoiceService) Authenticate(ctx context.Context, r *http.Request, in models.VoiceAuthentication) (*models.AuthenticationResult, error) {
	if len(in.Samples) == 0 {
		return nil, models.ErrInvalidAudio
	}

	speakerScore, err := s.verifiers.Speaker.VerifySpeaker(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("speaker verification failed: %w", err)
	}
	contentScore, err := s.verifiers.Content.VerifyContent(ctx, in.ChallengeID, in.ChallengePhrase, in.Samples)
	if err != nil {
		return nil, fmt.Errorf("content verification failed: %w", err)
	}

	liveness, deepfake := s.Assess(in.Samples)

	livenessScore := liveness.Confidence
	if deepfake.IsDeepfake {
		livenessScore = 0
		s.deepfakeSuspected(ctx, r, in.UserID, deepfake)
	}

	scores := models.NewAuthenticationScores(clampUnit(speakerScore), clampUnit(contentScore), livenessScore)
	result := &models.AuthenticationResult{
		AuthenticationScores: scores,
		Success:              scores.Succeeded(),
		Liveness:             liveness,
		Deepfake:             deepfake,
		Timestamp:            s.now().UTC(),
	}

	extra := models.AuditMetadata{
		"speakerScore":      scores.SpeakerScore,
		"contentScore":      scores.ContentScore,
		"livenessScore":     scores.LivenessScore,
		"overallConfidence": scores.OverallConfidence,
		"challengeId":       in.ChallengeID,
		"challengePhrase":   in.ChallengePhrase,
	}

	if !result.Success {
		result.Message = "Authentication failed - verification threshold not met"
		result.FailureReason = scores.FailureReason()
		extra["failureReason"] = result.FailureReason
		s.audit.LogAuthentication(ctx, in.UserID, false, r, extra)
		return result, nil
	}

	role := s.verifiers.Roles.RoleFor(ctx, in.UserID, in.VoiceProfileID)

	claims := models.SessionClaims{
		UserID:         in.UserID,
		Email:          in.Email,
		Role:           role,
		VoiceProfileID: in.VoiceProfileID,
	}
	token, err := s.sessions.Issue(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	result.Message = "Authentication successful - identity verified"
	result.Token = token
	result.Role = role

	s.audit.LogAuthentication(ctx, in.UserID, true, r, extra)
	s.audit.LogSecurityEvent(ctx, models.AuditEventSessionIssued, "Session issued after voice authentication",
		models.SeverityInfo, in.UserID, r, models.AuditMetadata{"role": role})

	s.logger.Info("voice authentication succeeded",
		logger.RedactedAttr("email", logger.SanitizedEmail(in.Email), s.config.Environment),
		slog.String("role", role))

	return result, nil
}

// Enroll accepts a sample only when it is live and not flagged as synthetic.
// The voice profile id is the sha256 of the raw sample bytes and the template
// is sealed for userID.
func (s *VoiceService) Enroll(ctx context.Context, r *http.Request, userID string, samples []float32) (*models.EnrollmentResult, error) {
	if len(samples) == 0 {
		return nil, models.ErrInvalidAudio
	}

	liveness, deepfake := s.Assess(samples)
	if !liveness.IsLive || deepfake.IsDeepfake {
		if deepfake.IsDeepfake {
			s.deepfakeSuspected(ctx, r, userID, deepfake)
		}
		s.audit.LogSecurityEvent(ctx, models.AuditEventVoiceEnrollRejected, "Voice enrollment rejected by anti-spoofing checks",
			models.SeverityWarning, userID, r, models.AuditMetadata{
				"livenessIndicators": liveness.Indicators,
				"deepfakeIndicators": deepfake.Indicators,
			})
		return nil, models.ErrNotLive
	}

	raw := antispoof.EncodeFloat32LE(samples)
	template, err := s.sealer.Seal(raw, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt voice template: %w", err)
	}

	profileID := pkgauth.HashVoiceProfile(raw)
	s.audit.LogSecurityEvent(ctx, models.AuditEventVoiceEnrolled, "Voice profile enrolled",
		models.SeverityInfo, userID, r, models.AuditMetadata{"voiceProfileId": profileID})

	return &models.EnrollmentResult{
		VoiceProfileID: profileID,
		Template:       template,
		Liveness:       liveness,
		Deepfake:       deepfake,
		Timestamp:      s.now().UTC(),
	}, nil
}

func (s *VoiceService) deepfakeSuspected(ctx context.Context, r *http.Request, userID string, deepfake antispoof.DeepfakeAssessment) {
	s.audit.LogSecurityEvent(ctx, models.AuditEventDeepfakeSuspected, "Synthetic voice indicators exceeded threshold",
		models.SeverityError, userID, r, models.AuditMetadata{
			"confidence": deepfake.Confidence,
			"indicators": deepfake.Indicators,
		})
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

type challengePhrase struct {
	phrase     string
	difficulty int
	category   string
}

var challengePhrases = []challengePhrase{
	{"My voice is my password", 1, "security"},
	{"Authentication successful", 1, "security"},
	{"Please verify my identity", 2, "security"},
	{"The quick brown fox jumps over the lazy dog", 3, "sentences"},
	{"Seven eight nine ten eleven twelve", 2, "numbers"},
	{"Technology innovation security", 3, "words"},
	{"Biometric voice recognition system", 4, "technical"},
	{"Artificial intelligence machine learning", 4, "technical"},
	{"Secure access granted successfully", 3, "security"},
	{"Voice authentication protocol active", 4, "technical"},
	{"Digital identity verification complete", 3, "security"},
	{"Advanced security measures enabled", 3, "security"},
	{"Multi-factor authentication approved", 4, "technical"},
	{"Biometric data processing initiated", 4, "technical"},
	{"User credentials validated successfully", 3, "security"},
}

// NewChallenge picks a random challenge phrase and registers it for one answer
func (s *VoiceService) NewChallenge() (*models.Challenge, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(challengePhrases))))
	if err != nil {
		return nil, fmt.Errorf("failed to pick challenge: %w", err)
	}

	token, err := pkgauth.GenerateSecureToken()
	if err != nil {
		return nil, err
	}

	c := challengePhrases[n.Int64()]
	challenge := &models.Challenge{
		ChallengeID: "challenge_" + token[:16],
		Phrase:      c.phrase,
		Difficulty:  c.difficulty,
		Category:    c.category,
		Timestamp:   s.now().UTC(),
	}
	if err := s.verifiers.Challenges.Register(challenge); err != nil {
		return nil, fmt.Errorf("failed to register challenge: %w", err)
	}
	return challenge, nil
}
