package models

import (
	"time"

	"github.com/BradenHooton/vocalid/pkg/antispoof"
	pkgauth "github.com/BradenHooton/vocalid/pkg/auth"
)

// Triple-factor weights and thresholds
const (
	SpeakerWeight  = 0.4
	ContentWeight  = 0.3
	LivenessWeight = 0.3

	AuthSuccessThreshold = 0.85
	FactorThreshold      = 0.8
)

// Authentication failure reasons, checked in this order
const (
	FailureSpeakerMismatch = "Voice pattern does not match enrolled profile"
	FailureContentMismatch = "Spoken phrase does not match challenge text"
	FailureLiveness        = "Potential synthetic or recorded voice detected"
	FailureLowConfidence   = "Overall confidence score below security threshold"
)

// AuthenticationScores are the three factor scores and their weighted sum
type AuthenticationScores struct {
	SpeakerScore      float64 `json:"speakerScore"`
	ContentScore      float64 `json:"contentScore"`
	LivenessScore     float64 `json:"livenessScore"`
	OverallConfidence float64 `json:"overallConfidence"`
}

// NewAuthenticationScores computes the weighted overall confidence
func NewAuthenticationScores(speaker, content, liveness float64) AuthenticationScores {
	return AuthenticationScores{
		SpeakerScore:      speaker,
		ContentScore:      content,
		LivenessScore:     liveness,
		OverallConfidence: speaker*SpeakerWeight + content*ContentWeight + liveness*LivenessWeight,
	}
}

// Succeeded reports whether the overall confidence meets the threshold
func (s AuthenticationScores) Succeeded() bool {
	return s.OverallConfidence >= AuthSuccessThreshold
}

// FailureReason names the first factor below FactorThreshold
func (s AuthenticationScores) FailureReason() string {
	switch {
	case s.SpeakerScore < FactorThreshold:
		return FailureSpeakerMismatch
	case s.ContentScore < FactorThreshold:
		return FailureContentMismatch
	case s.LivenessScore < FactorThreshold:
		return FailureLiveness
	default:
		return FailureLowConfidence
	}
}

// VoiceAuthentication is the input to a triple-factor decision. Template is
// the sealed enrollment returned by Enroll; Email is informational only.
type VoiceAuthentication struct {
	UserID          string
	Email           string
	VoiceProfileID  string
	Template        *pkgauth.EncryptedVoiceData
	ChallengeID     string
	ChallengePhrase string
	Samples         []float32
}

// AuthenticationResult is the outcome of a triple-factor decision
type AuthenticationResult struct {
	AuthenticationScores
	Success       bool                         `json:"success"`
	Message       string                       `json:"message"`
	FailureReason string                       `json:"failureReason,omitempty"`
	Liveness      antispoof.LivenessAssessment `json:"liveness"`
	Deepfake      antispoof.DeepfakeAssessment `json:"deepfake"`
	Role          string                       `json:"role,omitempty"`
	Token         string                       `json:"token,omitempty"`
	Timestamp     time.Time                    `json:"timestamp"`
}

// LivenessReport combines both anti-spoofing assessments
type LivenessReport struct {
	Liveness  antispoof.LivenessAssessment `json:"liveness"`
	Deepfake  antispoof.DeepfakeAssessment `json:"deepfake"`
	Timestamp time.Time                    `json:"timestamp"`
}

// EnrollmentResult is returned for an accepted enrollment sample
type EnrollmentResult struct {
	VoiceProfileID string                       `json:"voiceProfileId"`
	Template       *pkgauth.EncryptedVoiceData  `json:"template"`
	Liveness       antispoof.LivenessAssessment `json:"liveness"`
	Deepfake       antispoof.DeepfakeAssessment `json:"deepfake"`
	Timestamp      time.Time                    `json:"timestamp"`
}

// Challenge is a phrase the caller must speak during authentication
type Challenge struct {
	ChallengeID string    `json:"challengeId"`
	Phrase      string    `json:"phrase"`
	Difficulty  int       `json:"difficulty"`
	Category    string    `json:"category"`
	Timestamp   time.Time `json:"timestamp"`
}
