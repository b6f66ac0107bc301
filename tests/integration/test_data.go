package integration

import (
	"fmt"
	"time"

	"github.com/BradenHooton/vocalid/internal/models"
)

// TestUserID generates a unique user id using a timestamp
func TestUserID(suffix string) string {
	return fmt.Sprintf("user-%d-%s", time.Now().UnixNano(), suffix)
}

// NaturalSpeech returns samples that pass the liveness checks without
// tripping the deepfake score: quiet pauses, emphasized windows below the
// clipping band and mid-level speech.
func NaturalSpeech() []float32 {
	s := make([]float32, 0, 2000)
	step := func(a, b float32) {
		for i := 0; i < 25; i++ {
			s = append(s, a)
		}
		for i := 0; i < 25; i++ {
			s = append(s, b)
		}
	}
	for w := 0; w < 20; w++ {
		for p := 0; p < 2; p++ {
			switch {
			case w < 5:
				step(0.02, 0.04)
			case w < 10:
				step(0.72, 0.78)
			default:
				step(0.3, 0.4)
			}
		}
	}
	return s
}

// FlatTone returns a constant signal that fails liveness
func FlatTone(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = 0.5
	}
	return s
}

// AuthenticateBody builds a POST /api/voice/authenticate payload answering
// challenge with the enrolled template
func AuthenticateBody(userID, email string, enrolled *models.EnrollmentResult, challenge *models.Challenge, samples []float32) map[string]interface{} {
	return map[string]interface{}{
		"userId":          userID,
		"email":           email,
		"voiceProfileId":  enrolled.VoiceProfileID,
		"template":        enrolled.Template,
		"challengeId":     challenge.ChallengeID,
		"challengePhrase": challenge.Phrase,
		"samples":         samples,
	}
}
