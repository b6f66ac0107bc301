package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/vocalid/internal/models"
	"github.com/BradenHooton/vocalid/pkg/antispoof"
	pkgauth "github.com/BradenHooton/vocalid/pkg/auth"
)

const (
	DefaultChallengeTTL = 5 * time.Minute
	maxOpenChallenges   = 10000
)

// ErrTooManyChallenges is returned when the registry is full of unexpired challenges
var ErrTooManyChallenges = errors.New("too many open challenges")

// SpeakerVerifier scores how closely the samples match the claimant's
// enrolled voice
type SpeakerVerifier interface {
	VerifySpeaker(ctx context.Context, in models.VoiceAuthentication) (float64, error)
}

// ContentVerifier scores whether the samples answer an issued challenge
type ContentVerifier interface {
	VerifyContent(ctx context.Context, challengeID, phrase string, samples []float32) (float64, error)
}

// ChallengeRegistrar records issued challenges so they can be answered once
type ChallengeRegistrar interface {
	Register(c *models.Challenge) error
}

// RoleResolver maps an authenticated voice profile to a session role
type RoleResolver interface {
	RoleFor(ctx context.Context, userID, voiceProfileID string) string
}

// VoiceVerifiers are the server-side collaborators of the triple-factor decision
type VoiceVerifiers struct {
	Speaker    SpeakerVerifier
	Content    ContentVerifier
	Challenges ChallengeRegistrar
	Roles      RoleResolver
}

// NewDefaultVoiceVerifiers wires the in-process verifiers around cipher
func NewDefaultVoiceVerifiers(cipher *pkgauth.VoiceCipher, challengeTTL time.Duration, adminProfiles []string) VoiceVerifiers {
	challenges := NewChallengeRegistry(challengeTTL)
	return VoiceVerifiers{
		Speaker:    NewTemplateSpeakerVerifier(cipher),
		Content:    challenges,
		Challenges: challenges,
		Roles:      NewStaticRoleResolver(adminProfiles),
	}
}

// VoiceTemplateOpener opens enrollment templates sealed for a user
type VoiceTemplateOpener interface {
	Open(env *pkgauth.EncryptedVoiceData, subject string) ([]byte, error)
}

// TemplateSpeakerVerifier compares the samples against the sealed enrollment
// template the client presents. The template must open for the claimed user
// and hash to the claimed voice profile id, otherwise the score is 0.
type TemplateSpeakerVerifier struct {
	opener VoiceTemplateOpener
}

// NewTemplateSpeakerVerifier creates a new TemplateSpeakerVerifier
func NewTemplateSpeakerVerifier(opener VoiceTemplateOpener) *TemplateSpeakerVerifier {
	return &TemplateSpeakerVerifier{opener: opener}
}

// VerifySpeaker returns the envelope similarity between the enrolled and
// presented samples
func (v *TemplateSpeakerVerifier) VerifySpeaker(_ context.Context, in models.VoiceAuthentication) (float64, error) {
	if in.Template == nil || in.VoiceProfileID == "" {
		return 0, nil
	}

	raw, err := v.opener.Open(in.Template, in.UserID)
	if err != nil {
		return 0, nil
	}
	if pkgauth.HashVoiceProfile(raw) != in.VoiceProfileID {
		return 0, nil
	}

	enrolled, err := antispoof.DecodeFloat32LE(raw)
	if err != nil {
		return 0, nil
	}
	return antispoof.EnvelopeSimilarity(enrolled, in.Samples), nil
}

type openChallenge struct {
	phrase    string
	expiresAt time.Time
}

// ChallengeRegistry holds issued challenges in memory until they are
// answered or expire. Each challenge can be answered once.
type ChallengeRegistry struct {
	mu      sync.Mutex
	ttl     time.Duration
	open    map[string]openChallenge
	nowFunc func() time.Time
}

// NewChallengeRegistry creates a registry. A non-positive ttl uses DefaultChallengeTTL.
func NewChallengeRegistry(ttl time.Duration) *ChallengeRegistry {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &ChallengeRegistry{
		ttl:     ttl,
		open:    make(map[string]openChallenge),
		nowFunc: time.Now,
	}
}

// WithClock replaces the expiry time source. Used by tests.
func (r *ChallengeRegistry) WithClock(now func() time.Time) *ChallengeRegistry {
	r.nowFunc = now
	return r
}

// Register records c as answerable until the ttl elapses
func (r *ChallengeRegistry) Register(c *models.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	if len(r.open) >= maxOpenChallenges {
		r.pruneLocked(now)
		if len(r.open) >= maxOpenChallenges {
			return ErrTooManyChallenges
		}
	}

	r.open[c.ChallengeID] = openChallenge{phrase: c.Phrase, expiresAt: now.Add(r.ttl)}
	return nil
}

// VerifyContent consumes the challenge and scores 1 when it was issued, has
// not expired, and the phrase matches, and 0 otherwise
func (r *ChallengeRegistry) VerifyContent(_ context.Context, challengeID, phrase string, _ []float32) (float64, error) {
	r.mu.Lock()
	c, ok := r.open[challengeID]
	delete(r.open, challengeID)
	now := r.nowFunc()
	r.mu.Unlock()

	if !ok || now.After(c.expiresAt) {
		return 0, nil
	}
	if !strings.EqualFold(strings.TrimSpace(phrase), c.phrase) {
		return 0, nil
	}
	return 1, nil
}

// Len returns the number of challenges not yet answered
func (r *ChallengeRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

func (r *ChallengeRegistry) pruneLocked(now time.Time) {
	for id, c := range r.open {
		if now.After(c.expiresAt) {
			delete(r.open, id)
		}
	}
}

// StaticRoleResolver grants the admin role to a configured set of voice profiles
type StaticRoleResolver struct {
	admins map[string]struct{}
}

// NewStaticRoleResolver creates a resolver for the given admin profile ids
func NewStaticRoleResolver(adminProfiles []string) *StaticRoleResolver {
	admins := make(map[string]struct{}, len(adminProfiles))
	for _, id := range adminProfiles {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = struct{}{}
		}
	}
	return &StaticRoleResolver{admins: admins}
}

// RoleFor returns RoleAdmin for configured profiles and RoleUser otherwise
func (r *StaticRoleResolver) RoleFor(_ context.Context, _ string, voiceProfileID string) string {
	if _, ok := r.admins[voiceProfileID]; ok {
		return models.RoleAdmin
	}
	return models.RoleUser
}
