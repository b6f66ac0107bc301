package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	VoiceKeyLength  = 32 // AES-256
	SecureTokenSize = 32

	// scrypt parameters for deriving the voice data key
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// VoiceDataAAD binds every ciphertext to its purpose
var VoiceDataAAD = []byte("vocal-id-voice-data")

var (
	// ErrMissingVoiceKey is returned when no encryption secret is configured
	ErrMissingVoiceKey = errors.New("voice encryption key is required")
	// ErrDecryptFailed is returned for tampered or foreign ciphertexts
	ErrDecryptFailed = errors.New("voice data decryption failed")
)

// EncryptedVoiceData is an AES-256-GCM envelope for a voice template
type EncryptedVoiceData struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

// VoiceCipher encrypts voice templates with a key derived from a secret
type VoiceCipher struct {
	aead cipher.AEAD
}

// NewVoiceCipher derives an AES-256 key from secret and salt with scrypt
func NewVoiceCipher(secret, salt string) (*VoiceCipher, error) {
	if secret == "" {
		return nil, ErrMissingVoiceKey
	}

	key, err := scrypt.Key([]byte(secret), []byte(salt), scryptN, scryptR, scryptP, VoiceKeyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to derive voice key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}

	return &VoiceCipher{aead: aead}, nil
}

// Seal encrypts data bound to subject under a fresh random nonce. The
// envelope only opens for the same subject.
func (c *VoiceCipher) Seal(data []byte, subject string) (*EncryptedVoiceData, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &EncryptedVoiceData{
		Ciphertext: c.aead.Seal(nil, nonce, data, subjectAAD(subject)),
		Nonce:      nonce,
	}, nil
}

// Open decrypts an envelope produced by Seal for subject
func (c *VoiceCipher) Open(env *EncryptedVoiceData, subject string) ([]byte, error) {
	if env == nil || len(env.Nonce) != c.aead.NonceSize() {
		return nil, ErrDecryptFailed
	}

	plain, err := c.aead.Open(nil, env.Nonce, env.Ciphertext, subjectAAD(subject))
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}

func subjectAAD(subject string) []byte {
	if subject == "" {
		return VoiceDataAAD
	}
	aad := make([]byte, 0, len(VoiceDataAAD)+1+len(subject))
	aad = append(aad, VoiceDataAAD...)
	aad = append(aad, ':')
	return append(aad, subject...)
}

// HashVoiceProfile returns the hex sha256 of raw voice data
func HashVoiceProfile(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GenerateSecureToken returns a random hex token of SecureTokenSize bytes
func GenerateSecureToken() (string, error) {
	bytes := make([]byte, SecureTokenSize)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
