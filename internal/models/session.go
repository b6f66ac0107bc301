package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// SessionClaims are the login claims supplied by the credential flow
type SessionClaims struct {
	UserID         string `json:"userId" validate:"required,max=128"`
	Email          string `json:"email" validate:"required,email"`
	Role           string `json:"role" validate:"required,oneof=user admin"`
	VoiceProfileID string `json:"voiceProfileId,omitempty" validate:"omitempty,max=128"`
}

// SessionData is what a verified session token carries
type SessionData struct {
	SessionClaims
	SessionID           string    `json:"sessionId"`
	LastAuthenticatedAt time.Time `json:"lastAuthenticatedAt"`
}

// IsAdmin reports whether the session carries the admin role
func (s *SessionData) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

// SessionTokenClaims is the signed JWT payload.
// LastAuthenticated is unix milliseconds.
type SessionTokenClaims struct {
	UserID            string `json:"userId"`
	Email             string `json:"email"`
	Role              string `json:"role"`
	VoiceProfileID    string `json:"voiceProfileId,omitempty"`
	SessionID         string `json:"sessionId"`
	LastAuthenticated int64  `json:"lastAuthenticated"`
	jwt.RegisteredClaims
}

// ToSessionData converts the signed payload into SessionData
func (c *SessionTokenClaims) ToSessionData() *SessionData {
	return &SessionData{
		SessionClaims: SessionClaims{
			UserID:         c.UserID,
			Email:          c.Email,
			Role:           c.Role,
			VoiceProfileID: c.VoiceProfileID,
		},
		SessionID:           c.SessionID,
		LastAuthenticatedAt: time.UnixMilli(c.LastAuthenticated),
	}
}
