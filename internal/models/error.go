package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Request gate errors
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrInternalGate = errors.New("internal request gate error")

	// Session errors
	ErrInvalidSession        = errors.New("invalid session")
	ErrAuthRequired          = errors.New("authentication required")
	ErrAdminRequired         = errors.New("admin access required")
	ErrSessionNotRefreshable = errors.New("session is past the refresh threshold")

	// Voice errors
	ErrInvalidAudio = errors.New("invalid audio samples")
	ErrNotLive      = errors.New("audio sample failed liveness checks")
)
