package models

import "time"

// RateLimitRecord is the fixed-window counter kept per identity key
type RateLimitRecord struct {
	Count         int       `json:"count"`
	WindowResetAt time.Time `json:"window_reset_at"`
}

// RateLimitResult is the outcome of a single limiter check
type RateLimitResult struct {
	Allowed       bool      `json:"allowed"`
	Remaining     int       `json:"remaining"`
	WindowResetAt time.Time `json:"window_reset_at"`
}

// RetryAfter returns the whole seconds (rounded up) until the window resets
func (r RateLimitResult) RetryAfter(now time.Time) int {
	ms := r.WindowResetAt.Sub(now).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}

// Err returns ErrRateLimited for a rejected check and nil otherwise
func (r RateLimitResult) Err() error {
	if r.Allowed {
		return nil
	}
	return ErrRateLimited
}
