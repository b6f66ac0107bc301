package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds the response floor applied to voice authentication
type TimingConfig struct {
	Floor          time.Duration // Minimum elapsed time before responding
	Jitter         time.Duration // Random extra delay in [0, Jitter)
	DelayOnSuccess bool          // If true, successful attempts are padded too
}

// DefaultTimingConfig pads failures to 250ms plus up to 100ms of jitter
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		Floor:  250 * time.Millisecond,
		Jitter: 100 * time.Millisecond,
	}
}

// TimingDelay keeps authentication failures indistinguishable by latency:
// a rejected speaker score and a rejected liveness check take the same time.
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// cryptoRandDuration returns a secure random duration in [0, max)
func cryptoRandDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(b[:]) % uint64(max))
}

// target returns the padded duration for one attempt, zero when no padding applies
func (td *TimingDelay) target(success bool) time.Duration {
	if td == nil || (success && !td.config.DelayOnSuccess) {
		return 0
	}
	return td.config.Floor + cryptoRandDuration(td.config.Jitter)
}

// WaitFrom blocks until at least the padded duration has elapsed since start.
// It returns early with the context error when ctx is cancelled.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) error {
	remaining := td.target(success) - time.Since(start)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
