package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/vocalid/internal/models"
	"github.com/redis/go-redis/v9"
)

// RateLimitStore holds fixed-window counters keyed by identity.
// Increment must be atomic per key: it supersedes an expired window,
// bumps the count and returns the updated record.
type RateLimitStore interface {
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (models.RateLimitRecord, error)
}

// RateLimiterConfig holds configuration for one limiter class
type RateLimiterConfig struct {
	Window      time.Duration
	MaxRequests int
}

// Validate checks the limiter configuration
func (c RateLimiterConfig) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.Window)
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("rate limit max requests must be positive, got %d", c.MaxRequests)
	}
	return nil
}

// RateLimiter implements a fixed-window request counter for one route class
type RateLimiter struct {
	name   string
	config RateLimiterConfig
	store  RateLimitStore
	logger *slog.Logger
	now    func() time.Time
}

// NewRateLimiter creates a new RateLimiter
func NewRateLimiter(name string, config RateLimiterConfig, store RateLimitStore, logger *slog.Logger) (*RateLimiter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s limiter: %w", name, err)
	}
	if store == nil {
		store = NewMemoryRateLimitStore()
	}

	return &RateLimiter{
		name:   name,
		config: config,
		store:  store,
		logger: logger,
		now:    time.Now,
	}, nil
}

// WithClock replaces the limiter's time source. Used by tests.
func (l *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	l.now = now
	return l
}

// Name returns the limiter class name
func (l *RateLimiter) Name() string {
	return l.name
}

// Config returns the limiter configuration
func (l *RateLimiter) Config() RateLimiterConfig {
	return l.config
}

// Check counts one request against key and reports whether it is allowed.
// Store failures fail open: the request is allowed with full remaining quota.
func (l *RateLimiter) Check(ctx context.Context, key string) models.RateLimitResult {
	now := l.now()

	record, err := l.store.Increment(ctx, l.name+":"+key, l.config.Window, now)
	if err != nil {
		l.logger.Error("rate limit store unavailable, allowing request",
			slog.String("limiter", l.name),
			slog.Any("error", err))
		return models.RateLimitResult{
			Allowed:       true,
			Remaining:     l.config.MaxRequests,
			WindowResetAt: now.Add(l.config.Window),
		}
	}

	remaining := l.config.MaxRequests - record.Count
	if remaining < 0 {
		remaining = 0
	}

	return models.RateLimitResult{
		Allowed:       record.Count <= l.config.MaxRequests,
		Remaining:     remaining,
		WindowResetAt: record.WindowResetAt,
	}
}

// MemoryRateLimitStore keeps counters in process memory. Expired records are
// superseded lazily on the next hit and never swept.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	records map[string]models.RateLimitRecord
}

// NewMemoryRateLimitStore creates an empty in-memory store
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{
		records: make(map[string]models.RateLimitRecord),
	}
}

// Increment implements RateLimitStore
func (s *MemoryRateLimitStore) Increment(_ context.Context, key string, window time.Duration, now time.Time) (models.RateLimitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok || !now.Before(record.WindowResetAt) {
		record = models.RateLimitRecord{Count: 0, WindowResetAt: now.Add(window)}
	}
	record.Count++
	s.records[key] = record

	return record, nil
}

// Len returns the number of tracked keys
func (s *MemoryRateLimitStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// fixedWindowScript increments the counter, starts the window on the first
// hit and returns the count together with the remaining TTL in milliseconds.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisRateLimitStore shares counters across processes through Redis
type RedisRateLimitStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisRateLimitStore creates a Redis-backed store. Keys are namespaced by prefix.
func NewRedisRateLimitStore(client redis.Scripter, prefix string) *RedisRateLimitStore {
	if prefix == "" {
		prefix = "vocalid:ratelimit:"
	}
	return &RedisRateLimitStore{
		client: client,
		prefix: prefix,
	}
}

// Increment implements RateLimitStore
func (s *RedisRateLimitStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (models.RateLimitRecord, error) {
	res, err := fixedWindowScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return models.RateLimitRecord{}, fmt.Errorf("redis rate limit increment: %w", err)
	}
	if len(res) != 2 {
		return models.RateLimitRecord{}, errors.New("redis rate limit increment: unexpected script result")
	}

	return models.RateLimitRecord{
		Count:         int(res[0]),
		WindowResetAt: now.Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

// RouteClass names the limiter bucket a request path falls into
type RouteClass string

const (
	RouteClassStrict RouteClass = "strict"
	RouteClassAdmin  RouteClass = "admin"
	RouteClassAPI    RouteClass = "api"
)

// ClassifyRoute picks the limiter class for a path. The admin prefix is
// checked first, then auth and enroll paths, then everything else.
func ClassifyRoute(path string) RouteClass {
	switch {
	case strings.HasPrefix(path, "/api/admin/"):
		return RouteClassAdmin
	case strings.Contains(path, "/auth"), strings.Contains(path, "/enroll"):
		return RouteClassStrict
	default:
		return RouteClassAPI
	}
}

// DefaultRateLimits returns the per-class limits used when nothing is configured
func DefaultRateLimits() map[RouteClass]RateLimiterConfig {
	return map[RouteClass]RateLimiterConfig{
		RouteClassStrict: {Window: 15 * time.Minute, MaxRequests: 5},
		RouteClassAdmin:  {Window: time.Minute, MaxRequests: 50},
		RouteClassAPI:    {Window: time.Minute, MaxRequests: 100},
	}
}
