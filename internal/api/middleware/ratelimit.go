package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Limit is a request count per rolling window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimitConfig carries per-surface limits. FailOpen lets traffic
// through when the backing store is unreachable instead of returning 503.
type RateLimitConfig struct {
	ChatRequests  Limit
	Syncs         Limit
	Conversations Limit
	Default       Limit
	FailOpen      bool
}

// DefaultRateLimitConfig returns the built-in limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		ChatRequests:  Limit{Requests: 20, Window: time.Minute},
		Syncs:         Limit{Requests: 6, Window: time.Hour},
		Conversations: Limit{Requests: 60, Window: time.Minute},
		Default:       Limit{Requests: 100, Window: time.Minute},
		FailOpen:      true,
	}
}

// RateLimitStore counts requests per key. Counters reset after the
// window passed to the first Increment for that key.
type RateLimitStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	GetCount(ctx context.Context, key string) (int64, error)
	IsHealthy() bool
}

type memoryCounter struct {
	n       int64
	resetAt time.Time
}

// MemoryRateLimitStore keeps counters in process memory. Counts are not
// shared between instances.
type MemoryRateLimitStore struct {
	mu       sync.RWMutex
	counters map[string]*memoryCounter
}

// NewMemoryRateLimitStore creates an in-memory store and starts its
// expiry sweep.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	s := &MemoryRateLimitStore{counters: make(map[string]*memoryCounter)}
	go s.sweep(5 * time.Minute)
	return s
}

func (s *MemoryRateLimitStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters[key]
	if c == nil || time.Now().After(c.resetAt) {
		s.counters[key] = &memoryCounter{n: 1, resetAt: time.Now().Add(window)}
		return 1, nil
	}
	c.n++
	return c.n, nil
}

func (s *MemoryRateLimitStore) GetCount(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c := s.counters[key]; c != nil && time.Now().Before(c.resetAt) {
		return c.n, nil
	}
	return 0, nil
}

func (s *MemoryRateLimitStore) IsHealthy() bool { return true }

func (s *MemoryRateLimitStore) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		now := time.Now()
		for key, c := range s.counters {
			if now.After(c.resetAt) {
				delete(s.counters, key)
			}
		}
		s.mu.Unlock()
	}
}

// RedisClient is the slice of Redis the Redis-backed store needs.
type RedisClient interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Ping(ctx context.Context) error
}

// RedisRateLimitStore shares counters across instances through Redis.
type RedisRateLimitStore struct {
	client  RedisClient
	prefix  string
	healthy bool
	logger  *slog.Logger
}

// NewRedisRateLimitStore probes the connection once; an unreachable
// Redis marks the store unhealthy and the limiter handles the rest.
func NewRedisRateLimitStore(client RedisClient, prefix string, logger *slog.Logger) *RedisRateLimitStore {
	s := &RedisRateLimitStore{client: client, prefix: prefix, logger: logger}
	if client == nil {
		return s
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		s.logger.Warn("rate limit store unreachable", "error", err)
		return s
	}
	s.healthy = true
	return s
}

func (s *RedisRateLimitStore) key(k string) string { return s.prefix + ":" + k }

func (s *RedisRateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	if !s.IsHealthy() {
		return 0, fmt.Errorf("rate limit store unavailable")
	}

	n, err := s.client.Incr(ctx, s.key(key))
	if err != nil {
		return 0, fmt.Errorf("incrementing rate limit counter: %w", err)
	}
	// The first hit in a window owns the TTL.
	if n == 1 {
		if err := s.client.Expire(ctx, s.key(key), window); err != nil {
			s.logger.Warn("failed to set rate limit expiry", "key", key, "error", err)
		}
	}
	return n, nil
}

func (s *RedisRateLimitStore) GetCount(ctx context.Context, key string) (int64, error) {
	if !s.IsHealthy() {
		return 0, fmt.Errorf("rate limit store unavailable")
	}

	val, err := s.client.Get(ctx, s.key(key))
	if err != nil {
		return 0, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (s *RedisRateLimitStore) IsHealthy() bool {
	return s.healthy && s.client != nil
}

// RateLimiter builds per-surface limiting middleware over a store.
type RateLimiter struct {
	store  RateLimitStore
	config RateLimitConfig
	logger *slog.Logger
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(store RateLimitStore, config RateLimitConfig, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		store:  store,
		config: config,
		logger: logger.With("component", "rate_limiter"),
	}
}

// Middleware limits requests on one surface ("chat", "sync",
// "conversation"). Responses carry X-RateLimit-* headers; exceeding the
// limit returns 429 with Retry-After.
func (rl *RateLimiter) Middleware(limitType string) func(next http.Handler) http.Handler {
	limit := rl.limitFor(limitType)
	windowSecs := strconv.Itoa(int(limit.Window.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := rl.clientID(r)
			key := limitType + ":" + clientID

			count, err := rl.count(r.Context(), key, limit.Window)
			if err != nil {
				if rl.config.FailOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
				return
			}

			remaining := int64(limit.Requests) - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Reset", windowSecs)

			if count > int64(limit.Requests) {
				rl.logger.Warn("rate limit exceeded",
					"client_id", clientID,
					"limit_type", limitType,
					"count", count,
				)
				w.Header().Set("Retry-After", windowSecs)
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) count(ctx context.Context, key string, window time.Duration) (int64, error) {
	if !rl.store.IsHealthy() {
		return 0, fmt.Errorf("rate limit store unhealthy")
	}
	count, err := rl.store.Increment(ctx, key, window)
	if err != nil {
		rl.logger.Error("rate limit check failed", "key", key, "error", err)
		return 0, err
	}
	return count, nil
}

func (rl *RateLimiter) limitFor(limitType string) Limit {
	switch limitType {
	case "chat":
		return rl.config.ChatRequests
	case "sync":
		return rl.config.Syncs
	case "conversation":
		return rl.config.Conversations
	default:
		return rl.config.Default
	}
}

// clientID keys authenticated requests by user ID and anonymous ones by
// client IP, honoring proxy headers.
func (rl *RateLimiter) clientID(r *http.Request) string {
	if id, ok := IdentityFromContext(r.Context()); ok {
		return "user:" + id.UserID
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
