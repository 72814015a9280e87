// Package ratelimit provides per-client rate limiting middleware for the
// risk API. Limits are enforced in-process with token buckets, or across
// replicas with a Redis fixed window when a Redis client is configured.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/fashun/riskguard/internal/logging"
)

// Config configures rate limiting.
type Config struct {
	// RequestsPerMinute is the sustained per-client budget.
	RequestsPerMinute int
	// BurstSize allows brief bursts above the sustained rate.
	BurstSize int
	// CleanupInterval is how often idle in-process buckets are dropped.
	CleanupInterval time.Duration
	// RedisPrefix namespaces window keys when Redis is used.
	RedisPrefix string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 600,
		BurstSize:         50,
		CleanupInterval:   time.Minute,
		RedisPrefix:       "fashun:rl",
	}
}

// Allower decides whether a request for key may proceed.
type Allower interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Limiter is an in-process token bucket per key.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*bucket
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// New creates an in-process limiter and starts its cleanup loop.
func New(cfg Config) *Limiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * l.cfg.CleanupInterval)
			l.mu.Lock()
			for key, b := range l.clients {
				if b.lastSeen.Before(cutoff) {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow consumes one token for key.
func (l *Limiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	b, ok := l.clients[key]
	if !ok {
		perSec := rate.Limit(float64(l.cfg.RequestsPerMinute) / 60.0)
		b = &bucket{lim: rate.NewLimiter(perSec, l.cfg.BurstSize)}
		l.clients[key] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	return b.lim.Allow(), nil
}

// RedisLimiter enforces a fixed one-minute window shared by all replicas.
type RedisLimiter struct {
	client redis.Cmdable
	cfg    Config
	now    func() time.Time
}

// NewRedis creates a Redis-backed limiter. The window budget is
// RequestsPerMinute + BurstSize.
func NewRedis(client redis.Cmdable, cfg Config) *RedisLimiter {
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = "fashun:rl"
	}
	return &RedisLimiter{client: client, cfg: cfg, now: time.Now}
}

func (r *RedisLimiter) windowKey(key string) string {
	window := r.now().Unix() / 60
	return fmt.Sprintf("%s:%s:%d", r.cfg.RedisPrefix, key, window)
}

// Allow increments the current window counter for key.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := r.windowKey(key)
	n, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return true, fmt.Errorf("ratelimit incr: %w", err)
	}
	if n == 1 {
		if err := r.client.Expire(ctx, k, time.Minute).Err(); err != nil {
			return true, fmt.Errorf("ratelimit expire: %w", err)
		}
	}
	return n <= int64(r.cfg.RequestsPerMinute+r.cfg.BurstSize), nil
}

// Middleware returns a gin middleware that limits by admin credential or
// client IP. Limiter backend errors fail open.
func Middleware(a Allower) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if secret := c.GetHeader("X-Admin-Secret"); secret != "" {
			key = "admin:" + secret[:min(8, len(secret))]
		}

		ok, err := a.Allow(c.Request.Context(), key)
		if err != nil {
			logging.L(c.Request.Context()).Warn("rate limiter unavailable", "error", err)
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			return
		}

		c.Next()
	}
}
