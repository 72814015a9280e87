package fraud

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fashun/riskguard/internal/metrics"
)

// HistoryCache stores history analyzer results per customer identity.
type HistoryCache interface {
	Get(ctx context.Context, key string) ([]RiskFactor, bool)
	Set(ctx context.Context, key string, factors []RiskFactor)
}

const historyKeyPrefix = "fashun:fraud:history:"

// HistoryCacheKey hashes the identity tuple so raw emails and IPs are not
// stored as Redis keys.
func HistoryCacheKey(customerID, email, deviceID, ip string) string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		customerID, strings.ToLower(strings.TrimSpace(email)), deviceID, ip,
	}, "\x1f")))
	return historyKeyPrefix + hex.EncodeToString(h[:])
}

// RedisHistoryCache is a HistoryCache on Redis. Redis errors are treated
// as misses.
type RedisHistoryCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisHistoryCache creates a cache with the given entry TTL.
func NewRedisHistoryCache(client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *RedisHistoryCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisHistoryCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisHistoryCache) Get(ctx context.Context, key string) ([]RiskFactor, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("history cache read failed", "error", err)
			metrics.HistoryCacheLookupsTotal.WithLabelValues("error").Inc()
			return nil, false
		}
		metrics.HistoryCacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	var factors []RiskFactor
	if err := json.Unmarshal(data, &factors); err != nil {
		c.logger.Warn("history cache entry corrupt", "error", err)
		metrics.HistoryCacheLookupsTotal.WithLabelValues("error").Inc()
		return nil, false
	}
	metrics.HistoryCacheLookupsTotal.WithLabelValues("hit").Inc()
	return factors, true
}

func (c *RedisHistoryCache) Set(ctx context.Context, key string, factors []RiskFactor) {
	if factors == nil {
		factors = []RiskFactor{}
	}
	data, err := json.Marshal(factors)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("history cache write failed", "error", err)
	}
}
