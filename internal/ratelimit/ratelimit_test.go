package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstThenDeny(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 5, CleanupInterval: time.Minute})
	defer l.Stop()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := l.Allow(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}
	ok, _ := l.Allow(ctx, "ip:1.2.3.4")
	assert.False(t, ok, "request after burst should be denied")
}

func TestLimiter_KeysIndependent(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1})
	defer l.Stop()
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "a")
	assert.False(t, ok)
	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok)
}

func TestLimiter_StopIdempotent(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	l.Stop()
}

func fixedRedisLimiter(t *testing.T) (*RedisLimiter, redismock.ClientMock, string) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	r := NewRedis(client, Config{RequestsPerMinute: 2, BurstSize: 1, RedisPrefix: "rl"})
	fixed := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	r.now = func() time.Time { return fixed }
	return r, mock, r.windowKey("ip:9.9.9.9")
}

func TestRedisLimiter_FirstHitSetsExpiry(t *testing.T) {
	r, mock, key := fixedRedisLimiter(t)
	mock.ExpectIncr(key).SetVal(1)
	mock.ExpectExpire(key, time.Minute).SetVal(true)

	ok, err := r.Allow(context.Background(), "ip:9.9.9.9")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLimiter_OverBudget(t *testing.T) {
	r, mock, key := fixedRedisLimiter(t)
	mock.ExpectIncr(key).SetVal(4)

	ok, err := r.Allow(context.Background(), "ip:9.9.9.9")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLimiter_ErrorFailsOpen(t *testing.T) {
	r, mock, key := fixedRedisLimiter(t)
	mock.ExpectIncr(key).SetErr(errors.New("connection refused"))

	ok, err := r.Allow(context.Background(), "ip:9.9.9.9")
	assert.Error(t, err)
	assert.True(t, ok)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := New(Config{RequestsPerMinute: 60, BurstSize: 2})
	defer l.Stop()

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/x", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}
