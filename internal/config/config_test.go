package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if !had {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "ENV", "development")
	setEnv(t, "PORT", "")
	setEnv(t, "FRAUD_REMOTE_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultRemoteTimeout, cfg.RemoteTimeout)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "FRAUD_REMOTE_TIMEOUT", "1500ms")
	setEnv(t, "HISTORY_CACHE_TTL", "60000")
	setEnv(t, "ML_ENDPOINT", "https://ml.internal.example/score")
	setEnv(t, "ALLOWED_ORIGINS", "https://fashun.example, https://admin.fashun.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 1500*time.Millisecond, cfg.RemoteTimeout)
	assert.Equal(t, time.Minute, cfg.HistoryCacheTTL)
	assert.Equal(t, "https://ml.internal.example/score", cfg.MLEndpoint)
	assert.Equal(t, []string{"https://fashun.example", "https://admin.fashun.example"}, cfg.AllowedOrigins)
}

func TestLoad_ProductionRequiresAdminSecret(t *testing.T) {
	setEnv(t, "ENV", "production")
	setEnv(t, "ADMIN_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_SECRET is required")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:           "8080",
			Env:            "development",
			RemoteTimeout:  time.Second,
			RateLimitRPM:   60,
			RateLimitBurst: 10,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing port", func(c *Config) { c.Port = "" }, "PORT is required"},
		{"short admin secret", func(c *Config) { c.AdminSecret = "short" }, "at least 16"},
		{"zero timeout", func(c *Config) { c.RemoteTimeout = 0 }, "FRAUD_REMOTE_TIMEOUT"},
		{"relative endpoint", func(c *Config) { c.HistoryEndpoint = "/history" }, "HISTORY_ENDPOINT"},
		{"bad scheme", func(c *Config) { c.AuditEndpoint = "ftp://audit.example" }, "AUDIT_ENDPOINT"},
		{"zero burst", func(c *Config) { c.RateLimitBurst = 0 }, "RATE_LIMIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
