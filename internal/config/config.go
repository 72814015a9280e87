// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Enables the history result cache when set

	// Remote collaborators of the fraud engine. Empty disables the call.
	MLEndpoint      string
	HistoryEndpoint string
	AuditEndpoint   string
	RulesStoreURL   string

	// Bounds each remote analyzer call.
	RemoteTimeout   time.Duration
	HistoryCacheTTL time.Duration

	// Circuit breaker for remote analyzers
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Security
	AdminSecret     string
	RateLimitRPM    int
	RateLimitBurst  int
	AllowedOrigins  []string
	OTLPEndpoint    string
	ShutdownTimeout time.Duration
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultRemoteTimeout    = 2 * time.Second
	DefaultHistoryCacheTTL  = 10 * time.Minute
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second
	DefaultRateLimitRPM     = 600
	DefaultRateLimitBurst   = 50
	DefaultShutdownTimeout  = 30 * time.Second
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		MLEndpoint:       os.Getenv("ML_ENDPOINT"),
		HistoryEndpoint:  os.Getenv("HISTORY_ENDPOINT"),
		AuditEndpoint:    os.Getenv("AUDIT_ENDPOINT"),
		RulesStoreURL:    os.Getenv("RULES_STORE_URL"),
		RemoteTimeout:    getEnvDuration("FRAUD_REMOTE_TIMEOUT", DefaultRemoteTimeout),
		HistoryCacheTTL:  getEnvDuration("HISTORY_CACHE_TTL", DefaultHistoryCacheTTL),
		BreakerThreshold: getEnvInt("BREAKER_THRESHOLD", DefaultBreakerThreshold),
		BreakerCooldown:  getEnvDuration("BREAKER_COOLDOWN", DefaultBreakerCooldown),
		AdminSecret:      os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:     getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", DefaultRateLimitBurst),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "*")),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	if c.AdminSecret != "" && len(c.AdminSecret) < 16 {
		return fmt.Errorf("ADMIN_SECRET must be at least 16 characters")
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("FRAUD_REMOTE_TIMEOUT must be positive")
	}
	for name, raw := range map[string]string{
		"ML_ENDPOINT":      c.MLEndpoint,
		"HISTORY_ENDPOINT": c.HistoryEndpoint,
		"AUDIT_ENDPOINT":   c.AuditEndpoint,
		"RULES_STORE_URL":  c.RulesStoreURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an absolute http(s) URL", name)
		}
	}
	if c.RateLimitRPM <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("1500ms") or plain milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
