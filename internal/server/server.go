// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/fashun/riskguard/internal/affiliate"
	"github.com/fashun/riskguard/internal/circuitbreaker"
	"github.com/fashun/riskguard/internal/config"
	"github.com/fashun/riskguard/internal/fraud"
	"github.com/fashun/riskguard/internal/health"
	"github.com/fashun/riskguard/internal/idgen"
	"github.com/fashun/riskguard/internal/logging"
	"github.com/fashun/riskguard/internal/metrics"
	"github.com/fashun/riskguard/internal/ratelimit"
	"github.com/fashun/riskguard/internal/realtime"
	"github.com/fashun/riskguard/internal/retry"
	"github.com/fashun/riskguard/internal/security"
	"github.com/fashun/riskguard/internal/traces"
	"github.com/fashun/riskguard/internal/validation"
)

// Version is reported by /health and attached to traces.
const Version = "0.3.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	db            *sql.DB       // nil if using in-memory
	redis         redis.Cmdable // nil without REDIS_URL
	breaker       *circuitbreaker.Breaker
	rules         *fraud.RuleEngine
	engine        *fraud.Engine
	assessments   fraud.AssessmentStore
	audit         *fraud.HTTPAuditLogger
	affiliates    *affiliate.Service
	realtimeHub   *realtime.Hub
	checks        *health.Registry
	rateLimiter   ratelimit.Allower
	localLimiter  *ratelimit.Limiter
	traceShutdown func(context.Context) error
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDB uses an already opened database instead of DATABASE_URL.
func WithDB(db *sql.DB) Option {
	return func(s *Server) {
		s.db = db
	}
}

// WithRedis uses an existing Redis client instead of REDIS_URL.
func WithRedis(client redis.Cmdable) Option {
	return func(s *Server) {
		s.redis = client
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		checks: health.NewRegistry(2 * time.Second),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.traceShutdown = shutdown

	if err := validation.Register(); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}

	if err := s.openStorage(ctx); err != nil {
		return nil, err
	}

	if err := s.setupFraud(ctx); err != nil {
		return nil, err
	}

	s.setupAffiliates()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// openStorage connects Postgres and Redis when configured.
func (s *Server) openStorage(ctx context.Context) error {
	if s.db == nil && s.cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pctx); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
	}
	if s.db != nil {
		s.checks.Register("postgres", health.DBCheck(s.db))
	} else {
		s.logger.Info("using in-memory storage (set DATABASE_URL for persistence)")
	}

	if s.redis == nil && s.cfg.RedisURL != "" {
		opts, err := redis.ParseURL(s.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(opts)
		s.logger.Info("redis enabled", "addr", opts.Addr)
	}
	if s.redis != nil {
		// Redis only backs the cache and rate limiter, both of which degrade.
		s.checks.RegisterOptional("redis", health.RedisCheck(s.redis))
	}
	return nil
}

// setupFraud wires rule storage, remote analyzers and the engine.
func (s *Server) setupFraud(ctx context.Context) error {
	var ruleStore fraud.RuleStore
	switch {
	case s.cfg.RulesStoreURL != "":
		ruleStore = fraud.NewHTTPRuleStore(s.cfg.RulesStoreURL, s.cfg.RemoteTimeout)
		s.logger.Info("fraud rules from remote store", "url", s.cfg.RulesStoreURL)
	case s.db != nil:
		ruleStore = fraud.NewPostgresRuleStore(s.db)
	default:
		ruleStore = fraud.NewMemoryRuleStore()
	}
	if s.db != nil {
		s.assessments = fraud.NewPostgresAssessmentStore(s.db)
	} else {
		s.assessments = fraud.NewMemoryAssessmentStore()
	}

	s.rules = fraud.NewRuleEngine(ruleStore, s.logger)
	lctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := retry.Do(lctx, retry.DefaultPolicy, s.rules.Load); err != nil {
		return fmt.Errorf("failed to load fraud rules: %w", err)
	}

	s.breaker = circuitbreaker.New(s.cfg.BreakerThreshold, s.cfg.BreakerCooldown)
	s.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		s.logger.Warn("circuit breaker transition", "key", key, "from", from.String(), "to", to.String())
	})

	remote := func(endpoint string) fraud.RemoteConfig {
		return fraud.RemoteConfig{
			Endpoint: endpoint,
			Timeout:  s.cfg.RemoteTimeout,
			Breaker:  s.breaker,
			Logger:   s.logger,
		}
	}

	var cache fraud.HistoryCache
	if s.redis != nil {
		cache = fraud.NewRedisHistoryCache(s.redis, s.cfg.HistoryCacheTTL, s.logger)
	}

	s.audit = fraud.NewHTTPAuditLogger(s.cfg.AuditEndpoint, s.cfg.RemoteTimeout, s.logger)
	s.realtimeHub = realtime.NewHub(s.logger, s.cfg.AllowedOrigins...)

	s.engine = fraud.NewEngine(s.rules,
		fraud.WithML(fraud.NewMLAnalyzer(remote(s.cfg.MLEndpoint))),
		fraud.WithHistory(fraud.NewHistoryAnalyzer(remote(s.cfg.HistoryEndpoint), cache)),
		fraud.WithAudit(s.audit),
		fraud.WithStore(s.assessments),
		fraud.WithPublisher(s.realtimeHub),
	)

	// Analyzers fail open, so an open circuit is reported but never
	// blocks readiness.
	if s.cfg.MLEndpoint != "" {
		s.checks.RegisterOptional("ml_analyzer", health.BreakerCheck(s.breaker, fraud.AnalyzerML))
	}
	if s.cfg.HistoryEndpoint != "" {
		s.checks.RegisterOptional("history_analyzer", health.BreakerCheck(s.breaker, fraud.AnalyzerHistory))
	}

	s.logger.Info("fraud engine enabled",
		"rules", len(s.rules.Rules()),
		"ml", s.cfg.MLEndpoint != "",
		"history", s.cfg.HistoryEndpoint != "",
		"audit", s.cfg.AuditEndpoint != "",
	)
	return nil
}

func (s *Server) setupAffiliates() {
	var store affiliate.Store
	if s.db != nil {
		store = affiliate.NewPostgresStore(s.db)
	} else {
		store = affiliate.NewMemoryStore()
	}
	s.affiliates = affiliate.NewService(store, fraud.NewOrderRiskChecker(s.assessments), s.logger)
	s.logger.Info("affiliate program enabled")
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	rlCfg.BurstSize = s.cfg.RateLimitBurst
	if s.redis != nil {
		s.rateLimiter = ratelimit.NewRedis(s.redis, rlCfg)
	} else {
		s.localLimiter = ratelimit.New(rlCfg)
		s.rateLimiter = s.localLimiter
	}
	s.router.Use(ratelimit.Middleware(s.rateLimiter))

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Realtime risk decisions
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/v1/feed/stats", s.feedStatsHandler)

	v1 := s.router.Group("/v1")
	admin := v1.Group("")
	admin.Use(security.AdminMiddleware(s.cfg.AdminSecret))

	fraudHandler := fraud.NewHandler(s.engine, s.assessments)
	fraudHandler.RegisterRoutes(v1)
	fraudHandler.RegisterAdminRoutes(admin)

	affiliateHandler := affiliate.NewHandler(s.affiliates)
	affiliateHandler.RegisterRoutes(v1)
	affiliateHandler.RegisterAdminRoutes(admin)
}

// HealthResponse is the health check response
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		for _, st := range statuses {
			if !st.Healthy {
				status = "degraded"
				break
			}
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if ok, statuses := s.checks.CheckAll(c.Request.Context()); !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": statuses})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) feedStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", Version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.ready.Store(true)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Drain async assessment writes and audit posts
	s.engine.Wait(ctx)
	s.audit.Wait(ctx)
	s.logger.Info("pending fraud writes flushed")

	if s.localLimiter != nil {
		s.localLimiter.Stop()
	}

	if err := s.traceShutdown(ctx); err != nil {
		s.logger.Error("trace shutdown error", "error", err)
	}

	if c, ok := s.redis.(*redis.Client); ok {
		if err := c.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
