// Package metrics provides Prometheus instrumentation for the risk service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fashun"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// FraudAssessmentsTotal counts produced risk scores by level and recommendation.
	FraudAssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fraud",
			Name:      "assessments_total",
			Help:      "Risk scores produced, by level and recommendation.",
		},
		[]string{"level", "recommendation"},
	)

	// FraudFallbacksTotal counts analyses that ended in the fixed fallback score.
	FraudFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fraud",
		Name:      "fallbacks_total",
		Help:      "Analyses that failed and returned the fallback score.",
	})

	// FraudAnalysisDuration observes end-to-end analysis latency.
	FraudAnalysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "fraud",
		Name:      "analysis_duration_seconds",
		Help:      "Time spent analyzing one transaction.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// FraudAnalyzerFailuresTotal counts fail-open events per remote analyzer.
	// A rising rate means fraud catch rate is silently degraded.
	FraudAnalyzerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fraud",
			Name:      "analyzer_failures_total",
			Help:      "Remote analyzer failures that were treated as zero factors.",
		},
		[]string{"analyzer", "reason"},
	)

	// FraudRuleErrorsTotal counts rules skipped due to evaluation errors.
	FraudRuleErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fraud",
			Name:      "rule_errors_total",
			Help:      "Rule evaluations skipped because of an error.",
		},
		[]string{"rule"},
	)

	// FraudAuditFailuresTotal counts audit-log writes that failed.
	FraudAuditFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fraud",
		Name:      "audit_failures_total",
		Help:      "Audit log writes that failed (never retried).",
	})

	// HistoryCacheLookupsTotal counts history cache hits and misses.
	HistoryCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fraud",
			Name:      "history_cache_lookups_total",
			Help:      "History analyzer cache lookups by result.",
		},
		[]string{"result"},
	)

	// ActiveRules tracks enabled fraud rules.
	ActiveRules = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "fraud",
		Name:      "active_rules",
		Help:      "Number of enabled fraud rules.",
	})

	// AffiliateClicksTotal counts tracked referral clicks.
	AffiliateClicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "affiliate",
		Name:      "clicks_total",
		Help:      "Referral clicks tracked.",
	})

	// AffiliateCommissionsTotal counts commission state changes by status.
	AffiliateCommissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "affiliate",
			Name:      "commissions_total",
			Help:      "Commission records entering each status.",
		},
		[]string{"status"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		FraudAssessmentsTotal,
		FraudFallbacksTotal,
		FraudAnalysisDuration,
		FraudAnalyzerFailuresTotal,
		FraudRuleErrorsTotal,
		FraudAuditFailuresTotal,
		HistoryCacheLookupsTotal,
		ActiveRules,
		AffiliateClicksTotal,
		AffiliateCommissionsTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
		DBWaitCount,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern keeps cardinality bounded
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
