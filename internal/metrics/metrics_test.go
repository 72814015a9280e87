package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusBucket(tt.code), "statusBucket(%d)", tt.code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	// Gauges always appear; counters only after first observation.
	for _, name := range []string{
		"fashun_fraud_active_rules",
		"fashun_active_websocket_clients",
		"fashun_goroutines",
	} {
		assert.True(t, strings.Contains(body, name), "expected %s in output", name)
	}

	FraudAssessmentsTotal.WithLabelValues("low", "approve").Inc()
	FraudAnalyzerFailuresTotal.WithLabelValues("ml", "timeout").Inc()

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body = w.Body.String()
	assert.Contains(t, body, "fashun_fraud_assessments_total")
	assert.Contains(t, body, `fashun_fraud_analyzer_failures_total{analyzer="ml",reason="timeout"}`)
}

func TestFraudCounters(t *testing.T) {
	before := testutil.ToFloat64(FraudFallbacksTotal)
	FraudFallbacksTotal.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(FraudFallbacksTotal))

	before = testutil.ToFloat64(AffiliateCommissionsTotal.WithLabelValues("paid"))
	AffiliateCommissionsTotal.WithLabelValues("paid").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(AffiliateCommissionsTotal.WithLabelValues("paid")))
}

func TestMiddleware_RecordsMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/test", "2xx"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/test", "2xx")))
}
