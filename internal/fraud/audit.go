package fraud

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fashun/riskguard/internal/metrics"
)

// AuditLogger records produced scores with an external audit service.
// Log must not block the caller.
type AuditLogger interface {
	Log(orderID string, score RiskScore)
}

type auditEntry struct {
	OrderID   string    `json:"orderId"`
	RiskScore RiskScore `json:"riskScore"`
	Timestamp time.Time `json:"timestamp"`
}

// HTTPAuditLogger posts entries to the audit endpoint in the background.
// Failures are logged and counted, never retried.
type HTTPAuditLogger struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewHTTPAuditLogger creates an audit logger. An empty endpoint makes Log
// a no-op.
func NewHTTPAuditLogger(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPAuditLogger {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPAuditLogger{
		endpoint: endpoint,
		client:   &http.Client{},
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Log sends the entry asynchronously.
func (l *HTTPAuditLogger) Log(orderID string, score RiskScore) {
	if l.endpoint == "" {
		return
	}
	entry := auditEntry{OrderID: orderID, RiskScore: score, Timestamp: l.now().UTC()}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := doJSON(ctx, l.client, http.MethodPost, l.endpoint, entry, nil); err != nil {
			metrics.FraudAuditFailuresTotal.Inc()
			l.logger.Error("audit log write failed", "order_id", orderID, "error", err)
		}
	}()
}

// Wait blocks until in-flight writes finish or ctx is done.
func (l *HTTPAuditLogger) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
