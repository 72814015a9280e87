package fraud

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fashun/riskguard/internal/circuitbreaker"
	"github.com/fashun/riskguard/internal/logging"
	"github.com/fashun/riskguard/internal/metrics"
	"github.com/fashun/riskguard/internal/traces"
)

// Remote analyzer names, used as breaker keys and metric labels.
const (
	AnalyzerML      = "ml"
	AnalyzerHistory = "history"
)

// DefaultRemoteTimeout bounds each remote analyzer call.
const DefaultRemoteTimeout = 2 * time.Second

// factorsResponse is the reply shape of both remote analyzers.
type factorsResponse struct {
	Factors []RiskFactor `json:"factors"`
}

// historyRequest is the identity payload sent to the history service.
type historyRequest struct {
	CustomerID        string            `json:"customerId"`
	CustomerEmail     string            `json:"customerEmail"`
	DeviceFingerprint DeviceFingerprint `json:"deviceFingerprint"`
	IPAddress         string            `json:"ipAddress"`
}

// RemoteConfig configures a remote analyzer.
type RemoteConfig struct {
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
	Breaker  *circuitbreaker.Breaker
	Logger   *slog.Logger
}

type remote struct {
	name     string
	endpoint string
	timeout  time.Duration
	client   *http.Client
	breaker  *circuitbreaker.Breaker
	logger   *slog.Logger
}

func newRemote(name string, cfg RemoteConfig) remote {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRemoteTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return remote{
		name:     name,
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		client:   cfg.Client,
		breaker:  cfg.Breaker,
		logger:   cfg.Logger,
	}
}

// fetch posts body and returns the factors. Failures are logged and
// counted here; callers treat them as an empty list.
func (r *remote) fetch(ctx context.Context, body any) ([]RiskFactor, error) {
	if r.endpoint == "" {
		return nil, nil
	}
	ctx, span := traces.StartSpan(ctx, "fraud.remote."+r.name, traces.Analyzer(r.name))
	defer span.End()

	var resp factorsResponse
	do := func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return doJSON(cctx, r.client, http.MethodPost, r.endpoint, body, &resp)
	}

	var err error
	if r.breaker != nil {
		err = r.breaker.Do(ctx, r.name, do)
	} else {
		err = do(ctx)
	}
	if err != nil {
		reason := failureReason(err)
		metrics.FraudAnalyzerFailuresTotal.WithLabelValues(r.name, reason).Inc()
		traces.RecordError(span, err)
		logging.L(ctx).Warn("remote analyzer failed, continuing without it",
			"analyzer", r.name, "reason", reason, "error", err)
		return nil, err
	}
	return sanitizeFactors(resp.Factors), nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrRemoteStatus):
		return "status"
	case errors.Is(err, errDecode):
		return "decode"
	default:
		return "transport"
	}
}

// sanitizeFactors drops entries with an unknown severity or a negative
// weight. A remote service may add risk but never subtract it.
func sanitizeFactors(in []RiskFactor) []RiskFactor {
	out := in[:0:0]
	for _, f := range in {
		if f.Weight < 0 {
			continue
		}
		switch f.Severity {
		case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
			out = append(out, f)
		}
	}
	return out
}

// MLAnalyzer sends the full transaction to the ML scoring service.
type MLAnalyzer struct {
	remote
}

// NewMLAnalyzer creates an ML analyzer. An empty endpoint disables it.
func NewMLAnalyzer(cfg RemoteConfig) *MLAnalyzer {
	return &MLAnalyzer{remote: newRemote(AnalyzerML, cfg)}
}

// Analyze returns the ML service's factors, or none on failure.
func (a *MLAnalyzer) Analyze(ctx context.Context, tx *Transaction) []RiskFactor {
	factors, _ := a.fetch(ctx, tx)
	return factors
}

// HistoryAnalyzer sends customer identity to the history service. Results
// are cached per identity when a cache is configured.
type HistoryAnalyzer struct {
	remote
	cache HistoryCache
}

// NewHistoryAnalyzer creates a history analyzer. cache may be nil.
func NewHistoryAnalyzer(cfg RemoteConfig, cache HistoryCache) *HistoryAnalyzer {
	return &HistoryAnalyzer{remote: newRemote(AnalyzerHistory, cfg), cache: cache}
}

// Analyze returns the history service's factors, or none on failure.
// Failures are not cached.
func (a *HistoryAnalyzer) Analyze(ctx context.Context, tx *Transaction) []RiskFactor {
	if a.endpoint == "" {
		return nil
	}
	req := historyRequest{
		CustomerID:        tx.CustomerID,
		CustomerEmail:     tx.CustomerEmail,
		DeviceFingerprint: tx.DeviceFingerprint,
		IPAddress:         tx.DeviceFingerprint.IPAddress,
	}

	var key string
	if a.cache != nil {
		key = HistoryCacheKey(req.CustomerID, req.CustomerEmail, req.DeviceFingerprint.ID, req.IPAddress)
		if factors, ok := a.cache.Get(ctx, key); ok {
			return factors
		}
	}

	factors, err := a.fetch(ctx, req)
	if err == nil && a.cache != nil {
		a.cache.Set(ctx, key, factors)
	}
	return factors
}
