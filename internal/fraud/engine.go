package fraud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fashun/riskguard/internal/idgen"
	"github.com/fashun/riskguard/internal/logging"
	"github.com/fashun/riskguard/internal/metrics"
	"github.com/fashun/riskguard/internal/traces"
)

var errNilTransaction = errors.New("fraud: nil transaction")

// namedAnalyzer keeps analyzer output in a fixed display order.
type namedAnalyzer struct {
	name string
	a    Analyzer
}

// Engine orchestrates the analyzers. It holds no per-request state; the
// rule list inside RuleEngine is the only shared mutable data.
type Engine struct {
	rules     *RuleEngine
	analyzers []namedAnalyzer
	audit     AuditLogger
	store     AssessmentStore
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
	pending   sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithML sets the remote ML analyzer.
func WithML(a Analyzer) Option { return func(e *Engine) { e.setAnalyzer(AnalyzerML, a) } }

// WithHistory sets the remote history analyzer.
func WithHistory(a Analyzer) Option { return func(e *Engine) { e.setAnalyzer(AnalyzerHistory, a) } }

// WithAudit sets the audit logger.
func WithAudit(l AuditLogger) Option { return func(e *Engine) { e.audit = l } }

// WithStore persists every assessment asynchronously.
func WithStore(s AssessmentStore) Option { return func(e *Engine) { e.store = s } }

// WithPublisher fans out every assessment.
func WithPublisher(p Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithLogger sets the logger used for analysis, overriding any logger in
// the request context.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// NewEngine creates an engine over rules plus the built-in behavioral and
// geolocation analyzers. Remote analyzers are added with options.
func NewEngine(rules *RuleEngine, opts ...Option) *Engine {
	e := &Engine{
		rules: rules,
		analyzers: []namedAnalyzer{
			{name: "rules", a: rules},
			{name: "behavioral", a: BehaviorAnalyzer},
			{name: "geo", a: GeoAnalyzer},
			{name: AnalyzerHistory},
			{name: AnalyzerML},
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) setAnalyzer(name string, a Analyzer) {
	for i := range e.analyzers {
		if e.analyzers[i].name == name {
			e.analyzers[i].a = a
		}
	}
}

// Rules returns the rule engine.
func (e *Engine) Rules() *RuleEngine { return e.rules }

// Analyze scores tx. It never fails: a panic or internal error anywhere in
// analysis yields FallbackScore.
func (e *Engine) Analyze(ctx context.Context, tx *Transaction) *RiskScore {
	a := e.Assess(ctx, tx)
	score := a.RiskScore()
	return &score
}

// Assess is Analyze returning the full assessment record.
func (e *Engine) Assess(ctx context.Context, tx *Transaction) *Assessment {
	start := e.now()
	orderID := ""
	customerID := ""
	if tx != nil {
		orderID, customerID = tx.OrderID, tx.CustomerID
	}
	if e.logger != nil {
		ctx = logging.WithLogger(ctx, e.logger)
	}
	ctx = logging.WithOrderID(ctx, orderID)
	ctx, span := traces.StartSpan(ctx, "fraud.analyze", traces.OrderID(orderID))
	defer span.End()

	score, err := e.analyze(ctx, tx)
	fallback := err != nil
	if fallback {
		metrics.FraudFallbacksTotal.Inc()
		traces.RecordError(span, err)
		logging.L(ctx).Error("fraud analysis failed, returning fallback score", "error", err)
		score = FallbackScore()
	}

	elapsed := e.now().Sub(start)
	metrics.FraudAnalysisDuration.Observe(elapsed.Seconds())
	metrics.FraudAssessmentsTotal.WithLabelValues(string(score.Level), string(score.Recommendation)).Inc()
	span.SetAttributes(traces.RiskScore(score.Score), traces.RiskLevel(string(score.Level)))

	a := &Assessment{
		ID:             idgen.WithPrefix("ra_"),
		OrderID:        orderID,
		CustomerID:     customerID,
		Score:          score.Score,
		Level:          score.Level,
		Factors:        score.Factors,
		Recommendation: score.Recommendation,
		Confidence:     score.Confidence,
		Fallback:       fallback,
		EvaluatedAt:    start.UTC(),
		DurationMs:     elapsed.Milliseconds(),
	}

	logging.L(ctx).Info("transaction scored",
		"score", a.Score, "level", a.Level, "recommendation", a.Recommendation,
		"factors", len(a.Factors), "fallback", fallback, "duration_ms", a.DurationMs)

	e.emit(ctx, a)
	return a
}

// analyze runs every analyzer concurrently. Factor lists are concatenated
// in analyzer order so output does not depend on scheduling.
func (e *Engine) analyze(ctx context.Context, tx *Transaction) (score RiskScore, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fraud analysis panic: %v", r)
		}
	}()
	if tx == nil {
		return RiskScore{}, errNilTransaction
	}

	results := make([][]RiskFactor, len(e.analyzers))
	g, gctx := errgroup.WithContext(ctx)
	for i, na := range e.analyzers {
		if na.a == nil {
			continue
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					logging.L(gctx).Error("analyzer panic", "analyzer", na.name, "panic", r, "stack", string(debug.Stack()))
					err = fmt.Errorf("%s analyzer panic: %v", na.name, r)
				}
			}()
			results[i] = na.a.Analyze(gctx, tx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RiskScore{}, err
	}

	var factors []RiskFactor
	for _, r := range results {
		factors = append(factors, r...)
	}
	return Aggregate(factors), nil
}

// emit hands the assessment to the audit log, store and publisher without
// blocking the caller.
func (e *Engine) emit(ctx context.Context, a *Assessment) {
	if e.audit != nil {
		e.audit.Log(a.OrderID, a.RiskScore())
	}
	if e.publisher != nil {
		e.publisher.PublishAssessment(a)
	}
	if e.store != nil {
		rec := copyAssessment(a)
		logger := logging.L(ctx)
		e.pending.Add(1)
		go func() {
			defer e.pending.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.store.Record(sctx, rec); err != nil {
				logger.Warn("failed to persist risk assessment", "error", err)
			}
		}()
	}
}

// Wait blocks until pending assessment writes finish or ctx is done.
func (e *Engine) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
