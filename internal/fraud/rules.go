package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fashun/riskguard/internal/logging"
	"github.com/fashun/riskguard/internal/metrics"
	"github.com/fashun/riskguard/internal/validation"
)

// Operator compares a transaction field with a rule value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpRegex       Operator = "regex"
)

// Condition is one predicate of a rule.
type Condition struct {
	Field    string   `json:"field" yaml:"field" binding:"required"`
	Operator Operator `json:"operator" yaml:"operator" binding:"required,oneof=equals not_equals greater_than less_than contains regex"`
	Value    any      `json:"value" yaml:"value"`
}

// Rule is a declarative fraud rule. All conditions must hold for it to
// match.
type Rule struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description"`
	Conditions  []Condition `json:"conditions" yaml:"conditions"`
	Weight      int         `json:"weight" yaml:"weight"`
	Action      Action      `json:"action" yaml:"action"`
	Enabled     bool        `json:"enabled" yaml:"enabled"`
	CreatedAt   time.Time   `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time   `json:"updatedAt" yaml:"-"`
}

// Severity maps the rule action to the severity of its factor.
func (r *Rule) Severity() Severity {
	switch r.Action {
	case ActionDecline:
		return SeverityHigh
	case ActionReview:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func (r *Rule) clone() Rule {
	c := *r
	c.Conditions = append([]Condition(nil), r.Conditions...)
	return c
}

type compiledCondition struct {
	field Field
	kind  Kind
	op    Operator
	str   string
	num   float64
	b     bool
	re    *regexp.Regexp
}

type compiledRule struct {
	rule       Rule
	conditions []compiledCondition
	err        error
}

// ValidateRule checks a rule against the field table without installing it.
func ValidateRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("%w: nil rule", ErrInvalidRule)
	}
	if !validation.IsValidRuleID(r.ID) {
		return fmt.Errorf("%w: id %q", ErrInvalidRule, r.ID)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if r.Weight < 0 || r.Weight > 100 {
		return fmt.Errorf("%w: weight %d outside 0-100", ErrInvalidRule, r.Weight)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("%w: action %q", ErrInvalidRule, r.Action)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("%w: at least one condition is required", ErrInvalidRule)
	}
	if _, err := compileConditions(r.Conditions); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	return nil
}

func compileConditions(conds []Condition) ([]compiledCondition, error) {
	out := make([]compiledCondition, 0, len(conds))
	for i, c := range conds {
		cc, err := compileCondition(c)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		out = append(out, cc)
	}
	return out, nil
}

func compileCondition(c Condition) (compiledCondition, error) {
	field, ok := LookupField(c.Field)
	if !ok {
		return compiledCondition{}, fmt.Errorf("%w: %q", ErrUnknownField, c.Field)
	}
	kind, _ := field.Kind()
	cc := compiledCondition{field: field, kind: kind, op: c.Operator}

	switch c.Operator {
	case OpEquals, OpNotEquals:
		switch kind {
		case KindNumber:
			n, ok := toNumber(c.Value)
			if !ok {
				return cc, fmt.Errorf("%w: %s needs a number", ErrTypeMismatch, c.Field)
			}
			cc.num = n
		case KindBool:
			b, ok := c.Value.(bool)
			if !ok {
				return cc, fmt.Errorf("%w: %s needs a bool", ErrTypeMismatch, c.Field)
			}
			cc.b = b
		default:
			s, ok := c.Value.(string)
			if !ok {
				return cc, fmt.Errorf("%w: %s needs a string", ErrTypeMismatch, c.Field)
			}
			cc.str = s
		}
	case OpGreaterThan, OpLessThan:
		if kind != KindNumber {
			return cc, fmt.Errorf("%w: %s is not numeric", ErrTypeMismatch, c.Field)
		}
		n, ok := toNumber(c.Value)
		if !ok {
			return cc, fmt.Errorf("%w: %s needs a number", ErrTypeMismatch, c.Field)
		}
		cc.num = n
	case OpContains:
		s, ok := c.Value.(string)
		if kind != KindString || !ok {
			return cc, fmt.Errorf("%w: contains needs a string field and value", ErrTypeMismatch)
		}
		cc.str = s
	case OpRegex:
		s, ok := c.Value.(string)
		if kind != KindString || !ok {
			return cc, fmt.Errorf("%w: regex needs a string field and pattern", ErrTypeMismatch)
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return cc, fmt.Errorf("bad pattern for %s: %w", c.Field, err)
		}
		cc.re = re
	default:
		return cc, fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
	}
	return cc, nil
}

// toNumber accepts the numeric shapes produced by JSON and YAML decoding.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func (c *compiledCondition) holds(tx *Transaction) (bool, error) {
	v, err := c.field.Value(tx)
	if err != nil {
		return false, err
	}
	switch c.op {
	case OpEquals, OpNotEquals:
		var eq bool
		switch c.kind {
		case KindNumber:
			eq = v.(float64) == c.num
		case KindBool:
			eq = v.(bool) == c.b
		default:
			eq = v.(string) == c.str
		}
		if c.op == OpNotEquals {
			return !eq, nil
		}
		return eq, nil
	case OpGreaterThan:
		return v.(float64) > c.num, nil
	case OpLessThan:
		return v.(float64) < c.num, nil
	case OpContains:
		return strings.Contains(v.(string), c.str), nil
	case OpRegex:
		return c.re.MatchString(v.(string)), nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownOperator, c.op)
}

// match reports whether every condition holds. Evaluation stops at the
// first false condition or error.
func (cr *compiledRule) match(tx *Transaction) (bool, error) {
	if cr.err != nil {
		return false, cr.err
	}
	for i := range cr.conditions {
		ok, err := cr.conditions[i].holds(tx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func compile(r Rule) *compiledRule {
	cr := &compiledRule{rule: r}
	cr.conditions, cr.err = compileConditions(r.Conditions)
	return cr
}

// RuleEngine holds the active rule list and evaluates it. The list is
// guarded by an RWMutex; evaluation only takes the read lock to snapshot.
type RuleEngine struct {
	mu     sync.RWMutex
	rules  []*compiledRule
	store  RuleStore
	logger *slog.Logger
	now    func() time.Time
}

// NewRuleEngine creates an engine with no rules. store may be nil, in which
// case add and update only affect memory.
func NewRuleEngine(store RuleStore, logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleEngine{store: store, logger: logger, now: time.Now}
}

// Load replaces the in-memory list with the store's rules. When the store
// holds none, the embedded defaults are installed and offered to the store
// best-effort.
func (e *RuleEngine) Load(ctx context.Context) error {
	var rules []Rule
	if e.store != nil {
		var err error
		rules, err = e.store.List(ctx)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
	}

	seeded := false
	if len(rules) == 0 {
		defaults, err := DefaultRules()
		if err != nil {
			return err
		}
		rules = defaults
		seeded = true
	}

	e.Replace(rules)

	if seeded && e.store != nil {
		for i := range rules {
			if err := e.store.Create(ctx, &rules[i]); err != nil {
				e.logger.Warn("failed to persist default rule", "rule_id", rules[i].ID, "error", err)
			}
		}
	}
	e.logger.Info("fraud rules loaded", "count", len(rules), "defaults", seeded)
	return nil
}

// Replace installs rules as the active list. Rules that fail to compile
// are kept so they stay visible, but never match.
func (e *RuleEngine) Replace(rules []Rule) {
	compiled := make([]*compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compile(r.clone())
		if cr.err != nil {
			e.logger.Warn("fraud rule will be skipped", "rule_id", r.ID, "error", cr.err)
		}
		compiled = append(compiled, cr)
	}
	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	e.updateGauge()
}

// Evaluate runs every enabled rule against tx and returns one factor per
// matching rule. A rule that errors is skipped and counted.
func (e *RuleEngine) Evaluate(ctx context.Context, tx *Transaction) []RiskFactor {
	e.mu.RLock()
	snapshot := make([]*compiledRule, len(e.rules))
	copy(snapshot, e.rules)
	e.mu.RUnlock()

	var factors []RiskFactor
	for _, cr := range snapshot {
		if !cr.rule.Enabled {
			continue
		}
		ok, err := cr.match(tx)
		if err != nil {
			metrics.FraudRuleErrorsTotal.WithLabelValues(cr.rule.ID).Inc()
			logging.L(ctx).Debug("fraud rule skipped", "rule_id", cr.rule.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		factors = append(factors, RiskFactor{
			Type:        "rule",
			Severity:    cr.rule.Severity(),
			Description: cr.rule.Name,
			Weight:      cr.rule.Weight,
			Value:       cr.rule.ID,
		})
	}
	return factors
}

// Analyze adapts the engine to Analyzer.
func (e *RuleEngine) Analyze(ctx context.Context, tx *Transaction) []RiskFactor {
	return e.Evaluate(ctx, tx)
}

// Rules returns a copy of the active list in order.
func (e *RuleEngine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, 0, len(e.rules))
	for _, cr := range e.rules {
		out = append(out, cr.rule.clone())
	}
	return out
}

// Get returns one rule by id.
func (e *RuleEngine) Get(id string) (Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, cr := range e.rules {
		if cr.rule.ID == id {
			return cr.rule.clone(), nil
		}
	}
	return Rule{}, ErrRuleNotFound
}

// Add validates r, appends it to the in-memory list, then persists it.
// The in-memory change stands even if persistence fails; that case
// returns an error wrapping ErrRulePersist.
func (e *RuleEngine) Add(ctx context.Context, r Rule) (Rule, error) {
	if err := ValidateRule(&r); err != nil {
		return Rule{}, err
	}
	now := e.now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	r = r.clone()

	e.mu.Lock()
	for _, cr := range e.rules {
		if cr.rule.ID == r.ID {
			e.mu.Unlock()
			return Rule{}, fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
		}
	}
	e.rules = append(e.rules, compile(r))
	e.mu.Unlock()
	e.updateGauge()

	if e.store != nil {
		if err := e.store.Create(ctx, &r); err != nil {
			logging.L(ctx).Error("rule persist failed", "rule_id", r.ID, "op", "create", "error", err)
			return r, fmt.Errorf("%w: %w", ErrRulePersist, err)
		}
	}
	return r, nil
}

// Update replaces rule id in memory, then persists it. The id in r is
// forced to id and CreatedAt is preserved.
func (e *RuleEngine) Update(ctx context.Context, id string, r Rule) (Rule, error) {
	r.ID = id
	if err := ValidateRule(&r); err != nil {
		return Rule{}, err
	}

	e.mu.Lock()
	idx := -1
	for i, cr := range e.rules {
		if cr.rule.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return Rule{}, ErrRuleNotFound
	}
	r.CreatedAt = e.rules[idx].rule.CreatedAt
	r.UpdatedAt = e.now().UTC()
	r = r.clone()
	e.rules[idx] = compile(r)
	e.mu.Unlock()
	e.updateGauge()

	if e.store != nil {
		if err := e.store.Update(ctx, &r); err != nil {
			logging.L(ctx).Error("rule persist failed", "rule_id", r.ID, "op", "update", "error", err)
			return r, fmt.Errorf("%w: %w", ErrRulePersist, err)
		}
	}
	return r, nil
}

func (e *RuleEngine) updateGauge() {
	e.mu.RLock()
	n := 0
	for _, cr := range e.rules {
		if cr.rule.Enabled && cr.err == nil {
			n++
		}
	}
	e.mu.RUnlock()
	metrics.ActiveRules.Set(float64(n))
}
