// Package fraud scores checkout transactions for payment fraud risk.
//
// A transaction is run through five independent analyzers (declarative
// rules, behavioral telemetry, geolocation, and the remote ML and history
// services). Their factors are concatenated and reduced to a 0-100 score,
// a level, a recommendation and a confidence. Analysis never fails: remote
// analyzers fail open and any unexpected error yields a fixed fallback score.
package fraud

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRuleNotFound       = errors.New("fraud: rule not found")
	ErrDuplicateRule      = errors.New("fraud: rule already exists")
	ErrInvalidRule        = errors.New("fraud: invalid rule")
	ErrUnknownField       = errors.New("fraud: unknown field")
	ErrMissingField       = errors.New("fraud: field has no value")
	ErrUnknownOperator    = errors.New("fraud: unknown operator")
	ErrTypeMismatch       = errors.New("fraud: condition value does not match field type")
	ErrRulePersist        = errors.New("fraud: rule saved in memory but not persisted")
	ErrAssessmentNotFound = errors.New("fraud: assessment not found")
	ErrRemoteStatus       = errors.New("fraud: unexpected remote status")
)

// Severity grades a single risk factor.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Level is the categorical band of a score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Recommendation is the decision handed to order processing.
type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendReview  Recommendation = "review"
	RecommendDecline Recommendation = "decline"
)

// Action is what a matching rule asks for. It only sets factor severity;
// the final recommendation always comes from the aggregated score.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReview  Action = "review"
	ActionDecline Action = "decline"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionReview, ActionDecline:
		return true
	}
	return false
}

// Address is a billing or shipping address.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty" binding:"omitempty,iso_country"`
}

// DeviceFingerprint identifies the client that placed the order.
type DeviceFingerprint struct {
	ID               string `json:"id,omitempty"`
	IPAddress        string `json:"ipAddress,omitempty"`
	UserAgent        string `json:"userAgent,omitempty"`
	ScreenResolution string `json:"screenResolution,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Language         string `json:"language,omitempty"`
}

// BehavioralData is session telemetry collected on the checkout page. A nil
// field means the signal was not collected and is never compared.
type BehavioralData struct {
	TimeOnSite     *float64 `json:"timeOnSite,omitempty"`   // seconds
	TypingSpeed    *float64 `json:"typingSpeed,omitempty"`  // words per minute
	CopyPasteCount *int     `json:"copyPasteCount,omitempty"`
	FormFillTime   *float64 `json:"formFillTime,omitempty"` // seconds
	MouseMovements *int     `json:"mouseMovements,omitempty"`
}

// OrderContext carries order-level flags from the storefront.
type OrderContext struct {
	NewCustomer bool `json:"newCustomer"`
	RushOrder   bool `json:"rushOrder"`
	GiftOrder   bool `json:"giftOrder"`
	ItemCount   int  `json:"itemCount" binding:"gte=0"`
}

// Transaction is one checkout attempt. It is treated as immutable once
// handed to the engine.
type Transaction struct {
	OrderID           string            `json:"orderId" binding:"required,order_id"`
	CustomerID        string            `json:"customerId,omitempty"`
	CustomerEmail     string            `json:"customerEmail,omitempty"`
	Amount            float64           `json:"amount" binding:"gte=0"`
	Currency          string            `json:"currency,omitempty"`
	PaymentMethod     string            `json:"paymentMethod,omitempty"`
	BillingAddress    Address           `json:"billingAddress"`
	ShippingAddress   Address           `json:"shippingAddress"`
	DeviceFingerprint DeviceFingerprint `json:"deviceFingerprint"`
	BehavioralData    *BehavioralData   `json:"behavioralData,omitempty"`
	OrderContext      OrderContext      `json:"orderContext"`
}

// RiskFactor is one signal found during analysis.
type RiskFactor struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Weight      int      `json:"weight"`
	Value       any      `json:"value,omitempty"`
}

// RiskScore is the outcome of analyzing one transaction.
type RiskScore struct {
	Score          int            `json:"score"`
	Level          Level          `json:"level"`
	Factors        []RiskFactor   `json:"factors"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     int            `json:"confidence"`
}

// Assessment is a persisted RiskScore for an order.
type Assessment struct {
	ID             string         `json:"id"`
	OrderID        string         `json:"orderId"`
	CustomerID     string         `json:"customerId,omitempty"`
	Score          int            `json:"score"`
	Level          Level          `json:"level"`
	Factors        []RiskFactor   `json:"factors"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     int            `json:"confidence"`
	Fallback       bool           `json:"fallback"`
	EvaluatedAt    time.Time      `json:"evaluatedAt"`
	DurationMs     int64          `json:"durationMs"`
}

// RiskScore returns the score part of the assessment.
func (a *Assessment) RiskScore() RiskScore {
	return RiskScore{
		Score:          a.Score,
		Level:          a.Level,
		Factors:        a.Factors,
		Recommendation: a.Recommendation,
		Confidence:     a.Confidence,
	}
}

// Analyzer produces factors for a transaction. Implementations must not
// mutate tx.
type Analyzer interface {
	Analyze(ctx context.Context, tx *Transaction) []RiskFactor
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, tx *Transaction) []RiskFactor

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, tx *Transaction) []RiskFactor {
	return f(ctx, tx)
}

// AssessmentStore persists assessments.
type AssessmentStore interface {
	Record(ctx context.Context, a *Assessment) error
	LatestByOrder(ctx context.Context, orderID string) (*Assessment, error)
	ListRecent(ctx context.Context, limit int) ([]*Assessment, error)
}

// RuleStore is the durable home of rule configuration.
type RuleStore interface {
	List(ctx context.Context) ([]Rule, error)
	Create(ctx context.Context, r *Rule) error
	Update(ctx context.Context, r *Rule) error
}

// Publisher receives every assessment for realtime fan-out.
type Publisher interface {
	PublishAssessment(a *Assessment)
}
