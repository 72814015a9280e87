// Package affiliate tracks referral clicks and converts them into
// commissions for FASHUN's affiliate program.
//
// A click on a referral link creates a Referral. When the referred order
// completes, the referral converts into a Commission worth a fixed share
// of the order. Commissions on orders the fraud engine told checkout to
// decline are rejected on creation.
package affiliate

import (
	"context"
	"errors"
	"time"

	"github.com/fashun/riskguard/internal/pagination"
)

var (
	ErrAffiliateNotFound  = errors.New("affiliate not found")
	ErrAlreadyAffiliate   = errors.New("user is already an affiliate")
	ErrInvalidRate        = errors.New("commission rate must be between 1 and 5000 basis points")
	ErrInvalidStatus      = errors.New("invalid affiliate status")
	ErrInactive           = errors.New("affiliate is suspended")
	ErrReferralNotFound   = errors.New("referral not found")
	ErrAlreadyConverted   = errors.New("referral or order already converted")
	ErrInvalidAmount      = errors.New("order amount must be between 1 and 1000000000000 cents")
	ErrCommissionNotFound = errors.New("commission not found")
	ErrInvalidTransition  = errors.New("commission status transition not allowed")

	// errCodeTaken is returned by stores when a generated referral code
	// collides; the service retries with a fresh code.
	errCodeTaken = errors.New("referral code already taken")
)

// Commission rate bounds in basis points.
const (
	MinRateBps = 1
	MaxRateBps = 5000
)

// MaxOrderAmountCents bounds a converted order so CommissionFor cannot
// overflow at MaxRateBps.
const MaxOrderAmountCents int64 = 1_000_000_000_000

// referralCodeLength is the length of generated referral codes.
const referralCodeLength = 8

// Status is the state of an affiliate account.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusSuspended
}

// CommissionStatus is the payout state of a commission.
type CommissionStatus string

const (
	CommissionPending  CommissionStatus = "pending"
	CommissionApproved CommissionStatus = "approved"
	CommissionRejected CommissionStatus = "rejected"
	CommissionPaid     CommissionStatus = "paid"
)

// transitions lists the allowed commission status changes.
var transitions = map[CommissionStatus][]CommissionStatus{
	CommissionPending:  {CommissionApproved, CommissionRejected},
	CommissionApproved: {CommissionPaid},
}

// CanTransition reports whether a commission may move from one status to
// another.
func CanTransition(from, to CommissionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Affiliate is a user who earns commission on referred orders.
type Affiliate struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"userId"`
	ReferralCode       string    `json:"referralCode"`
	CommissionRateBps  int       `json:"commissionRate"`
	Status             Status    `json:"status"`
	Clicks             int64     `json:"clicks"`
	Conversions        int64     `json:"conversions"`
	TotalEarningsCents int64     `json:"totalEarningsCents"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Referral is one tracked click on a referral link.
type Referral struct {
	ID           string     `json:"id"`
	AffiliateID  string     `json:"affiliateId"`
	ReferralCode string     `json:"referralCode"`
	VisitorID    string     `json:"visitorId,omitempty"`
	IPAddress    string     `json:"ipAddress,omitempty"`
	LandingURL   string     `json:"landingUrl,omitempty"`
	ClickedAt    time.Time  `json:"clickedAt"`
	ConvertedAt  *time.Time `json:"convertedAt,omitempty"`
	OrderID      string     `json:"orderId,omitempty"`
}

// Converted reports whether the referral has produced an order.
func (r *Referral) Converted() bool {
	return r.ConvertedAt != nil
}

// Commission is the affiliate's share of one referred order.
type Commission struct {
	ID               string           `json:"id"`
	AffiliateID      string           `json:"affiliateId"`
	ReferralID       string           `json:"referralId"`
	OrderID          string           `json:"orderId"`
	OrderAmountCents int64            `json:"orderAmountCents"`
	CommissionCents  int64            `json:"commissionCents"`
	Status           CommissionStatus `json:"status"`
	Reason           string           `json:"reason,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// ListOption configures optional parameters for list queries.
type ListOption func(*listOpts)

type listOpts struct {
	cursor *pagination.Cursor
}

func applyListOpts(opts []ListOption) listOpts {
	var o listOpts
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithCursor continues a listing after the given page cursor.
func WithCursor(c *pagination.Cursor) ListOption {
	return func(o *listOpts) {
		o.cursor = c
	}
}

// Stats summarizes an affiliate's performance.
type Stats struct {
	AffiliateID        string  `json:"affiliateId"`
	Clicks             int64   `json:"clicks"`
	Conversions        int64   `json:"conversions"`
	ConversionRate     float64 `json:"conversionRate"`
	PendingCents       int64   `json:"pendingCents"`
	ApprovedCents      int64   `json:"approvedCents"`
	PaidCents          int64   `json:"paidCents"`
	RejectedCount      int64   `json:"rejectedCount"`
	TotalEarningsCents int64   `json:"totalEarningsCents"`
}

// CommissionFor returns the commission on amountCents at rateBps, rounded
// down to the cent.
func CommissionFor(amountCents int64, rateBps int) int64 {
	return amountCents * int64(rateBps) / 10000
}

// Click is the input to TrackClick.
type Click struct {
	ReferralCode string `json:"referralCode" binding:"required,max=16"`
	VisitorID    string `json:"visitorId" binding:"max=128"`
	LandingURL   string `json:"landingUrl" binding:"omitempty,max=2048,url"`
	IPAddress    string `json:"-"`
}

// Store persists affiliate data. Multi-row changes (click counters,
// conversions, payouts) must be atomic.
type Store interface {
	CreateAffiliate(ctx context.Context, a *Affiliate) error
	GetAffiliate(ctx context.Context, id string) (*Affiliate, error)
	GetAffiliateByCode(ctx context.Context, code string) (*Affiliate, error)
	SetAffiliateStatus(ctx context.Context, id string, status Status, at time.Time) error

	// RecordClick stores r and increments the affiliate's click count.
	RecordClick(ctx context.Context, r *Referral) error
	GetReferral(ctx context.Context, id string) (*Referral, error)

	// RecordConversion marks the referral converted, stores c and
	// increments the affiliate's conversion count. It returns
	// ErrAlreadyConverted if the referral or the order was converted before.
	RecordConversion(ctx context.Context, referralID string, c *Commission) error

	GetCommission(ctx context.Context, id string) (*Commission, error)
	// ListCommissions returns commissions newest first, starting after
	// the cursor when one is given.
	ListCommissions(ctx context.Context, affiliateID string, limit int, opts ...ListOption) ([]*Commission, error)

	// TransitionCommission moves a commission from one status to another
	// if it is still in from. Moving to paid credits the affiliate's
	// earnings in the same change.
	TransitionCommission(ctx context.Context, id string, from, to CommissionStatus, reason string, at time.Time) (*Commission, error)

	Stats(ctx context.Context, affiliateID string) (*Stats, error)
}

// RiskChecker reports whether checkout was told to decline an order.
type RiskChecker interface {
	Declined(ctx context.Context, orderID string) (bool, string, error)
}
