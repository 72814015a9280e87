package affiliate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fashun/riskguard/internal/idgen"
	"github.com/fashun/riskguard/internal/logging"
	"github.com/fashun/riskguard/internal/metrics"
)

// maxCodeAttempts bounds retries on referral code collisions.
const maxCodeAttempts = 5

// Service provides affiliate business logic.
type Service struct {
	store  Store
	risk   RiskChecker
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new affiliate service. risk may be nil, in which
// case commissions are never auto-rejected.
func NewService(store Store, risk RiskChecker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, risk: risk, logger: logger, now: time.Now}
}

// CreateAffiliate enrolls userID with a fresh referral code.
func (s *Service) CreateAffiliate(ctx context.Context, userID string, rateBps int) (*Affiliate, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if rateBps < MinRateBps || rateBps > MaxRateBps {
		return nil, ErrInvalidRate
	}

	now := s.now().UTC()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		a := &Affiliate{
			ID:                idgen.WithPrefix("aff_"),
			UserID:            userID,
			ReferralCode:      idgen.ReferralCode(referralCodeLength),
			CommissionRateBps: rateBps,
			Status:            StatusActive,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		err := s.store.CreateAffiliate(ctx, a)
		if errors.Is(err, errCodeTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		logging.L(ctx).Info("affiliate created", "affiliate_id", a.ID, "user_id", userID)
		return a, nil
	}
	return nil, fmt.Errorf("failed to allocate referral code after %d attempts", maxCodeAttempts)
}

// Get returns an affiliate by ID.
func (s *Service) Get(ctx context.Context, id string) (*Affiliate, error) {
	return s.store.GetAffiliate(ctx, id)
}

// SetStatus suspends or reactivates an affiliate.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) (*Affiliate, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	if err := s.store.SetAffiliateStatus(ctx, id, status, s.now().UTC()); err != nil {
		return nil, err
	}
	logging.L(ctx).Info("affiliate status changed", "affiliate_id", id, "status", status)
	return s.store.GetAffiliate(ctx, id)
}

// TrackClick records a click on a referral link. Unknown codes return
// ErrAffiliateNotFound; suspended affiliates return ErrInactive.
func (s *Service) TrackClick(ctx context.Context, click Click) (*Referral, error) {
	code := strings.ToUpper(strings.TrimSpace(click.ReferralCode))
	a, err := s.store.GetAffiliateByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusActive {
		return nil, ErrInactive
	}

	r := &Referral{
		ID:           idgen.WithPrefix("ref_"),
		AffiliateID:  a.ID,
		ReferralCode: code,
		VisitorID:    click.VisitorID,
		IPAddress:    click.IPAddress,
		LandingURL:   click.LandingURL,
		ClickedAt:    s.now().UTC(),
	}
	if err := s.store.RecordClick(ctx, r); err != nil {
		return nil, err
	}
	metrics.AffiliateClicksTotal.Inc()
	return r, nil
}

// RecordConversion turns a referral into a commission for orderID. The
// commission starts pending, or rejected when the order was declined for
// fraud risk. A failed risk lookup leaves it pending for manual review.
func (s *Service) RecordConversion(ctx context.Context, referralID, orderID string, amountCents int64) (*Commission, error) {
	if amountCents <= 0 || amountCents > MaxOrderAmountCents {
		return nil, ErrInvalidAmount
	}
	ref, err := s.store.GetReferral(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if ref.Converted() {
		return nil, ErrAlreadyConverted
	}
	a, err := s.store.GetAffiliate(ctx, ref.AffiliateID)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusActive {
		return nil, ErrInactive
	}

	now := s.now().UTC()
	c := &Commission{
		ID:               idgen.WithPrefix("com_"),
		AffiliateID:      a.ID,
		ReferralID:       ref.ID,
		OrderID:          orderID,
		OrderAmountCents: amountCents,
		CommissionCents:  CommissionFor(amountCents, a.CommissionRateBps),
		Status:           CommissionPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if s.risk != nil {
		declined, reason, err := s.risk.Declined(ctx, orderID)
		switch {
		case err != nil:
			logging.L(ctx).Warn("fraud check unavailable, commission left pending",
				"order_id", orderID, "error", err)
		case declined:
			c.Status = CommissionRejected
			c.Reason = reason
		}
	}

	if err := s.store.RecordConversion(ctx, ref.ID, c); err != nil {
		return nil, err
	}
	metrics.AffiliateCommissionsTotal.WithLabelValues(string(c.Status)).Inc()
	logging.L(ctx).Info("referral converted",
		"affiliate_id", a.ID, "order_id", orderID, "commission_cents", c.CommissionCents, "status", c.Status)
	return c, nil
}

// Approve moves a pending commission to approved.
func (s *Service) Approve(ctx context.Context, id string) (*Commission, error) {
	return s.transition(ctx, id, CommissionApproved, "")
}

// Reject moves a pending commission to rejected.
func (s *Service) Reject(ctx context.Context, id, reason string) (*Commission, error) {
	return s.transition(ctx, id, CommissionRejected, reason)
}

// MarkPaid moves an approved commission to paid and credits the
// affiliate's earnings.
func (s *Service) MarkPaid(ctx context.Context, id string) (*Commission, error) {
	return s.transition(ctx, id, CommissionPaid, "")
}

func (s *Service) transition(ctx context.Context, id string, to CommissionStatus, reason string) (*Commission, error) {
	c, err := s.store.GetCommission(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	updated, err := s.store.TransitionCommission(ctx, id, c.Status, to, reason, s.now().UTC())
	if err != nil {
		return nil, err
	}
	metrics.AffiliateCommissionsTotal.WithLabelValues(string(to)).Inc()
	logging.L(ctx).Info("commission status changed", "commission_id", id, "from", c.Status, "to", to)
	return updated, nil
}

// ListCommissions returns an affiliate's commissions, newest first.
func (s *Service) ListCommissions(ctx context.Context, affiliateID string, limit int, opts ...ListOption) ([]*Commission, error) {
	if _, err := s.store.GetAffiliate(ctx, affiliateID); err != nil {
		return nil, err
	}
	return s.store.ListCommissions(ctx, affiliateID, limit, opts...)
}

// Stats returns an affiliate's performance summary.
func (s *Service) Stats(ctx context.Context, affiliateID string) (*Stats, error) {
	st, err := s.store.Stats(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	if st.Clicks > 0 {
		st.ConversionRate = float64(st.Conversions) / float64(st.Clicks)
	}
	return st, nil
}
