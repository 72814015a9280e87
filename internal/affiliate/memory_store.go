package affiliate

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory affiliate store for demo/development mode.
type MemoryStore struct {
	affiliates  map[string]*Affiliate  // by ID
	byUser      map[string]string      // userID → ID
	byCode      map[string]string      // referral code → ID
	referrals   map[string]*Referral   // by ID
	commissions map[string]*Commission // by ID
	byOrder     map[string]string      // orderID → commission ID
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory affiliate store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		affiliates:  make(map[string]*Affiliate),
		byUser:      make(map[string]string),
		byCode:      make(map[string]string),
		referrals:   make(map[string]*Referral),
		commissions: make(map[string]*Commission),
		byOrder:     make(map[string]string),
	}
}

func (m *MemoryStore) CreateAffiliate(ctx context.Context, a *Affiliate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUser[a.UserID]; ok {
		return ErrAlreadyAffiliate
	}
	if _, ok := m.byCode[a.ReferralCode]; ok {
		return errCodeTaken
	}
	cp := *a
	m.affiliates[a.ID] = &cp
	m.byUser[a.UserID] = a.ID
	m.byCode[a.ReferralCode] = a.ID
	return nil
}

func (m *MemoryStore) GetAffiliate(ctx context.Context, id string) (*Affiliate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.affiliates[id]
	if !ok {
		return nil, ErrAffiliateNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GetAffiliateByCode(ctx context.Context, code string) (*Affiliate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byCode[code]
	if !ok {
		return nil, ErrAffiliateNotFound
	}
	cp := *m.affiliates[id]
	return &cp, nil
}

func (m *MemoryStore) SetAffiliateStatus(ctx context.Context, id string, status Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.affiliates[id]
	if !ok {
		return ErrAffiliateNotFound
	}
	a.Status = status
	a.UpdatedAt = at
	return nil
}

func (m *MemoryStore) RecordClick(ctx context.Context, r *Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.affiliates[r.AffiliateID]
	if !ok {
		return ErrAffiliateNotFound
	}
	cp := *r
	m.referrals[r.ID] = &cp
	a.Clicks++
	return nil
}

func (m *MemoryStore) GetReferral(ctx context.Context, id string) (*Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.referrals[id]
	if !ok {
		return nil, ErrReferralNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) RecordConversion(ctx context.Context, referralID string, c *Commission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.referrals[referralID]
	if !ok {
		return ErrReferralNotFound
	}
	if r.ConvertedAt != nil {
		return ErrAlreadyConverted
	}
	if _, ok := m.byOrder[c.OrderID]; ok {
		return ErrAlreadyConverted
	}
	a, ok := m.affiliates[c.AffiliateID]
	if !ok {
		return ErrAffiliateNotFound
	}

	at := c.CreatedAt
	r.ConvertedAt = &at
	r.OrderID = c.OrderID
	cp := *c
	m.commissions[c.ID] = &cp
	m.byOrder[c.OrderID] = c.ID
	a.Conversions++
	return nil
}

func (m *MemoryStore) GetCommission(ctx context.Context, id string) (*Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.commissions[id]
	if !ok {
		return nil, ErrCommissionNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListCommissions(ctx context.Context, affiliateID string, limit int, opts ...ListOption) ([]*Commission, error) {
	o := applyListOpts(opts)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Commission
	for _, c := range m.commissions {
		if c.AffiliateID == affiliateID && o.cursor.After(c.CreatedAt, c.ID) {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) TransitionCommission(ctx context.Context, id string, from, to CommissionStatus, reason string, at time.Time) (*Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.commissions[id]
	if !ok {
		return nil, ErrCommissionNotFound
	}
	if c.Status != from {
		return nil, ErrInvalidTransition
	}
	if to == CommissionPaid {
		a, ok := m.affiliates[c.AffiliateID]
		if !ok {
			return nil, ErrAffiliateNotFound
		}
		a.TotalEarningsCents += c.CommissionCents
	}
	c.Status = to
	if reason != "" {
		c.Reason = reason
	}
	c.UpdatedAt = at
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) Stats(ctx context.Context, affiliateID string) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.affiliates[affiliateID]
	if !ok {
		return nil, ErrAffiliateNotFound
	}
	st := &Stats{
		AffiliateID:        a.ID,
		Clicks:             a.Clicks,
		Conversions:        a.Conversions,
		TotalEarningsCents: a.TotalEarningsCents,
	}
	for _, c := range m.commissions {
		if c.AffiliateID != affiliateID {
			continue
		}
		switch c.Status {
		case CommissionPending:
			st.PendingCents += c.CommissionCents
		case CommissionApproved:
			st.ApprovedCents += c.CommissionCents
		case CommissionPaid:
			st.PaidCents += c.CommissionCents
		case CommissionRejected:
			st.RejectedCount++
		}
	}
	return st, nil
}
