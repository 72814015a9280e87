package affiliate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRisk struct {
	declined map[string]string
	err      error
}

func (f *fakeRisk) Declined(_ context.Context, orderID string) (bool, string, error) {
	if f.err != nil {
		return false, "", f.err
	}
	reason, ok := f.declined[orderID]
	return ok, reason, nil
}

func newTestService(risk RiskChecker) (*Service, *MemoryStore) {
	store := NewMemoryStore()
	svc := NewService(store, risk, nil)
	svc.now = func() time.Time { return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC) }
	return svc, store
}

func enroll(t *testing.T, svc *Service, user string, rate int) *Affiliate {
	t.Helper()
	a, err := svc.CreateAffiliate(context.Background(), user, rate)
	require.NoError(t, err)
	return a
}

func click(t *testing.T, svc *Service, code string) *Referral {
	t.Helper()
	r, err := svc.TrackClick(context.Background(), Click{ReferralCode: code, VisitorID: "v1", IPAddress: "198.51.100.4"})
	require.NoError(t, err)
	return r
}

func TestCommissionFor(t *testing.T) {
	tests := []struct {
		amount int64
		rate   int
		want   int64
	}{
		{10000, 1000, 1000},
		{9999, 1000, 999},
		{12345, 750, 925},
		{1, 5000, 0},
		{100, 1, 0},
		{1_000_000, 5000, 500_000},
		{MaxOrderAmountCents, MaxRateBps, MaxOrderAmountCents / 2},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, CommissionFor(tc.amount, tc.rate), "%d @ %d bps", tc.amount, tc.rate)
	}
}

func TestCanTransition(t *testing.T) {
	all := []CommissionStatus{CommissionPending, CommissionApproved, CommissionRejected, CommissionPaid}
	allowed := map[[2]CommissionStatus]bool{
		{CommissionPending, CommissionApproved}: true,
		{CommissionPending, CommissionRejected}: true,
		{CommissionApproved, CommissionPaid}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]CommissionStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCreateAffiliate(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	a := enroll(t, svc, "user_1", 1000)
	assert.Len(t, a.ReferralCode, 8)
	assert.Equal(t, StatusActive, a.Status)
	assert.Equal(t, 1000, a.CommissionRateBps)

	_, err := svc.CreateAffiliate(ctx, "user_1", 500)
	assert.ErrorIs(t, err, ErrAlreadyAffiliate)

	for _, rate := range []int{0, -5, 5001} {
		_, err := svc.CreateAffiliate(ctx, "user_x", rate)
		assert.ErrorIs(t, err, ErrInvalidRate, "rate %d", rate)
	}
	_, err = svc.CreateAffiliate(ctx, "  ", 100)
	assert.Error(t, err)
}

type collidingStore struct {
	*MemoryStore
	collisions int
}

func (s *collidingStore) CreateAffiliate(ctx context.Context, a *Affiliate) error {
	if s.collisions > 0 {
		s.collisions--
		return errCodeTaken
	}
	return s.MemoryStore.CreateAffiliate(ctx, a)
}

func TestCreateAffiliate_RetriesCodeCollision(t *testing.T) {
	store := &collidingStore{MemoryStore: NewMemoryStore(), collisions: 2}
	svc := NewService(store, nil, nil)
	_, err := svc.CreateAffiliate(context.Background(), "user_1", 100)
	require.NoError(t, err)

	store = &collidingStore{MemoryStore: NewMemoryStore(), collisions: maxCodeAttempts}
	svc = NewService(store, nil, nil)
	_, err = svc.CreateAffiliate(context.Background(), "user_1", 100)
	assert.Error(t, err)
}

func TestTrackClick(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()
	a := enroll(t, svc, "user_1", 1000)

	r, err := svc.TrackClick(ctx, Click{ReferralCode: " " + strings.ToLower(a.ReferralCode) + " ", LandingURL: "https://fashun.shop/drops"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, r.AffiliateID)
	assert.Equal(t, a.ReferralCode, r.ReferralCode)
	assert.False(t, r.Converted())

	got, _ := svc.Get(ctx, a.ID)
	assert.Equal(t, int64(1), got.Clicks)

	_, err = svc.TrackClick(ctx, Click{ReferralCode: "NOPE2345"})
	assert.ErrorIs(t, err, ErrAffiliateNotFound)

	_, err = svc.SetStatus(ctx, a.ID, StatusSuspended)
	require.NoError(t, err)
	_, err = svc.TrackClick(ctx, Click{ReferralCode: a.ReferralCode})
	assert.ErrorIs(t, err, ErrInactive)
}

func TestRecordConversion(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()
	a := enroll(t, svc, "user_1", 1000)
	r := click(t, svc, a.ReferralCode)

	c, err := svc.RecordConversion(ctx, r.ID, "ord_1", 25999)
	require.NoError(t, err)
	assert.Equal(t, CommissionPending, c.Status)
	assert.Equal(t, int64(2599), c.CommissionCents)
	assert.Equal(t, r.ID, c.ReferralID)

	_, err = svc.RecordConversion(ctx, r.ID, "ord_2", 100)
	assert.ErrorIs(t, err, ErrAlreadyConverted, "one conversion per referral")

	r2 := click(t, svc, a.ReferralCode)
	_, err = svc.RecordConversion(ctx, r2.ID, "ord_1", 100)
	assert.ErrorIs(t, err, ErrAlreadyConverted, "one conversion per order")

	_, err = svc.RecordConversion(ctx, r2.ID, "ord_3", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.RecordConversion(ctx, r2.ID, "ord_3", MaxOrderAmountCents+1)
	assert.ErrorIs(t, err, ErrInvalidAmount, "amounts past the order limit would overflow the commission")

	_, err = svc.RecordConversion(ctx, "ref_missing", "ord_4", 100)
	assert.ErrorIs(t, err, ErrReferralNotFound)

	got, _ := svc.Get(ctx, a.ID)
	assert.Equal(t, int64(2), got.Clicks)
	assert.Equal(t, int64(1), got.Conversions)
}

func TestRecordConversion_DeclinedOrderRejected(t *testing.T) {
	risk := &fakeRisk{declined: map[string]string{"ord_fraud": "fraud risk 92 (critical)"}}
	svc, _ := newTestService(risk)
	ctx := context.Background()
	a := enroll(t, svc, "user_1", 1000)

	c, err := svc.RecordConversion(ctx, click(t, svc, a.ReferralCode).ID, "ord_fraud", 50000)
	require.NoError(t, err)
	assert.Equal(t, CommissionRejected, c.Status)
	assert.Equal(t, "fraud risk 92 (critical)", c.Reason)

	_, err = svc.Approve(ctx, c.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	ok, err := svc.RecordConversion(ctx, click(t, svc, a.ReferralCode).ID, "ord_fine", 50000)
	require.NoError(t, err)
	assert.Equal(t, CommissionPending, ok.Status)
}

func TestRecordConversion_RiskLookupFailureStaysPending(t *testing.T) {
	svc, _ := newTestService(&fakeRisk{err: errors.New("assessment store down")})
	a := enroll(t, svc, "user_1", 1000)

	c, err := svc.RecordConversion(context.Background(), click(t, svc, a.ReferralCode).ID, "ord_1", 1000)
	require.NoError(t, err)
	assert.Equal(t, CommissionPending, c.Status)
}

func TestRecordConversion_SuspendedAffiliate(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()
	a := enroll(t, svc, "user_1", 1000)
	r := click(t, svc, a.ReferralCode)

	_, err := svc.SetStatus(ctx, a.ID, StatusSuspended)
	require.NoError(t, err)
	_, err = svc.RecordConversion(ctx, r.ID, "ord_1", 1000)
	assert.ErrorIs(t, err, ErrInactive)
}

func TestCommissionLifecycle(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()
	a := enroll(t, svc, "user_1", 500)

	c1, err := svc.RecordConversion(ctx, click(t, svc, a.ReferralCode).ID, "ord_1", 10000)
	require.NoError(t, err)
	c2, err := svc.RecordConversion(ctx, click(t, svc, a.ReferralCode).ID, "ord_2", 20000)
	require.NoError(t, err)
	c3, err := svc.RecordConversion(ctx, click(t, svc, a.ReferralCode).ID, "ord_3", 40000)
	require.NoError(t, err)

	_, err = svc.MarkPaid(ctx, c1.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "pending cannot be paid")

	_, err = svc.Approve(ctx, c1.ID)
	require.NoError(t, err)
	paid, err := svc.MarkPaid(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, CommissionPaid, paid.Status)

	_, err = svc.Approve(ctx, c2.ID)
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, c3.ID, "returned")
	require.NoError(t, err)
	assert.Equal(t, "returned", rejected.Reason)

	_, err = svc.Approve(ctx, c1.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "paid is terminal")
	_, err = svc.Approve(ctx, "com_missing")
	assert.ErrorIs(t, err, ErrCommissionNotFound)

	st, err := svc.Stats(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, &Stats{
		AffiliateID:        a.ID,
		Clicks:             3,
		Conversions:        3,
		ConversionRate:     1,
		PendingCents:       0,
		ApprovedCents:      1000,
		PaidCents:          500,
		RejectedCount:      1,
		TotalEarningsCents: 500,
	}, st)

	list, err := svc.ListCommissions(ctx, a.ID, 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = svc.ListCommissions(ctx, "aff_missing", 10)
	assert.ErrorIs(t, err, ErrAffiliateNotFound)
}

func TestStats_ConversionRate(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()
	a := enroll(t, svc, "user_1", 1000)

	st, err := svc.Stats(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, st.ConversionRate, "no clicks")

	r := click(t, svc, a.ReferralCode)
	click(t, svc, a.ReferralCode)
	click(t, svc, a.ReferralCode)
	click(t, svc, a.ReferralCode)
	_, err = svc.RecordConversion(ctx, r.ID, "ord_1", 1000)
	require.NoError(t, err)

	st, err = svc.Stats(ctx, a.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, st.ConversionRate, 1e-9)
}

func TestSetStatus(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()
	a := enroll(t, svc, "user_1", 1000)

	_, err := svc.SetStatus(ctx, a.ID, "banned")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = svc.SetStatus(ctx, "aff_missing", StatusSuspended)
	assert.ErrorIs(t, err, ErrAffiliateNotFound)

	got, err := svc.SetStatus(ctx, a.ID, StatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, got.Status)
	got, err = svc.SetStatus(ctx, a.ID, StatusActive)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
}

func TestConcurrentConversions_OnlyOneWins(t *testing.T) {
	svc, _ := newTestService(nil)
	a := enroll(t, svc, "user_1", 1000)
	r := click(t, svc, a.ReferralCode)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RecordConversion(context.Background(), r.ID, "ord_race", 1000); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
