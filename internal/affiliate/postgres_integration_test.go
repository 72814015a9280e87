package affiliate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fashun/riskguard/internal/testutil"
)

func TestPostgresStore_Integration(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	svc := NewService(NewPostgresStore(db), nil, nil)

	a, err := svc.CreateAffiliate(ctx, "user_pg", 1000)
	require.NoError(t, err)
	_, err = svc.CreateAffiliate(ctx, "user_pg", 1000)
	assert.ErrorIs(t, err, ErrAlreadyAffiliate)

	r, err := svc.TrackClick(ctx, Click{ReferralCode: a.ReferralCode, VisitorID: "v"})
	require.NoError(t, err)

	c, err := svc.RecordConversion(ctx, r.ID, "ord_pg_1", 12000)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), c.CommissionCents)

	_, err = svc.RecordConversion(ctx, r.ID, "ord_pg_2", 12000)
	assert.ErrorIs(t, err, ErrAlreadyConverted)

	_, err = svc.Approve(ctx, c.ID)
	require.NoError(t, err)
	_, err = svc.MarkPaid(ctx, c.ID)
	require.NoError(t, err)

	st, err := svc.Stats(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Clicks)
	assert.Equal(t, int64(1), st.Conversions)
	assert.Equal(t, int64(1200), st.PaidCents)
	assert.Equal(t, int64(1200), st.TotalEarningsCents)

	ref, err := NewPostgresStore(db).GetReferral(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, ref.Converted())
	assert.Equal(t, "ord_pg_1", ref.OrderID)
}
