package affiliate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore implements Store backed by PostgreSQL. Tables are created
// by the goose migrations in /migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed affiliate store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func uniqueConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

const affiliateColumns = `id, user_id, referral_code, commission_rate_bps, status, clicks, conversions, total_earnings_cents, created_at, updated_at`

func scanAffiliate(row interface{ Scan(...any) error }) (*Affiliate, error) {
	var a Affiliate
	err := row.Scan(&a.ID, &a.UserID, &a.ReferralCode, &a.CommissionRateBps, &a.Status,
		&a.Clicks, &a.Conversions, &a.TotalEarningsCents, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *PostgresStore) CreateAffiliate(ctx context.Context, a *Affiliate) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO affiliates (`+affiliateColumns+`)
		VALUES ($1, $2, $3, $4, $5, 0, 0, 0, $6, $7)
	`, a.ID, a.UserID, a.ReferralCode, a.CommissionRateBps, string(a.Status), a.CreatedAt, a.UpdatedAt)
	if constraint, ok := uniqueConstraint(err); ok {
		if strings.Contains(constraint, "referral_code") {
			return errCodeTaken
		}
		return ErrAlreadyAffiliate
	}
	if err != nil {
		return fmt.Errorf("insert affiliate: %w", err)
	}
	return nil
}

func (p *PostgresStore) getAffiliate(ctx context.Context, where string, arg any) (*Affiliate, error) {
	a, err := scanAffiliate(p.db.QueryRowContext(ctx,
		`SELECT `+affiliateColumns+` FROM affiliates WHERE `+where+` = $1`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAffiliateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get affiliate: %w", err)
	}
	return a, nil
}

func (p *PostgresStore) GetAffiliate(ctx context.Context, id string) (*Affiliate, error) {
	return p.getAffiliate(ctx, "id", id)
}

func (p *PostgresStore) GetAffiliateByCode(ctx context.Context, code string) (*Affiliate, error) {
	return p.getAffiliate(ctx, "referral_code", code)
}

func (p *PostgresStore) SetAffiliateStatus(ctx context.Context, id string, status Status, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE affiliates SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(status), at)
	if err != nil {
		return fmt.Errorf("update affiliate status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAffiliateNotFound
	}
	return nil
}

func (p *PostgresStore) RecordClick(ctx context.Context, r *Referral) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE affiliates SET clicks = clicks + 1 WHERE id = $1
	`, r.AffiliateID)
	if err != nil {
		return fmt.Errorf("increment clicks: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAffiliateNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO referrals (id, affiliate_id, referral_code, visitor_id, ip_address, landing_url, clicked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.AffiliateID, r.ReferralCode, r.VisitorID, r.IPAddress, r.LandingURL, r.ClickedAt)
	if err != nil {
		return fmt.Errorf("insert referral: %w", err)
	}
	return tx.Commit()
}

func (p *PostgresStore) GetReferral(ctx context.Context, id string) (*Referral, error) {
	var r Referral
	var convertedAt sql.NullTime
	var orderID sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT id, affiliate_id, referral_code, visitor_id, ip_address, landing_url, clicked_at, converted_at, order_id
		FROM referrals WHERE id = $1
	`, id).Scan(&r.ID, &r.AffiliateID, &r.ReferralCode, &r.VisitorID, &r.IPAddress, &r.LandingURL,
		&r.ClickedAt, &convertedAt, &orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReferralNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get referral: %w", err)
	}
	if convertedAt.Valid {
		t := convertedAt.Time
		r.ConvertedAt = &t
	}
	r.OrderID = orderID.String
	return &r, nil
}

func (p *PostgresStore) RecordConversion(ctx context.Context, referralID string, c *Commission) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE referrals SET converted_at = $2, order_id = $3
		WHERE id = $1 AND converted_at IS NULL
	`, referralID, c.CreatedAt, c.OrderID)
	if err != nil {
		return fmt.Errorf("mark referral converted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyConverted
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO commissions (id, affiliate_id, referral_id, order_id, order_amount_cents, commission_cents, status, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.AffiliateID, referralID, c.OrderID, c.OrderAmountCents, c.CommissionCents,
		string(c.Status), c.Reason, c.CreatedAt, c.UpdatedAt)
	if _, ok := uniqueConstraint(err); ok {
		return ErrAlreadyConverted
	}
	if err != nil {
		return fmt.Errorf("insert commission: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE affiliates SET conversions = conversions + 1 WHERE id = $1
	`, c.AffiliateID); err != nil {
		return fmt.Errorf("increment conversions: %w", err)
	}
	return tx.Commit()
}

const commissionColumns = `id, affiliate_id, referral_id, order_id, order_amount_cents, commission_cents, status, reason, created_at, updated_at`

func scanCommission(row interface{ Scan(...any) error }) (*Commission, error) {
	var c Commission
	err := row.Scan(&c.ID, &c.AffiliateID, &c.ReferralID, &c.OrderID, &c.OrderAmountCents,
		&c.CommissionCents, &c.Status, &c.Reason, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *PostgresStore) GetCommission(ctx context.Context, id string) (*Commission, error) {
	c, err := scanCommission(p.db.QueryRowContext(ctx,
		`SELECT `+commissionColumns+` FROM commissions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCommissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get commission: %w", err)
	}
	return c, nil
}

func (p *PostgresStore) ListCommissions(ctx context.Context, affiliateID string, limit int, opts ...ListOption) ([]*Commission, error) {
	if limit <= 0 {
		limit = 50
	}
	o := applyListOpts(opts)

	var (
		rows *sql.Rows
		err  error
	)
	if o.cursor != nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+commissionColumns+`
			FROM commissions
			WHERE affiliate_id = $1 AND (created_at, id) < ($3, $4)
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, affiliateID, limit, o.cursor.CreatedAt, o.cursor.ID)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+commissionColumns+`
			FROM commissions
			WHERE affiliate_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, affiliateID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list commissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Commission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commission: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (p *PostgresStore) TransitionCommission(ctx context.Context, id string, from, to CommissionStatus, reason string, at time.Time) (*Commission, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := scanCommission(tx.QueryRowContext(ctx, `
		UPDATE commissions
		SET status = $3, reason = CASE WHEN $4 = '' THEN reason ELSE $4 END, updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING `+commissionColumns,
		id, string(from), string(to), reason, at))
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if qerr := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM commissions WHERE id = $1)`, id).Scan(&exists); qerr != nil {
			return nil, fmt.Errorf("check commission: %w", qerr)
		}
		if !exists {
			return nil, ErrCommissionNotFound
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("update commission: %w", err)
	}

	if to == CommissionPaid {
		if _, err := tx.ExecContext(ctx, `
			UPDATE affiliates
			SET total_earnings_cents = total_earnings_cents + $2, updated_at = $3
			WHERE id = $1
		`, c.AffiliateID, c.CommissionCents, at); err != nil {
			return nil, fmt.Errorf("credit earnings: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

func (p *PostgresStore) Stats(ctx context.Context, affiliateID string) (*Stats, error) {
	st := &Stats{AffiliateID: affiliateID}
	err := p.db.QueryRowContext(ctx, `
		SELECT a.clicks, a.conversions, a.total_earnings_cents,
			COALESCE(SUM(c.commission_cents) FILTER (WHERE c.status = 'pending'), 0),
			COALESCE(SUM(c.commission_cents) FILTER (WHERE c.status = 'approved'), 0),
			COALESCE(SUM(c.commission_cents) FILTER (WHERE c.status = 'paid'), 0),
			COUNT(c.id) FILTER (WHERE c.status = 'rejected')
		FROM affiliates a
		LEFT JOIN commissions c ON c.affiliate_id = a.id
		WHERE a.id = $1
		GROUP BY a.id
	`, affiliateID).Scan(&st.Clicks, &st.Conversions, &st.TotalEarningsCents,
		&st.PendingCents, &st.ApprovedCents, &st.PaidCents, &st.RejectedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAffiliateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("affiliate stats: %w", err)
	}
	return st, nil
}
