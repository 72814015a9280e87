package fraud

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	_ RuleStore       = (*PostgresRuleStore)(nil)
	_ AssessmentStore = (*PostgresAssessmentStore)(nil)
)

// PostgresRuleStore persists fraud rules in PostgreSQL.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a PostgreSQL-backed rule store.
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

func (s *PostgresRuleStore) List(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, conditions, weight, action, enabled, created_at, updated_at
		FROM fraud_rules
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list fraud rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []Rule
	for rows.Next() {
		var r Rule
		var conditionsJSON []byte
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &conditionsJSON, &r.Weight,
			&r.Action, &r.Enabled, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fraud rule: %w", err)
		}
		if err := json.Unmarshal(conditionsJSON, &r.Conditions); err != nil {
			return nil, fmt.Errorf("rule %s: bad conditions: %w", r.ID, err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PostgresRuleStore) Create(ctx context.Context, r *Rule) error {
	conditionsJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fraud_rules (id, name, description, conditions, weight, action, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, r.ID, r.Name, r.Description, conditionsJSON, r.Weight, string(r.Action), r.Enabled, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert fraud rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
	}
	return nil
}

func (s *PostgresRuleStore) Update(ctx context.Context, r *Rule) error {
	conditionsJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE fraud_rules
		SET name = $2, description = $3, conditions = $4, weight = $5, action = $6, enabled = $7, updated_at = $8
		WHERE id = $1
	`, r.ID, r.Name, r.Description, conditionsJSON, r.Weight, string(r.Action), r.Enabled, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update fraud rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// PostgresAssessmentStore persists risk assessments in PostgreSQL.
type PostgresAssessmentStore struct {
	db *sql.DB
}

// NewPostgresAssessmentStore creates a PostgreSQL-backed assessment store.
func NewPostgresAssessmentStore(db *sql.DB) *PostgresAssessmentStore {
	return &PostgresAssessmentStore{db: db}
}

func (s *PostgresAssessmentStore) Record(ctx context.Context, a *Assessment) error {
	factorsJSON, err := json.Marshal(a.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments
			(id, order_id, customer_id, score, level, recommendation, confidence, factors, fallback, duration_ms, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		a.ID, a.OrderID, a.CustomerID, a.Score, string(a.Level), string(a.Recommendation),
		a.Confidence, factorsJSON, a.Fallback, a.DurationMs, a.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record risk assessment: %w", err)
	}
	return nil
}

const assessmentColumns = `id, order_id, customer_id, score, level, recommendation, confidence, factors, fallback, duration_ms, evaluated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row scanner) (*Assessment, error) {
	var a Assessment
	var factorsJSON []byte
	if err := row.Scan(&a.ID, &a.OrderID, &a.CustomerID, &a.Score, &a.Level, &a.Recommendation,
		&a.Confidence, &factorsJSON, &a.Fallback, &a.DurationMs, &a.EvaluatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(factorsJSON, &a.Factors); err != nil {
		return nil, fmt.Errorf("assessment %s: bad factors: %w", a.ID, err)
	}
	return &a, nil
}

func (s *PostgresAssessmentStore) LatestByOrder(ctx context.Context, orderID string) (*Assessment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+assessmentColumns+`
		FROM risk_assessments
		WHERE order_id = $1
		ORDER BY evaluated_at DESC
		LIMIT 1
	`, orderID)
	a, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssessmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk assessment: %w", err)
	}
	return a, nil
}

func (s *PostgresAssessmentStore) ListRecent(ctx context.Context, limit int) ([]*Assessment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assessmentColumns+`
		FROM risk_assessments
		ORDER BY evaluated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk assessment: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
