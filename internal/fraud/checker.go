package fraud

import (
	"context"
	"errors"
	"fmt"
)

// OrderRiskChecker reports whether an order's latest assessment told
// order processing to decline it.
type OrderRiskChecker struct {
	store AssessmentStore
}

// NewOrderRiskChecker creates a checker over store.
func NewOrderRiskChecker(store AssessmentStore) *OrderRiskChecker {
	return &OrderRiskChecker{store: store}
}

// Declined returns true with a reason when the order was scored decline.
// Orders that were never scored are not declined.
func (c *OrderRiskChecker) Declined(ctx context.Context, orderID string) (bool, string, error) {
	a, err := c.store.LatestByOrder(ctx, orderID)
	if errors.Is(err, ErrAssessmentNotFound) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	if a.Recommendation != RecommendDecline {
		return false, "", nil
	}
	return true, fmt.Sprintf("fraud risk %d (%s)", a.Score, a.Level), nil
}
