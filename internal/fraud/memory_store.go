package fraud

import (
	"context"
	"fmt"
	"sync"
)

var (
	_ RuleStore       = (*MemoryRuleStore)(nil)
	_ AssessmentStore = (*MemoryAssessmentStore)(nil)
)

// MemoryRuleStore is an in-memory RuleStore for demo/test use.
type MemoryRuleStore struct {
	mu    sync.RWMutex
	order []string
	rules map[string]Rule
}

// NewMemoryRuleStore creates an empty rule store.
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[string]Rule)}
}

func (s *MemoryRuleStore) List(ctx context.Context) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, 0, len(s.order))
	for _, id := range s.order {
		r := s.rules[id]
		out = append(out, r.clone())
	}
	return out, nil
}

func (s *MemoryRuleStore) Create(ctx context.Context, r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
	}
	s.rules[r.ID] = r.clone()
	s.order = append(s.order, r.ID)
	return nil
}

func (s *MemoryRuleStore) Update(ctx context.Context, r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; !ok {
		return ErrRuleNotFound
	}
	s.rules[r.ID] = r.clone()
	return nil
}

// MemoryAssessmentStore is an in-memory AssessmentStore for demo/test use.
type MemoryAssessmentStore struct {
	mu      sync.RWMutex
	all     []*Assessment
	byOrder map[string][]*Assessment
}

// NewMemoryAssessmentStore creates an empty assessment store.
func NewMemoryAssessmentStore() *MemoryAssessmentStore {
	return &MemoryAssessmentStore{byOrder: make(map[string][]*Assessment)}
}

func copyAssessment(a *Assessment) *Assessment {
	c := *a
	c.Factors = append([]RiskFactor(nil), a.Factors...)
	return &c
}

func (s *MemoryAssessmentStore) Record(ctx context.Context, a *Assessment) error {
	c := copyAssessment(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = append(s.all, c)
	s.byOrder[a.OrderID] = append(s.byOrder[a.OrderID], c)
	return nil
}

func (s *MemoryAssessmentStore) LatestByOrder(ctx context.Context, orderID string) (*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byOrder[orderID]
	if len(list) == 0 {
		return nil, ErrAssessmentNotFound
	}
	return copyAssessment(list[len(list)-1]), nil
}

func (s *MemoryAssessmentStore) ListRecent(ctx context.Context, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.all) {
		limit = len(s.all)
	}
	out := make([]*Assessment, 0, limit)
	for i := len(s.all) - 1; i >= len(s.all)-limit; i-- {
		out = append(out, copyAssessment(s.all[i]))
	}
	return out, nil
}
