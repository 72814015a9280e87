package fraud

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var _ RuleStore = (*HTTPRuleStore)(nil)

// HTTPRuleStore persists rules to a remote rules service:
// GET/POST {base}/rules and PUT {base}/rules/{id}.
type HTTPRuleStore struct {
	base   string
	client *http.Client
}

// NewHTTPRuleStore creates a remote rule store.
func NewHTTPRuleStore(baseURL string, timeout time.Duration) *HTTPRuleStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPRuleStore{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

type rulesResponse struct {
	Rules []Rule `json:"rules"`
}

func (s *HTTPRuleStore) List(ctx context.Context) ([]Rule, error) {
	var resp rulesResponse
	if err := doJSON(ctx, s.client, http.MethodGet, s.base+"/rules", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rules, nil
}

func (s *HTTPRuleStore) Create(ctx context.Context, r *Rule) error {
	return doJSON(ctx, s.client, http.MethodPost, s.base+"/rules", r, nil)
}

func (s *HTTPRuleStore) Update(ctx context.Context, r *Rule) error {
	return doJSON(ctx, s.client, http.MethodPut, s.base+"/rules/"+url.PathEscape(r.ID), r, nil)
}
