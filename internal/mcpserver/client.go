package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to the riskguard API.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // Optional, enables commission review
}

// RiskguardClient is a pure HTTP client for the riskguard API.
type RiskguardClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewRiskguardClient creates a new client for the riskguard API.
func NewRiskguardClient(cfg Config) *RiskguardClient {
	return &RiskguardClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *RiskguardClient) doRequest(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.AdminSecret != "" {
		req.Header.Set("X-Admin-Secret", c.cfg.AdminSecret)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// Analyze scores a transaction.
func (c *RiskguardClient) Analyze(ctx context.Context, tx map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/fraud/analyze", tx)
}

// GetAssessment returns the latest stored assessment for an order.
func (c *RiskguardClient) GetAssessment(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/fraud/assessments/"+url.PathEscape(orderID), nil)
}

// ListRules returns the active fraud rules.
func (c *RiskguardClient) ListRules(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/fraud/rules", nil)
}

// AffiliateStats returns an affiliate's performance summary.
func (c *RiskguardClient) AffiliateStats(ctx context.Context, affiliateID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/affiliates/"+url.PathEscape(affiliateID)+"/stats", nil)
}

// ReviewCommission applies decision (approve, reject or pay) to a commission.
func (c *RiskguardClient) ReviewCommission(ctx context.Context, commissionID, decision, reason string) (json.RawMessage, error) {
	var body any
	if decision == "reject" && reason != "" {
		body = map[string]string{"reason": reason}
	}
	path := "/v1/commissions/" + url.PathEscape(commissionID) + "/" + decision
	return c.doRequest(ctx, http.MethodPost, path, body)
}
