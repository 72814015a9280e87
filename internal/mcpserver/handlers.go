package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *RiskguardClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *RiskguardClient) *Handlers {
	return &Handlers{client: client}
}

// HandleAnalyzeTransaction scores a transaction.
func (h *Handlers) HandleAnalyzeTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tx, ok := req.GetArguments()["transaction"].(map[string]any)
	if !ok || len(tx) == 0 {
		return mcp.NewToolResultError("transaction is required"), nil
	}
	if id, _ := tx["orderId"].(string); id == "" {
		return mcp.NewToolResultError("transaction.orderId is required"), nil
	}

	raw, err := h.client.Analyze(ctx, tx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze transaction: %v", err)), nil
	}

	var resp struct {
		AssessmentID string    `json:"assessmentId"`
		RiskScore    riskScore `json:"riskScore"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse risk score: %v", err)), nil
	}

	return mcp.NewToolResultText(formatRiskScore(resp.AssessmentID, "", resp.RiskScore)), nil
}

// HandleGetAssessment returns the stored assessment for an order.
func (h *Handlers) HandleGetAssessment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID := req.GetString("order_id", "")
	if orderID == "" {
		return mcp.NewToolResultError("order_id is required"), nil
	}

	raw, err := h.client.GetAssessment(ctx, orderID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get assessment: %v", err)), nil
	}

	var resp struct {
		Assessment struct {
			riskScore
			ID          string `json:"id"`
			OrderID     string `json:"orderId"`
			Fallback    bool   `json:"fallback"`
			EvaluatedAt string `json:"evaluatedAt"`
		} `json:"assessment"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}

	a := resp.Assessment
	var sb strings.Builder
	fmt.Fprintf(&sb, "Order %s (evaluated %s)\n", a.OrderID, a.EvaluatedAt)
	if a.Fallback {
		sb.WriteString("Note: analysis failed and the fallback score was used.\n")
	}
	sb.WriteString(formatRiskScore(a.ID, a.OrderID, a.riskScore))
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListFraudRules lists the active rules.
func (h *Handlers) HandleListFraudRules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	enabledOnly := req.GetBool("enabled_only", false)

	raw, err := h.client.ListRules(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list rules: %v", err)), nil
	}

	text, err := formatRuleList(raw, enabledOnly)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse rules: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleAffiliateStats returns an affiliate's performance summary.
func (h *Handlers) HandleAffiliateStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	affiliateID := req.GetString("affiliate_id", "")
	if affiliateID == "" {
		return mcp.NewToolResultError("affiliate_id is required"), nil
	}

	raw, err := h.client.AffiliateStats(ctx, affiliateID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get affiliate stats: %v", err)), nil
	}

	text, err := formatAffiliateStats(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse stats: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleReviewCommission approves, rejects or pays a commission.
func (h *Handlers) HandleReviewCommission(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("commission_id", "")
	if id == "" {
		return mcp.NewToolResultError("commission_id is required"), nil
	}
	decision := req.GetString("decision", "")
	switch decision {
	case "approve", "reject", "pay":
	default:
		return mcp.NewToolResultError("decision must be approve, reject or pay"), nil
	}

	raw, err := h.client.ReviewCommission(ctx, id, decision, req.GetString("reason", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to %s commission: %v", decision, err)), nil
	}

	var resp struct {
		Commission map[string]any `json:"commission"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Commission == nil {
		return mcp.NewToolResultError("Failed to parse commission"), nil
	}
	c := resp.Commission
	return mcp.NewToolResultText(fmt.Sprintf("Commission %s is now %s (%s)",
		getString(c, "id"), getString(c, "status"), formatCents(c["commissionCents"]))), nil
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

type riskFactor struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Weight      int    `json:"weight"`
}

type riskScore struct {
	Score          int          `json:"score"`
	Level          string       `json:"level"`
	Recommendation string       `json:"recommendation"`
	Confidence     int          `json:"confidence"`
	Factors        []riskFactor `json:"factors"`
}

func formatRiskScore(assessmentID, orderID string, rs riskScore) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk score: %d/100 (%s)\n", rs.Score, rs.Level)
	fmt.Fprintf(&sb, "Recommendation: %s\n", strings.ToUpper(rs.Recommendation))
	fmt.Fprintf(&sb, "Confidence: %d%%\n", rs.Confidence)
	if assessmentID != "" {
		fmt.Fprintf(&sb, "Assessment: %s\n", assessmentID)
	}
	if len(rs.Factors) == 0 {
		sb.WriteString("\nNo risk factors found.")
		return sb.String()
	}
	fmt.Fprintf(&sb, "\nFactors (%d):\n", len(rs.Factors))
	for i, f := range rs.Factors {
		fmt.Fprintf(&sb, "%d. [%s] %s (+%d)\n", i+1, f.Severity, f.Description, f.Weight)
	}
	return sb.String()
}

func formatRuleList(raw json.RawMessage, enabledOnly bool) (string, error) {
	var resp struct {
		Rules []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Weight  int    `json:"weight"`
			Action  string `json:"action"`
			Enabled bool   `json:"enabled"`
		} `json:"rules"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	n := 0
	for _, r := range resp.Rules {
		if enabledOnly && !r.Enabled {
			continue
		}
		n++
		state := ""
		if !r.Enabled {
			state = " [disabled]"
		}
		fmt.Fprintf(&sb, "%d. %s (%s)%s\n   weight %d, action %s\n", n, r.Name, r.ID, state, r.Weight, r.Action)
	}
	if n == 0 {
		return "No fraud rules configured.", nil
	}
	return fmt.Sprintf("Found %d rule(s):\n\n", n) + sb.String(), nil
}

func formatAffiliateStats(raw json.RawMessage) (string, error) {
	var resp struct {
		Stats map[string]any `json:"stats"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Stats == nil {
		return "", fmt.Errorf("unexpected stats response format")
	}
	st := resp.Stats

	var sb strings.Builder
	fmt.Fprintf(&sb, "Affiliate %s:\n", getString(st, "affiliateId"))
	fmt.Fprintf(&sb, "  Clicks: %s | Conversions: %s", getString(st, "clicks"), getString(st, "conversions"))
	if rate, ok := getFloat(st, "conversionRate"); ok {
		fmt.Fprintf(&sb, " (%.1f%%)", rate*100)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  Pending:  %s\n", formatCents(st["pendingCents"]))
	fmt.Fprintf(&sb, "  Approved: %s\n", formatCents(st["approvedCents"]))
	fmt.Fprintf(&sb, "  Paid:     %s\n", formatCents(st["paidCents"]))
	fmt.Fprintf(&sb, "  Rejected: %s commission(s)\n", getString(st, "rejectedCount"))
	fmt.Fprintf(&sb, "  Lifetime earnings: %s\n", formatCents(st["totalEarningsCents"]))
	return sb.String(), nil
}

func formatCents(v any) string {
	f, _ := v.(float64)
	return fmt.Sprintf("%.2f", f/100)
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
