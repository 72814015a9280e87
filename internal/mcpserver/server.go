package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all riskguard tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("fashun-riskguard", "1.0.0")
	h := NewHandlers(NewRiskguardClient(cfg))

	s.AddTool(ToolAnalyzeTransaction, h.HandleAnalyzeTransaction)
	s.AddTool(ToolGetAssessment, h.HandleGetAssessment)
	s.AddTool(ToolListFraudRules, h.HandleListFraudRules)
	s.AddTool(ToolAffiliateStats, h.HandleAffiliateStats)
	if cfg.AdminSecret != "" {
		s.AddTool(ToolReviewCommission, h.HandleReviewCommission)
	}

	return s
}
