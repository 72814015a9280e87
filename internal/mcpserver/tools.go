package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the riskguard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAnalyzeTransaction = mcp.NewTool("analyze_transaction",
	mcp.WithDescription(
		"Score a checkout transaction for payment fraud. "+
			"Returns a 0-100 risk score, a level (low/medium/high/critical), "+
			"a recommendation (approve/review/decline) and the risk factors that contributed."),
	mcp.WithObject("transaction",
		mcp.Required(),
		mcp.Description("The transaction: {\"orderId\": \"ord_1\", \"amount\": 129.90, \"paymentMethod\": \"card\", "+
			"\"billingAddress\": {\"country\": \"US\"}, \"shippingAddress\": {\"country\": \"US\"}, "+
			"\"orderContext\": {\"newCustomer\": true}}")),
)

var ToolGetAssessment = mcp.NewTool("get_assessment",
	mcp.WithDescription(
		"Look up the most recent fraud assessment stored for an order."),
	mcp.WithString("order_id",
		mcp.Required(),
		mcp.Description("The order ID that was analyzed (e.g. 'ord_1')")),
)

var ToolListFraudRules = mcp.NewTool("list_fraud_rules",
	mcp.WithDescription(
		"List the fraud rules currently evaluated on every transaction, "+
			"with their weights, actions and whether they are enabled."),
	mcp.WithBoolean("enabled_only",
		mcp.Description("Only show enabled rules")),
)

var ToolAffiliateStats = mcp.NewTool("affiliate_stats",
	mcp.WithDescription(
		"Get an affiliate's clicks, conversions and commission totals."),
	mcp.WithString("affiliate_id",
		mcp.Required(),
		mcp.Description("The affiliate ID (e.g. 'aff_...')")),
)

var ToolReviewCommission = mcp.NewTool("review_commission",
	mcp.WithDescription(
		"Approve, reject or mark paid an affiliate commission. "+
			"Pending commissions can be approved or rejected; approved commissions can be paid."),
	mcp.WithString("commission_id",
		mcp.Required(),
		mcp.Description("The commission ID")),
	mcp.WithString("decision",
		mcp.Required(),
		mcp.Description("What to do with the commission"),
		mcp.Enum("approve", "reject", "pay")),
	mcp.WithString("reason",
		mcp.Description("Why the commission is rejected")),
)
