package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the reputation MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetReputation = mcp.NewTool("get_reputation",
	mcp.WithDescription(
		"Get the on-chain reputation profile for an address. "+
			"Shows the score (0-1000, new users start at 500), transaction count, "+
			"successful loans, liquidations, and registration time."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The user's address (e.g. '0x1234...')")),
)

var ToolGetRiskProfile = mcp.NewTool("get_risk_profile",
	mcp.WithDescription(
		"Run a lending risk assessment for an address. "+
			"Returns the risk level, creditworthiness (0-10), liquidation and success ratios, "+
			"and the maximum recommended loan. Each call records a history snapshot."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The user's address (e.g. '0x1234...')")),
	mcp.WithNumber("at",
		mcp.Description("Assessment time in block units. Omit to use the service's current time.")),
)

var ToolGetActivity = mcp.NewTool("get_activity",
	mcp.WithDescription(
		"Read a user's activity ledger. "+
			"With activity_id, returns that single record; otherwise lists the most recent activities, newest first."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The user's address (e.g. '0x1234...')")),
	mcp.WithNumber("activity_id",
		mcp.Description("Optional ledger id of a single activity")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of activities to list (default 20)")),
)

var ToolGetStats = mcp.NewTool("get_stats",
	mcp.WithDescription(
		"Get service-wide statistics: registered users and total recorded activities."),
)
