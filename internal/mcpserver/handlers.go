package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/repscore/internal/reputation"
	"github.com/mbd888/repscore/internal/risk"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

func addressArg(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	address := strings.TrimSpace(req.GetString("address", ""))
	if address == "" {
		return "", mcp.NewToolResultError("address is required")
	}
	if !common.IsHexAddress(address) {
		return "", mcp.NewToolResultError(fmt.Sprintf("invalid address %q: expected 0x followed by 40 hex characters", address))
	}
	return address, nil
}

// HandleGetReputation returns a user's reputation profile.
func (h *Handlers) HandleGetReputation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address, errResult := addressArg(req)
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.GetProfile(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get reputation: %v", err)), nil
	}

	text, err := formatProfile(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse reputation: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetRiskProfile runs a risk assessment.
func (h *Handlers) HandleGetRiskProfile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address, errResult := addressArg(req)
	if errResult != nil {
		return errResult, nil
	}
	at := req.GetInt("at", 0)
	if at < 0 {
		return mcp.NewToolResultError("at must not be negative"), nil
	}

	raw, err := h.client.GetRisk(ctx, address, uint64(at))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to assess risk: %v", err)), nil
	}

	text, err := formatRisk(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse risk report: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetActivity returns one activity or the most recent ones.
func (h *Handlers) HandleGetActivity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address, errResult := addressArg(req)
	if errResult != nil {
		return errResult, nil
	}

	if _, ok := req.GetArguments()["activity_id"]; ok {
		id := req.GetInt("activity_id", -1)
		if id < 0 {
			return mcp.NewToolResultError("activity_id must not be negative"), nil
		}
		raw, err := h.client.GetActivity(ctx, address, uint64(id))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get activity: %v", err)), nil
		}
		text, err := formatActivity(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse activity: %v", err)), nil
		}
		return mcp.NewToolResultText(text), nil
	}

	raw, err := h.client.ListActivities(ctx, address, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list activities: %v", err)), nil
	}
	text, err := formatActivityList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse activities: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetStats returns service-wide counters.
func (h *Handlers) HandleGetStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get stats: %v", err)), nil
	}

	var stats reputation.Stats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Service Stats:\n  Registered users: %d\n  Recorded activities: %d\n",
		stats.TotalUsers, stats.TotalActivities)), nil
}

// --- Formatting helpers ---

func formatProfile(raw json.RawMessage) (string, error) {
	var resp struct {
		Profile *reputation.Profile `json:"profile"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Profile == nil {
		return "", fmt.Errorf("no profile in response")
	}
	p := resp.Profile

	var sb strings.Builder
	sb.WriteString("Reputation Profile:\n")
	fmt.Fprintf(&sb, "  Address: %s\n", p.User.Hex())
	fmt.Fprintf(&sb, "  Score: %d / %d\n", p.ReputationScore, reputation.MaxScore)
	fmt.Fprintf(&sb, "  Transactions: %d\n", p.TotalTransactions)
	fmt.Fprintf(&sb, "  Successful Loans: %d\n", p.SuccessfulLoans)
	fmt.Fprintf(&sb, "  Liquidations: %d\n", p.Liquidations)
	fmt.Fprintf(&sb, "  Registered At: %d\n", p.RegistrationBlock)
	if p.LastActivity > 0 {
		fmt.Fprintf(&sb, "  Last Activity: %d\n", p.LastActivity)
	}
	if !p.IsActive {
		sb.WriteString("  Status: inactive\n")
	}
	return sb.String(), nil
}

func formatRisk(raw json.RawMessage) (string, error) {
	var resp struct {
		Risk *risk.Report `json:"risk"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Risk == nil {
		return "", fmt.Errorf("no risk report in response")
	}
	r := resp.Risk

	var sb strings.Builder
	sb.WriteString("Risk Assessment:\n")
	fmt.Fprintf(&sb, "  Address: %s\n", r.User)
	fmt.Fprintf(&sb, "  Score: %d\n", r.ReputationScore)
	fmt.Fprintf(&sb, "  Risk Level: %d (%s)\n", r.RiskLevel, r.RiskLabel)
	fmt.Fprintf(&sb, "  Creditworthiness: %d / 10\n", r.Creditworthiness)
	fmt.Fprintf(&sb, "  Liquidation Ratio: %d%%\n", r.LiquidationRatio)
	fmt.Fprintf(&sb, "  Success Ratio: %d%%\n", r.SuccessRatio)
	fmt.Fprintf(&sb, "  Account Age: %d\n", r.AccountAge)
	fmt.Fprintf(&sb, "  Max Recommended Loan: %d\n", r.MaxRecommendedLoan)
	fmt.Fprintf(&sb, "  Assessed At: %d\n", r.AssessmentTimestamp)
	return sb.String(), nil
}

func formatActivity(raw json.RawMessage) (string, error) {
	var resp struct {
		Activity *reputation.ActivityRecord `json:"activity"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Activity == nil {
		return "", fmt.Errorf("no activity in response")
	}
	return "Activity:\n" + activityLine(resp.Activity), nil
}

func formatActivityList(raw json.RawMessage) (string, error) {
	var resp struct {
		User       string                       `json:"user"`
		Activities []*reputation.ActivityRecord `json:"activities"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Activities) == 0 {
		return "No activities recorded.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d activities for %s:\n\n", len(resp.Activities), resp.User)
	for _, a := range resp.Activities {
		sb.WriteString(activityLine(a))
	}
	return sb.String(), nil
}

func activityLine(a *reputation.ActivityRecord) string {
	line := fmt.Sprintf("  #%d %s at %d, impact %+d", a.ID, a.ActivityType, a.Timestamp, a.ScoreImpact)
	if a.Amount > 0 {
		line += fmt.Sprintf(", amount %d", a.Amount)
	}
	return line + "\n"
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}
