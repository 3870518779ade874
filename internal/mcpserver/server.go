package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all reputation tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("repscore", version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolGetReputation, h.HandleGetReputation)
	s.AddTool(ToolGetRiskProfile, h.HandleGetRiskProfile)
	s.AddTool(ToolGetActivity, h.HandleGetActivity)
	s.AddTool(ToolGetStats, h.HandleGetStats)

	return s
}
