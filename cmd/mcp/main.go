// repscore MCP server - exposes reputation lookups as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/repscore/internal/mcpserver"
)

// Version is set by ldflags.
var Version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL:        envOrDefault("REPSCORE_API_URL", "http://localhost:8080"),
		CallerAddress: os.Getenv("REPSCORE_CALLER_ADDRESS"),
	}

	if cfg.CallerAddress != "" && !common.IsHexAddress(cfg.CallerAddress) {
		fmt.Fprintln(os.Stderr, "REPSCORE_CALLER_ADDRESS must be a 0x-prefixed address")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg, Version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
