// Rivora MCP Server - Exposes wallet scoring as MCP tools for LLMs
package main

import (
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rivora/rivora/internal/logging"
	"github.com/rivora/rivora/internal/mcpserver"
)

func main() {
	// stdout carries the MCP protocol, so logs go to stderr
	logger := logging.NewWriter(os.Stderr, envOrDefault("LOG_LEVEL", "info"), "text")

	cfg := mcpserver.Config{
		APIURL: envOrDefault("RIVORA_API_URL", "http://localhost:8080"),
		APIKey: os.Getenv("RIVORA_API_KEY"),
	}

	logger.Info("starting rivora mcp server", "api", cfg.APIURL, "auth", cfg.APIKey != "")

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		logger.Error("MCP server error", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
