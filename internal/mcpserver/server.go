package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/rivora/rivora/internal/scoring"
)

// NewMCPServer creates a configured MCP server with all Rivora tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("rivora", scoring.APIVersion)
	client := NewRivoraClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolScoreWallet, h.HandleScoreWallet)
	s.AddTool(ToolBatchScore, h.HandleBatchScore)
	s.AddTool(ToolVerifyScores, h.HandleVerifyScores)
	s.AddTool(ToolPrepareSave, h.HandlePrepareSave)
	s.AddTool(ToolScoreHistory, h.HandleScoreHistory)
	s.AddTool(ToolServiceStatus, h.HandleServiceStatus)

	return s
}
