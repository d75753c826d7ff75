package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rivora/rivora/internal/validation"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *RivoraClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *RivoraClient) *Handlers {
	return &Handlers{client: client}
}

// HandleScoreWallet runs the scoring pipeline for one wallet.
func (h *Handlers) HandleScoreWallet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := validation.SanitizeAddress(req.GetString("wallet_address", ""))
	if address == "" {
		return mcp.NewToolResultError("wallet_address is required"), nil
	}
	if !validation.IsValidStellarAddress(address) {
		return mcp.NewToolResultError("wallet_address must be a Stellar account address (G...)"), nil
	}

	raw, err := h.client.CalculateScores(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to score wallet: %v", err)), nil
	}

	text, err := formatScores(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse scores: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleBatchScore scores a list of wallets.
func (h *Handlers) HandleBatchScore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addresses := req.GetStringSlice("wallet_addresses", nil)
	if len(addresses) == 0 {
		return mcp.NewToolResultError("wallet_addresses must contain at least one address"), nil
	}
	if len(addresses) > validation.MaxBatchSize {
		return mcp.NewToolResultError(fmt.Sprintf("at most %d addresses per batch", validation.MaxBatchSize)), nil
	}

	raw, err := h.client.BatchScores(ctx, addresses)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to score wallets: %v", err)), nil
	}

	text, err := formatBatch(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse batch: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleVerifyScores reads the scores stored on the ledger.
func (h *Handlers) HandleVerifyScores(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := validation.SanitizeAddress(req.GetString("wallet_address", ""))
	if address == "" {
		return mcp.NewToolResultError("wallet_address is required"), nil
	}

	raw, err := h.client.Verify(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to verify scores: %v", err)), nil
	}

	text, err := formatVerification(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse verification: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandlePrepareSave builds an unsigned save transaction.
func (h *Handlers) HandlePrepareSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := validation.SanitizeAddress(req.GetString("wallet_address", ""))
	if address == "" {
		return mcp.NewToolResultError("wallet_address is required"), nil
	}
	args := req.GetArguments()
	trust, ok := getFloat(args, "trust_rating")
	if !ok {
		return mcp.NewToolResultError("trust_rating is required"), nil
	}
	health, ok := getFloat(args, "health_score")
	if !ok {
		return mcp.NewToolResultError("health_score is required"), nil
	}
	if trust < 0 || trust > 100 || health < 0 || health > 100 {
		return mcp.NewToolResultError("trust_rating and health_score must be between 0 and 100"), nil
	}
	userType := req.GetString("user_type", "")
	if userType == "" {
		return mcp.NewToolResultError("user_type is required"), nil
	}

	raw, err := h.client.PrepareSave(ctx, address, trust, health, userType)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to prepare transaction: %v", err)), nil
	}

	text, err := formatDraft(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse transaction: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleScoreHistory lists a wallet's save history.
func (h *Handlers) HandleScoreHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := validation.SanitizeAddress(req.GetString("wallet_address", ""))
	if address == "" {
		return mcp.NewToolResultError("wallet_address is required"), nil
	}
	limit := req.GetInt("limit", 20)
	cursor := req.GetString("cursor", "")

	raw, err := h.client.History(ctx, address, cursor, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get history: %v", err)), nil
	}

	text, err := formatHistory(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse history: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleServiceStatus returns the raw service status.
func (h *Handlers) HandleServiceStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get status: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// --- Formatters ---

func formatScores(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Wallet Reputation:\n")
	if v := getString(m, "walletAddress"); v != "" {
		sb.WriteString(fmt.Sprintf("  Address: %s\n", v))
	}
	if v, ok := getFloat(m, "deFiRiskScore", "trustRating"); ok {
		sb.WriteString(fmt.Sprintf("  Trust Rating: %.2f\n", v))
	}
	if v, ok := getFloat(m, "deFiHealthScore", "healthScore"); ok {
		sb.WriteString(fmt.Sprintf("  Health Score: %.2f\n", v))
	}
	if v := getString(m, "userType"); v != "" {
		sb.WriteString(fmt.Sprintf("  User Type: %s", v))
		if s, ok := getFloat(m, "userTypeScore"); ok {
			sb.WriteString(fmt.Sprintf(" (%.0f)", s))
		}
		sb.WriteString("\n")
	}
	if v := getString(m, "method"); v != "" {
		sb.WriteString(fmt.Sprintf("  Method: %s\n", v))
	}
	if meta, ok := m["metadata"].(map[string]any); ok {
		if v := getString(meta, "dataQuality"); v != "" {
			sb.WriteString(fmt.Sprintf("  Data Quality: %s\n", v))
		}
	}

	return sb.String(), nil
}

func formatBatch(raw json.RawMessage) (string, error) {
	var resp struct {
		Results []struct {
			WalletAddress string         `json:"walletAddress"`
			Scores        map[string]any `json:"scores"`
			Error         string         `json:"error"`
		} `json:"results"`
		Metadata struct {
			Total      int `json:"total"`
			Successful int `json:"successful"`
			Failed     int `json:"failed"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Scored %d of %d wallets:\n", resp.Metadata.Successful, resp.Metadata.Total))
	for _, r := range resp.Results {
		if r.Error != "" {
			sb.WriteString(fmt.Sprintf("- %s: error: %s\n", r.WalletAddress, r.Error))
			continue
		}
		trust, _ := getFloat(r.Scores, "trustRating")
		health, _ := getFloat(r.Scores, "healthScore")
		sb.WriteString(fmt.Sprintf("- %s: trust %.2f, health %.2f, %s\n",
			r.WalletAddress, trust, health, getString(r.Scores, "userType")))
	}
	return sb.String(), nil
}

func formatVerification(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	address := getString(m, "walletAddress")
	verified, _ := m["verified"].(bool)
	if !verified {
		return fmt.Sprintf("No scores stored on the ledger for %s.", address), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("On-ledger scores for %s:\n", address))
	if v := getString(m, "strategy"); v != "" {
		sb.WriteString(fmt.Sprintf("  Stored via: %s\n", v))
	}
	if s, ok := m["scores"].(map[string]any); ok {
		if v, ok := getFloat(s, "trustRating"); ok {
			sb.WriteString(fmt.Sprintf("  Trust Rating: %.2f\n", v))
		}
		if v, ok := getFloat(s, "healthScore"); ok {
			sb.WriteString(fmt.Sprintf("  Health Score: %.2f\n", v))
		}
		if v := getString(s, "userType"); v != "" {
			sb.WriteString(fmt.Sprintf("  User Type: %s\n", v))
		}
		if v := getString(s, "timestamp"); v != "" {
			sb.WriteString(fmt.Sprintf("  Saved: %s\n", v))
		}
	}
	return sb.String(), nil
}

func formatDraft(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}
	xdr := getString(m, "xdr")
	if xdr == "" {
		return "", fmt.Errorf("response has no transaction")
	}

	var sb strings.Builder
	sb.WriteString("Unsigned transaction ready for signing:\n")
	if v := getString(m, "network"); v != "" {
		sb.WriteString(fmt.Sprintf("  Network: %s\n", v))
	}
	if v := getString(m, "strategy"); v != "" {
		sb.WriteString(fmt.Sprintf("  Strategy: %s\n", v))
	}
	if v, ok := getFloat(m, "operationCount"); ok {
		sb.WriteString(fmt.Sprintf("  Operations: %.0f\n", v))
	}
	if v, ok := getFloat(m, "fee"); ok {
		sb.WriteString(fmt.Sprintf("  Fee: %.0f stroops\n", v))
	}
	if v := getString(m, "hash"); v != "" {
		sb.WriteString(fmt.Sprintf("  Hash: %s\n", v))
	}
	sb.WriteString(fmt.Sprintf("  XDR: %s\n", xdr))
	return sb.String(), nil
}

func formatHistory(raw json.RawMessage) (string, error) {
	var resp struct {
		WalletAddress string           `json:"walletAddress"`
		Entries       []map[string]any `json:"entries"`
		NextCursor    string           `json:"nextCursor"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Entries) == 0 {
		return "No history recorded.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("History for %s (%d entries):\n", resp.WalletAddress, len(resp.Entries)))
	for _, e := range resp.Entries {
		sb.WriteString(fmt.Sprintf("- %s %s [%s]", getString(e, "createdAt"), getString(e, "kind"), getString(e, "status")))
		if v := getString(e, "strategy"); v != "" {
			sb.WriteString(" via " + v)
		}
		if v := getString(e, "transactionHash"); v != "" {
			sb.WriteString(" tx " + v)
		}
		if v := getString(e, "error"); v != "" {
			sb.WriteString(" error: " + v)
		}
		sb.WriteString("\n")
	}
	if resp.NextCursor != "" {
		sb.WriteString(fmt.Sprintf("More entries available; cursor: %s\n", resp.NextCursor))
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
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
			switch n := v.(type) {
			case float64:
				return n, true
			case int:
				return float64(n), true
			}
		}
	}
	return 0, false
}
