package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Rivora MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolScoreWallet = mcp.NewTool("score_wallet",
	mcp.WithDescription(
		"Compute the reputation of a Stellar wallet from its on-ledger activity. "+
			"Returns a trust (risk) rating and a health score on a 0-100 scale, "+
			"the behavioral user type (Trader, Explorer, Optimizer or Passive), "+
			"and the sub-scores behind them."),
	mcp.WithString("wallet_address",
		mcp.Required(),
		mcp.Description("Stellar account address (G... 56 characters)")),
)

var ToolBatchScore = mcp.NewTool("batch_score_wallets",
	mcp.WithDescription(
		"Score up to 50 Stellar wallets at once. "+
			"Invalid addresses are reported per wallet and do not fail the batch."),
	mcp.WithArray("wallet_addresses",
		mcp.Required(),
		mcp.Description("List of Stellar account addresses"),
		mcp.WithStringItems()),
)

var ToolVerifyScores = mcp.NewTool("verify_scores",
	mcp.WithDescription(
		"Read the scores a wallet has stored on the Stellar ledger. "+
			"Use this to check whether a wallet's reputation was persisted and what it says."),
	mcp.WithString("wallet_address",
		mcp.Required(),
		mcp.Description("Stellar account address (G... 56 characters)")),
)

var ToolPrepareSave = mcp.NewTool("prepare_save_scores",
	mcp.WithDescription(
		"Build an unsigned Stellar transaction that stores scores on the wallet's account or in the scores contract. "+
			"The returned XDR must be signed by the wallet owner; this tool never submits anything."),
	mcp.WithString("wallet_address",
		mcp.Required(),
		mcp.Description("Stellar account address that will sign and pay for the transaction")),
	mcp.WithNumber("trust_rating",
		mcp.Required(),
		mcp.Description("Trust rating between 0 and 100")),
	mcp.WithNumber("health_score",
		mcp.Required(),
		mcp.Description("Health score between 0 and 100")),
	mcp.WithString("user_type",
		mcp.Required(),
		mcp.Description("Behavioral user type"),
		mcp.Enum("Trader", "Explorer", "Optimizer", "Passive")),
)

var ToolScoreHistory = mcp.NewTool("score_history",
	mcp.WithDescription(
		"List the save drafts and submissions recorded for a wallet, newest first."),
	mcp.WithString("wallet_address",
		mcp.Required(),
		mcp.Description("Stellar account address (G... 56 characters)")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of entries to return (default 20)")),
	mcp.WithString("cursor",
		mcp.Description("Cursor from a previous call, to fetch older entries")),
)

var ToolServiceStatus = mcp.NewTool("service_status",
	mcp.WithDescription(
		"Get the Rivora service status: network, persistence mode and whether the learned models are loaded."),
)
