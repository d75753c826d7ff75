// Rivora - reputation scores for Stellar wallets
package main

import (
	"context"
	"os"

	"github.com/rivora/rivora/internal/config"
	"github.com/rivora/rivora/internal/logging"
	"github.com/rivora/rivora/internal/server"
	"github.com/rivora/rivora/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	traces.ServiceVersion = Version

	logger.Info("starting rivora",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"network", cfg.Network,
		"persistence_mode", cfg.PersistenceMode,
		"contract", cfg.ContractID != "",
	)

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
