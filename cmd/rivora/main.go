// rivora is the operator CLI: train, collect, score and verify.
//
// Usage:
//
//	rivora train [--data=<path>] [--epochs=<n>]
//	rivora collect <address>... [--out=<path>] [--append]
//	rivora score <address> [--json] [--rules-only]
//	rivora verify <address> [--json]
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rivora/rivora/internal/config"
	"github.com/rivora/rivora/internal/horizon"
	"github.com/rivora/rivora/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	network  string
	logLevel string
}

var rootCmd = &cobra.Command{
	Use:   "rivora",
	Short: "Reputation scoring for Stellar wallets",
	Long: "Rivora scores Stellar wallets from their on-ledger activity\n" +
		"and stores the results on the ledger for later verification.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.network, "network", "", "Stellar network, testnet or public (overrides STELLAR_NETWORK)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "warn", "Diagnostic log level, written to stderr")

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment, applying --network first so the
// network-dependent defaults follow it.
func loadConfig() (*config.Config, error) {
	if rootFlags.network != "" {
		if err := os.Setenv("STELLAR_NETWORK", rootFlags.network); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	return logging.NewWriter(cmd.ErrOrStderr(), rootFlags.logLevel, "text")
}

func newHorizon(cfg *config.Config, opts ...horizon.Option) *horizon.Client {
	return horizon.NewClient(cfg.ActiveHorizonURL(), opts...)
}
