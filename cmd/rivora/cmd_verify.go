package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rivora/rivora/internal/config"
	"github.com/rivora/rivora/internal/persistence"
	"github.com/rivora/rivora/internal/soroban"
	"github.com/rivora/rivora/internal/stellar"
	"github.com/rivora/rivora/internal/validation"
)

var verifyFlags struct {
	json bool
}

var verifyCmd = &cobra.Command{
	Use:   "verify <address>",
	Short: "Read the scores a wallet has stored on the ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyFlags.json, "json", false, "Print the verification as JSON")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cmd)

	ledger := newHorizon(cfg)
	network := cfg.StellarNetwork()
	fee := uint32(cfg.BaseFee)
	var strategy persistence.Strategy = persistence.NewNativeStrategy(ledger, network, fee)

	if cfg.ContractEnabled() {
		id, err := stellar.ParseContractID(cfg.ContractID)
		if err != nil {
			return err
		}
		rpc, err := soroban.Dial(ctx, cfg.SorobanRPCURL)
		switch {
		case err == nil:
			defer rpc.Close()
			contract := persistence.NewContractStrategy(ledger, rpc, id, network, fee)
			if cfg.PersistenceMode == config.PersistenceContract {
				strategy = contract
			} else {
				strategy = persistence.NewFallback(contract, strategy, nil, logger)
			}
		case cfg.PersistenceMode == config.PersistenceContract:
			return fmt.Errorf("soroban rpc: %w", err)
		default:
			logger.Warn("soroban rpc unavailable, reading account data only", "error", err)
		}
	}

	svc := persistence.NewService(strategy, ledger, network, persistence.WithLogger(logger))
	address := validation.SanitizeAddress(args[0])
	v, err := svc.VerifyOnChain(ctx, address)
	if err != nil {
		return err
	}
	if verifyFlags.json {
		return writeJSON(cmd.OutOrStdout(), v)
	}

	out := cmd.OutOrStdout()
	if !v.Verified {
		fmt.Fprintf(out, "No scores stored for %s on %s\n", address, network)
		return nil
	}
	fmt.Fprintf(out, "Wallet:        %s\n", address)
	fmt.Fprintf(out, "Stored via:    %s\n", v.Strategy)
	fmt.Fprintf(out, "Trust rating:  %.2f\n", v.Record.TrustRating)
	fmt.Fprintf(out, "Health score:  %.2f\n", v.Record.HealthScore)
	fmt.Fprintf(out, "User type:     %s\n", v.Record.UserType)
	fmt.Fprintf(out, "Saved:         %s\n", v.Record.Timestamp.Format(time.RFC3339))
	return nil
}
