package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rivora/rivora/internal/horizon"
	"github.com/rivora/rivora/internal/model"
	"github.com/rivora/rivora/internal/rules"
	"github.com/rivora/rivora/internal/scoring"
	"github.com/rivora/rivora/internal/validation"
)

var scoreFlags struct {
	json      bool
	rulesOnly bool
}

var scoreCmd = &cobra.Command{
	Use:   "score <address>",
	Short: "Score a wallet in process",
	Args:  cobra.ExactArgs(1),
	RunE:  runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.BoolVar(&scoreFlags.json, "json", false, "Print the full result as JSON")
	f.BoolVar(&scoreFlags.rulesOnly, "rules-only", false, "Skip the learned models")
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cmd)

	var predictor scoring.Predictor
	if !scoreFlags.rulesOnly {
		predictor = model.NewRegistry(model.NewFileSource(cfg.TrainingDataPath), model.WithLogger(logger))
	}
	mode, _ := rules.ParseGasMode(cfg.GasMode)
	orch := scoring.NewOrchestrator(predictor, rules.NewScorer(mode), logger)
	svc := scoring.NewService(horizon.NewSnapshotSource(newHorizon(cfg), horizon.DefaultPageLimit), orch, logger)

	res, err := svc.ScoreAccount(cmd.Context(), validation.SanitizeAddress(args[0]))
	if err != nil {
		return err
	}
	if scoreFlags.json {
		return writeJSON(cmd.OutOrStdout(), res)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wallet:        %s\n", res.Address)
	fmt.Fprintf(out, "Trust rating:  %.2f\n", res.Scores.Risk)
	fmt.Fprintf(out, "Health score:  %.2f\n", res.Scores.Health)
	fmt.Fprintf(out, "User type:     %s (%d)\n", res.UserType, res.UserTypeScore())
	fmt.Fprintf(out, "Method:        %s\n", res.Scores.Method)
	fmt.Fprintf(out, "Data quality:  %s\n", res.DataQuality)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
