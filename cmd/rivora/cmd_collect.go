package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rivora/rivora/internal/config"
	"github.com/rivora/rivora/internal/features"
	"github.com/rivora/rivora/internal/horizon"
	"github.com/rivora/rivora/internal/model"
	"github.com/rivora/rivora/internal/retry"
	"github.com/rivora/rivora/internal/rules"
	"github.com/rivora/rivora/internal/validation"
)

var collectFlags struct {
	out         string
	appendTo    bool
	limit       int
	concurrency int
}

var collectCmd = &cobra.Command{
	Use:   "collect <address>...",
	Short: "Fetch wallets and write rule-labeled training samples",
	Long: "collect builds training samples from live wallets. Each sample is\n" +
		"labeled with the rule scorer's risk and health scores.",
	Args: cobra.MinimumNArgs(1),
	RunE: runCollect,
}

func init() {
	f := collectCmd.Flags()
	f.StringVarP(&collectFlags.out, "out", "o", config.DefaultTrainingDataPath, "Dataset file to write")
	f.BoolVar(&collectFlags.appendTo, "append", false, "Keep the samples already in the dataset")
	f.IntVar(&collectFlags.limit, "limit", horizon.DefaultPageLimit, "Transactions and operations fetched per wallet")
	f.IntVar(&collectFlags.concurrency, "concurrency", 4, "Wallets fetched in parallel")
}

func runCollect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cmd)
	mode, _ := rules.ParseGasMode(cfg.GasMode)
	scorer := rules.NewScorer(mode)
	// collection runs offline; transient Horizon failures are retried
	src := horizon.NewSnapshotSource(newHorizon(cfg, horizon.WithRetry(retry.Default)), collectFlags.limit)

	for _, a := range args {
		if !validation.IsValidStellarAddress(validation.SanitizeAddress(a)) {
			return fmt.Errorf("%q is not a Stellar account address", a)
		}
	}

	collected := make([]*model.Sample, len(args))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(collectFlags.concurrency, 1))
	for i, a := range args {
		addr := validation.SanitizeAddress(a)
		g.Go(func() error {
			snap, err := src.Snapshot(gctx, addr)
			if err != nil {
				// one bad wallet should not sink the batch
				logger.Warn("skipping wallet", "wallet", addr, "error", err)
				return nil
			}
			s := labelSnapshot(snap, scorer)
			collected[i] = &s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var samples []model.Sample
	if collectFlags.appendTo {
		existing, err := model.NewFileSource(collectFlags.out).Samples(ctx)
		if err != nil && !errors.Is(err, model.ErrNoDataset) {
			return err
		}
		samples = existing
	}
	fresh := 0
	for _, s := range collected {
		if s != nil {
			samples = append(samples, *s)
			fresh++
		}
	}
	if fresh == 0 {
		return errors.New("no wallets could be fetched")
	}

	if err := model.WriteSamples(collectFlags.out, samples); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d samples (%d new) to %s\n", len(samples), fresh, collectFlags.out)
	return nil
}

// labelSnapshot turns a snapshot into a sample labeled by the rule scorer.
func labelSnapshot(snap *features.Snapshot, scorer *rules.Scorer) model.Sample {
	v := features.Extract(snap)
	res := scorer.Score(features.MetricsFrom(snap, v))
	return model.Sample{Features: v, RiskScore: res.Risk, HealthScore: res.Health}
}
