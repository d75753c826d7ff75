package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rivora/rivora/internal/config"
	"github.com/rivora/rivora/internal/model"
)

var trainFlags struct {
	data    string
	epochs  int
	seed    int64
	preview int
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the risk and health models and report their loss",
	Args:  cobra.NoArgs,
	RunE:  runTrain,
}

func init() {
	f := trainCmd.Flags()
	f.StringVar(&trainFlags.data, "data", config.DefaultTrainingDataPath, "Training dataset (JSON array of samples)")
	f.IntVar(&trainFlags.epochs, "epochs", 0, "Training epochs (0 uses the default)")
	f.Int64Var(&trainFlags.seed, "seed", 0, "Random seed (0 uses the default)")
	f.IntVar(&trainFlags.preview, "preview", 5, "Number of sample predictions to print")
}

func runTrain(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	samples, err := model.NewFileSource(trainFlags.data).Samples(ctx)
	if err != nil {
		return err
	}

	tc := model.DefaultTrainConfig()
	if trainFlags.epochs > 0 {
		tc.Epochs = trainFlags.epochs
	}
	if trainFlags.seed != 0 {
		tc.Seed = trainFlags.seed
	}

	reg := model.NewRegistry(model.StaticSource(samples),
		model.WithTrainConfig(tc),
		model.WithLogger(newLogger(cmd)),
	)
	rep, err := reg.Train(samples)
	if errors.Is(err, model.ErrInsufficientSamples) {
		return fmt.Errorf("%s has %d samples, need at least %d", trainFlags.data, len(samples), model.MinSamples)
	}
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Samples:  %d (train %d, validation %d)\n", rep.Samples, rep.TrainSize, rep.ValidationSize)
	fmt.Fprintf(out, "Epochs:   %d\n", rep.Epochs)
	fmt.Fprintf(out, "Risk:     train loss %.4f, validation loss %.4f\n", rep.Risk.TrainLoss, rep.Risk.ValidationLoss)
	fmt.Fprintf(out, "Health:   train loss %.4f, validation loss %.4f\n", rep.Health.TrainLoss, rep.Health.ValidationLoss)

	n := min(trainFlags.preview, len(samples))
	if n <= 0 {
		return nil
	}
	fmt.Fprintf(out, "Predictions:\n")
	for i, s := range samples[:n] {
		risk, health, _ := reg.Predict(s.Features)
		fmt.Fprintf(out, "  #%d  risk %6.2f (label %6.2f)  health %6.2f (label %6.2f)\n",
			i+1, risk, s.RiskScore, health, s.HealthScore)
	}
	return nil
}
