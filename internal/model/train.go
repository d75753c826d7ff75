package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/rivora/rivora/internal/features"
)

// MinSamples is the smallest dataset the registry will train on.
const MinSamples = 5

var (
	ErrInsufficientSamples = errors.New("model: insufficient training samples")
	ErrNonFiniteLoss       = errors.New("model: training loss is not finite")
	ErrNoDataset           = errors.New("model: training dataset not found")
)

// TrainingError reports why a training run did not produce models.
type TrainingError struct {
	Op      string
	Samples int
	Err     error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("model: %s failed (%d samples): %v", e.Op, e.Samples, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

// Sample is one labeled training example. The JSON layout matches the
// collected dataset files.
type Sample struct {
	Features    features.Vector `json:"features"`
	RiskScore   float64         `json:"riskScore"`
	HealthScore float64         `json:"healthScore"`
}

// TrainConfig controls network shape and optimization.
type TrainConfig struct {
	Hidden          []int
	Dropout         float64
	LearningRate    float64
	Epochs          int
	MaxBatchSize    int
	ValidationSplit float64
	Seed            int64
}

// DefaultTrainConfig is the production configuration.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Hidden:          []int{16, 8},
		Dropout:         0.1,
		LearningRate:    0.01,
		Epochs:          100,
		MaxBatchSize:    32,
		ValidationSplit: 0.2,
		Seed:            42,
	}
}

// Stats summarizes one trained regressor.
type Stats struct {
	TrainLoss      float64 `json:"trainLoss"`
	ValidationLoss float64 `json:"validationLoss"`
}

// Report summarizes a training run.
type Report struct {
	Samples        int   `json:"samples"`
	TrainSize      int   `json:"trainSize"`
	ValidationSize int   `json:"validationSize"`
	Epochs         int   `json:"epochs"`
	Risk           Stats `json:"risk"`
	Health         Stats `json:"health"`
}

// pair is a loaded risk and health model. Both are always present.
type pair struct {
	risk   *network
	health *network
}

func (p *pair) predict(v features.Vector) (float64, float64) {
	in := v.ModelInput()
	return denormalize(p.risk.predict(in)), denormalize(p.health.predict(in))
}

// train fits both regressors on samples.
func train(samples []Sample, cfg TrainConfig) (*pair, Report, error) {
	rep := Report{Samples: len(samples), Epochs: cfg.Epochs}
	if len(samples) < MinSamples {
		return nil, rep, &TrainingError{Op: "train", Samples: len(samples), Err: ErrInsufficientSamples}
	}

	xs := make([][]float64, len(samples))
	risk := make([]float64, len(samples))
	health := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = s.Features.ModelInput()
		risk[i] = s.RiskScore / 100
		health[i] = s.HealthScore / 100
	}

	rng := rand.New(rand.NewSource(cfg.Seed)) // #nosec G404 -- weight init and shuffling, not security
	order := rng.Perm(len(samples))
	nVal := int(float64(len(samples)) * cfg.ValidationSplit)
	if nVal >= len(samples) {
		nVal = 0
	}
	trainIdx, valIdx := order[:len(order)-nVal], order[len(order)-nVal:]
	rep.TrainSize, rep.ValidationSize = len(trainIdx), len(valIdx)

	batch := len(samples)
	if batch > cfg.MaxBatchSize {
		batch = cfg.MaxBatchSize
	}

	riskNet, riskStats, err := fit(xs, risk, trainIdx, valIdx, batch, cfg, rng)
	if err != nil {
		return nil, rep, &TrainingError{Op: "train risk", Samples: len(samples), Err: err}
	}
	healthNet, healthStats, err := fit(xs, health, trainIdx, valIdx, batch, cfg, rng)
	if err != nil {
		return nil, rep, &TrainingError{Op: "train health", Samples: len(samples), Err: err}
	}
	rep.Risk, rep.Health = riskStats, healthStats

	return &pair{risk: riskNet, health: healthNet}, rep, nil
}

func fit(xs [][]float64, ys []float64, trainIdx, valIdx []int, batch int, cfg TrainConfig, rng *rand.Rand) (*network, Stats, error) {
	sizes := append([]int{features.ModelInputSize}, cfg.Hidden...)
	sizes = append(sizes, 1)
	net := newNetwork(sizes, cfg.Dropout, rng)
	opt := newAdam(cfg.LearningRate)

	idx := make([]int, len(trainIdx))
	copy(idx, trainIdx)

	var stats Stats
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		var epochLoss float64
		var batches int
		for start := 0; start < len(idx); start += batch {
			end := start + batch
			if end > len(idx) {
				end = len(idx)
			}
			bx := make([][]float64, 0, end-start)
			by := make([]float64, 0, end-start)
			for _, k := range idx[start:end] {
				bx = append(bx, xs[k])
				by = append(by, ys[k])
			}
			epochLoss += net.trainBatch(bx, by, opt, rng)
			batches++
		}
		stats.TrainLoss = epochLoss / float64(batches)
		if math.IsNaN(stats.TrainLoss) || math.IsInf(stats.TrainLoss, 0) {
			return nil, stats, ErrNonFiniteLoss
		}
	}

	if len(valIdx) > 0 {
		var loss float64
		for _, k := range valIdx {
			d := net.predict(xs[k]) - ys[k]
			loss += d * d
		}
		stats.ValidationLoss = loss / float64(len(valIdx))
	}

	return net, stats, nil
}

func denormalize(y float64) float64 {
	if math.IsNaN(y) {
		return 50
	}
	return math.Max(0, math.Min(100, y*100))
}
