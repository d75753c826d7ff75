// Package model owns the learned risk and health regressors.
//
// A Registry starts Empty. EnsureLoaded pulls samples from a SampleSource,
// trains both networks and moves to Loaded; concurrent callers share one
// in-flight load. A failed load leaves the registry Empty and scoring falls
// back to the rule scorer.
package model

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rivora/rivora/internal/features"
)

// State is the registry lifecycle state.
type State int32

const (
	StateEmpty State = iota
	StateLoading
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// SampleSource supplies training samples.
type SampleSource interface {
	Samples(ctx context.Context) ([]Sample, error)
}

// Registry holds zero or two trained models.
type Registry struct {
	source SampleSource
	cfg    TrainConfig
	logger *slog.Logger

	mu       sync.RWMutex
	models   *pair
	report   *Report
	loadedAt time.Time

	state atomic.Int32
	runs  atomic.Int64
	group singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithTrainConfig overrides the training configuration.
func WithTrainConfig(cfg TrainConfig) Option {
	return func(r *Registry) { r.cfg = cfg }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry. source may be nil, in which case
// only explicit Train calls can load models.
func NewRegistry(source SampleSource, opts ...Option) *Registry {
	r := &Registry{
		source: source,
		cfg:    DefaultTrainConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current lifecycle state.
func (r *Registry) State() State {
	return State(r.state.Load())
}

// TrainingRuns returns how many training runs have started.
func (r *Registry) TrainingRuns() int64 {
	return r.runs.Load()
}

// LastReport returns the report of the currently loaded models, if any.
func (r *Registry) LastReport() (*Report, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.report, r.loadedAt
}

// EnsureLoaded loads the models if they are not loaded yet. Concurrent
// callers wait on the same load. It reports whether models are loaded.
func (r *Registry) EnsureLoaded(ctx context.Context) (bool, error) {
	if r.State() == StateLoaded {
		return true, nil
	}

	ch := r.group.DoChan("load", func() (interface{}, error) {
		// The load outlives any single caller.
		return nil, r.load(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return r.State() == StateLoaded, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (r *Registry) load(ctx context.Context) error {
	if r.State() == StateLoaded {
		return nil
	}
	if r.source == nil {
		return &TrainingError{Op: "load", Err: ErrNoDataset}
	}

	r.state.Store(int32(StateLoading))

	samples, err := r.source.Samples(ctx)
	if err != nil {
		r.state.Store(int32(StateEmpty))
		observeTraining("source_error")
		r.logger.Warn("model samples unavailable, using rule scoring", "error", err)
		return &TrainingError{Op: "load", Err: err}
	}

	if _, err := r.Train(samples); err != nil {
		return err
	}
	return nil
}

// Train fits both models on samples and installs them. On failure the
// previously loaded models stay in place, or the registry is left Empty.
func (r *Registry) Train(samples []Sample) (*Report, error) {
	r.runs.Add(1)
	r.state.Store(int32(StateLoading))
	start := time.Now()

	models, rep, err := train(samples, r.cfg)
	if err != nil {
		// the previous pair keeps serving until a retrain succeeds
		r.mu.RLock()
		kept := r.models != nil
		r.mu.RUnlock()
		if kept {
			r.state.Store(int32(StateLoaded))
		} else {
			r.state.Store(int32(StateEmpty))
		}
		observeTraining("failure")
		r.logger.Warn("model training failed", "error", err, "samples", len(samples), "kept_previous", kept)
		return nil, err
	}

	r.mu.Lock()
	r.models = models
	r.report = &rep
	r.loadedAt = time.Now()
	r.mu.Unlock()
	r.state.Store(int32(StateLoaded))

	observeTraining("success")
	ModelTrainingDuration.Observe(time.Since(start).Seconds())
	r.logger.Info("models trained",
		"samples", rep.Samples,
		"train", rep.TrainSize,
		"validation", rep.ValidationSize,
		"risk_val_loss", rep.Risk.ValidationLoss,
		"health_val_loss", rep.Health.ValidationLoss,
	)
	return &rep, nil
}

// Predict returns risk and health scores in [0,100]. ok is false when no
// models are loaded.
func (r *Registry) Predict(v features.Vector) (risk, health float64, ok bool) {
	r.mu.RLock()
	models := r.models
	r.mu.RUnlock()

	if models == nil {
		return 0, 0, false
	}
	risk, health = models.predict(v)
	return risk, health, true
}

// Reset discards both models.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.models, r.report = nil, nil
	r.loadedAt = time.Time{}
	r.mu.Unlock()
	r.state.Store(int32(StateEmpty))
}
