// Package scoring turns an account snapshot into risk and health scores and
// a behavioral user type. The learned models are tried first; the rule
// scorer answers whenever they cannot.
package scoring

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/rivora/rivora/internal/behavior"
	"github.com/rivora/rivora/internal/features"
	"github.com/rivora/rivora/internal/model"
	"github.com/rivora/rivora/internal/rules"
)

// Method records which scorer produced a ScorePair.
type Method string

const (
	MethodRule  Method = "rule"
	MethodModel Method = "model"
)

// Data quality labels.
const (
	QualityHigh   = "high"
	QualityMedium = "medium"
	QualityLow    = "low"
)

// ScorePair is a risk and health score on a 0-100 scale.
type ScorePair struct {
	Risk   float64 `json:"risk"`
	Health float64 `json:"health"`
	Method Method  `json:"method"`
}

// Result is everything computed for one account.
type Result struct {
	Address     string            `json:"walletAddress"`
	Scores      ScorePair         `json:"scores"`
	UserType    behavior.UserType `json:"userType"`
	Profile     behavior.Profile  `json:"profile"`
	Features    features.Vector   `json:"features"`
	Metrics     rules.Metrics     `json:"metrics"`
	Components  rules.Components  `json:"components"`
	DataQuality string            `json:"dataQuality"`
	ComputedAt  time.Time         `json:"computedAt"`
}

// UserTypeScore is the mean of risk and health, rounded.
func (r *Result) UserTypeScore() int {
	return int(math.Round((r.Scores.Risk + r.Scores.Health) / 2))
}

// Predictor is the learned-model surface the orchestrator uses.
type Predictor interface {
	EnsureLoaded(ctx context.Context) (bool, error)
	Predict(v features.Vector) (risk, health float64, ok bool)
	State() model.State
}

var _ Predictor = (*model.Registry)(nil)

// Orchestrator combines the model registry, the rule scorer and the
// behavior classifier.
type Orchestrator struct {
	predictor Predictor
	rules     *rules.Scorer
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator. predictor may be nil for
// rule-only scoring.
func NewOrchestrator(predictor Predictor, scorer *rules.Scorer, logger *slog.Logger) *Orchestrator {
	if scorer == nil {
		scorer = rules.NewScorer(rules.GasFixed)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		predictor: predictor,
		rules:     scorer,
		logger:    logger,
		now:       time.Now,
	}
}

// ModelState reports the predictor state, or Empty without one.
func (o *Orchestrator) ModelState() model.State {
	if o.predictor == nil {
		return model.StateEmpty
	}
	return o.predictor.State()
}

// Score computes the full result for s. It never fails: a model that
// cannot load or predict leaves the rule scorer in charge.
func (o *Orchestrator) Score(ctx context.Context, s *features.Snapshot) *Result {
	if s == nil {
		s = &features.Snapshot{}
	}
	vec := features.Extract(s)
	m := features.MetricsFrom(s, vec)
	ruled := o.rules.Score(m)
	profile := behavior.ProfileFrom(s)

	res := &Result{
		Address:     s.Address,
		Scores:      ScorePair{Risk: ruled.Risk, Health: ruled.Health, Method: MethodRule},
		UserType:    behavior.Classify(profile),
		Profile:     profile,
		Features:    vec,
		Metrics:     m,
		Components:  ruled.Components,
		DataQuality: dataQuality(s),
		ComputedAt:  o.now().UTC(),
	}

	if risk, health, ok := o.predict(ctx, vec); ok {
		res.Scores = ScorePair{Risk: risk, Health: health, Method: MethodModel}
	}
	res.Scores.Risk = round2(res.Scores.Risk)
	res.Scores.Health = round2(res.Scores.Health)
	return res
}

func (o *Orchestrator) predict(ctx context.Context, v features.Vector) (float64, float64, bool) {
	if o.predictor == nil {
		return 0, 0, false
	}
	if _, err := o.predictor.EnsureLoaded(ctx); err != nil {
		o.logger.Debug("models unavailable, using rule scorer", "error", err)
		return 0, 0, false
	}
	return o.predictor.Predict(v)
}

// dataQuality grades how much of the account the snapshot covers.
func dataQuality(s *features.Snapshot) string {
	switch {
	case s.Found && len(s.Transactions) > 0 && len(s.Balances) > 0:
		return QualityHigh
	case s.Found:
		return QualityMedium
	default:
		return QualityLow
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
