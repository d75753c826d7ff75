// Package rules implements the deterministic risk and health scorer.
//
// Risk answers "how safe is it to deal with this account" and is built from
// account age, activity, routing behavior and the trustworthiness of held
// assets. Health answers "how well balanced is this portfolio" and is built
// from diversity, concentration, asset maturity, volatility exposure and fee
// efficiency. Every sub-score is on a 0-100 scale.
package rules

import (
	"fmt"
	"math"
)

// Metrics are the raw inputs to the rule scorer.
type Metrics struct {
	AccountAgeDays   float64 `json:"accountAgeDays"`
	TransactionCount int     `json:"transactionCount"`
	PathPaymentRatio float64 `json:"pathPaymentRatio"`
	SuccessRatio     float64 `json:"successRatio"`
	BalanceLines     int     `json:"balanceLines"`
	TrustedRatio     float64 `json:"trustedRatio"`
	Concentration    float64 `json:"concentration"` // HHI, 0-1
	AverageFee       float64 `json:"averageFee"`    // stroops per transaction
}

// Components breaks both scores down into their sub-scores.
type Components struct {
	WalletAge     float64 `json:"walletAge"`
	TxFrequency   float64 `json:"txFrequency"`
	SecureUsage   float64 `json:"secureUsage"`
	TokenTrust    float64 `json:"tokenTrust"`
	Diversity     float64 `json:"diversity"`
	Concentration float64 `json:"concentration"`
	TokenAge      float64 `json:"tokenAge"`
	Volatility    float64 `json:"volatility"`
	GasEfficiency float64 `json:"gasEfficiency"`
}

// Result is the output of a scoring run.
type Result struct {
	Risk       float64    `json:"risk"`
	Health     float64    `json:"health"`
	Components Components `json:"components"`
}

// GasMode selects how the fee-efficiency sub-score is derived.
type GasMode string

const (
	// GasFixed scores fee efficiency as a constant; Stellar base fees are negligible.
	GasFixed GasMode = "fixed"
	// GasLegacy scores fee efficiency from the average fee actually paid.
	GasLegacy GasMode = "legacy"
)

// ParseGasMode validates a configured gas mode.
func ParseGasMode(s string) (GasMode, error) {
	switch GasMode(s) {
	case GasFixed, "":
		return GasFixed, nil
	case GasLegacy:
		return GasLegacy, nil
	default:
		return "", fmt.Errorf("rules: unknown gas mode %q", s)
	}
}

// Weights for both weighted sums. Each group must sum to 1.0.
type Weights struct {
	WalletAge   float64
	TxFrequency float64
	SecureUsage float64
	TokenTrust  float64

	Diversity     float64
	Concentration float64
	TokenAge      float64
	Volatility    float64
	GasEfficiency float64
}

// DefaultWeights are the production weights.
var DefaultWeights = Weights{
	WalletAge:   0.25,
	TxFrequency: 0.20,
	SecureUsage: 0.20,
	TokenTrust:  0.35,

	Diversity:     0.30,
	Concentration: 0.25,
	TokenAge:      0.15,
	Volatility:    0.20,
	GasEfficiency: 0.10,
}

const (
	neutralScore     = 50.0
	fixedGasScore    = 70.0
	minConcentration = 30.0
)

// Scorer computes rule-based scores. It holds no mutable state.
type Scorer struct {
	weights Weights
	gasMode GasMode
}

// NewScorer creates a scorer with the default weights.
func NewScorer(mode GasMode) *Scorer {
	return NewScorerWithWeights(DefaultWeights, mode)
}

// NewScorerWithWeights creates a scorer with custom weights.
func NewScorerWithWeights(w Weights, mode GasMode) *Scorer {
	if mode == "" {
		mode = GasFixed
	}
	return &Scorer{weights: w, gasMode: mode}
}

// GasMode reports the configured fee-efficiency mode.
func (s *Scorer) GasMode() GasMode { return s.gasMode }

// Score computes both scores and their breakdown.
func (s *Scorer) Score(m Metrics) Result {
	comp := s.Components(m)
	return Result{
		Risk:       s.risk(comp),
		Health:     s.health(comp),
		Components: comp,
	}
}

// Risk computes the risk score alone.
func (s *Scorer) Risk(m Metrics) float64 {
	return s.risk(s.Components(m))
}

// Health computes the health score alone.
func (s *Scorer) Health(m Metrics) float64 {
	return s.health(s.Components(m))
}

// Components computes every sub-score for m.
func (s *Scorer) Components(m Metrics) Components {
	empty := m.BalanceLines <= 0
	return Components{
		WalletAge:     walletAgeScore(m.AccountAgeDays),
		TxFrequency:   txFrequencyScore(m.TransactionCount),
		SecureUsage:   secureUsageScore(m.PathPaymentRatio, m.SuccessRatio),
		TokenTrust:    tokenTrustScore(m.TrustedRatio, empty),
		Diversity:     diversityScore(m.BalanceLines),
		Concentration: concentrationScore(m.Concentration, empty),
		TokenAge:      tokenAgeScore(m.TrustedRatio, empty),
		Volatility:    volatilityScore(m.TrustedRatio, empty),
		GasEfficiency: s.gasScore(m),
	}
}

func (s *Scorer) risk(c Components) float64 {
	w := s.weights
	score := w.WalletAge*orNeutral(c.WalletAge) +
		w.TxFrequency*orNeutral(c.TxFrequency) +
		w.SecureUsage*orNeutral(c.SecureUsage) +
		w.TokenTrust*orNeutral(c.TokenTrust)
	return clamp(score, 0, 100)
}

func (s *Scorer) health(c Components) float64 {
	w := s.weights
	score := w.Diversity*orNeutral(c.Diversity) +
		w.Concentration*orNeutral(c.Concentration) +
		w.TokenAge*orNeutral(c.TokenAge) +
		w.Volatility*orNeutral(c.Volatility) +
		w.GasEfficiency*orNeutral(c.GasEfficiency)
	return clamp(score, 0, 100)
}

// -----------------------------------------------------------------------------
// Sub-scores
// -----------------------------------------------------------------------------

func walletAgeScore(days float64) float64 {
	switch {
	case days < 30:
		return 20
	case days < 90:
		return 40
	case days < 365:
		return 60
	case days < 1095:
		return 80
	default:
		return 100
	}
}

func txFrequencyScore(count int) float64 {
	switch {
	case count <= 0:
		return 10
	case count < 10:
		return 20
	case count < 50:
		return 40
	case count < 200:
		return 60
	case count < 500:
		return 80
	default:
		return 100
	}
}

func secureUsageScore(pathRatio, successRatio float64) float64 {
	return math.Min(100, neutralScore+clamp(pathRatio, 0, 1)*30+clamp(successRatio, 0, 1)*20)
}

func tokenTrustScore(ratio float64, empty bool) float64 {
	if empty {
		return 30
	}
	return 30 + clamp(ratio, 0, 1)*70
}

func diversityScore(lines int) float64 {
	switch {
	case lines <= 1:
		return 30
	case lines < 5:
		return 50
	case lines < 10:
		return 70
	case lines < 20:
		return 85
	default:
		return 100
	}
}

func concentrationScore(hhi float64, empty bool) float64 {
	if empty {
		return neutralScore
	}
	return clamp((1-hhi)*100, minConcentration, 100)
}

func tokenAgeScore(ratio float64, empty bool) float64 {
	if empty {
		return neutralScore
	}
	return 30 + clamp(ratio, 0, 1)*70
}

func volatilityScore(ratio float64, empty bool) float64 {
	if empty {
		return neutralScore
	}
	return 20 + clamp(ratio, 0, 1)*80
}

func (s *Scorer) gasScore(m Metrics) float64 {
	if s.gasMode != GasLegacy {
		return fixedGasScore
	}
	if m.TransactionCount <= 0 {
		return neutralScore
	}
	fee := m.AverageFee
	switch {
	case math.IsNaN(fee):
		return math.NaN()
	case fee < 50000:
		return 90
	case fee < 100000:
		return 70
	case fee < 200000:
		return 50
	case fee < 500000:
		return 30
	default:
		return 10
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func orNeutral(v float64) float64 {
	if math.IsNaN(v) {
		return neutralScore
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	return math.Max(lo, math.Min(hi, v))
}
