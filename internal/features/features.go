// Package features converts a Stellar account snapshot into the fixed-order
// feature vector consumed by the rule scorer and the learned models.
package features

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rivora/rivora/internal/rules"
)

// Caps applied during extraction. ModelInput divides by the same values.
const (
	MaxAccountAgeDays = 3650
	MaxTransactions   = 10000
	MaxFrequency      = 1000
	MaxAssetCount     = 50
)

// ModelInputSize is the width of ModelInput.
const ModelInputSize = 9

// NativeAssetType is Horizon's asset_type for lumens.
const NativeAssetType = "native"

// TrustedAssets are the asset codes counted as trusted. Native balances count as XLM.
var TrustedAssets = map[string]bool{
	"XLM":  true,
	"USDC": true,
	"USDT": true,
}

// Path-payment operation types as reported by Horizon.
var pathPaymentTypes = map[string]bool{
	"path_payment":                true,
	"path_payment_strict_send":    true,
	"path_payment_strict_receive": true,
}

// Balance is one balance line of an account.
type Balance struct {
	AssetType   string  `json:"assetType"`
	AssetCode   string  `json:"assetCode,omitempty"`
	AssetIssuer string  `json:"assetIssuer,omitempty"`
	Amount      float64 `json:"amount"`
}

// Code returns the asset code, treating the native asset as XLM.
func (b Balance) Code() string {
	if b.AssetType == NativeAssetType || b.AssetCode == "" {
		return "XLM"
	}
	return b.AssetCode
}

// IsNative reports whether the balance holds lumens.
func (b Balance) IsNative() bool { return b.AssetType == NativeAssetType }

// Trusted reports whether the asset belongs to the trusted set.
func (b Balance) Trusted() bool { return TrustedAssets[b.Code()] }

// Transaction is the subset of a ledger transaction used for scoring.
type Transaction struct {
	Hash           string    `json:"hash"`
	CreatedAt      time.Time `json:"createdAt"`
	FeeCharged     int64     `json:"feeCharged"`
	OperationCount int       `json:"operationCount"`
	Successful     bool      `json:"successful"`
}

// Operation is the subset of a ledger operation used for scoring.
type Operation struct {
	Type       string    `json:"type"`
	CreatedAt  time.Time `json:"createdAt"`
	Successful bool      `json:"successful"`
}

// Snapshot is an account's activity as fetched for one scoring request.
// A zero Snapshot describes an account with no activity at all.
type Snapshot struct {
	Address        string        `json:"address"`
	Found          bool          `json:"found"`
	AccountAgeDays float64       `json:"accountAgeDays"`
	Balances       []Balance     `json:"balances"`
	Transactions   []Transaction `json:"transactions"`
	Operations     []Operation   `json:"operations"`
}

// Empty returns the default snapshot used for accounts that do not exist.
func Empty(address string) *Snapshot {
	return &Snapshot{Address: address}
}

// SnapshotSource fetches account snapshots. Implementations return a
// default snapshot with Found=false for accounts that do not exist.
type SnapshotSource interface {
	Snapshot(ctx context.Context, address string) (*Snapshot, error)
}

// Vector is the fixed-order feature vector. Field order matches training order.
type Vector struct {
	AccountAgeDays         float64 `json:"accountAgeDays"`
	TotalTransactions      float64 `json:"totalTransactions"`
	TransactionFrequency   float64 `json:"transactionFrequency"`
	PathPaymentRatio       float64 `json:"pathPaymentRatio"`
	AssetCount             float64 `json:"assetCount"`
	PortfolioConcentration float64 `json:"portfolioConcentration"`
	TrustedAssetRatio      float64 `json:"trustedAssetRatio"`
	SuccessRate            float64 `json:"successRate"`
}

// ModelInput returns the normalized model input. The ninth value is the
// diversification complement 1-HHI.
func (v Vector) ModelInput() []float64 {
	return []float64{
		v.AccountAgeDays / MaxAccountAgeDays,
		v.TotalTransactions / MaxTransactions,
		v.TransactionFrequency / MaxFrequency,
		v.PathPaymentRatio,
		v.AssetCount / MaxAssetCount,
		v.PortfolioConcentration,
		1 - v.PortfolioConcentration,
		v.TrustedAssetRatio,
		v.SuccessRate,
	}
}

// Extract computes the feature vector for s. A nil snapshot yields the
// default vector.
func Extract(s *Snapshot) Vector {
	if s == nil {
		s = &Snapshot{}
	}

	age := clamp(finite(s.AccountAgeDays), 0, MaxAccountAgeDays)
	count := len(s.Transactions)

	return Vector{
		AccountAgeDays:         age,
		TotalTransactions:      math.Min(float64(count), MaxTransactions),
		TransactionFrequency:   clamp(frequency(s.Transactions, age), 0, MaxFrequency),
		PathPaymentRatio:       pathPaymentRatio(s.Operations),
		AssetCount:             clamp(float64(len(s.Balances)-1), 0, MaxAssetCount),
		PortfolioConcentration: Concentration(s.Balances),
		TrustedAssetRatio:      TrustedRatio(s.Balances),
		SuccessRate:            successRate(count),
	}
}

// MetricsFrom derives the rule scorer inputs from the same snapshot the
// vector was extracted from.
func MetricsFrom(s *Snapshot, v Vector) rules.Metrics {
	if s == nil {
		s = &Snapshot{}
	}

	var successful int
	var fees int64
	for _, tx := range s.Transactions {
		if tx.Successful {
			successful++
		}
		fees += tx.FeeCharged
	}

	m := rules.Metrics{
		AccountAgeDays:   v.AccountAgeDays,
		TransactionCount: len(s.Transactions),
		PathPaymentRatio: v.PathPaymentRatio,
		BalanceLines:     len(s.Balances),
		TrustedRatio:     v.TrustedAssetRatio,
		Concentration:    v.PortfolioConcentration,
	}
	if n := len(s.Transactions); n > 0 {
		m.SuccessRatio = float64(successful) / float64(n)
		m.AverageFee = float64(fees) / float64(n)
	}
	return m
}

// Concentration is the Herfindahl-Hirschman index of the balances. Empty
// or zero-value portfolios are maximally concentrated.
func Concentration(balances []Balance) float64 {
	var total float64
	for _, b := range balances {
		if a := finite(b.Amount); a > 0 {
			total += a
		}
	}
	if total <= 0 {
		return 1.0
	}

	var hhi float64
	for _, b := range balances {
		if a := finite(b.Amount); a > 0 {
			p := a / total
			hhi += p * p
		}
	}
	return hhi
}

// TrustedRatio is the share of balance lines holding a trusted asset.
func TrustedRatio(balances []Balance) float64 {
	if len(balances) == 0 {
		return 0
	}
	var trusted int
	for _, b := range balances {
		if b.Trusted() {
			trusted++
		}
	}
	return float64(trusted) / float64(len(balances))
}

// MonthsSpan returns the span between the oldest and newest transaction in
// 30-day months, floored at one, and whether at least two distinct
// timestamps were present.
func MonthsSpan(txs []Transaction) (float64, bool) {
	if len(txs) < 2 {
		return 1, false
	}
	times := make([]time.Time, 0, len(txs))
	for _, tx := range txs {
		if !tx.CreatedAt.IsZero() {
			times = append(times, tx.CreatedAt)
		}
	}
	if len(times) < 2 {
		return 1, false
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	oldest, newest := times[0], times[len(times)-1]
	if oldest.Equal(newest) {
		return 1, false
	}
	months := newest.Sub(oldest).Hours() / 24 / 30
	return math.Max(months, 1), true
}

func frequency(txs []Transaction, ageDays float64) float64 {
	count := float64(len(txs))
	if span, ok := MonthsSpan(txs); ok {
		return count / span
	}
	if ageDays > 0 {
		return count / ageDays * 30
	}
	return 0
}

func pathPaymentRatio(ops []Operation) float64 {
	if len(ops) == 0 {
		return 0
	}
	var paths int
	for _, op := range ops {
		if pathPaymentTypes[op.Type] {
			paths++
		}
	}
	return float64(paths) / float64(len(ops))
}

func successRate(count int) float64 {
	if count > 0 {
		return 1.0
	}
	return 0
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
