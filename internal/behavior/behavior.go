// Package behavior classifies accounts into coarse user types from their
// trading patterns.
package behavior

import (
	"errors"
	"fmt"
	"strings"
)

// UserType is the behavioral category of an account.
type UserType string

const (
	Trader    UserType = "Trader"
	Explorer  UserType = "Explorer"
	Optimizer UserType = "Optimizer"
	Passive   UserType = "Passive"
)

// UserTypes lists every category in declaration order.
var UserTypes = []UserType{Trader, Explorer, Optimizer, Passive}

var ErrUnknownUserType = errors.New("behavior: unknown user type")

// ParseUserType accepts any casing of a known user type.
func ParseUserType(s string) (UserType, error) {
	for _, t := range UserTypes {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownUserType, s)
}

// Symbol is the lowercase on-chain form of the user type.
func (t UserType) Symbol() string {
	return strings.ToLower(string(t))
}

// Timing buckets when an account tends to transact.
type Timing string

const (
	TimingPeak    Timing = "peak"
	TimingOffPeak Timing = "off-peak"
	TimingMixed   Timing = "mixed"
)

// Profile holds the behavioral metrics the classifier looks at.
type Profile struct {
	SwapFrequency       float64 `json:"swapFrequency"`       // swaps per month
	LimitOrderUsage     float64 `json:"limitOrderUsage"`     // % of operations
	Timing              Timing  `json:"transactionTiming"`
	NewTokenInteraction float64 `json:"newTokenInteraction"` // % of held assets
	GasOptimization     float64 `json:"gasOptimization"`     // % of transactions
}

// Classify maps a profile to a user type. Rules are evaluated in order and
// the first match wins.
func Classify(p Profile) UserType {
	switch {
	case p.SwapFrequency > 20 && p.Timing == TimingPeak:
		return Trader
	case p.NewTokenInteraction > 40:
		return Explorer
	case p.LimitOrderUsage > 30 || p.GasOptimization > 60 || p.Timing == TimingOffPeak:
		return Optimizer
	case p.SwapFrequency < 5:
		return Passive
	default:
		return Trader
	}
}
