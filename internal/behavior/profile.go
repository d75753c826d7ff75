package behavior

import (
	"github.com/rivora/rivora/internal/features"
)

// BaseFee is the minimum per-operation fee in stroops.
const BaseFee = 100

// Peak hours, UTC, inclusive start and exclusive end.
const (
	peakStartHour = 12
	peakEndHour   = 21
)

var swapOps = map[string]bool{
	"path_payment":                true,
	"path_payment_strict_send":    true,
	"path_payment_strict_receive": true,
	"manage_sell_offer":           true,
	"manage_buy_offer":            true,
	"create_passive_sell_offer":   true,
}

var offerOps = map[string]bool{
	"manage_sell_offer":         true,
	"manage_buy_offer":          true,
	"create_passive_sell_offer": true,
}

// ProfileFrom derives a behavioral profile from an account snapshot.
func ProfileFrom(s *features.Snapshot) Profile {
	if s == nil {
		s = &features.Snapshot{}
	}

	p := Profile{Timing: timing(s.Transactions)}

	var swaps, offers int
	for _, op := range s.Operations {
		if swapOps[op.Type] {
			swaps++
		}
		if offerOps[op.Type] {
			offers++
		}
	}
	if len(s.Operations) > 0 {
		months, _ := features.MonthsSpan(s.Transactions)
		p.SwapFrequency = float64(swaps) / months
		p.LimitOrderUsage = float64(offers) / float64(len(s.Operations)) * 100
	}

	var issued, untrusted int
	for _, b := range s.Balances {
		if b.IsNative() {
			continue
		}
		issued++
		if !b.Trusted() {
			untrusted++
		}
	}
	if issued > 0 {
		p.NewTokenInteraction = float64(untrusted) / float64(issued) * 100
	}

	var cheap int
	for _, tx := range s.Transactions {
		ops := tx.OperationCount
		if ops < 1 {
			ops = 1
		}
		if tx.FeeCharged <= int64(BaseFee*ops) {
			cheap++
		}
	}
	if n := len(s.Transactions); n > 0 {
		p.GasOptimization = float64(cheap) / float64(n) * 100
	}

	return p
}

func timing(txs []features.Transaction) Timing {
	var stamped, peak int
	for _, tx := range txs {
		if tx.CreatedAt.IsZero() {
			continue
		}
		stamped++
		if h := tx.CreatedAt.UTC().Hour(); h >= peakStartHour && h < peakEndHour {
			peak++
		}
	}
	if stamped == 0 {
		return TimingMixed
	}
	share := float64(peak) / float64(stamped)
	switch {
	case share > 0.6:
		return TimingPeak
	case share < 0.4:
		return TimingOffPeak
	default:
		return TimingMixed
	}
}
