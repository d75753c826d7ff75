// Package persistence stores score records on the Stellar ledger. It builds
// unsigned transaction drafts for the wallet to sign, relays signed
// envelopes to Horizon, and reads records back, either from a Soroban
// contract or from account data entries.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rivora/rivora/internal/behavior"
	"github.com/rivora/rivora/internal/horizon"
	"github.com/rivora/rivora/internal/soroban"
	"github.com/rivora/rivora/internal/stellar"
)

// RecordVersion is written into every record.
const RecordVersion = "1.0.0"

// Kind names a persistence strategy.
type Kind string

const (
	KindContract Kind = "contract"
	KindNative   Kind = "native"
)

var (
	ErrRecordNotFound  = errors.New("persistence: no score record on ledger")
	ErrInvalidScore    = errors.New("persistence: score out of range")
	ErrNetworkMismatch = errors.New("persistence: envelope network does not match service network")
	ErrNoContract      = errors.New("persistence: no contract configured")
)

// ScoreRecord is what gets written to the ledger.
type ScoreRecord struct {
	WalletAddress string    `json:"walletAddress"`
	TrustRating   float64   `json:"trustRating"`
	HealthScore   float64   `json:"healthScore"`
	UserType      string    `json:"userType"`
	Timestamp     time.Time `json:"timestamp"`
	Version       string    `json:"version"`

	// Source is the strategy the record was read from.
	Source Kind `json:"-"`
}

// NewRecord rounds both scores to two decimals and validates ranges and
// the user type.
func NewRecord(address string, trust, health float64, userType string, now time.Time) (ScoreRecord, error) {
	for _, v := range []float64{trust, health} {
		if math.IsNaN(v) || v < 0 || v > 100 {
			return ScoreRecord{}, fmt.Errorf("%w: %v", ErrInvalidScore, v)
		}
	}
	ut, err := behavior.ParseUserType(userType)
	if err != nil {
		return ScoreRecord{}, err
	}
	return ScoreRecord{
		WalletAddress: address,
		TrustRating:   round2(trust),
		HealthScore:   round2(health),
		UserType:      string(ut),
		Timestamp:     now.UTC().Truncate(time.Second),
		Version:       RecordVersion,
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Draft is an unsigned transaction ready for wallet signing.
type Draft struct {
	XDR            string          `json:"xdr"`
	Network        stellar.Network `json:"network"`
	Strategy       Kind            `json:"strategy"`
	OperationCount int             `json:"operationCount"`
	Fee            uint32          `json:"fee"`
	Sequence       int64           `json:"sequence"`
	Hash           string          `json:"hash"`
}

// Strategy writes and reads score records.
type Strategy interface {
	Kind() Kind
	BuildSave(ctx context.Context, address string, rec ScoreRecord) (*Draft, error)
	Read(ctx context.Context, address string) (*ScoreRecord, error)
}

// Ledger is the Horizon surface persistence needs.
type Ledger interface {
	Account(ctx context.Context, address string) (*horizon.Account, error)
	Submit(ctx context.Context, envelopeXDR string) (*horizon.SubmitResult, error)
}

// Simulator is the Soroban RPC surface the contract strategy needs.
type Simulator interface {
	Simulate(ctx context.Context, envelopeXDR string) (*soroban.SimulateResult, error)
}

var (
	_ Ledger    = (*horizon.Client)(nil)
	_ Simulator = (*soroban.Client)(nil)
)
