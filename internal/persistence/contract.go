package persistence

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/stellar/go/xdr"

	"github.com/rivora/rivora/internal/behavior"
	"github.com/rivora/rivora/internal/stellar"
)

// Contract function names.
const (
	fnSaveScores = "save_scores"
	fnGetScores  = "get_scores"
)

// maxScaled is 100.00 in contract units.
const maxScaled = 10000

// ContractStrategy stores records in the scores contract. Every draft is
// simulated first; the simulation supplies the footprint, auth entries and
// resource fee the network will demand.
type ContractStrategy struct {
	ledger    Ledger
	simulator Simulator
	contract  [32]byte
	network   stellar.Network
	baseFee   uint32
}

// NewContractStrategy creates a contract strategy for the contract id.
func NewContractStrategy(ledger Ledger, sim Simulator, contract [32]byte, network stellar.Network, baseFee uint32) *ContractStrategy {
	return &ContractStrategy{
		ledger:    ledger,
		simulator: sim,
		contract:  contract,
		network:   network,
		baseFee:   baseFee,
	}
}

func (s *ContractStrategy) Kind() Kind { return KindContract }

// BuildSave drafts a save_scores invocation.
func (s *ContractStrategy) BuildSave(ctx context.Context, address string, rec ScoreRecord) (*Draft, error) {
	key, err := stellar.DecodeAccount(address)
	if err != nil {
		return nil, err
	}
	args, err := saveArgs(key, rec)
	if err != nil {
		return nil, err
	}

	acct, err := s.ledger.Account(ctx, address)
	if err != nil {
		return nil, err
	}

	op, err := stellar.InvokeContract(s.contract, fnSaveScores, args...)
	if err != nil {
		return nil, err
	}
	tx, err := stellar.NewTransaction(address, acct.Sequence+1, int64(s.baseFee), op)
	if err != nil {
		return nil, err
	}
	env, err := tx.Base64()
	if err != nil {
		return nil, err
	}

	sim, err := s.simulator.Simulate(ctx, env)
	if err != nil {
		return nil, err
	}
	data, err := sim.SorobanData()
	if err != nil {
		return nil, err
	}
	auth, err := sim.Auth()
	if err != nil {
		return nil, err
	}
	resourceFee, err := sim.ResourceFee()
	if err != nil {
		return nil, fmt.Errorf("persistence: parse resource fee: %w", err)
	}
	if resourceFee < 0 || int64(s.baseFee)+resourceFee > math.MaxUint32 {
		return nil, fmt.Errorf("persistence: resource fee %d out of range", resourceFee)
	}

	data.ResourceFee = xdr.Int64(resourceFee)
	stellar.Simulated(op, data, auth)
	tx, err = stellar.NewTransaction(address, acct.Sequence+1, int64(s.baseFee), op)
	if err != nil {
		return nil, err
	}
	return draftOf(tx, s.network, KindContract)
}

// Read simulates get_scores. The wallet is the simulated source; no
// sequence number is consumed.
func (s *ContractStrategy) Read(ctx context.Context, address string) (*ScoreRecord, error) {
	key, err := stellar.DecodeAccount(address)
	if err != nil {
		return nil, err
	}
	op, err := stellar.InvokeContract(s.contract, fnGetScores, stellar.AccountAddress(key))
	if err != nil {
		return nil, err
	}
	tx, err := stellar.NewTransaction(address, 0, int64(s.baseFee), op)
	if err != nil {
		return nil, err
	}
	env, err := tx.Base64()
	if err != nil {
		return nil, err
	}

	sim, err := s.simulator.Simulate(ctx, env)
	if err != nil {
		return nil, err
	}
	val, err := sim.ReturnValue()
	if err != nil {
		return nil, err
	}
	rec, err := recordFromScVal(val)
	if err != nil {
		return nil, err
	}
	rec.Source = KindContract
	return rec, nil
}

func saveArgs(key [32]byte, rec ScoreRecord) ([]xdr.ScVal, error) {
	trust, err := scale(rec.TrustRating)
	if err != nil {
		return nil, err
	}
	health, err := scale(rec.HealthScore)
	if err != nil {
		return nil, err
	}
	ut, err := behavior.ParseUserType(rec.UserType)
	if err != nil {
		return nil, err
	}
	sym, err := stellar.Symbol(ut.Symbol())
	if err != nil {
		return nil, err
	}
	return []xdr.ScVal{
		stellar.AccountAddress(key),
		stellar.I128(trust),
		stellar.I128(health),
		sym,
	}, nil
}

// scale converts a 0-100 score to contract units of 0.01.
func scale(v float64) (int64, error) {
	n := int64(math.Round(v * 100))
	if math.IsNaN(v) || n < 0 || n > maxScaled {
		return 0, fmt.Errorf("%w: %v", ErrInvalidScore, v)
	}
	return n, nil
}

// recordFromScVal decodes the Option<ScoreData> get_scores returns. None is
// ErrRecordNotFound.
func recordFromScVal(v xdr.ScVal) (*ScoreRecord, error) {
	if v.Type == xdr.ScValTypeScvVoid {
		return nil, ErrRecordNotFound
	}
	if v.Type != xdr.ScValTypeScvMap {
		return nil, fmt.Errorf("persistence: get_scores returned scval type %s", v.Type)
	}

	rec := &ScoreRecord{Version: RecordVersion}

	trust, err := intField(v, "trust_rating")
	if err != nil {
		return nil, err
	}
	health, err := intField(v, "health_score")
	if err != nil {
		return nil, err
	}
	ts, err := intField(v, "timestamp")
	if err != nil {
		return nil, err
	}
	rec.TrustRating = float64(trust) / 100
	rec.HealthScore = float64(health) / 100
	rec.Timestamp = time.Unix(ts, 0).UTC()

	f, _ := stellar.Field(v, "user_type")
	sym, ok := f.GetSym()
	if !ok {
		return nil, fmt.Errorf("persistence: score data missing user_type")
	}
	ut, err := behavior.ParseUserType(string(sym))
	if err != nil {
		return nil, err
	}
	rec.UserType = string(ut)

	f, _ = stellar.Field(v, "wallet_address")
	wallet, ok := stellar.AddressString(f)
	if !ok {
		return nil, fmt.Errorf("persistence: score data missing wallet_address")
	}
	rec.WalletAddress = wallet
	return rec, nil
}

func intField(v xdr.ScVal, name string) (int64, error) {
	f, ok := stellar.Field(v, name)
	if !ok {
		return 0, fmt.Errorf("persistence: score data missing %s", name)
	}
	n, ok := stellar.Int64(f)
	if !ok {
		return 0, fmt.Errorf("persistence: score data field %s is not an integer", name)
	}
	return n, nil
}
