// Package stellar adapts the Stellar SDK to score-saving transactions:
// account and contract addresses, Soroban values, the ManageData and
// InvokeHostFunction drafts wallets sign, and inspection of the signed
// envelopes they send back.
package stellar

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
)

// Network identifies a Stellar network.
type Network string

const (
	Testnet Network = "testnet"
	Public  Network = "public"
)

// ParseNetwork accepts testnet, public or mainnet.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "testnet":
		return Testnet, nil
	case "public", "mainnet":
		return Public, nil
	default:
		return "", fmt.Errorf("stellar: unknown network %q", s)
	}
}

// Passphrase returns the network passphrase.
func (n Network) Passphrase() string {
	if n == Public {
		return network.PublicNetworkPassphrase
	}
	return network.TestNetworkPassphrase
}

// ID is the SHA-256 of the passphrase.
func (n Network) ID() [32]byte {
	return network.ID(n.Passphrase())
}

// Protocol limits.
const (
	MaxOperations    = 100
	MaxDataNameBytes = 64
	MaxDataValueSize = 64
	DefaultTimeout   = 30 * time.Second
)

var (
	ErrTooManyOperations = errors.New("stellar: too many operations")
	ErrNoOperations      = errors.New("stellar: transaction has no operations")
	ErrInvalidEnvelope   = errors.New("stellar: invalid transaction envelope")
)

// ManageData sets, or with a nil value deletes, an account data entry.
func ManageData(name string, value []byte) (*txnbuild.ManageData, error) {
	if name == "" || len(name) > MaxDataNameBytes {
		return nil, fmt.Errorf("stellar: data name %q must be 1-%d bytes", name, MaxDataNameBytes)
	}
	if len(value) > MaxDataValueSize {
		return nil, fmt.Errorf("stellar: data value for %q is %d bytes, max %d", name, len(value), MaxDataValueSize)
	}
	return &txnbuild.ManageData{Name: name, Value: value}, nil
}

// InvokeContract calls fn on the contract. Auth entries and Soroban data
// come from simulation and are attached with Simulated.
func InvokeContract(contract [32]byte, fn string, args ...xdr.ScVal) (*txnbuild.InvokeHostFunction, error) {
	if !symbolRegex.MatchString(fn) {
		return nil, fmt.Errorf("stellar: invalid function name %q", fn)
	}
	return &txnbuild.InvokeHostFunction{
		HostFunction: xdr.HostFunction{
			Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &xdr.InvokeContractArgs{
				ContractAddress: ContractAddress(contract),
				FunctionName:    xdr.ScSymbol(fn),
				Args:            args,
			},
		},
	}, nil
}

// Simulated attaches the footprint, resources and auth entries a
// simulation returned.
func Simulated(op *txnbuild.InvokeHostFunction, data xdr.SorobanTransactionData, auth []xdr.SorobanAuthorizationEntry) {
	op.Auth = auth
	op.Ext = xdr.TransactionExt{V: 1, SorobanData: &data}
}

// NewTransaction builds an unsigned v1 transaction valid from now until
// DefaultTimeout. The fee is baseFee per operation plus any Soroban
// resource fee.
func NewTransaction(source string, sequence, baseFee int64, ops ...txnbuild.Operation) (*txnbuild.Transaction, error) {
	if len(ops) == 0 {
		return nil, ErrNoOperations
	}
	if len(ops) > MaxOperations {
		return nil, ErrTooManyOperations
	}
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount: &txnbuild.SimpleAccount{AccountID: source, Sequence: sequence},
		Operations:    ops,
		BaseFee:       baseFee,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(int64(DefaultTimeout / time.Second)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("stellar: build transaction: %w", err)
	}
	return tx, nil
}

// EnvelopeInfo describes a signed envelope a wallet submitted.
type EnvelopeInfo struct {
	// Source is the G address of the transaction source. For a fee bump it
	// is the inner transaction's source, not the fee payer.
	Source     string
	FeeBump    bool
	Operations int
	Hash       string
}

// InspectEnvelope parses base64 XDR of a v0, v1 or fee-bump envelope. It
// does not verify signatures; the network does.
func InspectEnvelope(s string, n Network) (*EnvelopeInfo, error) {
	s = strings.TrimSpace(s)
	var env xdr.TransactionEnvelope
	if err := xdr.SafeUnmarshalBase64(s, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	switch env.Type {
	case xdr.EnvelopeTypeEnvelopeTypeTxV0, xdr.EnvelopeTypeEnvelopeTypeTx, xdr.EnvelopeTypeEnvelopeTypeTxFeeBump:
	default:
		return nil, fmt.Errorf("%w: envelope type %d", ErrInvalidEnvelope, env.Type)
	}

	gtx, err := txnbuild.TransactionFromXDR(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	hash, err := gtx.HashHex(n.Passphrase())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return &EnvelopeInfo{
		Source:     env.SourceAccount().ToAccountId().Address(),
		FeeBump:    env.IsFeeBump(),
		Operations: len(env.Operations()),
		Hash:       hash,
	}, nil
}
