package stellar

import (
	"encoding/base64"
	"encoding/binary"
	"sort"
	"strings"
	"testing"

	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	zeroAccount  = "GAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAWHF"
	zeroContract = "CAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAABSC4"
	seqAccount   = "GAAACAQDAQCQMBYIBEFAWDANBYHRAEISCMKBKFQXDAMRUGY4DUPB7JZX"
)

func seqKey() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

// mapOf builds a map value with symbol keys sorted the way the host
// requires.
func mapOf(t *testing.T, fields map[string]xdr.ScVal) xdr.ScVal {
	t.Helper()
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	m := make(xdr.ScMap, 0, len(names))
	for _, name := range names {
		key, err := Symbol(name)
		require.NoError(t, err)
		m = append(m, xdr.ScMapEntry{Key: key, Val: fields[name]})
	}
	v, err := xdr.NewScVal(xdr.ScValTypeScvMap, &m)
	require.NoError(t, err)
	return v
}

func manageData(t *testing.T, name string, value []byte) *txnbuild.ManageData {
	t.Helper()
	op, err := ManageData(name, value)
	require.NoError(t, err)
	return op
}

func TestStrkey(t *testing.T) {
	assert.Equal(t, zeroAccount, EncodeAccount([32]byte{}))
	assert.Equal(t, zeroContract, EncodeContract([32]byte{}))
	assert.Equal(t, seqAccount, EncodeAccount(seqKey()))

	key, err := DecodeAccount(seqAccount)
	require.NoError(t, err)
	assert.Equal(t, seqKey(), key)

	id, err := ParseContractID(zeroContract)
	require.NoError(t, err)
	assert.Equal(t, [32]byte{}, id)

	id, err = ParseContractID(strings.Repeat("0a", 32))
	require.NoError(t, err)
	assert.Equal(t, byte(0x0a), id[31])
}

func TestStrkey_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		address string
	}{
		{"empty", ""},
		{"lowercase", strings.ToLower(seqAccount)},
		{"too short", seqAccount[:55]},
		{"bad checksum", seqAccount[:55] + "Y"},
		{"contract as account", "G" + zeroContract[1:]},
		{"secret seed prefix", "S" + seqAccount[1:]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAccount(tt.address)
			assert.ErrorIs(t, err, ErrInvalidAddress)
			assert.False(t, ValidAccount(tt.address))
		})
	}

	_, err := ParseContractID("not-a-contract")
	assert.ErrorIs(t, err, ErrInvalidContract)
	_, err = ParseContractID(zeroContract[:55] + "A")
	assert.ErrorIs(t, err, ErrInvalidContract)
}

func TestLooksLikeAccount(t *testing.T) {
	assert.True(t, LooksLikeAccount(seqAccount))
	// shape only
	assert.True(t, LooksLikeAccount(seqAccount[:55]+"Y"))
	assert.False(t, LooksLikeAccount(zeroContract))
}

func TestI128(t *testing.T) {
	tests := []struct {
		in     int64
		hi, lo uint64
	}{
		{0, 0, 0},
		{10000, 0, 10000},
		{-1, ^uint64(0), ^uint64(0)},
		{-3, ^uint64(0), ^uint64(2)},
	}
	for _, tt := range tests {
		v := I128(tt.in)
		parts := v.MustI128()
		assert.Equal(t, tt.hi, uint64(parts.Hi), tt.in)
		assert.Equal(t, tt.lo, uint64(parts.Lo), tt.in)

		got, ok := Int64(v)
		require.True(t, ok)
		assert.Equal(t, tt.in, got)
	}

	wide := xdr.Int128Parts{Hi: 1, Lo: 0}
	_, ok := Int64(xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &wide})
	assert.False(t, ok)
}

func TestScVal_RoundTrip(t *testing.T) {
	sym, err := Symbol("trader")
	require.NoError(t, err)
	m := mapOf(t, map[string]xdr.ScVal{
		"wallet_address": AccountAddress(seqKey()),
		"trust_rating":   I128(7550),
		"health_score":   I128(-3),
		"user_type":      sym,
		"timestamp":      U64(1700000000),
	})

	b64, err := xdr.MarshalBase64(m)
	require.NoError(t, err)
	got, err := DecodeScVal(b64)
	require.NoError(t, err)

	entries := got.MustMap()
	require.Len(t, *entries, 5)
	assert.Equal(t, xdr.ScSymbol("health_score"), (*entries)[0].Key.MustSym(), "keys are sorted")

	trust, ok := Field(got, "trust_rating")
	require.True(t, ok)
	v, ok := Int64(trust)
	require.True(t, ok)
	assert.Equal(t, int64(7550), v)

	health, _ := Field(got, "health_score")
	v, _ = Int64(health)
	assert.Equal(t, int64(-3), v)

	wallet, _ := Field(got, "wallet_address")
	addr, ok := AddressString(wallet)
	require.True(t, ok)
	assert.Equal(t, seqAccount, addr)

	ts, _ := Field(got, "timestamp")
	v, _ = Int64(ts)
	assert.Equal(t, int64(1700000000), v)

	_, ok = Field(got, "missing")
	assert.False(t, ok)
	_, ok = Field(Void(), "trust_rating")
	assert.False(t, ok)
}

func TestScVal_I128Layout(t *testing.T) {
	b, err := I128(10000).MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, 20)
	assert.Equal(t, uint32(xdr.ScValTypeScvI128), binary.BigEndian.Uint32(b[0:4]))
	assert.Equal(t, uint64(0), binary.BigEndian.Uint64(b[4:12]))
	assert.Equal(t, uint64(10000), binary.BigEndian.Uint64(b[12:20]))
}

func TestSymbol_Invalid(t *testing.T) {
	for _, s := range []string{"", "has space", strings.Repeat("a", 33), "dash-ed"} {
		_, err := Symbol(s)
		assert.Error(t, err, s)
	}
}

func TestDecodeScVal_Truncated(t *testing.T) {
	b, err := I128(5).MarshalBinary()
	require.NoError(t, err)
	_, err = DecodeScVal(base64.StdEncoding.EncodeToString(b[:10]))
	assert.Error(t, err)
	_, err = DecodeScVal("%%%")
	assert.Error(t, err)
}

func TestManageData_Limits(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   []byte
		wantErr bool
	}{
		{"ok", "scores", make([]byte, 64), false},
		{"delete", "scores", nil, false},
		{"value too long", "scores", make([]byte, 65), true},
		{"empty name", "", []byte("x"), true},
		{"name too long", strings.Repeat("n", 65), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := ManageData(tt.key, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, err = NewTransaction(seqAccount, 1, 100, op)
			assert.NoError(t, err)
		})
	}
}

func TestTransaction_Limits(t *testing.T) {
	_, err := NewTransaction(seqAccount, 1, 100)
	assert.ErrorIs(t, err, ErrNoOperations)

	ops := make([]txnbuild.Operation, MaxOperations+1)
	for i := range ops {
		ops[i] = manageData(t, "k", []byte("v"))
	}
	_, err = NewTransaction(seqAccount, 1, 100, ops...)
	assert.ErrorIs(t, err, ErrTooManyOperations)

	_, err = NewTransaction("GNOPE", 1, 100, manageData(t, "k", nil))
	assert.Error(t, err)
}

func TestTransaction_Envelope(t *testing.T) {
	tx, err := NewTransaction(seqAccount, 42, 100,
		manageData(t, "scores_0", []byte("abc")),
		manageData(t, "scores_1", []byte("defg")),
		manageData(t, "stale", nil),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(300), tx.MaxFee())

	env, err := tx.Base64()
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(env)
	require.NoError(t, err)
	assert.Equal(t, uint32(xdr.EnvelopeTypeEnvelopeTypeTx), binary.BigEndian.Uint32(raw[:4]))

	gtx, err := txnbuild.TransactionFromXDR(env)
	require.NoError(t, err)
	got, ok := gtx.Transaction()
	require.True(t, ok)
	assert.Equal(t, seqAccount, got.SourceAccount().AccountID)
	assert.Equal(t, int64(42), got.SequenceNumber())
	assert.Equal(t, tx.Timebounds().MaxTime, got.Timebounds().MaxTime)
	require.Len(t, got.Operations(), 3)
	assert.Equal(t, &txnbuild.ManageData{Name: "scores_1", Value: []byte("defg")}, got.Operations()[1])
	assert.Equal(t, &txnbuild.ManageData{Name: "stale"}, got.Operations()[2])
}

func TestTransaction_InvokeContract(t *testing.T) {
	sym, err := Symbol("explorer")
	require.NoError(t, err)
	op, err := InvokeContract([32]byte{1}, "save_scores",
		AccountAddress(seqKey()), I128(8000), I128(6000), sym)
	require.NoError(t, err)
	Simulated(op, xdr.SorobanTransactionData{ResourceFee: 5000}, nil)

	tx, err := NewTransaction(seqAccount, 7, 100, op)
	require.NoError(t, err)
	assert.Equal(t, int64(5100), tx.MaxFee())

	env, err := tx.Base64()
	require.NoError(t, err)
	gtx, err := txnbuild.TransactionFromXDR(env)
	require.NoError(t, err)
	got, _ := gtx.Transaction()
	require.Len(t, got.Operations(), 1)

	inv, ok := got.Operations()[0].(*txnbuild.InvokeHostFunction)
	require.True(t, ok)
	require.NotNil(t, inv.Ext.SorobanData)
	assert.Equal(t, xdr.Int64(5000), inv.Ext.SorobanData.ResourceFee)

	args := inv.HostFunction.MustInvokeContract()
	assert.Equal(t, xdr.ScSymbol("save_scores"), args.FunctionName)
	assert.Equal(t, xdr.ContractId{1}, *args.ContractAddress.ContractId)
	require.Len(t, args.Args, 4)
	v, _ := Int64(args.Args[1])
	assert.Equal(t, int64(8000), v)

	_, err = InvokeContract([32]byte{1}, "save-scores")
	assert.Error(t, err)
}

func TestTransaction_HashIsNetworkBound(t *testing.T) {
	tx, err := NewTransaction(seqAccount, 1, 100, manageData(t, "scores", []byte("x")))
	require.NoError(t, err)

	a, err := tx.Hash(Testnet.Passphrase())
	require.NoError(t, err)
	b, err := tx.Hash(Testnet.Passphrase())
	require.NoError(t, err)
	c, err := tx.Hash(Public.Passphrase())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestParseNetwork(t *testing.T) {
	n, err := ParseNetwork("Mainnet")
	require.NoError(t, err)
	assert.Equal(t, Public, n)
	assert.Equal(t, network.PublicNetworkPassphrase, n.Passphrase())

	n, err = ParseNetwork("testnet")
	require.NoError(t, err)
	assert.Equal(t, network.TestNetworkPassphrase, n.Passphrase())
	assert.Equal(t, network.ID(network.TestNetworkPassphrase), n.ID())

	_, err = ParseNetwork("futurenet")
	assert.Error(t, err)
}

func TestInspectEnvelope(t *testing.T) {
	tx, err := NewTransaction(seqAccount, 1, 100, manageData(t, "k", nil), manageData(t, "j", nil))
	require.NoError(t, err)
	env, err := tx.Base64()
	require.NoError(t, err)
	wantHash, err := tx.HashHex(Testnet.Passphrase())
	require.NoError(t, err)

	info, err := InspectEnvelope(" "+env+"\n", Testnet)
	require.NoError(t, err)
	assert.Equal(t, &EnvelopeInfo{Source: seqAccount, Operations: 2, Hash: wantHash}, info)
}

func TestInspectEnvelope_FeeBump(t *testing.T) {
	inner, err := NewTransaction(seqAccount, 1, 100, manageData(t, "k", []byte("v")))
	require.NoError(t, err)
	fb, err := txnbuild.NewFeeBumpTransaction(txnbuild.FeeBumpTransactionParams{
		Inner:      inner,
		FeeAccount: zeroAccount,
		BaseFee:    200,
	})
	require.NoError(t, err)
	env, err := fb.Base64()
	require.NoError(t, err)

	info, err := InspectEnvelope(env, Public)
	require.NoError(t, err)
	assert.True(t, info.FeeBump)
	assert.Equal(t, seqAccount, info.Source, "the inner source, not the fee payer")
	assert.Equal(t, 1, info.Operations)

	wantHash, err := fb.HashHex(Public.Passphrase())
	require.NoError(t, err)
	assert.Equal(t, wantHash, info.Hash)
}

func TestInspectEnvelope_Invalid(t *testing.T) {
	for name, env := range map[string]string{
		"not base64":    "%%%",
		"truncated":     base64.StdEncoding.EncodeToString([]byte{0, 0}),
		"unknown type":  base64.StdEncoding.EncodeToString([]byte{0, 0, 0, 9}),
		"empty v1 body": base64.StdEncoding.EncodeToString([]byte{0, 0, 0, 2, 0, 0, 0, 0}),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := InspectEnvelope(env, Testnet)
			assert.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}
}
