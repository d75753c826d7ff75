package stellar

import (
	"fmt"
	"math"
	"regexp"

	"github.com/stellar/go/xdr"
)

// MaxSymbolLength is the longest symbol Soroban accepts.
const MaxSymbolLength = 32

var symbolRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{1,32}$`)

// Symbol builds a symbol value. Symbols are 1-32 characters of [a-zA-Z0-9_].
func Symbol(s string) (xdr.ScVal, error) {
	if !symbolRegex.MatchString(s) {
		return xdr.ScVal{}, fmt.Errorf("stellar: invalid symbol %q", s)
	}
	sym := xdr.ScSymbol(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}, nil
}

// I128 builds a signed 128-bit integer value.
func I128(v int64) xdr.ScVal {
	parts := xdr.Int128Parts{Hi: xdr.Int64(v >> 63), Lo: xdr.Uint64(uint64(v))}
	return xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &parts}
}

// U64 builds an unsigned 64-bit integer value.
func U64(v uint64) xdr.ScVal {
	n := xdr.Uint64(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &n}
}

// AccountAddress builds an address value for an account key.
func AccountAddress(key [32]byte) xdr.ScVal {
	pk := xdr.Uint256(key)
	addr := xdr.ScAddress{
		Type:      xdr.ScAddressTypeScAddressTypeAccount,
		AccountId: &xdr.AccountId{Type: xdr.PublicKeyTypePublicKeyTypeEd25519, Ed25519: &pk},
	}
	return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &addr}
}

// ContractAddress is the address of a deployed contract.
func ContractAddress(id [32]byte) xdr.ScAddress {
	cid := xdr.ContractId(id)
	return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeContract, ContractId: &cid}
}

// Void is the unit value, also used for Option::None.
func Void() xdr.ScVal { return xdr.ScVal{Type: xdr.ScValTypeScvVoid} }

// Field looks up a symbol-keyed entry of a map value.
func Field(v xdr.ScVal, name string) (xdr.ScVal, bool) {
	m, ok := v.GetMap()
	if !ok || m == nil {
		return xdr.ScVal{}, false
	}
	for _, e := range *m {
		if sym, ok := e.Key.GetSym(); ok && string(sym) == name {
			return e.Val, true
		}
	}
	return xdr.ScVal{}, false
}

// Int64 returns the value of any integer arm that fits in an int64.
func Int64(v xdr.ScVal) (int64, bool) {
	switch v.Type {
	case xdr.ScValTypeScvU32:
		return int64(v.MustU32()), true
	case xdr.ScValTypeScvI32:
		return int64(v.MustI32()), true
	case xdr.ScValTypeScvU64:
		n := uint64(v.MustU64())
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case xdr.ScValTypeScvI64:
		return int64(v.MustI64()), true
	case xdr.ScValTypeScvI128:
		p := v.MustI128()
		lo := int64(p.Lo)
		// fits when hi is the sign extension of lo
		if (p.Hi == 0 && lo >= 0) || (p.Hi == -1 && lo < 0) {
			return lo, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// AddressString returns the strkey of an address value.
func AddressString(v xdr.ScVal) (string, bool) {
	addr, ok := v.GetAddress()
	if !ok {
		return "", false
	}
	s, err := addr.String()
	if err != nil {
		return "", false
	}
	return s, true
}

// DecodeScVal parses a base64 XDR ScVal.
func DecodeScVal(b64 string) (xdr.ScVal, error) {
	var v xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(b64, &v); err != nil {
		return xdr.ScVal{}, fmt.Errorf("stellar: decode scval: %w", err)
	}
	return v, nil
}
