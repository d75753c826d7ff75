package stellar

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/stellar/go/strkey"
)

var (
	ErrInvalidAddress  = errors.New("stellar: invalid account address")
	ErrInvalidContract = errors.New("stellar: invalid contract id")
)

var accountRegex = regexp.MustCompile(`^G[A-Z2-7]{55}$`)

// LooksLikeAccount reports whether s has the shape of a public account key.
// It does not verify the checksum; DecodeAccount does.
func LooksLikeAccount(s string) bool {
	return accountRegex.MatchString(s)
}

// DecodeAccount decodes a G... address into its ed25519 public key.
func DecodeAccount(address string) ([32]byte, error) {
	var key [32]byte
	if !LooksLikeAccount(address) {
		return key, ErrInvalidAddress
	}
	payload, err := strkey.Decode(strkey.VersionByteAccountID, address)
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	copy(key[:], payload)
	return key, nil
}

// EncodeAccount encodes an ed25519 public key as a G... address.
func EncodeAccount(key [32]byte) string {
	return strkey.MustEncode(strkey.VersionByteAccountID, key[:])
}

// ValidAccount reports whether address is a well-formed account with a
// correct checksum.
func ValidAccount(address string) bool {
	return LooksLikeAccount(address) && strkey.IsValidEd25519PublicKey(address)
}

// ParseContractID accepts a contract as C... strkey or 64 hex characters.
func ParseContractID(s string) ([32]byte, error) {
	var id [32]byte
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "C") && len(s) == 56 {
		payload, err := strkey.Decode(strkey.VersionByteContract, s)
		if err != nil {
			return id, fmt.Errorf("%w: %v", ErrInvalidContract, err)
		}
		copy(id[:], payload)
		return id, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return id, ErrInvalidContract
	}
	copy(id[:], b)
	return id, nil
}

// EncodeContract encodes a contract hash as a C... strkey.
func EncodeContract(id [32]byte) string {
	return strkey.MustEncode(strkey.VersionByteContract, id[:])
}
