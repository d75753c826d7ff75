// Package idgen provides random identifiers for requests and log correlation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// Hex returns numBytes random bytes, hex encoded. If the system random
// source fails it returns a nanosecond timestamp instead.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b)
}

// RequestID returns a 32 character id for the X-Request-ID header.
func RequestID() string {
	return Hex(16)
}
