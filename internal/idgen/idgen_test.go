package idgen

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHex(t *testing.T) {
	id := Hex(12)
	assert.Len(t, id, 24)
	_, err := hex.DecodeString(id)
	require.NoError(t, err)

	assert.Empty(t, Hex(0))
}

func TestRequestID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := RequestID()
		require.Len(t, id, 32)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
