package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePublicKey(t *testing.T) {
	pk, err := ParsePublicKey("FWBtGhuFU9xbXQbcGEJxDfQZckUTm8RMS55YiG1jDtdr")
	require.NoError(t, err)
	assert.Equal(t, "FWBtGhuFU9xbXQbcGEJxDfQZckUTm8RMS55YiG1jDtdr", pk.String())

	assert.Equal(t, "11111111111111111111111111111111", SystemProgramID.String())
	assert.True(t, SystemProgramID.IsZero())

	_, err = ParsePublicKey("not-base58-0OIl")
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	_, err = ParsePublicKey("3mJr7AoUXx2Wqd")
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestPublicKey_JSON(t *testing.T) {
	pk := MustParsePublicKey("FWBtGhuFU9xbXQbcGEJxDfQZckUTm8RMS55YiG1jDtdr")
	item := Item{Seller: pk, Name: "x"}

	data, err := json.Marshal(item)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"seller":"FWBtGhuFU9xbXQbcGEJxDfQZckUTm8RMS55YiG1jDtdr"`)

	var decoded Item
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, item, decoded)
}
