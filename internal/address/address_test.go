package address

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Solana(t *testing.T) {
	const wsol = "So11111111111111111111111111111111111111112"

	got, err := Normalize(KindSolana, "  "+wsol+" ")
	require.NoError(t, err)
	assert.Equal(t, wsol, got)

	_, err = Normalize(KindSolana, "not-base58-0OIl")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = Normalize(KindSolana, base58.Encode([]byte{1, 2, 3}))
	assert.ErrorIs(t, err, ErrInvalidAddress, "short keys are rejected")
}

func TestNormalize_EVM(t *testing.T) {
	got, err := Normalize(KindEVM, "0xAbCdEf0123456789aBcDeF0123456789AbCdEf01")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", got)

	_, err = Normalize(KindEVM, "0x1234")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = Normalize(KindEVM, "0xzzcdef0123456789abcdef0123456789abcdef01")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestIsWalletAddress_Solana(t *testing.T) {
	// The ed25519 base point encoding is on the curve.
	basePoint := make([]byte, 32)
	basePoint[0] = 0x58
	for i := 1; i < 32; i++ {
		basePoint[i] = 0x66
	}
	assert.True(t, IsWalletAddress(KindSolana, base58.Encode(basePoint)))

	// y = 2 has no valid x on the curve.
	offCurve := make([]byte, 32)
	offCurve[0] = 2
	assert.False(t, IsWalletAddress(KindSolana, base58.Encode(offCurve)))

	assert.False(t, IsWalletAddress(KindSolana, "garbage!"))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindSolana, k)

	k, err = ParseKind("EVM")
	require.NoError(t, err)
	assert.Equal(t, KindEVM, k)

	_, err = ParseKind("cosmos")
	assert.Error(t, err)
}
