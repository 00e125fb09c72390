package core

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicKeyAndSignature(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(seed)
	pk, err := NewPublicKey(priv.Public().(ed25519.PublicKey))
	require.NoError(t, err)

	parsed, err := ParsePublicKey(pk.String())
	require.NoError(t, err)
	assert.Equal(t, pk.Bytes(), parsed.Bytes())
	assert.Equal(t, UserAddress(ComputeHash(pk.Bytes())), parsed.Address())

	h := ComputeHash([]byte("payload"))
	sig := SignHash(priv, h)
	decoded, err := ParseSignature(sig.String())
	require.NoError(t, err)
	assert.True(t, parsed.VerifyHash(h, decoded))
	assert.False(t, parsed.VerifyHash(ComputeHash([]byte("other")), decoded))

	_, err = ParsePublicKey("X" + pk.String()[1:])
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
	_, err = ParseSignature("not-a-signature")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHashString(t *testing.T) {
	h := ComputeHash([]byte("data"))
	parsed, err := ParseHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
	assert.Len(t, Sha256([]byte("data")), 32)
}
