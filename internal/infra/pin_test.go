package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptVerifier(t *testing.T) {
	v := NewBcryptVerifierWithCost(bcrypt.MinCost)

	sealed, err := v.Seal("4821")
	require.NoError(t, err)
	assert.NotEqual(t, "4821", sealed, "stored form must not be the PIN itself")

	again, err := v.Seal("4821")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "hashes are salted")

	assert.True(t, v.Verify("4821", sealed))
	assert.False(t, v.Verify("4822", sealed))
	assert.False(t, v.Verify("", sealed))
}

func TestBcryptVerifier_LegacyPlaintextAndEmpty(t *testing.T) {
	v := NewBcryptVerifierWithCost(bcrypt.MinCost)

	assert.True(t, v.Verify("1234", "1234"))
	assert.False(t, v.Verify("123", "1234"))
	assert.False(t, v.Verify("", ""))
}
