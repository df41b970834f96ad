package encryption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(16)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.Regexp(t, "^[0-9a-f]+$", a)

	b, err := RandomHex(16)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSecretMatches(t *testing.T) {
	hash := HashSecret("s3cret")
	assert.Len(t, hash, 64)
	assert.NotContains(t, hash, "s3cret")

	assert.True(t, SecretMatches(hash, "s3cret"))
	assert.False(t, SecretMatches(hash, "s3cret "))
	assert.False(t, SecretMatches(hash, ""))
	assert.False(t, SecretMatches("", "s3cret"))
}
