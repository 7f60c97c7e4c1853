package password_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipsync/server/internal/password"
)

func TestPlaintextScheme_HashIsIdentity(t *testing.T) {
	s := password.New(false)

	hash, err := s.Hash("secret")
	require.NoError(t, err)
	assert.Equal(t, "secret", hash)
}

func TestPlaintextScheme_VerifyComparesDirectly(t *testing.T) {
	s := password.New(false)

	assert.True(t, s.Verify("secret", "secret"))
	assert.False(t, s.Verify("secret", "wrong"))
}

func TestEncryptedScheme_HashProducesBcryptDigest(t *testing.T) {
	s := password.New(true)

	hash, err := s.Hash("secret")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", hash)
	assert.True(t, s.Verify(hash, "secret"))
	assert.False(t, s.Verify(hash, "wrong"))
}

func TestEncryptedScheme_SameInputProducesDifferentHashes(t *testing.T) {
	s := password.New(true)

	a, err := s.Hash("secret")
	require.NoError(t, err)
	b, err := s.Hash("secret")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "bcrypt salts each hash independently")
}
