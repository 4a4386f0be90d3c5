package secret

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	s, err := NewSealer(key)
	require.NoError(t, err)

	sealed, err := s.Seal("123456:ABC-token")
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, sealed, "ABC-token")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "123456:ABC-token", plain)

	again, err := s.Seal("123456:ABC-token")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")
}

func TestSealer_OpensLegacyPlaintext(t *testing.T) {
	key, _ := GenerateKey()
	s, err := NewSealer(key)
	require.NoError(t, err)

	plain, err := s.Open("legacy-token")
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", plain)
}

func TestSealer_WrongKeyFails(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	s1, _ := NewSealer(k1)
	s2, _ := NewSealer(k2)

	sealed, err := s1.Seal("secret")
	require.NoError(t, err)

	_, err = s2.Open(sealed)
	assert.Error(t, err)
}

func TestNewSealer_InvalidKeys(t *testing.T) {
	_, err := NewSealer("not base64!!")
	assert.Error(t, err)

	_, err = NewSealer("c2hvcnQ=")
	assert.Error(t, err)
}

func TestPlainSealer(t *testing.T) {
	s, err := NewSealer("")
	require.NoError(t, err)

	out, err := s.Seal("token")
	require.NoError(t, err)
	assert.Equal(t, "token", out)

	_, err = s.Open("v1:" + strings.Repeat("A", 40))
	assert.Error(t, err)
}
