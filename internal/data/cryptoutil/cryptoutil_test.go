package cryptoutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBox(t *testing.T) *Box {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	b, err := NewBox(key)
	require.NoError(t, err)
	return b
}

func TestBox_SealOpen(t *testing.T) {
	b := testBox(t)

	sealed, err := b.Seal([]byte("gemini-api-key"))
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, sealed, "gemini-api-key")

	again, err := b.Seal([]byte("gemini-api-key"))
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	pt, err := b.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "gemini-api-key", string(pt))
}

func TestBox_OpenRejectsTampering(t *testing.T) {
	b := testBox(t)
	sealed, err := b.Seal([]byte("value"))
	require.NoError(t, err)

	t.Run("other key", func(t *testing.T) {
		other, err := NewBoxFromString("another passphrase")
		require.NoError(t, err)
		_, err = other.Open(sealed)
		require.Error(t, err)
	})

	t.Run("not sealed", func(t *testing.T) {
		_, err := b.Open("plain")
		require.Error(t, err)
	})

	t.Run("bad base64", func(t *testing.T) {
		_, err := b.Open(SealedPrefix + "!!!")
		require.Error(t, err)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := b.Open(SealedPrefix + "AAAA")
		require.Error(t, err)
	})
}

func TestNewBoxFromString(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)
	fromHex, err := NewBoxFromString(hexKey)
	require.NoError(t, err)
	fromPass, err := NewBoxFromString("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := fromHex.Seal([]byte("x"))
	require.NoError(t, err)
	_, err = fromPass.Open(sealed)
	require.Error(t, err)

	_, err = NewBoxFromString("  ")
	require.Error(t, err)
	_, err = NewBox([]byte("short"))
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	b := testBox(t)
	sealed, err := b.Seal([]byte("hook-url"))
	require.NoError(t, err)

	got, err := Resolve(b, sealed)
	require.NoError(t, err)
	assert.Equal(t, "hook-url", got)

	got, err = Resolve(nil, "plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", got)

	_, err = Resolve(nil, sealed)
	require.ErrorIs(t, err, ErrNoKey)
}
