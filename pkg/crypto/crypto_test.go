package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	key, err := NewUserKey()
	require.NoError(t, err)

	for _, size := range []int{1, 16, 1024, 70_000} {
		plaintext := make([]byte, size)
		_, err := rand.Read(plaintext)
		require.NoError(t, err)

		frame, err := Encrypt(plaintext, key)
		require.NoError(t, err)
		assert.Equal(t, size+Overhead, len(frame), "frame overhead must be exactly %d bytes", Overhead)

		got, err := Decrypt(frame, key)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(plaintext, got))
	}
}

func TestWrongKeyFailsAuth(t *testing.T) {
	key, err := NewUserKey()
	require.NoError(t, err)
	wrongKey, err := NewUserKey()
	require.NoError(t, err)

	frame, err := Encrypt([]byte("secret payload"), key)
	require.NoError(t, err)

	_, err = Decrypt(frame, wrongKey)
	assert.ErrorIs(t, err, ErrAuthFail)
}

func TestTamperedFrameFailsAuth(t *testing.T) {
	key, err := NewUserKey()
	require.NoError(t, err)

	frame, err := Encrypt([]byte("secret payload"), key)
	require.NoError(t, err)

	frame[len(frame)-1] ^= 0xff
	_, err = Decrypt(frame, key)
	assert.ErrorIs(t, err, ErrAuthFail)
}

func TestShortBufferPassesThrough(t *testing.T) {
	key, err := NewUserKey()
	require.NoError(t, err)

	// Anything shorter than a frame header cannot be encrypted data and is
	// returned unchanged.
	legacy := []byte("tiny legacy chunk")
	require.Less(t, len(legacy), Overhead+1)

	got, err := Decrypt(legacy, key)
	require.NoError(t, err)
	assert.Equal(t, legacy, got)
}

func TestFreshSaltAndNoncePerChunk(t *testing.T) {
	key, err := NewUserKey()
	require.NoError(t, err)

	a, err := Encrypt([]byte("same plaintext"), key)
	require.NoError(t, err)
	b, err := Encrypt([]byte("same plaintext"), key)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(a[:SaltSize+NonceSize], b[:SaltSize+NonceSize]),
		"salt+nonce must be fresh per chunk")
	assert.False(t, bytes.Equal(a, b))
}
