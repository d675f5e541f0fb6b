package aead

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAES128GCM_RoundTrip(t *testing.T) {
	key := make([]byte, 16)
	_, _ = rand.Read(key)
	a, err := NewAES128GCM(key)
	require.NoError(t, err)
	require.Equal(t, 12, a.NonceSize())
	require.Equal(t, 16, a.Overhead())

	nonce := make([]byte, a.NonceSize())
	_, _ = rand.Read(nonce)
	plain := []byte("hello over the wire")

	ct := a.Seal(nil, nonce, plain, nil)
	pt, err := a.Open(nil, nonce, ct, nil)
	require.NoError(t, err)
	require.True(t, bytes.Equal(plain, pt))
}

func TestChaCha20Poly1305_RoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	a, err := NewChaCha20Poly1305(key)
	require.NoError(t, err)
	require.Equal(t, 12, a.NonceSize())
	require.Equal(t, 16, a.Overhead())

	nonce := make([]byte, a.NonceSize())
	_, _ = rand.Read(nonce)
	plain := []byte("hello over the wire")

	ct := a.Seal(nil, nonce, plain, nil)
	pt, err := a.Open(nil, nonce, ct, nil)
	require.NoError(t, err)
	require.True(t, bytes.Equal(plain, pt))
}

func TestTamperedCiphertextFailsToOpen(t *testing.T) {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	a, err := NewChaCha20Poly1305(key)
	require.NoError(t, err)

	nonce := make([]byte, a.NonceSize())
	ct := a.Seal(nil, nonce, []byte("payload"), nil)
	ct[0] ^= 0x01

	_, err = a.Open(nil, nonce, ct, nil)
	require.Error(t, err)
}

func TestInvalidKeySizes(t *testing.T) {
	_, err := NewAES128GCM(make([]byte, 15))
	require.Error(t, err)

	_, err = NewChaCha20Poly1305(make([]byte, 31))
	require.Error(t, err)
}

func TestNew_UnknownAlgorithm(t *testing.T) {
	_, err := New("rot13", make([]byte, 16))
	require.Error(t, err)
}
