// Package aead exposes the two concrete AEAD algorithms this tunnel uses
// (AES-128-GCM and ChaCha20-Poly1305) behind one unified contract. No
// associated data is used by either construction.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Aead is satisfied by crypto/cipher.AEAD; it is the contract every framing
// in this module programs against, so a new algorithm only needs a
// constructor returning one.
type Aead = cipher.AEAD

// NewAES128GCM builds an AES-128-GCM AEAD. key must be 16 bytes.
func NewAES128GCM(key []byte) (Aead, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("aead: aes-128-gcm wants a 16-byte key, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: aes-128-gcm: %w", err)
	}
	return cipher.NewGCM(block)
}

// NewChaCha20Poly1305 builds a ChaCha20-Poly1305 AEAD. key must be 32 bytes.
func NewChaCha20Poly1305(key []byte) (Aead, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("aead: chacha20-poly1305 wants a %d-byte key, got %d", chacha20poly1305.KeySize, len(key))
	}
	return chacha20poly1305.New(key)
}

// New builds the AEAD named by algo ("aes-128-gcm" or "chacha20-poly1305").
func New(algo string, key []byte) (Aead, error) {
	switch algo {
	case "aes-128-gcm":
		return NewAES128GCM(key)
	case "chacha20-poly1305":
		return NewChaCha20Poly1305(key)
	default:
		return nil, fmt.Errorf("aead: unknown algorithm %q", algo)
	}
}
