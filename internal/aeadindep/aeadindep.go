// Package aeadindep implements the per-datagram AEAD framing: each sealed
// record is self-contained, carrying its own random nonce and tag, so any
// two records can be decrypted independently of ordering or delivery of
// any other record.
package aeadindep

import (
	"crypto/rand"
	"errors"
	"fmt"

	"subtun/internal/aead"
)

var (
	// ErrBufferTooSmall is returned when the caller's output buffer cannot
	// fit the sealed or opened record.
	ErrBufferTooSmall = errors.New("aeadindep: buffer too small")
	// ErrDecryptFailed is returned when the AEAD tag fails to verify.
	ErrDecryptFailed = errors.New("aeadindep: decryption failed")
	// ErrTruncated is returned when a received record is shorter than
	// nonce+tag and cannot possibly be valid.
	ErrTruncated = errors.New("aeadindep: truncated record")
)

// Overhead returns the number of bytes a sealed record adds to the
// plaintext for the given AEAD: a random nonce plus the authentication tag.
func Overhead(a aead.Aead) int {
	return a.NonceSize() + a.Overhead()
}

// Seal produces nonce ∥ ciphertext ∥ tag for plaintext, appending to dst.
// dst may be nil; the result is always freshly allocated space beyond
// len(dst).
func Seal(a aead.Aead, dst, plaintext []byte) ([]byte, error) {
	nonceSize := a.NonceSize()
	out := make([]byte, len(dst), len(dst)+nonceSize+len(plaintext)+a.Overhead())
	copy(out, dst)

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("aeadindep: rand nonce: %w", err)
	}
	out = append(out, nonce...)
	out = a.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// SealInto seals plaintext into buf, which must have at least
// Overhead(a)+len(plaintext) bytes of length starting at offset 0.
// Returns ErrBufferTooSmall if buf cannot fit the record.
func SealInto(a aead.Aead, buf, plaintext []byte) (int, error) {
	need := len(plaintext) + Overhead(a)
	if len(buf) < need {
		return 0, ErrBufferTooSmall
	}
	nonceSize := a.NonceSize()
	if _, err := rand.Read(buf[:nonceSize]); err != nil {
		return 0, fmt.Errorf("aeadindep: rand nonce: %w", err)
	}
	sealed := a.Seal(buf[nonceSize:nonceSize], buf[:nonceSize], plaintext, nil)
	return nonceSize + len(sealed), nil
}

// Open splits record as nonce ∥ ciphertext ∥ tag and verifies+decrypts it.
// On tag-verification failure it returns ErrDecryptFailed and never yields
// partial plaintext. A record shorter than nonce+tag fails ErrTruncated.
func Open(a aead.Aead, dst, record []byte) ([]byte, error) {
	nonceSize := a.NonceSize()
	minLen := nonceSize + a.Overhead()
	if len(record) < minLen {
		return nil, ErrTruncated
	}

	nonce := record[:nonceSize]
	ciphertext := record[nonceSize:]

	out, err := a.Open(dst, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return out, nil
}
