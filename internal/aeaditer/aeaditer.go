// Package aeaditer implements the handshake-free stream AEAD framing used
// over long-lived TCP connections: a per-direction 96-bit counter nonce,
// seeded once by a randomly chosen prefix sent in the clear, drives an AEAD
// over length-prefixed records.
package aeaditer

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"subtun/internal/aead"
)

const (
	// NonceSize is the width of the counter (and the one-time prefix sent
	// in the clear) for every algorithm this tunnel supports.
	NonceSize = 12
	// MaxRecordLength is the largest plaintext payload a single record may
	// carry, leaving headroom in the 2-byte length field.
	MaxRecordLength = 0x3FFF
)

var (
	// ErrSendTooLarge is returned by Stream.Send when len(plaintext)
	// exceeds MaxRecordLength.
	ErrSendTooLarge = errors.New("aeaditer: send length exceeds 0x3FFF")
	// ErrDecryptFailed is returned when a record's AEAD tag fails to verify.
	ErrDecryptFailed = errors.New("aeaditer: decryption failed")
	// ErrBufferTooSmall is returned by Recv when the caller's output buffer
	// cannot fit the next assembled record.
	ErrBufferTooSmall = errors.New("aeaditer: buffer too small")
)

// counter is a 96-bit big-endian integer, incremented by exactly one per
// AEAD invocation.
type counter [NonceSize]byte

func (c *counter) bytes() []byte { return c[:] }

func (c *counter) increment() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]++
		if c[i] != 0 {
			return
		}
	}
}

// decrement is the inverse of increment; it exists to let tests simulate a
// counter-reuse bug deterministically.
func (c *counter) decrement() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]--
		if c[i] != 0xFF {
			return
		}
	}
}

// Direction holds one direction's AEAD and counter state. The same
// symmetric key seeds both the encrypt and the decrypt direction of a
// connection; the two directions never share a counter.
type Direction struct {
	aead   aead.Aead
	ctr    counter
	seeded bool
}

// NewDirection builds a Direction over the given AEAD. The counter is not
// seeded until SeedRandom or Seed is called.
func NewDirection(a aead.Aead) *Direction {
	return &Direction{aead: a}
}

// SeedRandom draws a fresh random nonce prefix, uses it to seed the
// counter, and returns the prefix so the caller can transmit it verbatim
// as the direction's one-time nonce prefix.
func (d *Direction) SeedRandom() ([]byte, error) {
	prefix := make([]byte, NonceSize)
	if _, err := rand.Read(prefix); err != nil {
		return nil, fmt.Errorf("aeaditer: rand nonce prefix: %w", err)
	}
	d.Seed(prefix)
	return prefix, nil
}

// Seed sets the counter to the peer-supplied nonce prefix.
func (d *Direction) Seed(prefix []byte) {
	copy(d.ctr[:], prefix)
	d.seeded = true
}

// Seeded reports whether the direction's counter has been established.
func (d *Direction) Seeded() bool { return d.seeded }

// Seal encrypts plaintext under the current counter value, then advances
// the counter by one. dst is the destination slice to append to (may be nil).
func (d *Direction) Seal(dst, plaintext []byte) []byte {
	nonce := append([]byte(nil), d.ctr.bytes()...)
	d.ctr.increment()
	return d.aead.Seal(dst, nonce, plaintext, nil)
}

// Open decrypts ciphertext (which includes the trailing tag) under the
// current counter value, then advances the counter by one.
func (d *Direction) Open(dst, ciphertext []byte) ([]byte, error) {
	nonce := append([]byte(nil), d.ctr.bytes()...)
	d.ctr.increment()
	out, err := d.aead.Open(dst, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return out, nil
}

func lengthHeaderSize(a aead.Aead) int { return 2 + a.Overhead() }

// EncodeLength encrypts the 2-byte big-endian record length as the head
// record, advancing the encrypt counter by one AEAD invocation.
func (d *Direction) EncodeLength(l int) []byte {
	var lb [2]byte
	binary.BigEndian.PutUint16(lb[:], uint16(l))
	return d.Seal(nil, lb[:])
}

// DecodeLength decrypts a head record (2+tag bytes) back into a record
// length, advancing the decrypt counter by one AEAD invocation.
func (d *Direction) DecodeLength(head []byte) (int, error) {
	lb, err := d.Open(nil, head)
	if err != nil {
		return 0, err
	}
	if len(lb) != 2 {
		return 0, ErrDecryptFailed
	}
	return int(binary.BigEndian.Uint16(lb)), nil
}

// HeadSize returns the wire size of the encrypted length record.
func HeadSize(a aead.Aead) int { return lengthHeaderSize(a) }

// recv stage markers.
const (
	stageNoncePrefix = iota
	stageHead
	stageBody
)

// Stream composes an encrypt Direction and a decrypt Direction over a
// connection. Send is synchronous (it calls write for each wire fragment).
// Recv drives a small state machine so that partial, non-blocking reads can
// be resumed across calls without losing already-consumed bytes.
type Stream struct {
	enc, dec *Direction

	stage   int
	acc     []byte
	accNeed int
	bodyLen int
}

// NewStream builds a Stream. encAEAD seals outbound records; decAEAD opens
// inbound records. Passing the same underlying key for both (as this
// tunnel's handshake-free design does) is the caller's choice — Stream only
// cares that the two Directions never share a counter.
func NewStream(encAEAD, decAEAD aead.Aead) *Stream {
	return &Stream{
		enc:     NewDirection(encAEAD),
		dec:     NewDirection(decAEAD),
		stage:   stageNoncePrefix,
		accNeed: NonceSize,
	}
}

// Send seals plaintext and writes it to the wire via write, emitting the
// direction's nonce prefix first if this is the first call on the stream.
func (s *Stream) Send(write func([]byte) error, plaintext []byte) error {
	if len(plaintext) > MaxRecordLength {
		return ErrSendTooLarge
	}

	if !s.enc.Seeded() {
		prefix, err := s.enc.SeedRandom()
		if err != nil {
			return err
		}
		if err := write(prefix); err != nil {
			return err
		}
	}

	if err := write(s.enc.EncodeLength(len(plaintext))); err != nil {
		return err
	}
	return write(s.enc.Seal(nil, plaintext))
}

// Recv drives the receive state machine using read, a non-blocking read
// function returning (0, nil) when no more bytes are currently available.
// It returns the plaintext length of the next complete record once one is
// assembled, copied to the start of out (ErrBufferTooSmall if len(out) is
// shorter than the record), or (0, nil) if the record is still being
// assembled.
//
// Once Recv returns a non-nil error the decrypt counter may have advanced
// past a record it never delivered; the Stream is desynced from its peer
// and the connection must be torn down rather than retried.
func (s *Stream) Recv(read func([]byte) (int, error), out []byte) (int, error) {
	for {
		if len(s.acc) < s.accNeed {
			if s.acc == nil {
				s.acc = make([]byte, 0, s.accNeed)
			}
			n, err := read(s.acc[len(s.acc):cap(s.acc)])
			if err != nil {
				return 0, err
			}
			s.acc = s.acc[:len(s.acc)+n]
			if len(s.acc) < s.accNeed {
				return 0, nil
			}
		}

		switch s.stage {
		case stageNoncePrefix:
			s.dec.Seed(s.acc)
			s.stage = stageHead
			s.accNeed = HeadSize(s.dec.aead)
			s.acc = nil

		case stageHead:
			l, err := s.dec.DecodeLength(s.acc)
			if err != nil {
				return 0, err
			}
			if l == 0 {
				return 0, ErrDecryptFailed
			}
			s.bodyLen = l
			s.stage = stageBody
			s.accNeed = l + s.dec.aead.Overhead()
			s.acc = nil

		case stageBody:
			plain, err := s.dec.Open(nil, s.acc)
			if err != nil {
				return 0, err
			}
			n := len(plain)
			if n > len(out) {
				return 0, ErrBufferTooSmall
			}
			copy(out, plain)
			s.bodyLen = 0
			s.stage = stageHead
			s.accNeed = HeadSize(s.dec.aead)
			s.acc = nil
			return n, nil
		}
	}
}
