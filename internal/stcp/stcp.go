//go:build linux

// Package stcp implements the secure TCP stream: a non-blocking socket,
// an aeaditer.Stream for framing and encryption, and a bounded ring buffer
// absorbing partial writes so Send never blocks the caller.
package stcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"subtun/internal/aead"
	"subtun/internal/aeaditer"
	"subtun/internal/readiness"
	"subtun/internal/ringbuf"
)

// writeBufferCap bounds how much unsent data Send will buffer before
// reporting backpressure to the caller instead of blocking.
const writeBufferCap = 4096

// ErrWriteBufferOverflow is returned by Send when the outbound ring buffer
// cannot absorb a partially written record.
var ErrWriteBufferOverflow = errors.New("stcp: write buffer overflow")

// Conn is one secure TCP connection: a duplicated non-blocking socket fd,
// an epoll-backed readiness waiter, a length-framed AEAD stream, and a
// write-side ring buffer for backpressure. writeMu serializes every access
// to writeBuf and every write(2) against fd: Send (from the tun->net
// goroutine) and OnWritable (from the write-backlog drain goroutine) both
// reach the same buffer and the same descriptor, and without this lock
// their writes could interleave on the wire out of order.
type Conn struct {
	fd       int
	waiter   *readiness.Waiter
	writeMu  sync.Mutex
	writeBuf *ringbuf.Buffer
	stream   *aeaditer.Stream
	backlog  chan struct{}
}

// FromTCPConn takes ownership of a dup'd descriptor from conn, switches it
// to non-blocking mode, and wraps it for sealed framed I/O. The original
// net.TCPConn is closed; the duplicate outlives it.
func FromTCPConn(conn *net.TCPConn, encAEAD, decAEAD aead.Aead) (*Conn, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("stcp: SyscallConn: %w", err)
	}

	var dupFD int
	var dupErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		dupFD, dupErr = unix.Dup(int(fd))
	})
	if ctrlErr != nil {
		return nil, fmt.Errorf("stcp: raw control: %w", ctrlErr)
	}
	if dupErr != nil {
		return nil, fmt.Errorf("stcp: dup fd: %w", dupErr)
	}
	_ = conn.Close()

	return newFromFD(dupFD, encAEAD, decAEAD)
}

func newFromFD(fd int, encAEAD, decAEAD aead.Aead) (*Conn, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("stcp: set nonblock: %w", err)
	}

	waiter, err := readiness.New(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	return &Conn{
		fd:       fd,
		waiter:   waiter,
		writeBuf: ringbuf.New(writeBufferCap),
		stream:   aeaditer.NewStream(encAEAD, decAEAD),
		backlog:  make(chan struct{}, 1),
	}, nil
}

// Close releases the readiness waiter and underlying descriptor.
func (c *Conn) Close() error {
	waiterErr := c.waiter.Close()
	fdErr := unix.Close(c.fd)
	if waiterErr != nil {
		return waiterErr
	}
	return fdErr
}

func (c *Conn) rawWrite(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.writeBuf.Empty() {
		return c.bufferOrOverflowLocked(p)
	}

	n, err := unix.Write(c.fd, p)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			n = 0
		} else {
			return err
		}
	}
	if n < len(p) {
		return c.bufferOrOverflowLocked(p[n:])
	}
	return nil
}

// bufferOrOverflowLocked requires writeMu to already be held.
func (c *Conn) bufferOrOverflowLocked(p []byte) error {
	if len(p) > c.writeBuf.Free() {
		return ErrWriteBufferOverflow
	}
	if err := c.writeBuf.Append(p); err != nil {
		return err
	}
	select {
	case c.backlog <- struct{}{}:
	default:
	}
	return nil
}

// Send seals plaintext and writes it to the wire, buffering any portion the
// kernel socket buffer can't immediately absorb. Returns
// ErrWriteBufferOverflow if that buffer lacks free space for the bytes
// left unwritten.
func (c *Conn) Send(plaintext []byte) error {
	return c.stream.Send(c.rawWrite, plaintext)
}

func (c *Conn) rawRead(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Recv blocks (via epoll) until a complete record has been assembled and
// decrypted into out, returning its plaintext length.
func (c *Conn) Recv(out []byte) (int, error) {
	for {
		n, err := c.stream.Recv(c.rawRead, out)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return n, nil
		}
		if err := c.waiter.WaitReadable(); err != nil {
			return 0, err
		}
	}
}

// OnWritable drains as much of the buffered backlog as the socket will
// currently accept. Call this after WaitWritable returns, or on an
// EPOLLOUT edge from an external event loop.
func (c *Conn) OnWritable() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.writeBuf.PollFunc(func(buf []byte) (int, error) {
		n, werr := unix.Write(c.fd, buf)
		if werr != nil {
			if errors.Is(werr, unix.EAGAIN) || errors.Is(werr, unix.EWOULDBLOCK) {
				return 0, nil
			}
			return 0, werr
		}
		return n, nil
	})
	return err
}

// NeedsWritableWait reports whether buffered bytes remain, i.e. whether the
// caller should keep waiting on write-readiness.
func (c *Conn) NeedsWritableWait() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return !c.writeBuf.Empty()
}

// WaitWritable blocks until the socket is writable.
func (c *Conn) WaitWritable() error { return c.waiter.WaitWritable() }

// Backlog signals once whenever Send buffers bytes it could not write
// immediately, letting a writer goroutine block instead of polling
// NeedsWritableWait in a busy loop. The channel is 1-buffered: a pending
// signal is consumed by a single WaitWritable/OnWritable drain pass, and
// NeedsWritableWait still reports accurately if more arrived meanwhile.
func (c *Conn) Backlog() <-chan struct{} { return c.backlog }
