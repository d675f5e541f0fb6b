//go:build linux

// Package readiness implements an epoll-driven readiness loop for the
// non-blocking TCP dataplane: registering a file descriptor here lets a
// caller block until it is readable or writable without mixing that wait
// with a blocking read(2)/write(2) on the same socket.
package readiness

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Waiter blocks a caller until a registered descriptor becomes readable or
// writable. Read-readiness and write-readiness are tracked on two separate
// epoll instances, mirroring the reasoning that EPOLLOUT is almost always
// asserted and would otherwise starve EPOLLIN wakeups if merged.
type Waiter struct {
	epIn, epOut int
	fd          int
	closed      atomic.Bool
}

// New registers fd (which must already be non-blocking) for readiness
// notification.
func New(fd int) (*Waiter, error) {
	epIn, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("readiness: epoll_create(in): %w", err)
	}
	epOut, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		_ = unix.Close(epIn)
		return nil, fmt.Errorf("readiness: epoll_create(out): %w", err)
	}

	inEv := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLERR | unix.EPOLLHUP, Fd: int32(fd)}
	if err := unix.EpollCtl(epIn, unix.EPOLL_CTL_ADD, fd, &inEv); err != nil {
		_ = unix.Close(epIn)
		_ = unix.Close(epOut)
		return nil, fmt.Errorf("readiness: epoll_ctl(in): %w", err)
	}

	outEv := unix.EpollEvent{Events: unix.EPOLLOUT | unix.EPOLLERR | unix.EPOLLHUP, Fd: int32(fd)}
	if err := unix.EpollCtl(epOut, unix.EPOLL_CTL_ADD, fd, &outEv); err != nil {
		_ = unix.Close(epIn)
		_ = unix.Close(epOut)
		return nil, fmt.Errorf("readiness: epoll_ctl(out): %w", err)
	}

	return &Waiter{epIn: epIn, epOut: epOut, fd: fd}, nil
}

// WaitReadable blocks until fd is readable, returns io.EOF on a peer
// hangup/error condition, or io.ErrClosedPipe once Close has been called.
func (w *Waiter) WaitReadable() error { return w.wait(w.epIn, unix.EPOLLIN) }

// WaitWritable blocks until fd is writable, returns io.EOF on a peer
// hangup/error condition, or io.ErrClosedPipe once Close has been called.
func (w *Waiter) WaitWritable() error { return w.wait(w.epOut, unix.EPOLLOUT) }

func (w *Waiter) wait(ep int, want uint32) error {
	var evs [1]unix.EpollEvent
	for {
		n, err := unix.EpollWait(ep, evs[:], -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			if errors.Is(err, unix.EBADF) || w.closed.Load() {
				return io.ErrClosedPipe
			}
			return err
		}
		if n <= 0 {
			continue
		}
		ev := evs[0].Events
		if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			return io.EOF
		}
		if ev&want != 0 {
			return nil
		}
	}
}

// Close releases both epoll instances. A WaitReadable or WaitWritable call
// made after Close returns io.ErrClosedPipe; a call already blocked in
// epoll_wait is not woken by Close.
func (w *Waiter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	if err := unix.Close(w.epIn); err != nil {
		firstErr = err
	}
	if err := unix.Close(w.epOut); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
