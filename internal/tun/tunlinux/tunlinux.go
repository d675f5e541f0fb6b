//go:build linux

// Package tunlinux opens a Linux TUN device by issuing the TUNSETIFF ioctl
// against /dev/net/tun, the same primitive every userspace tunnel on Linux
// relies on.
package tunlinux

import (
	"fmt"
	"os"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"subtun/internal/tun"
)

const (
	ifNameSize = unix.IFNAMSIZ
	tunSetIff  = 0x400454ca
	iffTun     = 0x0001
	iffNoPI    = 0x1000
	devTunPath = "/dev/net/tun"
)

// ifReq mirrors the kernel's struct ifreq as used by the TUNSETIFF ioctl:
// an interface name followed by the request's flags, padded out to the
// kernel's expected struct size.
type ifReq struct {
	Name  [ifNameSize]byte
	Flags uint16
	pad   [22]byte
}

// Commander issues the raw ioctl syscall. Abstracted so tests can stub it
// out without a real kernel TUN device.
type Commander interface {
	Ioctl(fd, request, arg uintptr) (uintptr, uintptr, unix.Errno)
}

// SyscallCommander issues ioctl via the real kernel syscall interface.
type SyscallCommander struct{}

func (SyscallCommander) Ioctl(fd, request, arg uintptr) (uintptr, uintptr, unix.Errno) {
	return unix.Syscall(unix.SYS_IOCTL, fd, request, arg)
}

// Device is a Linux TUN device backed by an open file descriptor.
type Device struct {
	file *os.File
	name string
}

var _ tun.Device = (*Device)(nil)

// Open creates (or attaches to) the named TUN device in IFF_TUN|IFF_NO_PI
// mode: the kernel hands back raw IP packets with no extra framing.
func Open(name string) (*Device, error) {
	return OpenWith(SyscallCommander{}, name)
}

// OpenWith is Open with an injectable Commander, for tests.
func OpenWith(cmd Commander, name string) (*Device, error) {
	f, err := os.OpenFile(devTunPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tunlinux: open %s: %w", devTunPath, err)
	}

	var req ifReq
	copy(req.Name[:], name)
	req.Flags = iffTun | iffNoPI

	if _, _, errno := cmd.Ioctl(f.Fd(), uintptr(tunSetIff), uintptr(unsafe.Pointer(&req))); errno != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("tunlinux: TUNSETIFF %s: %w", name, errno)
	}

	assigned := strings.TrimRight(string(req.Name[:]), "\x00")
	if assigned == "" {
		assigned = name
	}

	return &Device{file: f, name: assigned}, nil
}

// Read returns one inbound IP packet per call.
func (d *Device) Read(p []byte) (int, error) { return d.file.Read(p) }

// Write sends one outbound IP packet per call.
func (d *Device) Write(p []byte) (int, error) { return d.file.Write(p) }

// Close releases the underlying file descriptor.
func (d *Device) Close() error { return d.file.Close() }

// Name returns the kernel-assigned interface name.
func (d *Device) Name() string { return d.name }

// Fd exposes the raw file descriptor for epoll registration.
func (d *Device) Fd() uintptr { return d.file.Fd() }

// SetNonblock toggles O_NONBLOCK on the underlying descriptor, required
// before registering the device with an epoll-driven readiness loop.
func (d *Device) SetNonblock(nonblocking bool) error {
	return unix.SetNonblock(int(d.file.Fd()), nonblocking)
}
