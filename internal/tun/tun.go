// Package tun defines the platform-independent TUN device contract; see
// tunlinux for the Linux implementation.
package tun

import "io"

// Device is a layer-3 network interface: Read yields one inbound IP packet
// per call, Write sends one outbound IP packet per call.
type Device interface {
	io.ReadWriteCloser
	// Name returns the kernel-assigned interface name (e.g. "subtun0").
	Name() string
}
