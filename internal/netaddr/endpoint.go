// Package netaddr parses the outer transport endpoints this tunnel dials and
// listens on ("A.B.C.D:port" or "[v6]:port").
package netaddr

import (
	"errors"
	"fmt"
	"net/netip"
)

// ErrAddrParse is returned for any malformed endpoint string.
var ErrAddrParse = errors.New("addr: malformed endpoint")

// Family identifies whether an Endpoint carries a v4 or v6 address.
type Family int

const (
	V4 Family = iota
	V6
)

// Endpoint is a value-typed outer transport address: an IP family, the raw
// address bytes, and a port. It is cheap to copy and compare.
type Endpoint struct {
	Family Family
	IP     netip.Addr
	Port   uint16
}

// Parse parses a literal "host:port" endpoint. IPv6 hosts must be bracketed,
// e.g. "[::1]:65535". Trailing garbage or a missing port both fail with
// ErrAddrParse.
func Parse(s string) (Endpoint, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %s: %v", ErrAddrParse, s, err)
	}

	addr := ap.Addr()
	family := V4
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	if addr.Is6() {
		family = V6
	}

	return Endpoint{Family: family, IP: addr, Port: ap.Port()}, nil
}

// AddrPort returns the netip.AddrPort form used by the socket layer.
func (e Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.IP, e.Port)
}

func (e Endpoint) String() string {
	return e.AddrPort().String()
}
