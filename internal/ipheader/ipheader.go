// Package ipheader extracts the source and destination addresses carried
// inside a raw IPv4 or IPv6 packet, as read off a TUN device.
package ipheader

import (
	"errors"
	"net/netip"
)

// ErrNotAnIPPacket is returned when the version nibble of a packet is
// neither 4 nor 6.
var ErrNotAnIPPacket = errors.New("ipheader: not an IP packet")

const (
	v4SrcOffset = 12
	v4DstOffset = 16
	v6SrcOffset = 8
	v6DstOffset = 24
)

func version(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, ErrNotAnIPPacket
	}
	v := b[0] >> 4
	if v != 4 && v != 6 {
		return 0, ErrNotAnIPPacket
	}
	return int(v), nil
}

// Src returns the packet's inner source IP.
func Src(packet []byte) (netip.Addr, error) {
	v, err := version(packet)
	if err != nil {
		return netip.Addr{}, err
	}
	if v == 4 {
		if len(packet) < v4SrcOffset+4 {
			return netip.Addr{}, ErrNotAnIPPacket
		}
		return netip.AddrFrom4([4]byte(packet[v4SrcOffset : v4SrcOffset+4])), nil
	}
	if len(packet) < v6SrcOffset+16 {
		return netip.Addr{}, ErrNotAnIPPacket
	}
	return netip.AddrFrom16([16]byte(packet[v6SrcOffset : v6SrcOffset+16])), nil
}

// Dst returns the packet's inner destination IP.
func Dst(packet []byte) (netip.Addr, error) {
	v, err := version(packet)
	if err != nil {
		return netip.Addr{}, err
	}
	if v == 4 {
		if len(packet) < v4DstOffset+4 {
			return netip.Addr{}, ErrNotAnIPPacket
		}
		return netip.AddrFrom4([4]byte(packet[v4DstOffset : v4DstOffset+4])), nil
	}
	if len(packet) < v6DstOffset+16 {
		return netip.Addr{}, ErrNotAnIPPacket
	}
	return netip.AddrFrom16([16]byte(packet[v6DstOffset : v6DstOffset+16])), nil
}
