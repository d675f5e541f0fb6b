// Package sudp wraps a UDP socket with per-datagram AEAD sealing, giving
// both the client's single-peer dial socket and the server's multi-peer
// listen socket the same authenticated-datagram interface.
package sudp

import (
	"fmt"
	"net"
	"net/netip"

	"subtun/internal/aead"
	"subtun/internal/aeadindep"
)

// MaxDatagram is the largest plaintext payload this package will seal into
// a single UDP datagram, equal to the tunnel's default 1500-byte MTU.
const MaxDatagram = 1500

// ClientConn is a connected UDP socket to a single fixed peer, used by
// the client side of the tunnel. Send and Recv are called concurrently
// from the tun->net and net->tun goroutines, so each keeps its own scratch
// buffer rather than sharing one.
type ClientConn struct {
	conn    *net.UDPConn
	aead    aead.Aead
	sendBuf []byte
	recvBuf []byte
}

// DialClient connects a UDP socket to addr and wraps it for sealed
// read/write of inner IP packets.
func DialClient(addr netip.AddrPort, a aead.Aead) (*ClientConn, error) {
	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, fmt.Errorf("sudp: dial %s: %w", addr, err)
	}
	return &ClientConn{
		conn:    conn,
		aead:    a,
		sendBuf: make([]byte, MaxDatagram+aeadindep.Overhead(a)),
		recvBuf: make([]byte, MaxDatagram+aeadindep.Overhead(a)),
	}, nil
}

// Send seals plaintext and writes it as a single datagram to the peer.
func (c *ClientConn) Send(plaintext []byte) error {
	sealed, err := aeadindep.SealInto(c.aead, c.sendBuf, plaintext)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(c.sendBuf[:sealed])
	return err
}

// Recv reads one datagram and opens it into dst, returning the plaintext
// length.
func (c *ClientConn) Recv(dst []byte) (int, error) {
	n, err := c.conn.Read(c.recvBuf)
	if err != nil {
		return 0, err
	}
	plain, err := aeadindep.Open(c.aead, dst[:0], c.recvBuf[:n])
	if err != nil {
		return 0, err
	}
	return len(plain), nil
}

// Close releases the underlying socket.
func (c *ClientConn) Close() error { return c.conn.Close() }

// ServerSocket is a single UDP listen socket shared by every peer on the
// server side; each Recv reports which peer the datagram came from so the
// caller can look up (or create) that peer's session. RecvFrom and SendTo
// are called concurrently from the net->tun and tun->net goroutines, so
// each keeps its own scratch buffer rather than sharing one.
type ServerSocket struct {
	conn    *net.UDPConn
	aead    aead.Aead
	sendBuf []byte
	recvBuf []byte
}

// ListenServer opens a UDP listen socket on addr.
func ListenServer(addr netip.AddrPort, a aead.Aead) (*ServerSocket, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, fmt.Errorf("sudp: listen %s: %w", addr, err)
	}
	return &ServerSocket{
		conn:    conn,
		aead:    a,
		sendBuf: make([]byte, MaxDatagram+aeadindep.Overhead(a)),
		recvBuf: make([]byte, MaxDatagram+aeadindep.Overhead(a)),
	}, nil
}

// LocalAddr returns the socket's bound local address, useful when the
// caller let the kernel pick an ephemeral port.
func (s *ServerSocket) LocalAddr() netip.AddrPort {
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// RecvFrom reads one datagram, opens it into dst, and reports the sending
// peer's address alongside the plaintext length.
func (s *ServerSocket) RecvFrom(dst []byte) (int, netip.AddrPort, error) {
	n, from, _, _, err := s.conn.ReadMsgUDPAddrPort(s.recvBuf, nil)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	plain, err := aeadindep.Open(s.aead, dst[:0], s.recvBuf[:n])
	if err != nil {
		return 0, from, err
	}
	return len(plain), from, nil
}

// SendTo seals plaintext and writes it to the given peer.
func (s *ServerSocket) SendTo(plaintext []byte, to netip.AddrPort) error {
	sealed, err := aeadindep.SealInto(s.aead, s.sendBuf, plaintext)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDPAddrPort(s.sendBuf[:sealed], to)
	return err
}

// Close releases the underlying socket.
func (s *ServerSocket) Close() error { return s.conn.Close() }
