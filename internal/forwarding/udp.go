// Package forwarding wires together a TUN device, a transport (sudp or
// stcp), and — on the server side — the session table, into the four
// pipelines named by the tunnel's operating modes: client/server crossed
// with UDP/TCP.
package forwarding

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"

	"subtun/internal/ipheader"
	"subtun/internal/logging"
	"subtun/internal/session"
	"subtun/internal/sudp"
	"subtun/internal/tun"
)

const bufferSize = 4096

// ClientUDPPipeline forwards packets between tun and a single UDP peer
// connection until ctx is canceled or a worker goroutine returns an error.
func ClientUDPPipeline(ctx context.Context, dev tun.Device, conn *sudp.ClientConn, log logging.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		buf := make([]byte, bufferSize)
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n, err := dev.Read(buf)
			if err != nil {
				return fmt.Errorf("forwarding: tun read: %w", err)
			}
			if err := conn.Send(buf[:n]); err != nil {
				log.Printf("client tun2net: %v", err)
			}
		}
	})

	g.Go(func() error {
		buf := make([]byte, bufferSize)
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n, err := conn.Recv(buf)
			if err != nil {
				log.Printf("client net2tun: %v", err)
				continue
			}
			if _, err := dev.Write(buf[:n]); err != nil {
				log.Printf("client net2tun: tun write: %v", err)
			}
		}
	})

	return g.Wait()
}

// ServerUDPPipeline forwards packets between tun and many UDP peers,
// learning each peer's outer address from the inner source IP of the
// packets it sends and recording it in the session table.
func ServerUDPPipeline(ctx context.Context, dev tun.Device, sock *sudp.ServerSocket, sessions *session.Table, log logging.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		buf := make([]byte, bufferSize)
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n, err := dev.Read(buf)
			if err != nil {
				return fmt.Errorf("forwarding: tun read: %w", err)
			}

			dst, err := ipheader.Dst(buf[:n])
			if err != nil {
				log.Printf("server tun2net: %v", err)
				continue
			}

			peer, err := sessions.Get(dst)
			if err != nil {
				log.Printf("server tun2net: %v", err)
				continue
			}

			if err := sock.SendTo(buf[:n], peer.(netip.AddrPort)); err != nil {
				log.Printf("server tun2net: %v", err)
			}
		}
	})

	g.Go(func() error {
		buf := make([]byte, bufferSize)
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n, from, err := sock.RecvFrom(buf)
			if err != nil {
				log.Printf("server net2tun: %v", err)
				continue
			}

			src, err := ipheader.Src(buf[:n])
			if err != nil {
				log.Printf("server net2tun: %v", err)
				continue
			}
			sessions.Put(src, from)

			if _, err := dev.Write(buf[:n]); err != nil {
				log.Printf("server net2tun: tun write: %v", err)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				sessions.Sweep()
			}
		}
	})

	return g.Wait()
}
