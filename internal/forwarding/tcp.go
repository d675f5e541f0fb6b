//go:build linux

package forwarding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"subtun/internal/ipheader"
	"subtun/internal/logging"
	"subtun/internal/session"
	"subtun/internal/stcp"
	"subtun/internal/tun"
)

// ClientTCPPipeline forwards packets between tun and a single secure TCP
// connection to the server.
func ClientTCPPipeline(ctx context.Context, dev tun.Device, conn *stcp.Conn, log logging.Logger) error {
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
				return fmt.Errorf("forwarding: tcp recv: %w", err)
			}
			if _, err := dev.Write(buf[:n]); err != nil {
				log.Printf("client net2tun: tun write: %v", err)
			}
		}
	})

	g.Go(func() error { return drainTCPBacklog(ctx, conn) })

	return g.Wait()
}

// drainTCPBacklog waits for Send to report that it buffered bytes the
// kernel socket couldn't immediately accept, then drains the backlog via
// WaitWritable/OnWritable until empty. Without this, a full write buffer
// can never shrink and every later Send fails with
// stcp.ErrWriteBufferOverflow for the life of the connection.
func drainTCPBacklog(ctx context.Context, conn *stcp.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Backlog():
		}
		for conn.NeedsWritableWait() {
			if err := conn.WaitWritable(); err != nil {
				return fmt.Errorf("forwarding: tcp wait writable: %w", err)
			}
			if err := conn.OnWritable(); err != nil {
				return fmt.Errorf("forwarding: tcp drain write buffer: %w", err)
			}
		}
	}
}

// ServerTCPPipeline accepts TCP connections and forwards packets between
// them and tun. Each accepted connection gets its own reader goroutine
// blocking on its private epoll-backed Conn.Recv; the session table routes
// outbound packets (read from tun) to the right peer connection, keyed by
// inner virtual IP.
func ServerTCPPipeline(ctx context.Context, dev tun.Device, ln *net.TCPListener, sessions *session.Table, newConn func(*net.TCPConn) (*stcp.Conn, error), log logging.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		for {
			raw, err := ln.AcceptTCP()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("server accept: %v", err)
				continue
			}

			conn, err := newConn(raw)
			if err != nil {
				log.Printf("server accept: %v", err)
				continue
			}

			g.Go(func() error {
				servePeerConn(ctx, dev, conn, sessions, log)
				return nil
			})
		}
	})

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

			if err := peer.(*stcp.Conn).Send(buf[:n]); err != nil {
				log.Printf("server tun2net: %v", err)
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

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// servePeerConn runs one accepted peer's reader and write-backlog drain
// side by side, in their own errgroup scoped to this connection, so that
// one peer disconnecting doesn't cancel the shared server context and
// take down every other peer's connection with it.
func servePeerConn(ctx context.Context, dev tun.Device, conn *stcp.Conn, sessions *session.Table, log logging.Logger) {
	peerG, peerCtx := errgroup.WithContext(ctx)
	peerG.Go(func() error { return serveTCPPeer(peerCtx, dev, conn, sessions, log) })
	peerG.Go(func() error { return drainTCPBacklog(peerCtx, conn) })
	if err := peerG.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("server tcp peer: %v", err)
	}
}

func serveTCPPeer(ctx context.Context, dev tun.Device, conn *stcp.Conn, sessions *session.Table, log logging.Logger) error {
	defer conn.Close()

	buf := make([]byte, bufferSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := conn.Recv(buf)
		if err != nil {
			return fmt.Errorf("forwarding: tcp recv: %w", err)
		}

		src, err := ipheader.Src(buf[:n])
		if err != nil {
			log.Printf("server net2tun: %v", err)
			continue
		}
		sessions.Put(src, conn)

		if _, err := dev.Write(buf[:n]); err != nil {
			log.Printf("server net2tun: tun write: %v", err)
		}
	}
}
