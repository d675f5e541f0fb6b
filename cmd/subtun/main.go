//go:build linux

// Command subtun runs one side of a minimal authenticated layer-3 tunnel:
// `subtun client <addr>` dials a server, `subtun server <addr>` listens for
// peers. See the subtun internal/ packages for the pieces this wires
// together.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"subtun/internal/aead"
	"subtun/internal/forwarding"
	"subtun/internal/logging"
	"subtun/internal/session"
	"subtun/internal/settings"
	"subtun/internal/stcp"
	"subtun/internal/sudp"
	"subtun/internal/tun/tunlinux"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := flag.NewFlagSet("subtun", flag.ContinueOnError)
	keyPath := flagSet.String("key", "", "path to a file holding the raw symmetric key")
	algo := flagSet.String("algo", "", "AEAD algorithm: aes-128-gcm or chacha20-poly1305 (default chacha20-poly1305)")
	tcpMode := flagSet.Bool("tcp", false, "use TCP transport instead of UDP")
	tunName := flagSet.String("tun", settings.DefaultTunName, "TUN interface name")
	mtu := flagSet.Int("mtu", settings.DefaultEthernetMTU, "TUN interface MTU (stored in the settings; not applied to the interface)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	args := flagSet.Args()
	if len(args) != 2 {
		return fmt.Errorf("usage: %s {client|server} <addr>", os.Args[0])
	}

	mode, err := settings.ParseMode(args[0])
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddrPort(args[1])
	if err != nil {
		return fmt.Errorf("parse address %q: %w", args[1], err)
	}
	algorithm, err := settings.ParseAlgorithm(*algo)
	if err != nil {
		return err
	}
	key, err := settings.LoadKey(*keyPath)
	if err != nil {
		return err
	}

	cfg := settings.Settings{
		Mode:          mode,
		Addr:          addr,
		TCP:           *tcpMode,
		Algorithm:     algorithm,
		Key:           key,
		TunName:       *tunName,
		MTU:           *mtu,
		SessionTTL:    settings.DefaultSessionTTL,
		SweepInterval: settings.DefaultSweepInterval,
	}

	log := logging.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("interrupt received, shutting down")
		cancel()
	}()

	dev, err := tunlinux.Open(cfg.TunName)
	if err != nil {
		return fmt.Errorf("open tun: %w", err)
	}
	defer dev.Close()
	log.Printf("tun device %q up", dev.Name())

	a, err := aead.New(string(cfg.Algorithm), cfg.Key)
	if err != nil {
		return fmt.Errorf("build aead: %w", err)
	}

	switch {
	case cfg.Mode == settings.Client && !cfg.TCP:
		conn, err := sudp.DialClient(cfg.Addr, a)
		if err != nil {
			return fmt.Errorf("dial server: %w", err)
		}
		defer conn.Close()
		return forwarding.ClientUDPPipeline(ctx, dev, conn, log)

	case cfg.Mode == settings.Server && !cfg.TCP:
		sock, err := sudp.ListenServer(cfg.Addr, a)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		defer sock.Close()
		sessions := session.NewTable(cfg.SessionTTL)
		return forwarding.ServerUDPPipeline(ctx, dev, sock, sessions, log)

	case cfg.Mode == settings.Client && cfg.TCP:
		raw, err := net.DialTCP("tcp", nil, net.TCPAddrFromAddrPort(cfg.Addr))
		if err != nil {
			return fmt.Errorf("dial server: %w", err)
		}
		conn, err := stcp.FromTCPConn(raw, a, a)
		if err != nil {
			return fmt.Errorf("wrap tcp conn: %w", err)
		}
		defer conn.Close()
		return forwarding.ClientTCPPipeline(ctx, dev, conn, log)

	default: // server, TCP
		ln, err := net.ListenTCP("tcp", net.TCPAddrFromAddrPort(cfg.Addr))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		sessions := session.NewTable(cfg.SessionTTL)
		newConn := func(raw *net.TCPConn) (*stcp.Conn, error) {
			return stcp.FromTCPConn(raw, a, a)
		}
		return forwarding.ServerTCPPipeline(ctx, dev, ln, sessions, newConn, log)
	}
}
