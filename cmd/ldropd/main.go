// Package main is a thin wiring entry point for exercising the LDRP
// session drivers end to end over a real TLS socket. It is a smoke
// test harness, not the product CLI/TUI described in the spec's
// Non-goals.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sanchxt/ldrop/pkg/config"
	"github.com/sanchxt/ldrop/pkg/constants"
	"github.com/sanchxt/ldrop/pkg/crypto"
	"github.com/sanchxt/ldrop/pkg/discovery"
	"github.com/sanchxt/ldrop/pkg/identity"
	"github.com/sanchxt/ldrop/pkg/logging"
	"github.com/sanchxt/ldrop/pkg/session"
	"github.com/sanchxt/ldrop/pkg/sharecode"
	"github.com/sanchxt/ldrop/pkg/transport"
	"github.com/sanchxt/ldrop/pkg/wire"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "send":
		err = sendCommand(os.Args[2:])
	case "receive":
		err = receiveCommand(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Println("ldropd (dev)")
		return
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`ldropd - LDRP session smoke harness

Usage:
  ldropd send <file> [bind-addr]   Host a share: listen, broadcast via discovery, wait for the code
  ldropd receive [fallback-host:port]   Find a share by code via discovery, or dial the fallback address if nothing answers
  ldropd version                   Show version information`)
}

// sendCommand plays the Host role of §4.H's data flow: it creates the
// share session, opens a listener, and starts the Discovery broadcaster
// so a receiver can find it by code without being told an address.
func sendCommand(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ldropd send <file> [bind-addr]")
	}
	path := args[0]
	bindAddr := "0.0.0.0:0"
	if len(args) >= 2 {
		bindAddr = args[1]
	}
	log := logging.New("ldropd-send")

	cfg := config.DefaultConfig()
	id, err := identity.Load(cfg.IdentityPath)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	tlsConfig, err := crypto.NewSelfSignedTLSConfig("ldrop-peer")
	if err != nil {
		return fmt.Errorf("build tls config: %w", err)
	}

	code, err := sharecode.New()
	if err != nil {
		return fmt.Errorf("generate share code: %w", err)
	}
	fmt.Printf("Share code: %s\n", code.String())

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	listener, err := transport.Listen(ctx, bindAddr, tlsConfig)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", bindAddr, err)
	}
	defer listener.Close()

	port := 0
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	broadcaster, err := discovery.NewBroadcaster(discovery.Packet{
		Code:       code.String(),
		DeviceID:   id.DeviceID(),
		DeviceName: "ldropd",
		Port:       port,
		FileCount:  1,
		TotalSize:  info.Size(),
	}, constants.DefaultDiscoveryPort, constants.DefaultBroadcastPeriod)
	if err != nil {
		return fmt.Errorf("start discovery broadcaster: %w", err)
	}
	defer broadcaster.Stop()

	fmt.Printf("Broadcasting on port %d, waiting for a receiver...\n", port)

	conn, err := listener.Accept(ctx)
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()

	s := session.New(session.KindShare, conn, info.Size())
	local := session.HelloInfo{Name: "ldropd", DeviceID: id.DeviceID(), PubKey: id.PublicKeyBase64()}
	files := []session.ShareFile{{Path: path, RelativePath: filepath.Base(path), Size: info.Size()}}

	log.Info().Str("bind", bindAddr).Str("file", path).Msg("starting share")
	if err := session.RunShareSender(s, code, local, files, ""); err != nil {
		return fmt.Errorf("share failed: %w", err)
	}
	fmt.Println("Transfer complete")
	return nil
}

// receiveCommand plays the receive role of §4.H's data flow: given the
// code, it runs Discovery.Find (UDP broadcast + mDNS) to locate the
// host, falling back to a directly supplied address if discovery times
// out, then dials in.
func receiveCommand(args []string) error {
	log := logging.New("ldropd-receive")

	cfg := config.DefaultConfig()
	id, err := identity.Load(cfg.IdentityPath)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	tlsConfig, err := crypto.NewSelfSignedTLSConfig("ldrop-peer")
	if err != nil {
		return fmt.Errorf("build tls config: %w", err)
	}

	fmt.Print("Enter the code shown by the sender: ")
	var codeInput string
	if _, err := fmt.Scanln(&codeInput); err != nil {
		return fmt.Errorf("read code: %w", err)
	}
	code, err := sharecode.Parse(codeInput)
	if err != nil {
		return fmt.Errorf("invalid code: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var addr string
	var totalSize int64
	fmt.Println("Searching for the share on the LAN...")
	pkt, ip, findErr := discovery.Find(ctx, code.String(), constants.DefaultDiscoveryPort, constants.DefaultDiscoveryTimeout)
	switch {
	case findErr == nil:
		addr = fmt.Sprintf("%s:%d", ip.String(), pkt.Port)
		totalSize = pkt.TotalSize
		log.Info().Str("addr", addr).Str("device", pkt.DeviceName).Msg("found share via discovery, dialing")
	case len(args) >= 1:
		// nothing answered on the LAN broadcast/mDNS channels within
		// the timeout (e.g. a different subnet); fall back to the
		// address the user already knows, full host:port since a
		// bare discovered IP is not available here.
		addr = args[0]
		log.Info().Str("addr", addr).Msg("discovery timed out, dialing fallback address")
	default:
		return fmt.Errorf("locate share: %w", findErr)
	}

	conn, err := transport.Dial(ctx, addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	outputDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}

	s := session.New(session.KindReceive, conn, totalSize)
	local := session.HelloInfo{Name: "ldropd", DeviceID: id.DeviceID(), PubKey: id.PublicKeyBase64()}

	log.Info().Str("addr", addr).Msg("connected, awaiting handshake")
	err = session.RunShareReceiver(s, code, local, outputDir, func(list wire.FileListPayload) session.ReceiveDecision {
		fmt.Printf("Incoming share: %d file(s)\n", len(list.Files))
		return session.ReceiveDecision{Accept: true}
	})
	if err != nil {
		return fmt.Errorf("receive failed: %w", err)
	}
	fmt.Println("Transfer complete")
	return nil
}
