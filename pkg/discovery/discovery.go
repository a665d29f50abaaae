// Package discovery implements the Discovery component (§4.D): periodic
// UDP broadcast of a beacon, mDNS advertisement, and a listener that
// matches incoming packets by share code or target device-id. The
// beacon is plain JSON and carries no signature.
package discovery

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/sanchxt/ldrop/pkg/constants"
	"github.com/sanchxt/ldrop/pkg/ldroperr"
	"github.com/sanchxt/ldrop/pkg/logging"
)

// Packet is the DiscoveryPacket / DeviceBeacon record (§3): a code- or
// device-id-targeted announcement carrying either a file summary or a
// trusted "looking for" / "ready to receive" handshake flag.
type Packet struct {
	Code           string `json:"code,omitempty"`
	DeviceID       string `json:"device_id"`
	DeviceName     string `json:"device_name"`
	Port           int    `json:"port"`
	FileCount      int    `json:"file_count,omitempty"`
	TotalSize      int64  `json:"total_size,omitempty"`
	LookingFor     string `json:"looking_for,omitempty"`
	ReadyToReceive bool   `json:"ready_to_receive,omitempty"`
}

// Broadcaster periodically emits a Packet over UDP broadcast and
// advertises the same content over mDNS (§4.D step 1-2). Both channels
// run independently; either may fail without affecting the other
// (fail-open).
type Broadcaster struct {
	packet   Packet
	port     int
	interval time.Duration
	done     chan struct{}
}

// NewBroadcaster starts broadcasting packet on the given UDP discovery
// port at the given interval (default constants.DefaultBroadcastPeriod).
// Cancel via Stop; the broadcaster stops within one interval.
func NewBroadcaster(packet Packet, discoveryPort int, interval time.Duration) (*Broadcaster, error) {
	if interval <= 0 {
		interval = constants.DefaultBroadcastPeriod
	}
	b := &Broadcaster{packet: packet, port: discoveryPort, interval: interval, done: make(chan struct{})}

	udpDone := make(chan struct{})
	go b.runUDP(udpDone)

	mdnsServer, mdnsErr := advertiseMDNS(packet, discoveryPort)

	go func() {
		<-b.done
		close(udpDone)
		if mdnsServer != nil {
			mdnsServer.Shutdown()
		}
	}()

	if mdnsErr != nil {
		logging.New("discovery").Warn().Err(mdnsErr).Msg("mdns advertisement unavailable, continuing with UDP only")
	}
	return b, nil
}

func (b *Broadcaster) runUDP(stop <-chan struct{}) {
	logger := logging.New("discovery")
	addr := &net.UDPAddr{IP: net.IPv4bcast, Port: b.port}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		logger.Warn().Err(err).Msg("udp broadcast unavailable")
		return
	}
	defer conn.Close()

	data, err := json.Marshal(b.packet)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode discovery packet")
		return
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.Write(data)
		}
	}
}

func advertiseMDNS(packet Packet, port int) (*zeroconf.Server, error) {
	data, err := json.Marshal(packet)
	if err != nil {
		return nil, err
	}
	server, err := zeroconf.Register(
		packet.DeviceID,
		constants.MDNSServiceName,
		"local.",
		port,
		[]string{string(data)},
		nil,
	)
	if err != nil {
		return nil, err
	}
	return server, nil
}

// Stop halts both the UDP broadcaster and the mDNS advertiser.
func (b *Broadcaster) Stop() {
	close(b.done)
}

// Find listens for UDP broadcasts and mDNS advertisements matching
// code, returning the first packet received within timeout (§4.D
// step 1 tie-break: first received wins).
func Find(ctx context.Context, code string, discoveryPort int, timeout time.Duration) (Packet, net.IP, error) {
	return find(ctx, discoveryPort, timeout, func(p Packet) bool { return p.Code == code })
}

// FindDevice listens for a DeviceBeacon variant targeting deviceID via
// looking_for (§4.D trusted codeless path).
func FindDevice(ctx context.Context, deviceID string, discoveryPort int, timeout time.Duration) (Packet, net.IP, error) {
	return find(ctx, discoveryPort, timeout, func(p Packet) bool { return p.LookingFor == deviceID })
}

// FindWithFallback tries live discovery first. If nothing answers
// within timeout, it returns the first supplied address that parses as
// a bare IP, with a Packet carrying only code. The fallback addresses
// are not contacted, and an entry with a port does not parse.
func FindWithFallback(ctx context.Context, code string, discoveryPort int, timeout time.Duration, fallbackAddrs []string) (Packet, net.IP, error) {
	pkt, ip, err := Find(ctx, code, discoveryPort, timeout)
	if err == nil {
		return pkt, ip, nil
	}
	for _, addr := range fallbackAddrs {
		ip := net.ParseIP(addr)
		if ip == nil {
			continue
		}
		return Packet{Code: code}, ip, nil
	}
	return Packet{}, nil, ldroperr.Timeout(int(timeout.Seconds()))
}

type matchFunc func(Packet) bool

func find(ctx context.Context, discoveryPort int, timeout time.Duration, match matchFunc) (Packet, net.IP, error) {
	if timeout <= 0 {
		timeout = constants.DefaultDiscoveryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan struct {
		pkt Packet
		ip  net.IP
	}, 1)

	go listenUDP(ctx, discoveryPort, match, result)
	go listenMDNS(ctx, match, result)

	select {
	case r := <-result:
		return r.pkt, r.ip, nil
	case <-ctx.Done():
		return Packet{}, nil, ldroperr.Timeout(int(timeout.Seconds()))
	}
}

func listenUDP(ctx context.Context, port int, match matchFunc, result chan<- struct {
	pkt Packet
	ip  net.IP
}) {
	addr := &net.UDPAddr{Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var pkt Packet
		if err := json.Unmarshal(buf[:n], &pkt); err != nil {
			continue
		}
		if match(pkt) {
			select {
			case result <- struct {
				pkt Packet
				ip  net.IP
			}{pkt, raddr.IP}:
			default:
			}
			return
		}
	}
}

func listenMDNS(ctx context.Context, match matchFunc, result chan<- struct {
	pkt Packet
	ip  net.IP
}) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return
	}
	entries := make(chan *zeroconf.ServiceEntry, 8)
	go func() {
		for entry := range entries {
			for _, txt := range entry.Text {
				var pkt Packet
				if err := json.Unmarshal([]byte(txt), &pkt); err != nil {
					continue
				}
				if match(pkt) {
					ip := net.IP(nil)
					if len(entry.AddrIPv4) > 0 {
						ip = entry.AddrIPv4[0]
					}
					select {
					case result <- struct {
						pkt Packet
						ip  net.IP
					}{pkt, ip}:
					default:
					}
					return
				}
			}
		}
	}()
	resolver.Browse(ctx, constants.MDNSServiceName, "local.", entries)
	<-ctx.Done()
}
