package yeelight

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/nerrad567/lumen-core/internal/device"
)

// Prober checks that a light is reachable, independently of the control
// stream. It returns nil on a reply and an error on timeout or failure.
// Errors wrapping ErrProbeUnavailable are local faults, not link loss.
// The context carries the probe deadline.
type Prober interface {
	Probe(ctx context.Context, addr device.Address) error
}

// ianaProtocolICMP is the IP protocol number of ICMPv4.
const ianaProtocolICMP = 1

// ICMPProber sends an ICMP echo request and waits for the matching reply.
//
// It uses an unprivileged datagram ICMP socket ("udp4"), so it needs the
// host to allow it (net.ipv4.ping_group_range on Linux) but not root.
// The kernel rewrites the echo identifier on such sockets, so replies are
// matched on sequence number and source address.
type ICMPProber struct {
	network string
	id      int
	seq     atomic.Uint32
}

// NewICMPProber returns a prober using unprivileged ICMP sockets.
func NewICMPProber() *ICMPProber {
	return &ICMPProber{network: "udp4", id: os.Getpid() & 0xffff}
}

// NewPrivilegedICMPProber returns a prober using raw ICMP sockets
// ("ip4:icmp"), which requires CAP_NET_RAW.
func NewPrivilegedICMPProber() *ICMPProber {
	return &ICMPProber{network: "ip4:icmp", id: os.Getpid() & 0xffff}
}

// Check opens and closes an ICMP socket, reporting ErrProbeUnavailable
// when the host does not allow it.
func (p *ICMPProber) Check() error {
	conn, err := p.listen()
	if err != nil {
		return err
	}
	return conn.Close()
}

func (p *ICMPProber) listen() (*icmp.PacketConn, error) {
	conn, err := icmp.ListenPacket(p.network, "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("%w: opening icmp socket: %v", ErrProbeUnavailable, err)
	}
	return conn, nil
}

// Probe sends one echo request to addr.Host.
func (p *ICMPProber) Probe(ctx context.Context, addr device.Address) error {
	ip, err := resolveIPv4(ctx, addr.Host)
	if err != nil {
		return err
	}

	conn, err := p.listen()
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline) //nolint:errcheck // Closing on ctx.Done also unblocks reads
	}

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: []byte("lumen-probe")},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return fmt.Errorf("encoding echo: %w", err)
	}

	var dst net.Addr = &net.IPAddr{IP: ip}
	if p.network == "udp4" {
		dst = &net.UDPAddr{IP: ip}
	}
	if _, err := conn.WriteTo(wb, dst); err != nil {
		return fmt.Errorf("sending echo to %s: %w", ip, err)
	}

	rb := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(rb)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("echo to %s: %w", ip, ctx.Err())
			}
			return fmt.Errorf("reading echo reply from %s: %w", ip, err)
		}
		if !sameIP(peer, ip) {
			continue
		}
		rm, err := icmp.ParseMessage(ianaProtocolICMP, rb[:n])
		if err != nil || rm.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		if echo, ok := rm.Body.(*icmp.Echo); ok && echo.Seq == seq {
			return nil
		}
	}
}

// TCPProber checks reachability by opening and closing a TCP connection
// to the control port. Lights accept a handful of concurrent control
// connections, so use it only where ICMP is unavailable.
type TCPProber struct {
	dialer net.Dialer
}

// NewTCPProber returns a TCP connect prober.
func NewTCPProber() *TCPProber {
	return &TCPProber{}
}

// Probe dials addr and closes the connection immediately.
func (p *TCPProber) Probe(ctx context.Context, addr device.Address) error {
	conn, err := p.dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return fmt.Errorf("tcp probe %s: %w", addr, err)
	}
	return conn.Close()
}

// checkICMP reports whether p can open its socket on this host.
var checkICMP = func(p *ICMPProber) error { return p.Check() }

// NewProber returns the prober named by kind ("icmp" or "tcp").
//
// When the host refuses ICMP sockets, "icmp" falls back to a TCP prober
// and logs a warning, so lights are not declared lost for a local fault.
func NewProber(kind string, logger Logger) (Prober, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	switch kind {
	case "icmp":
		p := NewICMPProber()
		if err := checkICMP(p); err != nil {
			logger.Warn("icmp probing unavailable, falling back to tcp",
				"error", err,
				"hint", "allow the process group in net.ipv4.ping_group_range",
			)
			return NewTCPProber(), nil
		}
		return p, nil
	case "tcp", "":
		return NewTCPProber(), nil
	default:
		return nil, fmt.Errorf("%w: prober %q", ErrInvalidArgument, kind)
	}
}

func resolveIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("%w: %s is not IPv4", ErrInvalidArgument, host)
	}
	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolving %s: no IPv4 address", host)
	}
	return addrs[0], nil
}

func sameIP(addr net.Addr, ip net.IP) bool {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP.Equal(ip)
	case *net.IPAddr:
		return a.IP.Equal(ip)
	default:
		return false
	}
}
