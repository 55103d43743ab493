package yeelight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/nerrad567/lumen-core/internal/device"
)

const (
	defaultSearchInterval = time.Second
	maxDatagramSize       = 2048
)

// ScannerConfig configures discovery.
type ScannerConfig struct {
	// Group is the multicast group and port (DefaultGroup when empty).
	Group string

	// Interface restricts discovery to one network interface. Empty joins
	// the group on every multicast-capable interface that is up.
	Interface string

	// Interval between searches.
	Interval time.Duration

	// MaxSearches stops searching after this many messages. Zero searches
	// until Stop. Listening for announcements continues either way.
	MaxSearches int
}

// ConnectionFactory creates the connection for a newly found light.
type ConnectionFactory func(id device.Identity, addr device.Address) *Connection

// DiscoveryHandler is called once per light, the first time the scanner
// sees it on the network.
type DiscoveryHandler func(adv Advertisement, conn *Connection)

// ScannerStats holds discovery statistics.
type ScannerStats struct {
	Searches   uint64
	Datagrams  uint64
	Malformed  uint64
	Duplicates uint64
	Discovered uint64
	Known      int
}

// known is one light tracked by the scanner.
type known struct {
	adv  Advertisement
	conn *Connection

	// sighted is false for lights seeded with Add until they are seen on
	// the network.
	sighted bool
}

// Scanner finds lights with multicast search and announcement datagrams
// and owns one Connection per light.
//
// The first address seen for an identity wins for the lifetime of the
// scanner; later datagrams for that identity are ignored. Lights seeded
// with Add are the exception: their first network sighting replaces the
// seeded address if it differs.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Discovery handlers run outside the scanner's lock.
type Scanner struct {
	cfg     ScannerConfig
	opts    Options
	log     Logger
	factory ConnectionFactory

	mu       sync.Mutex
	lights   map[device.Identity]*known
	handlers []DiscoveryHandler
	ctx      context.Context
	cancel   context.CancelFunc
	running  bool

	listen *ipv4.PacketConn
	search *ipv4.PacketConn
	group  *net.UDPAddr
	wg     sync.WaitGroup

	searches, datagrams, malformed atomic.Uint64
	duplicates, discovered         atomic.Uint64
}

// NewScanner creates a scanner. Connections it creates use opts.
func NewScanner(cfg ScannerConfig, opts Options) *Scanner {
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSearchInterval
	}
	opts = opts.withDefaults()
	s := &Scanner{
		cfg:    cfg,
		opts:   opts,
		log:    opts.Logger,
		lights: make(map[device.Identity]*known),
	}
	s.factory = func(id device.Identity, addr device.Address) *Connection {
		return NewConnection(id, addr, s.opts)
	}
	return s
}

// SetConnectionFactory replaces the default connection constructor.
// Call before the first datagram is handled.
func (s *Scanner) SetConnectionFactory(f ConnectionFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factory = f
}

// OnDiscovered registers a handler for newly found lights.
func (s *Scanner) OnDiscovered(fn DiscoveryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

// Add seeds a light known from persistence so it gets a connection before
// it answers a search.
func (s *Scanner) Add(rec device.Record) *Connection {
	s.mu.Lock()
	if k, ok := s.lights[rec.ID]; ok {
		s.mu.Unlock()
		return k.conn
	}
	conn := s.factory(rec.ID, rec.Address)
	s.lights[rec.ID] = &known{
		adv: Advertisement{
			ID:       rec.ID,
			Address:  rec.Address,
			Name:     rec.Name,
			Model:    rec.Model,
			Firmware: rec.Firmware,
		},
		conn: conn,
	}
	ctx, running := s.ctx, s.running
	s.mu.Unlock()

	if running {
		conn.Start(ctx)
	}
	s.log.Debug("seeded light", "light", rec.ID, "address", rec.Address)
	return conn
}

// HandleDatagram processes one discovery datagram. It reports whether the
// datagram introduced a light the scanner had not seen on the network.
func (s *Scanner) HandleDatagram(data []byte) (bool, error) {
	s.datagrams.Add(1)

	adv, err := ParseAdvertisement(data)
	if err != nil {
		s.malformed.Add(1)
		return false, err
	}

	s.mu.Lock()
	k, exists := s.lights[adv.ID]
	if exists && k.sighted {
		s.mu.Unlock()
		s.duplicates.Add(1)
		return false, nil
	}

	var stale *Connection
	switch {
	case !exists:
		k = &known{conn: s.factory(adv.ID, adv.Address)}
		s.lights[adv.ID] = k
	case k.adv.Address != adv.Address:
		stale = k.conn
		k.conn = s.factory(adv.ID, adv.Address)
	}
	if adv.Name == "" {
		adv.Name = k.adv.Name
	}
	k.adv = adv
	k.sighted = true
	conn := k.conn
	handlers := append([]DiscoveryHandler(nil), s.handlers...)
	ctx, running := s.ctx, s.running
	s.mu.Unlock()

	if stale != nil {
		s.log.Info("light moved", "light", adv.ID, "address", adv.Address)
		stale.Close() //nolint:errcheck // Close never fails
	}
	if running {
		conn.Start(ctx)
	}

	s.discovered.Add(1)
	s.log.Info("light discovered", "light", adv.ID, "address", adv.Address,
		"model", adv.Model, "name", adv.Name, "via", adv.Kind)
	for _, h := range handlers {
		h(adv, conn)
	}
	return true, nil
}

// Known returns a record for every light the scanner tracks, ordered by
// identity.
func (s *Scanner) Known() []device.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]device.Record, 0, len(s.lights))
	for _, k := range s.lights {
		out = append(out, k.adv.Record())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Discovered returns records only for lights seen on the network.
func (s *Scanner) Discovered() []device.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]device.Record, 0, len(s.lights))
	for _, k := range s.lights {
		if k.sighted {
			out = append(out, k.adv.Record())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Connection returns the connection for id.
func (s *Scanner) Connection(id device.Identity) (*Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.lights[id]
	if !ok {
		return nil, false
	}
	return k.conn, true
}

// Connections returns every connection, ordered by identity.
func (s *Scanner) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Connection, 0, len(s.lights))
	for _, k := range s.lights {
		out = append(out, k.conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity() < out[j].Identity() })
	return out
}

// Stats returns discovery statistics.
func (s *Scanner) Stats() ScannerStats {
	s.mu.Lock()
	n := len(s.lights)
	s.mu.Unlock()
	return ScannerStats{
		Searches:   s.searches.Load(),
		Datagrams:  s.datagrams.Load(),
		Malformed:  s.malformed.Load(),
		Duplicates: s.duplicates.Load(),
		Discovered: s.discovered.Load(),
		Known:      n,
	}
}

// Start opens the discovery sockets, starts every known connection and
// begins searching.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	group, err := net.ResolveUDPAddr("udp4", s.cfg.Group)
	if err != nil {
		return fmt.Errorf("resolving discovery group %q: %w", s.cfg.Group, err)
	}
	if !group.IP.IsMulticast() {
		return fmt.Errorf("%w: %s is not a multicast group", ErrInvalidArgument, group.IP)
	}

	ifaces, err := multicastInterfaces(s.cfg.Interface)
	if err != nil {
		return err
	}

	listen, err := listenGroup(ctx, group, ifaces)
	if err != nil {
		return err
	}
	search, err := openSearchSocket(ifaces)
	if err != nil {
		listen.Close() //nolint:errcheck // Already failing
		return err
	}

	s.group = group
	s.listen = listen
	s.search = search
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for _, k := range s.lights {
		k.conn.Start(s.ctx)
	}

	s.wg.Add(3)
	go s.readLoop(listen)
	go s.readLoop(search)
	go s.searchLoop(s.ctx)

	s.log.Info("discovery started", "group", group, "interfaces", len(ifaces),
		"interval", s.cfg.Interval, "max_searches", s.cfg.MaxSearches)
	return nil
}

// Stop cancels the search timer, closes the sockets, waits for the
// receive goroutines and then closes every connection.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.closeConnections()
		return
	}
	s.running = false
	s.cancel()
	listen, search := s.listen, s.search
	s.mu.Unlock()

	listen.Close() //nolint:errcheck // Shutting down
	search.Close() //nolint:errcheck // Shutting down
	s.wg.Wait()

	s.closeConnections()
	s.log.Info("discovery stopped")
}

func (s *Scanner) closeConnections() {
	for _, c := range s.Connections() {
		c.Close() //nolint:errcheck // Close never fails
	}
}

// Search sends one search datagram now.
func (s *Scanner) Search() error {
	s.mu.Lock()
	search, group, running := s.search, s.group, s.running
	s.mu.Unlock()
	if !running {
		return ErrClosed
	}

	if _, err := search.WriteTo(SearchMessage(s.cfg.Group), nil, group); err != nil {
		return fmt.Errorf("sending search: %w", err)
	}
	s.searches.Add(1)
	return nil
}

func (s *Scanner) searchLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	sent := 0
	for {
		if err := s.Search(); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("discovery search failed", "error", err)
		}
		sent++
		if s.cfg.MaxSearches > 0 && sent >= s.cfg.MaxSearches {
			s.log.Debug("discovery searches complete", "count", sent)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scanner) readLoop(pc *ipv4.PacketConn) {
	defer s.wg.Done()

	buf := make([]byte, maxDatagramSize)

	for {
		n, _, src, err := pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("discovery read failed", "error", err)
			continue
		}
		if _, err := s.HandleDatagram(buf[:n]); err != nil {
			s.log.Debug("ignoring discovery datagram", "from", src, "error", err)
		}
	}
}

// multicastInterfaces returns the interfaces to join the group on. A nil
// result means the system default.
func multicastInterfaces(name string) ([]*net.Interface, error) {
	if name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("discovery interface %q: %w", name, err)
		}
		return []*net.Interface{ifi}, nil
	}

	all, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}
	var out []*net.Interface
	for i := range all {
		ifi := &all[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		out = append(out, ifi)
	}
	return out, nil
}

func listenGroup(ctx context.Context, group *net.UDPAddr, ifaces []*net.Interface) (*ipv4.PacketConn, error) {
	lc := net.ListenConfig{Control: reuseControl}
	c, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", group.Port))
	if err != nil {
		return nil, fmt.Errorf("listening on discovery port %d: %w", group.Port, err)
	}
	pc := ipv4.NewPacketConn(c)

	if len(ifaces) == 0 {
		if err := pc.JoinGroup(nil, &net.UDPAddr{IP: group.IP}); err != nil {
			pc.Close() //nolint:errcheck // Already failing
			return nil, fmt.Errorf("joining %s: %w", group.IP, err)
		}
		return pc, nil
	}

	joined := 0
	var lastErr error
	for _, ifi := range ifaces {
		if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group.IP}); err != nil {
			lastErr = err
			continue
		}
		joined++
	}
	if joined == 0 {
		pc.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("joining %s on any interface: %w", group.IP, lastErr)
	}
	return pc, nil
}

func openSearchSocket(ifaces []*net.Interface) (*ipv4.PacketConn, error) {
	c, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("opening search socket: %w", err)
	}
	pc := ipv4.NewPacketConn(c)
	if err := pc.SetMulticastLoopback(false); err != nil {
		pc.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("configuring search socket: %w", err)
	}
	if len(ifaces) == 1 {
		if err := pc.SetMulticastInterface(ifaces[0]); err != nil {
			pc.Close() //nolint:errcheck // Already failing
			return nil, fmt.Errorf("configuring search socket: %w", err)
		}
	}
	return pc, nil
}
