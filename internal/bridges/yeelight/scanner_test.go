package yeelight

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/lumen-core/internal/device"
)

// newTestScanner returns a scanner that is never started, so its
// connections stay idle.
func newTestScanner() (*Scanner, *[]device.Address) {
	s := NewScanner(ScannerConfig{}, Options{Prober: &stubProber{}})
	var created []device.Address
	s.SetConnectionFactory(func(id device.Identity, addr device.Address) *Connection {
		created = append(created, addr)
		return NewConnection(id, addr, Options{Prober: &stubProber{}})
	})
	return s, &created
}

func TestScanner_FirstSightingWins(t *testing.T) {
	s, created := newTestScanner()

	var (
		mu    sync.Mutex
		found []Advertisement
	)
	s.OnDiscovered(func(adv Advertisement, conn *Connection) {
		mu.Lock()
		defer mu.Unlock()
		if conn == nil {
			t.Error("handler got a nil connection")
		}
		found = append(found, adv)
	})

	isNew, err := s.HandleDatagram(advertisementFor("HTTP/1.1 200 OK", "0x15", "yeelight://10.0.0.5:55443"))
	if err != nil || !isNew {
		t.Fatalf("HandleDatagram() = %v, %v; want true, nil", isNew, err)
	}
	isNew, err = s.HandleDatagram(advertisementFor("NOTIFY * HTTP/1.1", "0x15", "yeelight://10.0.0.9:55443"))
	if err != nil || isNew {
		t.Fatalf("second HandleDatagram() = %v, %v; want false, nil", isNew, err)
	}

	if len(*created) != 1 {
		t.Fatalf("created %d connections, want 1", len(*created))
	}
	conn, ok := s.Connection(0x15)
	if !ok {
		t.Fatal("Connection(0x15) not found")
	}
	if got := conn.Address().Host; got != "10.0.0.5" {
		t.Errorf("connection host = %q, want 10.0.0.5", got)
	}
	if len(found) != 1 {
		t.Errorf("handler ran %d times, want 1", len(found))
	}

	st := s.Stats()
	if st.Datagrams != 2 || st.Duplicates != 1 || st.Discovered != 1 || st.Known != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestScanner_MalformedDatagram(t *testing.T) {
	s, created := newTestScanner()

	_, err := s.HandleDatagram([]byte("garbage"))
	if !errors.Is(err, ErrInvalidAdvertisement) {
		t.Errorf("HandleDatagram() error = %v, want ErrInvalidAdvertisement", err)
	}
	if len(*created) != 0 {
		t.Errorf("created %d connections, want 0", len(*created))
	}
	if s.Stats().Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", s.Stats().Malformed)
	}
}

func TestScanner_SeededLight(t *testing.T) {
	s, created := newTestScanner()

	seeded := s.Add(device.Record{
		ID:      0x20,
		Address: device.Address{Host: "10.0.0.20", Port: 55443},
		Name:    "porch",
	})
	if again := s.Add(device.Record{ID: 0x20, Address: device.Address{Host: "10.0.0.21", Port: 55443}}); again != seeded {
		t.Error("Add() for a known identity created a new connection")
	}

	if got := s.Discovered(); len(got) != 0 {
		t.Errorf("Discovered() = %v, want none before a sighting", got)
	}
	if got := s.Known(); len(got) != 1 || got[0].Name != "porch" {
		t.Errorf("Known() = %+v", got)
	}

	// The light turns up at a new address: the seeded connection is replaced.
	isNew, err := s.HandleDatagram(advertisementFor("HTTP/1.1 200 OK", "0x20", "yeelight://10.0.0.30:55443"))
	if err != nil || !isNew {
		t.Fatalf("HandleDatagram() = %v, %v", isNew, err)
	}
	conn, _ := s.Connection(0x20)
	if conn == seeded {
		t.Error("seeded connection was kept after an address change")
	}
	if conn.Address().Host != "10.0.0.30" {
		t.Errorf("connection host = %q, want 10.0.0.30", conn.Address().Host)
	}
	if err := seeded.Toggle(); !errors.Is(err, ErrClosed) {
		t.Errorf("stale connection Toggle() error = %v, want ErrClosed", err)
	}
	if len(*created) != 2 {
		t.Errorf("created %d connections, want 2", len(*created))
	}

	// Seeded name survives a datagram without one.
	disc := s.Discovered()
	if len(disc) != 1 || disc[0].Name != "porch" {
		t.Errorf("Discovered() = %+v", disc)
	}
}

func TestScanner_SeededLightSameAddress(t *testing.T) {
	s, created := newTestScanner()

	seeded := s.Add(device.Record{ID: 0x21, Address: device.Address{Host: "10.0.0.5", Port: 55443}})
	if _, err := s.HandleDatagram(advertisementFor("HTTP/1.1 200 OK", "0x21", "yeelight://10.0.0.5:55443")); err != nil {
		t.Fatalf("HandleDatagram() error = %v", err)
	}
	if conn, _ := s.Connection(0x21); conn != seeded {
		t.Error("connection replaced although the address did not change")
	}
	if len(*created) != 1 {
		t.Errorf("created %d connections, want 1", len(*created))
	}
}

func TestScanner_ConnectionsOrdered(t *testing.T) {
	s, _ := newTestScanner()
	for _, id := range []string{"0x30", "0x10", "0x20"} {
		if _, err := s.HandleDatagram(advertisementFor("HTTP/1.1 200 OK", id, "yeelight://10.0.0.1:55443")); err != nil {
			t.Fatalf("HandleDatagram(%s) error = %v", id, err)
		}
	}

	conns := s.Connections()
	if len(conns) != 3 {
		t.Fatalf("Connections() returned %d, want 3", len(conns))
	}
	for i, want := range []device.Identity{0x10, 0x20, 0x30} {
		if conns[i].Identity() != want {
			t.Errorf("Connections()[%d] = %v, want %v", i, conns[i].Identity(), want)
		}
	}
	s.Stop()
}

func TestScanner_DefaultFactory(t *testing.T) {
	s := NewScanner(ScannerConfig{}, Options{Prober: &stubProber{}})
	if _, err := s.HandleDatagram([]byte(sampleReply)); err != nil {
		t.Fatalf("HandleDatagram() error = %v", err)
	}
	conn, ok := s.Connection(0x15243f)
	if !ok {
		t.Fatal("no connection for discovered light")
	}
	if conn.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected before Start", conn.State())
	}
	s.Stop()
}

func TestScanner_SearchBeforeStart(t *testing.T) {
	s, _ := newTestScanner()
	if err := s.Search(); !errors.Is(err, ErrClosed) {
		t.Errorf("Search() error = %v, want ErrClosed", err)
	}
}

func TestScanner_StartRejectsUnicastGroup(t *testing.T) {
	s := NewScanner(ScannerConfig{Group: "192.168.1.10:1982"}, Options{Prober: &stubProber{}})
	if err := s.Start(context.Background()); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Start() error = %v, want ErrInvalidArgument", err)
	}
}
