package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

type fakeServer struct{ shutdownCalled bool }

func (f *fakeServer) Shutdown() { f.shutdownCalled = true }

type fakeServerFactory struct {
	lastInstance string
	lastService  string
	lastPort     int
	lastTXT      []string
	server       *fakeServer
}

func (f *fakeServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	f.lastInstance = instance
	f.lastService = service
	f.lastPort = port
	f.lastTXT = txt
	f.server = &fakeServer{}
	return f.server, nil
}

func TestAdvertiserAnnounceUnannounce(t *testing.T) {
	factory := &fakeServerFactory{}
	a := NewAdvertiser(AdvertiserConfig{ServerFactory: factory})

	if err := a.Announce(9000, "Oliver's MacBook", "ab12cd34"); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if factory.lastService != ServiceType {
		t.Fatalf("service = %q, want %q", factory.lastService, ServiceType)
	}
	if factory.lastPort != 9000 {
		t.Fatalf("port = %d, want 9000", factory.lastPort)
	}

	rec := DecodeTXT(ParseTXT(factory.lastTXT))
	if rec.Device != "Oliver's MacBook" || rec.Fingerprint != "ab12cd34" || rec.Version != "1" {
		t.Fatalf("got %+v", rec)
	}

	if err := a.Announce(9000, "x", "y"); err != ErrAlreadyStarted {
		t.Fatalf("second Announce: got %v, want ErrAlreadyStarted", err)
	}

	a.Unannounce()
	if !factory.server.shutdownCalled {
		t.Fatal("expected Shutdown to be called")
	}

	// Unannounce again is a harmless no-op.
	a.Unannounce()
}

func TestAdvertiserRejectsInvalidInput(t *testing.T) {
	a := NewAdvertiser(AdvertiserConfig{ServerFactory: &fakeServerFactory{}})

	if err := a.Announce(9000, "", "fp"); err != ErrInvalidDeviceName {
		t.Fatalf("got %v, want ErrInvalidDeviceName", err)
	}
	if err := a.Announce(0, "name", "fp"); err != ErrInvalidPort {
		t.Fatalf("got %v, want ErrInvalidPort", err)
	}
}

type fakeResolver struct {
	entries []*zeroconf.ServiceEntry
}

func (f *fakeResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	go func() {
		for _, e := range f.entries {
			select {
			case entries <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func TestResolverFindByFingerprint(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		AddrIPv4: []net.IP{net.ParseIP("192.168.1.42")},
		Port:     9001,
		Text:     EncodeTXT(TXTRecord{Device: "Joiner phone", Fingerprint: "match-me", Version: "1"}),
	}
	resolver, err := NewResolver(ResolverConfig{MDNSResolver: &fakeResolver{entries: []*zeroconf.ServiceEntry{entry}}})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	peer, err := resolver.FindByFingerprint(ctx, "match-me")
	if err != nil {
		t.Fatalf("FindByFingerprint: %v", err)
	}
	if peer.Port != 9001 || peer.DeviceName != "Joiner phone" {
		t.Fatalf("got %+v", peer)
	}
	if peer.Address.String() != "192.168.1.42" {
		t.Fatalf("address = %v", peer.Address)
	}
}

func TestResolverFindByFingerprintTimesOut(t *testing.T) {
	resolver, err := NewResolver(ResolverConfig{MDNSResolver: &fakeResolver{}})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := resolver.FindByFingerprint(ctx, "nobody-advertises-this"); err != ErrTimeout {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
}

func TestManagerAnnounceAndFind(t *testing.T) {
	factory := &fakeServerFactory{}
	entry := &zeroconf.ServiceEntry{
		AddrIPv4: []net.IP{net.ParseIP("10.0.0.5")},
		Port:     9002,
		Text:     EncodeTXT(TXTRecord{Device: "Creator laptop", Fingerprint: "fp-1", Version: "1"}),
	}
	mgr, err := NewManager(ManagerConfig{
		ServerFactory: factory,
		MDNSResolver:  &fakeResolver{entries: []*zeroconf.ServiceEntry{entry}},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer mgr.Close()

	if err := mgr.Announce(9002, "Creator laptop", "fp-1"); err != nil {
		t.Fatalf("Announce: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	peer, err := mgr.FindPeer(ctx, "fp-1")
	if err != nil {
		t.Fatalf("FindPeer: %v", err)
	}
	if peer.Fingerprint != "fp-1" {
		t.Fatalf("got %+v", peer)
	}
}
