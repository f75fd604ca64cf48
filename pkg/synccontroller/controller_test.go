package synccontroller

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/require"

	"github.com/aurus-sync/core/pkg/crdtdoc"
	"github.com/aurus-sync/core/pkg/discovery"
	"github.com/aurus-sync/core/pkg/pairing"
	"github.com/aurus-sync/core/pkg/syncerr"
)

// fakeServerFactory satisfies discovery.MDNSServerFactory without
// touching a real network, capturing the ephemeral port a creator's
// local listener actually bound to.
type fakeServerFactory struct {
	mu       sync.Mutex
	lastPort int
}

func (f *fakeServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (discovery.MDNSServer, error) {
	f.mu.Lock()
	f.lastPort = port
	f.mu.Unlock()
	return fakeServer{}, nil
}

type fakeServer struct{}

func (fakeServer) Shutdown() {}

// portResolver is a discovery.MDNSResolver that hands back a single
// service entry once armed, modeling a joiner's mDNS browse finding
// exactly the creator it is looking for. Arming happens after the
// creator's CreateSession call has actually bound a listener, since the
// port is only known at that point.
type portResolver struct {
	mu          sync.Mutex
	armed       bool
	port        int
	fingerprint string
}

func (r *portResolver) arm(port int, fingerprint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed = true
	r.port = port
	r.fingerprint = fingerprint
}

func (r *portResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	go func() {
		r.mu.Lock()
		armed, port, fingerprint := r.armed, r.port, r.fingerprint
		r.mu.Unlock()
		if !armed {
			<-ctx.Done()
			return
		}
		entry := &zeroconf.ServiceEntry{
			AddrIPv4: []net.IP{net.ParseIP("127.0.0.1")},
			Port:     port,
			Text: discovery.EncodeTXT(discovery.TXTRecord{
				Device:      "creator",
				Fingerprint: fingerprint,
				Version:     "1",
			}),
		}
		select {
		case entries <- entry:
		case <-ctx.Done():
		}
	}()
	return nil
}

// emptyResolver never produces entries; used for the creator's own
// Manager, which only needs to Announce in this test.
type emptyResolver struct{}

func (emptyResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return nil
}

// testSink is an EventSink that fans status and snapshot transitions out
// onto buffered channels so tests can wait for specific transitions
// without polling GetStatus.
type testSink struct {
	status  chan SessionState
	updates chan crdtdoc.Snapshot
	errs    chan string
}

func newTestSink() *testSink {
	return &testSink{
		status:  make(chan SessionState, 32),
		updates: make(chan crdtdoc.Snapshot, 32),
		errs:    make(chan string, 32),
	}
}

func (s *testSink) OnStatusChanged(st SessionState)              { s.status <- st }
func (s *testSink) OnStateUpdated(snap crdtdoc.Snapshot, _ string) { s.updates <- snap }
func (s *testSink) OnError(msg string)                           { s.errs <- msg }
func (s *testSink) OnDisconnected()                              {}
func (s *testSink) OnHeartbeatTimeout()                          {}
func (s *testSink) OnSessionWarning(time.Duration)               {}
func (s *testSink) OnSessionTimeout()                            {}

func waitForStatus(t *testing.T, ch <-chan SessionState, want Status, timeout time.Duration) SessionState {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case st := <-ch:
			if st.Status == want {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %v", want)
		}
	}
}

func TestCreateAndJoinSessionOverLAN(t *testing.T) {
	creatorFactory := &fakeServerFactory{}
	creatorMgr, err := discovery.NewManager(discovery.ManagerConfig{
		ServerFactory: creatorFactory,
		MDNSResolver:  emptyResolver{},
	})
	require.NoError(t, err)
	defer creatorMgr.Close()

	resolver := &portResolver{}
	joinerMgr, err := discovery.NewManager(discovery.ManagerConfig{
		ServerFactory: &fakeServerFactory{},
		MDNSResolver:  resolver,
	})
	require.NoError(t, err)
	defer joinerMgr.Close()

	creatorSink := newTestSink()
	joinerSink := newTestSink()

	creator := New(Config{DeviceName: "Creator laptop", Discovery: creatorMgr, EventSink: creatorSink})
	joiner := New(Config{DeviceName: "Joiner phone", Discovery: joinerMgr, EventSink: joinerSink})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code, err := creator.CreateSession(ctx)
	require.NoError(t, err)
	waitForStatus(t, creatorSink.status, StatusWaitingForPeer, time.Second)

	creatorFactory.mu.Lock()
	port := creatorFactory.lastPort
	creatorFactory.mu.Unlock()
	require.NotZero(t, port, "creator never bound a port")
	resolver.arm(port, pairing.FingerprintFromCode(code))

	require.NoError(t, joiner.JoinSession(ctx, code))

	waitForStatus(t, creatorSink.status, StatusConnected, 5*time.Second)
	waitForStatus(t, joinerSink.status, StatusConnected, 5*time.Second)

	require.Equal(t, StatusConnected, creator.GetStatus().Status)
	joinerStatus := joiner.GetStatus()
	require.NotNil(t, joinerStatus.Peer)
	require.Equal(t, "Creator laptop", joinerStatus.Peer.DeviceName)

	// The creator seeds the joiner with its (empty) initial state on
	// connect; now push a real update and confirm it propagates.
	require.NoError(t, creator.UpdateTranscript("hello from the creator"))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-joinerSink.updates:
			if snap.Transcript == "hello from the creator" {
				goto converged
			}
		case <-deadline:
			t.Fatal("timed out waiting for joiner to observe transcript update")
		}
	}
converged:

	require.NoError(t, creator.LeaveSession())
	require.NoError(t, joiner.LeaveSession())
	require.NoError(t, creator.LeaveSession(), "LeaveSession must be idempotent")
	require.Equal(t, StatusDisconnected, creator.GetStatus().Status)
}

func TestCreateSessionRejectsDoubleCreate(t *testing.T) {
	c := New(Config{DeviceName: "solo"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.CreateSession(ctx)
	require.NoError(t, err)

	_, err = c.CreateSession(ctx)
	require.Error(t, err)
	_ = c.LeaveSession()
}

func TestJoinSessionRejectsInvalidCode(t *testing.T) {
	c := New(Config{DeviceName: "solo"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.Error(t, c.JoinSession(ctx, "not-a-real-code"))
}

func TestJoinSessionRejectsWhenNoTransportConfigured(t *testing.T) {
	c := New(Config{DeviceName: "solo"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	code, err := pairing.GenerateCode()
	require.NoError(t, err)
	require.Error(t, c.JoinSession(ctx, code))
	require.Equal(t, StatusDisconnected, c.GetStatus().Status)
}

func TestUpdatesRequireConnectedStatus(t *testing.T) {
	c := New(Config{DeviceName: "solo"})

	err := c.UpdateTranscript("x")
	require.ErrorIs(t, err, syncerr.ErrNotConnected)

	require.Error(t, c.UpdateAgentResult("activeAgent", `{"a":1}`))
}

func TestLeaveSessionIsIdempotentWhenNeverConnected(t *testing.T) {
	c := New(Config{DeviceName: "solo"})
	require.NoError(t, c.LeaveSession())
}
