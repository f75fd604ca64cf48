// Package synccontroller orchestrates one sync session end to end:
// pairing code lifecycle, transport selection (LAN first, WebRTC via
// relay as fallback), and handing the winning connection to
// pkg/syncloop. It is the single entry point the surrounding
// application (CLI, or eventually a GUI shell) drives.
//
// The shape follows backkem/matter's commissioning-session controllers:
// a mutex-guarded state struct, typed precondition errors returned
// synchronously, and long-running work spawned onto detached goroutines
// that report back through callbacks rather than blocking the caller.
package synccontroller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/aurus-sync/core/pkg/crdtdoc"
	"github.com/aurus-sync/core/pkg/discovery"
	"github.com/aurus-sync/core/pkg/localtransport"
	"github.com/aurus-sync/core/pkg/pairing"
	"github.com/aurus-sync/core/pkg/syncerr"
	"github.com/aurus-sync/core/pkg/syncloop"
	"github.com/aurus-sync/core/pkg/webrtctransport"
	"github.com/aurus-sync/core/pkg/wireproto"
)

// DefaultLANDiscoveryTimeout bounds how long JoinSession waits for mDNS
// to resolve the creator before the WebRTC leg is given a chance to win
// on its own.
const DefaultLANDiscoveryTimeout = 5 * time.Second

// Config configures a Controller for the lifetime of the process.
type Config struct {
	// DeviceName is shown to the peer and, for a creator, advertised
	// over mDNS.
	DeviceName string
	// Platform is an opaque client label (e.g. "darwin", "cli").
	Platform string

	// RelayURL is the signaling relay's WebSocket endpoint. Leaving it
	// empty disables the WebRTC-via-relay leg entirely, useful for
	// LAN-only deployments and for tests.
	RelayURL string
	// Discovery, if set, enables the LAN leg: CreateSession announces
	// on it, JoinSession browses it. Leaving it nil disables LAN pairing.
	Discovery *discovery.Manager
	// LANDiscoveryTimeout bounds JoinSession's mDNS browse. Defaults to
	// DefaultLANDiscoveryTimeout.
	LANDiscoveryTimeout time.Duration
	// WebRTCICEServers overrides the default STUN server set.
	WebRTCICEServers []webrtc.ICEServer

	EventSink     EventSink
	LoggerFactory logging.LoggerFactory
}

// Controller owns one device's view of at most one active sync session.
type Controller struct {
	cfg      Config
	deviceID string
	log      logging.LeveledLogger

	mu          sync.Mutex
	role        pairing.Role
	status      Status
	sessionID   string
	pairingCode string
	peer        *wireproto.DeviceInfo
	doc         *crdtdoc.Document
	active      *activeSession
	announcing  bool
	cancelRace  context.CancelFunc
}

// New constructs a Controller. A fresh random device id is generated for
// the lifetime of the process, per spec: identities are never persisted.
func New(cfg Config) *Controller {
	if cfg.LANDiscoveryTimeout <= 0 {
		cfg.LANDiscoveryTimeout = DefaultLANDiscoveryTimeout
	}
	c := &Controller{
		cfg:      cfg,
		deviceID: uuid.NewString(),
		status:   StatusDisconnected,
		doc:      crdtdoc.New(),
	}
	if cfg.LoggerFactory != nil {
		c.log = cfg.LoggerFactory.NewLogger("synccontroller")
	}
	return c
}

func (c *Controller) identity() localtransport.DeviceIdentity {
	return localtransport.DeviceIdentity{DeviceID: c.deviceID, DeviceName: c.cfg.DeviceName, Platform: c.cfg.Platform}
}

func (c *Controller) wireIdentity() wireproto.DeviceInfo {
	id := c.identity()
	return wireproto.DeviceInfo{DeviceID: id.DeviceID, DeviceName: id.DeviceName, Platform: id.Platform}
}

// CreateSession allocates a session id and pairing code, opens a LAN
// listener, optionally announces over mDNS and registers on the relay,
// and returns the pairing code immediately. The caller learns when a
// peer actually connects through the EventSink's OnStatusChanged. ctx
// governs the connection race run in the background; cancelling it
// before a peer connects aborts the session same as LeaveSession, so
// pass a long-lived context rather than one scoped to this call.
func (c *Controller) CreateSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.status != StatusDisconnected {
		c.mu.Unlock()
		return "", fmt.Errorf("synccontroller: create session: %w", syncerr.ErrAlreadyInSession)
	}

	code, err := pairing.GenerateCode()
	if err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("synccontroller: generate pairing code failed: %w", err)
	}
	doc := crdtdoc.New()

	c.role = pairing.RoleCreator
	c.sessionID = uuid.NewString()
	c.pairingCode = code
	c.doc = doc
	c.status = StatusWaitingForPeer
	state := c.stateLocked()
	c.mu.Unlock()

	sessionsStartedTotal.WithLabelValues("creator").Inc()
	c.emitStatusChanged(state)

	cb := c.loopCallbacks()
	handle, err := localtransport.StartCreator(localtransport.CreatorConfig{
		Port:          0,
		PairingCode:   code,
		Identity:      c.identity(),
		Document:      doc,
		Callbacks:     cb,
		LoggerFactory: c.cfg.LoggerFactory,
	})
	if err != nil {
		c.resetAfterFailure()
		return "", fmt.Errorf("synccontroller: start local listener failed: %w", err)
	}

	fingerprint := pairing.FingerprintFromCode(code)
	if c.cfg.Discovery != nil {
		if err := c.cfg.Discovery.Announce(handle.Port(), c.cfg.DeviceName, fingerprint); err != nil {
			if c.log != nil {
				c.log.Warnf("mdns announce failed, LAN pairing unavailable this session: %v", err)
			}
		} else {
			c.mu.Lock()
			c.announcing = true
			c.mu.Unlock()
		}
	}

	attempts := []connectAttempt{{
		transport: "lan",
		run: func(ctx context.Context) (*activeSession, error) {
			sess, err := handle.Accept(ctx)
			if err != nil {
				return nil, err
			}
			return &activeSession{transport: "lan", loop: sess.Loop, peer: sess.PeerDevice}, nil
		},
	}}
	if c.cfg.RelayURL != "" {
		attempts = append(attempts, connectAttempt{
			transport: "webrtc",
			run: func(ctx context.Context) (*activeSession, error) {
				sess, err := webrtctransport.Establish(ctx, webrtctransport.Config{
					SignalingURL:  c.cfg.RelayURL,
					PairingCode:   code,
					DeviceID:      c.deviceID,
					IsCreator:     true,
					Identity:      c.wireIdentity(),
					Document:      doc,
					Callbacks:     cb,
					ICEServers:    c.cfg.WebRTCICEServers,
					LoggerFactory: c.cfg.LoggerFactory,
				})
				if err != nil {
					return nil, err
				}
				return &activeSession{transport: "webrtc", loop: sess.Loop, peer: sess.PeerDevice, extra: sess.PeerConnection}, nil
			},
		})
	}

	raceCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelRace = cancel
	c.mu.Unlock()

	go func() {
		session, err := raceAttempts(raceCtx, attempts)
		handle.Close()
		if err != nil {
			sessionOutcomesTotal.WithLabelValues("failed").Inc()
			c.emitError(fmt.Sprintf("create session: %v", err))
			c.resetAfterFailure()
			return
		}
		transportWinsTotal.WithLabelValues(session.transport).Inc()
		c.onConnected(session, doc)
	}()

	return code, nil
}

// JoinSession validates the pairing code and spawns the LAN/WebRTC race
// in the background, returning as soon as preconditions are satisfied.
// As with CreateSession, ctx governs the race's lifetime, not just this
// call.
func (c *Controller) JoinSession(ctx context.Context, code string) error {
	if err := pairing.ParseAndValidateCode(code); err != nil {
		return err
	}

	c.mu.Lock()
	if c.status != StatusDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("synccontroller: join session: %w", syncerr.ErrAlreadyInSession)
	}
	doc := crdtdoc.New()
	c.role = pairing.RoleJoiner
	c.sessionID = uuid.NewString()
	c.pairingCode = code
	c.doc = doc
	c.status = StatusConnecting
	state := c.stateLocked()
	c.mu.Unlock()

	sessionsStartedTotal.WithLabelValues("joiner").Inc()
	c.emitStatusChanged(state)

	cb := c.loopCallbacks()
	var attempts []connectAttempt

	if c.cfg.Discovery != nil {
		attempts = append(attempts, connectAttempt{
			transport: "lan",
			run: func(ctx context.Context) (*activeSession, error) {
				browseCtx, cancel := context.WithTimeout(ctx, c.cfg.LANDiscoveryTimeout)
				defer cancel()
				peer, err := c.cfg.Discovery.FindPeer(browseCtx, pairing.FingerprintFromCode(code))
				if err != nil {
					return nil, err
				}
				sess, err := localtransport.Join(ctx, localtransport.JoinerConfig{
					Address:       peer.PreferredAddress().String(),
					Port:          peer.Port,
					PairingCode:   code,
					Identity:      c.identity(),
					Document:      doc,
					Callbacks:     cb,
					LoggerFactory: c.cfg.LoggerFactory,
				})
				if err != nil {
					return nil, err
				}
				return &activeSession{transport: "lan", loop: sess.Loop, peer: sess.PeerDevice}, nil
			},
		})
	}
	if c.cfg.RelayURL != "" {
		attempts = append(attempts, connectAttempt{
			transport: "webrtc",
			run: func(ctx context.Context) (*activeSession, error) {
				sess, err := webrtctransport.Establish(ctx, webrtctransport.Config{
					SignalingURL:  c.cfg.RelayURL,
					PairingCode:   code,
					DeviceID:      c.deviceID,
					IsCreator:     false,
					Identity:      c.wireIdentity(),
					Document:      doc,
					Callbacks:     cb,
					ICEServers:    c.cfg.WebRTCICEServers,
					LoggerFactory: c.cfg.LoggerFactory,
				})
				if err != nil {
					return nil, err
				}
				return &activeSession{transport: "webrtc", loop: sess.Loop, peer: sess.PeerDevice, extra: sess.PeerConnection}, nil
			},
		})
	}

	if len(attempts) == 0 {
		c.resetAfterFailure()
		return fmt.Errorf("synccontroller: join session: no transport configured: %w", syncerr.ErrTransportConnect)
	}

	raceCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelRace = cancel
	c.mu.Unlock()

	go func() {
		session, err := raceAttempts(raceCtx, attempts)
		if err != nil {
			sessionOutcomesTotal.WithLabelValues("failed").Inc()
			c.emitError(fmt.Sprintf("join session: %v", err))
			c.resetAfterFailure()
			return
		}
		transportWinsTotal.WithLabelValues(session.transport).Inc()
		c.onConnected(session, doc)
	}()

	return nil
}

// onConnected transitions to Connected and starts the loop. If this
// device is the creator, it seeds the peer with the current document
// state immediately, since the joiner always starts from empty.
func (c *Controller) onConnected(session *activeSession, doc *crdtdoc.Document) {
	c.mu.Lock()
	if c.status == StatusDisconnected {
		// leave_session raced us; the winning transport arrived after
		// teardown already ran. Discard it.
		c.mu.Unlock()
		_ = session.Close()
		return
	}
	c.status = StatusConnected
	c.peer = &session.peer
	c.active = session
	state := c.stateLocked()
	c.mu.Unlock()

	sessionOutcomesTotal.WithLabelValues("connected").Inc()
	activeSessions.Inc()
	c.emitStatusChanged(state)

	if c.role == pairing.RoleCreator {
		if update, err := doc.EncodeStateAsUpdate(); err == nil {
			_ = session.loop.SendUpdate(update)
		}
	}

	go func() {
		_ = session.loop.Run(context.Background())
	}()
}

// loopCallbacks wires syncloop events into the controller's event sink.
// It captures nothing session-specific, so the same set serves both the
// winning and losing race attempts without risk of cross-talk: only the
// winner ever has Run called on it.
func (c *Controller) loopCallbacks() syncloop.Callbacks {
	return syncloop.Callbacks{
		OnSnapshot: func(s crdtdoc.Snapshot) {
			c.emitStateUpdated(s, "full_state")
		},
		OnDeviceInfo: func(info wireproto.DeviceInfo) {
			c.mu.Lock()
			c.peer = &info
			state := c.stateLocked()
			c.mu.Unlock()
			c.emitStatusChanged(state)
		},
		OnHeartbeatTimeout: func() {
			c.emitHeartbeatTimeout()
		},
		OnSessionWarning: func(remaining time.Duration) {
			c.emitSessionWarning(remaining)
		},
		OnSessionTimeout: func() {
			c.emitSessionTimeout()
		},
		OnDisconnected: func() {
			c.emitDisconnected()
			c.resetAfterFailure()
		},
	}
}

// LeaveSession tears down any active session and returns to
// Disconnected. Idempotent and infallible, per the teardown contract.
func (c *Controller) LeaveSession() error {
	c.mu.Lock()
	if c.status == StatusDisconnected {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancelRace
	active := c.active
	wasAnnouncing := c.announcing
	c.resetLocked()
	state := c.stateLocked()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if active != nil {
		_ = active.Close()
		activeSessions.Dec()
	}
	if wasAnnouncing && c.cfg.Discovery != nil {
		c.cfg.Discovery.Unannounce()
	}
	c.emitStatusChanged(state)
	return nil
}

// GetStatus returns a snapshot of the controller's current state.
func (c *Controller) GetStatus() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// GetPairingCode returns the active pairing code, if any.
func (c *Controller) GetPairingCode() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairingCode, c.pairingCode != ""
}

// UpdateTranscript requires Connected; it mutates the local document and
// pushes a fresh full-state update to the peer.
func (c *Controller) UpdateTranscript(text string) error {
	doc, active, err := c.requireConnected()
	if err != nil {
		return err
	}
	doc.SetTranscript(text)
	return c.pushFullState(doc, active)
}

// UpdateAgentResult requires Connected; agent must name one of the
// document's agent-result maps.
func (c *Controller) UpdateAgentResult(agent, resultJSON string) error {
	doc, active, err := c.requireConnected()
	if err != nil {
		return err
	}
	if err := doc.SetAgentResult(agent, resultJSON); err != nil {
		return err
	}
	return c.pushFullState(doc, active)
}

func (c *Controller) pushFullState(doc *crdtdoc.Document, active *activeSession) error {
	update, err := doc.EncodeStateAsUpdate()
	if err != nil {
		return fmt.Errorf("synccontroller: encode update failed: %w", err)
	}
	return active.loop.SendUpdate(update)
}

func (c *Controller) requireConnected() (*crdtdoc.Document, *activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnected {
		return nil, nil, fmt.Errorf("synccontroller: %w", syncerr.ErrNotConnected)
	}
	return c.doc, c.active, nil
}

// resetAfterFailure returns to Disconnected from any non-terminal state,
// e.g. after a failed race or an OnDisconnected callback. It does not
// close the active session itself — the caller (or the loop that fired
// OnDisconnected) already owns that teardown.
func (c *Controller) resetAfterFailure() {
	c.mu.Lock()
	if c.status == StatusDisconnected {
		c.mu.Unlock()
		return
	}
	hadActive := c.active != nil
	wasAnnouncing := c.announcing
	c.resetLocked()
	state := c.stateLocked()
	c.mu.Unlock()

	if hadActive {
		activeSessions.Dec()
	}
	if wasAnnouncing && c.cfg.Discovery != nil {
		c.cfg.Discovery.Unannounce()
	}
	c.emitStatusChanged(state)
}

func (c *Controller) resetLocked() {
	c.status = StatusDisconnected
	c.sessionID = ""
	c.pairingCode = ""
	c.peer = nil
	c.doc = crdtdoc.New()
	c.active = nil
	c.announcing = false
	c.cancelRace = nil
}

func (c *Controller) stateLocked() SessionState {
	return SessionState{
		Role:        c.role,
		Status:      c.status,
		SessionID:   c.sessionID,
		PairingCode: c.pairingCode,
		Peer:        c.peer,
	}
}
