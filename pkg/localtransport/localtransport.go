// Package localtransport implements the LAN transport for a sync
// session: the creator binds an ephemeral TCP port and upgrades the
// first incoming connection to a WebSocket, the joiner dials the
// creator's advertised address directly. Both sides run the SPAKE2
// handshake over the raw connection, exchange an encrypted DeviceInfo,
// and hand off to pkg/syncloop for the remainder of the session.
//
// This mirrors backkem/matter's pkg/transport.TCP in shape (Config with
// an optional pre-built net.Listener, LoggerFactory-based logging,
// mutex-guarded started/closed flags) adapted to a single one-shot
// accept instead of a persistent connection pool, since exactly two
// devices ever take part in one session.
package localtransport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/aurus-sync/core/pkg/crdtdoc"
	"github.com/aurus-sync/core/pkg/syncerr"
	"github.com/aurus-sync/core/pkg/syncloop"
	"github.com/aurus-sync/core/pkg/wireproto"
)

// DialTimeout bounds how long the joiner waits to establish the raw
// WebSocket connection to the creator.
const DialTimeout = 10 * time.Second

// DeviceIdentity is the local device's self-description, sent to the
// peer once the cipher is established.
type DeviceIdentity struct {
	DeviceID   string
	DeviceName string
	Platform   string
}

func (d DeviceIdentity) toWire() wireproto.DeviceInfo {
	return wireproto.DeviceInfo{DeviceID: d.DeviceID, DeviceName: d.DeviceName, Platform: d.Platform}
}

// Session is a fully established connection: PAKE has completed,
// DeviceInfo has been exchanged, and Loop is ready for the caller to
// Run. The caller owns Loop's lifetime from here on.
type Session struct {
	Loop       *syncloop.Loop
	PeerDevice wireproto.DeviceInfo
}

// CreatorConfig configures StartCreator.
type CreatorConfig struct {
	// Port to bind; 0 picks an ephemeral port (the common case — the
	// caller reads CreatorHandle.Port() to advertise it).
	Port int
	// PairingCode is the human-readable code both sides share out of band.
	PairingCode string
	// Identity is sent to the peer once the cipher is up.
	Identity DeviceIdentity
	// Document is handed to the resulting Loop for update relay.
	Document *crdtdoc.Document
	// Callbacks are forwarded to the resulting Loop.
	Callbacks syncloop.Callbacks
	// LoggerFactory builds the transport's own logger, distinct from any
	// logger the Loop is given directly (same LoggerFactory is fine).
	LoggerFactory logging.LoggerFactory
}

// CreatorHandle accepts exactly one joiner connection.
type CreatorHandle struct {
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	cfg      CreatorConfig
	log      logging.LeveledLogger

	mu       sync.Mutex
	accepted bool

	result chan acceptResult
}

type acceptResult struct {
	session *Session
	err     error
}

// StartCreator binds cfg.Port and begins serving the upgrade endpoint in
// the background. It returns immediately so the caller can advertise
// the bound port via pkg/discovery before a joiner arrives.
func StartCreator(cfg CreatorConfig) (*CreatorHandle, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("localtransport: listen failed: %w", syncerr.ErrTransportAccept)
	}

	h := &CreatorHandle{
		listener: ln,
		cfg:      cfg,
		result:   make(chan acceptResult, 1),
	}
	if cfg.LoggerFactory != nil {
		h.log = cfg.LoggerFactory.NewLogger("localtransport-creator")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleUpgrade)
	h.server = &http.Server{Handler: mux}

	go h.server.Serve(ln)

	if h.log != nil {
		h.log.Infof("listening for joiner on %s", ln.Addr())
	}
	return h, nil
}

// Port returns the bound TCP port.
func (h *CreatorHandle) Port() int {
	return h.listener.Addr().(*net.TCPAddr).Port
}

// Accept blocks until the joiner connects and the handshake completes,
// or ctx is done. It may only be called once.
func (h *CreatorHandle) Accept(ctx context.Context) (*Session, error) {
	select {
	case r := <-h.result:
		return r.session, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new connections.
func (h *CreatorHandle) Close() error {
	return h.server.Close()
}

func (h *CreatorHandle) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.accepted {
		h.mu.Unlock()
		http.Error(w, "already paired", http.StatusConflict)
		return
	}
	h.accepted = true
	h.mu.Unlock()

	// A one-shot listener: stop serving once the sole slot is filled or
	// has failed, successful or not.
	defer func() { go h.server.Close() }()

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.Warnf("upgrade failed: %v", err)
		}
		h.result <- acceptResult{err: fmt.Errorf("localtransport: upgrade failed: %w", syncerr.ErrTransportAccept)}
		return
	}
	conn := newWSConn(raw)

	session, err := completeCreatorHandshake(conn, h.cfg)
	if err != nil {
		conn.Close()
		if h.log != nil {
			h.log.Warnf("handshake failed: %v", err)
		}
		h.result <- acceptResult{err: err}
		return
	}

	h.result <- acceptResult{session: session}
}

func completeCreatorHandshake(conn *wsConn, cfg CreatorConfig) (*Session, error) {
	cipher, err := handshakeAsCreator(conn, cfg.PairingCode)
	if err != nil {
		return nil, fmt.Errorf("localtransport: creator handshake failed: %w", err)
	}

	if err := sendDeviceInfo(conn, cipher, cfg.Identity.toWire()); err != nil {
		return nil, err
	}
	peerInfo, err := recvDeviceInfo(conn, cipher)
	if err != nil {
		return nil, err
	}

	loop := syncloop.New(conn, cipher, cfg.Document, cfg.Callbacks, cfg.LoggerFactory)
	return &Session{Loop: loop, PeerDevice: peerInfo}, nil
}

// JoinerConfig configures Join.
type JoinerConfig struct {
	// Address and Port identify the creator, as discovered via mDNS or
	// entered manually.
	Address string
	Port    int
	// PairingCode is the human-readable code both sides share out of band.
	PairingCode string
	// Identity is sent to the peer once the cipher is up.
	Identity DeviceIdentity
	// Document is handed to the resulting Loop for update relay.
	Document *crdtdoc.Document
	// Callbacks are forwarded to the resulting Loop.
	Callbacks syncloop.Callbacks
	// LoggerFactory builds the transport's own logger.
	LoggerFactory logging.LoggerFactory
}

// Join dials the creator, runs the joiner side of the handshake, and
// returns a ready Session.
func Join(ctx context.Context, cfg JoinerConfig) (*Session, error) {
	url := fmt.Sprintf("ws://%s:%d/ws", cfg.Address, cfg.Port)

	dialer := websocket.Dialer{HandshakeTimeout: DialTimeout}
	raw, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("localtransport: dial %s failed: %w", url, syncerr.ErrTransportConnect)
	}
	conn := newWSConn(raw)

	var log logging.LeveledLogger
	if cfg.LoggerFactory != nil {
		log = cfg.LoggerFactory.NewLogger("localtransport-joiner")
	}

	cipher, err := handshakeAsJoiner(conn, cfg.PairingCode)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("localtransport: joiner handshake failed: %w", err)
	}

	if err := sendDeviceInfo(conn, cipher, cfg.Identity.toWire()); err != nil {
		conn.Close()
		return nil, err
	}
	peerInfo, err := recvDeviceInfo(conn, cipher)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if log != nil {
		log.Infof("paired with %s (%s)", peerInfo.DeviceName, peerInfo.DeviceID)
	}

	loop := syncloop.New(conn, cipher, cfg.Document, cfg.Callbacks, cfg.LoggerFactory)
	return &Session{Loop: loop, PeerDevice: peerInfo}, nil
}
