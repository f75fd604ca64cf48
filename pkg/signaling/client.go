// Package signaling implements the WebSocket client side of the opaque
// relay used to bootstrap a WebRTC session across networks. It joins a
// room derived from the pairing code and exchanges base64-wrapped
// payloads (SPAKE2 shares, encrypted SDP/ICE) with whichever peer the
// relay pairs it with. The relay never sees plaintext.
//
// The read/write pump structure follows backkem/matter's pkg/transport
// TCP/UDP transports (background goroutines, a closeCh, WaitGroup
// shutdown) generalized to a single WebSocket connection instead of a
// connection pool.
package signaling

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/aurus-sync/core/pkg/pairing"
	"github.com/aurus-sync/core/pkg/syncerr"
	"github.com/aurus-sync/core/pkg/wireproto"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// EventKind discriminates the events delivered on Client.Events.
type EventKind int

const (
	// EventPayload carries a relayed opaque byte payload from the peer.
	EventPayload EventKind = iota
	// EventPeerJoined fires when a peer joins the room, carrying its device id.
	EventPeerJoined
	// EventPeerLeft fires when the peer disconnects from the room.
	EventPeerLeft
)

// Event is one message delivered from the relay.
type Event struct {
	Kind    EventKind
	From    string
	Payload []byte
}

// Client is a connection to the signaling relay for a single pairing
// session. It is safe for concurrent Send calls; Events must be drained
// by a single consumer.
type Client struct {
	conn     *websocket.Conn
	room     string
	deviceID string
	log      logging.LeveledLogger

	events chan Event
	sendMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// Config configures Connect.
type Config struct {
	// URL is the relay's WebSocket endpoint, e.g. "wss://relay.example/ws".
	URL string
	// PairingCode derives the room id; never sent to the relay.
	PairingCode string
	// DeviceID identifies this device within the room.
	DeviceID string
	// LoggerFactory builds the client's logger. If nil, events are not logged.
	LoggerFactory logging.LoggerFactory
	// EventBuffer sizes the Events channel. Defaults to 32.
	EventBuffer int
}

// RoomIDFromPairingCode derives the opaque room id the relay indexes on.
// The relay never learns the code itself, only this digest.
func RoomIDFromPairingCode(code string) string {
	return pairing.RoomIDFromCode(code)
}

// Connect dials the relay, joins the room for cfg.PairingCode, and
// starts the background read/write pumps.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 32
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling: dial %s failed: %w", cfg.URL, syncerr.ErrSignaling)
	}

	c := &Client{
		conn:     conn,
		room:     RoomIDFromPairingCode(cfg.PairingCode),
		deviceID: cfg.DeviceID,
		events:   make(chan Event, cfg.EventBuffer),
		closed:   make(chan struct{}),
	}
	if cfg.LoggerFactory != nil {
		c.log = cfg.LoggerFactory.NewLogger("signaling")
	}

	join := wireproto.NewJoinMessage(c.room, c.deviceID)
	b, err := join.Marshal()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("signaling: encode join failed: %w", syncerr.ErrSignaling)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		conn.Close()
		return nil, fmt.Errorf("signaling: send join failed: %w", syncerr.ErrSignaling)
	}

	if c.log != nil {
		c.log.Infof("joined room %s as %s", c.room[:16], c.deviceID)
	}

	c.wg.Add(2)
	go c.readPump()
	go c.writePump()

	return c, nil
}

// RoomID returns this session's opaque room identifier.
func (c *Client) RoomID() string { return c.room }

// DeviceID returns this client's device identifier.
func (c *Client) DeviceID() string { return c.deviceID }

// Events returns the channel of events relayed from the server. It is
// closed when the connection terminates.
func (c *Client) Events() <-chan Event { return c.events }

// Send relays an opaque payload to whichever peer shares this room.
func (c *Client) Send(payload []byte) error {
	msg := wireproto.NewRelayMessage(c.room, c.deviceID, base64.StdEncoding.EncodeToString(payload))
	b, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("signaling: encode relay failed: %w", syncerr.ErrSignaling)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	select {
	case <-c.closed:
		return fmt.Errorf("signaling: connection closed: %w", syncerr.ErrNotConnected)
	default:
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("signaling: write failed: %w", syncerr.ErrTransportWrite)
	}
	return nil
}

// WaitForPeer blocks until a peer joins the room or ctx is done,
// returning the peer's device id.
func (c *Client) WaitForPeer(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("signaling: wait for peer: %w", syncerr.ErrTimeout)
		case ev, ok := <-c.events:
			if !ok {
				return "", fmt.Errorf("signaling: connection closed while waiting for peer: %w", syncerr.ErrNotConnected)
			}
			if ev.Kind == EventPeerJoined {
				return ev.From, nil
			}
		}
	}
}

// Close terminates the connection and background pumps.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
		c.wg.Wait()
		close(c.events)
	})
	return err
}

func (c *Client) readPump() {
	defer c.wg.Done()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.log != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warnf("relay connection error: %v", err)
			}
			return
		}

		msg, err := wireproto.UnmarshalServerMessage(data)
		if err != nil {
			if c.log != nil {
				c.log.Warnf("malformed relay message: %v", err)
			}
			continue
		}

		var ev Event
		switch msg.Type {
		case wireproto.ServerRelay:
			payload, err := base64.StdEncoding.DecodeString(msg.Payload)
			if err != nil {
				if c.log != nil {
					c.log.Warnf("malformed relay payload: %v", err)
				}
				continue
			}
			ev = Event{Kind: EventPayload, From: msg.From, Payload: payload}
		case wireproto.ServerPeerJoined:
			ev = Event{Kind: EventPeerJoined, From: msg.From}
		case wireproto.ServerPeerLeft:
			ev = Event{Kind: EventPeerLeft, From: msg.From}
		default:
			continue
		}

		select {
		case c.events <- ev:
		case <-c.closed:
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.sendMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.sendMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
