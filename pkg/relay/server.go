// Package relay implements the opaque signaling relay: a WebSocket
// server that pairs at most two clients per room and forwards byte
// payloads between them. Rooms are keyed by the hex SHA-256 digest of a
// pairing code (see pkg/signaling.RoomIDFromPairingCode); the relay
// never sees the code itself, nor anything but base64 ciphertext once
// the PAKE handshake has produced a session cipher.
//
// Structurally this mirrors backkem/matter's pkg/transport TCP server:
// an http.Handler wrapping a websocket upgrader, one goroutine pair per
// connection, and a registry guarded by a single RWMutex.
package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/aurus-sync/core/pkg/wireproto"
)

// MaxClientsPerRoom caps a room at the two devices being paired.
const MaxClientsPerRoom = 2

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Server is the signaling relay's WebSocket handler.
type Server struct {
	log logging.LeveledLogger

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]*room
}

// room tracks the clients currently joined to one pairing session.
type room struct {
	clients map[string]chan []byte // device id -> outbound message channel
}

// Config configures a Server.
type Config struct {
	// LoggerFactory builds the server's logger. If nil, events are not logged.
	LoggerFactory logging.LoggerFactory
	// CheckOrigin, if set, overrides the default permissive origin check
	// (the relay has no cookies or ambient auth to protect, but operators
	// embedding it behind a browser-facing origin may want one).
	CheckOrigin func(r *http.Request) bool
}

// NewServer constructs a relay Server ready to be mounted as an
// http.Handler, typically at "/ws".
func NewServer(cfg Config) *Server {
	s := &Server{
		rooms: make(map[string]*room),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
	if cfg.LoggerFactory != nil {
		s.log = cfg.LoggerFactory.NewLogger("relay")
	}
	if s.upgrader.CheckOrigin == nil {
		s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return s
}

// ServeHTTP upgrades the connection and runs its lifetime.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Warnf("upgrade failed: %v", err)
		}
		return
	}
	s.handleConn(conn)
}

func (s *Server) handleConn(conn *websocket.Conn) {
	defer conn.Close()

	outbound := make(chan []byte, 32)
	var joinedRoom, deviceID string

	defer func() {
		if joinedRoom != "" && deviceID != "" {
			s.leave(joinedRoom, deviceID)
		}
	}()

	done := make(chan struct{})
	go s.writePump(conn, outbound, done)
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := wireproto.UnmarshalClientMessage(data)
		if err != nil {
			continue
		}

		switch msg.Type {
		case wireproto.ClientJoin:
			if joinedRoom != "" {
				continue // already joined; ignore re-join on this connection
			}
			if !s.join(msg.Room, msg.From, outbound) {
				joinsTotal.WithLabelValues("room_full").Inc()
				if s.log != nil {
					s.log.Warnf("room %s full, rejecting %s", msg.Room, msg.From)
				}
				continue
			}
			joinsTotal.WithLabelValues("accepted").Inc()
			joinedRoom, deviceID = msg.Room, msg.From
			if s.log != nil {
				s.log.Infof("client %s joined room %s", deviceID, joinedRoom)
			}

		case wireproto.ClientRelay:
			if s.relay(msg.Room, msg.From, msg.Payload) {
				messagesRelayedTotal.WithLabelValues("delivered").Inc()
			} else {
				messagesRelayedTotal.WithLabelValues("no_peer").Inc()
			}
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, outbound <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-outbound:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// join admits deviceID to roomID, returning false if the room is full.
// It notifies existing members with peer_joined.
func (s *Server) join(roomID, deviceID string, outbound chan []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		r = &room{clients: make(map[string]chan []byte)}
		s.rooms[roomID] = r
		roomsActive.Set(float64(len(s.rooms)))
	}
	if len(r.clients) >= MaxClientsPerRoom {
		return false
	}

	notice, _ := wireproto.ServerMessage{Type: wireproto.ServerPeerJoined, Room: roomID, From: deviceID}.Marshal()
	for _, ch := range r.clients {
		nonBlockingSend(ch, notice)
	}

	r.clients[deviceID] = outbound
	connectionsActive.Inc()
	return true
}

// relay forwards payload to every other member of roomID, reporting
// whether at least one peer received it.
func (s *Server) relay(roomID, from, payload string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}

	msg, err := wireproto.ServerMessage{Type: wireproto.ServerRelay, Room: roomID, From: from, Payload: payload}.Marshal()
	if err != nil {
		return false
	}

	delivered := false
	for id, ch := range r.clients {
		if id == from {
			continue
		}
		nonBlockingSend(ch, msg)
		delivered = true
	}
	return delivered
}

// leave removes deviceID from roomID, notifies remaining peers, and
// prunes the room once empty.
func (s *Server) leave(roomID, deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return
	}
	if _, ok := r.clients[deviceID]; !ok {
		return
	}
	delete(r.clients, deviceID)
	connectionsActive.Dec()

	notice, _ := wireproto.ServerMessage{Type: wireproto.ServerPeerLeft, Room: roomID, From: deviceID}.Marshal()
	for _, ch := range r.clients {
		nonBlockingSend(ch, notice)
	}

	if len(r.clients) == 0 {
		delete(s.rooms, roomID)
		roomsActive.Set(float64(len(s.rooms)))
		if s.log != nil {
			s.log.Infof("room %s removed (empty)", roomID)
		}
	}
}

func nonBlockingSend(ch chan []byte, msg []byte) {
	select {
	case ch <- msg:
	default:
	}
}
