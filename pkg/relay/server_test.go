package relay

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aurus-sync/core/pkg/wireproto"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(strings.Replace(url, "http", "ws", 1), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readOne(t *testing.T, conn *websocket.Conn) wireproto.ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := wireproto.UnmarshalServerMessage(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestRelayJoinAndForward(t *testing.T) {
	s := NewServer(Config{})
	srv := httptest.NewServer(s)
	defer srv.Close()

	a := dial(t, srv.URL)
	defer a.Close()
	b := dial(t, srv.URL)
	defer b.Close()

	joinA, _ := wireproto.NewJoinMessage("room1", "device-a").Marshal()
	if err := a.WriteMessage(websocket.TextMessage, joinA); err != nil {
		t.Fatalf("join a: %v", err)
	}

	joinB, _ := wireproto.NewJoinMessage("room1", "device-b").Marshal()
	if err := b.WriteMessage(websocket.TextMessage, joinB); err != nil {
		t.Fatalf("join b: %v", err)
	}

	notice := readOne(t, a)
	if notice.Type != wireproto.ServerPeerJoined || notice.From != "device-b" {
		t.Fatalf("got %+v, want peer_joined from device-b", notice)
	}

	relayMsg, _ := wireproto.NewRelayMessage("room1", "device-a", "cGluZw==").Marshal()
	if err := a.WriteMessage(websocket.TextMessage, relayMsg); err != nil {
		t.Fatalf("relay: %v", err)
	}

	got := readOne(t, b)
	if got.Type != wireproto.ServerRelay || got.From != "device-a" || got.Payload != "cGluZw==" {
		t.Fatalf("got %+v", got)
	}
}

func TestRelayRejectsThirdClientInRoom(t *testing.T) {
	s := NewServer(Config{})
	srv := httptest.NewServer(s)
	defer srv.Close()

	a := dial(t, srv.URL)
	defer a.Close()
	b := dial(t, srv.URL)
	defer b.Close()
	c := dial(t, srv.URL)
	defer c.Close()

	for i, conn := range []*websocket.Conn{a, b, c} {
		join, _ := wireproto.NewJoinMessage("room-full", string(rune('a'+i))).Marshal()
		if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}

	// a receives b's peer_joined notice; c's join is rejected silently
	// since the room is already at capacity.
	_ = readOne(t, a)

	s.mu.RLock()
	n := len(s.rooms["room-full"].clients)
	s.mu.RUnlock()
	if n != MaxClientsPerRoom {
		t.Fatalf("room has %d clients, want %d (third join should be rejected)", n, MaxClientsPerRoom)
	}
}

func TestRelayPeerLeftOnDisconnect(t *testing.T) {
	s := NewServer(Config{})
	srv := httptest.NewServer(s)
	defer srv.Close()

	a := dial(t, srv.URL)
	defer a.Close()
	b := dial(t, srv.URL)

	joinA, _ := wireproto.NewJoinMessage("room2", "device-a").Marshal()
	a.WriteMessage(websocket.TextMessage, joinA)
	joinB, _ := wireproto.NewJoinMessage("room2", "device-b").Marshal()
	b.WriteMessage(websocket.TextMessage, joinB)

	readOne(t, a) // peer_joined for device-b

	b.Close()

	notice := readOne(t, a)
	if notice.Type != wireproto.ServerPeerLeft || notice.From != "device-b" {
		t.Fatalf("got %+v, want peer_left from device-b", notice)
	}
}
