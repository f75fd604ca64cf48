package localtransport

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aurus-sync/core/pkg/syncerr"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024
)

// wsConn adapts a gorilla/websocket connection to syncloop.Conn, and also
// carries the raw text-frame read/write used for the pre-cipher SPAKE2
// handshake before a Loop exists.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	pingStop  chan struct{}
}

func newWSConn(conn *websocket.Conn) *wsConn {
	w := &wsConn{conn: conn, closed: make(chan struct{}), pingStop: make(chan struct{})}
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go w.pingPump()
	return w
}

func (w *wsConn) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-w.pingStop:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := w.conn.WriteMessage(websocket.PingMessage, nil)
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Send implements syncloop.Conn.
func (w *wsConn) Send(frame []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	select {
	case <-w.closed:
		return fmt.Errorf("localtransport: connection closed: %w", syncerr.ErrNotConnected)
	default:
	}

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("localtransport: write failed: %w", syncerr.ErrTransportWrite)
	}
	return nil
}

// Recv implements syncloop.Conn.
func (w *wsConn) Recv() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("localtransport: read failed: %w", syncerr.ErrTransportRead)
	}
	return data, nil
}

// Close implements syncloop.Conn.
func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		close(w.pingStop)
		err = w.conn.Close()
	})
	return err
}
