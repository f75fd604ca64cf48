package webrtctransport

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/aurus-sync/core/pkg/syncerr"
)

// dcConn adapts a pion DataChannel to syncloop.Conn.
type dcConn struct {
	dc *webrtc.DataChannel

	mu     sync.Mutex
	inbox  chan []byte
	closed chan struct{}
}

func newDCConn(dc *webrtc.DataChannel) *dcConn {
	c := &dcConn{dc: dc, inbox: make(chan []byte, 64), closed: make(chan struct{})}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case c.inbox <- msg.Data:
		case <-c.closed:
		}
	})
	dc.OnClose(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		select {
		case <-c.closed:
		default:
			close(c.closed)
		}
	})
	return c
}

func (c *dcConn) Send(frame []byte) error {
	select {
	case <-c.closed:
		return fmt.Errorf("webrtctransport: data channel closed: %w", syncerr.ErrNotConnected)
	default:
	}
	if err := c.dc.Send(frame); err != nil {
		return fmt.Errorf("webrtctransport: send failed: %w", syncerr.ErrTransportWrite)
	}
	return nil
}

func (c *dcConn) Recv() ([]byte, error) {
	select {
	case frame := <-c.inbox:
		return frame, nil
	case <-c.closed:
		return nil, fmt.Errorf("webrtctransport: data channel closed: %w", syncerr.ErrTransportRead)
	}
}

func (c *dcConn) Close() error {
	c.mu.Lock()
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	c.mu.Unlock()
	return c.dc.Close()
}
