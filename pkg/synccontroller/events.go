package synccontroller

import (
	"time"

	"github.com/aurus-sync/core/pkg/crdtdoc"
	"github.com/aurus-sync/core/pkg/pairing"
	"github.com/aurus-sync/core/pkg/wireproto"
)

// SessionState is the read-only status snapshot returned by GetStatus
// and carried on every sync-status-changed event.
type SessionState struct {
	Role        pairing.Role
	Status      Status
	SessionID   string
	PairingCode string
	Peer        *wireproto.DeviceInfo
}

// EventSink receives the UI-facing event stream. Every method mirrors
// one of the original Tauri app.emit channels; a caller with no UI
// wires a no-op sink.
type EventSink interface {
	OnStatusChanged(SessionState)
	// OnStateUpdated fires each time an update from the peer has been
	// applied; local writes (UpdateTranscript, UpdateAgentResult) do not
	// fire it.
	// updateType is "full_state" unless the caller distinguishes finer
	// grained update kinds (transcript, agent_result, ...).
	OnStateUpdated(snapshot crdtdoc.Snapshot, updateType string)
	OnError(message string)
	OnDisconnected()
	OnHeartbeatTimeout()
	OnSessionWarning(remaining time.Duration)
	OnSessionTimeout()
}

func (c *Controller) emitStatusChanged(s SessionState) {
	if c.cfg.EventSink != nil {
		c.cfg.EventSink.OnStatusChanged(s)
	}
}

func (c *Controller) emitStateUpdated(snapshot crdtdoc.Snapshot, updateType string) {
	if c.cfg.EventSink != nil {
		c.cfg.EventSink.OnStateUpdated(snapshot, updateType)
	}
}

func (c *Controller) emitError(message string) {
	if c.log != nil {
		c.log.Warnf("%s", message)
	}
	if c.cfg.EventSink != nil {
		c.cfg.EventSink.OnError(message)
	}
}

func (c *Controller) emitDisconnected() {
	if c.cfg.EventSink != nil {
		c.cfg.EventSink.OnDisconnected()
	}
}

func (c *Controller) emitHeartbeatTimeout() {
	if c.cfg.EventSink != nil {
		c.cfg.EventSink.OnHeartbeatTimeout()
	}
}

func (c *Controller) emitSessionWarning(remaining time.Duration) {
	if c.cfg.EventSink != nil {
		c.cfg.EventSink.OnSessionWarning(remaining)
	}
}

func (c *Controller) emitSessionTimeout() {
	if c.cfg.EventSink != nil {
		c.cfg.EventSink.OnSessionTimeout()
	}
}
