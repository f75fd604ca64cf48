// Package syncloop implements the frame loop shared by both transports
// once a SessionCipher is established: heartbeats with a dead-man's
// switch, a bounded session lifetime with an advance warning, forward
// secrecy via periodic key rotation, and CRDT update relay. Both
// pkg/localtransport and pkg/webrtctransport hand their connection to a
// Loop after completing their respective handshakes; neither
// reimplements this logic.
package syncloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/aurus-sync/core/pkg/crdtdoc"
	"github.com/aurus-sync/core/pkg/sessioncipher"
	"github.com/aurus-sync/core/pkg/syncerr"
	"github.com/aurus-sync/core/pkg/wireproto"
)

// Timing constants, carried over from the original transport's security
// hardening pass: heartbeat every 5s with a 15s dead-man's-switch,
// a 4h session ceiling with a warning 15 minutes out, and a forward
// secrecy key ratchet every 30 minutes.
const (
	HeartbeatInterval  = 5 * time.Second
	PeerTimeout        = 15 * time.Second
	SessionMaxDuration = 4 * time.Hour
	SessionWarnBefore  = 15 * time.Minute
	KeyRotateInterval  = 30 * time.Minute
)

// Conn is the minimal framed-message transport a Loop needs. Both
// pkg/localtransport's WebSocket wrapper and pkg/webrtctransport's data
// channel wrapper implement it.
type Conn interface {
	Send(frame []byte) error
	Recv() ([]byte, error)
	Close() error
}

// Callbacks lets the caller (typically pkg/synccontroller) react to loop
// events without the loop depending on any UI-facing type.
type Callbacks struct {
	OnSnapshot         func(crdtdoc.Snapshot)
	OnDeviceInfo       func(wireproto.DeviceInfo)
	OnHeartbeatTimeout func()
	OnSessionWarning   func(remaining time.Duration)
	OnSessionTimeout   func()
	OnDisconnected     func()
}

// Loop owns one active session's frame exchange with the peer.
type Loop struct {
	conn   Conn
	cipher *sessioncipher.Cipher
	doc    *crdtdoc.Document
	cb     Callbacks
	log    logging.LeveledLogger

	outbound chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// New constructs a Loop. cipher and doc must already exist; the caller
// performs pairing and the initial state exchange before starting Run.
func New(conn Conn, cipher *sessioncipher.Cipher, doc *crdtdoc.Document, cb Callbacks, loggerFactory logging.LoggerFactory) *Loop {
	l := &Loop{
		conn:     conn,
		cipher:   cipher,
		doc:      doc,
		cb:       cb,
		outbound: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
	if loggerFactory != nil {
		l.log = loggerFactory.NewLogger("syncloop")
	}
	return l
}

// SendUpdate queues a plaintext CRDT update (or diff) for encryption and
// transmission to the peer.
func (l *Loop) SendUpdate(update []byte) error {
	select {
	case l.outbound <- update:
		return nil
	case <-l.closed:
		return fmt.Errorf("syncloop: closed: %w", syncerr.ErrNotConnected)
	}
}

// SendDeviceInfo transmits this device's identity to the peer over the
// now-established cipher. Both transports already exchange DeviceInfo
// before a Loop exists, so the session flow does not call this.
func (l *Loop) SendDeviceInfo(info wireproto.DeviceInfo) error {
	return l.sendEnvelope(wireproto.KindDeviceInfo, info)
}

// RequestResync asks the peer for a diff against our current state
// vector; the peer answers with a KindStateVector frame carrying that
// diff. The session flow does not call this (a dropped session is not
// reconnected); it is available for repairing drift without waiting for
// the next full update.
func (l *Loop) RequestResync() error {
	vector, err := l.doc.EncodeStateVector()
	if err != nil {
		return fmt.Errorf("syncloop: encode state vector failed: %w", err)
	}
	return l.sendEnvelope(wireproto.KindStateVectorRequest, wireproto.StateVectorRequestPayload{Vector: vector})
}

// Close sends a goodbye frame on a best-effort basis, then tears down
// the loop and its connection. Safe to call whether or not Run is
// currently active.
func (l *Loop) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.sendGoodbye("")
		close(l.closed)
		err = l.conn.Close()
	})
	return err
}

// Run drives the loop until ctx is cancelled, the connection fails, or
// the peer says goodbye. It always returns after emitting a final
// OnDisconnected callback.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		if l.cb.OnDisconnected != nil {
			l.cb.OnDisconnected()
		}
	}()

	inbound := make(chan []byte)
	inboundErr := make(chan error, 1)
	go func() {
		for {
			frame, err := l.conn.Recv()
			if err != nil {
				inboundErr <- err
				return
			}
			select {
			case inbound <- frame:
			case <-l.closed:
				return
			}
		}
	}()

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	sessionStart := time.Now()
	warnAt := SessionMaxDuration - SessionWarnBefore
	warned := false

	lastPeerActivity := time.Now()
	keyEpoch := l.cipher.Epoch()
	lastRotation := time.Now()

	for {
		select {
		case <-ctx.Done():
			l.sendGoodbye("")
			return ctx.Err()

		case <-l.closed:
			return nil

		case err := <-inboundErr:
			if l.log != nil {
				l.log.Warnf("connection read failed: %v", err)
			}
			return err

		case frame := <-inbound:
			lastPeerActivity = time.Now()
			done, err := l.handleFrame(frame, &keyEpoch)
			if err != nil && l.log != nil {
				l.log.Warnf("frame handling error: %v", err)
			}
			if done {
				return nil
			}

		case update := <-l.outbound:
			if err := l.sendEnvelope(wireproto.KindUpdate, wireproto.UpdatePayload{Data: update}); err != nil {
				if l.log != nil {
					l.log.Errorf("failed to send update: %v", err)
				}
				return err
			}

		case <-ticker.C:
			if time.Since(lastPeerActivity) > PeerTimeout {
				if l.cb.OnHeartbeatTimeout != nil {
					l.cb.OnHeartbeatTimeout()
				}
				return fmt.Errorf("syncloop: peer heartbeat timeout: %w", syncerr.ErrTimeout)
			}

			if err := l.sendEnvelope(wireproto.KindHeartbeat, struct{}{}); err != nil {
				return err
			}

			elapsed := time.Since(sessionStart)
			if elapsed >= SessionMaxDuration {
				if l.cb.OnSessionTimeout != nil {
					l.cb.OnSessionTimeout()
				}
				l.sendGoodbye("session timeout")
				return nil
			}
			if !warned && elapsed >= warnAt {
				warned = true
				if l.cb.OnSessionWarning != nil {
					l.cb.OnSessionWarning(SessionMaxDuration - elapsed)
				}
			}

			if time.Since(lastRotation) >= KeyRotateInterval {
				keyEpoch++
				if err := l.sendEnvelope(wireproto.KindKeyRotate, wireproto.KeyRotatePayload{Epoch: keyEpoch}); err != nil {
					return err
				}
				if err := l.cipher.RotateKey(); err != nil {
					return fmt.Errorf("syncloop: key rotation failed: %w", err)
				}
				lastRotation = time.Now()
			}
		}
	}
}

// handleFrame decrypts and dispatches one inbound envelope. The second
// return value reports whether the loop should stop (a graceful goodbye).
func (l *Loop) handleFrame(frame []byte, keyEpoch *uint64) (bool, error) {
	var env wireproto.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return false, fmt.Errorf("syncloop: malformed envelope: %w", syncerr.ErrTransportParse)
	}

	plaintext, err := l.cipher.Decrypt(sessioncipher.Envelope{
		Counter:    env.Counter,
		Ciphertext: env.Ciphertext,
	})
	if err != nil {
		return false, fmt.Errorf("syncloop: decrypt failed: %w", err)
	}

	switch env.Kind {
	case wireproto.KindUpdate:
		var payload wireproto.UpdatePayload
		if err := json.Unmarshal(plaintext, &payload); err != nil {
			return false, fmt.Errorf("syncloop: malformed update payload: %w", syncerr.ErrTransportParse)
		}
		if err := l.doc.ApplyUpdate(payload.Data); err != nil {
			return false, fmt.Errorf("syncloop: apply update failed: %w", err)
		}
		if l.cb.OnSnapshot != nil {
			l.cb.OnSnapshot(l.doc.TakeSnapshot())
		}

	case wireproto.KindHeartbeat:
		// lastPeerActivity already bumped by the caller.

	case wireproto.KindKeyRotate:
		var payload wireproto.KeyRotatePayload
		if err := json.Unmarshal(plaintext, &payload); err != nil {
			return false, fmt.Errorf("syncloop: malformed key rotate payload: %w", syncerr.ErrTransportParse)
		}
		if payload.Epoch > *keyEpoch {
			if err := l.cipher.RotateKey(); err != nil {
				return false, fmt.Errorf("syncloop: key rotation failed: %w", err)
			}
			*keyEpoch = payload.Epoch
		}

	case wireproto.KindStateVectorRequest:
		var payload wireproto.StateVectorRequestPayload
		if err := json.Unmarshal(plaintext, &payload); err != nil {
			return false, fmt.Errorf("syncloop: malformed state vector request: %w", syncerr.ErrTransportParse)
		}
		diff, err := l.doc.EncodeDiff(payload.Vector)
		if err != nil {
			return false, fmt.Errorf("syncloop: encode diff failed: %w", err)
		}
		if err := l.sendEnvelope(wireproto.KindStateVector, wireproto.StateVectorPayload{Vector: diff}); err != nil {
			return false, err
		}

	case wireproto.KindStateVector:
		var payload wireproto.StateVectorPayload
		if err := json.Unmarshal(plaintext, &payload); err != nil {
			return false, fmt.Errorf("syncloop: malformed state vector payload: %w", syncerr.ErrTransportParse)
		}
		if err := l.doc.ApplyUpdate(payload.Vector); err != nil {
			return false, fmt.Errorf("syncloop: apply resync diff failed: %w", err)
		}
		if l.cb.OnSnapshot != nil {
			l.cb.OnSnapshot(l.doc.TakeSnapshot())
		}

	case wireproto.KindGoodbye:
		return true, nil

	case wireproto.KindDeviceInfo:
		var payload wireproto.DeviceInfo
		if err := json.Unmarshal(plaintext, &payload); err != nil {
			return false, fmt.Errorf("syncloop: malformed device info payload: %w", syncerr.ErrTransportParse)
		}
		if l.cb.OnDeviceInfo != nil {
			l.cb.OnDeviceInfo(payload)
		}

	default:
		return false, fmt.Errorf("syncloop: unknown envelope kind %q", env.Kind)
	}

	return false, nil
}

func (l *Loop) sendEnvelope(kind string, payload any) error {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("syncloop: encode payload failed: %w", syncerr.ErrTransportParse)
	}

	sealed, err := l.cipher.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("syncloop: encrypt failed: %w", err)
	}

	env := wireproto.Envelope{
		Kind:       kind,
		Epoch:      l.cipher.Epoch(),
		Counter:    sealed.Counter,
		Ciphertext: sealed.Ciphertext,
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("syncloop: encode envelope failed: %w", syncerr.ErrTransportParse)
	}

	return l.conn.Send(frame)
}

func (l *Loop) sendGoodbye(reason string) {
	_ = l.sendEnvelope(wireproto.KindGoodbye, wireproto.GoodbyePayload{Reason: reason})
}
