package webrtctransport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aurus-sync/core/pkg/sessioncipher"
	"github.com/aurus-sync/core/pkg/signaling"
	"github.com/aurus-sync/core/pkg/syncerr"
)

// signalingPayload is the union of messages carried over the relay while
// negotiating a peer connection: first an unencrypted SPAKE2 share (no
// cipher exists yet), then SDP and trickled ICE candidates encrypted
// under the cipher SPAKE2 just produced. The relay only ever sees
// opaque JSON and base64, never plaintext SDP.
type signalingPayload struct {
	Type      string `json:"type"`
	Data      []byte `json:"data,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	SDPType   string `json:"sdp_type,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	Mid       string `json:"mid,omitempty"`
}

const (
	payloadSpake2  = "spake2"
	payloadSDP     = "sdp"
	payloadICE     = "ice"
	payloadICEDone = "ice_done"
)

func sendSpake2(sc *signaling.Client, share []byte) error {
	return sendPlain(sc, signalingPayload{Type: payloadSpake2, Data: share})
}

func recvSpake2(ctx context.Context, sc *signaling.Client) ([]byte, error) {
	p, err := recvPlain(ctx, sc)
	if err != nil {
		return nil, err
	}
	if p.Type != payloadSpake2 {
		return nil, fmt.Errorf("webrtctransport: expected spake2 payload, got %q: %w", p.Type, syncerr.ErrPairing)
	}
	return p.Data, nil
}

func sendPlain(sc *signaling.Client, p signalingPayload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webrtctransport: encode signaling payload failed: %w", syncerr.ErrTransportParse)
	}
	return sc.Send(b)
}

func sendEncrypted(sc *signaling.Client, cipher *sessioncipher.Cipher, p signalingPayload) error {
	plaintext, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webrtctransport: encode signaling payload failed: %w", syncerr.ErrTransportParse)
	}
	envelope, err := cipher.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("webrtctransport: encrypt signaling payload failed: %w", err)
	}
	b, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("webrtctransport: encode envelope failed: %w", syncerr.ErrTransportParse)
	}
	return sc.Send(b)
}

func recvEncrypted(ctx context.Context, sc *signaling.Client, cipher *sessioncipher.Cipher) (signalingPayload, error) {
	raw, err := recvRawPayload(ctx, sc)
	if err != nil {
		return signalingPayload{}, err
	}
	var envelope sessioncipher.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return signalingPayload{}, fmt.Errorf("webrtctransport: malformed envelope: %w", syncerr.ErrTransportParse)
	}
	plaintext, err := cipher.Decrypt(envelope)
	if err != nil {
		return signalingPayload{}, fmt.Errorf("webrtctransport: decrypt signaling payload failed: %w", err)
	}
	var p signalingPayload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return signalingPayload{}, fmt.Errorf("webrtctransport: malformed signaling payload: %w", syncerr.ErrTransportParse)
	}
	return p, nil
}

func recvPlain(ctx context.Context, sc *signaling.Client) (signalingPayload, error) {
	raw, err := recvRawPayload(ctx, sc)
	if err != nil {
		return signalingPayload{}, err
	}
	var p signalingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return signalingPayload{}, fmt.Errorf("webrtctransport: malformed signaling payload: %w", syncerr.ErrTransportParse)
	}
	return p, nil
}

// recvRawPayload pulls the next relayed payload off the signaling
// client's event stream, skipping peer-joined notices and failing if
// the peer disconnects mid-negotiation.
func recvRawPayload(ctx context.Context, sc *signaling.Client) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("webrtctransport: negotiation cancelled: %w", syncerr.ErrTimeout)
		case ev, ok := <-sc.Events():
			if !ok {
				return nil, fmt.Errorf("webrtctransport: signaling connection closed: %w", syncerr.ErrNotConnected)
			}
			switch ev.Kind {
			case signaling.EventPayload:
				return ev.Payload, nil
			case signaling.EventPeerLeft:
				return nil, fmt.Errorf("webrtctransport: peer left during negotiation: %w", syncerr.ErrNotConnected)
			default:
				continue
			}
		}
	}
}
