// Package wireproto defines the JSON-tagged message envelopes exchanged
// with the signaling relay and, once a session cipher is established,
// the encrypted frames carried over either transport (local WebSocket or
// WebRTC data channel).
package wireproto

import "encoding/json"

// ClientMessage is sent from a SignalingClient to the relay.
type ClientMessage struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	From    string `json:"from"`
	Payload string `json:"payload,omitempty"` // base64, present for "relay"
}

// Client message type discriminants.
const (
	ClientJoin  = "join"
	ClientRelay = "relay"
)

// NewJoinMessage builds a join request for the given room and device.
func NewJoinMessage(room, deviceID string) ClientMessage {
	return ClientMessage{Type: ClientJoin, Room: room, From: deviceID}
}

// NewRelayMessage builds an opaque relay payload addressed to the room.
func NewRelayMessage(room, deviceID, payloadBase64 string) ClientMessage {
	return ClientMessage{Type: ClientRelay, Room: room, From: deviceID, Payload: payloadBase64}
}

// ServerMessage is sent from the relay to a connected client.
type ServerMessage struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	From    string `json:"from"`
	Payload string `json:"payload,omitempty"` // base64, present for "relay"
}

// Server message type discriminants.
const (
	ServerRelay      = "relay"
	ServerPeerJoined = "peer_joined"
	ServerPeerLeft   = "peer_left"
)

// Marshal and Unmarshal are thin wrappers kept here so both the client
// and the relay depend on exactly one encode/decode path.

func (m ClientMessage) Marshal() ([]byte, error) { return json.Marshal(m) }

func (m ServerMessage) Marshal() ([]byte, error) { return json.Marshal(m) }

func UnmarshalClientMessage(b []byte) (ClientMessage, error) {
	var m ClientMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

func UnmarshalServerMessage(b []byte) (ServerMessage, error) {
	var m ServerMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Envelope is the post-handshake frame shape sent over a SessionCipher on
// either transport, once PAKE and key agreement are complete. Counter and
// Ciphertext are populated from sessioncipher.Envelope; Epoch records
// which key rotation produced this frame, independent of the per-key
// counter; Kind travels in the clear, and the SyncLoop decrypts every
// frame before dispatching on it.
type Envelope struct {
	Kind       string `json:"kind"`
	Epoch      uint64 `json:"epoch"`
	Counter    uint64 `json:"counter"`
	Ciphertext []byte `json:"ciphertext"`
}

// Envelope kinds carried once the cipher is live.
const (
	KindDeviceInfo = "device_info"
	KindUpdate     = "update"
	KindHeartbeat  = "heartbeat"
	KindKeyRotate  = "key_rotate"
	KindGoodbye    = "goodbye"
)

// DeviceInfo is the first authenticated message exchanged after the
// cipher comes up, identifying each side to the other.
type DeviceInfo struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Platform   string `json:"platform"`
}

// UpdatePayload carries a CRDT update or diff produced by crdtdoc.
type UpdatePayload struct {
	Data []byte `json:"data"`
}

// KeyRotatePayload signals that the sender has ratcheted its send key to
// the given epoch; the receiver ratchets to match before decrypting any
// further frame at that epoch.
type KeyRotatePayload struct {
	Epoch uint64 `json:"epoch"`
}

// GoodbyePayload carries an optional human-readable reason for a
// graceful session teardown.
type GoodbyePayload struct {
	Reason string `json:"reason,omitempty"`
}

// HandshakeMessage carries the two SPAKE2 protocol messages exchanged
// before a SessionCipher exists, so it cannot be an encrypted Envelope.
// pkg/localtransport frames exactly two of these (one each direction)
// before handing off to an Envelope-based exchange; pkg/webrtctransport
// carries its SPAKE2 shares in its own signaling payload instead.
type HandshakeMessage struct {
	Kind    string `json:"kind"`
	Payload []byte `json:"payload"`
}

// Handshake message kinds.
const (
	KindSpake2Creator = "spake2_creator"
	KindSpake2Joiner  = "spake2_joiner"
)

// StateVectorRequestPayload asks the peer to diff its document state
// against the sender's vector and return only what has changed.
type StateVectorRequestPayload struct {
	Vector []byte `json:"vector"`
}

// StateVectorPayload answers a StateVectorRequestPayload: Vector holds
// the diff the responder computed against the requester's state vector,
// which the requester applies as an ordinary update.
type StateVectorPayload struct {
	Vector []byte `json:"vector"`
}

// Additional envelope kinds used for incremental resync once a full
// initial state exchange has completed.
const (
	KindStateVectorRequest = "state_vector_request"
	KindStateVector        = "state_vector"
)
