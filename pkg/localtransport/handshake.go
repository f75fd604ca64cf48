package localtransport

import (
	"encoding/json"
	"fmt"

	"github.com/aurus-sync/core/pkg/pairing"
	"github.com/aurus-sync/core/pkg/sessioncipher"
	"github.com/aurus-sync/core/pkg/syncerr"
	"github.com/aurus-sync/core/pkg/wireproto"
)

// handshakeAsCreator runs the creator half of the SPAKE2 exchange over
// conn, framed as plain (unencrypted) wireproto.HandshakeMessage JSON
// values since no cipher exists yet. The joiner, having dialed in,
// speaks first.
func handshakeAsCreator(conn *wsConn, code string) (*sessioncipher.Cipher, error) {
	session, myShare, err := pairing.StartCreator(code)
	if err != nil {
		return nil, err
	}

	peerMsg, err := recvHandshake(conn)
	if err != nil {
		return nil, err
	}
	if peerMsg.Kind != wireproto.KindSpake2Joiner {
		return nil, fmt.Errorf("localtransport: expected joiner share, got %q: %w", peerMsg.Kind, syncerr.ErrPairing)
	}

	if err := sendHandshake(conn, wireproto.KindSpake2Creator, myShare); err != nil {
		return nil, err
	}

	return session.Finish(peerMsg.Payload)
}

// handshakeAsJoiner runs the joiner half: it speaks first since it is
// the side that dialed the connection.
func handshakeAsJoiner(conn *wsConn, code string) (*sessioncipher.Cipher, error) {
	session, myShare, err := pairing.StartJoiner(code)
	if err != nil {
		return nil, err
	}

	if err := sendHandshake(conn, wireproto.KindSpake2Joiner, myShare); err != nil {
		return nil, err
	}

	peerMsg, err := recvHandshake(conn)
	if err != nil {
		return nil, err
	}
	if peerMsg.Kind != wireproto.KindSpake2Creator {
		return nil, fmt.Errorf("localtransport: expected creator share, got %q: %w", peerMsg.Kind, syncerr.ErrPairing)
	}

	return session.Finish(peerMsg.Payload)
}

func sendHandshake(conn *wsConn, kind string, payload []byte) error {
	b, err := json.Marshal(wireproto.HandshakeMessage{Kind: kind, Payload: payload})
	if err != nil {
		return fmt.Errorf("localtransport: encode handshake message failed: %w", syncerr.ErrTransportParse)
	}
	return conn.Send(b)
}

func recvHandshake(conn *wsConn) (wireproto.HandshakeMessage, error) {
	frame, err := conn.Recv()
	if err != nil {
		return wireproto.HandshakeMessage{}, err
	}
	var msg wireproto.HandshakeMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return wireproto.HandshakeMessage{}, fmt.Errorf("localtransport: malformed handshake message: %w", syncerr.ErrTransportParse)
	}
	return msg, nil
}
