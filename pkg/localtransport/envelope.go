package localtransport

import (
	"encoding/json"
	"fmt"

	"github.com/aurus-sync/core/pkg/sessioncipher"
	"github.com/aurus-sync/core/pkg/syncerr"
	"github.com/aurus-sync/core/pkg/wireproto"
)

// sendDeviceInfo and recvDeviceInfo perform the one encrypted exchange
// that happens before a syncloop.Loop exists to drive the connection:
// each side identifies itself immediately after the cipher comes up.
// Once this completes, ordinary traffic (updates, heartbeats, key
// rotation) is entirely the Loop's responsibility.

func sendDeviceInfo(conn *wsConn, cipher *sessioncipher.Cipher, info wireproto.DeviceInfo) error {
	plaintext, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("localtransport: encode device info failed: %w", syncerr.ErrTransportParse)
	}
	sealed, err := cipher.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("localtransport: encrypt device info failed: %w", err)
	}
	frame, err := json.Marshal(wireproto.Envelope{
		Kind:       wireproto.KindDeviceInfo,
		Epoch:      cipher.Epoch(),
		Counter:    sealed.Counter,
		Ciphertext: sealed.Ciphertext,
	})
	if err != nil {
		return fmt.Errorf("localtransport: encode envelope failed: %w", syncerr.ErrTransportParse)
	}
	return conn.Send(frame)
}

func recvDeviceInfo(conn *wsConn, cipher *sessioncipher.Cipher) (wireproto.DeviceInfo, error) {
	frame, err := conn.Recv()
	if err != nil {
		return wireproto.DeviceInfo{}, err
	}
	var env wireproto.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return wireproto.DeviceInfo{}, fmt.Errorf("localtransport: malformed envelope: %w", syncerr.ErrTransportParse)
	}
	if env.Kind != wireproto.KindDeviceInfo {
		return wireproto.DeviceInfo{}, fmt.Errorf("localtransport: expected device_info, got %q: %w", env.Kind, syncerr.ErrTransportParse)
	}
	plaintext, err := cipher.Decrypt(sessioncipher.Envelope{Counter: env.Counter, Ciphertext: env.Ciphertext})
	if err != nil {
		return wireproto.DeviceInfo{}, fmt.Errorf("localtransport: decrypt device info failed: %w", err)
	}
	var info wireproto.DeviceInfo
	if err := json.Unmarshal(plaintext, &info); err != nil {
		return wireproto.DeviceInfo{}, fmt.Errorf("localtransport: malformed device info payload: %w", syncerr.ErrTransportParse)
	}
	return info, nil
}
