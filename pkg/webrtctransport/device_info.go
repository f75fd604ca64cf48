package webrtctransport

import (
	"encoding/json"
	"fmt"

	"github.com/aurus-sync/core/pkg/sessioncipher"
	"github.com/aurus-sync/core/pkg/syncerr"
	"github.com/aurus-sync/core/pkg/wireproto"
)

// sendDeviceInfoOverDC and recvDeviceInfoOverDC mirror
// pkg/localtransport's pre-Loop device info exchange, adapted to the
// data channel connection: one encrypted envelope each way before the
// syncloop.Loop takes over the channel.

func sendDeviceInfoOverDC(conn *dcConn, cipher *sessioncipher.Cipher, info wireproto.DeviceInfo) error {
	plaintext, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("webrtctransport: encode device info failed: %w", syncerr.ErrTransportParse)
	}
	sealed, err := cipher.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("webrtctransport: encrypt device info failed: %w", err)
	}
	frame, err := json.Marshal(wireproto.Envelope{
		Kind:       wireproto.KindDeviceInfo,
		Epoch:      cipher.Epoch(),
		Counter:    sealed.Counter,
		Ciphertext: sealed.Ciphertext,
	})
	if err != nil {
		return fmt.Errorf("webrtctransport: encode envelope failed: %w", syncerr.ErrTransportParse)
	}
	return conn.Send(frame)
}

func recvDeviceInfoOverDC(conn *dcConn, cipher *sessioncipher.Cipher) (wireproto.DeviceInfo, error) {
	frame, err := conn.Recv()
	if err != nil {
		return wireproto.DeviceInfo{}, err
	}
	var env wireproto.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return wireproto.DeviceInfo{}, fmt.Errorf("webrtctransport: malformed envelope: %w", syncerr.ErrTransportParse)
	}
	if env.Kind != wireproto.KindDeviceInfo {
		return wireproto.DeviceInfo{}, fmt.Errorf("webrtctransport: expected device_info, got %q: %w", env.Kind, syncerr.ErrTransportParse)
	}
	plaintext, err := cipher.Decrypt(sessioncipher.Envelope{Counter: env.Counter, Ciphertext: env.Ciphertext})
	if err != nil {
		return wireproto.DeviceInfo{}, fmt.Errorf("webrtctransport: decrypt device info failed: %w", err)
	}
	var info wireproto.DeviceInfo
	if err := json.Unmarshal(plaintext, &info); err != nil {
		return wireproto.DeviceInfo{}, fmt.Errorf("webrtctransport: malformed device info payload: %w", syncerr.ErrTransportParse)
	}
	return info, nil
}
