package webrtctransport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aurus-sync/core/pkg/relay"
	"github.com/aurus-sync/core/pkg/sessioncipher"
	"github.com/aurus-sync/core/pkg/signaling"
)

func startTestRelay(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(relay.NewServer(relay.Config{}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func connectPair(t *testing.T, url, code string) (*signaling.Client, *signaling.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := signaling.Connect(ctx, signaling.Config{URL: url, PairingCode: code, DeviceID: "a"})
	if err != nil {
		t.Fatalf("connect a: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	b, err := signaling.Connect(ctx, signaling.Config{URL: url, PairingCode: code, DeviceID: "b"})
	if err != nil {
		t.Fatalf("connect b: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	if _, err := a.WaitForPeer(ctx); err != nil {
		t.Fatalf("wait for peer: %v", err)
	}
	return a, b
}

func testCipherPair(t *testing.T) (*sessioncipher.Cipher, *sessioncipher.Cipher) {
	t.Helper()
	secret := make([]byte, sessioncipher.SharedSecretSize)
	for i := range secret {
		secret[i] = byte(i * 3)
	}
	c1, err := sessioncipher.FromSharedSecret(secret)
	if err != nil {
		t.Fatalf("FromSharedSecret: %v", err)
	}
	c2, err := sessioncipher.FromSharedSecret(secret)
	if err != nil {
		t.Fatalf("FromSharedSecret: %v", err)
	}
	return c1, c2
}

func TestSpake2PayloadRoundTripsThroughRelay(t *testing.T) {
	url := startTestRelay(t)
	a, b := connectPair(t, url, "3-amber-arrow")

	if err := sendSpake2(a, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("sendSpake2: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	share, err := recvSpake2(ctx, b)
	if err != nil {
		t.Fatalf("recvSpake2: %v", err)
	}
	if string(share) != "\x01\x02\x03\x04" {
		t.Fatalf("got %v", share)
	}
}

func TestEncryptedPayloadRoundTripsThroughRelay(t *testing.T) {
	url := startTestRelay(t)
	a, b := connectPair(t, url, "4-coral-badge")
	cipherA, cipherB := testCipherPair(t)

	if err := sendEncrypted(a, cipherA, signalingPayload{Type: payloadSDP, SDP: "v=0", SDPType: "offer"}); err != nil {
		t.Fatalf("sendEncrypted: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := recvEncrypted(ctx, b, cipherB)
	if err != nil {
		t.Fatalf("recvEncrypted: %v", err)
	}
	if got.Type != payloadSDP || got.SDP != "v=0" || got.SDPType != "offer" {
		t.Fatalf("got %+v", got)
	}
}

func TestRecvRawPayloadSurfacesPeerLeft(t *testing.T) {
	url := startTestRelay(t)
	a, b := connectPair(t, url, "5-golden-candle")

	b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := recvRawPayload(ctx, a); err == nil {
		t.Fatal("expected error after peer left")
	}
}
