package sessioncipher

import (
	"bytes"
	"errors"
	"testing"

	"github.com/aurus-sync/core/pkg/syncerr"
)

func secretOf(b byte) []byte {
	s := make([]byte, SharedSecretSize)
	for i := range s {
		s[i] = b
	}
	return s
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := FromSharedSecret(secretOf(0xAA))
	if err != nil {
		t.Fatalf("FromSharedSecret: %v", err)
	}

	plaintext := []byte("Hello, sync world!")
	env, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(env.Ciphertext, plaintext) {
		t.Fatal("ciphertext must not equal plaintext")
	}
	if env.Counter != 0 {
		t.Fatalf("first counter = %d, want 0", env.Counter)
	}

	got, err := c.Decrypt(env)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestCounterIncrementsStrictly(t *testing.T) {
	c, _ := FromSharedSecret(secretOf(0x01))

	for i := uint64(0); i < 5; i++ {
		env, err := c.Encrypt([]byte("msg"))
		if err != nil {
			t.Fatalf("Encrypt #%d: %v", i, err)
		}
		if env.Counter != i {
			t.Fatalf("counter #%d = %d, want %d", i, env.Counter, i)
		}
	}
}

func TestTamperedCiphertextFails(t *testing.T) {
	c, _ := FromSharedSecret(secretOf(0x02))

	env, err := c.Encrypt([]byte("sensitive data"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	env.Ciphertext[0] ^= 0xFF

	if _, err := c.Decrypt(env); !errors.Is(err, syncerr.ErrDecrypt) {
		t.Fatalf("Decrypt of tampered ciphertext: got %v, want ErrDecrypt", err)
	}
}

func TestWrongKeyRejection(t *testing.T) {
	a, _ := FromSharedSecret(secretOf(0xAA))
	b, _ := FromSharedSecret(secretOf(0xBB))

	env, err := a.Encrypt([]byte("private message"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(env); !errors.Is(err, syncerr.ErrDecrypt) {
		t.Fatalf("cross-cipher decrypt: got %v, want ErrDecrypt", err)
	}
}

func TestRotationCorrectness(t *testing.T) {
	c, _ := FromSharedSecret(secretOf(0x03))

	before, err := c.Encrypt([]byte("before rotation"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if err := c.RotateKey(); err != nil {
		t.Fatalf("RotateKey: %v", err)
	}
	if c.Epoch() != 1 {
		t.Fatalf("epoch after rotate = %d, want 1", c.Epoch())
	}

	after, err := c.Encrypt([]byte("after rotation"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if after.Counter != 0 {
		t.Fatalf("counter after rotate = %d, want 0 (reset)", after.Counter)
	}

	// The pre-rotation envelope must not decrypt under the new key.
	if _, err := c.Decrypt(before); !errors.Is(err, syncerr.ErrDecrypt) {
		t.Fatal("envelope minted before rotation decrypted after rotation")
	}

	got, err := c.Decrypt(after)
	if err != nil {
		t.Fatalf("Decrypt after rotation: %v", err)
	}
	if string(got) != "after rotation" {
		t.Fatalf("got %q, want %q", got, "after rotation")
	}
}

func TestLargePayload(t *testing.T) {
	c, _ := FromSharedSecret(secretOf(0x04))

	payload := bytes.Repeat([]byte{0xAB}, 100_000)
	env, err := c.Encrypt(payload)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := c.Decrypt(env)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("large payload round trip mismatch")
	}
}

func TestCloseZeroesKeyMaterial(t *testing.T) {
	c, _ := FromSharedSecret(secretOf(0x05))
	c.Close()

	allZero := true
	for _, b := range c.key {
		if b != 0 {
			allZero = false
			break
		}
	}
	if !allZero {
		t.Fatal("key material not zeroed after Close")
	}
}
