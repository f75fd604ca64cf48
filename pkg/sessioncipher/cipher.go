// Package sessioncipher implements the application-layer AEAD used to
// protect sync updates end-to-end, independent of whatever transport
// security (WebSocket TLS, WebRTC DTLS) happens to be underneath.
//
// Key material is derived from a PAKE-agreed shared secret via
// HKDF-SHA256, sealed with AES-256-GCM under a 96-bit counter nonce, and
// ratcheted on a timer by the caller (see pkg/syncloop). All sensitive
// byte slices are zeroed before the Cipher is released.
package sessioncipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/crypto/hkdf"

	"github.com/aurus-sync/core/pkg/syncerr"
)

const (
	// SharedSecretSize is the length of the PAKE-derived shared secret.
	SharedSecretSize = 32
	// KeySize is the AES-256-GCM key length.
	KeySize = 32
	// NonceSize is the AEAD nonce length: 4 zero bytes || 8-byte big-endian counter.
	NonceSize = 12

	hkdfSalt       = "aurus-sync-v1"
	hkdfInfo       = "aes-256-gcm-key"
	rotateSalt     = "aurus-sync-rotate"
	rotateInfo     = "next-key"
)

// Envelope is an authenticated ciphertext plus the sender-side counter
// used to derive its nonce. The AEAD tag is appended to Ciphertext.
type Envelope struct {
	Counter    uint64 `json:"counter"`
	Ciphertext []byte `json:"ciphertext"`
}

// Cipher holds the live key schedule for one session. It is safe for a
// single encrypting goroutine and a single decrypting goroutine to use
// concurrently (the seal counter is atomic), though in practice only the
// SyncLoop's outbound writer task ever calls Encrypt.
type Cipher struct {
	sharedSecret []byte // retained only to zero on Close
	key          []byte
	sealCounter  atomic.Uint64
	epoch        atomic.Uint64
}

// FromSharedSecret derives a Cipher's initial key material from a 32-byte
// PAKE shared secret via HKDF-SHA256(salt="aurus-sync-v1", ikm=secret,
// info="aes-256-gcm-key"). It fails if secret is not SharedSecretSize
// bytes long, or if the HKDF output cannot be filled, which does not
// happen for SHA-256 at this output length.
func FromSharedSecret(secret []byte) (*Cipher, error) {
	if len(secret) != SharedSecretSize {
		return nil, fmt.Errorf("sessioncipher: shared secret must be %d bytes: %w", SharedSecretSize, syncerr.ErrPairing)
	}

	key, err := derive(secret, []byte(hkdfSalt), []byte(hkdfInfo))
	if err != nil {
		return nil, fmt.Errorf("sessioncipher: key derivation failed: %w", err)
	}

	c := &Cipher{
		sharedSecret: append([]byte(nil), secret...),
		key:          key,
	}
	return c, nil
}

func derive(ikm, salt, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func nonceFor(counter uint64) []byte {
	n := make([]byte, NonceSize)
	binary.BigEndian.PutUint64(n[4:], counter)
	return n
}

func (c *Cipher) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt atomically fetches-and-increments the seal counter, seals
// plaintext under the current key and the counter-derived nonce, and
// returns the resulting Envelope. It never fails once the Cipher is
// constructed.
func (c *Cipher) Encrypt(plaintext []byte) (Envelope, error) {
	counter := c.sealCounter.Add(1) - 1

	aead, err := c.aead()
	if err != nil {
		return Envelope{}, fmt.Errorf("sessioncipher: aead init failed: %w", err)
	}

	ciphertext := aead.Seal(nil, nonceFor(counter), plaintext, nil)
	return Envelope{Counter: counter, Ciphertext: ciphertext}, nil
}

// Decrypt opens envelope under the current key. It fails with
// syncerr.ErrDecrypt if the tag does not verify (wrong key, tampered
// ciphertext, or wrong epoch). Replay is not enforced here; see
// pkg/syncloop, which relies on the transport's in-order, exactly-once
// delivery instead of nonce bookkeeping.
func (c *Cipher) Decrypt(envelope Envelope) ([]byte, error) {
	aead, err := c.aead()
	if err != nil {
		return nil, fmt.Errorf("sessioncipher: aead init failed: %w", err)
	}

	plaintext, err := aead.Open(nil, nonceFor(envelope.Counter), envelope.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("sessioncipher: open failed: %w", syncerr.ErrDecrypt)
	}
	return plaintext, nil
}

// Epoch returns the number of completed key rotations.
func (c *Cipher) Epoch() uint64 {
	return c.epoch.Load()
}

// RotateKey derives the next key via HKDF-SHA256(salt="aurus-sync-rotate",
// ikm=current_key, info="next-key"), overwrites the old key bytes, and
// resets the seal counter to 0. The caller is responsible for notifying
// the peer before calling this (see pkg/syncloop's send-before-rotate
// ordering) so both sides advance in lockstep.
func (c *Cipher) RotateKey() error {
	next, err := derive(c.key, []byte(rotateSalt), []byte(rotateInfo))
	if err != nil {
		return fmt.Errorf("sessioncipher: rotation failed: %w", err)
	}

	zero(c.key)
	c.key = next
	c.sealCounter.Store(0)
	c.epoch.Add(1)
	return nil
}

// Close zeroes all sensitive key material. Callers must not retain
// references to key bytes obtained from this Cipher.
func (c *Cipher) Close() {
	zero(c.sharedSecret)
	zero(c.key)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
