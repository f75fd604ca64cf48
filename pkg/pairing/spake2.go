// Package pairing implements the two-role PAKE that derives a shared
// secret from the low-entropy pairing code, following the structure of
// backkem/matter's pkg/securechannel/pase package (role/state machine,
// one outbound message per side, SessionKeys on completion) but using a
// symmetric SPAKE2 over the Ed25519 group rather than Matter's augmented
// SPAKE2+ over P-256 — both sides of aurus-sync hold the same low-entropy
// code, so no verifier/augmentation step is needed. The Ed25519 group
// arithmetic itself comes from filippo.io/edwards25519, as used by
// SAGE-X-project-sage; backkem/matter does not depend on it.
package pairing

import (
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"sync"

	"filippo.io/edwards25519"

	"github.com/aurus-sync/core/pkg/sessioncipher"
	"github.com/aurus-sync/core/pkg/syncerr"
)

// Role identifies which side of the exchange a Session plays.
type Role int

const (
	// RoleCreator is the session creator (label "creator").
	RoleCreator Role = iota
	// RoleJoiner is the session joiner (label "joiner").
	RoleJoiner
)

// String returns the role label used in the protocol transcript.
func (r Role) String() string {
	switch r {
	case RoleCreator:
		return "creator"
	case RoleJoiner:
		return "joiner"
	default:
		return "unknown"
	}
}

// ShareSize is the length of a compressed Ed25519 point share message.
const ShareSize = 32

type state int

const (
	stateStarted state = iota
	stateDone
)

// Session holds one side's state for a single SPAKE2 exchange. It is not
// safe for concurrent use.
type Session struct {
	mu    sync.Mutex
	role  Role
	state state

	w     *edwards25519.Scalar // password scalar
	x     *edwards25519.Scalar // my ephemeral scalar
	share []byte               // my outbound share (compressed point)
}

// Errors returned by this package, all wrapping syncerr.ErrPairing.
var (
	ErrInvalidState   = fmt.Errorf("pairing: invalid protocol state: %w", syncerr.ErrPairing)
	ErrInvalidMessage = fmt.Errorf("pairing: malformed peer message: %w", syncerr.ErrPairing)
)

// nothing-up-my-sleeve generator points M (creator) and N (joiner),
// derived deterministically from fixed domain-separated strings so both
// peers compute identical points without any shared setup beyond the
// algorithm itself.
var (
	pointM = numsPoint("aurus-sync SPAKE2 M")
	pointN = numsPoint("aurus-sync SPAKE2 N")
)

func numsPoint(label string) *edwards25519.Point {
	h := sha512.Sum512([]byte(label))
	s, err := edwards25519.NewScalar().SetUniformBytes(h[:])
	if err != nil {
		panic("pairing: nums point derivation failed: " + err.Error())
	}
	return edwards25519.NewIdentityPoint().ScalarBaseMult(s)
}

func passwordScalar(code string) (*edwards25519.Scalar, error) {
	h := sha512.Sum512(append([]byte("aurus-sync SPAKE2 password: "), code...))
	return edwards25519.NewScalar().SetUniformBytes(h[:])
}

func randomScalar() (*edwards25519.Scalar, error) {
	var buf [64]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, err
	}
	return edwards25519.NewScalar().SetUniformBytes(buf[:])
}

func myGeneratorPoint(role Role) *edwards25519.Point {
	if role == RoleCreator {
		return pointM
	}
	return pointN
}

func peerGeneratorPoint(role Role) *edwards25519.Point {
	if role == RoleCreator {
		return pointN
	}
	return pointM
}

// start runs the shared setup for both StartCreator and StartJoiner:
// derive the password scalar, pick an ephemeral scalar, and compute the
// outbound share X = x*B + w*M_role.
func start(role Role, code string) (*Session, []byte, error) {
	if err := ParseAndValidateCode(code); err != nil {
		return nil, nil, err
	}

	w, err := passwordScalar(code)
	if err != nil {
		return nil, nil, fmt.Errorf("pairing: password scalar derivation failed: %w", syncerr.ErrPairing)
	}
	x, err := randomScalar()
	if err != nil {
		return nil, nil, fmt.Errorf("pairing: random scalar generation failed: %w", syncerr.ErrPairing)
	}

	share := edwards25519.NewIdentityPoint().ScalarBaseMult(x)
	share.Add(share, edwards25519.NewIdentityPoint().ScalarMult(w, myGeneratorPoint(role)))

	s := &Session{
		role:  role,
		state: stateStarted,
		w:     w,
		x:     x,
		share: append([]byte(nil), share.Bytes()...),
	}
	return s, s.share, nil
}

// StartCreator begins the creator (side A) half of the exchange for the
// given pairing code. It returns the outbound message to send to the
// joiner.
func StartCreator(code string) (*Session, []byte, error) {
	return start(RoleCreator, code)
}

// StartJoiner begins the joiner (side B) half of the exchange for the
// given pairing code. It returns the outbound message to send to the
// creator.
func StartJoiner(code string) (*Session, []byte, error) {
	return start(RoleJoiner, code)
}

// Finish consumes the peer's share and derives the shared secret,
// constructing a sessioncipher.Cipher from it. If the peer used a
// different pairing code the exchange still completes mathematically,
// but the two sides derive different secrets — the mismatch surfaces
// later as the first failed Decrypt, per the pairing invariant in
// spec §4.B.
func (s *Session) Finish(peerShare []byte) (*sessioncipher.Cipher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateStarted {
		return nil, ErrInvalidState
	}
	if len(peerShare) != ShareSize {
		return nil, ErrInvalidMessage
	}

	Y, err := edwards25519.NewIdentityPoint().SetBytes(peerShare)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	// K = x * (Y - w*N_peer)
	wN := edwards25519.NewIdentityPoint().ScalarMult(s.w, peerGeneratorPoint(s.role))
	diff := edwards25519.NewIdentityPoint().Subtract(Y, wN)
	k := edwards25519.NewIdentityPoint().ScalarMult(s.x, diff)

	secret := transcriptSecret(s.role, s.share, peerShare, k.Bytes())
	s.state = stateDone

	cipher, err := sessioncipher.FromSharedSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("pairing: cipher construction failed: %w", err)
	}
	return cipher, nil
}

// transcriptSecret binds the shared point K to both sides' shares so the
// derived secret is a function of the whole transcript, not just K.
// Ordering the shares by role keeps both sides' hashes identical
// regardless of who is "first" or "second".
func transcriptSecret(role Role, myShare, peerShare, k []byte) []byte {
	var creatorShare, joinerShare []byte
	if role == RoleCreator {
		creatorShare, joinerShare = myShare, peerShare
	} else {
		creatorShare, joinerShare = peerShare, myShare
	}

	h := sha512.New()
	h.Write([]byte("aurus-sync SPAKE2 transcript"))
	h.Write(creatorShare)
	h.Write(joinerShare)
	h.Write(k)
	sum := h.Sum(nil)
	return sum[:sessioncipher.SharedSecretSize]
}

// IsPairingError reports whether err originates from this package.
func IsPairingError(err error) bool {
	return errors.Is(err, syncerr.ErrPairing)
}
