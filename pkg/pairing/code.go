package pairing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/aurus-sync/core/pkg/syncerr"
)

// adjectives and nouns are the fixed, non-ambiguous wordlists a pairing
// code is drawn from. Both lists avoid words that are easy to mishear or
// mistype aloud between two people pairing devices in the same room.
var adjectives = []string{
	"amber", "azure", "coral", "crimson", "golden", "ivory",
	"jade", "lemon", "lilac", "olive", "peach", "plum",
	"rose", "ruby", "sage", "silver", "teal", "violet",
}

var nouns = []string{
	"arrow", "badge", "candle", "castle", "cliff", "crown",
	"delta", "ember", "falcon", "forge", "harbor", "lantern",
	"maple", "nexus", "orbit", "prism", "quartz", "ridge",
	"spark", "storm", "summit", "torch", "vault", "zenith",
}

// codePattern matches the canonical "D-adjective-noun" shape, digit 2-9.
var codePattern = regexp.MustCompile(`^[2-9]-[a-z]+-[a-z]+$`)

// GenerateCode produces a new pairing code of the form "D-ADJ-NOUN", where
// D is a digit in [2,9] (0 and 1 are skipped to avoid "O"/"I" confusion
// when read aloud) and ADJ/NOUN are drawn from the fixed wordlists.
func GenerateCode() (string, error) {
	digit, err := randIndex(8) // 0..7 -> 2..9
	if err != nil {
		return "", fmt.Errorf("pairing: code generation failed: %w", err)
	}
	adjIdx, err := randIndex(len(adjectives))
	if err != nil {
		return "", fmt.Errorf("pairing: code generation failed: %w", err)
	}
	nounIdx, err := randIndex(len(nouns))
	if err != nil {
		return "", fmt.Errorf("pairing: code generation failed: %w", err)
	}

	return fmt.Sprintf("%d-%s-%s", digit+2, adjectives[adjIdx], nouns[nounIdx]), nil
}

func randIndex(n int) (int, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint64(buf[:]) % uint64(n)), nil
}

// ValidateCodeFormat reports whether code matches the canonical
// "D-adjective-noun" shape. It does not check the words against the
// fixed lists — a joiner may be pairing with a future build that added
// new words.
func ValidateCodeFormat(code string) bool {
	return codePattern.MatchString(code)
}

// RoomIDFromCode derives the signaling-relay room key from a pairing
// code: SHA-256(code) in lowercase hex. This is the only form of the
// code that ever crosses the relay.
func RoomIDFromCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// FingerprintFromCode derives the short mDNS verification fingerprint a
// session creator advertises and a joiner checks before dialing: the
// first 8 bytes of SHA-256(code), hex-encoded. This is the same digest
// RoomIDFromCode renders in full, cut to its first 16 hex characters —
// a joiner only ever knows the pairing code, never the creator's
// randomly generated session id, so the fingerprint it can verify
// against must be derivable from the code alone.
func FingerprintFromCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:8])
}

// ParseAndValidateCode checks the format and returns syncerr.ErrInvalidPairingCode
// wrapped with context if it is malformed or empty.
func ParseAndValidateCode(code string) error {
	if code == "" || !ValidateCodeFormat(code) {
		return fmt.Errorf("pairing: %q is not a valid pairing code: %w", code, syncerr.ErrInvalidPairingCode)
	}
	return nil
}
