package pairing

import (
	"errors"
	"testing"

	"github.com/aurus-sync/core/pkg/syncerr"
)

func TestPairingAgreementSameCode(t *testing.T) {
	const code = "7-violet-castle"

	creator, creatorMsg, err := StartCreator(code)
	if err != nil {
		t.Fatalf("StartCreator: %v", err)
	}
	joiner, joinerMsg, err := StartJoiner(code)
	if err != nil {
		t.Fatalf("StartJoiner: %v", err)
	}

	creatorCipher, err := creator.Finish(joinerMsg)
	if err != nil {
		t.Fatalf("creator.Finish: %v", err)
	}
	joinerCipher, err := joiner.Finish(creatorMsg)
	if err != nil {
		t.Fatalf("joiner.Finish: %v", err)
	}

	env, err := creatorCipher.Encrypt([]byte("ping"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := joinerCipher.Decrypt(env)
	if err != nil {
		t.Fatalf("matching-code peers failed to decrypt each other: %v", err)
	}
	if string(got) != "ping" {
		t.Fatalf("got %q, want %q", got, "ping")
	}
}

func TestPairingMismatchDifferentCodes(t *testing.T) {
	creator, creatorMsg, err := StartCreator("7-violet-castle")
	if err != nil {
		t.Fatalf("StartCreator: %v", err)
	}
	joiner, joinerMsg, err := StartJoiner("3-amber-forge")
	if err != nil {
		t.Fatalf("StartJoiner: %v", err)
	}

	creatorCipher, err := creator.Finish(joinerMsg)
	if err != nil {
		t.Fatalf("creator.Finish: %v", err)
	}
	joinerCipher, err := joiner.Finish(creatorMsg)
	if err != nil {
		t.Fatalf("joiner.Finish: %v", err)
	}

	env, err := creatorCipher.Encrypt([]byte("secret data"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := joinerCipher.Decrypt(env); err == nil {
		t.Fatal("mismatched pairing codes must not produce mutually-decryptable ciphers")
	}
}

func TestPairingBidirectional(t *testing.T) {
	const code = "4-jade-summit"

	creator, creatorMsg, _ := StartCreator(code)
	joiner, joinerMsg, _ := StartJoiner(code)

	creatorCipher, err := creator.Finish(joinerMsg)
	if err != nil {
		t.Fatalf("creator.Finish: %v", err)
	}
	joinerCipher, err := joiner.Finish(creatorMsg)
	if err != nil {
		t.Fatalf("joiner.Finish: %v", err)
	}

	env1, _ := creatorCipher.Encrypt([]byte("from creator"))
	got1, err := joinerCipher.Decrypt(env1)
	if err != nil || string(got1) != "from creator" {
		t.Fatalf("creator->joiner failed: got %q err %v", got1, err)
	}

	env2, _ := joinerCipher.Encrypt([]byte("from joiner"))
	got2, err := creatorCipher.Decrypt(env2)
	if err != nil || string(got2) != "from joiner" {
		t.Fatalf("joiner->creator failed: got %q err %v", got2, err)
	}
}

func TestFinishTwiceFails(t *testing.T) {
	creator, _, _ := StartCreator("5-coral-spark")
	_, joinerMsg, _ := StartJoiner("5-coral-spark")

	if _, err := creator.Finish(joinerMsg); err != nil {
		t.Fatalf("first Finish: %v", err)
	}
	if _, err := creator.Finish(joinerMsg); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second Finish: got %v, want ErrInvalidState", err)
	}
}

func TestFinishMalformedMessage(t *testing.T) {
	creator, _, _ := StartCreator("5-coral-spark")
	if _, err := creator.Finish([]byte("too short")); !errors.Is(err, syncerr.ErrPairing) {
		t.Fatalf("malformed message: got %v, want wrapped ErrPairing", err)
	}
}

func TestStartRejectsInvalidCode(t *testing.T) {
	if _, _, err := StartCreator(""); !errors.Is(err, syncerr.ErrInvalidPairingCode) {
		t.Fatalf("empty code: got %v, want ErrInvalidPairingCode", err)
	}
	if _, _, err := StartJoiner("not a code"); !errors.Is(err, syncerr.ErrInvalidPairingCode) {
		t.Fatalf("malformed code: got %v, want ErrInvalidPairingCode", err)
	}
}
