package signaling

import "testing"

func TestRoomIDFromPairingCodeDeterministicAndDistinct(t *testing.T) {
	a1 := RoomIDFromPairingCode("7-violet-castle")
	a2 := RoomIDFromPairingCode("7-violet-castle")
	b := RoomIDFromPairingCode("3-amber-forge")

	if a1 != a2 {
		t.Fatal("room id derivation is not deterministic")
	}
	if a1 == b {
		t.Fatal("distinct codes produced the same room id")
	}
	if len(a1) != 64 {
		t.Fatalf("room id length = %d, want 64 (sha256 hex)", len(a1))
	}
}
