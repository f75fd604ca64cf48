package pairing

import (
	"regexp"
	"strings"
	"testing"
)

var codeFormat = regexp.MustCompile(`^[2-9]-[a-z]+-[a-z]+$`)

func TestGeneratedCodeFormat(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if !codeFormat.MatchString(code) {
			t.Fatalf("code %q does not match ^[2-9]-[a-z]+-[a-z]+$", code)
		}
		parts := strings.Split(code, "-")
		if len(parts) != 3 {
			t.Fatalf("code %q should have 3 hyphen-separated parts", code)
		}
	}
}

func TestRoomIDDeterministicAndDistinct(t *testing.T) {
	room1 := RoomIDFromCode("7-violet-castle")
	room1Again := RoomIDFromCode("7-violet-castle")
	room2 := RoomIDFromCode("3-amber-forge")

	if room1 != room1Again {
		t.Fatal("room_id_from_code is not deterministic")
	}
	if len(room1) != 64 {
		t.Fatalf("room id length = %d, want 64", len(room1))
	}
	if room1 == room2 {
		t.Fatal("distinct codes produced the same room id")
	}
	for _, c := range room1 {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("room id contains non-lowercase-hex char %q", c)
		}
	}
}

func TestValidateCodeFormat(t *testing.T) {
	valid := []string{"2-amber-arrow", "9-violet-zenith"}
	invalid := []string{"", "1-amber-arrow", "0-amber-arrow", "a-amber-arrow", "7-Amber-arrow", "7-amber"}

	for _, c := range valid {
		if !ValidateCodeFormat(c) {
			t.Errorf("expected %q to be valid", c)
		}
	}
	for _, c := range invalid {
		if ValidateCodeFormat(c) {
			t.Errorf("expected %q to be invalid", c)
		}
	}
}
