package domain

import (
	"testing"
	"time"
)

func TestRoomNamesUniqueWithinAndAcrossRuns(t *testing.T) {
	seen := make(map[string]bool)
	runs := []string{NewRunID(), NewRunID()}
	if runs[0] == runs[1] {
		t.Fatalf("expected fresh run ids, got %s twice", runs[0])
	}
	for _, run := range runs {
		for i := 0; i < 50; i++ {
			name := RoomName(run, i)
			if seen[name] {
				t.Fatalf("room name %s generated twice", name)
			}
			seen[name] = true
		}
	}
	if got := RoomName("abc", 7); got != "load_test_abc_7" {
		t.Fatalf("unexpected room name %s", got)
	}
}

func TestParseDialInfo(t *testing.T) {
	info, err := ParseDialInfo(`{"phone_number": "+12223334444", "trunk_id": "ST_xyz", "duration": 10}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.PhoneNumber != "+12223334444" || info.TrunkID != "ST_xyz" || info.CallDuration() != 10*time.Second {
		t.Fatalf("unexpected dial info %+v", info)
	}

	bad := []string{
		``,
		`not json`,
		`{"trunk_id": "ST_xyz", "duration": 10}`,
		`{"phone_number": "call-me", "trunk_id": "ST_xyz", "duration": 10}`,
		`{"phone_number": "+12223334444", "trunk_id": "ST_xyz", "duration": -1}`,
	}
	for _, payload := range bad {
		if _, err := ParseDialInfo(payload); err == nil {
			t.Errorf("expected error for payload %q", payload)
		}
	}
}

func TestDialInfoRoundTripsThroughMetadata(t *testing.T) {
	raw, err := DialInfo{PhoneNumber: "+15550001111", TrunkID: "ST_1", Duration: 3}.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	info, err := ParseDialInfo(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.Duration != 3 || info.TrunkID != "ST_1" {
		t.Fatalf("unexpected %+v", info)
	}
}

func TestParseDirection(t *testing.T) {
	if d, err := ParseDirection(""); err != nil || d != DirectionOutbound {
		t.Fatalf("empty direction should default to outbound, got %q %v", d, err)
	}
	if d, err := ParseDirection("inbound"); err != nil || d != DirectionInbound {
		t.Fatalf("expected inbound, got %q %v", d, err)
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Fatalf("expected error for unknown direction")
	}
}
