package model

import (
	"encoding/json"
	"testing"
)

func TestReleaseFlagsConsumePrefersSecond(t *testing.T) {
	flags := ReleaseFlags{Second: true, Third: true}

	next, consumed, ok := flags.Consume()
	if !ok {
		t.Fatalf("Consume() ok = false, want true")
	}
	if consumed != ReleaseSecond {
		t.Fatalf("Consume() consumed %v, want second", consumed)
	}
	if next.Second || !next.Third {
		t.Fatalf("Consume() left %+v, want only Third set", next)
	}

	next, consumed, ok = next.Consume()
	if !ok || consumed != ReleaseThird {
		t.Fatalf("second Consume() = (%v, %v), want (third, true)", consumed, ok)
	}
	if next.Any() {
		t.Fatalf("flags still set after consuming both: %+v", next)
	}

	if _, consumed, ok = next.Consume(); ok || consumed != ReleaseNone {
		t.Fatalf("Consume() on empty flags = (%v, %v), want (none, false)", consumed, ok)
	}
}

func TestPalletStateNamesRoundTrip(t *testing.T) {
	for _, s := range AllPalletStates() {
		got, err := ParsePalletState(s.String())
		if err != nil {
			t.Fatalf("ParsePalletState(%q): %v", s.String(), err)
		}
		if got != s {
			t.Fatalf("ParsePalletState(%q) = %v, want %v", s.String(), got, s)
		}
	}
	if _, err := ParsePalletState("teleporting"); err == nil {
		t.Fatalf("expected error for unknown state name")
	}
	if got := PalletState(42).String(); got != "pallet_state(42)" {
		t.Fatalf("String() for out-of-range state = %q", got)
	}
}

func TestPalletStateClassification(t *testing.T) {
	tests := []struct {
		state  PalletState
		moving bool
		held   bool
	}{
		{PalletEntering, true, false},
		{PalletAtCheckpoint1, false, true},
		{PalletMovingToCheckpoint2, true, false},
		{PalletAtCheckpoint2, false, true},
		{PalletExiting, true, false},
		{PalletExited, false, false},
	}
	for _, tt := range tests {
		if got := tt.state.Moving(); got != tt.moving {
			t.Fatalf("%v.Moving() = %v, want %v", tt.state, got, tt.moving)
		}
		if got := tt.state.Held(); got != tt.held {
			t.Fatalf("%v.Held() = %v, want %v", tt.state, got, tt.held)
		}
	}
}

func TestPalletJSONUsesStateName(t *testing.T) {
	data, err := json.Marshal(Pallet{ID: 7, Position: 12.5, State: PalletMovingToCheckpoint2})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["state"] != "moving_to_checkpoint_2" {
		t.Fatalf("state = %v, want moving_to_checkpoint_2", decoded["state"])
	}
}

func TestLineValidate(t *testing.T) {
	if err := DefaultLine().Validate(); err != nil {
		t.Fatalf("DefaultLine().Validate() = %v", err)
	}

	bad := DefaultLine()
	bad.Checkpoint2 = bad.Checkpoint1
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for non-increasing checkpoints")
	}

	bad = DefaultLine()
	bad.ExitSensorTolerance = -1
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for negative tolerance")
	}
}

func TestParseInterlock(t *testing.T) {
	for in, want := range map[string]Interlock{
		"":        InterlockSegment,
		"segment": InterlockSegment,
		"ENTRY":   InterlockEntry,
	} {
		got, err := ParseInterlock(in)
		if err != nil {
			t.Fatalf("ParseInterlock(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseInterlock(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseInterlock("fast"); err == nil {
		t.Fatalf("expected error for unknown interlock")
	}
}
