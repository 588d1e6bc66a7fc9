package model

import (
	"fmt"
	"time"
)

// PalletState is the stage a pallet has reached on the line. States form a
// strict linear sequence; a pallet never moves back to an earlier state.
type PalletState int

const (
	PalletEntering PalletState = iota
	PalletAtCheckpoint1
	PalletMovingToCheckpoint2
	PalletAtCheckpoint2
	PalletExiting
	PalletExited
)

var palletStateNames = [...]string{
	PalletEntering:            "entering",
	PalletAtCheckpoint1:       "at_checkpoint_1",
	PalletMovingToCheckpoint2: "moving_to_checkpoint_2",
	PalletAtCheckpoint2:       "at_checkpoint_2",
	PalletExiting:             "exiting",
	PalletExited:              "exited",
}

func (s PalletState) String() string {
	if s < 0 || int(s) >= len(palletStateNames) {
		return fmt.Sprintf("pallet_state(%d)", int(s))
	}
	return palletStateNames[s]
}

// ParsePalletState maps a state name back to its PalletState.
func ParsePalletState(name string) (PalletState, error) {
	for i, n := range palletStateNames {
		if n == name {
			return PalletState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown pallet state %q", name)
}

// AllPalletStates lists every state in line order.
func AllPalletStates() []PalletState {
	return []PalletState{
		PalletEntering,
		PalletAtCheckpoint1,
		PalletMovingToCheckpoint2,
		PalletAtCheckpoint2,
		PalletExiting,
		PalletExited,
	}
}

// Moving reports whether a pallet in this state travels along the belt.
func (s PalletState) Moving() bool {
	switch s {
	case PalletEntering, PalletMovingToCheckpoint2, PalletExiting:
		return true
	default:
		return false
	}
}

// Held reports whether a pallet in this state dwells at a checkpoint.
func (s PalletState) Held() bool {
	return s == PalletAtCheckpoint1 || s == PalletAtCheckpoint2
}

// MarshalText renders the state by name so frames serialize readably.
func (s PalletState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *PalletState) UnmarshalText(text []byte) error {
	parsed, err := ParsePalletState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Pallet is one unit travelling the line.
type Pallet struct {
	ID             int64       `json:"id" yaml:"id"`
	Position       float64     `json:"position" yaml:"position"`
	State          PalletState `json:"state" yaml:"state"`
	StateEnteredAt time.Time   `json:"state_entered_at" yaml:"state_entered_at"`
}

// ReleaseFlags are the two one-shot admission gates. Second is raised when the
// lead pallet clears checkpoint 1, Third when it clears checkpoint 2.
type ReleaseFlags struct {
	Second bool `json:"can_release_second" yaml:"can_release_second"`
	Third  bool `json:"can_release_third" yaml:"can_release_third"`
}

// Any reports whether at least one flag authorizes an admission.
func (f ReleaseFlags) Any() bool {
	return f.Second || f.Third
}

// Consume clears exactly one set flag and returns the flags after clearing.
// Second wins over Third when both are set. ok is false when neither is set.
func (f ReleaseFlags) Consume() (next ReleaseFlags, consumed ReleaseFlag, ok bool) {
	switch {
	case f.Second:
		f.Second = false
		return f, ReleaseSecond, true
	case f.Third:
		f.Third = false
		return f, ReleaseThird, true
	default:
		return f, ReleaseNone, false
	}
}

// ReleaseFlag names which gate authorized an admission.
type ReleaseFlag int

const (
	ReleaseNone ReleaseFlag = iota
	ReleaseSecond
	ReleaseThird
)

func (r ReleaseFlag) String() string {
	switch r {
	case ReleaseSecond:
		return "second"
	case ReleaseThird:
		return "third"
	default:
		return "none"
	}
}
