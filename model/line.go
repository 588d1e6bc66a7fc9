package model

import (
	"errors"
	"fmt"
	"strings"
)

// Interlock selects which pallet states keep the entry gate closed.
type Interlock int

const (
	// InterlockSegment closes the gate while any pallet is entering, waiting at
	// checkpoint 1, or still travelling towards checkpoint 2.
	InterlockSegment Interlock = iota
	// InterlockEntry closes the gate only while a pallet occupies the entry
	// segment.
	InterlockEntry
)

func (i Interlock) String() string {
	switch i {
	case InterlockEntry:
		return "entry"
	default:
		return "segment"
	}
}

// ParseInterlock accepts "segment" or "entry" (case-insensitive).
func ParseInterlock(s string) (Interlock, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "segment":
		return InterlockSegment, nil
	case "entry":
		return InterlockEntry, nil
	default:
		return 0, fmt.Errorf("unknown interlock %q (want segment or entry)", s)
	}
}

// MarshalText renders the interlock by name.
func (i Interlock) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText parses an interlock name.
func (i *Interlock) UnmarshalText(text []byte) error {
	parsed, err := ParseInterlock(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Line is the fixed geometry of the conveyor: entry point, two dwell
// checkpoints and the exit, all in the same unit along the belt.
type Line struct {
	Entry       float64 `yaml:"entry" json:"entry"`
	Checkpoint1 float64 `yaml:"checkpoint1" json:"checkpoint1"`
	Checkpoint2 float64 `yaml:"checkpoint2" json:"checkpoint2"`
	Exit        float64 `yaml:"exit" json:"exit"`

	// ExitSensorPosition is where the exit sensor sits, upstream of Exit. The
	// sensor reads active while an exiting pallet is within
	// ExitSensorTolerance of it.
	ExitSensorPosition  float64 `yaml:"exitSensorPosition" json:"exit_sensor_position"`
	ExitSensorTolerance float64 `yaml:"exitSensorTolerance" json:"exit_sensor_tolerance"`

	// Motor3Offset is how far past checkpoint 2 an exiting pallet must be
	// before the exit motor is considered driven.
	Motor3Offset float64 `yaml:"motor3Offset" json:"motor3_offset"`

	Interlock Interlock `yaml:"interlock" json:"interlock"`
}

// Default line geometry.
const (
	DefaultEntry               = 0.0
	DefaultCheckpoint1         = 400.0
	DefaultCheckpoint2         = 800.0
	DefaultExit                = 1200.0
	DefaultExitSensorPosition  = 1150.0
	DefaultExitSensorTolerance = 25.0
	DefaultMotor3Offset        = 200.0
)

// DefaultLine returns the reference line layout.
func DefaultLine() Line {
	return Line{
		Entry:               DefaultEntry,
		Checkpoint1:         DefaultCheckpoint1,
		Checkpoint2:         DefaultCheckpoint2,
		Exit:                DefaultExit,
		ExitSensorPosition:  DefaultExitSensorPosition,
		ExitSensorTolerance: DefaultExitSensorTolerance,
		Motor3Offset:        DefaultMotor3Offset,
		Interlock:           InterlockSegment,
	}
}

// Validate checks the checkpoints are strictly increasing and the sensor
// constants are usable.
func (l Line) Validate() error {
	var errs []error
	if !(l.Entry < l.Checkpoint1 && l.Checkpoint1 < l.Checkpoint2 && l.Checkpoint2 < l.Exit) {
		errs = append(errs, fmt.Errorf("checkpoints must be strictly increasing, got entry=%g c1=%g c2=%g exit=%g",
			l.Entry, l.Checkpoint1, l.Checkpoint2, l.Exit))
	}
	if l.ExitSensorTolerance < 0 {
		errs = append(errs, fmt.Errorf("exit sensor tolerance must be >= 0, got %g", l.ExitSensorTolerance))
	}
	if l.Motor3Offset < 0 {
		errs = append(errs, fmt.Errorf("motor 3 offset must be >= 0, got %g", l.Motor3Offset))
	}
	if l.Interlock != InterlockSegment && l.Interlock != InterlockEntry {
		errs = append(errs, fmt.Errorf("unknown interlock %d", int(l.Interlock)))
	}
	return errors.Join(errs...)
}
