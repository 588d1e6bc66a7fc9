package model

import "time"

// Parameters are the operator-tunable simulation values. They are read fresh
// on every tick.
type Parameters struct {
	// Speed is the tick-to-tick travel progress rate. The core passes it
	// through to render surfaces as an animation hint.
	Speed        float64       `yaml:"speed" json:"speed"`
	MoveDuration time.Duration `yaml:"moveDuration" json:"move_duration"`
	WaitDuration time.Duration `yaml:"waitDuration" json:"wait_duration"`
}

const (
	DefaultSpeed        = 1.0
	DefaultMoveDuration = 5 * time.Second
	DefaultWaitDuration = 3 * time.Second
)

// DefaultParameters returns the reference tuning: 5 s moves, 3 s dwells.
func DefaultParameters() Parameters {
	return Parameters{
		Speed:        DefaultSpeed,
		MoveDuration: DefaultMoveDuration,
		WaitDuration: DefaultWaitDuration,
	}
}
