package core

import (
	"math"

	"github.com/signalsfoundry/conveyor-simulator/model"
)

// Signals are the sensor and motor lamps derived from the pallet set. They are
// projections only and are never fed back into the simulation.
type Signals struct {
	Sensor1 bool `json:"sensor1" yaml:"sensor1"`
	Sensor2 bool `json:"sensor2" yaml:"sensor2"`
	Sensor3 bool `json:"sensor3" yaml:"sensor3"`
	Motor1  bool `json:"motor1" yaml:"motor1"`
	Motor2  bool `json:"motor2" yaml:"motor2"`
	Motor3  bool `json:"motor3" yaml:"motor3"`
}

// Sensors returns the three sensor flags in line order.
func (s Signals) Sensors() [3]bool { return [3]bool{s.Sensor1, s.Sensor2, s.Sensor3} }

// Motors returns the three motor flags in line order.
func (s Signals) Motors() [3]bool { return [3]bool{s.Motor1, s.Motor2, s.Motor3} }

// DeriveSignals recomputes every signal from scratch.
func DeriveSignals(pallets []model.Pallet, line model.Line) Signals {
	var sig Signals
	for _, p := range pallets {
		switch p.State {
		case model.PalletEntering:
			sig.Motor1 = true
		case model.PalletAtCheckpoint1:
			sig.Sensor1 = true
		case model.PalletMovingToCheckpoint2:
			sig.Motor1 = true
			sig.Motor2 = true
		case model.PalletAtCheckpoint2:
			sig.Sensor2 = true
		case model.PalletExiting:
			sig.Motor2 = true
			if math.Abs(p.Position-line.ExitSensorPosition) <= line.ExitSensorTolerance {
				sig.Sensor3 = true
			}
			if p.Position > line.Checkpoint2+line.Motor3Offset {
				sig.Motor3 = true
			}
		}
	}
	return sig
}
