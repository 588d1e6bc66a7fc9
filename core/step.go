package core

import (
	"time"

	"github.com/signalsfoundry/conveyor-simulator/model"
)

// SimulationState is everything the simulation carries from one tick to the
// next. Step never mutates a SimulationState in place; it returns a new one.
type SimulationState struct {
	Pallets []model.Pallet     `json:"pallets"`
	Flags   model.ReleaseFlags `json:"flags"`
	// NextID is the id the next admitted pallet receives.
	NextID int64 `json:"next_id"`
}

// Clone returns a deep copy of s.
func (s SimulationState) Clone() SimulationState {
	out := s
	out.Pallets = append([]model.Pallet(nil), s.Pallets...)
	return out
}

// Shift returns a copy of s with every pallet's StateEnteredAt moved forward
// by d, so time spent paused does not count towards any segment.
func (s SimulationState) Shift(d time.Duration) SimulationState {
	out := s.Clone()
	for i := range out.Pallets {
		out.Pallets[i].StateEnteredAt = out.Pallets[i].StateEnteredAt.Add(d)
	}
	return out
}

// Empty reports whether no pallet is active.
func (s SimulationState) Empty() bool { return len(s.Pallets) == 0 }

// Bootstrap returns a fresh state holding exactly one entering pallet at the
// line entry. Bootstrapping bypasses the release gate.
func Bootstrap(now time.Time, line model.Line) SimulationState {
	return admit(SimulationState{NextID: 1}, now, line)
}

// StepReport describes what happened during a Step, for logging and metrics.
type StepReport struct {
	Cleared  []Clearance
	Exited   []int64
	Admitted *model.Pallet
	// ReleasedBy names the flag consumed by the admission, if any.
	ReleasedBy model.ReleaseFlag
}

// Step advances the whole line by one tick.
//
// Every pallet is advanced from the pre-tick snapshot, so no pallet observes
// another's update within the same tick. Exited pallets are pruned before the
// release gate is evaluated, and at most one pallet is admitted per tick.
func Step(s SimulationState, now time.Time, params model.Parameters, line model.Line) (SimulationState, StepReport) {
	var report StepReport
	next := SimulationState{
		Pallets: make([]model.Pallet, 0, len(s.Pallets)+1),
		Flags:   s.Flags,
		NextID:  s.NextID,
	}

	for _, p := range s.Pallets {
		advanced, cleared := AdvancePallet(p, now, params, line)
		switch cleared {
		case ClearanceCheckpoint1:
			next.Flags.Second = true
			report.Cleared = append(report.Cleared, cleared)
		case ClearanceCheckpoint2:
			next.Flags.Third = true
			report.Cleared = append(report.Cleared, cleared)
		}

		if advanced.State == model.PalletExited {
			report.Exited = append(report.Exited, advanced.ID)
			continue
		}
		next.Pallets = append(next.Pallets, advanced)
	}

	if CanAdmitPallet(next.Pallets, next.Flags, line.Interlock) {
		flags, consumed, _ := next.Flags.Consume()
		next.Flags = flags
		next = admit(next, now, line)
		admitted := next.Pallets[len(next.Pallets)-1]
		report.Admitted = &admitted
		report.ReleasedBy = consumed
	}

	return next, report
}

func admit(s SimulationState, now time.Time, line model.Line) SimulationState {
	if s.NextID < 1 {
		s.NextID = 1
	}
	s.Pallets = append(s.Pallets, model.Pallet{
		ID:             s.NextID,
		Position:       line.Entry,
		State:          model.PalletEntering,
		StateEnteredAt: now,
	})
	s.NextID++
	return s
}
