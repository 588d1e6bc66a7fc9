package core

import (
	"math"
	"time"

	"github.com/signalsfoundry/conveyor-simulator/model"
)

// Clearance is raised by AdvancePallet when a pallet arrives at a checkpoint,
// freeing the segment behind it.
type Clearance int

const (
	ClearanceNone Clearance = iota
	ClearanceCheckpoint1
	ClearanceCheckpoint2
)

func (c Clearance) String() string {
	switch c {
	case ClearanceCheckpoint1:
		return "checkpoint_1"
	case ClearanceCheckpoint2:
		return "checkpoint_2"
	default:
		return "none"
	}
}

// AdvancePallet computes where p is at now. It is pure: p is passed by value
// and the returned pallet is the only result.
//
// Moving segments interpolate linearly and snap to the segment end once the
// move duration has elapsed; time beyond the duration is dropped rather than
// carried into the next state. Dwell states hold position until the wait
// duration has elapsed.
func AdvancePallet(p model.Pallet, now time.Time, params model.Parameters, line model.Line) (model.Pallet, Clearance) {
	elapsed := now.Sub(p.StateEnteredAt)

	switch p.State {
	case model.PalletEntering:
		return moveAlong(p, now, elapsed, params.MoveDuration, line.Entry, line.Checkpoint1, model.PalletAtCheckpoint1, ClearanceCheckpoint1)

	case model.PalletAtCheckpoint1:
		p.Position = line.Checkpoint1
		if completed(elapsed, params.WaitDuration) {
			p.State = model.PalletMovingToCheckpoint2
			p.StateEnteredAt = now
		}
		return p, ClearanceNone

	case model.PalletMovingToCheckpoint2:
		return moveAlong(p, now, elapsed, params.MoveDuration, line.Checkpoint1, line.Checkpoint2, model.PalletAtCheckpoint2, ClearanceCheckpoint2)

	case model.PalletAtCheckpoint2:
		p.Position = line.Checkpoint2
		if completed(elapsed, params.WaitDuration) {
			p.State = model.PalletExiting
			p.StateEnteredAt = now
		}
		return p, ClearanceNone

	case model.PalletExiting:
		return moveAlong(p, now, elapsed, params.MoveDuration, line.Checkpoint2, line.Exit, model.PalletExited, ClearanceNone)

	default:
		// Exited is terminal.
		return p, ClearanceNone
	}
}

func moveAlong(
	p model.Pallet,
	now time.Time,
	elapsed, duration time.Duration,
	from, to float64,
	next model.PalletState,
	clearance Clearance,
) (model.Pallet, Clearance) {
	if completed(elapsed, duration) {
		p.Position = to
		p.State = next
		p.StateEnteredAt = now
		return p, clearance
	}

	pos := from + Progress(elapsed, duration)*(to-from)
	// A move duration lengthened mid-segment would otherwise pull the pallet
	// backwards.
	if pos < p.Position && p.Position <= to {
		pos = p.Position
	}
	p.Position = pos
	return p, ClearanceNone
}

func completed(elapsed, duration time.Duration) bool {
	return duration <= 0 || elapsed >= duration
}

// Progress returns elapsed/duration clamped to [0, 1]. A non-positive
// duration counts as already complete.
func Progress(elapsed, duration time.Duration) float64 {
	if duration <= 0 {
		return 1
	}
	ratio := float64(elapsed) / float64(duration)
	if math.IsNaN(ratio) || ratio < 0 {
		return 0
	}
	return math.Min(1, ratio)
}
