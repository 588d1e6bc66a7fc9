package core

import (
	"testing"
	"time"

	"github.com/signalsfoundry/conveyor-simulator/model"
)

var t0 = time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func refParams() model.Parameters {
	return model.Parameters{Speed: 1, MoveDuration: ms(5000), WaitDuration: ms(3000)}
}

func TestAdvancePallet_Transitions(t *testing.T) {
	line := model.DefaultLine()
	params := refParams()

	tests := []struct {
		name      string
		in        model.Pallet
		elapsed   time.Duration
		wantState model.PalletState
		wantPos   float64
		wantReset bool
		wantClear Clearance
	}{
		{"entering halfway", model.Pallet{State: model.PalletEntering, Position: 0}, ms(2500),
			model.PalletEntering, 200, false, ClearanceNone},
		{"entering arrives", model.Pallet{State: model.PalletEntering, Position: 390}, ms(5000),
			model.PalletAtCheckpoint1, 400, true, ClearanceCheckpoint1},
		{"entering overshoot snaps", model.Pallet{State: model.PalletEntering, Position: 390}, ms(9000),
			model.PalletAtCheckpoint1, 400, true, ClearanceCheckpoint1},
		{"dwell at checkpoint 1", model.Pallet{State: model.PalletAtCheckpoint1, Position: 400}, ms(2999),
			model.PalletAtCheckpoint1, 400, false, ClearanceNone},
		{"leave checkpoint 1", model.Pallet{State: model.PalletAtCheckpoint1, Position: 400}, ms(3000),
			model.PalletMovingToCheckpoint2, 400, true, ClearanceNone},
		{"moving to checkpoint 2", model.Pallet{State: model.PalletMovingToCheckpoint2, Position: 400}, ms(1250),
			model.PalletMovingToCheckpoint2, 500, false, ClearanceNone},
		{"arrive checkpoint 2", model.Pallet{State: model.PalletMovingToCheckpoint2, Position: 790}, ms(5001),
			model.PalletAtCheckpoint2, 800, true, ClearanceCheckpoint2},
		{"dwell at checkpoint 2", model.Pallet{State: model.PalletAtCheckpoint2, Position: 800}, ms(100),
			model.PalletAtCheckpoint2, 800, false, ClearanceNone},
		{"leave checkpoint 2", model.Pallet{State: model.PalletAtCheckpoint2, Position: 800}, ms(3000),
			model.PalletExiting, 800, true, ClearanceNone},
		{"exiting", model.Pallet{State: model.PalletExiting, Position: 800}, ms(4000),
			model.PalletExiting, 1120, false, ClearanceNone},
		{"exit completes", model.Pallet{State: model.PalletExiting, Position: 1190}, ms(5000),
			model.PalletExited, 1200, true, ClearanceNone},
		{"exited is terminal", model.Pallet{State: model.PalletExited, Position: 1200}, ms(60000),
			model.PalletExited, 1200, false, ClearanceNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			in.ID = 9
			in.StateEnteredAt = t0
			now := t0.Add(tt.elapsed)

			got, cleared := AdvancePallet(in, now, params, line)

			if got.State != tt.wantState {
				t.Fatalf("state = %v, want %v", got.State, tt.wantState)
			}
			if got.Position != tt.wantPos {
				t.Fatalf("position = %v, want %v", got.Position, tt.wantPos)
			}
			if cleared != tt.wantClear {
				t.Fatalf("clearance = %v, want %v", cleared, tt.wantClear)
			}
			wantEntered := t0
			if tt.wantReset {
				wantEntered = now
			}
			if !got.StateEnteredAt.Equal(wantEntered) {
				t.Fatalf("StateEnteredAt = %v, want %v", got.StateEnteredAt, wantEntered)
			}
			if got.ID != 9 {
				t.Fatalf("ID changed to %d", got.ID)
			}
		})
	}
}

func TestAdvancePallet_NonPositiveDurationsCompleteImmediately(t *testing.T) {
	line := model.DefaultLine()
	params := model.Parameters{MoveDuration: 0, WaitDuration: -time.Second}

	p := model.Pallet{ID: 1, State: model.PalletEntering, Position: line.Entry, StateEnteredAt: t0}
	want := []model.PalletState{
		model.PalletAtCheckpoint1,
		model.PalletMovingToCheckpoint2,
		model.PalletAtCheckpoint2,
		model.PalletExiting,
		model.PalletExited,
	}
	for i, w := range want {
		p, _ = AdvancePallet(p, t0, params, line)
		if p.State != w {
			t.Fatalf("step %d: state = %v, want %v", i, p.State, w)
		}
	}
	if p.Position != line.Exit {
		t.Fatalf("position = %v, want %v", p.Position, line.Exit)
	}
}

func TestAdvancePallet_ClockBeforeStateEntryHoldsStart(t *testing.T) {
	line := model.DefaultLine()
	p := model.Pallet{ID: 1, State: model.PalletEntering, Position: line.Entry, StateEnteredAt: t0}

	got, _ := AdvancePallet(p, t0.Add(-time.Second), refParams(), line)
	if got.Position != line.Entry || got.State != model.PalletEntering {
		t.Fatalf("got %+v, want pallet held at entry", got)
	}
}

func TestAdvancePallet_LongerMoveDurationNeverPullsBack(t *testing.T) {
	line := model.DefaultLine()
	p := model.Pallet{ID: 1, State: model.PalletEntering, Position: line.Entry, StateEnteredAt: t0}

	p, _ = AdvancePallet(p, t0.Add(ms(2500)), refParams(), line)
	if p.Position != 200 {
		t.Fatalf("position = %v, want 200", p.Position)
	}

	slower := refParams()
	slower.MoveDuration = ms(10000)
	p, _ = AdvancePallet(p, t0.Add(ms(2600)), slower, line)
	if p.Position != 200 {
		t.Fatalf("position after slowing = %v, want held at 200", p.Position)
	}

	p, _ = AdvancePallet(p, t0.Add(ms(6000)), slower, line)
	if p.Position != 240 {
		t.Fatalf("position = %v, want 240", p.Position)
	}
}

func TestProgressClamps(t *testing.T) {
	tests := []struct {
		elapsed, duration time.Duration
		want              float64
	}{
		{ms(0), ms(1000), 0},
		{ms(500), ms(1000), 0.5},
		{ms(1500), ms(1000), 1},
		{ms(-10), ms(1000), 0},
		{ms(10), 0, 1},
		{ms(10), -ms(5), 1},
	}
	for _, tt := range tests {
		if got := Progress(tt.elapsed, tt.duration); got != tt.want {
			t.Fatalf("Progress(%v, %v) = %v, want %v", tt.elapsed, tt.duration, got, tt.want)
		}
	}
}
