package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/model"
)

func TestFanoutForwardsInOrder(t *testing.T) {
	var order []string
	f := Fanout{
		core.RenderFunc(func(core.Frame) { order = append(order, "a") }),
		nil,
		core.RenderFunc(func(core.Frame) { order = append(order, "b") }),
	}
	f.Render(core.Frame{Tick: 1})
	if strings.Join(order, "") != "ab" {
		t.Fatalf("fanout order = %v, want [a b]", order)
	}
}

func TestLogSurfaceLogsEveryNthTick(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSurface(logging.New(logging.Config{Format: "json", Output: &buf}), 10)

	for tick := uint64(0); tick <= 25; tick++ {
		s.Render(core.Frame{
			Tick:    tick,
			RunID:   "run-a",
			Pallets: []model.Pallet{{ID: 1, State: model.PalletEntering, Position: 120}},
			Signals: core.Signals{Sensor1: true, Motor1: true},
		})
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("logged %d frames, want 3 (ticks 0, 10, 20):\n%s", len(lines), buf.String())
	}
	for _, want := range []string{`"tick":20`, `"pallets":"1:entering@120"`, `"sensors":"100"`, `"motors":"100"`} {
		if !strings.Contains(lines[2], want) {
			t.Fatalf("frame log %q missing %s", lines[2], want)
		}
	}
}

func TestLogSurfaceDisabled(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSurface(logging.New(logging.Config{Output: &buf}), 0)
	s.Render(core.Frame{})
	if buf.Len() != 0 {
		t.Fatalf("disabled surface logged %q", buf.String())
	}
}

func TestLamps(t *testing.T) {
	if got := Lamps([3]bool{true, false, true}); got != "101" {
		t.Fatalf("Lamps = %q, want 101", got)
	}
}

func TestRecorderKeepsBoundedHistory(t *testing.T) {
	r := NewRecorder(3)
	if _, ok := r.Last(); ok {
		t.Fatalf("empty recorder returned a frame")
	}
	for tick := uint64(0); tick < 5; tick++ {
		r.Render(core.Frame{Tick: tick})
	}

	last, ok := r.Last()
	if !ok || last.Tick != 4 {
		t.Fatalf("Last() = %d, %v; want 4, true", last.Tick, ok)
	}
	h := r.History(0)
	if len(h) != 3 || h[0].Tick != 2 || h[2].Tick != 4 {
		t.Fatalf("History(0) ticks = %v, want [2 3 4]", ticks(h))
	}
	if h := r.History(2); len(h) != 2 || h[0].Tick != 3 {
		t.Fatalf("History(2) ticks = %v, want [3 4]", ticks(h))
	}
	if h := r.History(10); len(h) != 3 {
		t.Fatalf("History(10) returned %d frames, want 3", len(h))
	}
}

func TestRecorderResetsOnNewRun(t *testing.T) {
	r := NewRecorder(0)
	for tick := uint64(0); tick < 4; tick++ {
		r.Render(core.Frame{Tick: tick, RunID: "old"})
	}
	r.Render(core.Frame{Tick: 0, RunID: "new"})
	if r.Len() != 1 {
		t.Fatalf("Len() = %d after restart frame, want 1", r.Len())
	}
	if h := r.History(0); h[0].RunID != "new" {
		t.Fatalf("History kept frames from the previous run")
	}
}

func ticks(frames []core.Frame) []uint64 {
	out := make([]uint64, len(frames))
	for i, f := range frames {
		out[i] = f.Tick
	}
	return out
}
