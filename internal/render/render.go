// Package render holds the surfaces a SimulationEngine draws frames on: a
// structured-log surface for headless runs, a bounded frame recorder backing
// the control API, a tcell terminal view and a fan-out combining them.
package render

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/model"
)

// Fanout forwards every frame to each surface in order.
type Fanout []core.RenderSurface

// Render implements core.RenderSurface.
func (f Fanout) Render(frame core.Frame) {
	for _, s := range f {
		if s != nil {
			s.Render(frame)
		}
	}
}

// LogSurface writes a one-line frame summary every N ticks.
type LogSurface struct {
	log   logging.Logger
	every uint64
}

// NewLogSurface logs every frame whose tick is a multiple of every. The
// bootstrap frame (tick 0) is always logged; every <= 0 disables logging.
func NewLogSurface(log logging.Logger, every int) *LogSurface {
	if log == nil {
		log = logging.Noop()
	}
	if every < 0 {
		every = 0
	}
	return &LogSurface{log: log, every: uint64(every)}
}

// Render implements core.RenderSurface.
func (s *LogSurface) Render(f core.Frame) {
	if s.every == 0 || f.Tick%s.every != 0 {
		return
	}
	s.log.Info(context.Background(), "frame",
		logging.Int64("tick", int64(f.Tick)),
		logging.String("run_id", f.RunID),
		logging.Int("active_pallets", len(f.Pallets)),
		logging.String("pallets", PalletSummary(f.Pallets)),
		logging.Bool("release_second", f.Flags.Second),
		logging.Bool("release_third", f.Flags.Third),
		logging.String("sensors", Lamps(f.Signals.Sensors())),
		logging.String("motors", Lamps(f.Signals.Motors())),
	)
}

// PalletSummary renders pallets as "id:state@position" separated by spaces.
func PalletSummary(pallets []model.Pallet) string {
	var b strings.Builder
	for i, p := range pallets {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(formatPallet(p))
	}
	return b.String()
}

func formatPallet(p model.Pallet) string {
	return fmt.Sprintf("%d:%s@%.0f", p.ID, p.State, p.Position)
}

// Lamps renders a row of indicators as 1s and 0s, e.g. "101".
func Lamps(on [3]bool) string {
	out := make([]byte, len(on))
	for i, v := range on {
		out[i] = '0'
		if v {
			out[i] = '1'
		}
	}
	return string(out)
}

// DefaultHistory is the number of frames a Recorder keeps when asked for zero.
const DefaultHistory = 256

// Recorder keeps the most recent frames in a ring buffer.
type Recorder struct {
	mu    sync.RWMutex
	buf   []core.Frame
	next  int
	count int
}

// NewRecorder returns a recorder holding up to capacity frames.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &Recorder{buf: make([]core.Frame, capacity)}
}

// Render implements core.RenderSurface. A frame with tick 0 starts a new run,
// so older frames are discarded.
func (r *Recorder) Render(f core.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.Tick == 0 {
		r.next, r.count = 0, 0
	}
	r.buf[r.next] = f
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Last returns the most recent frame.
func (r *Recorder) Last() (core.Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return core.Frame{}, false
	}
	return r.buf[(r.next-1+len(r.buf))%len(r.buf)], true
}

// History returns up to n frames, oldest first. n <= 0 returns everything held.
func (r *Recorder) History(n int) []core.Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]core.Frame, 0, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Len reports how many frames are held.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
