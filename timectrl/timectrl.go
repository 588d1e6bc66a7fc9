package timectrl

import (
	"context"
	"sync"
	"time"
)

// DefaultTick is the fixed period between simulation ticks.
const DefaultTick = 50 * time.Millisecond

// Clock supplies the timestamp for a tick. Simulation code reads time only
// through a Clock so tests can drive it deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock. time.Now carries a monotonic reading, so
// differences between two Now values are immune to wall-clock jumps.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManualClock constructs a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// SetTime jumps the clock to t.
func (c *ManualClock) SetTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Ticker invokes registered listeners once per period from a single
// goroutine, so listeners never run concurrently with each other or with a
// previous tick. A Ticker can be started again after Stop.
type Ticker struct {
	mu        sync.Mutex
	period    time.Duration
	listeners []func(time.Time)

	cancel context.CancelFunc
	done   chan struct{}
	ticks  uint64
}

// NewTicker constructs a stopped ticker. A non-positive period falls back to
// DefaultTick.
func NewTicker(period time.Duration) *Ticker {
	if period <= 0 {
		period = DefaultTick
	}
	return &Ticker{period: period}
}

// Period returns the tick period.
func (t *Ticker) Period() time.Duration { return t.period }

// AddListener registers a callback invoked on every tick. Listeners added
// while running take effect from the next Start.
func (t *Ticker) AddListener(fn func(time.Time)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Running reports whether the tick loop is active.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done != nil
}

// Ticks returns how many ticks have fired since construction.
func (t *Ticker) Ticks() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticks
}

// Start launches the tick loop. It returns false if the loop is already
// running.
func (t *Ticker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	listeners := append([]func(time.Time){}, t.listeners...)
	t.cancel = cancel
	t.done = done

	go t.loop(ctx, done, listeners)
	return true
}

// Stop halts the loop and waits for it to exit. Once Stop returns no listener
// is running and none will be invoked until the next Start. Stopping a
// stopped ticker is a no-op.
func (t *Ticker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *Ticker) loop(ctx context.Context, done chan struct{}, listeners []func(time.Time)) {
	defer close(done)

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			// A tick and a cancellation can be ready together; cancellation wins.
			if ctx.Err() != nil {
				return
			}
			t.mu.Lock()
			t.ticks++
			t.mu.Unlock()
			for _, fn := range listeners {
				fn(now)
			}
		}
	}
}
