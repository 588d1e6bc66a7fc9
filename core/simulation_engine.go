package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/model"
	"github.com/signalsfoundry/conveyor-simulator/timectrl"
)

const tracerName = "github.com/signalsfoundry/conveyor-simulator/core"

// MotorCount is the number of motors on the line. Motor ids are 1-based.
const MotorCount = 3

var (
	ErrAlreadyRunning = errors.New("simulation already running")
	ErrNotRunning     = errors.New("simulation not running")
	ErrUnknownMotor   = errors.New("unknown motor")
)

// Frame is what a render surface receives once per tick.
type Frame struct {
	Tick    uint64             `json:"tick"`
	RunID   string             `json:"run_id"`
	Now     time.Time          `json:"now"`
	Params  model.Parameters   `json:"params"`
	Pallets []model.Pallet     `json:"pallets"`
	Flags   model.ReleaseFlags `json:"flags"`
	Signals Signals            `json:"signals"`
}

// RenderSurface draws frames. Render is called with the engine lock held, so
// implementations must not call back into the engine synchronously.
type RenderSurface interface {
	Render(frame Frame)
}

// RenderFunc adapts a function to RenderSurface.
type RenderFunc func(Frame)

// Render calls f(frame).
func (f RenderFunc) Render(frame Frame) { f(frame) }

// ParameterSource supplies the latest tunables. It is consulted on every tick.
type ParameterSource interface {
	Parameters() model.Parameters
}

// StaticParameters is a ParameterSource that never changes.
type StaticParameters model.Parameters

// Parameters returns p.
func (p StaticParameters) Parameters() model.Parameters { return model.Parameters(p) }

// MotorInteractionHandler is invoked when the host reports an operator
// interaction with a motor, typically to open a parameter dialog.
type MotorInteractionHandler func(ctx context.Context, motorID int)

// MetricsRecorder receives per-tick and lifecycle observations.
type MetricsRecorder interface {
	ObserveTick(frame Frame, report StepReport, took time.Duration)
	SetRunning(running bool)
	ObserveRestart()
}

// SimulationEngine owns the single mutable SimulationState and the tick loop.
// Every tick and every lifecycle operation runs under one lock, so ticks are
// applied one at a time and never interleave with Start, Stop or Restart.
type SimulationEngine struct {
	// ctrlMu serialises Start, Stop and Restart.
	ctrlMu sync.Mutex
	// mu guards everything below it.
	mu sync.Mutex

	line    model.Line
	params  ParameterSource
	clock   timectrl.Clock
	ticker  *timectrl.Ticker
	surface RenderSurface
	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
	onMotor MotorInteractionHandler
	onLife  []func(running bool)

	state   SimulationState
	running bool
	tick    uint64
	runID   string
	last    Frame
	// stoppedAt is the clock reading at the last Stop; zero when the line
	// has nothing to resume.
	stoppedAt time.Time
}

// EngineOption customises SimulationEngine construction.
type EngineOption func(*SimulationEngine)

// WithClock replaces the system clock.
func WithClock(c timectrl.Clock) EngineOption {
	return func(e *SimulationEngine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithTickPeriod sets the ticker period. The default is timectrl.DefaultTick.
func WithTickPeriod(d time.Duration) EngineOption {
	return func(e *SimulationEngine) {
		e.ticker = timectrl.NewTicker(d)
	}
}

// WithRenderSurface attaches the surface frames are drawn on.
func WithRenderSurface(s RenderSurface) EngineOption {
	return func(e *SimulationEngine) {
		if s != nil {
			e.surface = s
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) EngineOption {
	return func(e *SimulationEngine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) EngineOption {
	return func(e *SimulationEngine) {
		e.metrics = m
	}
}

// WithMotorInteractionHandler registers the hook behind OnMotorInteraction.
func WithMotorInteractionHandler(h MotorInteractionHandler) EngineOption {
	return func(e *SimulationEngine) {
		e.onMotor = h
	}
}

// WithLifecycleListener registers a callback fired whenever the engine starts
// or stops ticking.
func WithLifecycleListener(fn func(running bool)) EngineOption {
	return func(e *SimulationEngine) {
		if fn != nil {
			e.onLife = append(e.onLife, fn)
		}
	}
}

// NewSimulationEngine builds a stopped engine with an empty line.
func NewSimulationEngine(line model.Line, params ParameterSource, opts ...EngineOption) *SimulationEngine {
	if params == nil {
		params = StaticParameters(model.DefaultParameters())
	}
	e := &SimulationEngine{
		line:    line,
		params:  params,
		clock:   timectrl.SystemClock{},
		ticker:  timectrl.NewTicker(timectrl.DefaultTick),
		surface: RenderFunc(func(Frame) {}),
		log:     logging.Noop(),
		tracer:  otel.Tracer(tracerName),
		state:   SimulationState{NextID: 1},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.ticker.AddListener(func(time.Time) { e.scheduledTick() })
	return e
}

// Line returns the fixed line geometry.
func (e *SimulationEngine) Line() model.Line { return e.line }

// TickPeriod returns the scheduling period.
func (e *SimulationEngine) TickPeriod() time.Duration { return e.ticker.Period() }

// Start begins ticking. If no pallet is on the line one is admitted
// immediately without consulting the release gate. Otherwise the line resumes
// where Stop left it: the stopped interval is not counted as elapsed time.
func (e *SimulationEngine) Start(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "conveyor.start")
	defer span.End()

	e.ctrlMu.Lock()
	defer e.ctrlMu.Unlock()

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		span.SetStatus(codes.Error, ErrAlreadyRunning.Error())
		return ErrAlreadyRunning
	}
	if e.runID == "" {
		e.runID = xid.New().String()
	}
	bootstrapped := false
	var paused time.Duration
	now := e.clock.Now()
	if e.state.Empty() {
		e.state = admit(e.state, now, e.line)
		e.publishLocked(now, e.params.Parameters())
		bootstrapped = true
	} else if !e.stoppedAt.IsZero() && now.After(e.stoppedAt) {
		paused = now.Sub(e.stoppedAt)
		e.state = e.state.Shift(paused)
	}
	e.stoppedAt = time.Time{}
	e.running = true
	runID, active := e.runID, len(e.state.Pallets)
	e.mu.Unlock()

	e.ticker.Start()
	e.notifyLifecycle(true)

	span.SetAttributes(
		attribute.String("conveyor.run_id", runID),
		attribute.Bool("conveyor.bootstrapped", bootstrapped),
	)
	e.log.Info(ctx, "simulation started",
		logging.String("run_id", runID),
		logging.Bool("bootstrapped", bootstrapped),
		logging.Duration("paused", paused),
		logging.Int("active_pallets", active),
		logging.Duration("tick", e.ticker.Period()),
	)
	return nil
}

// Stop halts ticking and keeps the line as it is, so a later Start resumes
// where it left off. When Stop returns no further tick will touch the state.
func (e *SimulationEngine) Stop(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "conveyor.stop")
	defer span.End()

	e.ctrlMu.Lock()
	defer e.ctrlMu.Unlock()

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		span.SetStatus(codes.Error, ErrNotRunning.Error())
		return ErrNotRunning
	}
	// Any tick that acquires the lock after this point sees running == false
	// and returns without stepping.
	e.running = false
	e.stoppedAt = e.clock.Now()
	runID, tick, active := e.runID, e.tick, len(e.state.Pallets)
	e.mu.Unlock()

	e.ticker.Stop()
	e.notifyLifecycle(false)

	e.log.Info(ctx, "simulation stopped",
		logging.String("run_id", runID),
		logging.Int64("tick", int64(tick)),
		logging.Int("active_pallets", active),
	)
	return nil
}

// Restart stops the engine if needed, discards every pallet, release flag and
// the id counter, then starts a fresh run with a single entering pallet.
func (e *SimulationEngine) Restart(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "conveyor.restart")
	defer span.End()

	e.ctrlMu.Lock()
	defer e.ctrlMu.Unlock()

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.ticker.Stop()

	e.mu.Lock()
	now := e.clock.Now()
	e.runID = xid.New().String()
	e.tick = 0
	e.stoppedAt = time.Time{}
	e.state = Bootstrap(now, e.line)
	e.publishLocked(now, e.params.Parameters())
	e.running = true
	runID := e.runID
	e.mu.Unlock()

	e.ticker.Start()
	if e.metrics != nil {
		e.metrics.ObserveRestart()
	}
	e.notifyLifecycle(true)

	span.SetAttributes(attribute.String("conveyor.run_id", runID))
	e.log.Info(ctx, "simulation restarted", logging.String("run_id", runID))
	return nil
}

// Tick runs one simulation step synchronously. Hosts that drive their own
// loop call it instead of relying on the internal ticker.
func (e *SimulationEngine) Tick(ctx context.Context) (Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return Frame{}, ErrNotRunning
	}
	return e.tickLocked(ctx), nil
}

// OnMotorInteraction forwards an operator interaction with a motor to the
// registered handler. It never changes the simulation.
func (e *SimulationEngine) OnMotorInteraction(ctx context.Context, motorID int) error {
	if motorID < 1 || motorID > MotorCount {
		return fmt.Errorf("motor %d: %w", motorID, ErrUnknownMotor)
	}
	e.log.Info(ctx, "motor interaction", logging.Int("motor_id", motorID))
	if e.onMotor != nil {
		e.onMotor(ctx, motorID)
	}
	return nil
}

// Running reports whether the engine is ticking.
func (e *SimulationEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// RunID identifies the current run. It changes on Restart.
func (e *SimulationEngine) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// State returns a copy of the current simulation state.
func (e *SimulationEngine) State() SimulationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Snapshot returns a copy of the most recently rendered frame.
func (e *SimulationEngine) Snapshot() Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := e.last
	f.Pallets = append([]model.Pallet(nil), e.last.Pallets...)
	return f
}

func (e *SimulationEngine) scheduledTick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.tickLocked(context.Background())
}

func (e *SimulationEngine) tickLocked(ctx context.Context) Frame {
	started := time.Now()
	now := e.clock.Now()
	params := e.params.Parameters()

	ctx, span := e.tracer.Start(ctx, "conveyor.tick")
	defer span.End()

	next, report := Step(e.state, now, params, e.line)
	e.state = next
	e.tick++
	frame := e.publishLocked(now, params)

	span.SetAttributes(
		attribute.Int64("conveyor.tick", int64(frame.Tick)),
		attribute.Int("conveyor.active_pallets", len(frame.Pallets)),
	)

	if report.Admitted != nil {
		e.log.Debug(ctx, "pallet admitted",
			logging.String("run_id", e.runID),
			logging.Int64("pallet_id", report.Admitted.ID),
			logging.String("released_by", report.ReleasedBy.String()),
		)
	}
	for _, id := range report.Exited {
		e.log.Debug(ctx, "pallet exited",
			logging.String("run_id", e.runID),
			logging.Int64("pallet_id", id),
		)
	}
	if e.metrics != nil {
		e.metrics.ObserveTick(frame, report, time.Since(started))
	}
	return frame
}

func (e *SimulationEngine) publishLocked(now time.Time, params model.Parameters) Frame {
	frame := Frame{
		Tick:    e.tick,
		RunID:   e.runID,
		Now:     now,
		Params:  params,
		Pallets: append([]model.Pallet(nil), e.state.Pallets...),
		Flags:   e.state.Flags,
		Signals: DeriveSignals(e.state.Pallets, e.line),
	}
	e.last = frame
	e.surface.Render(frame)
	return frame
}

func (e *SimulationEngine) notifyLifecycle(running bool) {
	if e.metrics != nil {
		e.metrics.SetRunning(running)
	}
	for _, fn := range e.onLife {
		fn(running)
	}
}
