package render

import (
	"context"
	"fmt"
	"sync"

	"github.com/gdamore/tcell/v2"

	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/internal/params"
	"github.com/signalsfoundry/conveyor-simulator/model"
)

// Controller is the part of the engine the terminal drives from key presses.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	OnMotorInteraction(ctx context.Context, motorID int) error
}

// Layout rows.
const (
	rowTitle   = 0
	rowBelt    = 2
	rowMarks   = 3
	rowLabels  = 4
	rowLamps   = 6
	rowFlags   = 7
	rowParams  = 8
	rowPallets = 10
	beltMargin = 2
)

var (
	styleDefault  = tcell.StyleDefault
	styleTitle    = tcell.StyleDefault.Bold(true)
	styleBelt     = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleBeltLive = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	styleMark     = tcell.StyleDefault.Foreground(tcell.ColorAqua)
	styleLampOn   = tcell.StyleDefault.Foreground(tcell.ColorGreen).Bold(true)
	styleLampOff  = tcell.StyleDefault.Foreground(tcell.ColorDarkRed)
	styleStatus   = tcell.StyleDefault.Foreground(tcell.ColorRed)
	styleHelp     = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleDialog   = tcell.StyleDefault.Background(tcell.ColorNavy).Foreground(tcell.ColorWhite)
	styleSelected = styleDialog.Reverse(true)
)

func palletStyle(s model.PalletState) tcell.Style {
	switch s {
	case model.PalletAtCheckpoint1, model.PalletAtCheckpoint2:
		return tcell.StyleDefault.Foreground(tcell.ColorOrange).Bold(true)
	case model.PalletExiting:
		return tcell.StyleDefault.Foreground(tcell.ColorFuchsia).Bold(true)
	default:
		return tcell.StyleDefault.Foreground(tcell.ColorWhite).Bold(true)
	}
}

// dialogField is the parameter the dialog cursor is on.
type dialogField int

const (
	fieldMove dialogField = iota
	fieldWait
)

type dialog struct {
	motorID int
	field   dialogField
}

// redraw is posted to wake the event loop when a new frame arrives.
type redraw struct{}

// quit is posted when the run context is cancelled.
type quit struct{}

// TerminalSurface draws frames on a tcell screen and turns key presses into
// engine commands. Render only stores the frame and wakes the event loop, so
// it never blocks the engine.
type TerminalSurface struct {
	screen tcell.Screen
	line   model.Line
	store  *params.Store
	log    logging.Logger

	mu       sync.Mutex
	frame    core.Frame
	hasFrame bool
	running  bool
	dialog   *dialog
	status   string
}

// TerminalOption customises a TerminalSurface.
type TerminalOption func(*TerminalSurface)

// WithTerminalLogger attaches a logger for key handling errors.
func WithTerminalLogger(l logging.Logger) TerminalOption {
	return func(t *TerminalSurface) {
		if l != nil {
			t.log = l
		}
	}
}

// NewTerminalSurface wraps an initialised screen. store receives the edits
// made in the parameter dialog; a nil store disables the dialog.
func NewTerminalSurface(screen tcell.Screen, line model.Line, store *params.Store, opts ...TerminalOption) *TerminalSurface {
	t := &TerminalSurface{
		screen: screen,
		line:   line,
		store:  store,
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Render implements core.RenderSurface.
func (t *TerminalSurface) Render(f core.Frame) {
	t.mu.Lock()
	t.frame = f
	t.hasFrame = true
	t.mu.Unlock()
	t.screen.PostEvent(tcell.NewEventInterrupt(redraw{}))
}

// SetRunning records the engine state for the title bar. It is meant to be
// registered with core.WithLifecycleListener.
func (t *TerminalSurface) SetRunning(running bool) {
	t.mu.Lock()
	t.running = running
	t.mu.Unlock()
	t.screen.PostEvent(tcell.NewEventInterrupt(redraw{}))
}

// OpenDialog shows the parameter dialog for a motor. Its signature matches
// core.MotorInteractionHandler.
func (t *TerminalSurface) OpenDialog(_ context.Context, motorID int) {
	if t.store == nil {
		return
	}
	t.mu.Lock()
	t.dialog = &dialog{motorID: motorID}
	t.mu.Unlock()
	t.screen.PostEvent(tcell.NewEventInterrupt(redraw{}))
}

// DialogOpen reports whether the parameter dialog is showing.
func (t *TerminalSurface) DialogOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dialog != nil
}

// Run processes screen events until the operator quits or ctx is cancelled.
// The screen is not finalised; the caller owns it.
func (t *TerminalSurface) Run(ctx context.Context, ctrl Controller) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			t.screen.PostEvent(tcell.NewEventInterrupt(quit{}))
		case <-stop:
		}
	}()

	t.Draw()
	for {
		ev := t.screen.PollEvent()
		if ev == nil {
			return nil
		}
		if t.HandleEvent(ctx, ctrl, ev) {
			return nil
		}
	}
}

// HandleEvent applies one screen event and redraws. It returns true when the
// event loop should exit.
func (t *TerminalSurface) HandleEvent(ctx context.Context, ctrl Controller, ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventInterrupt:
		if _, ok := ev.Data().(quit); ok {
			return true
		}
	case *tcell.EventResize:
		t.screen.Sync()
	case *tcell.EventKey:
		if t.DialogOpen() {
			t.handleDialogKey(ev)
		} else if t.handleKey(ctx, ctrl, ev) {
			return true
		}
	}
	t.Draw()
	return false
}

func (t *TerminalSurface) handleKey(ctx context.Context, ctrl Controller, ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyRune:
	default:
		return false
	}

	var err error
	switch ev.Rune() {
	case 'q':
		return true
	case 's':
		err = ctrl.Start(ctx)
	case 'x':
		err = ctrl.Stop(ctx)
	case 'r':
		err = ctrl.Restart(ctx)
	case '1', '2', '3':
		err = ctrl.OnMotorInteraction(ctx, int(ev.Rune()-'0'))
	default:
		return false
	}
	t.setStatus(err)
	if err != nil {
		t.log.Warn(ctx, "terminal command failed", logging.String("key", string(ev.Rune())), logging.Err(err))
	}
	return false
}

func (t *TerminalSurface) handleDialogKey(ev *tcell.EventKey) {
	t.mu.Lock()
	d := t.dialog
	t.mu.Unlock()
	if d == nil {
		return
	}

	delta := params.Step
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyEnter:
		t.mu.Lock()
		t.dialog = nil
		t.mu.Unlock()
		return
	case tcell.KeyUp, tcell.KeyDown, tcell.KeyTab:
		t.mu.Lock()
		if t.dialog != nil {
			t.dialog.field = 1 - t.dialog.field
		}
		t.mu.Unlock()
		return
	case tcell.KeyLeft:
		delta = -delta
	case tcell.KeyRight:
	case tcell.KeyRune:
		switch ev.Rune() {
		case '-':
			delta = -delta
		case '+', '=':
		default:
			return
		}
	default:
		return
	}

	var err error
	if d.field == fieldMove {
		err = t.store.AdjustMove(delta)
	} else {
		err = t.store.AdjustWait(delta)
	}
	t.setStatus(err)
}

func (t *TerminalSurface) setStatus(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.status = err.Error()
	} else {
		t.status = ""
	}
}

// Draw paints the latest frame and any open dialog.
func (t *TerminalSurface) Draw() {
	t.mu.Lock()
	f, has, running, status := t.frame, t.hasFrame, t.running, t.status
	var d *dialog
	if t.dialog != nil {
		cp := *t.dialog
		d = &cp
	}
	t.mu.Unlock()

	t.screen.Clear()
	w, h := t.screen.Size()

	state := "STOPPED"
	if running {
		state = "RUNNING"
	}
	title := fmt.Sprintf("conveyor  %s", state)
	if has {
		title += fmt.Sprintf("  run %s  tick %d", f.RunID, f.Tick)
	}
	t.text(0, rowTitle, title, styleTitle)

	t.drawBelt(f, w)
	if has {
		t.drawLamps(f)
		t.text(0, rowFlags, fmt.Sprintf("release  second=%t  third=%t", f.Flags.Second, f.Flags.Third), styleDefault)
		t.text(0, rowParams, fmt.Sprintf("move %s  wait %s  speed %.2f", f.Params.MoveDuration, f.Params.WaitDuration, f.Params.Speed), styleDefault)
		for i, p := range f.Pallets {
			y := rowPallets + i
			if y >= h-2 {
				break
			}
			t.text(2, y, formatPallet(p), palletStyle(p.State))
		}
	}

	if status != "" {
		t.text(0, h-2, status, styleStatus)
	}
	t.text(0, h-1, "s start  x stop  r restart  1-3 motor  q quit", styleHelp)

	if d != nil && t.store != nil {
		t.drawDialog(*d, t.store.Parameters(), w, h)
	}
	t.screen.Show()
}

// Column maps a line position onto a belt of the given screen width.
func Column(line model.Line, pos float64, width int) int {
	span := width - 2*beltMargin - 1
	if span < 1 {
		return beltMargin
	}
	length := line.Exit - line.Entry
	if length <= 0 {
		return beltMargin
	}
	frac := (pos - line.Entry) / length
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return beltMargin + int(frac*float64(span)+0.5)
}

func (t *TerminalSurface) drawBelt(f core.Frame, w int) {
	c1 := Column(t.line, t.line.Checkpoint1, w)
	c2 := Column(t.line, t.line.Checkpoint2, w)
	exit := Column(t.line, t.line.Exit, w)
	motors := f.Signals.Motors()

	// Speed only drives the belt animation phase.
	phase := int(float64(f.Tick) * f.Params.Speed)
	for x := beltMargin; x <= exit; x++ {
		seg := 0
		switch {
		case x >= c2:
			seg = 2
		case x >= c1:
			seg = 1
		}
		ch, style := '─', styleBelt
		if motors[seg] {
			style = styleBeltLive
			if ((x-phase)%4+4)%4 == 0 {
				ch = '›'
			}
		}
		t.screen.SetContent(x, rowBelt, ch, nil, style)
	}

	for _, m := range []struct {
		x     int
		label string
	}{
		{beltMargin, "IN"},
		{c1, "C1"},
		{c2, "C2"},
		{exit, "OUT"},
	} {
		t.screen.SetContent(m.x, rowMarks, '┴', nil, styleMark)
		t.text(m.x, rowLabels, m.label, styleMark)
	}
	sensor := Column(t.line, t.line.ExitSensorPosition, w)
	t.screen.SetContent(sensor, rowMarks, '╨', nil, styleMark)

	for _, p := range f.Pallets {
		t.screen.SetContent(Column(t.line, p.Position, w), rowBelt, '■', nil, palletStyle(p.State))
	}
}

func (t *TerminalSurface) drawLamps(f core.Frame) {
	x := t.text(0, rowLamps, "sensors ", styleDefault)
	for i, on := range f.Signals.Sensors() {
		x = t.lamp(x, fmt.Sprintf("S%d", i+1), on)
	}
	x = t.text(x+2, rowLamps, "motors ", styleDefault)
	for i, on := range f.Signals.Motors() {
		x = t.lamp(x, fmt.Sprintf("M%d", i+1), on)
	}
}

func (t *TerminalSurface) lamp(x int, label string, on bool) int {
	ch, style := '○', styleLampOff
	if on {
		ch, style = '●', styleLampOn
	}
	x = t.text(x, rowLamps, label, styleDefault)
	t.screen.SetContent(x, rowLamps, ch, nil, style)
	return x + 2
}

func (t *TerminalSurface) drawDialog(d dialog, p model.Parameters, w, h int) {
	lines := []string{
		fmt.Sprintf(" motor %d parameters ", d.motorID),
		fmt.Sprintf("  move  %-8s ", p.MoveDuration),
		fmt.Sprintf("  wait  %-8s ", p.WaitDuration),
		" ←/→ adjust  ↑/↓ select  enter close ",
	}
	width := 0
	for _, l := range lines {
		if n := len([]rune(l)); n > width {
			width = n
		}
	}
	x0 := (w - width) / 2
	y0 := (h - len(lines)) / 2
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	for i, l := range lines {
		style := styleDialog
		if (i == 1 && d.field == fieldMove) || (i == 2 && d.field == fieldWait) {
			style = styleSelected
		}
		for x := 0; x < width; x++ {
			t.screen.SetContent(x0+x, y0+i, ' ', nil, style)
		}
		t.text(x0, y0+i, l, style)
	}
}

// text writes s at (x, y) and returns the column after it.
func (t *TerminalSurface) text(x, y int, s string, style tcell.Style) int {
	for _, r := range s {
		t.screen.SetContent(x, y, r, nil, style)
		x++
	}
	return x
}
