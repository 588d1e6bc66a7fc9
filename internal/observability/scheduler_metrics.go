package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector exposes tick-loop metrics: how often the line is stepped,
// how long a step takes and whether the loop is running.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	TicksTotal    prometheus.Counter
	TickDuration  prometheus.Histogram
	Running       prometheus.Gauge
	RestartsTotal prometheus.Counter
}

// NewSchedulerCollector registers tick-loop metrics against the provided registerer.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_ticks_total",
		Help: "Simulation steps applied since process start.",
	}), "conveyor_ticks_total")
	if err != nil {
		return nil, err
	}

	tickHistogram, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "conveyor_tick_duration_seconds",
		Help:    "Wall time spent applying one simulation step, including rendering.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
	}), "conveyor_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	running, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "conveyor_running",
		Help: "1 while the simulation is ticking, 0 when stopped.",
	}), "conveyor_running")
	if err != nil {
		return nil, err
	}

	restarts, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_restarts_total",
		Help: "Number of times the line was cleared and restarted.",
	}), "conveyor_restarts_total")
	if err != nil {
		return nil, err
	}

	return &SchedulerCollector{
		gatherer:      gatherer,
		TicksTotal:    ticks,
		TickDuration:  tickHistogram,
		Running:       running,
		RestartsTotal: restarts,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick counts one step and records its duration.
func (c *SchedulerCollector) ObserveTick(took time.Duration) {
	if c == nil {
		return
	}
	if c.TicksTotal != nil {
		c.TicksTotal.Inc()
	}
	if c.TickDuration != nil {
		c.TickDuration.Observe(took.Seconds())
	}
}

// SetRunning updates the running gauge.
func (c *SchedulerCollector) SetRunning(running bool) {
	if c == nil || c.Running == nil {
		return
	}
	c.Running.Set(boolToFloat(running))
}

// ObserveRestart increments the restart counter.
func (c *SchedulerCollector) ObserveRestart() {
	if c == nil || c.RestartsTotal == nil {
		return
	}
	c.RestartsTotal.Inc()
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
