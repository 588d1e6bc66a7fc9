package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/model"
)

// SimCollector bundles the Prometheus metrics of a running line and satisfies
// core.MetricsRecorder so the engine can drive them directly from its tick.
type SimCollector struct {
	gatherer prometheus.Gatherer

	*SchedulerCollector

	ActivePallets   prometheus.Gauge
	PalletsByState  *prometheus.GaugeVec
	PalletsAdmitted *prometheus.CounterVec
	PalletsExited   prometheus.Counter
	ReleaseFlags    *prometheus.GaugeVec
	Signals         *prometheus.GaugeVec

	ControlRequests  *prometheus.CounterVec
	ControlDurations *prometheus.HistogramVec
	RPCRequests      *prometheus.CounterVec
	RPCDurations     *prometheus.HistogramVec
}

var _ core.MetricsRecorder = (*SimCollector)(nil)

// NewSimCollector registers the simulator metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	sched, err := NewSchedulerCollector(reg)
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "conveyor_active_pallets",
		Help: "Number of pallets currently on the line.",
	}), "conveyor_active_pallets")
	if err != nil {
		return nil, err
	}

	byState, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conveyor_pallets",
		Help: "Pallets on the line, labeled by state.",
	}, []string{"state"}), "conveyor_pallets")
	if err != nil {
		return nil, err
	}

	admitted, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_pallets_admitted_total",
		Help: "Pallets admitted by the release gate, labeled by the flag that released them.",
	}, []string{"released_by"}), "conveyor_pallets_admitted_total")
	if err != nil {
		return nil, err
	}

	exited, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_pallets_exited_total",
		Help: "Pallets that completed the exit segment and left the line.",
	}), "conveyor_pallets_exited_total")
	if err != nil {
		return nil, err
	}

	flags, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conveyor_release_flag",
		Help: "Release flags awaiting consumption (1 when set).",
	}, []string{"flag"}), "conveyor_release_flag")
	if err != nil {
		return nil, err
	}

	signals, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conveyor_signal",
		Help: "Derived sensor and motor signals (1 when active).",
	}, []string{"kind", "index"}), "conveyor_signal")
	if err != nil {
		return nil, err
	}

	ctlRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_control_requests_total",
		Help: "Handled control API requests, labeled by route, method and HTTP status code.",
	}, []string{"route", "method", "code"}), "conveyor_control_requests_total")
	if err != nil {
		return nil, err
	}

	ctlDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conveyor_control_request_duration_seconds",
		Help:    "Control API latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"route", "method"}), "conveyor_control_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	rpcRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_grpc_requests_total",
		Help: "Handled gRPC requests, labeled by service, method and gRPC status code.",
	}, []string{"service", "method", "code"}), "conveyor_grpc_requests_total")
	if err != nil {
		return nil, err
	}

	rpcDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conveyor_grpc_request_duration_seconds",
		Help:    "gRPC latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"}), "conveyor_grpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:           gatherer,
		SchedulerCollector: sched,
		ActivePallets:      active,
		PalletsByState:     byState,
		PalletsAdmitted:    admitted,
		PalletsExited:      exited,
		ReleaseFlags:       flags,
		Signals:            signals,
		ControlRequests:    ctlRequests,
		ControlDurations:   ctlDurations,
		RPCRequests:        rpcRequests,
		RPCDurations:       rpcDurations,
	}, nil
}

// ObserveTick records one engine tick: the resulting line occupancy, the
// admissions and exits it produced, and how long the step took.
func (c *SimCollector) ObserveTick(frame core.Frame, report core.StepReport, took time.Duration) {
	if c == nil {
		return
	}
	c.SchedulerCollector.ObserveTick(took)

	if c.ActivePallets != nil {
		c.ActivePallets.Set(float64(len(frame.Pallets)))
	}
	if c.PalletsByState != nil {
		counts := make(map[model.PalletState]int, len(model.AllPalletStates()))
		for _, p := range frame.Pallets {
			counts[p.State]++
		}
		for _, st := range model.AllPalletStates() {
			c.PalletsByState.WithLabelValues(st.String()).Set(float64(counts[st]))
		}
	}
	if report.Admitted != nil && c.PalletsAdmitted != nil {
		c.PalletsAdmitted.WithLabelValues(report.ReleasedBy.String()).Inc()
	}
	if c.PalletsExited != nil {
		c.PalletsExited.Add(float64(len(report.Exited)))
	}
	if c.ReleaseFlags != nil {
		c.ReleaseFlags.WithLabelValues(model.ReleaseSecond.String()).Set(boolToFloat(frame.Flags.Second))
		c.ReleaseFlags.WithLabelValues(model.ReleaseThird.String()).Set(boolToFloat(frame.Flags.Third))
	}
	if c.Signals != nil {
		sensors, motors := frame.Signals.Sensors(), frame.Signals.Motors()
		for i := range sensors {
			idx := strconv.Itoa(i + 1)
			c.Signals.WithLabelValues("sensor", idx).Set(boolToFloat(sensors[i]))
			c.Signals.WithLabelValues("motor", idx).Set(boolToFloat(motors[i]))
		}
	}
}

// ObserveControlRequest records one handled control API request.
func (c *SimCollector) ObserveControlRequest(route, method string, code int, took time.Duration) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if c.ControlRequests != nil {
		c.ControlRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	}
	if c.ControlDurations != nil {
		c.ControlDurations.WithLabelValues(route, method).Observe(took.Seconds())
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
