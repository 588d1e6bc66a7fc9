package control

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/internal/observability"
)

// SimulationService is the health service name that tracks whether the line
// is ticking.
const SimulationService = "conveyor.Simulation"

// HealthReporter publishes the engine lifecycle on the standard gRPC health
// service. The process itself reports SERVING as soon as the server is up;
// SimulationService flips with the engine.
type HealthReporter struct {
	srv *health.Server
}

// NewHealthReporter returns a reporter with the simulation marked stopped.
func NewHealthReporter() *HealthReporter {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	srv.SetServingStatus(SimulationService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{srv: srv}
}

// SetRunning is meant to be registered with core.WithLifecycleListener.
func (h *HealthReporter) SetRunning(running bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if running {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(SimulationService, status)
}

// Shutdown marks every service NOT_SERVING so watchers see the process leave.
func (h *HealthReporter) Shutdown() {
	h.srv.Shutdown()
}

// NewGRPCServer builds a gRPC server exposing health and reflection. The
// otelgrpc stats handler opens the server span that the tracing interceptor
// names; every unary call also gets a request id. metrics is optional.
func NewGRPCServer(h *HealthReporter, metrics *observability.SimCollector, log logging.Logger) *grpc.Server {
	interceptors := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
	}
	if metrics != nil {
		interceptors = append(interceptors, metrics.UnaryServerInterceptor())
	}
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	healthpb.RegisterHealthServer(s, h.srv)
	reflection.Register(s)
	return s
}
