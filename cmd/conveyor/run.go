package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/internal/config"
	"github.com/signalsfoundry/conveyor-simulator/internal/control"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/internal/observability"
	"github.com/signalsfoundry/conveyor-simulator/internal/params"
	"github.com/signalsfoundry/conveyor-simulator/internal/render"
	"github.com/signalsfoundry/conveyor-simulator/model"
)

type runOptions struct {
	paused  bool
	history int

	httpAddr    string
	grpcAddr    string
	metricsAddr string
}

// applyAddrs overrides listen addresses with the flags set explicitly. An
// empty address disables that listener.
func (o runOptions) applyAddrs(cfg *config.Config, flags *pflag.FlagSet) {
	if flags.Changed("http-addr") {
		cfg.HTTPAddr = o.httpAddr
	}
	if flags.Changed("grpc-addr") {
		cfg.GRPCAddr = o.grpcAddr
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = o.metricsAddr
	}
}

func newRunCmd(f *rootFlags) *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run headless with the HTTP control API, gRPC health and Prometheus metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd.Flags())
			if err != nil {
				return err
			}
			opts.applyAddrs(&cfg, cmd.Flags())
			log := logging.NewFromEnv()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lis, err := listenAll(cfg)
			if err != nil {
				return err
			}
			return runHeadless(ctx, cfg, opts, log, lis)
		},
	}
	cmd.Flags().BoolVar(&opts.paused, "paused", false, "wait for POST /api/start instead of starting immediately")
	cmd.Flags().IntVar(&opts.history, "history", render.DefaultHistory, "frames kept for GET /api/frames")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "control API listen address (empty disables)")
	cmd.Flags().StringVar(&opts.grpcAddr, "grpc-addr", "", "gRPC health listen address (empty disables)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (empty disables)")
	return cmd
}

// runHeadless wires the engine to its host surfaces and blocks until ctx is
// cancelled, then shuts everything down.
func runHeadless(ctx context.Context, cfg config.Config, opts runOptions, log logging.Logger, lis listeners) error {
	defer lis.close()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(nil), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimCollector(nil)
	if err != nil {
		return err
	}

	store, err := params.NewStore(cfg.Parameters)
	if err != nil {
		return err
	}
	store.Subscribe(func(old, updated model.Parameters) {
		log.Info(context.Background(), "simulation parameters changed",
			logging.Duration("move_duration", updated.MoveDuration),
			logging.Duration("wait_duration", updated.WaitDuration),
			logging.Float64("speed", updated.Speed),
		)
	})

	recorder := render.NewRecorder(opts.history)
	health := control.NewHealthReporter()

	engine := core.NewSimulationEngine(cfg.Line, store,
		core.WithTickPeriod(cfg.Tick),
		core.WithRenderSurface(render.Fanout{recorder, render.NewLogSurface(log, cfg.LogFrameEvery)}),
		core.WithLogger(log),
		core.WithMetricsRecorder(collector),
		core.WithLifecycleListener(health.SetRunning),
	)

	api := control.NewServer(engine, store,
		control.WithRecorder(recorder),
		control.WithMetrics(collector),
		control.WithLogger(log),
	)
	httpSrv := serveHTTP(lis.http, "control API", api.Router(), log)
	metricsSrv := serveMetrics(lis.metrics, collector, log)

	grpcSrv := control.NewGRPCServer(health, collector, log)
	if lis.grpc != nil {
		go func() {
			if err := grpcSrv.Serve(lis.grpc); err != nil {
				log.Warn(context.Background(), "gRPC server exited", logging.Err(err))
			}
		}()
		log.Info(ctx, "serving gRPC health", logging.String("addr", lis.grpc.Addr().String()))
	}

	if !opts.paused {
		if err := engine.Start(ctx); err != nil {
			return err
		}
	}

	<-ctx.Done()
	log.Info(context.Background(), "shutting down conveyor simulator")

	if err := engine.Stop(context.Background()); err != nil && !errors.Is(err, core.ErrNotRunning) {
		log.Warn(context.Background(), "engine stop failed", logging.Err(err))
	}
	health.Shutdown()
	grpcSrv.GracefulStop()
	shutdownHTTP(context.Background(), httpSrv, metricsSrv)
	return nil
}
