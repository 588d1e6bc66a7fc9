package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/internal/config"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/internal/params"
	"github.com/signalsfoundry/conveyor-simulator/internal/render"
)

func newTUICmd(f *rootFlags) *cobra.Command {
	var logPath string
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Run interactively in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd.Flags())
			if err != nil {
				return err
			}
			if env := os.Getenv("LOG_FILE"); env != "" && !cmd.Flags().Changed("log-file") {
				logPath = env
			}

			// The screen owns stdout, so logs go to a file.
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer logFile.Close()
			logCfg := logging.ConfigFromEnv()
			logCfg.Output = logFile
			log := logging.New(logCfg)

			screen, err := tcell.NewScreen()
			if err != nil {
				return err
			}
			if err := screen.Init(); err != nil {
				return err
			}
			defer screen.Fini()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTUI(ctx, cfg, log, screen)
		},
	}
	cmd.Flags().StringVar(&logPath, "log-file", "conveyor.log", "file that receives logs while the terminal UI is active")
	return cmd
}

// runTUI drives the engine from the terminal until the operator quits.
func runTUI(ctx context.Context, cfg config.Config, log logging.Logger, screen tcell.Screen) error {
	store, err := params.NewStore(cfg.Parameters)
	if err != nil {
		return err
	}

	view := render.NewTerminalSurface(screen, cfg.Line, store, render.WithTerminalLogger(log))
	engine := core.NewSimulationEngine(cfg.Line, store,
		core.WithTickPeriod(cfg.Tick),
		core.WithRenderSurface(view),
		core.WithLogger(log),
		core.WithLifecycleListener(view.SetRunning),
		core.WithMotorInteractionHandler(view.OpenDialog),
	)

	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := engine.Stop(context.Background()); err != nil && !errors.Is(err, core.ErrNotRunning) {
			log.Warn(context.Background(), "engine stop failed", logging.Err(err))
		}
	}()

	return view.Run(ctx, engine)
}
