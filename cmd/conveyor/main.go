package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/signalsfoundry/conveyor-simulator/internal/config"
	"github.com/signalsfoundry/conveyor-simulator/model"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootFlags are shared by every subcommand. Flags override the config file
// and environment only when set explicitly.
type rootFlags struct {
	configPath string
	envFiles   []string
	tick       time.Duration
	move       time.Duration
	wait       time.Duration
	speed      float64
	interlock  string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "conveyor",
		Short:         "Three-checkpoint pallet conveyor simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f.register(root.PersistentFlags())

	root.AddCommand(newRunCmd(f), newTUICmd(f), newSimulateCmd(f))
	return root
}

func (f *rootFlags) register(pf *pflag.FlagSet) {
	pf.StringVarP(&f.configPath, "config", "c", "", "path to a YAML config file")
	pf.StringSliceVar(&f.envFiles, "env-file", []string{".env"}, ".env files to load before reading CONVEYOR_* variables")
	pf.DurationVar(&f.tick, "tick", 0, "tick period (e.g. 50ms)")
	pf.DurationVar(&f.move, "move", 0, "move duration between checkpoints")
	pf.DurationVar(&f.wait, "wait", 0, "dwell duration at each checkpoint")
	pf.Float64Var(&f.speed, "speed", 0, "belt animation speed hint")
	pf.StringVar(&f.interlock, "interlock", "", "entry interlock policy: segment or entry")
}

// load resolves the configuration: defaults, then the YAML file, then .env
// and CONVEYOR_* variables, then explicitly set flags.
func (f *rootFlags) load(flags *pflag.FlagSet) (config.Config, error) {
	if err := config.LoadDotEnv(f.envFiles...); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := f.apply(&cfg, flags); err != nil {
		return config.Config{}, err
	}
	return cfg, cfg.Validate()
}

func (f *rootFlags) apply(cfg *config.Config, flags *pflag.FlagSet) error {
	if flags.Changed("tick") {
		cfg.Tick = f.tick
	}
	if flags.Changed("move") {
		cfg.Parameters.MoveDuration = f.move
	}
	if flags.Changed("wait") {
		cfg.Parameters.WaitDuration = f.wait
	}
	if flags.Changed("speed") {
		cfg.Parameters.Speed = f.speed
	}
	if flags.Changed("interlock") {
		il, err := model.ParseInterlock(f.interlock)
		if err != nil {
			return err
		}
		cfg.Line.Interlock = il
	}
	return nil
}
