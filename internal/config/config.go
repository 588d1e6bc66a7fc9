// Package config loads the simulator configuration from a YAML file, an
// optional .env file and CONVEYOR_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/conveyor-simulator/internal/params"
	"github.com/signalsfoundry/conveyor-simulator/model"
	"github.com/signalsfoundry/conveyor-simulator/timectrl"
)

// Config is the full host configuration.
type Config struct {
	Line       model.Line       `yaml:"line"`
	Parameters model.Parameters `yaml:"parameters"`
	Tick       time.Duration    `yaml:"tick"`

	HTTPAddr    string `yaml:"httpAddr"`
	GRPCAddr    string `yaml:"grpcAddr"`
	MetricsAddr string `yaml:"metricsAddr"`

	// LogFrameEvery controls how often the headless host logs a frame
	// summary, in ticks. Zero disables frame logging.
	LogFrameEvery int `yaml:"logFrameEvery"`
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		Line:          model.DefaultLine(),
		Parameters:    model.DefaultParameters(),
		Tick:          timectrl.DefaultTick,
		HTTPAddr:      ":8080",
		GRPCAddr:      ":50051",
		MetricsAddr:   ":9090",
		LogFrameEvery: 20,
	}
}

// Load builds a Config from defaults, the YAML file at path (optional) and
// the process environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the environment without overriding values already set. Missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from CONVEYOR_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CONVEYOR_TICK", &c.Tick},
		{"CONVEYOR_MOVE_DURATION", &c.Parameters.MoveDuration},
		{"CONVEYOR_WAIT_DURATION", &c.Parameters.WaitDuration},
	}
	for _, d := range durations {
		if v, ok := lookup(d.key); ok && v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", d.key, err))
				continue
			}
			*d.dst = parsed
		}
	}

	if v, ok := lookup("CONVEYOR_SPEED"); ok && v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CONVEYOR_SPEED: %w", err))
		} else {
			c.Parameters.Speed = parsed
		}
	}

	if v, ok := lookup("CONVEYOR_INTERLOCK"); ok && v != "" {
		il, err := model.ParseInterlock(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CONVEYOR_INTERLOCK: %w", err))
		} else {
			c.Line.Interlock = il
		}
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"CONVEYOR_HTTP_ADDR", &c.HTTPAddr},
		{"CONVEYOR_GRPC_ADDR", &c.GRPCAddr},
		{"CONVEYOR_METRICS_ADDR", &c.MetricsAddr},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok {
			*s.dst = v
		}
	}

	return errors.Join(errs...)
}

// Validate checks line geometry, the tick period and the parameters.
func (c Config) Validate() error {
	var errs []error
	if err := c.Line.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("line: %w", err))
	}
	if c.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be > 0, got %s", c.Tick))
	}
	if err := params.Validate(c.Parameters); err != nil {
		errs = append(errs, err)
	}
	if c.LogFrameEvery < 0 {
		errs = append(errs, fmt.Errorf("logFrameEvery must be >= 0, got %d", c.LogFrameEvery))
	}
	return errors.Join(errs...)
}
