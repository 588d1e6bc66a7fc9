package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/conveyor-simulator/internal/config"
	"github.com/signalsfoundry/conveyor-simulator/internal/control"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/model"
)

func TestFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "line.yaml")
	if err := os.WriteFile(path, []byte("parameters:\n  moveDuration: 4s\ntick: 20ms\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	f := &rootFlags{}
	fs := pflag.NewFlagSet("conveyor", pflag.ContinueOnError)
	f.register(fs)
	args := []string{"--config", path, "--env-file", filepath.Join(dir, "none.env"), "--wait", "1s", "--interlock", "entry"}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := f.load(fs)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Parameters.MoveDuration != 4*time.Second {
		t.Fatalf("MoveDuration = %v, want 4s from file", cfg.Parameters.MoveDuration)
	}
	if cfg.Parameters.WaitDuration != time.Second {
		t.Fatalf("WaitDuration = %v, want 1s from flag", cfg.Parameters.WaitDuration)
	}
	if cfg.Tick != 20*time.Millisecond {
		t.Fatalf("Tick = %v, want 20ms from file", cfg.Tick)
	}
	if cfg.Line.Interlock != model.InterlockEntry {
		t.Fatalf("Interlock = %v, want entry from flag", cfg.Line.Interlock)
	}
	if cfg.Parameters.Speed != model.DefaultSpeed {
		t.Fatalf("Speed = %v, unset flag must not override", cfg.Parameters.Speed)
	}
}

func TestFlagsRejectBadInterlock(t *testing.T) {
	f := &rootFlags{}
	fs := pflag.NewFlagSet("conveyor", pflag.ContinueOnError)
	f.register(fs)
	if err := fs.Parse([]string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "--interlock", "sometimes"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := f.load(fs); err == nil {
		t.Fatalf("expected error for unknown interlock")
	}
}

func TestRootHasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "tui", "simulate"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %q missing: %v", name, err)
		}
	}
}

func TestSimulateReferenceCycle(t *testing.T) {
	cfg := config.Default()
	sum, err := simulate(context.Background(), cfg, time.Minute)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	// Segment interlock: a pallet is admitted every 13 s and each one spends
	// 21 s on the line.
	if sum.Ticks != 1200 || sum.Simulated != time.Minute {
		t.Fatalf("ticks=%d simulated=%v", sum.Ticks, sum.Simulated)
	}
	if sum.Admitted != 5 || sum.Exited != 4 {
		t.Fatalf("admitted=%d exited=%d, want 5 and 4", sum.Admitted, sum.Exited)
	}
	if sum.MeanCycle != 21*time.Second {
		t.Fatalf("mean cycle = %v, want 21s", sum.MeanCycle)
	}
	if sum.MaxActive != 2 {
		t.Fatalf("max active = %d, want 2", sum.MaxActive)
	}
	if len(sum.Pallets) != 1 || sum.Pallets[0].ID != 5 {
		t.Fatalf("final pallets = %+v", sum.Pallets)
	}
}

func TestSimulateHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := simulate(ctx, config.Default(), time.Minute); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestWriteSummaryFormats(t *testing.T) {
	sum, err := simulate(context.Background(), config.Default(), 6*time.Second)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	var y bytes.Buffer
	if err := writeSummary(&y, "yaml", sum); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !strings.Contains(y.String(), "simulated: 6s") || !strings.Contains(y.String(), "state: at_checkpoint_1") {
		t.Fatalf("yaml summary:\n%s", y.String())
	}

	var j bytes.Buffer
	if err := writeSummary(&j, "json", sum); err != nil {
		t.Fatalf("json: %v", err)
	}
	var decoded Summary
	if err := json.Unmarshal(j.Bytes(), &decoded); err != nil {
		t.Fatalf("decode json summary: %v", err)
	}
	if decoded.Ticks != sum.Ticks || decoded.Pallets[0].State != model.PalletAtCheckpoint1 {
		t.Fatalf("json round trip = %+v", decoded)
	}

	if err := writeSummary(&j, "xml", sum); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestWriteSummaryFormatsShareKeys(t *testing.T) {
	sum, err := simulate(context.Background(), config.Default(), 30*time.Second)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	var y, j bytes.Buffer
	if err := writeSummary(&y, "yaml", sum); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if err := writeSummary(&j, "json", sum); err != nil {
		t.Fatalf("json: %v", err)
	}
	var fromYAML, fromJSON map[string]any
	if err := yaml.Unmarshal(y.Bytes(), &fromYAML); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if err := json.Unmarshal(j.Bytes(), &fromJSON); err != nil {
		t.Fatalf("decode json: %v", err)
	}

	compareKeys(t, "summary", fromYAML, fromJSON)
	for _, nested := range []string{"flags", "signals"} {
		compareKeys(t, nested, fromYAML[nested].(map[string]any), fromJSON[nested].(map[string]any))
	}
	yp := fromYAML["pallets"].([]any)
	jp := fromJSON["pallets"].([]any)
	if len(yp) == 0 || len(yp) != len(jp) {
		t.Fatalf("pallets: yaml %d, json %d", len(yp), len(jp))
	}
	compareKeys(t, "pallet", yp[0].(map[string]any), jp[0].(map[string]any))
}

func compareKeys(t *testing.T, what string, a, b map[string]any) {
	t.Helper()
	keys := func(m map[string]any) []string {
		out := make([]string, 0, len(m))
		for k := range m {
			out = append(out, k)
		}
		sort.Strings(out)
		return out
	}
	if ka, kb := keys(a), keys(b); strings.Join(ka, ",") != strings.Join(kb, ",") {
		t.Fatalf("%s keys differ:\n yaml %v\n json %v", what, ka, kb)
	}
}

func TestRunHeadlessStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := config.Default()
	cfg.Tick = 5 * time.Millisecond
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.LogFrameEvery = 0

	lis, err := listenAll(cfg)
	if err != nil {
		t.Fatalf("listenAll: %v", err)
	}
	base := fmt.Sprintf("http://%s", lis.http.Addr())
	metricsURL := fmt.Sprintf("http://%s/metrics", lis.metrics.Addr())

	log := logging.New(logging.Config{Level: "warn"})
	errCh := make(chan error, 1)
	go func() { errCh <- runHeadless(ctx, cfg, runOptions{history: 8}, log, lis) }()

	var status control.StatusResponse
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			_ = json.NewDecoder(resp.Body).Decode(&status)
			resp.Body.Close()
			if status.Running {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !status.Running {
		t.Fatalf("engine never reported running")
	}

	resp, err := http.Get(metricsURL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	if !strings.Contains(body.String(), "conveyor_ticks_total") {
		t.Fatalf("/metrics missing conveyor_ticks_total")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runHeadless returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runHeadless did not return after cancel")
	}
}

func TestRunTUIQuitsOnCancel(t *testing.T) {
	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatalf("screen init: %v", err)
	}
	defer screen.Fini()
	screen.SetSize(100, 30)

	cfg := config.Default()
	cfg.Tick = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := runTUI(ctx, cfg, logging.Noop(), screen); err != nil {
		t.Fatalf("runTUI: %v", err)
	}
}

func TestRunAddrFlagsOverrideConfig(t *testing.T) {
	cmd := newRunCmd(&rootFlags{})
	if err := cmd.Flags().Parse([]string{"--http-addr", "127.0.0.1:18080", "--grpc-addr", ""}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	opts := runOptions{}
	opts.httpAddr, _ = cmd.Flags().GetString("http-addr")
	opts.grpcAddr, _ = cmd.Flags().GetString("grpc-addr")

	cfg := config.Default()
	opts.applyAddrs(&cfg, cmd.Flags())
	if cfg.HTTPAddr != "127.0.0.1:18080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr != "" {
		t.Fatalf("GRPCAddr = %q, want disabled", cfg.GRPCAddr)
	}
	if cfg.MetricsAddr != config.Default().MetricsAddr {
		t.Fatalf("MetricsAddr = %q, unset flag must not override", cfg.MetricsAddr)
	}
}
