package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/wifi-roaming-sim/internal/config"
	"github.com/signalsfoundry/wifi-roaming-sim/internal/trace"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "absent.env")))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRunThenReport(t *testing.T) {
	dir := t.TempDir()
	out, logs, err := execute(t, "run",
		"--stations", "1",
		"--sim-time", "20",
		"--output-dir", dir,
		"--log-format", "json",
	)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, logs)
	}
	if !strings.Contains(out, "roaming scenario") || !strings.Contains(out, "handovers") {
		t.Fatalf("run output missing summary:\n%s", out)
	}
	if !strings.Contains(logs, `"msg":"simulation finished"`) {
		t.Fatalf("json logs missing completion record:\n%s", logs)
	}
	for _, name := range []string{trace.HandoverFile, trace.SignalFile, trace.FlowFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("trace %s: %v", name, err)
		}
	}

	report, _, err := execute(t, "report", "--dir", dir)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(report, "=== Association ===") {
		t.Fatalf("report output:\n%s", report)
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(t.TempDir(), "run.yaml")
	body := "stations: 3\nsim_time: 2\noutput:\n  dir: " + dir + "\n  csv: true\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, logs, err := execute(t, "run", "--config", path, "--stations", "1"); err != nil {
		t.Fatalf("run: %v\n%s", err, logs)
	}

	samples, err := trace.ReadSignalLog(filepath.Join(dir, trace.SignalFile))
	if err != nil {
		t.Fatalf("ReadSignalLog: %v", err)
	}
	stations := map[int]bool{}
	for _, s := range samples {
		stations[int(s.StationID)] = true
	}
	if len(stations) != 1 {
		t.Fatalf("sampled stations = %v, want exactly one", stations)
	}
}

func TestRunRejectsInvalidFlags(t *testing.T) {
	_, _, err := execute(t, "run", "--speed", "-1", "--no-csv")
	if !errors.Is(err, config.ErrInvalidConfiguration) {
		t.Fatalf("run error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestReportMissingDir(t *testing.T) {
	if _, _, err := execute(t, "report", "--dir", filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("report on a missing directory succeeded")
	}
}

func TestConfigCommandPrintsDefaults(t *testing.T) {
	out, _, err := execute(t, "config", "--scenario", "saturation", "--format", "json")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("decode config output: %v\n%s", err, out)
	}
	if cfg.Scenario != config.ScenarioSaturation || cfg.FixedStations != 5 {
		t.Fatalf("config = %+v", cfg)
	}

	if _, _, err := execute(t, "config", "--format", "toml"); err == nil {
		t.Fatalf("unknown format accepted")
	}
}

func TestEnvFileSetsLogLevel(t *testing.T) {
	env := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(env, []byte("LOG_LEVEL=error\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("LOG_LEVEL") })

	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs([]string{"run", "--sim-time", "1", "--stations", "1", "--no-csv", "--env-file", env})
	if err := root.Execute(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Contains(stderr.String(), "simulation finished") {
		t.Fatalf("info logs written despite LOG_LEVEL=error:\n%s", stderr.String())
	}
}
