package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gadgetcore/internal/logging"
	"gadgetcore/services/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInitThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "gadget.toml")

	out, err := execute(t, "config", "init", "--path", path)
	if err != nil {
		t.Fatalf("init: %v (%s)", err, out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	if _, err := execute(t, "config", "init", "--path", path); err == nil {
		t.Fatal("second init should refuse to overwrite")
	}

	out, err = execute(t, "--config", path, "config", "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") || strings.Contains(out, "did not exist") {
		t.Fatalf("validate output %q", out)
	}
}

func TestConfigValidateRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gadget.toml")
	if err := os.WriteFile(path, []byte("[hotplug]\ntries = 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "--config", path, "config", "validate"); err == nil {
		t.Fatal("invalid config accepted")
	}
}

func TestConfigShowPrintsEffectiveValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gadget.toml")
	if err := os.WriteFile(path, []byte("[display]\nborder = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "--config", path, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	var cfg config.Config
	if err := config.Parse([]byte(out), &cfg); err != nil {
		t.Fatalf("show output does not parse: %v\n%s", err, out)
	}
	if cfg.Display.Border != 2 {
		t.Fatalf("border %d", cfg.Display.Border)
	}
}

func TestParseSteps(t *testing.T) {
	steps, err := parseSteps([]string{"Insert", "wait=20ms", "cw"})
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 3 || steps[0].name != "insert" || steps[1].wait != 20*time.Millisecond {
		t.Fatalf("steps %+v", steps)
	}
	for _, bad := range []string{"jump", "wait=soon", "wait=-1s"} {
		if _, err := parseSteps([]string{bad}); err == nil {
			t.Fatalf("%q accepted", bad)
		}
	}
}

func TestScenarioReportsFinalState(t *testing.T) {
	cfg := config.Default()
	cfg.Display.BusyTailMs = -1

	var out bytes.Buffer
	steps, _ := parseSteps([]string{"insert", "wait=300ms", "cw", "cw"})
	if err := runScenario(t.Context(), cfg, logging.NewNop(), steps, 150*time.Millisecond, &out, false); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"Board: sim", "ready", "menu", `open at "blank"`} {
		if !strings.Contains(got, want) {
			t.Fatalf("report missing %q:\n%s", want, got)
		}
	}
}

func TestScenarioPowerOff(t *testing.T) {
	cfg := config.Default()
	cfg.Display.BusyTailMs = -1

	var out bytes.Buffer
	steps, _ := parseSteps([]string{"poweroff"})
	if err := runScenario(t.Context(), cfg, logging.NewNop(), steps, 50*time.Millisecond, &out, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Power-down: oled, matrix, needle, halt") {
		t.Fatalf("report:\n%s", out.String())
	}
}

func TestScenarioFlatBatteryPowersDown(t *testing.T) {
	cfg := config.Default()
	cfg.Display.BusyTailMs = -1

	var out bytes.Buffer
	steps, err := parseSteps([]string{"battery-low", "charge", "unplug", "battery-empty"})
	if err != nil {
		t.Fatal(err)
	}
	if err := runScenario(t.Context(), cfg, logging.NewNop(), steps, 20*time.Millisecond, &out, false); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Power-down: oled, matrix, needle, halt", "empty"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("report missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunRefusesSecondInstance(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "gadgetsim.lock")
	held := newTestLock(t, lockPath)
	defer held()

	_, err := execute(t, "run", "--lock", lockPath)
	if err == nil || !strings.Contains(err.Error(), "another gadgetsim") {
		t.Fatalf("err %v", err)
	}
}
