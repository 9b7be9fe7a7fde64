package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestConsoleHandlerFormatsComponentAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	off := false
	logger, err := New(Options{Level: "debug", Writer: &buf, Color: &off})
	if err != nil {
		t.Fatal(err)
	}
	log := NewComponentLogger(logger, "hotplug")
	log.Info("card ready", Int("tries", 2), String("note", "two words"))

	line := buf.String()
	for _, want := range []string{"INFO", "[hotplug]", "card ready", "tries=2", `note="two words"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatal("colour disabled but escape codes present")
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Options{Level: "warn", Writer: &buf})
	logger.Info("hidden")
	logger.Warn("shown", Error(errors.New("boom")))
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "error=boom") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("registered", String(FieldClient, "menu"), Int(FieldPriority, 10))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json: %v (%q)", err, buf.String())
	}
	if rec["level"] != "info" || rec["client"] != "menu" || rec["ts"] == nil {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopAndNilComponent(t *testing.T) {
	l := NewComponentLogger(nil, "x")
	l.Error("discarded")
	if l.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("nop logger should be disabled")
	}
}
