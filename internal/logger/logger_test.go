package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestInitWriter_JSONWithService(t *testing.T) {
	var buf bytes.Buffer
	l := InitWriter(&buf, "cyclescan", slog.LevelInfo)
	l.Debug("hidden")
	l.Info("cycle closed", "cycle_id", 2)

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "cyclescan" || line["msg"] != "cycle closed" {
		t.Errorf("line = %v", line)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warning": slog.LevelWarn,
		"error": slog.LevelError, "": slog.LevelInfo, "verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRunID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if id := RunID(ctx); id != "" {
		t.Errorf("expected empty run id, got %q", id)
	}
	if attrs := LogWithRun(ctx); attrs != nil {
		t.Errorf("expected nil attrs when no run id, got %v", attrs)
	}

	ctx = WithRunID(ctx, "NIFTY-1")
	if id := RunID(ctx); id != "NIFTY-1" {
		t.Errorf("expected 'NIFTY-1', got %q", id)
	}
	if attrs := LogWithRun(ctx); len(attrs) != 1 {
		t.Fatalf("expected one attr, got %v", attrs)
	}
}

func TestNewRunID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	id := NewRunID("NIFTY", ts)
	if !strings.HasPrefix(id, "NIFTY-") || !strings.Contains(id, "123456789") {
		t.Errorf("unexpected run id %s", id)
	}
}
