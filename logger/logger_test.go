package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWithWriterFormats(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, slog.LevelInfo, "json")
	if err != nil {
		t.Fatalf("NewWithWriter() error = %v", err)
	}
	l.Debug("hidden")
	l.Info("Audio capture started", "run", 1)

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("output is not a single json record: %v\n%s", err, buf.String())
	}
	if rec["msg"] != "Audio capture started" || rec["run"] != float64(1) {
		t.Errorf("record = %v", rec)
	}

	if _, err := NewWithWriter(&buf, slog.LevelInfo, "xml"); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("unknown level accepted")
	}
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "soundwave.log")
	l, err := New(Config{Level: "info", Outputs: []string{path}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Info("Session closed")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Session closed") {
		t.Errorf("log file = %q", data)
	}
}
