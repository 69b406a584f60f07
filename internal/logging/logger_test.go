package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"debug", DebugLevel, true},
		{"INFO", InfoLevel, true},
		{"", InfoLevel, true},
		{"warning", WarnLevel, true},
		{"error", ErrorLevel, true},
		{"loud", InfoLevel, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if got != tt.want || (err == nil) != tt.ok {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestRedact(t *testing.T) {
	args := redact([]interface{}{"host", "10.0.0.2", "api_secret", "abc", "Password", "hunter2", 42, "x"})
	if args[1] != "10.0.0.2" {
		t.Errorf("host should not be redacted: %v", args[1])
	}
	if args[3] != "[REDACTED]" || args[5] != "[REDACTED]" {
		t.Errorf("sensitive values leaked: %v", args)
	}
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mokactl.log")
	logger, err := NewLogger(Config{Level: InfoLevel, Format: "json", Output: path, Component: "test"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.WithComponent("transport").Info("Connection state change", "to", "ready")
	logger.Debug("filtered out")
	if err := logger.LogOperation("probe", func() error { return errors.New("unreachable") }); err == nil {
		t.Fatal("LogOperation should return the operation's error")
	}
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"component":"transport"`) {
		t.Errorf("component field missing: %s", out)
	}
	if strings.Contains(out, "filtered out") {
		t.Errorf("debug entry written at info level: %s", out)
	}
	if !strings.Contains(out, "unreachable") {
		t.Errorf("operation failure missing: %s", out)
	}

	logger.SetLevel(DebugLevel)
	logger.Debug("now visible")
	_ = logger.Sync()
	data, _ = os.ReadFile(path)
	if !strings.Contains(string(data), "now visible") {
		t.Error("SetLevel should enable debug entries")
	}
}

func TestDerivedLoggersCarryFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := wrap(zap.New(core), zap.NewAtomicLevelAt(zapcore.DebugLevel), "")
	if got := logger.Component(); got != "" {
		t.Errorf("Component() = %q, want empty", got)
	}

	cfg := logger.WithComponent("config")
	if got := cfg.Component(); got != "config" {
		t.Errorf("Component() = %q, want config", got)
	}
	withFields := cfg.WithFields(map[string]interface{}{"profile": "mock", "token": "abc"})
	if got := withFields.Component(); got != "config" {
		t.Errorf("WithFields dropped the component: %q", got)
	}
	withFields.LogConfigError("parse", errors.New("bad yaml"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Message != "Configuration error" || entry.Level != zapcore.ErrorLevel {
		t.Errorf("entry = %s %q", entry.Level, entry.Message)
	}
	fields := entry.ContextMap()
	want := map[string]interface{}{
		"component": "config",
		"profile":   "mock",
		"token":     "[REDACTED]",
		"operation": "parse",
		"error":     "bad yaml",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %s = %v, want %v", k, fields[k], v)
		}
	}
}

func TestLogOperation(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := wrap(zap.New(core), zap.NewAtomicLevelAt(zapcore.DebugLevel), "recording")

	if err := logger.LogOperation("upload_recording", func() error { return nil }); err != nil {
		t.Fatalf("LogOperation() error = %v", err)
	}
	boom := errors.New("broken pipe")
	if err := logger.LogOperation("upload_recording", func() error { return boom }); err != boom {
		t.Fatalf("LogOperation() error = %v, want %v", err, boom)
	}

	if n := logs.FilterMessage("Operation completed").Len(); n != 1 {
		t.Errorf("completed entries = %d, want 1", n)
	}
	failed := logs.FilterMessage("Operation failed").All()
	if len(failed) != 1 || failed[0].ContextMap()["operation"] != "upload_recording" {
		t.Errorf("failed entries = %+v", failed)
	}
}

func TestSetGlobalLogger(t *testing.T) {
	prev := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(prev) })

	nop := NewNopLogger()
	SetGlobalLogger(nop)
	if GetGlobalLogger() != nop {
		t.Fatal("GetGlobalLogger() did not return the installed logger")
	}
	if got := GetConfigLogger().Component(); got != "config" {
		t.Errorf("GetConfigLogger().Component() = %q, want config", got)
	}
	GetHistoryLogger().Info("discarded")
}

func TestNewTestLogger(t *testing.T) {
	logger := NewTestLogger(t)
	logger.WithField("attempt", 1).LogStateChange("idle", "connecting", 1, nil)
	logger.LogConnectionFailure("127.0.0.1:1", errors.New("refused"), 0)
}
