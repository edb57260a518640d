package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewManager_Defaults(t *testing.T) {
	mgr, logger := NewManager(DefaultConfig())
	defer mgr.Close() //nolint:errcheck

	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if got := mgr.Config().Format; got != "auto" {
		t.Errorf("Format = %q, want %q", got, "auto")
	}
	if !logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info to be enabled")
	}
}

func TestManager_LevelSwap(t *testing.T) {
	var buf bytes.Buffer
	mgr, logger := newManager(Config{Level: "info", Format: "json"}, &buf)
	defer mgr.Close() //nolint:errcheck

	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug to be disabled")
	}

	mgr.Reconfigure(Config{Level: "debug", Format: "json"})
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug to be enabled after reconfigure")
	}

	mgr.Reconfigure(Config{Level: "error", Format: "json"})
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info to be disabled when level is error")
	}
}

func TestManager_FormatSwapKeepsDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	mgr, logger := newManager(Config{Level: "info", Format: "json"}, &buf)
	defer mgr.Close() //nolint:errcheck

	child := logger.With(slog.String("component", "merge"))
	child.Info("before")
	if !strings.Contains(buf.String(), `"component":"merge"`) {
		t.Fatalf("expected json output, got %q", buf.String())
	}

	buf.Reset()
	mgr.Reconfigure(Config{Level: "info", Format: "text"})
	child.Info("after")
	if !strings.Contains(buf.String(), "component=merge") {
		t.Errorf("expected text output after swap, got %q", buf.String())
	}
}

func TestSwappableHandler_SwapReachesNestedDerivedHandlers(t *testing.T) {
	var first, second bytes.Buffer
	h := NewSwappableHandler(slog.NewJSONHandler(&first, nil))
	logger := slog.New(h).
		With(slog.String("component", "collect")).
		WithGroup("fetch").
		With(slog.String("platform", "deezer"))

	logger.Info("one", slog.Int("attempt", 1))
	if !strings.Contains(first.String(), `"component":"collect","fetch":{"platform":"deezer","attempt":1}`) {
		t.Fatalf("unexpected json output %q", first.String())
	}

	h.Swap(slog.NewTextHandler(&second, nil))
	logger.Info("two", slog.Int("attempt", 2))
	if !strings.Contains(second.String(), "component=collect fetch.platform=deezer fetch.attempt=2") {
		t.Errorf("unexpected text output after swap %q", second.String())
	}
	if strings.Contains(first.String(), "two") {
		t.Errorf("old handler still received records: %q", first.String())
	}

	// Swapping back rebuilds the derived chain again.
	first.Reset()
	h.Swap(slog.NewJSONHandler(&first, nil))
	logger.Info("three")
	if !strings.Contains(first.String(), `"msg":"three","component":"collect"`) {
		t.Errorf("unexpected json output after second swap %q", first.String())
	}
}

func TestResolveFormat(t *testing.T) {
	var buf bytes.Buffer
	tests := []struct {
		in   string
		want string
	}{
		{"auto", "json"},
		{"text", "text"},
		{"json", "json"},
	}
	for _, tt := range tests {
		if got := resolveFormat(tt.in, &buf); got != tt.want {
			t.Errorf("resolveFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestManager_FileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "pipeline.log")

	var buf bytes.Buffer
	mgr, logger := newManager(Config{
		Level:          "info",
		Format:         "json",
		FilePath:       logFile,
		FileMaxSizeMB:  1,
		FileMaxFiles:   1,
		FileMaxAgeDays: 1,
	}, &buf)

	logger.Info("collect finished")

	if err := mgr.Close(); err != nil {
		t.Fatalf("closing manager: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !bytes.Contains(data, []byte("collect finished")) {
		t.Errorf("log file missing message: %q", data)
	}
	if buf.Len() == 0 {
		t.Error("expected primary output to receive the message too")
	}
}

func TestManager_CloseIdempotent(t *testing.T) {
	mgr, _ := newManager(DefaultConfig(), &bytes.Buffer{})
	if err := mgr.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in  string
		out slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"unknown", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.out {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.out)
		}
	}
}

func TestConfig_String(t *testing.T) {
	cfg := Config{Level: "info", Format: "json"}
	if s := cfg.String(); s != "level=info format=json" {
		t.Errorf("unexpected string: %s", s)
	}

	cfg.FilePath = "/var/log/artistdata.log"
	cfg.FileMaxSizeMB = 50
	cfg.FileMaxFiles = 5
	cfg.FileMaxAgeDays = 7
	want := "level=info format=json file=/var/log/artistdata.log max_size=50MB max_files=5 max_age=7d"
	if s := cfg.String(); s != want {
		t.Errorf("got %q, want %q", s, want)
	}
}
