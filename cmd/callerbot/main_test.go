package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"callerbot/internal/config"
	"callerbot/internal/domain"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_WritesToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "callerbot.log")
	var stderr bytes.Buffer

	l, closeLog, err := newLogger(config.LogConfig{Level: "warn", File: logPath}, &stderr)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	l.Info("hidden")
	l.Warn("visible", "k", "v")
	closeLog()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), "visible") {
		t.Fatalf("unexpected log file content: %q", data)
	}
	if !strings.Contains(stderr.String(), "visible") {
		t.Fatalf("expected record on stderr too, got %q", stderr.String())
	}
}

func TestRenderUnit(t *testing.T) {
	unit := renderUnit("/usr/local/bin/callerbot", "/home/u/.callerbot/config.yaml")
	for _, want := range []string{
		"ExecStart=/usr/local/bin/callerbot run --config /home/u/.callerbot/config.yaml",
		"EnvironmentFile=-/home/u/.callerbot/env",
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("unit missing %q:\n%s", want, unit)
		}
	}
	if strings.Contains(unit, "{{") {
		t.Fatalf("unexpanded placeholder in unit:\n%s", unit)
	}
}

func TestInstallUnit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "systemd", "user")
	path, err := installUnit(dir, "/bin/callerbot", "/etc/callerbot.yaml")
	if err != nil {
		t.Fatalf("installUnit: %v", err)
	}
	if filepath.Base(path) != "callerbot.service" {
		t.Fatalf("unexpected unit path %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read unit: %v", err)
	}
	if !strings.Contains(string(data), "/bin/callerbot run") {
		t.Fatalf("unexpected unit content: %s", data)
	}
}

func TestPrintFailures(t *testing.T) {
	var buf bytes.Buffer
	printFailures(&buf, []domain.DeliveryFailure{{
		Channel:   "telegram",
		ChatID:    "100",
		Kind:      string(domain.DeliveryBlocked),
		Detail:    "Forbidden: bot was blocked by the user",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}})

	out := buf.String()
	if !strings.HasPrefix(out, "TIME") {
		t.Fatalf("missing header: %q", out)
	}
	if !strings.Contains(out, "2024-01-02T03:04:05Z") || !strings.Contains(out, `"Forbidden: bot was blocked by the user"`) {
		t.Fatalf("unexpected row: %q", out)
	}
}

func TestPrintYAML_MasksSecrets(t *testing.T) {
	cfg := config.Defaults()
	cfg.Telegram.Token = "123456:ABCDEFGHIJKLMNOP"

	var buf bytes.Buffer
	if err := printYAML(&buf, config.Sanitize(cfg)); err != nil {
		t.Fatalf("printYAML: %v", err)
	}
	if strings.Contains(buf.String(), "ABCDEFGHIJKLMNOP") {
		t.Fatalf("token leaked: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "region: IN") {
		t.Fatalf("expected region in output: %s", buf.String())
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	if r := report(&buf, checkFail, "Credentials", "missing IID"); r != checkFail {
		t.Fatalf("report should return its result, got %v", r)
	}
	if !strings.Contains(buf.String(), "[FAIL] Credentials") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
