package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestWritersWithDirOnly(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir}
	outW, errW, err := cfg.Writers("agent-core")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatalf("expected both writers non-nil when Dir is set")
	}
	_, _ = outW.Write([]byte("hello-out\n"))
	_, _ = errW.Write([]byte("hello-err\n"))
	closeIf(outW)
	closeIf(errW)

	if _, err := os.Stat(filepath.Join(dir, "agent-core.stdout.log")); err != nil {
		t.Fatalf("stdout log not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "agent-core.stderr.log")); err != nil {
		t.Fatalf("stderr log not created: %v", err)
	}
}

func TestWritersExplicitPaths(t *testing.T) {
	dir := t.TempDir()
	sp := filepath.Join(dir, "s.out.log")
	cfg := Config{StdoutPath: sp}
	outW, errW, err := cfg.Writers("ignored-name")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	if outW == nil {
		t.Fatalf("expected stdout writer for explicit path")
	}
	if errW != nil {
		t.Fatalf("expected no stderr writer without a destination")
	}
	_, _ = outW.Write([]byte("x"))
	closeIf(outW)
	if _, err := os.Stat(sp); err != nil {
		t.Fatalf("explicit stdout path not created: %v", err)
	}
}

func TestWritersDefaultsAndOverrides(t *testing.T) {
	outW, errW, _ := Config{}.Writers("n")
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers for empty config")
	}

	cfg := Config{StdoutPath: "x", StderrPath: "y"}
	outW, errW, _ = cfg.Writers("n")
	ol, ok := outW.(*lj.Logger)
	if !ok {
		t.Fatalf("stdout writer is not a lumberjack logger")
	}
	if ol.MaxSize != DefaultMaxSizeMB || ol.MaxBackups != DefaultMaxBackups || ol.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", ol.MaxSize, ol.MaxBackups, ol.MaxAge)
	}
	closeIf(outW)
	closeIf(errW)

	cfg = Config{StdoutPath: "x2", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}
	outW, _, _ = cfg.Writers("n")
	ol = outW.(*lj.Logger)
	if ol.MaxSize != 1 || ol.MaxBackups != 9 || ol.MaxAge != 11 || !ol.Compress {
		t.Fatalf("overrides not applied: size=%d backups=%d age=%d compress=%t",
			ol.MaxSize, ol.MaxBackups, ol.MaxAge, ol.Compress)
	}
	closeIf(outW)
}

func TestConfigured(t *testing.T) {
	if (Config{}).Configured() {
		t.Fatalf("empty config must not report configured")
	}
	if !(Config{Dir: "/tmp"}).Configured() {
		t.Fatalf("dir-only config must report configured")
	}
	if !(Config{StderrPath: "e.log"}).Configured() {
		t.Fatalf("stderr-only config must report configured")
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	log.Error("boom", "service", "agent-core")

	s := buf.String()
	if !strings.Contains(s, "ERROR") || !strings.Contains(s, "boom") {
		t.Fatalf("missing level or message in output: %q", s)
	}
	if !strings.Contains(s, "service=agent-core") {
		t.Fatalf("missing attribute in output: %q", s)
	}
	// The red marker survives either raw or quote-escaped.
	if !strings.Contains(s, "\x1b[31m") && !strings.Contains(s, `\x1b[31m`) {
		t.Fatalf("missing color marker in output: %q", s)
	}
}

func TestSetup(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	Setup(slog.LevelWarn, false)
	if slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info must be suppressed at warn level")
	}
	if !slog.Default().Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error must be enabled at warn level")
	}
}
