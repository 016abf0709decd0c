package lifecycle

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/warden/internal/inspect"
	"github.com/loykin/warden/internal/logger"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix-only test")
	}
}

func TestSpawnMissingBinary(t *testing.T) {
	m := NewManager()
	_, err := m.Spawn(context.Background(), SpawnSpec{Name: "ghost", Command: "definitely-not-a-real-binary-zz"})
	if err == nil {
		t.Fatalf("expected spawn failure for missing binary")
	}
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SpawnError, got %T: %v", err, err)
	}
	if se.Service != "ghost" {
		t.Fatalf("spawn error service = %q, want ghost", se.Service)
	}
}

func TestSpawnEmptyCommand(t *testing.T) {
	m := NewManager()
	_, err := m.Spawn(context.Background(), SpawnSpec{Name: "empty"})
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SpawnError for empty command, got %v", err)
	}
}

func TestSpawnAndTerminate(t *testing.T) {
	requireUnix(t)
	m := NewManager()
	ctx := context.Background()

	pid, err := m.Spawn(ctx, SpawnSpec{Name: "sleeper", Command: "sleep 5"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !inspect.ProcessExists(pid) {
		t.Fatalf("expected pid %d alive after spawn", pid)
	}

	gone, err := m.TerminateGracefully(ctx, pid, 2*time.Second)
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if !gone {
		t.Fatalf("expected sleeper to be gone")
	}

	deadline := time.Now().Add(2 * time.Second)
	for inspect.ProcessExists(pid) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if inspect.ProcessExists(pid) {
		t.Fatalf("pid %d still alive after terminate", pid)
	}
}

func TestTerminateStubbornProcess(t *testing.T) {
	requireUnix(t)
	m := NewManager()
	ctx := context.Background()

	// The shell ignores TERM; only the forced kill ends it.
	pid, err := m.Spawn(ctx, SpawnSpec{
		Name:    "stubborn",
		Command: `sh -c 'trap "" TERM; while true; do sleep 0.05; done'`,
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	grace := 300 * time.Millisecond
	start := time.Now()
	gone, err := m.TerminateGracefully(ctx, pid, grace)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if !gone {
		t.Fatalf("expected forced kill to succeed")
	}
	if elapsed < grace {
		t.Fatalf("terminate returned in %v, before the %v grace window", elapsed, grace)
	}
}

func TestTerminateGracefullyNoPID(t *testing.T) {
	m := NewManager()
	gone, err := m.TerminateGracefully(context.Background(), 0, time.Second)
	if err != nil || !gone {
		t.Fatalf("pid 0 must be a no-op success, got gone=%t err=%v", gone, err)
	}
}

func TestWaitForPortFreeTimeout(t *testing.T) {
	m := NewManager()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	err = m.WaitForPortFree(context.Background(), port, 3, 20*time.Millisecond)
	var pt *PortTimeout
	if !errors.As(err, &pt) {
		t.Fatalf("expected *PortTimeout, got %v", err)
	}
	if pt.Port != port || pt.Attempts != 3 {
		t.Fatalf("timeout detail port=%d attempts=%d, want %d/3", pt.Port, pt.Attempts, port)
	}
}

func TestWaitForPortFreeReleased(t *testing.T) {
	m := NewManager()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	if err := m.WaitForPortFree(context.Background(), port, 5, 20*time.Millisecond); err != nil {
		t.Fatalf("expected freed port, got %v", err)
	}
}

func TestWaitForPortFreeCancel(t *testing.T) {
	m := NewManager()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = m.WaitForPortFree(ctx, port, 10, 50*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPreparePortAlreadyFree(t *testing.T) {
	m := NewManager()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	if err := m.PreparePort(context.Background(), port, time.Second); err != nil {
		t.Fatalf("prepare free port: %v", err)
	}
}

func TestSpawnWritesChildLogs(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	m := NewManager()

	pid, err := m.Spawn(context.Background(), SpawnSpec{
		Name:    "echoer",
		Command: `sh -c 'echo hello-out; echo hello-err 1>&2'`,
		Log:     logger.Config{Dir: dir},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	if done := m.Reaped(pid); done != nil {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatalf("echoer was not reaped in time")
		}
	}

	out, err := os.ReadFile(filepath.Join(dir, "echoer.stdout.log"))
	if err != nil {
		t.Fatalf("stdout log: %v", err)
	}
	if !strings.Contains(string(out), "hello-out") {
		t.Fatalf("stdout log missing output: %q", out)
	}
	errB, err := os.ReadFile(filepath.Join(dir, "echoer.stderr.log"))
	if err != nil {
		t.Fatalf("stderr log: %v", err)
	}
	if !strings.Contains(string(errB), "hello-err") {
		t.Fatalf("stderr log missing output: %q", errB)
	}
}

func TestSpawnReapsExitedChild(t *testing.T) {
	requireUnix(t)
	m := NewManager()

	pid, err := m.Spawn(context.Background(), SpawnSpec{Name: "quick", Command: "sleep 0.1"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	done := m.Reaped(pid)
	if done == nil {
		t.Fatalf("expected reap channel for child pid %d", pid)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("child was not reaped in time")
	}
	if inspect.ProcessExists(pid) {
		t.Fatalf("reaped child %d still reported alive", pid)
	}
}
