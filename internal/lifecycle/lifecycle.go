package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loykin/warden/internal/inspect"
	"github.com/loykin/warden/internal/logger"
)

// Poll and retry defaults for port release and kill confirmation.
const (
	DefaultPortRetries    = 10
	DefaultPortRetryDelay = 500 * time.Millisecond
	DefaultGrace          = 5 * time.Second
	DefaultKillWait       = 500 * time.Millisecond
	DefaultPollInterval   = 20 * time.Millisecond
)

// SpawnSpec describes one service process to launch. Env is the fully merged
// environment for the child; when empty the parent environment is inherited.
type SpawnSpec struct {
	Name    string
	Command string
	WorkDir string
	Env     []string
	Log     logger.Config
}

// SpawnError reports a service start that could not produce a live process.
type SpawnError struct {
	Service string
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Service, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// PortTimeout reports a port that stayed occupied past the polling budget.
type PortTimeout struct {
	Port     int
	Attempts int
	Waited   time.Duration
}

func (e *PortTimeout) Error() string {
	return fmt.Sprintf("port %d still occupied after %d checks over %s", e.Port, e.Attempts, e.Waited)
}

// Manager spawns service processes and drives their termination. Methods are
// safe for concurrent use. Spawned children are placed in their own process
// group and reaped by a per-child goroutine so exited services never linger
// as zombies.
type Manager struct {
	mu       sync.Mutex
	children map[int]chan struct{} // pid -> closed when reaped
}

func NewManager() *Manager {
	return &Manager{children: make(map[int]chan struct{})}
}

// Spawn validates and starts the service process described by spec and
// returns its PID. Failures are reported as *SpawnError.
func (m *Manager) Spawn(ctx context.Context, spec SpawnSpec) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &SpawnError{Service: spec.Name, Command: spec.Command, Err: err}
	}
	if err := ValidateCommand(spec.Command); err != nil {
		return 0, &SpawnError{Service: spec.Name, Command: spec.Command, Err: err}
	}

	cmd := BuildCommand(spec.Command)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}
	configureSysProcAttr(cmd)

	var outW, errW io.WriteCloser
	if spec.Log.Configured() {
		if spec.Log.Dir != "" {
			_ = os.MkdirAll(spec.Log.Dir, 0o750)
		}
		outW, errW, _ = spec.Log.Writers(spec.Name)
	}
	if outW != nil {
		cmd.Stdout = outW
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if errW != nil {
		cmd.Stderr = errW
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}

	if err := cmd.Start(); err != nil {
		closeWriters(outW, errW)
		return 0, &SpawnError{Service: spec.Name, Command: spec.Command, Err: err}
	}
	pid := cmd.Process.Pid

	done := make(chan struct{})
	m.mu.Lock()
	m.children[pid] = done
	m.mu.Unlock()

	go func() {
		err := cmd.Wait()
		closeWriters(outW, errW)
		m.mu.Lock()
		delete(m.children, pid)
		m.mu.Unlock()
		close(done)
		if err != nil && !isExpectedShutdown(err) {
			slog.Debug("service process exited", "service", spec.Name, "pid", pid, "err", err)
		}
	}()

	slog.Info("spawned service", "service", spec.Name, "pid", pid)
	return pid, nil
}

// TerminateGracefully runs the two-phase shutdown for pid: graceful signal,
// bounded wait for voluntary exit, forced kill on escalation. It reports
// whether the process is confirmed gone. The call blocks up to
// grace + kill-wait; callers must budget for that.
func (m *Manager) TerminateGracefully(ctx context.Context, pid int, grace time.Duration) (bool, error) {
	if pid <= 0 {
		return true, nil
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	t := NewTermination(pid, grace)
	gone, err := t.Run(ctx)
	switch t.CurrentPhase() {
	case PhaseKilled:
		slog.Warn("service did not exit in grace window, killed", "pid", pid, "grace", grace)
	case PhaseGaveUp:
		slog.Error("service survived forced kill", "pid", pid)
	}
	return gone, err
}

// WaitForPortFree polls the port at delay intervals up to maxRetries times
// and returns *PortTimeout when the budget is exhausted. The first check
// happens immediately.
func (m *Manager) WaitForPortFree(ctx context.Context, port, maxRetries int, delay time.Duration) error {
	if maxRetries <= 0 {
		maxRetries = DefaultPortRetries
	}
	if delay <= 0 {
		delay = DefaultPortRetryDelay
	}
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if portFree(port) {
			return nil
		}
	}
	return &PortTimeout{Port: port, Attempts: maxRetries, Waited: time.Duration(maxRetries-1) * delay}
}

// PreparePort best-effort clears a port before a fresh bind. A live owner is
// gracefully terminated and the release awaited.
func (m *Manager) PreparePort(ctx context.Context, port int, grace time.Duration) error {
	owner, ok := inspect.OwnerOfPort(port)
	if !ok && !inspect.PortResponsive(port) {
		return nil
	}
	if ok {
		slog.Warn("clearing port before bind", "port", port, "owner_pid", owner)
		if _, err := m.TerminateGracefully(ctx, owner, grace); err != nil {
			return err
		}
	}
	return m.WaitForPortFree(ctx, port, 0, 0)
}

// Reaped returns the channel closed once the given child PID has been
// reaped, or nil when the PID is not a tracked child.
func (m *Manager) Reaped(pid int) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.children[pid]
}

func portFree(port int) bool {
	if inspect.PortResponsive(port) {
		return false
	}
	_, owned := inspect.OwnerOfPort(port)
	return !owned
}

func closeWriters(ws ...io.WriteCloser) {
	for _, w := range ws {
		if w != nil {
			_ = w.Close()
		}
	}
}
