package lifecycle

import (
	"context"
	"time"

	"github.com/loykin/warden/internal/inspect"
)

// Phase identifies one step of the graceful-termination escalation.
type Phase int

const (
	// PhaseIdle is the initial state before any signal was sent.
	PhaseIdle Phase = iota
	// PhaseSignaled means the graceful signal has been delivered.
	PhaseSignaled
	// PhaseWaiting means the machine is polling for voluntary exit.
	PhaseWaiting
	// PhaseConfirmed means the process exited within the grace window.
	PhaseConfirmed
	// PhaseEscalated means the grace window lapsed and a forced kill is due.
	PhaseEscalated
	// PhaseKilled means the forced kill was confirmed.
	PhaseKilled
	// PhaseGaveUp means the process survived even the forced kill.
	PhaseGaveUp
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSignaled:
		return "signaled"
	case PhaseWaiting:
		return "waiting"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseEscalated:
		return "escalated"
	case PhaseKilled:
		return "killed"
	case PhaseGaveUp:
		return "gave-up"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase ends the machine.
func (p Phase) Terminal() bool {
	return p == PhaseConfirmed || p == PhaseKilled || p == PhaseGaveUp
}

// Termination drives one process's two-phase shutdown: graceful signal,
// bounded wait for voluntary exit, forced kill with its own confirmation
// window. Each step is separately callable so its timeout behavior can be
// tested in isolation. Signals target the whole process group.
type Termination struct {
	PID      int
	Grace    time.Duration // voluntary-exit window after the graceful signal
	KillWait time.Duration // confirmation window after the forced kill
	Poll     time.Duration // liveness re-check interval

	phase Phase

	// probe and signal seams, overridable in tests
	alive func(pid int) bool
	term  func(pid int) error
	kill  func(pid int) error
}

func NewTermination(pid int, grace time.Duration) *Termination {
	return &Termination{
		PID:      pid,
		Grace:    grace,
		KillWait: DefaultKillWait,
		Poll:     DefaultPollInterval,
		phase:    PhaseIdle,
		alive:    inspect.ProcessExists,
		term:     signalTerm,
		kill:     signalKill,
	}
}

// CurrentPhase returns the machine's phase.
func (t *Termination) CurrentPhase() Phase { return t.phase }

// Signal sends the graceful termination signal. A process that is already
// gone moves the machine straight to Confirmed.
func (t *Termination) Signal() error {
	if !t.alive(t.PID) {
		t.phase = PhaseConfirmed
		return nil
	}
	err := t.term(t.PID)
	t.phase = PhaseSignaled
	return err
}

// Await polls for voluntary exit until the grace window lapses, moving to
// Confirmed when the process is gone and to Escalated when the window
// expires. Cancellation escalates immediately so Run can finish with a
// bounded forced kill instead of leaving the process half-stopped.
func (t *Termination) Await(ctx context.Context) Phase {
	t.phase = PhaseWaiting
	deadline := time.Now().Add(t.Grace)
	for {
		if !t.alive(t.PID) {
			t.phase = PhaseConfirmed
			return t.phase
		}
		if !time.Now().Before(deadline) {
			t.phase = PhaseEscalated
			return t.phase
		}
		select {
		case <-ctx.Done():
			t.phase = PhaseEscalated
			return t.phase
		case <-time.After(t.Poll):
		}
	}
}

// Kill sends the forced kill and confirms the exit within KillWait, ending
// in Killed or GaveUp.
func (t *Termination) Kill(ctx context.Context) Phase {
	_ = t.kill(t.PID)
	deadline := time.Now().Add(t.KillWait)
	for {
		if !t.alive(t.PID) {
			t.phase = PhaseKilled
			return t.phase
		}
		if !time.Now().Before(deadline) {
			t.phase = PhaseGaveUp
			return t.phase
		}
		select {
		case <-ctx.Done():
			t.phase = PhaseGaveUp
			return t.phase
		case <-time.After(t.Poll):
		}
	}
}

// Run drives the machine to a terminal phase and reports whether the
// process is confirmed gone.
func (t *Termination) Run(ctx context.Context) (bool, error) {
	err := t.Signal()
	if err != nil && t.alive(t.PID) {
		return false, err
	}
	if t.phase == PhaseConfirmed {
		return true, nil
	}
	if t.Await(ctx) == PhaseConfirmed {
		return true, nil
	}
	return t.Kill(ctx) == PhaseKilled, nil
}
