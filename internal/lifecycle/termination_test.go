package lifecycle

import (
	"context"
	"testing"
	"time"
)

// fakeProc stands in for a real process during state machine tests.
type fakeProc struct {
	alive     bool
	termSent  int
	killSent  int
	dieOnTerm bool
	dieOnKill bool
}

func (f *fakeProc) hook(t *Termination) {
	t.alive = func(int) bool { return f.alive }
	t.term = func(int) error {
		f.termSent++
		if f.dieOnTerm {
			f.alive = false
		}
		return nil
	}
	t.kill = func(int) error {
		f.killSent++
		if f.dieOnKill {
			f.alive = false
		}
		return nil
	}
}

func newTestTermination(f *fakeProc, grace time.Duration) *Termination {
	tm := NewTermination(4242, grace)
	tm.Poll = time.Millisecond
	tm.KillWait = 50 * time.Millisecond
	f.hook(tm)
	return tm
}

func TestTerminationVoluntaryExit(t *testing.T) {
	f := &fakeProc{alive: true, dieOnTerm: true}
	tm := newTestTermination(f, 100*time.Millisecond)

	gone, err := tm.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !gone {
		t.Fatalf("expected process gone")
	}
	if got := tm.CurrentPhase(); got != PhaseConfirmed {
		t.Fatalf("phase = %v, want confirmed", got)
	}
	if f.termSent != 1 || f.killSent != 0 {
		t.Fatalf("signals sent term=%d kill=%d, want 1/0", f.termSent, f.killSent)
	}
}

func TestTerminationEscalatesToKill(t *testing.T) {
	f := &fakeProc{alive: true, dieOnKill: true}
	tm := newTestTermination(f, 20*time.Millisecond)

	gone, err := tm.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !gone {
		t.Fatalf("expected process gone after forced kill")
	}
	if got := tm.CurrentPhase(); got != PhaseKilled {
		t.Fatalf("phase = %v, want killed", got)
	}
	if f.termSent != 1 || f.killSent != 1 {
		t.Fatalf("signals sent term=%d kill=%d, want 1/1", f.termSent, f.killSent)
	}
}

func TestTerminationGivesUp(t *testing.T) {
	f := &fakeProc{alive: true}
	tm := newTestTermination(f, 20*time.Millisecond)
	tm.KillWait = 20 * time.Millisecond

	gone, err := tm.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if gone {
		t.Fatalf("immortal process must not be reported gone")
	}
	if got := tm.CurrentPhase(); got != PhaseGaveUp {
		t.Fatalf("phase = %v, want gave-up", got)
	}
}

func TestTerminationAlreadyDead(t *testing.T) {
	f := &fakeProc{alive: false}
	tm := newTestTermination(f, 50*time.Millisecond)

	if err := tm.Signal(); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if got := tm.CurrentPhase(); got != PhaseConfirmed {
		t.Fatalf("phase = %v, want confirmed without signaling", got)
	}
	if f.termSent != 0 {
		t.Fatalf("no signal expected for a dead process, got %d", f.termSent)
	}
}

func TestTerminationStepwise(t *testing.T) {
	f := &fakeProc{alive: true}
	tm := newTestTermination(f, 15*time.Millisecond)

	if err := tm.Signal(); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if got := tm.CurrentPhase(); got != PhaseSignaled {
		t.Fatalf("phase after signal = %v, want signaled", got)
	}

	if got := tm.Await(context.Background()); got != PhaseEscalated {
		t.Fatalf("await on a stubborn process = %v, want escalated", got)
	}

	f.dieOnKill = true
	if got := tm.Kill(context.Background()); got != PhaseKilled {
		t.Fatalf("kill = %v, want killed", got)
	}
}

func TestTerminationAwaitCancel(t *testing.T) {
	f := &fakeProc{alive: true}
	tm := newTestTermination(f, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := tm.Await(ctx); got != PhaseEscalated {
		t.Fatalf("canceled await = %v, want escalated", got)
	}
}

func TestPhaseStrings(t *testing.T) {
	want := map[Phase]string{
		PhaseIdle:      "idle",
		PhaseSignaled:  "signaled",
		PhaseWaiting:   "waiting",
		PhaseConfirmed: "confirmed",
		PhaseEscalated: "escalated",
		PhaseKilled:    "killed",
		PhaseGaveUp:    "gave-up",
	}
	for p, s := range want {
		if p.String() != s {
			t.Fatalf("phase %d string = %q, want %q", int(p), p.String(), s)
		}
	}
	if Phase(99).String() != "unknown" {
		t.Fatalf("unexpected string for out-of-range phase")
	}
}

func TestPhaseTerminal(t *testing.T) {
	for _, p := range []Phase{PhaseConfirmed, PhaseKilled, PhaseGaveUp} {
		if !p.Terminal() {
			t.Fatalf("phase %v must be terminal", p)
		}
	}
	for _, p := range []Phase{PhaseIdle, PhaseSignaled, PhaseWaiting, PhaseEscalated} {
		if p.Terminal() {
			t.Fatalf("phase %v must not be terminal", p)
		}
	}
}
