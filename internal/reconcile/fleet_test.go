package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/loykin/warden/internal/inspect"
)

func TestStartAllStartsEnabledOnly(t *testing.T) {
	dormant := enabledSvc("dormant", 8151)
	dormant.Enabled = false
	cfg := testFile(enabledSvc("alpha", 8152), dormant, enabledSvc("beta", 8153))
	life := &fakeLifecycle{}
	r, _, _ := newTestReconciler(t, cfg, life)
	r.observe = func(pid, port int) inspect.Observation {
		return inspect.Observation{PID: pid}
	}

	out := r.StartAll(context.Background())
	if len(out) != 2 || FailedOps(out) != 0 {
		t.Fatalf("outcomes = %+v", out)
	}
	if n := life.count("spawn"); n != 2 {
		t.Fatalf("spawn count = %d, want 2", n)
	}
	if life.count("spawn dormant") != 0 {
		t.Fatal("start-all woke a disabled service")
	}
}

func TestStartAllDependencyOrder(t *testing.T) {
	web := enabledSvc("web", 8154)
	web.Dependencies = []string{"db"}
	db := enabledSvc("db", 8155)
	life := &fakeLifecycle{}
	r, _, _ := newTestReconciler(t, testFile(web, db), life)
	r.observe = func(pid, port int) inspect.Observation {
		return inspect.Observation{PID: pid}
	}

	out := r.StartAll(context.Background())
	if FailedOps(out) != 0 {
		t.Fatalf("outcomes = %+v", out)
	}
	want := []string{"prepare 8155", "spawn db", "prepare 8154", "spawn web"}
	if got := life.callLog(); !equalStrings(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestStopAllReverseDependencyOrder(t *testing.T) {
	web := enabledSvc("web", 8156)
	web.Dependencies = []string{"db"}
	db := enabledSvc("db", 8157)
	life := &fakeLifecycle{}
	r, st, _ := newTestReconciler(t, testFile(web, db), life)
	seedRunning(t, st, "web", 51, 8156, 0)
	seedRunning(t, st, "db", 52, 8157, 0)
	r.observe = func(pid, port int) inspect.Observation {
		return inspect.Observation{PID: pid, ProcessExists: true, PortOwnerPID: pid, PortResponsive: true}
	}

	out := r.StopAll(context.Background())
	if len(out) != 2 || FailedOps(out) != 0 {
		t.Fatalf("outcomes = %+v", out)
	}
	// Dependents go down before what they depend on.
	want := []string{"terminate 51", "terminate 52"}
	if got := life.callLog(); !equalStrings(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestRestartAllBouncesHealthy(t *testing.T) {
	life := &fakeLifecycle{}
	r, st, _ := newTestReconciler(t, testFile(enabledSvc("agent", 8158)), life)
	seedRunning(t, st, "agent", 42, 8158, 0)
	r.observe = func(pid, port int) inspect.Observation {
		return inspect.Observation{PID: pid, ProcessExists: true, PortOwnerPID: pid, PortResponsive: true}
	}

	out := r.RestartAll(context.Background())
	if len(out) != 1 || FailedOps(out) != 0 {
		t.Fatalf("outcomes = %+v", out)
	}
	want := []string{"terminate 42", "wait-port 8158", "prepare 8158", "spawn agent"}
	if got := life.callLog(); !equalStrings(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestStartAllPartialFailure(t *testing.T) {
	life := &fakeLifecycle{spawnErr: map[string]error{"broken": errors.New("no such binary")}}
	cfg := testFile(enabledSvc("broken", 8159), enabledSvc("fine", 8160))
	r, _, _ := newTestReconciler(t, cfg, life)
	r.observe = func(pid, port int) inspect.Observation {
		return inspect.Observation{PID: pid}
	}

	out := r.StartAll(context.Background())
	if len(out) != 2 || FailedOps(out) != 1 {
		t.Fatalf("outcomes = %+v", out)
	}
	byName := make(map[string]error, len(out))
	for _, o := range out {
		byName[o.Service] = o.Err
	}
	if byName["broken"] == nil {
		t.Fatal("broken service should have failed")
	}
	if byName["fine"] != nil {
		t.Fatalf("healthy sibling failed: %v", byName["fine"])
	}
}
