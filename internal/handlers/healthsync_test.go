package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/events"
	"github.com/loykin/warden/internal/health"
)

func newTestPoller() *health.Poller {
	checker := health.NewChecker(200 * time.Millisecond)
	bus := events.NewBus(0)
	return health.NewPoller(checker, bus, time.Minute)
}

func testConfig() *config.File {
	f := &config.File{
		Services: []config.Service{
			{Name: "agent", Command: "/usr/bin/agent", Port: 8100, Enabled: true},
			{Name: "tools", Command: "/usr/bin/tools", Port: 8200, Enabled: true},
		},
	}
	f.ApplyDefaults()
	return f
}

func TestHealthSyncRegisterOnStarted(t *testing.T) {
	poller := newTestPoller()
	h := NewHealthSync(testConfig(), poller)

	evt := events.Event{Kind: events.KindStarted, Service: "agent", PID: 11, Port: 8100}
	if err := h.Handle(context.Background(), evt); err != nil {
		t.Fatalf("handle started: %v", err)
	}

	got := poller.Registered()
	if len(got) != 1 || got[0] != "agent" {
		t.Fatalf("expected [agent], got %v", got)
	}
}

func TestHealthSyncDeregisterOnStopped(t *testing.T) {
	poller := newTestPoller()
	cfg := testConfig()
	h := NewHealthSync(cfg, poller)

	svc, _ := cfg.ServiceByName("agent")
	poller.Register(svc)

	evt := events.Event{Kind: events.KindStopped, Service: "agent", Port: 8100}
	if err := h.Handle(context.Background(), evt); err != nil {
		t.Fatalf("handle stopped: %v", err)
	}
	if got := poller.Registered(); len(got) != 0 {
		t.Fatalf("expected no registered services, got %v", got)
	}
}

func TestHealthSyncDeregisterOnFailed(t *testing.T) {
	poller := newTestPoller()
	cfg := testConfig()
	h := NewHealthSync(cfg, poller)

	svc, _ := cfg.ServiceByName("tools")
	poller.Register(svc)

	evt := events.Event{Kind: events.KindFailed, Service: "tools", Port: 8200, Err: "spawn failed"}
	if err := h.Handle(context.Background(), evt); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if got := poller.Registered(); len(got) != 0 {
		t.Fatalf("expected no registered services, got %v", got)
	}
}

func TestHealthSyncUnknownServiceIgnored(t *testing.T) {
	poller := newTestPoller()
	h := NewHealthSync(testConfig(), poller)

	evt := events.Event{Kind: events.KindStarted, Service: "ghost", PID: 1}
	if err := h.Handle(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := poller.Registered(); len(got) != 0 {
		t.Fatalf("expected nothing registered, got %v", got)
	}
}

func TestHealthSyncHandlesKinds(t *testing.T) {
	h := NewHealthSync(testConfig(), newTestPoller())
	if h.Handles(events.KindHealth) {
		t.Fatal("health-sync must not consume health events")
	}
	if !h.Handles(events.KindStarted) || !h.Handles(events.KindStopped) {
		t.Fatal("health-sync must consume start and stop events")
	}
}
