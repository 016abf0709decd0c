package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/warden/internal/events"
	"github.com/loykin/warden/internal/store"
	"github.com/loykin/warden/internal/store/sqlite"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func handle(t *testing.T, h *DBSync, evt events.Event) {
	t.Helper()
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	if err := h.Handle(context.Background(), evt); err != nil {
		t.Fatalf("handle %s: %v", evt.Kind, err)
	}
}

func TestDBSyncStartedWritesRunning(t *testing.T) {
	st := newTestStore(t)
	h := NewDBSync(st)

	handle(t, h, events.Event{Kind: events.KindStarted, Service: "agent", PID: 4242, Port: 8100})

	rec, err := st.Get(context.Background(), "agent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != store.StatusRunning || rec.PID != 4242 || rec.Port != 8100 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestDBSyncStoppedClearsPID(t *testing.T) {
	st := newTestStore(t)
	h := NewDBSync(st)

	handle(t, h, events.Event{Kind: events.KindStarted, Service: "agent", PID: 4242, Port: 8100})
	handle(t, h, events.Event{Kind: events.KindStopped, Service: "agent", PID: 4242, Port: 8100})

	rec, err := st.Get(context.Background(), "agent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != store.StatusStopped {
		t.Fatalf("expected stopped, got %s", rec.Status)
	}
	if rec.PID != 0 {
		t.Fatalf("expected PID cleared, got %d", rec.PID)
	}
}

func TestDBSyncFailedMarksFailed(t *testing.T) {
	st := newTestStore(t)
	h := NewDBSync(st)

	handle(t, h, events.Event{Kind: events.KindFailed, Service: "agent", Port: 8100, Err: "spawn failed"})

	rec, err := st.Get(context.Background(), "agent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != store.StatusFailed || rec.PID != 0 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestDBSyncRecordCleanedResetsRow(t *testing.T) {
	st := newTestStore(t)
	h := NewDBSync(st)

	handle(t, h, events.Event{Kind: events.KindStarted, Service: "agent", PID: 9999, Port: 8100})
	handle(t, h, events.Event{Kind: events.KindRecordCleaned, Service: "agent", PID: 9999, Port: 8100})

	rec, err := st.Get(context.Background(), "agent")
	if err != nil {
		t.Fatalf("get after clean: %v", err)
	}
	if rec.ClaimsRunning() {
		t.Fatalf("cleaned record still claims running: %+v", rec)
	}
	if rec.Status != store.StatusStopped || rec.PID != 0 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestDBSyncHealthUpdatesStreak(t *testing.T) {
	st := newTestStore(t)
	h := NewDBSync(st)

	handle(t, h, events.Event{Kind: events.KindStarted, Service: "agent", PID: 4242, Port: 8100})
	at := time.Now().UTC().Truncate(time.Second)
	handle(t, h, events.Event{Kind: events.KindHealth, Service: "agent", Health: "unreachable", Failures: 2, At: at})

	rec, err := st.Get(context.Background(), "agent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.HealthFailures != 2 {
		t.Fatalf("expected 2 failures, got %d", rec.HealthFailures)
	}
	if rec.LastHealthCheck.IsZero() {
		t.Fatal("expected last health check to be set")
	}
	// Health bookkeeping must not disturb the lifecycle fields.
	if rec.Status != store.StatusRunning || rec.PID != 4242 {
		t.Fatalf("health write touched lifecycle fields: %+v", rec)
	}
}

func TestDBSyncHealthWithoutRecordIsIgnored(t *testing.T) {
	st := newTestStore(t)
	h := NewDBSync(st)

	// No record exists; the probe raced a cleanup. Must not error.
	handle(t, h, events.Event{Kind: events.KindHealth, Service: "ghost", Failures: 1})
}

func TestDBSyncHandlesKinds(t *testing.T) {
	h := NewDBSync(newTestStore(t))
	for _, k := range []events.Kind{events.KindStarted, events.KindStopped, events.KindFailed, events.KindRecordCleaned, events.KindHealth} {
		if !h.Handles(k) {
			t.Fatalf("expected db-sync to handle %s", k)
		}
	}
	for _, k := range []events.Kind{events.KindProcessCleaned, events.KindRecordDeleted} {
		if h.Handles(k) {
			t.Fatalf("db-sync must not handle %s", k)
		}
	}
}
