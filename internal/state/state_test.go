package state

import (
	"context"
	"testing"

	"github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/store"
	"github.com/loykin/warden/internal/store/sqlite"
)

func enabledSvc(name string, port int) config.Service {
	return config.Service{Name: name, Command: "sleep 1", Port: port, Enabled: true}
}

func newTestManager(t *testing.T, services ...config.Service) (*Manager, store.Store) {
	t.Helper()
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return NewManager(&config.File{Services: services}, db), db
}

func TestDesiredServicesSkipsBroken(t *testing.T) {
	broken := config.Service{Name: "broken", Port: 9001} // no command
	m, _ := newTestManager(t, enabledSvc("agent-core", 9000), broken)

	svcs, errs := m.DesiredServices()
	if len(svcs) != 1 || svcs[0].Name != "agent-core" {
		t.Fatalf("valid services: %+v", svcs)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 validation error, got %v", errs)
	}

	if _, ok := m.Service("agent-core"); !ok {
		t.Fatalf("lookup failed")
	}
	if _, ok := m.Service("ghost"); ok {
		t.Fatalf("ghost lookup succeeded")
	}
}

func TestPersistedRecordAbsence(t *testing.T) {
	m, _ := newTestManager(t, enabledSvc("agent-core", 9000))
	ctx := context.Background()

	rec, err := m.PersistedRecord(ctx, "agent-core")
	if err != nil {
		t.Fatalf("absence must not be an error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestPersistedRecordRoundTrip(t *testing.T) {
	m, st := newTestManager(t, enabledSvc("agent-core", 9000))
	ctx := context.Background()

	want := store.Record{Name: "agent-core", Status: store.StatusRunning, PID: 321, Port: 9000}
	if err := st.Upsert(ctx, want); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rec, err := m.PersistedRecord(ctx, "agent-core")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil || rec.PID != 321 || rec.Status != store.StatusRunning {
		t.Fatalf("unexpected record: %+v", rec)
	}

	all, err := m.PersistedRecords(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all["agent-core"].PID != 321 {
		t.Fatalf("unexpected map: %+v", all)
	}
}
