package state

import (
	"context"
	"errors"

	"github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/store"
)

// DesiredStatus is the administrative intent for a service, derived from
// its configured enabled flag each pass.
type DesiredStatus int

const (
	Disabled DesiredStatus = iota
	Enabled
)

func (d DesiredStatus) String() string {
	if d == Enabled {
		return "enabled"
	}
	return "disabled"
}

// DesiredFor derives the desired status from a service descriptor.
func DesiredFor(svc config.Service) DesiredStatus {
	if svc.Enabled {
		return Enabled
	}
	return Disabled
}

// Source is the live configuration registry the manager reads desired
// services from. *config.File satisfies it.
type Source interface {
	ValidServices() ([]config.Service, []error)
	ServiceByName(name string) (config.Service, bool)
}

// Manager reads desired state from the configuration source and persisted
// records from the store. It is strictly read-only: every store write flows
// through the database sync event handler.
type Manager struct {
	src Source
	st  store.Store
}

func NewManager(src Source, st store.Store) *Manager {
	return &Manager{src: src, st: st}
}

// DesiredServices returns the configured descriptors that pass validation,
// plus the validation errors for those that do not. A malformed descriptor
// skips only that service, never the fleet.
func (m *Manager) DesiredServices() ([]config.Service, []error) {
	return m.src.ValidServices()
}

// Service looks up a single descriptor by name.
func (m *Manager) Service(name string) (config.Service, bool) {
	return m.src.ServiceByName(name)
}

// PersistedRecord returns the stored record for name, or nil when none
// exists. Absence is a normal condition, not an error.
func (m *Manager) PersistedRecord(ctx context.Context, name string) (*store.Record, error) {
	rec, err := m.st.Get(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PersistedRecords returns all stored records keyed by name.
func (m *Manager) PersistedRecords(ctx context.Context) (map[string]store.Record, error) {
	recs, err := m.st.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]store.Record, len(recs))
	for _, r := range recs {
		out[r.Name] = r
	}
	return out, nil
}
