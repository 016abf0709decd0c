// Package handlers holds the event subscribers that turn bus events into
// side effects: persisting records, steering the health poller, feeding
// metrics, writing the journal, and running operator hooks. Handlers are
// independent; each runs on its own bus queue.
package handlers

import (
	"context"
	"errors"

	"github.com/loykin/warden/internal/events"
	"github.com/loykin/warden/internal/store"
)

// DBSync persists lifecycle events into the service record store. It is the
// only component that writes record status; the reconciler and operator
// surfaces publish events and read.
type DBSync struct {
	st store.Store
}

func NewDBSync(st store.Store) *DBSync {
	return &DBSync{st: st}
}

func (h *DBSync) Name() string { return "db-sync" }

func (h *DBSync) Handles(kind events.Kind) bool {
	switch kind {
	case events.KindStarted, events.KindStopped, events.KindFailed,
		events.KindRecordCleaned, events.KindHealth:
		return true
	}
	return false
}

// Handle maps one event onto one record write. Events for the same service
// arrive in publish order on this handler's queue, so the last write wins
// the way the event stream says it should.
func (h *DBSync) Handle(ctx context.Context, evt events.Event) error {
	switch evt.Kind {
	case events.KindStarted:
		return h.st.Upsert(ctx, store.Record{
			Name:   evt.Service,
			Status: store.StatusRunning,
			PID:    evt.PID,
			Port:   evt.Port,
		})
	case events.KindStopped:
		return h.st.Upsert(ctx, store.Record{
			Name:   evt.Service,
			Status: store.StatusStopped,
			Port:   evt.Port,
		})
	case events.KindFailed:
		return h.st.Upsert(ctx, store.Record{
			Name:   evt.Service,
			Status: store.StatusFailed,
			Port:   evt.Port,
		})
	case events.KindRecordCleaned:
		// A cleaned record is reset, not deleted: the row stays as an
		// audit anchor with no claimed process.
		return h.st.Upsert(ctx, store.Record{
			Name:   evt.Service,
			Status: store.StatusStopped,
			Port:   evt.Port,
		})
	case events.KindHealth:
		err := h.st.RecordHealth(ctx, evt.Service, evt.Failures, evt.At)
		if errors.Is(err, store.ErrNotFound) {
			// The probe raced a cleanup; nothing to update.
			return nil
		}
		return err
	}
	return nil
}
