package handlers

import (
	"context"
	"time"

	"github.com/loykin/warden/internal/events"
	"github.com/loykin/warden/internal/journal"
)

const defaultSendTimeout = 5 * time.Second

// Journal forwards events to a durable sink. Steady-state health probes are
// skipped; only probe transitions enter the trail, so the journal records
// what changed rather than every tick.
type Journal struct {
	sink    journal.Sink
	timeout time.Duration
}

func NewJournal(sink journal.Sink) *Journal {
	return &Journal{sink: sink, timeout: defaultSendTimeout}
}

func (h *Journal) Name() string { return "journal" }

func (h *Journal) Handles(events.Kind) bool { return true }

func (h *Journal) Handle(ctx context.Context, evt events.Event) error {
	if evt.Kind == events.KindHealth && !evt.Transition {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.sink.Send(ctx, journal.Entry{
		Kind:       string(evt.Kind),
		Service:    evt.Service,
		PID:        evt.PID,
		Port:       evt.Port,
		OccurredAt: evt.At,
		Health:     evt.Health,
		Failures:   evt.Failures,
		Err:        evt.Err,
	})
}
