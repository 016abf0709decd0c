package handlers

import (
	"context"
	"log/slog"

	"github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/events"
	"github.com/loykin/warden/internal/health"
)

// ServiceSource resolves configured services by name. *config.File
// satisfies it.
type ServiceSource interface {
	ServiceByName(name string) (config.Service, bool)
}

// HealthSync keeps the health poller's working set aligned with what is
// actually running: services enter on start and leave on stop or failure.
type HealthSync struct {
	src    ServiceSource
	poller *health.Poller
}

func NewHealthSync(src ServiceSource, poller *health.Poller) *HealthSync {
	return &HealthSync{src: src, poller: poller}
}

func (h *HealthSync) Name() string { return "health-sync" }

func (h *HealthSync) Handles(kind events.Kind) bool {
	switch kind {
	case events.KindStarted, events.KindStopped, events.KindFailed, events.KindRecordDeleted:
		return true
	}
	return false
}

func (h *HealthSync) Handle(_ context.Context, evt events.Event) error {
	switch evt.Kind {
	case events.KindStarted:
		svc, ok := h.src.ServiceByName(evt.Service)
		if !ok {
			// Startable but no longer configured; nothing to probe.
			slog.Debug("health sync: started service not in config", "service", evt.Service)
			return nil
		}
		h.poller.Register(svc)
	case events.KindStopped, events.KindFailed, events.KindRecordDeleted:
		h.poller.Deregister(evt.Service)
	}
	return nil
}
