package handlers

import (
	"context"
	"log/slog"

	"github.com/loykin/warden/internal/events"
)

// Hook is a caller-supplied side effect for lifecycle transitions. Hooks run
// on the handler's queue worker; a slow hook delays later events for this
// handler only.
type Hook func(ctx context.Context, evt events.Event)

// Lifecycle logs every lifecycle transition and fans it out to registered
// hooks. Health probes are not transitions and stay out.
type Lifecycle struct {
	hooks []Hook
}

func NewLifecycle(hooks ...Hook) *Lifecycle {
	return &Lifecycle{hooks: hooks}
}

func (h *Lifecycle) Name() string { return "lifecycle" }

func (h *Lifecycle) Handles(kind events.Kind) bool {
	return kind != events.KindHealth
}

func (h *Lifecycle) Handle(ctx context.Context, evt events.Event) error {
	switch evt.Kind {
	case events.KindFailed:
		slog.Warn("service transition",
			"kind", evt.Kind, "service", evt.Service, "port", evt.Port, "error", evt.Err)
	default:
		slog.Info("service transition",
			"kind", evt.Kind, "service", evt.Service, "pid", evt.PID, "port", evt.Port)
	}
	for _, hook := range h.hooks {
		hook(ctx, evt)
	}
	return nil
}
