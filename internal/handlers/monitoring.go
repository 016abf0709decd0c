package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/loykin/warden/internal/events"
	"github.com/loykin/warden/internal/health"
	"github.com/loykin/warden/internal/metrics"
)

// ServiceActivity is the last thing the event stream said about a service.
type ServiceActivity struct {
	LastKind string    `json:"last_kind"`
	LastAt   time.Time `json:"last_at"`
	PID      int       `json:"pid,omitempty"`
	Health   string    `json:"health,omitempty"`
	Failures int       `json:"failures,omitempty"`
}

// Snapshot is a point-in-time aggregate of the event stream.
type Snapshot struct {
	Counts   map[string]uint64          `json:"counts"`
	Services map[string]ServiceActivity `json:"services"`
}

// Monitoring folds the event stream into in-memory aggregates and the
// prometheus collectors. The snapshot backs the daemon self-check endpoint.
type Monitoring struct {
	mu       sync.Mutex
	counts   map[events.Kind]uint64
	services map[string]ServiceActivity
}

func NewMonitoring() *Monitoring {
	return &Monitoring{
		counts:   make(map[events.Kind]uint64),
		services: make(map[string]ServiceActivity),
	}
}

func (h *Monitoring) Name() string { return "monitoring" }

func (h *Monitoring) Handles(events.Kind) bool { return true }

func (h *Monitoring) Handle(_ context.Context, evt events.Event) error {
	metrics.IncEvent(string(evt.Kind))

	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[evt.Kind]++

	if evt.Kind == events.KindRecordDeleted {
		delete(h.services, evt.Service)
		metrics.ForgetService(evt.Service)
		return nil
	}

	act := h.services[evt.Service]
	act.LastKind = string(evt.Kind)
	act.LastAt = evt.At
	switch evt.Kind {
	case events.KindStarted:
		act.PID = evt.PID
		act.Health = ""
		act.Failures = 0
	case events.KindStopped, events.KindFailed:
		act.PID = 0
	case events.KindHealth:
		act.Health = evt.Health
		act.Failures = evt.Failures
		metrics.SetServiceHealthy(evt.Service, evt.Health == string(health.StatusHealthy))
		metrics.SetHealthFailures(evt.Service, evt.Failures)
	}
	h.services[evt.Service] = act
	return nil
}

// Snapshot copies the aggregates; the maps in the result are the caller's.
func (h *Monitoring) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := Snapshot{
		Counts:   make(map[string]uint64, len(h.counts)),
		Services: make(map[string]ServiceActivity, len(h.services)),
	}
	for k, n := range h.counts {
		out.Counts[string(k)] = n
	}
	for name, act := range h.services {
		out.Services[name] = act
	}
	return out
}
