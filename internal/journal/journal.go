package journal

import (
	"context"
	"time"
)

// Entry is one lifecycle event as exported to external systems.
type Entry struct {
	Kind       string    `json:"kind"`
	Service    string    `json:"service"`
	PID        int       `json:"pid"`
	Port       int       `json:"port"`
	OccurredAt time.Time `json:"occurred_at"`
	Health     string    `json:"health,omitempty"`
	Failures   int       `json:"failures,omitempty"`
	Err        string    `json:"error,omitempty"`
}

// Sink is a destination for journal entries (audit/analytics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Entry) error
}
