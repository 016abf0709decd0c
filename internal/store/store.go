package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Persisted status values. Absence of a record is normal: it means the
// service was never started here or its record was cleaned.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusFailed  = "failed"
	StatusUnknown = "unknown"
)

// ErrNotFound is returned by Get and RecordHealth when no record exists
// for the name.
var ErrNotFound = errors.New("record not found")

// Record is the persisted row for one named service. Name is unique across
// the fleet. PID 0 means no process is recorded; a zero LastHealthCheck
// means no probe has completed yet. Timestamps are UTC.
type Record struct {
	Name            string
	Status          string
	PID             int
	Port            int
	HealthFailures  int
	LastHealthCheck time.Time
	UpdatedAt       time.Time
}

// ClaimsRunning reports whether the record claims a live process.
func (r Record) ClaimsRunning() bool { return r.Status == StatusRunning && r.PID > 0 }

// Error wraps a storage engine failure so persistence problems stay
// distinguishable from process and probe errors.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Store persists the last known status per uniquely named service.
// Implementations must be safe for concurrent use.
type Store interface {
	EnsureSchema(ctx context.Context) error
	// Upsert writes the full record keyed by name. UpdatedAt is stamped
	// by the implementation.
	Upsert(ctx context.Context, rec Record) error
	// RecordHealth updates probe bookkeeping for an existing record and
	// returns ErrNotFound when none exists.
	RecordHealth(ctx context.Context, name string, failures int, checkedAt time.Time) error
	// Get returns the record for name or ErrNotFound.
	Get(ctx context.Context, name string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, name string) error
	Close() error
}
