package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Register after Close.
var ErrClosed = errors.New("event bus closed")

// Kind identifies a lifecycle event class.
type Kind string

const (
	// KindStarted is published after a service process spawned.
	KindStarted Kind = "started"
	// KindStopped is published after a service process was terminated.
	KindStopped Kind = "stopped"
	// KindFailed is published when a start or stop attempt failed.
	KindFailed Kind = "failed"
	// KindRecordCleaned is published after a stale persisted record was reset.
	KindRecordCleaned Kind = "record_cleaned"
	// KindRecordDeleted is published after operator cleanup removed a row.
	KindRecordDeleted Kind = "record_deleted"
	// KindProcessCleaned is published after an orphan process was terminated.
	KindProcessCleaned Kind = "process_cleaned"
	// KindHealth is published per health probe with the observed status.
	KindHealth Kind = "health"
)

// Event is one observation or state change for a named service.
// Err carries failure text so events stay serializable.
type Event struct {
	Kind       Kind      `json:"kind"`
	Service    string    `json:"service"`
	PID        int       `json:"pid,omitempty"`
	Port       int       `json:"port,omitempty"`
	At         time.Time `json:"at"`
	Err        string    `json:"err,omitempty"`
	Health     string    `json:"health,omitempty"`
	Failures   int       `json:"failures,omitempty"`
	Transition bool      `json:"transition,omitempty"`
}

// Handler consumes events. Handle runs on the handler's own queue worker;
// a slow handler delays only itself.
type Handler interface {
	Name() string
	Handles(kind Kind) bool
	Handle(ctx context.Context, evt Event) error
}

// DefaultQueueSize bounds each subscriber queue unless overridden.
const DefaultQueueSize = 64

type subscription struct {
	handler Handler
	ch      chan Event
	exited  chan struct{}
	dropped atomic.Uint64
}

// Bus fans events out to registered handlers. Each handler gets a bounded
// FIFO queue drained by one goroutine; when a queue is full the oldest
// queued event is dropped to make room, so laggards lose history, never
// stall publishers.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscription
	queue  int
	closed bool
}

// NewBus creates a bus with the given per-subscriber queue size.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{queue: queueSize}
}

// Register subscribes a handler and starts its queue worker. Registration
// after Close is rejected.
func (b *Bus) Register(h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	s := &subscription{
		handler: h,
		ch:      make(chan Event, b.queue),
		exited:  make(chan struct{}),
	}
	b.subs = append(b.subs, s)
	go s.run()
	return nil
}

// Publish enqueues the event for every handler whose Handles reports
// interest. A zero At is stamped with the current time. Publishing never
// blocks; see Bus for the drop policy.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		if !s.handler.Handles(evt.Kind) {
			continue
		}
		s.enqueue(evt)
	}
}

// Dropped returns the total events discarded across all subscribers.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n uint64
	for _, s := range b.subs {
		n += s.dropped.Load()
	}
	return n
}

// Close stops accepting events, lets every queue drain, and waits for the
// workers to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		close(s.ch)
	}
	for _, s := range subs {
		<-s.exited
	}
}

func (s *subscription) enqueue(evt Event) {
	select {
	case s.ch <- evt:
		return
	default:
	}
	// Queue full: evict the oldest, then retry once. The retry can still
	// lose to the worker refilling the slot; count the publish as dropped
	// in that case.
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- evt:
	default:
		s.dropped.Add(1)
		slog.Debug("event dropped", "handler", s.handler.Name(), "kind", evt.Kind, "service", evt.Service)
	}
}

func (s *subscription) run() {
	defer close(s.exited)
	for evt := range s.ch {
		s.dispatch(evt)
	}
}

// dispatch isolates handler errors and panics so one handler cannot take
// down the bus or its peers.
func (s *subscription) dispatch(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "handler", s.handler.Name(), "kind", evt.Kind, "panic", r)
		}
	}()
	if err := s.handler.Handle(context.Background(), evt); err != nil {
		slog.Error("event handler failed", "handler", s.handler.Name(), "kind", evt.Kind, "service", evt.Service, "error", err)
	}
}
