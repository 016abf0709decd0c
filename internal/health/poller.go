package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/events"
)

// Poller probes registered services on an interval, independent of
// reconciliation passes, and publishes one health event per probe. The
// database sync handler persists the failure streak, which feeds the next
// pass's classification.
type Poller struct {
	checker  *Checker
	bus      *events.Bus
	interval time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	cancel  context.CancelFunc
	done    chan struct{}
}

type entry struct {
	svc      config.Service
	failures int
	last     Status
}

// NewPoller builds a poller publishing to bus every interval.
func NewPoller(checker *Checker, bus *events.Bus, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = config.DefaultHealthInterval
	}
	return &Poller{
		checker:  checker,
		bus:      bus,
		interval: interval,
		entries:  make(map[string]*entry),
	}
}

// Register adds or replaces a service to probe. The failure streak resets
// because a fresh process has no probe history.
func (p *Poller) Register(svc config.Service) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[svc.Name] = &entry{svc: svc}
}

// Deregister stops probing the named service.
func (p *Poller) Deregister(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, name)
}

// Registered returns the probed service names, sorted.
func (p *Poller) Registered() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.entries))
	for name := range p.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start launches the poll loop. Calling Start on a running poller is a
// no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	slog.Debug("health poller started", "interval", p.interval)
	go p.loop(ctx, done)
}

// Stop cancels the loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Debug("health poller stopped")
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce probes every registered service once and publishes the results.
func (p *Poller) PollOnce(ctx context.Context) {
	p.mu.Lock()
	svcs := make([]config.Service, 0, len(p.entries))
	for _, e := range p.entries {
		svcs = append(svcs, e.svc)
	}
	p.mu.Unlock()
	if len(svcs) == 0 {
		return
	}

	results := p.checker.StatusForAll(ctx, svcs)

	for name, res := range results {
		p.mu.Lock()
		e, ok := p.entries[name]
		if !ok {
			// Deregistered while the probe was in flight.
			p.mu.Unlock()
			continue
		}
		if res.Failed() {
			e.failures++
		} else {
			e.failures = 0
		}
		transition := e.last != res.Status
		e.last = res.Status
		evt := events.Event{
			Kind:       events.KindHealth,
			Service:    name,
			Port:       e.svc.Port,
			At:         res.CheckedAt,
			Health:     string(res.Status),
			Failures:   e.failures,
			Transition: transition,
		}
		if res.Err != nil {
			evt.Err = res.Err.Error()
		}
		p.mu.Unlock()

		if transition {
			slog.Info("service health changed", "service", name, "health", res.Status, "failures", evt.Failures)
		}
		p.bus.Publish(evt)
	}
}
