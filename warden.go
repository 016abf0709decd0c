// Package warden supervises a fleet of port-bound services on a single
// host. A relational store records what should be running; reconciliation
// passes observe the OS, classify the drift per service, and execute the
// corrective actions. Everything the engine does is announced on an event
// bus that handlers turn into store writes, health polling, metrics, and
// an optional journal.
package warden

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/events"
	"github.com/loykin/warden/internal/handlers"
	"github.com/loykin/warden/internal/health"
	"github.com/loykin/warden/internal/journal"
	jfactory "github.com/loykin/warden/internal/journal/factory"
	"github.com/loykin/warden/internal/lifecycle"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/reconcile"
	iapi "github.com/loykin/warden/internal/server"
	"github.com/loykin/warden/internal/store"
	sfactory "github.com/loykin/warden/internal/store/factory"
	itls "github.com/loykin/warden/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.File

type Service = config.Service

type ServerConfig = config.ServerConfig

type TLSConfig = config.TLSConfig

type MetricsConfig = config.MetricsConfig

type JournalConfig = config.JournalConfig

type ReconcileConfig = config.ReconcileConfig

type HealthConfig = config.HealthConfig

type ServiceStatus = reconcile.ServiceStatus

type PassResult = reconcile.Result

type ServiceResult = reconcile.ServiceResult

type OpOutcome = reconcile.OpOutcome

type CleanupResult = reconcile.CleanupResult

type Event = events.Event

type EventKind = events.Kind

type EventHandler = events.Handler

type Snapshot = handlers.Snapshot

// Event kinds, for bus subscribers filtering in Handles.
const (
	EventStarted        = events.KindStarted
	EventStopped        = events.KindStopped
	EventFailed         = events.KindFailed
	EventRecordCleaned  = events.KindRecordCleaned
	EventRecordDeleted  = events.KindRecordDeleted
	EventProcessCleaned = events.KindProcessCleaned
	EventHealth         = events.KindHealth
)

// LoadConfig reads and validates a TOML configuration file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Engine is the assembled supervisor: configuration, store, event bus,
// handlers, health poller, and the reconciler, wired and running. Operator
// methods delegate to the reconciler; nothing here writes record status
// directly.
type Engine struct {
	cfg        *config.File
	st         store.Store
	bus        *events.Bus
	reconciler *reconcile.Reconciler
	poller     *health.Poller
	monitoring *handlers.Monitoring
	sampler    *metrics.ResourceSampler
	journal    journal.Sink
}

// Open loads the configuration at path and assembles an engine from it.
func Open(path string) (*Engine, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// New assembles an engine over an already-loaded configuration. The store
// schema is ensured, handlers are registered, health polling starts, and
// services recorded running resume their probes, so a restarted daemon
// picks up where the previous one stopped. Periodic passes do not start
// until StartTicker.
func New(cfg *config.File) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil configuration")
	}
	cfg.ApplyDefaults()

	st, err := sfactory.NewFromDSN(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("ensure store schema: %w", err)
	}

	bus := events.NewBus(cfg.Events.QueueSize)
	fail := func(err error) (*Engine, error) {
		bus.Close()
		_ = st.Close()
		return nil, err
	}

	checker := health.NewChecker(cfg.Health.Timeout)
	poller := health.NewPoller(checker, bus, cfg.Health.Interval)
	monitoring := handlers.NewMonitoring()

	e := &Engine{
		cfg:        cfg,
		st:         st,
		bus:        bus,
		poller:     poller,
		monitoring: monitoring,
	}

	for _, h := range []events.Handler{
		handlers.NewDBSync(st),
		handlers.NewHealthSync(cfg, poller),
		monitoring,
		handlers.NewLifecycle(),
	} {
		if err := bus.Register(h); err != nil {
			return fail(err)
		}
	}
	if cfg.Journal != nil && cfg.Journal.DSN != "" {
		sink, err := jfactory.NewSinkFromDSN(cfg.Journal.DSN)
		if err != nil {
			return fail(fmt.Errorf("open journal sink: %w", err))
		}
		e.journal = sink
		if err := bus.Register(handlers.NewJournal(sink)); err != nil {
			return fail(err)
		}
	}

	rec, err := reconcile.New(cfg, st, bus, lifecycle.NewManager())
	if err != nil {
		return fail(err)
	}
	e.reconciler = rec

	// Resume health polling for services the store says are running;
	// a steady-state pass publishes no events to trigger registration.
	recs, err := st.List(context.Background())
	if err != nil {
		return fail(fmt.Errorf("list records: %w", err))
	}
	for _, r := range recs {
		if !r.ClaimsRunning() {
			continue
		}
		if svc, ok := cfg.ServiceByName(r.Name); ok && svc.Enabled {
			poller.Register(svc)
		}
	}

	resources := cfg.Metrics != nil && cfg.Metrics.Resources
	var interval time.Duration
	if cfg.Metrics != nil {
		interval = cfg.Metrics.Interval
	}
	e.sampler = metrics.NewResourceSampler(resources, interval)
	if err := e.sampler.Start(context.Background(), e.runningPIDs); err != nil {
		return fail(err)
	}

	poller.Start()
	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() *Config { return e.cfg }

// Status returns the current view of one named service.
func (e *Engine) Status(ctx context.Context, name string) (ServiceStatus, error) {
	return e.reconciler.Status(ctx, name)
}

// StatusAll returns the view of every valid configured service.
func (e *Engine) StatusAll(ctx context.Context) ([]ServiceStatus, error) {
	return e.reconciler.StatusAll(ctx)
}

// StartService brings the named service up regardless of its enabled flag.
func (e *Engine) StartService(ctx context.Context, name string) error {
	return e.reconciler.StartService(ctx, name)
}

// StopService terminates the named service.
func (e *Engine) StopService(ctx context.Context, name string) error {
	return e.reconciler.StopService(ctx, name)
}

// RestartService stops and starts the named service.
func (e *Engine) RestartService(ctx context.Context, name string) error {
	return e.reconciler.RestartService(ctx, name)
}

// StartAll brings every enabled service up, dependencies first.
func (e *Engine) StartAll(ctx context.Context) []OpOutcome {
	return e.reconciler.StartAll(ctx)
}

// StopAll takes every configured service down, dependents first.
func (e *Engine) StopAll(ctx context.Context) []OpOutcome {
	return e.reconciler.StopAll(ctx)
}

// RestartAll bounces every enabled service.
func (e *Engine) RestartAll(ctx context.Context) []OpOutcome {
	return e.reconciler.RestartAll(ctx)
}

// ReconcileOnce runs one reconciliation pass over the whole fleet.
func (e *Engine) ReconcileOnce(ctx context.Context) (PassResult, error) {
	return e.reconciler.ExecutePass(ctx)
}

// ReconcileService runs one verification and correction cycle for a single
// service.
func (e *Engine) ReconcileService(ctx context.Context, name string) (ServiceResult, error) {
	return e.reconciler.ReconcileService(ctx, name)
}

// Cleanup removes records of departed services and retires disabled ones.
// Destructive; callers confirm before invoking.
func (e *Engine) Cleanup(ctx context.Context) (CleanupResult, error) {
	return e.reconciler.Cleanup(ctx)
}

// StartTicker begins periodic reconciliation passes. Interval <= 0 uses the
// configured reconcile interval.
func (e *Engine) StartTicker(interval time.Duration) { e.reconciler.StartTicker(interval) }

// StopTicker stops periodic passes.
func (e *Engine) StopTicker() { e.reconciler.StopTicker() }

// Subscribe registers an additional handler on the event bus. The handler
// gets its own bounded queue; a slow handler delays only itself.
func (e *Engine) Subscribe(h EventHandler) error { return e.bus.Register(h) }

// Snapshot returns aggregated event-stream activity: counts per kind and
// last activity per service.
func (e *Engine) Snapshot() Snapshot { return e.monitoring.Snapshot() }

// Close stops periodic work and releases the store and journal. The engine
// is not usable afterwards.
func (e *Engine) Close() error {
	e.reconciler.StopTicker()
	e.poller.Stop()
	e.sampler.Stop()
	e.bus.Close()
	if e.journal != nil {
		if c, ok := e.journal.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
	return e.st.Close()
}

// runningPIDs feeds the resource sampler from event-stream activity.
func (e *Engine) runningPIDs() map[string]int {
	snap := e.monitoring.Snapshot()
	out := make(map[string]int, len(snap.Services))
	for name, act := range snap.Services {
		if act.PID > 0 {
			out[name] = act.PID
		}
	}
	return out
}

// NewHTTPServer starts an HTTP server exposing the operator API for the
// given engine. The caller owns shutdown.
func NewHTTPServer(addr, basePath string, e *Engine) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, e.reconciler, e)
}

// NewTLSServer starts the operator API using the server block's TLS
// settings. Without TLS enabled it serves plain HTTP.
func NewTLSServer(sc ServerConfig, e *Engine) (*http.Server, error) {
	tc, err := itls.SetupTLS(sc)
	if err != nil {
		return nil, err
	}
	if tc == nil {
		return iapi.NewServer(sc.Listen, sc.BasePath, e.reconciler, e)
	}
	return iapi.NewTLSServer(sc.Listen, sc.BasePath, e.reconciler, e, tc)
}

// Metrics helpers (public facade)

// RegisterMetrics registers the engine-wide collectors with r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// RegisterMetricsDefault registers the engine-wide collectors with the
// default Prometheus registry.
func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }

// RegisterMetrics registers the engine-wide collectors plus this engine's
// resource-sampler gauges with r.
func (e *Engine) RegisterMetrics(r prometheus.Registerer) error {
	if err := metrics.Register(r); err != nil {
		return err
	}
	return e.sampler.RegisterMetrics(r)
}

// RegisterMetricsDefault registers the engine's collectors with the default
// Prometheus registry.
func (e *Engine) RegisterMetricsDefault() error {
	return e.RegisterMetrics(prometheus.DefaultRegisterer)
}

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
