package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/events"
	"github.com/loykin/warden/internal/inspect"
	"github.com/loykin/warden/internal/lifecycle"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/state"
	"github.com/loykin/warden/internal/store"
)

// ActionOutcome is one executed action and its result.
type ActionOutcome struct {
	Action Action
	Err    error
}

// ServiceResult is the outcome of reconciling one service in one pass.
type ServiceResult struct {
	Service  string
	Category state.Category
	Actions  []ActionOutcome
	Err      error // first failure, or the error that prevented verification
	Skipped  bool  // the pass was canceled before this service ran
}

// Failed reports whether reconciling the service went wrong.
func (sr ServiceResult) Failed() bool { return sr.Err != nil }

// Result is one reconciliation pass over all configured services.
type Result struct {
	StartedAt    time.Time
	Duration     time.Duration
	Services     []ServiceResult
	ConfigErrors []error
}

// Counts aggregates verified services per category.
func (r Result) Counts() map[string]int {
	out := make(map[string]int)
	for _, sr := range r.Services {
		if sr.Skipped {
			continue
		}
		out[sr.Category.String()]++
	}
	return out
}

// ActionsTaken counts executed actions across the pass.
func (r Result) ActionsTaken() int {
	n := 0
	for _, sr := range r.Services {
		n += len(sr.Actions)
	}
	return n
}

// Failures counts services whose reconciliation failed.
func (r Result) Failures() int {
	n := 0
	for _, sr := range r.Services {
		if sr.Failed() {
			n++
		}
	}
	return n
}

// Lifecycle is the process-control surface the reconciler drives. It is
// satisfied by *lifecycle.Manager.
type Lifecycle interface {
	Spawn(ctx context.Context, spec lifecycle.SpawnSpec) (int, error)
	TerminateGracefully(ctx context.Context, pid int, grace time.Duration) (bool, error)
	WaitForPortFree(ctx context.Context, port, maxRetries int, delay time.Duration) error
	PreparePort(ctx context.Context, port int, grace time.Duration) error
}

// Reconciler verifies every configured service against its persisted record
// and a fresh OS observation, plans corrective actions, and executes them.
// It never writes record status: every state change is published on the bus
// and persisted by the database sync handler. Operator cleanup is the one
// exception, removing whole rows directly.
type Reconciler struct {
	cfg      *config.File
	state    *state.Manager
	st       store.Store // row deletion for operator cleanup only
	life     Lifecycle
	bus      *events.Bus
	verifier state.Verifier

	observe   func(pid, port int) inspect.Observation
	globalEnv []string

	concurrency int
	portRetries int
	portDelay   time.Duration

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	tickStop chan struct{}
}

// New wires a reconciler over the given configuration, store, and bus. The
// global child environment is resolved once here so a broken env_file fails
// construction instead of every later pass.
func New(cfg *config.File, st store.Store, bus *events.Bus, life Lifecycle) (*Reconciler, error) {
	env, err := cfg.GlobalEnv()
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		cfg:         cfg,
		state:       state.NewManager(cfg, st),
		st:          st,
		life:        life,
		bus:         bus,
		verifier:    state.Verifier{FailureThreshold: cfg.Health.FailureThreshold},
		observe:     inspect.Observe,
		globalEnv:   env,
		concurrency: cfg.Reconcile.Concurrency,
		portRetries: cfg.Reconcile.PortFreeRetries,
		portDelay:   cfg.Reconcile.PortFreeDelay,
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

// ExecutePass reconciles every valid configured service once. Services run
// concurrently up to the configured bound; one service failing never aborts
// the others. The returned error is non-nil only when ctx cut the pass
// short.
func (r *Reconciler) ExecutePass(ctx context.Context) (Result, error) {
	started := time.Now()
	svcs, cfgErrs := r.state.DesiredServices()
	for _, err := range cfgErrs {
		slog.Warn("service skipped by validation", "error", err)
	}
	svcs = r.orderByDependency(svcs, &cfgErrs)

	results := make([]ServiceResult, len(svcs))
	sem := make(chan struct{}, r.bound())
	var wg sync.WaitGroup
	for i, svc := range svcs {
		// Slots are granted in dependency order, so with concurrency 1 each
		// service finishes before the next launches.
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = ServiceResult{Service: svc.Name, Err: ctx.Err(), Skipped: true}
			continue
		}
		wg.Add(1)
		go func(i int, svc config.Service) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.reconcileService(ctx, svc)
		}(i, svc)
	}
	wg.Wait()

	res := Result{StartedAt: started, Duration: time.Since(started), Services: results, ConfigErrors: cfgErrs}
	metrics.IncPass()
	metrics.ObservePassDuration(res.Duration.Seconds())
	metrics.SetEventsDropped(r.bus.Dropped())
	return res, ctx.Err()
}

// ReconcileService runs one verification and correction cycle for a single
// named service.
func (r *Reconciler) ReconcileService(ctx context.Context, name string) (ServiceResult, error) {
	svc, err := r.resolve(name)
	if err != nil {
		return ServiceResult{}, err
	}
	return r.reconcileService(ctx, svc), nil
}

// StartService brings the named service up regardless of its enabled flag.
// A service already serving is left alone.
func (r *Reconciler) StartService(ctx context.Context, name string) error {
	svc, err := r.resolve(name)
	if err != nil {
		return err
	}
	lk := r.lockFor(name)
	lk.Lock()
	defer lk.Unlock()
	vs, res := r.classify(ctx, svc, state.Enabled)
	if res.Err != nil {
		return res.Err
	}
	switch vs.Category {
	case state.Healthy, state.UnhealthyNeedsRestart:
		return nil // already serving; restart policy belongs to the pass
	}
	res = r.run(ctx, svc, vs, PlanActions(vs), res)
	return res.Err
}

// StopService terminates the named service and tidies whatever verification
// found, as if the service were disabled.
func (r *Reconciler) StopService(ctx context.Context, name string) error {
	svc, err := r.resolve(name)
	if err != nil {
		return err
	}
	lk := r.lockFor(name)
	lk.Lock()
	defer lk.Unlock()
	vs, res := r.classify(ctx, svc, state.Disabled)
	if res.Err != nil {
		return res.Err
	}
	res = r.run(ctx, svc, vs, PlanActions(vs), res)
	return res.Err
}

// RestartService stops and starts the named service. A service that is not
// running is simply started; drift found on the way is corrected first.
func (r *Reconciler) RestartService(ctx context.Context, name string) error {
	svc, err := r.resolve(name)
	if err != nil {
		return err
	}
	lk := r.lockFor(name)
	lk.Lock()
	defer lk.Unlock()
	vs, res := r.classify(ctx, svc, state.Enabled)
	if res.Err != nil {
		return res.Err
	}
	plan := PlanActions(vs)
	if vs.Category == state.Healthy {
		plan = []Action{ActionRestart}
	}
	res = r.run(ctx, svc, vs, plan, res)
	return res.Err
}

// StartTicker begins periodic passes. Interval <= 0 falls back to the
// configured reconcile interval. No-op when already running.
func (r *Reconciler) StartTicker(interval time.Duration) {
	if interval <= 0 {
		interval = r.cfg.Reconcile.Interval
	}
	if interval <= 0 {
		interval = config.DefaultReconcileEvery
	}
	r.mu.Lock()
	if r.tickStop != nil {
		r.mu.Unlock()
		return // already running
	}
	stop := make(chan struct{})
	r.tickStop = stop
	r.mu.Unlock()
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				res, _ := r.ExecutePass(context.Background())
				slog.Info("reconcile pass finished",
					"duration", res.Duration,
					"services", len(res.Services),
					"actions", res.ActionsTaken(),
					"failures", res.Failures())
			case <-stop:
				return
			}
		}
	}()
}

// StopTicker stops the periodic passes if running.
func (r *Reconciler) StopTicker() {
	r.mu.Lock()
	ch := r.tickStop
	r.tickStop = nil
	r.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// reconcileService verifies and corrects one service under its advisory
// lock. Operator calls go through the same lock, so two action sequences for
// one name never interleave.
func (r *Reconciler) reconcileService(ctx context.Context, svc config.Service) ServiceResult {
	lk := r.lockFor(svc.Name)
	lk.Lock()
	defer lk.Unlock()
	vs, res := r.classify(ctx, svc, state.DesiredFor(svc))
	if res.Err != nil {
		return res
	}
	return r.run(ctx, svc, vs, PlanActions(vs), res)
}

// classify fetches the persisted record, observes the OS, and verifies the
// service against the given desired status.
func (r *Reconciler) classify(ctx context.Context, svc config.Service, desired state.DesiredStatus) (state.VerifiedState, ServiceResult) {
	res := ServiceResult{Service: svc.Name}
	rec, err := r.state.PersistedRecord(ctx, svc.Name)
	if err != nil {
		res.Err = fmt.Errorf("verify %s: %w", svc.Name, err)
		return state.VerifiedState{}, res
	}
	pid := 0
	if rec != nil {
		pid = rec.PID
	}
	vs := r.verifier.Verify(desired, rec, r.observe(pid, svc.Port))
	res.Category = vs.Category
	metrics.IncCategory(vs.Category.String())
	metrics.SetServiceUp(svc.Name, vs.Category == state.Healthy || vs.Category == state.UnhealthyNeedsRestart)
	return vs, res
}

// run executes the plan in order, stopping at the first failing step. Later
// steps depend on earlier ones, so a broken sequence is never continued.
func (r *Reconciler) run(ctx context.Context, svc config.Service, vs state.VerifiedState, plan []Action, res ServiceResult) ServiceResult {
	if len(plan) > 0 {
		slog.Info("correcting service drift",
			"service", svc.Name, "category", vs.Category.String(), "plan", actionNames(plan))
	}
	for _, act := range plan {
		if err := ctx.Err(); err != nil {
			res.Actions = append(res.Actions, ActionOutcome{Action: act, Err: err})
			res.Err = err
			break
		}
		err := r.apply(ctx, svc, vs, act)
		metrics.IncAction(act.String())
		res.Actions = append(res.Actions, ActionOutcome{Action: act, Err: err})
		if err != nil {
			metrics.IncActionFailure(act.String())
			slog.Warn("reconcile action failed",
				"service", svc.Name, "action", act.String(), "error", err)
			res.Err = err
			break
		}
	}
	return res
}

func (r *Reconciler) apply(ctx context.Context, svc config.Service, vs state.VerifiedState, act Action) error {
	switch act {
	case ActionStart:
		return r.start(ctx, svc)
	case ActionStop:
		return r.stop(ctx, svc, vs)
	case ActionRestart:
		if err := r.stop(ctx, svc, vs); err != nil {
			return err
		}
		if err := r.life.WaitForPortFree(ctx, svc.Port, r.portRetries, r.portDelay); err != nil {
			return err
		}
		return r.start(ctx, svc)
	case ActionCleanupDB:
		r.bus.Publish(events.Event{
			Kind: events.KindRecordCleaned, Service: svc.Name, PID: recordPID(vs), Port: svc.Port,
		})
		return nil
	case ActionCleanupProcess:
		return r.cleanupProcess(ctx, svc, vs)
	}
	return nil
}

// start clears the port and spawns the service. A port still occupied past
// the prepare budget fails the start; a process is never spawned onto a port
// someone else holds.
func (r *Reconciler) start(ctx context.Context, svc config.Service) error {
	if err := r.life.PreparePort(ctx, svc.Port, svc.StopGrace); err != nil {
		r.bus.Publish(events.Event{Kind: events.KindFailed, Service: svc.Name, Port: svc.Port, Err: err.Error()})
		return fmt.Errorf("prepare port %d: %w", svc.Port, err)
	}
	spec := lifecycle.SpawnSpec{
		Name:    svc.Name,
		Command: svc.Command,
		WorkDir: svc.WorkDir,
		Env:     config.MergedEnv(r.globalEnv, svc),
		Log:     r.cfg.LoggerConfig(svc),
	}
	pid, err := r.life.Spawn(ctx, spec)
	if err != nil {
		r.bus.Publish(events.Event{Kind: events.KindFailed, Service: svc.Name, Port: svc.Port, Err: err.Error()})
		return err
	}
	r.bus.Publish(events.Event{Kind: events.KindStarted, Service: svc.Name, PID: pid, Port: svc.Port})
	return nil
}

// stop terminates the process the record names, falling back to the port
// owner when the record is silent. With nothing identifiable to signal the
// stop still gets recorded so the store reflects intent.
func (r *Reconciler) stop(ctx context.Context, svc config.Service, vs state.VerifiedState) error {
	pid := recordPID(vs)
	if pid <= 0 || !vs.Observed.ProcessExists {
		pid = vs.Observed.PortOwnerPID
	}
	if pid <= 0 {
		r.bus.Publish(events.Event{Kind: events.KindStopped, Service: svc.Name, Port: svc.Port})
		return nil
	}
	gone, err := r.life.TerminateGracefully(ctx, pid, svc.StopGrace)
	if err != nil {
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}
	if !gone {
		return fmt.Errorf("service %s: pid %d survived forced kill", svc.Name, pid)
	}
	r.bus.Publish(events.Event{Kind: events.KindStopped, Service: svc.Name, PID: pid, Port: svc.Port})
	return nil
}

// cleanupProcess removes whatever serves the port without a matching record.
// An unidentified listener cannot be signaled; the port wait then fails the
// action and the next pass retries.
func (r *Reconciler) cleanupProcess(ctx context.Context, svc config.Service, vs state.VerifiedState) error {
	owner := vs.Observed.PortOwnerPID
	if owner > 0 {
		gone, err := r.life.TerminateGracefully(ctx, owner, svc.StopGrace)
		if err != nil {
			return fmt.Errorf("terminate orphan pid %d: %w", owner, err)
		}
		if !gone {
			return fmt.Errorf("orphan pid %d survived forced kill", owner)
		}
	}
	if err := r.life.WaitForPortFree(ctx, svc.Port, r.portRetries, r.portDelay); err != nil {
		return err
	}
	r.bus.Publish(events.Event{Kind: events.KindProcessCleaned, Service: svc.Name, PID: owner, Port: svc.Port})
	return nil
}

func (r *Reconciler) resolve(name string) (config.Service, error) {
	svc, ok := r.state.Service(name)
	if !ok {
		return config.Service{}, fmt.Errorf("unknown service %q", name)
	}
	if err := svc.Validate(); err != nil {
		return config.Service{}, err
	}
	return svc, nil
}

func (r *Reconciler) lockFor(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lk, ok := r.locks[name]
	if !ok {
		lk = &sync.Mutex{}
		r.locks[name] = lk
	}
	return lk
}

func (r *Reconciler) bound() int {
	if r.concurrency <= 0 {
		return config.DefaultConcurrency
	}
	return r.concurrency
}

// orderByDependency rearranges services so dependencies come before their
// dependents. With concurrency 1 the order is strict; with a larger bound it
// biases scheduling without hard barriers. A cycle falls back to declaration
// order and is surfaced as a configuration error.
func (r *Reconciler) orderByDependency(svcs []config.Service, cfgErrs *[]error) []config.Service {
	order, err := r.cfg.DependencyOrder()
	if err != nil {
		*cfgErrs = append(*cfgErrs, err)
		return svcs
	}
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	sort.SliceStable(svcs, func(a, b int) bool { return pos[svcs[a].Name] < pos[svcs[b].Name] })
	return svcs
}

func recordPID(vs state.VerifiedState) int {
	if vs.Record != nil {
		return vs.Record.PID
	}
	return 0
}

func actionNames(plan []Action) []string {
	out := make([]string, len(plan))
	for i, a := range plan {
		out[i] = a.String()
	}
	return out
}
