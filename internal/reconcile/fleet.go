package reconcile

import (
	"context"
)

// OpOutcome is the per-service result of a fleet-wide operator command.
type OpOutcome struct {
	Service string
	Err     error
}

// FailedOps counts outcomes that went wrong.
func FailedOps(outcomes []OpOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// StartAll brings every enabled service up, dependencies first. Disabled
// services stay down; waking one deliberately takes a per-service start. One
// service failing never blocks the rest.
func (r *Reconciler) StartAll(ctx context.Context) []OpOutcome {
	svcs, cfgErrs := r.state.DesiredServices()
	svcs = r.orderByDependency(svcs, &cfgErrs)
	out := make([]OpOutcome, 0, len(svcs))
	for _, svc := range svcs {
		if !svc.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			out = append(out, OpOutcome{Service: svc.Name, Err: err})
			continue
		}
		out = append(out, OpOutcome{Service: svc.Name, Err: r.StartService(ctx, svc.Name)})
	}
	return out
}

// StopAll terminates every configured service, dependents before their
// dependencies.
func (r *Reconciler) StopAll(ctx context.Context) []OpOutcome {
	svcs, cfgErrs := r.state.DesiredServices()
	svcs = r.orderByDependency(svcs, &cfgErrs)
	out := make([]OpOutcome, 0, len(svcs))
	for i := len(svcs) - 1; i >= 0; i-- {
		name := svcs[i].Name
		if err := ctx.Err(); err != nil {
			out = append(out, OpOutcome{Service: name, Err: err})
			continue
		}
		out = append(out, OpOutcome{Service: name, Err: r.StopService(ctx, name)})
	}
	return out
}

// RestartAll bounces every enabled service in dependency order.
func (r *Reconciler) RestartAll(ctx context.Context) []OpOutcome {
	svcs, cfgErrs := r.state.DesiredServices()
	svcs = r.orderByDependency(svcs, &cfgErrs)
	out := make([]OpOutcome, 0, len(svcs))
	for _, svc := range svcs {
		if !svc.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			out = append(out, OpOutcome{Service: svc.Name, Err: err})
			continue
		}
		out = append(out, OpOutcome{Service: svc.Name, Err: r.RestartService(ctx, svc.Name)})
	}
	return out
}
