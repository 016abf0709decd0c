package reconcile

import (
	"context"
	"time"

	"github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/state"
	"github.com/loykin/warden/internal/store"
)

// ServiceStatus is the operator view of one service: configuration,
// persisted record, and a fresh observation folded together. Status reports
// what the store claims; Category reports what verification concluded.
type ServiceStatus struct {
	Name            string    `json:"name"`
	DisplayName     string    `json:"display_name,omitempty"`
	Description     string    `json:"description,omitempty"`
	Port            int       `json:"port"`
	Enabled         bool      `json:"enabled"`
	Status          string    `json:"status"`
	Category        string    `json:"category"`
	PID             int       `json:"pid,omitempty"`
	ProcessAlive    bool      `json:"process_alive"`
	PortResponsive  bool      `json:"port_responsive"`
	HealthFailures  int       `json:"health_failures,omitempty"`
	LastHealthCheck time.Time `json:"last_health_check"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Serving reports whether verification found the service live and agreeing
// with its record.
func (ss ServiceStatus) Serving() bool {
	return ss.Category == state.Healthy.String() || ss.Category == state.UnhealthyNeedsRestart.String()
}

// Status returns the current view of one named service. It takes no lock:
// the answer is a snapshot and may trail an in-flight correction.
func (r *Reconciler) Status(ctx context.Context, name string) (ServiceStatus, error) {
	svc, err := r.resolve(name)
	if err != nil {
		return ServiceStatus{}, err
	}
	return r.statusOf(ctx, svc)
}

// StatusAll returns the view of every valid configured service, in
// configuration order. Services failing validation are absent, the same way
// the pass skips them.
func (r *Reconciler) StatusAll(ctx context.Context) ([]ServiceStatus, error) {
	svcs, _ := r.state.DesiredServices()
	out := make([]ServiceStatus, 0, len(svcs))
	for _, svc := range svcs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ss, err := r.statusOf(ctx, svc)
		if err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, nil
}

func (r *Reconciler) statusOf(ctx context.Context, svc config.Service) (ServiceStatus, error) {
	rec, err := r.state.PersistedRecord(ctx, svc.Name)
	if err != nil {
		return ServiceStatus{}, err
	}
	pid := 0
	if rec != nil {
		pid = rec.PID
	}
	obs := r.observe(pid, svc.Port)
	vs := r.verifier.Verify(state.DesiredFor(svc), rec, obs)

	ss := ServiceStatus{
		Name:           svc.Name,
		DisplayName:    svc.DisplayName,
		Description:    svc.Description,
		Port:           svc.Port,
		Enabled:        svc.Enabled,
		Status:         store.StatusUnknown,
		Category:       vs.Category.String(),
		ProcessAlive:   obs.ProcessExists,
		PortResponsive: obs.PortResponsive,
	}
	if rec != nil {
		ss.Status = rec.Status
		ss.PID = rec.PID
		ss.HealthFailures = rec.HealthFailures
		ss.LastHealthCheck = rec.LastHealthCheck
		ss.UpdatedAt = rec.UpdatedAt
	}
	return ss, nil
}
