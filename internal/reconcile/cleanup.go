package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/events"
	"github.com/loykin/warden/internal/store"
)

// CleanupOutcome is one row or process tidied by operator cleanup.
type CleanupOutcome struct {
	Service       string
	RemovedRecord bool
	KilledPID     int
	Reason        string
	Err           error
}

// CleanupResult is one operator cleanup run.
type CleanupResult struct {
	StartedAt time.Time
	Duration  time.Duration
	Outcomes  []CleanupOutcome
}

// RemovedRecords counts rows deleted during the run.
func (cr CleanupResult) RemovedRecords() int {
	n := 0
	for _, o := range cr.Outcomes {
		if o.RemovedRecord {
			n++
		}
	}
	return n
}

// KilledProcesses counts leftover processes terminated during the run.
func (cr CleanupResult) KilledProcesses() int {
	n := 0
	for _, o := range cr.Outcomes {
		if o.KilledPID > 0 {
			n++
		}
	}
	return n
}

// Failures counts outcomes that went wrong.
func (cr CleanupResult) Failures() int {
	n := 0
	for _, o := range cr.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Cleanup removes what periodic passes deliberately leave behind: records of
// services that left the configuration (terminating their process when it
// verifiably still holds the recorded port) and retired records of disabled
// services. It is the only path that deletes rows. Destructive, so every
// caller gates it behind explicit confirmation.
func (r *Reconciler) Cleanup(ctx context.Context) (CleanupResult, error) {
	started := time.Now()
	res := CleanupResult{StartedAt: started}

	recs, err := r.state.PersistedRecords(ctx)
	if err != nil {
		res.Duration = time.Since(started)
		return res, err
	}

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(started)
			return res, err
		}
		svc, configured := r.state.Service(rec.Name)

		lk := r.lockFor(rec.Name)
		lk.Lock()
		switch {
		case !configured:
			res.Outcomes = append(res.Outcomes, r.cleanupLeftover(ctx, rec))
		case !svc.Enabled && !rec.ClaimsRunning():
			res.Outcomes = append(res.Outcomes, r.retireRecord(ctx, rec, "disabled service record retired"))
		}
		// Configured services with live claims stay with the pass.
		lk.Unlock()
	}

	res.Duration = time.Since(started)
	return res, nil
}

// cleanupLeftover handles a record whose service is gone from configuration.
// The recorded process is terminated only when it still owns the recorded
// port; anything else on that port is not provably ours and is left alone.
func (r *Reconciler) cleanupLeftover(ctx context.Context, rec store.Record) CleanupOutcome {
	out := CleanupOutcome{Service: rec.Name, Reason: "service no longer configured"}

	obs := r.observe(rec.PID, rec.Port)
	if rec.ClaimsRunning() && obs.ProcessExists && obs.OwnsPort() {
		gone, err := r.life.TerminateGracefully(ctx, rec.PID, config.DefaultStopGrace)
		if err != nil {
			out.Err = err
			return out // row survives while its process might
		}
		if !gone {
			out.Err = fmt.Errorf("leftover pid %d survived forced kill", rec.PID)
			return out
		}
		out.KilledPID = rec.PID
		r.bus.Publish(events.Event{
			Kind: events.KindProcessCleaned, Service: rec.Name, PID: rec.PID, Port: rec.Port,
		})
	} else if rec.ClaimsRunning() && obs.LiveOnPort() {
		out.Reason = "service no longer configured; unidentified listener left on port"
	}

	retired := r.retireRecord(ctx, rec, out.Reason)
	out.RemovedRecord = retired.RemovedRecord
	if retired.Err != nil {
		out.Err = retired.Err
	}
	return out
}

// retireRecord deletes one row and announces the deletion.
func (r *Reconciler) retireRecord(ctx context.Context, rec store.Record, reason string) CleanupOutcome {
	out := CleanupOutcome{Service: rec.Name, Reason: reason}
	if err := r.st.Delete(ctx, rec.Name); err != nil {
		out.Err = err
		return out
	}
	out.RemovedRecord = true
	r.bus.Publish(events.Event{
		Kind: events.KindRecordDeleted, Service: rec.Name, PID: rec.PID, Port: rec.Port,
	})
	return out
}
