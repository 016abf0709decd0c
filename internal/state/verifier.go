package state

import (
	"github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/inspect"
	"github.com/loykin/warden/internal/store"
)

// Category classifies the drift between desired, persisted, and observed
// state for one service in one pass.
type Category int

const (
	// AbsentConsistent: disabled, nothing recorded as running, nothing
	// live on the port. Steady state for a disabled service.
	AbsentConsistent Category = iota
	// StaleRecord: the record claims a running PID but that process is
	// gone or no longer owns the service port. The store lied.
	StaleRecord
	// OrphanProcess: something live occupies the service port that the
	// record does not recognize, e.g. a previous deploy generation.
	OrphanProcess
	// ShouldBeStopped: disabled, but the recorded process is alive.
	ShouldBeStopped
	// ShouldBeStarted: enabled, but no live serving process.
	ShouldBeStarted
	// Healthy: enabled, record and observation agree, probes passing.
	Healthy
	// UnhealthyNeedsRestart: enabled and live but consecutive probe
	// failures reached the restart threshold.
	UnhealthyNeedsRestart
)

func (c Category) String() string {
	switch c {
	case AbsentConsistent:
		return "absent-consistent"
	case StaleRecord:
		return "stale-record"
	case OrphanProcess:
		return "orphan-process"
	case ShouldBeStopped:
		return "should-be-stopped"
	case ShouldBeStarted:
		return "should-be-started"
	case Healthy:
		return "healthy"
	case UnhealthyNeedsRestart:
		return "unhealthy-needs-restart"
	default:
		return "unknown"
	}
}

// VerifiedState is the classification for one service in one pass, with the
// inputs it was derived from. Computed, consumed, and discarded per pass.
type VerifiedState struct {
	Desired  DesiredStatus
	Record   *store.Record
	Observed inspect.Observation
	Category Category
}

// Verifier classifies drift. FailureThreshold is the number of consecutive
// health-probe failures after which a live service is considered unhealthy.
type Verifier struct {
	FailureThreshold int
}

// Verify combines a desired status, an optional persisted record, and a
// fresh process observation into one category. Evaluation order matters:
// stale-record and orphan-process run before the enabled/disabled checks so
// a dead-but-recorded-running service is never mistaken for a healthy one.
func (v Verifier) Verify(desired DesiredStatus, rec *store.Record, obs inspect.Observation) VerifiedState {
	out := VerifiedState{Desired: desired, Record: rec, Observed: obs}

	recClaims := rec != nil && rec.ClaimsRunning()
	portLive := obs.LiveOnPort()
	// The recorded process agrees with the observation when it is alive
	// and owns the port. An unresolved owner (lookup needs privileges the
	// daemon may lack) with a responsive port is taken as agreement
	// rather than staleness, so a reachable service is never recycled on
	// probe blindness alone.
	agrees := recClaims && obs.ProcessExists &&
		(obs.PortOwnerPID == rec.PID || (obs.PortOwnerPID == 0 && obs.PortResponsive))

	switch {
	case desired == Disabled && !recClaims && !portLive:
		out.Category = AbsentConsistent
	case recClaims && !agrees:
		out.Category = StaleRecord
	case portLive && (!recClaims || (obs.PortOwnerPID > 0 && obs.PortOwnerPID != rec.PID)):
		out.Category = OrphanProcess
	case desired == Disabled:
		out.Category = ShouldBeStopped
	case !agrees || !obs.PortResponsive:
		out.Category = ShouldBeStarted
	case rec.HealthFailures >= v.threshold():
		out.Category = UnhealthyNeedsRestart
	default:
		out.Category = Healthy
	}
	return out
}

func (v Verifier) threshold() int {
	if v.FailureThreshold <= 0 {
		return config.DefaultFailureThreshold
	}
	return v.FailureThreshold
}
