package reconcile

import (
	"github.com/loykin/warden/internal/state"
)

// Action is one corrective step the reconciler can take for a service.
type Action int

const (
	ActionNone Action = iota
	// ActionStart spawns the service process after clearing its port.
	ActionStart
	// ActionStop gracefully terminates the recorded (or port-owning) process.
	ActionStop
	// ActionRestart is Stop, wait for the port to free, Start, in that order.
	ActionRestart
	// ActionCleanupDB resets a persisted record that no longer matches any
	// live process. The reset happens through a RecordCleaned event; the
	// reconciler never writes the store itself.
	ActionCleanupDB
	// ActionCleanupProcess terminates a process occupying the service port
	// that no record accounts for.
	ActionCleanupProcess
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	case ActionRestart:
		return "restart"
	case ActionCleanupDB:
		return "cleanup-db"
	case ActionCleanupProcess:
		return "cleanup-process"
	default:
		return "unknown"
	}
}

// ProcessChange reports whether executing the action touches a live process.
func (a Action) ProcessChange() bool {
	switch a {
	case ActionStart, ActionStop, ActionRestart, ActionCleanupProcess:
		return true
	}
	return false
}

// StoreChange reports whether the action leads to a persisted record write.
// The write itself is performed by the database sync handler in response to
// the events the action publishes.
func (a Action) StoreChange() bool {
	switch a {
	case ActionStart, ActionStop, ActionRestart, ActionCleanupDB:
		return true
	}
	return false
}

// PlanActions maps a verified state to its ordered corrective actions. A nil
// plan means the service needs nothing this pass. Multi-step plans are
// strictly sequential: a later step runs only after the earlier one
// succeeded.
func PlanActions(vs state.VerifiedState) []Action {
	enabled := vs.Desired == state.Enabled
	switch vs.Category {
	case state.AbsentConsistent, state.Healthy:
		return nil
	case state.StaleRecord:
		if enabled {
			return []Action{ActionCleanupDB, ActionStart}
		}
		return []Action{ActionCleanupDB}
	case state.OrphanProcess:
		if enabled {
			return []Action{ActionCleanupProcess, ActionStart}
		}
		return []Action{ActionCleanupProcess}
	case state.ShouldBeStopped:
		return []Action{ActionStop}
	case state.ShouldBeStarted:
		return []Action{ActionStart}
	case state.UnhealthyNeedsRestart:
		return []Action{ActionRestart}
	}
	return nil
}
