package server

import (
	"time"

	"github.com/loykin/warden/internal/reconcile"
)

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type healthzView struct {
	Status         string            `json:"status"`
	Uptime         string            `json:"uptime"`
	Events         map[string]uint64 `json:"events,omitempty"`
	ActiveServices int               `json:"active_services,omitempty"`
}

type actionView struct {
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

type serviceResultView struct {
	Service  string       `json:"service"`
	Category string       `json:"category"`
	Actions  []actionView `json:"actions,omitempty"`
	Error    string       `json:"error,omitempty"`
	Skipped  bool         `json:"skipped,omitempty"`
}

type passView struct {
	StartedAt    time.Time           `json:"started_at"`
	DurationMS   int64               `json:"duration_ms"`
	Services     []serviceResultView `json:"services"`
	Categories   map[string]int      `json:"categories"`
	ActionsTaken int                 `json:"actions_taken"`
	Failures     int                 `json:"failures"`
	ConfigErrors []string            `json:"config_errors,omitempty"`
}

type opOutcomeView struct {
	Service string `json:"service"`
	Error   string `json:"error,omitempty"`
}

type fleetView struct {
	Outcomes []opOutcomeView `json:"outcomes"`
	Failures int             `json:"failures"`
}

type cleanupOutcomeView struct {
	Service       string `json:"service"`
	RemovedRecord bool   `json:"removed_record"`
	KilledPID     int    `json:"killed_pid,omitempty"`
	Reason        string `json:"reason"`
	Error         string `json:"error,omitempty"`
}

type cleanupView struct {
	StartedAt       time.Time            `json:"started_at"`
	DurationMS      int64                `json:"duration_ms"`
	Outcomes        []cleanupOutcomeView `json:"outcomes"`
	RemovedRecords  int                  `json:"removed_records"`
	KilledProcesses int                  `json:"killed_processes"`
	Failures        int                  `json:"failures"`
}

func newServiceResultView(sr reconcile.ServiceResult) serviceResultView {
	v := serviceResultView{
		Service:  sr.Service,
		Category: sr.Category.String(),
		Skipped:  sr.Skipped,
	}
	for _, ao := range sr.Actions {
		av := actionView{Action: ao.Action.String()}
		if ao.Err != nil {
			av.Error = ao.Err.Error()
		}
		v.Actions = append(v.Actions, av)
	}
	if sr.Err != nil {
		v.Error = sr.Err.Error()
	}
	return v
}

func newPassView(res reconcile.Result) passView {
	v := passView{
		StartedAt:    res.StartedAt,
		DurationMS:   res.Duration.Milliseconds(),
		Services:     make([]serviceResultView, 0, len(res.Services)),
		Categories:   res.Counts(),
		ActionsTaken: res.ActionsTaken(),
		Failures:     res.Failures(),
	}
	for _, sr := range res.Services {
		v.Services = append(v.Services, newServiceResultView(sr))
	}
	for _, err := range res.ConfigErrors {
		v.ConfigErrors = append(v.ConfigErrors, err.Error())
	}
	return v
}

func newFleetView(outcomes []reconcile.OpOutcome) fleetView {
	v := fleetView{
		Outcomes: make([]opOutcomeView, 0, len(outcomes)),
		Failures: reconcile.FailedOps(outcomes),
	}
	for _, o := range outcomes {
		ov := opOutcomeView{Service: o.Service}
		if o.Err != nil {
			ov.Error = o.Err.Error()
		}
		v.Outcomes = append(v.Outcomes, ov)
	}
	return v
}

func newCleanupView(res reconcile.CleanupResult) cleanupView {
	v := cleanupView{
		StartedAt:       res.StartedAt,
		DurationMS:      res.Duration.Milliseconds(),
		Outcomes:        make([]cleanupOutcomeView, 0, len(res.Outcomes)),
		RemovedRecords:  res.RemovedRecords(),
		KilledProcesses: res.KilledProcesses(),
		Failures:        res.Failures(),
	}
	for _, o := range res.Outcomes {
		ov := cleanupOutcomeView{
			Service:       o.Service,
			RemovedRecord: o.RemovedRecord,
			KilledPID:     o.KilledPID,
			Reason:        o.Reason,
		}
		if o.Err != nil {
			ov.Error = o.Err.Error()
		}
		v.Outcomes = append(v.Outcomes, ov)
	}
	return v
}
