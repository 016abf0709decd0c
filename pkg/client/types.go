package client

import "time"

// ServiceStatus is the daemon's view of one configured service.
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

// Healthz is the daemon self-check.
type Healthz struct {
	Status         string            `json:"status"`
	Uptime         string            `json:"uptime"`
	Events         map[string]uint64 `json:"events,omitempty"`
	ActiveServices int               `json:"active_services,omitempty"`
}

// ActionResult is one corrective action executed during reconciliation.
type ActionResult struct {
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

// ServiceResult is the reconciliation outcome for one service.
type ServiceResult struct {
	Service  string         `json:"service"`
	Category string         `json:"category"`
	Actions  []ActionResult `json:"actions,omitempty"`
	Error    string         `json:"error,omitempty"`
	Skipped  bool           `json:"skipped,omitempty"`
}

// PassSummary is one reconciliation pass over the fleet.
type PassSummary struct {
	StartedAt    time.Time       `json:"started_at"`
	DurationMS   int64           `json:"duration_ms"`
	Services     []ServiceResult `json:"services"`
	Categories   map[string]int  `json:"categories"`
	ActionsTaken int             `json:"actions_taken"`
	Failures     int             `json:"failures"`
	ConfigErrors []string        `json:"config_errors,omitempty"`
}

// FleetOutcome is one service's result in a fleet-wide operation.
type FleetOutcome struct {
	Service string `json:"service"`
	Error   string `json:"error,omitempty"`
}

// FleetResult is a fleet-wide start, stop, or restart.
type FleetResult struct {
	Outcomes []FleetOutcome `json:"outcomes"`
	Failures int            `json:"failures"`
}

// CleanupOutcome is one record or process tidied by cleanup.
type CleanupOutcome struct {
	Service       string `json:"service"`
	RemovedRecord bool   `json:"removed_record"`
	KilledPID     int    `json:"killed_pid,omitempty"`
	Reason        string `json:"reason"`
	Error         string `json:"error,omitempty"`
}

// CleanupSummary is one operator cleanup run.
type CleanupSummary struct {
	StartedAt       time.Time        `json:"started_at"`
	DurationMS      int64            `json:"duration_ms"`
	Outcomes        []CleanupOutcome `json:"outcomes"`
	RemovedRecords  int              `json:"removed_records"`
	KilledProcesses int              `json:"killed_processes"`
	Failures        int              `json:"failures"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
