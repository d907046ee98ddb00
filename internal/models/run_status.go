package models

import "time"

// RunState is the externally reported state of an orchestrator run.
type RunState string

const (
	RunIdle           RunState = "idle"
	RunRunning        RunState = "running"
	RunCompleted      RunState = "completed"
	RunPaused         RunState = "paused"
	RunRestricted     RunState = "restricted"
	RunSessionInvalid RunState = "session_invalid"
	RunQuotaExhausted RunState = "quota_exhausted"
	RunInterrupted    RunState = "interrupted"
	RunFailed         RunState = "failed"
)

// RunStatus tracks the state of a harvesting run.
type RunStatus struct {
	RunID        string      `json:"run_id"`
	State        RunState    `json:"state"`
	Reason       string      `json:"reason,omitempty"`
	CurrentUnit  *SearchUnit `json:"current_unit,omitempty"`
	UnitsTotal   int         `json:"units_total"`
	UnitsDone    int         `json:"units_done"`
	UnitsSkipped int         `json:"units_skipped"`
	UnitsFailed  int         `json:"units_failed"`
	Extracted    int         `json:"candidates_extracted"`
	Selected     int         `json:"candidates_selected"`
	HandedOff    int         `json:"candidates_handed_off"`
	StartedAt    time.Time   `json:"started_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// NeedsHuman reports whether the run is stopped on something only an operator can resolve.
func (s RunStatus) NeedsHuman() bool {
	return s.State == RunPaused || s.State == RunRestricted || s.State == RunSessionInvalid
}
