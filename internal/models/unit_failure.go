package models

import "time"

// UnitFailure captures an abandoned search unit for the failure topic.
type UnitFailure struct {
	RunID    string     `json:"run_id"`
	Unit     SearchUnit `json:"unit"`
	URL      string     `json:"url"`
	Kind     string     `json:"kind"`
	Error    string     `json:"error"`
	FailedAt time.Time  `json:"failed_at"`
}
