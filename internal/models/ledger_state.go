package models

import "time"

// FailureKind classifies failures fed back into the rate-limit ledger.
type FailureKind string

const (
	FailureForbidden   FailureKind = "forbidden"
	FailureRateLimited FailureKind = "rate_limited"
	FailureNetwork     FailureKind = "network"
)

// LedgerState is the persisted rate-limit record.
type LedgerState struct {
	Date          string              `json:"date"`
	RequestCount  int                 `json:"requestCount"`
	BackoffUntil  *time.Time          `json:"backoffUntil"`
	ErrorCounters map[FailureKind]int `json:"errorCounters"`
}

// NewLedgerState returns an empty state for the given quota day.
func NewLedgerState(date string) LedgerState {
	return LedgerState{
		Date: date,
		ErrorCounters: map[FailureKind]int{
			FailureForbidden:   0,
			FailureRateLimited: 0,
			FailureNetwork:     0,
		},
	}
}
