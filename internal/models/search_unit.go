package models

import "strings"

// UnitState tracks a SearchUnit through a run.
type UnitState string

const (
	UnitPending   UnitState = "PENDING"
	UnitInFlight  UnitState = "IN_FLIGHT"
	UnitCompleted UnitState = "COMPLETED"
	UnitSkipped   UnitState = "SKIPPED"
	UnitHalted    UnitState = "HALTED"
	UnitFailed    UnitState = "FAILED"
)

// SearchUnit is one (company, role) pair searched in a single pass.
type SearchUnit struct {
	CompanyID string `json:"company_id" bson:"company_id"`
	Company   string `json:"company" bson:"company"`
	Role      string `json:"role" bson:"role"`
}

// Key identifies the unit by its case-insensitive (company, role) pair.
func (u SearchUnit) Key() string {
	return strings.ToLower(strings.TrimSpace(u.Company)) + "|" + strings.ToLower(strings.TrimSpace(u.Role))
}

// CompanyKey groups units belonging to the same company.
func (u SearchUnit) CompanyKey() string {
	if u.CompanyID != "" {
		return u.CompanyID
	}
	return strings.ToLower(strings.TrimSpace(u.Company))
}
