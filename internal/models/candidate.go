package models

import "time"

// ExtractionSource records which extraction stage produced a candidate.
type ExtractionSource string

const (
	SourceStructuredData      ExtractionSource = "structured-data"
	SourceStructuralHeuristic ExtractionSource = "structural-heuristic"
)

// RedactedName stands in for profiles whose name the site hides.
const RedactedName = "LinkedIn Member"

// Candidate is a single extracted person record.
type Candidate struct {
	Name       string           `json:"name"`
	ProfileURL string           `json:"profile_url"`
	Title      string           `json:"title,omitempty"`
	Company    string           `json:"company,omitempty"`
	Location   string           `json:"location,omitempty"`
	Source     ExtractionSource `json:"extraction_source"`
}

// RenderedPage is the HTML snapshot of a page after navigation.
type RenderedPage struct {
	URL  string
	HTML string
}

// HandoffContext is the originating unit passed alongside a candidate.
type HandoffContext struct {
	RunID string     `json:"run_id"`
	Unit  SearchUnit `json:"unit"`
}

// CandidateRecord is the message published for each handed-off candidate.
type CandidateRecord struct {
	RunID      string     `json:"run_id"`
	Unit       SearchUnit `json:"unit"`
	Candidate  Candidate  `json:"candidate"`
	CapturedAt time.Time  `json:"captured_at"`
}
