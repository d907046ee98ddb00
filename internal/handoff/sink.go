// Package handoff forwards selected candidates to the downstream topic.
package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"candidate-harvester/internal/kafka"
	"candidate-harvester/internal/models"
)

// Sink implements crawler.CandidateSink on top of a seen-set and a Kafka topic.
type Sink struct {
	seen      SeenStore
	publisher kafka.CandidatePublisher
	log       zerolog.Logger
	now       func() time.Time
}

// NewSink builds a sink.
func NewSink(seen SeenStore, publisher kafka.CandidatePublisher, logger zerolog.Logger) *Sink {
	return &Sink{
		seen:      seen,
		publisher: publisher,
		log:       logger,
		now:       time.Now,
	}
}

// Exists reports whether the profile was already handed off.
func (s *Sink) Exists(ctx context.Context, profileURL string) (bool, error) {
	seen, err := s.seen.Seen(ctx, profileURL)
	if err != nil {
		return false, fmt.Errorf("check seen profile: %w", err)
	}
	return seen, nil
}

// Create publishes the candidate and then marks it seen. Publishing twice is harmless because
// consumers merge on profile URL.
func (s *Sink) Create(ctx context.Context, candidate models.Candidate, hc models.HandoffContext) error {
	record := models.CandidateRecord{
		RunID:      hc.RunID,
		Unit:       hc.Unit,
		Candidate:  candidate,
		CapturedAt: s.now().UTC(),
	}
	if err := s.publisher.WriteCandidate(ctx, record); err != nil {
		return fmt.Errorf("publish candidate: %w", err)
	}
	if err := s.seen.MarkSeen(ctx, candidate.ProfileURL); err != nil {
		return fmt.Errorf("mark candidate seen: %w", err)
	}
	s.log.Debug().
		Str("profile_url", candidate.ProfileURL).
		Str("company", hc.Unit.Company).
		Str("role", hc.Unit.Role).
		Msg("candidate handed off")
	return nil
}
