package crawler

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"candidate-harvester/internal/models"
)

// MessageReader abstracts kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter abstracts kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CandidateSink is the downstream duplicate-check-and-create collaborator.
// Both calls are treated as idempotent; failures are not retried by the caller.
type CandidateSink interface {
	Exists(ctx context.Context, profileURL string) (bool, error)
	Create(ctx context.Context, candidate models.Candidate, hc models.HandoffContext) error
}

// UnitSource supplies the (company, role) pairs to search and the staleness predicate.
type UnitSource interface {
	Units(ctx context.Context) ([]models.SearchUnit, error)
	ShouldSearch(ctx context.Context, companyID string) (bool, error)
}

// Checkpointer records that every unit of a company has been searched.
type Checkpointer interface {
	MarkScraped(ctx context.Context, companyID string, at time.Time) error
}

// FailureSink receives units abandoned after exhausting retries.
type FailureSink interface {
	PublishFailure(ctx context.Context, failure models.UnitFailure) error
}
