package store

import (
	"context"

	"candidate-harvester/internal/models"
)

// StatusStore persists harvesting run status.
type StatusStore interface {
	SetStatus(ctx context.Context, status models.RunStatus) error
	GetStatus(ctx context.Context, runID string) (models.RunStatus, bool, error)
}
