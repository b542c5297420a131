package escalation

import (
	"context"
	"time"

	"care-dispatch/internal/models"
	"care-dispatch/internal/store"
)

type Repository interface {
	GetWorkItem(ctx context.Context, id string) (*models.WorkItem, error)
	ListBreached(ctx context.Context, statuses []models.Status, t time.Time) ([]*models.WorkItem, error)
	ListByStatus(ctx context.Context, statuses []models.Status) ([]*models.WorkItem, error)
	UpdateWorkItem(ctx context.Context, item *models.WorkItem, expected models.Status) error
	MarkLabAlerted(ctx context.Context, id string, flags store.LabAlertFlags, at time.Time) error
}

// Reassigner moves an assigned item to a worker outside exclude.
type Reassigner interface {
	Reassign(ctx context.Context, itemID string, exclude []string) (*models.AssignmentOutcome, error)
}

type Alerter interface {
	Emit(ctx context.Context, n models.Notification)
	Ops(ctx context.Context, n models.Notification)
}
