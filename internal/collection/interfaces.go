package collection

import (
	"context"

	"care-dispatch/internal/models"
)

type Repository interface {
	GetWorkItem(ctx context.Context, id string) (*models.WorkItem, error)
	UpdateWorkItem(ctx context.Context, item *models.WorkItem, expected models.Status) error
}

// Scheduler places an item with a new worker. Rebooking a failed collection
// goes through it so capacity and roster rules apply unchanged.
type Scheduler interface {
	Assign(ctx context.Context, itemID string, exclude ...string) (*models.AssignmentOutcome, error)
}

type Alerter interface {
	Emit(ctx context.Context, n models.Notification)
	Ops(ctx context.Context, n models.Notification)
}
