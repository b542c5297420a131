package assignment

import (
	"context"

	"care-dispatch/internal/models"
	"care-dispatch/internal/store"
)

// DataStore is the slice of the store the scheduler reads and commits through.
type DataStore interface {
	GetWorkItem(ctx context.Context, id string) (*models.WorkItem, error)
	ListWorkers(ctx context.Context, role models.Role) ([]*models.Worker, error)
	DailyLoads(ctx context.Context, workerIDs []string, date string) (map[string]int, error)
	CommitAssignment(ctx context.Context, c store.AssignmentCommit) (*models.WorkItem, error)
	CommitCancellation(ctx context.Context, c store.CancellationCommit) (*models.WorkItem, error)
}

// Alerter sends fire-and-forget notifications. Ops addresses the operator group.
type Alerter interface {
	Emit(ctx context.Context, n models.Notification)
	Ops(ctx context.Context, n models.Notification)
}
