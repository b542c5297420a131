// Package store persists work items, workers and daily rosters. The
// assignment write path goes through typed commits that apply every change
// of one decision atomically.
package store

import (
	"context"
	"errors"
	"time"

	"care-dispatch/internal/models"
)

var (
	// ErrCapacityExhausted means the worker's roster was full when the
	// commit tried to take a booking. Nothing was written.
	ErrCapacityExhausted = errors.New("worker daily capacity exhausted")
	// ErrStale means the item no longer matched the expected status or
	// worker. Nothing was written.
	ErrStale = errors.New("work item changed concurrently")
)

type WorkItemRepository interface {
	GetWorkItem(ctx context.Context, id string) (*models.WorkItem, error)
	CreateWorkItem(ctx context.Context, item *models.WorkItem) error
	// UpdateWorkItem replaces the stored item if its status still equals
	// expected, otherwise it returns ErrStale.
	UpdateWorkItem(ctx context.Context, item *models.WorkItem, expected models.Status) error
	// MarkLabAlerted records lab SLA alerts without touching any other field.
	// A critical flag is refused with ErrStale once the value is acknowledged.
	MarkLabAlerted(ctx context.Context, id string, flags LabAlertFlags, at time.Time) error
	ListByStatus(ctx context.Context, statuses []models.Status) ([]*models.WorkItem, error)
	// ListBreached returns items in one of statuses whose deadline is before t.
	ListBreached(ctx context.Context, statuses []models.Status, t time.Time) ([]*models.WorkItem, error)
}

type WorkerRepository interface {
	GetWorker(ctx context.Context, id string) (*models.Worker, error)
	SaveWorker(ctx context.Context, w *models.Worker) error
	ListWorkers(ctx context.Context, role models.Role) ([]*models.Worker, error)
	// OpenAssignmentCounts counts items per worker in an open status.
	OpenAssignmentCounts(ctx context.Context, workerIDs []string) (map[string]int, error)
}

type RosterRepository interface {
	GetRoster(ctx context.Context, workerID, date string) (*models.DailyRoster, error)
	// DailyLoads reads each worker's bookings for date. Workers without a
	// roster row report their live open assignment count.
	DailyLoads(ctx context.Context, workerIDs []string, date string) (map[string]int, error)
	// IncrementRoster takes one booking if the total is below capacity.
	IncrementRoster(ctx context.Context, workerID, date string, capacity int) (int, error)
	// DecrementRoster releases one booking, never going below zero.
	DecrementRoster(ctx context.Context, workerID, date string) (int, error)
}

type Committer interface {
	CommitAssignment(ctx context.Context, c AssignmentCommit) (*models.WorkItem, error)
	CommitCancellation(ctx context.Context, c CancellationCommit) (*models.WorkItem, error)
}

type Store interface {
	WorkItemRepository
	WorkerRepository
	RosterRepository
	Committer
}

// AssignmentCommit is every write of one placement decision.
type AssignmentCommit struct {
	ItemID           string
	ExpectedStatus   models.Status
	ExpectedWorkerID string

	WorkerID   string
	Capacity   int
	RosterDate string

	Status     models.Status
	Deadline   time.Time
	AssignedAt time.Time

	// AppendPrevious is pushed onto previous_worker_ids when set.
	AppendPrevious string
	// ReleaseWorkerID gives back one booking on ReleaseDate when set.
	ReleaseWorkerID string
	ReleaseDate     string
}

// LabAlertFlags names the once-per-order lab alerts being recorded.
type LabAlertFlags struct {
	Turnaround bool
	Critical   bool
}

// CancellationCommit moves an item to CANCELLED, optionally releasing the
// roster slot it held.
type CancellationCommit struct {
	ItemID         string
	ExpectedStatus models.Status
	Reason         string
	CancelledAt    time.Time

	ReleaseWorkerID string
	ReleaseDate     string
}
