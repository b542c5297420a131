package assignment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"care-dispatch/internal/apperr"
	"care-dispatch/internal/models"
	"care-dispatch/internal/store"
	"care-dispatch/internal/workflow"

	"github.com/sirupsen/logrus"
)

type CancelCommand struct {
	ItemID  string
	ActorID string
	Reason  string
}

// Cancel moves an item to CANCELLED. An item that still holds a roster
// booking releases it in the same commit.
func (e *Engine) Cancel(ctx context.Context, cmd CancelCommand) (*models.WorkItem, error) {
	if cmd.ItemID == "" {
		return nil, apperr.Validation("item_id", "item id is required")
	}
	if strings.TrimSpace(cmd.Reason) == "" {
		return nil, apperr.Validation("reason", "a cancellation reason is required")
	}

	item, released, err := e.cancelLocked(ctx, cmd)
	if err != nil {
		e.audit.Audit(cmd.ActorID, "cancel", cmd.ItemID, false, map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	e.audit.Audit(cmd.ActorID, "cancel", item.ID, true, map[string]interface{}{
		"reason":        cmd.Reason,
		"released_slot": released,
	})
	if released != "" {
		e.alerts.Emit(ctx, models.Notification{
			RecipientID: released,
			Role:        item.Kind.WorkerRole(),
			EventType:   models.EventAssignmentCancelled,
			ItemID:      item.ID,
			Title:       "Assignment cancelled",
			Body:        fmt.Sprintf("Work item %s was cancelled: %s", item.ID, cmd.Reason),
		})
	}
	return item, nil
}

func (e *Engine) cancelLocked(ctx context.Context, cmd CancelCommand) (*models.WorkItem, string, error) {
	unlock := e.locks.Lock(cmd.ItemID)
	defer unlock()

	item, err := e.db.GetWorkItem(ctx, cmd.ItemID)
	if err != nil {
		return nil, "", err
	}
	if !workflow.IsValidTransition(item.Kind, item.Status, models.StatusCancelled) {
		return nil, "", apperr.InvalidTransition(string(item.Status), string(models.StatusCancelled))
	}

	now := e.now().UTC()
	commit := store.CancellationCommit{
		ItemID:         item.ID,
		ExpectedStatus: item.Status,
		Reason:         cmd.Reason,
		CancelledAt:    now,
	}
	if item.AssignedWorkerID != "" && workflow.HoldsRosterSlot(item.Status) {
		commit.ReleaseWorkerID = item.AssignedWorkerID
		commit.ReleaseDate = releaseDate(item, now)
	}

	updated, err := e.db.CommitCancellation(ctx, commit)
	if errors.Is(err, store.ErrStale) {
		return nil, "", apperr.Conflict(fmt.Sprintf("work item %s changed during cancellation", item.ID), err)
	}
	if err != nil {
		return nil, "", err
	}

	e.log.WithFields(logrus.Fields{
		"item_id":       item.ID,
		"from":          item.Status,
		"released_slot": commit.ReleaseWorkerID,
	}).Info("Work item cancelled")
	return updated, commit.ReleaseWorkerID, nil
}

// AvailableActions loads the item and lists the actions legal from its status.
func (e *Engine) AvailableActions(ctx context.Context, itemID string) ([]string, error) {
	item, err := e.db.GetWorkItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return workflow.AvailableActions(item), nil
}

func releaseDate(item *models.WorkItem, now time.Time) string {
	if at := item.Milestones.Get(models.FieldAssignedAt); at != nil {
		return models.RosterDate(*at)
	}
	return models.RosterDate(now)
}
