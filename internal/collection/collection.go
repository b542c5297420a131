package collection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"care-dispatch/internal/apperr"
	"care-dispatch/internal/models"
)

// StartRoute records that the assigned phlebotomist is on the way.
func (m *Machine) StartRoute(ctx context.Context, cmd ActorCommand) (*TransitionResult, error) {
	if err := requireItem(cmd.ItemID); err != nil {
		return nil, err
	}
	return m.run(ctx, step{
		itemID: cmd.ItemID,
		actor:  cmd.ActorID,
		action: "start_route",
		to:     models.StatusPhlebotomistEnRoute,
		check:  assignedWorker(cmd.ActorID),
	})
}

// MarkCollected records a successful draw. A fasting shortfall is flagged and
// reported to the requester without blocking the transition.
func (m *Machine) MarkCollected(ctx context.Context, cmd CollectCommand) (*TransitionResult, error) {
	if err := requireItem(cmd.ItemID); err != nil {
		return nil, err
	}
	if cmd.TubeCount <= 0 {
		return nil, apperr.Validation("tube_count", "tube count must be positive")
	}
	if cmd.FastingHours < 0 {
		return nil, apperr.Validation("fasting_hours", "fasting hours cannot be negative")
	}

	minFasting := m.settings.FastingHours
	return m.run(ctx, step{
		itemID: cmd.ItemID,
		actor:  cmd.ActorID,
		action: "mark_collected",
		to:     models.StatusSampleCollected,
		check:  assignedWorker(cmd.ActorID),
		apply: func(item *models.WorkItem, _ time.Time, fx *effects) {
			item.CollectedTubeCount = cmd.TubeCount
			if !item.FastingRequired || cmd.FastingHours >= minFasting {
				return
			}
			item.FastingViolation = true
			fx.flag(FlagFastingViolation)
			notifyRequester(item, fx, models.Notification{
				EventType: models.EventFastingViolation,
				Title:     "Fasting requirement not met",
				Body: fmt.Sprintf("Sample for order %s was drawn after %.1f hours of fasting (%.1f required).",
					item.ID, cmd.FastingHours, minFasting),
				Data: map[string]interface{}{"fasting_hours": cmd.FastingHours, "required_hours": minFasting},
			})
		},
	})
}

// MarkFailed records a failed visit. Reaching the attempt limit alerts
// operators; it is independent of the SLA bounce limit.
func (m *Machine) MarkFailed(ctx context.Context, cmd FailCommand) (*TransitionResult, error) {
	if err := requireItem(cmd.ItemID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cmd.Reason) == "" {
		return nil, apperr.Validation("reason", "a failure reason is required")
	}

	maxAttempts := m.settings.MaxAttempts
	return m.run(ctx, step{
		itemID: cmd.ItemID,
		actor:  cmd.ActorID,
		action: "mark_failed",
		to:     models.StatusCollectionFailed,
		check:  assignedWorker(cmd.ActorID),
		apply: func(item *models.WorkItem, _ time.Time, fx *effects) {
			item.CollectionAttempts++
			item.FailureReason = cmd.Reason
			if maxAttempts <= 0 || item.CollectionAttempts < maxAttempts {
				return
			}
			fx.flag(FlagAttemptLimitReached)
			fx.ops = append(fx.ops, models.Notification{
				EventType: models.EventCollectionAttempts,
				ItemID:    item.ID,
				Title:     "Collection attempts exhausted",
				Body: fmt.Sprintf("Order %s failed collection %d times (limit %d). Last reason: %s",
					item.ID, item.CollectionAttempts, maxAttempts, cmd.Reason),
				Data: map[string]interface{}{"attempts": item.CollectionAttempts, "reason": cmd.Reason},
			})
		},
	})
}

// Rebook hands a failed collection back to the scheduler.
func (m *Machine) Rebook(ctx context.Context, itemID string) (*models.AssignmentOutcome, error) {
	if err := requireItem(itemID); err != nil {
		return nil, err
	}
	item, err := m.repo.GetWorkItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != models.StatusCollectionFailed {
		return nil, apperr.InvalidState(fmt.Sprintf("order %s has no failed collection to rebook", itemID),
			map[string]interface{}{"status": item.Status})
	}
	return m.scheduler.Assign(ctx, itemID)
}

func (m *Machine) StartTransit(ctx context.Context, cmd ActorCommand) (*TransitionResult, error) {
	if err := requireItem(cmd.ItemID); err != nil {
		return nil, err
	}
	return m.run(ctx, step{
		itemID: cmd.ItemID,
		actor:  cmd.ActorID,
		action: "start_transit",
		to:     models.StatusSampleInTransit,
		check:  assignedWorker(cmd.ActorID),
	})
}

// MarkDelivered records hand-over to a partner lab. An order already routed
// to a lab must be delivered to that lab.
func (m *Machine) MarkDelivered(ctx context.Context, cmd DeliverCommand) (*TransitionResult, error) {
	if err := requireItem(cmd.ItemID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cmd.LabID) == "" {
		return nil, apperr.Validation("lab_id", "lab id is required")
	}
	isWorker := assignedWorker(cmd.ActorID)
	return m.run(ctx, step{
		itemID: cmd.ItemID,
		actor:  cmd.ActorID,
		action: "mark_delivered",
		to:     models.StatusDeliveredToLab,
		check: func(item *models.WorkItem) error {
			if err := isWorker(item); err != nil {
				return err
			}
			if item.LabID != "" && item.LabID != cmd.LabID {
				return apperr.Validation("lab_id", fmt.Sprintf("order %s is routed to lab %s", item.ID, item.LabID))
			}
			return nil
		},
		apply: func(item *models.WorkItem, _ time.Time, _ *effects) {
			item.LabID = cmd.LabID
		},
	})
}

// MarkReceived records the lab's receipt. A tube-count mismatch is flagged
// and reported to operators without blocking. The result due time starts here.
func (m *Machine) MarkReceived(ctx context.Context, cmd ReceiveCommand) (*TransitionResult, error) {
	if err := requireItem(cmd.ItemID); err != nil {
		return nil, err
	}
	if cmd.TubeCount <= 0 {
		return nil, apperr.Validation("tube_count", "tube count must be positive")
	}

	turnaround := m.settings.ResultTurnaround
	return m.run(ctx, step{
		itemID: cmd.ItemID,
		actor:  cmd.ActorID,
		action: "mark_received",
		to:     models.StatusSampleReceived,
		check:  partnerLab(cmd.ActorID),
		apply: func(item *models.WorkItem, now time.Time, fx *effects) {
			item.ReceivedTubeCount = cmd.TubeCount
			due := now.Add(turnaround)
			item.ResultsDueAt = &due
			if item.CollectedTubeCount == cmd.TubeCount {
				return
			}
			item.TubeCountMismatch = true
			fx.flag(FlagTubeCountMismatch)
			fx.ops = append(fx.ops, models.Notification{
				EventType: models.EventTubeCountMismatch,
				ItemID:    item.ID,
				Title:     "Tube count mismatch",
				Body: fmt.Sprintf("Lab %s received %d tubes for order %s; %d were collected.",
					item.LabID, cmd.TubeCount, item.ID, item.CollectedTubeCount),
				Data: map[string]interface{}{"collected": item.CollectedTubeCount, "received": cmd.TubeCount},
			})
		},
	})
}

// ReportSampleIssue records a problem with a delivered or received sample.
func (m *Machine) ReportSampleIssue(ctx context.Context, cmd IssueCommand) (*TransitionResult, error) {
	if err := requireItem(cmd.ItemID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cmd.Reason) == "" {
		return nil, apperr.Validation("reason", "an issue reason is required")
	}
	return m.run(ctx, step{
		itemID: cmd.ItemID,
		actor:  cmd.ActorID,
		action: "report_issue",
		to:     models.StatusSampleIssue,
		check:  partnerLab(cmd.ActorID),
		apply: func(item *models.WorkItem, _ time.Time, fx *effects) {
			item.IssueReason = cmd.Reason
			n := models.Notification{
				EventType: models.EventSampleIssue,
				Title:     "Sample issue reported",
				Body:      fmt.Sprintf("Lab %s reported a problem with order %s: %s", item.LabID, item.ID, cmd.Reason),
				Data:      map[string]interface{}{"reason": cmd.Reason},
			}
			n.ItemID = item.ID
			fx.ops = append(fx.ops, n)
			if item.RequestedBy != "" {
				notifyRequester(item, fx, n)
			}
		},
	})
}

// RebookCollection sends an order with a sample issue back to slot booking
// so a fresh draw can be scheduled. The handling lab or the requester may ask
// for it. Everything learned from the rejected sample is cleared; the
// phlebotomist who drew it stays in the order's history.
func (m *Machine) RebookCollection(ctx context.Context, cmd ActorCommand) (*TransitionResult, error) {
	if err := requireItem(cmd.ItemID); err != nil {
		return nil, err
	}
	return m.run(ctx, step{
		itemID: cmd.ItemID,
		actor:  cmd.ActorID,
		action: "rebook_collection",
		to:     models.StatusSlotBooked,
		check:  labOrRequester(cmd.ActorID),
		apply: func(item *models.WorkItem, _ time.Time, _ *effects) {
			if item.AssignedWorkerID != "" {
				item.PreviousWorkerIDs = append(item.PreviousWorkerIDs, item.AssignedWorkerID)
			}
			item.AssignedWorkerID = ""
			item.Deadline = nil
			resetSample(item)
		},
	})
}

func resetSample(item *models.WorkItem) {
	item.CollectedTubeCount = 0
	item.ReceivedTubeCount = 0
	item.FastingViolation = false
	item.TubeCountMismatch = false
	item.ResultsDueAt = nil
	item.TurnaroundAlerted = false
	item.CriticalValue = false
	item.CriticalAckAt = nil
	item.CriticalAlerted = false
}
