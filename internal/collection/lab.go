package collection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"care-dispatch/internal/apperr"
	"care-dispatch/internal/models"
	"care-dispatch/internal/store"
)

var resultStatuses = map[models.Status]bool{
	models.StatusProcessing:      true,
	models.StatusResultsPartial:  true,
	models.StatusResultsReady:    true,
	models.StatusResultsUploaded: true,
	models.StatusDoctorReviewed:  true,
	models.StatusClosed:          true,
}

// Advance moves an order through processing and results. Lab steps need the
// handling lab; review needs the requester. A critical value reported with
// partial or final results alerts the requester at once.
func (m *Machine) Advance(ctx context.Context, cmd AdvanceCommand) (*TransitionResult, error) {
	if err := requireItem(cmd.ItemID); err != nil {
		return nil, err
	}
	if !resultStatuses[cmd.To] {
		return nil, apperr.Validation("to", fmt.Sprintf("%s is not a result lifecycle status", cmd.To))
	}

	s := step{
		itemID: cmd.ItemID,
		actor:  cmd.ActorID,
		action: "advance",
		to:     cmd.To,
	}
	switch cmd.To {
	case models.StatusDoctorReviewed:
		s.check = requester(cmd.ActorID)
	case models.StatusClosed:
		// operators and the system close orders
	default:
		s.check = partnerLab(cmd.ActorID)
	}

	reportsResults := cmd.To == models.StatusResultsPartial || cmd.To == models.StatusResultsReady
	if cmd.CriticalValue && reportsResults {
		s.apply = func(item *models.WorkItem, _ time.Time, fx *effects) {
			if item.CriticalValue {
				return
			}
			item.CriticalValue = true
			fx.flag(FlagCriticalValue)
			n := models.Notification{
				EventType: models.EventCriticalResult,
				Urgent:    true,
				Title:     "Critical lab value",
				Body:      fmt.Sprintf("Order %s has a critical result. Please acknowledge.", item.ID),
			}
			notifyRequester(item, fx, n)
		}
	}
	return m.run(ctx, s)
}

// AcknowledgeCritical records that the requester has seen a critical value.
// Acknowledging twice keeps the first time.
func (m *Machine) AcknowledgeCritical(ctx context.Context, cmd ActorCommand) (*models.WorkItem, error) {
	if err := requireItem(cmd.ItemID); err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(cmd.ItemID)
	defer unlock()

	item, err := m.repo.GetWorkItem(ctx, cmd.ItemID)
	if err != nil {
		return nil, err
	}
	if err := requester(cmd.ActorID)(item); err != nil {
		return nil, err
	}
	if !item.CriticalValue {
		return nil, apperr.InvalidState(fmt.Sprintf("order %s has no critical value", item.ID), nil)
	}
	if item.CriticalAckAt != nil {
		return item, nil
	}

	now := m.now().UTC()
	next := item.Clone()
	next.CriticalAckAt = &now
	next.UpdatedAt = now
	if err := m.repo.UpdateWorkItem(ctx, next, item.Status); err != nil {
		if errors.Is(err, store.ErrStale) {
			return nil, apperr.Conflict(fmt.Sprintf("work item %s changed concurrently", item.ID), err)
		}
		return nil, err
	}
	m.audit.Audit(cmd.ActorID, "acknowledge_critical", item.ID, true, nil)
	return next, nil
}
