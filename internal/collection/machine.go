// Package collection drives a lab order through the physical hand-off chain
// and the lab-side result lifecycle.
package collection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"care-dispatch/internal/apperr"
	"care-dispatch/internal/locks"
	"care-dispatch/internal/logger"
	"care-dispatch/internal/models"
	"care-dispatch/internal/store"
	"care-dispatch/internal/workflow"

	"github.com/sirupsen/logrus"
)

type Settings struct {
	FastingHours     float64
	MaxAttempts      int
	ResultTurnaround time.Duration
}

func DefaultSettings() Settings {
	return Settings{FastingHours: 8, MaxAttempts: 2, ResultTurnaround: models.LabResultTurnaround}
}

type Machine struct {
	repo      Repository
	scheduler Scheduler
	alerts    Alerter
	log       *logrus.Entry
	audit     *logger.Logger
	locks     *locks.Striped
	settings  Settings
	now       func() time.Time
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithSettings(s Settings) Option {
	return func(m *Machine) { m.settings = s }
}

// WithLocks shares the per-item lock set with the scheduler.
func WithLocks(l *locks.Striped) Option {
	return func(m *Machine) { m.locks = l }
}

func NewMachine(repo Repository, scheduler Scheduler, alerts Alerter, log *logger.Logger, opts ...Option) *Machine {
	m := &Machine{
		repo:      repo,
		scheduler: scheduler,
		alerts:    alerts,
		log:       log.WithComponent("collection"),
		audit:     log,
		settings:  DefaultSettings(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.locks == nil {
		m.locks = locks.NewStriped(locks.DefaultStripes)
	}
	return m
}

// step is one guarded state change. check runs against the loaded item
// before anything is written; apply mutates the copy that gets stored.
type step struct {
	itemID string
	actor  string
	action string
	to     models.Status
	check  func(item *models.WorkItem) error
	apply  func(item *models.WorkItem, now time.Time, fx *effects)
}

// effects collects flags and notifications raised while applying a step.
// Notifications are sent once the item lock is released.
type effects struct {
	flags []string
	emit  []models.Notification
	ops   []models.Notification
}

func (fx *effects) flag(f string) { fx.flags = append(fx.flags, f) }

func (m *Machine) run(ctx context.Context, s step) (*TransitionResult, error) {
	res, fx, err := m.runLocked(ctx, s)
	if err != nil {
		m.audit.Audit(s.actor, s.action, s.itemID, false, map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	m.audit.Audit(s.actor, s.action, s.itemID, true, map[string]interface{}{
		"from":  res.From,
		"to":    res.To,
		"flags": res.Flags,
	})
	for _, n := range fx.emit {
		m.alerts.Emit(ctx, n)
	}
	for _, n := range fx.ops {
		m.alerts.Ops(ctx, n)
	}
	return res, nil
}

func (m *Machine) runLocked(ctx context.Context, s step) (*TransitionResult, *effects, error) {
	unlock := m.locks.Lock(s.itemID)
	defer unlock()

	item, err := m.repo.GetWorkItem(ctx, s.itemID)
	if err != nil {
		return nil, nil, err
	}
	from := item.Status
	if !workflow.IsValidTransition(item.Kind, from, s.to) {
		return nil, nil, apperr.InvalidTransition(string(from), string(s.to))
	}
	if s.check != nil {
		if err := s.check(item); err != nil {
			return nil, nil, err
		}
	}

	now := m.now().UTC()
	next := item.Clone()
	next.Status = s.to
	if field := workflow.TimestampField(s.to); field != "" {
		next.Milestones.Set(field, now)
	}
	next.UpdatedAt = now

	fx := &effects{}
	if s.apply != nil {
		s.apply(next, now, fx)
	}

	if err := m.repo.UpdateWorkItem(ctx, next, from); err != nil {
		if errors.Is(err, store.ErrStale) {
			return nil, nil, apperr.Conflict(fmt.Sprintf("work item %s changed concurrently", s.itemID), err)
		}
		return nil, nil, err
	}

	m.log.WithFields(logrus.Fields{
		"item_id": s.itemID,
		"actor":   s.actor,
		"from":    from,
		"to":      s.to,
		"flags":   fx.flags,
	}).Info("Work item advanced")
	return &TransitionResult{Item: next, From: from, To: s.to, Flags: fx.flags}, fx, nil
}

func requireItem(itemID string) error {
	if strings.TrimSpace(itemID) == "" {
		return apperr.Validation("item_id", "item id is required")
	}
	return nil
}

func assignedWorker(actor string) func(*models.WorkItem) error {
	return func(item *models.WorkItem) error {
		if actor == "" || actor != item.AssignedWorkerID {
			return apperr.Forbidden(fmt.Sprintf("%q is not the worker assigned to %s", actor, item.ID))
		}
		return nil
	}
}

func partnerLab(actor string) func(*models.WorkItem) error {
	return func(item *models.WorkItem) error {
		if actor == "" || actor != item.LabID {
			return apperr.Forbidden(fmt.Sprintf("%q is not the lab handling %s", actor, item.ID))
		}
		return nil
	}
}

func labOrRequester(actor string) func(*models.WorkItem) error {
	return func(item *models.WorkItem) error {
		if actor == "" || (actor != item.LabID && actor != item.RequestedBy) {
			return apperr.Forbidden(fmt.Sprintf("%q may not rebook collection for %s", actor, item.ID))
		}
		return nil
	}
}

func requester(actor string) func(*models.WorkItem) error {
	return func(item *models.WorkItem) error {
		if actor == "" || actor != item.RequestedBy {
			return apperr.Forbidden(fmt.Sprintf("%q did not request %s", actor, item.ID))
		}
		return nil
	}
}

// notifyRequester addresses n to whoever requested the item, or to operators
// when nobody is recorded.
func notifyRequester(item *models.WorkItem, fx *effects, n models.Notification) {
	n.ItemID = item.ID
	if item.RequestedBy == "" {
		fx.ops = append(fx.ops, n)
		return
	}
	n.RecipientID = item.RequestedBy
	n.Role = models.RoleDoctor
	fx.emit = append(fx.emit, n)
}
