// Package escalation watches deadlines on outstanding work and drives
// reassignment when a worker lets one lapse.
package escalation

import (
	"context"
	"fmt"
	"time"

	"care-dispatch/internal/locks"
	"care-dispatch/internal/logger"
	"care-dispatch/internal/metrics"
	"care-dispatch/internal/models"
	"care-dispatch/internal/workflow"

	"github.com/sirupsen/logrus"
)

// Scan names used for metrics.
const (
	ScanAssignment = "assignment_sla"
	ScanLab        = "lab_sla"
)

// Per-item scan outcomes.
const (
	OutcomeReassigned  = "reassigned"
	OutcomeNotAssigned = "not_assigned"
	OutcomeMaxBounced  = "max_bounced"
	OutcomeFailed      = "failed"
)

type ScanReport struct {
	Scanned     int `json:"scanned"`
	Reassigned  int `json:"reassigned"`
	NotAssigned int `json:"not_assigned"`
	MaxBounced  int `json:"max_bounced"`
	Failed      int `json:"failed"`
}

func (r *ScanReport) add(outcome string) {
	switch outcome {
	case OutcomeReassigned:
		r.Reassigned++
	case OutcomeNotAssigned:
		r.NotAssigned++
	case OutcomeMaxBounced:
		r.MaxBounced++
	default:
		r.Failed++
	}
}

type Timer struct {
	repo       Repository
	scheduler  Reassigner
	alerts     Alerter
	log        *logrus.Entry
	metrics    metrics.Collector
	maxBounces int
	locks      *locks.Striped
	now        func() time.Time
}

type Option func(*options)

type options struct {
	now        func() time.Time
	metrics    metrics.Collector
	maxBounces int
	lab        LabSettings
	locks      *locks.Striped
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithMetrics(m metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithMaxBounces sets how many distinct workers may be excluded before
// automated reassignment stops.
func WithMaxBounces(n int) Option {
	return func(o *options) { o.maxBounces = n }
}

func WithLabSettings(s LabSettings) Option {
	return func(o *options) { o.lab = s }
}

// WithLocks shares the per-item locks held by the scheduler and the
// collection machine, so flag writes never race their updates.
func WithLocks(l *locks.Striped) Option {
	return func(o *options) { o.locks = l }
}

func buildOptions(opts []Option) options {
	o := options{
		now:        time.Now,
		metrics:    metrics.Nop{},
		maxBounces: models.MaxBounces,
		lab:        DefaultLabSettings(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.Nop{}
	}
	if o.locks == nil {
		o.locks = locks.NewStriped(locks.DefaultStripes)
	}
	return o
}

func NewTimer(repo Repository, scheduler Reassigner, alerts Alerter, log *logger.Logger, opts ...Option) *Timer {
	o := buildOptions(opts)
	return &Timer{
		repo:       repo,
		scheduler:  scheduler,
		alerts:     alerts,
		log:        log.WithComponent("escalation"),
		metrics:    o.metrics,
		maxBounces: o.maxBounces,
		locks:      o.locks,
		now:        o.now,
	}
}

// RunScan makes one pass over items whose deadline has passed. A failure on
// one item is logged and counted; it never stops the pass. The returned error
// is reserved for the listing query and context cancellation.
func (t *Timer) RunScan(ctx context.Context) (ScanReport, error) {
	started := t.now()
	var report ScanReport
	defer func() {
		t.metrics.ObserveScanDuration(ScanAssignment, t.now().Sub(started))
	}()

	items, err := t.repo.ListBreached(ctx, workflow.AwaitingStatuses(), started)
	if err != nil {
		return report, fmt.Errorf("list breached items: %w", err)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		outcome := t.processSafely(ctx, item)
		report.add(outcome)
		t.metrics.ObserveScanItem(ScanAssignment, outcome)
	}

	t.log.WithFields(logrus.Fields{
		"scanned":      report.Scanned,
		"reassigned":   report.Reassigned,
		"not_assigned": report.NotAssigned,
		"max_bounced":  report.MaxBounced,
		"failed":       report.Failed,
	}).Info("Escalation scan finished")
	return report, nil
}

func (t *Timer) processSafely(ctx context.Context, item *models.WorkItem) (outcome string) {
	entry := t.log.WithFields(logrus.Fields{"item_id": item.ID, "worker_id": item.AssignedWorkerID})
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Error("Escalation of item panicked")
			outcome = OutcomeFailed
		}
	}()

	outcome, err := t.process(ctx, item)
	if err != nil {
		entry.WithError(err).Error("Escalation of item failed")
		return OutcomeFailed
	}
	return outcome
}

func (t *Timer) process(ctx context.Context, item *models.WorkItem) (string, error) {
	exclude := ExcludeSet(item)
	entry := t.log.WithFields(logrus.Fields{"item_id": item.ID, "bounces": len(exclude)})

	if len(exclude) > t.maxBounces {
		return OutcomeMaxBounced, t.parkMaxBounced(ctx, item, exclude, entry)
	}

	t.alerts.Ops(ctx, models.Notification{
		EventType: models.EventSLABreach,
		ItemID:    item.ID,
		Title:     "SLA deadline missed",
		Body:      fmt.Sprintf("Worker %s missed the deadline on work item %s; reassigning.", item.AssignedWorkerID, item.ID),
		Data:      map[string]interface{}{"worker_id": item.AssignedWorkerID, "deadline": item.Deadline},
	})

	out, err := t.scheduler.Reassign(ctx, item.ID, exclude)
	if err != nil {
		return "", err
	}
	if !out.Assigned {
		entry.WithField("reason", out.Reason).Warn("Breached item could not be reassigned")
		t.alerts.Ops(ctx, models.Notification{
			EventType: models.EventSLAUnresolved,
			ItemID:    item.ID,
			Title:     "Breached item still unassigned",
			Body:      fmt.Sprintf("Work item %s could not be moved off %s (%s).", item.ID, item.AssignedWorkerID, out.Reason),
			Data:      map[string]interface{}{"reason": out.Reason},
		})
		return OutcomeNotAssigned, nil
	}

	entry.WithFields(logrus.Fields{"from": item.AssignedWorkerID, "to": out.WorkerID}).Info("Breached item reassigned")
	return OutcomeReassigned, nil
}

// parkMaxBounced leaves the item with its current holder and pages operators
// once. The flag is cleared by the next assignment commit.
func (t *Timer) parkMaxBounced(ctx context.Context, listed *models.WorkItem, exclude []string, entry *logrus.Entry) error {
	item, err := t.markMaxBounced(ctx, listed)
	if err != nil || item == nil {
		return err
	}

	entry.Warn("Maximum reassignments reached, leaving item for manual handling")
	t.alerts.Ops(ctx, models.Notification{
		EventType: models.EventSLAMaxBounces,
		ItemID:    item.ID,
		Urgent:    true,
		Title:     "Maximum reassignments reached",
		Body: fmt.Sprintf("Work item %s has passed through %d workers and is still unhandled by %s. Manual action required.",
			item.ID, len(exclude), item.AssignedWorkerID),
		Data: map[string]interface{}{
			"assigned_worker_id":  item.AssignedWorkerID,
			"previous_worker_ids": item.PreviousWorkerIDs,
			"max_bounces":         t.maxBounces,
		},
	})
	return nil
}

// markMaxBounced sets the alerted flag under the item lock. It returns nil
// when operators were already paged for this holder or the item moved on.
func (t *Timer) markMaxBounced(ctx context.Context, listed *models.WorkItem) (*models.WorkItem, error) {
	unlock := t.locks.Lock(listed.ID)
	defer unlock()

	item, err := t.repo.GetWorkItem(ctx, listed.ID)
	if err != nil {
		return nil, err
	}
	if item.MaxBouncesAlerted || item.Status != listed.Status || item.AssignedWorkerID != listed.AssignedWorkerID {
		return nil, nil
	}
	next := item.Clone()
	next.MaxBouncesAlerted = true
	next.UpdatedAt = t.now().UTC()
	if err := t.repo.UpdateWorkItem(ctx, next, item.Status); err != nil {
		return nil, err
	}
	return next, nil
}

// ExcludeSet returns every worker who has held item, current holder last,
// without duplicates.
func ExcludeSet(item *models.WorkItem) []string {
	seen := make(map[string]bool, len(item.PreviousWorkerIDs)+1)
	out := make([]string, 0, len(item.PreviousWorkerIDs)+1)
	for _, id := range append(append([]string(nil), item.PreviousWorkerIDs...), item.AssignedWorkerID) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
