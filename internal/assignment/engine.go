// Package assignment places work items with the least-loaded eligible worker
// and keeps the daily roster in step with every placement.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"care-dispatch/internal/apperr"
	"care-dispatch/internal/locks"
	"care-dispatch/internal/logger"
	"care-dispatch/internal/metrics"
	"care-dispatch/internal/models"
	"care-dispatch/internal/store"
	"care-dispatch/internal/workflow"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Policy holds the scheduling constants that deployments may tune.
type Policy struct {
	SLA        map[models.RiskTier]time.Duration
	MaxBounces int
}

func DefaultPolicy() Policy {
	return Policy{SLA: models.DefaultSLAWindows(), MaxBounces: models.MaxBounces}
}

// Deadline returns the SLA deadline for an item of tier assigned at t.
// Unknown tiers get the LOW window.
func (p Policy) Deadline(tier models.RiskTier, t time.Time) time.Time {
	d, ok := p.SLA[tier]
	if !ok {
		d = p.SLA[models.RiskLow]
	}
	if d <= 0 {
		d = models.SLALow
	}
	return t.Add(d)
}

type Engine struct {
	db      DataStore
	alerts  Alerter
	log     *logrus.Entry
	audit   *logger.Logger
	metrics metrics.Collector
	locks   *locks.Striped
	tracer  trace.Tracer
	policy  Policy
	now     func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithMetrics(m metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLocks shares the per-item lock set with other writers of work items.
func WithLocks(l *locks.Striped) Option {
	return func(e *Engine) { e.locks = l }
}

func NewEngine(db DataStore, alerts Alerter, log *logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		db:      db,
		alerts:  alerts,
		log:     log.WithComponent("assignment"),
		audit:   log,
		metrics: metrics.Nop{},
		tracer:  otel.Tracer("care-dispatch/assignment"),
		policy:  DefaultPolicy(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.locks == nil {
		e.locks = locks.NewStriped(locks.DefaultStripes)
	}
	return e
}

// Policy returns the policy the engine was built with.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Assign places an item that is waiting for a worker. Workers in exclude and
// in the item's history are skipped. An empty eligible set is reported in
// the outcome, not as an error.
func (e *Engine) Assign(ctx context.Context, itemID string, exclude ...string) (*models.AssignmentOutcome, error) {
	return e.place(ctx, "assignment.assign", itemID, exclude, false)
}

// Reassign moves an item away from its current worker, who is added to the
// exclusion set together with exclude and the item's history.
func (e *Engine) Reassign(ctx context.Context, itemID string, exclude []string) (*models.AssignmentOutcome, error) {
	return e.place(ctx, "assignment.reassign", itemID, exclude, true)
}

// decision is what place learned under the item lock; notifications are
// sent from it after the lock is released.
type decision struct {
	item     *models.WorkItem
	previous string
	outcome  *models.AssignmentOutcome
}

func (e *Engine) place(ctx context.Context, op, itemID string, exclude []string, reassign bool) (*models.AssignmentOutcome, error) {
	ctx, span := e.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("item.id", itemID)))
	defer span.End()

	if itemID == "" {
		return nil, apperr.Validation("item_id", "item id is required")
	}

	d, err := e.decide(ctx, itemID, exclude, reassign)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.ObserveAssignment("error")
		return nil, err
	}

	out := d.outcome
	span.SetAttributes(
		attribute.Bool("assignment.assigned", out.Assigned),
		attribute.String("assignment.worker_id", out.WorkerID),
		attribute.Bool("assignment.senior_fallback", out.SeniorFallback),
	)
	e.announce(ctx, d)
	return out, nil
}

func (e *Engine) decide(ctx context.Context, itemID string, exclude []string, reassign bool) (*decision, error) {
	unlock := e.locks.Lock(itemID)
	defer unlock()

	item, err := e.db.GetWorkItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := e.checkPlaceable(item, reassign); err != nil {
		return nil, err
	}

	excluded := append([]string(nil), exclude...)
	excluded = append(excluded, item.PreviousWorkerIDs...)
	if reassign {
		excluded = append(excluded, item.AssignedWorkerID)
	}
	req := models.RequirementsFor(item)
	req.Exclude = dedupe(excluded)

	now := e.now().UTC()
	candidates, fallback, err := e.rankedCandidates(ctx, req, now)
	if err != nil {
		return nil, err
	}

	d := &decision{item: item, previous: item.AssignedWorkerID}
	if len(candidates) == 0 {
		d.outcome = &models.AssignmentOutcome{ItemID: item.ID, Reason: models.ReasonNoEligible}
		return d, nil
	}

	for _, c := range candidates {
		commit := e.commitFor(item, c, now, reassign)
		updated, err := e.db.CommitAssignment(ctx, commit)
		if errors.Is(err, store.ErrCapacityExhausted) {
			e.log.WithFields(logrus.Fields{
				"item_id":   item.ID,
				"worker_id": c.Worker.ID,
			}).Debug("Candidate filled up before commit, trying next")
			continue
		}
		if errors.Is(err, store.ErrStale) {
			return nil, apperr.Conflict(fmt.Sprintf("work item %s changed during assignment", item.ID), err)
		}
		if err != nil {
			return nil, err
		}

		deadline := commit.Deadline
		d.item = updated
		d.outcome = &models.AssignmentOutcome{
			ItemID:           item.ID,
			Assigned:         true,
			WorkerID:         c.Worker.ID,
			PreviousWorkerID: d.previous,
			LoadScore:        c.LoadScore,
			Deadline:         &deadline,
			SeniorFallback:   fallback,
		}
		return d, nil
	}

	d.outcome = &models.AssignmentOutcome{ItemID: item.ID, Reason: models.ReasonCapacityExhausted}
	return d, nil
}

func (e *Engine) checkPlaceable(item *models.WorkItem, reassign bool) error {
	details := map[string]interface{}{"item_id": item.ID, "status": item.Status}
	if reassign {
		if item.Status != workflow.AssignedStatus(item.Kind) || item.AssignedWorkerID == "" {
			return apperr.InvalidState(fmt.Sprintf("work item %s is not awaiting a worker", item.ID), details)
		}
		return nil
	}
	if !workflow.IsAssignable(item.Kind, item.Status) {
		return apperr.InvalidState(fmt.Sprintf("work item %s cannot be assigned from %s", item.ID, item.Status), details)
	}
	// The lifecycle table has the final say over the assignable list.
	if to := workflow.AssignedStatus(item.Kind); !workflow.IsValidTransition(item.Kind, item.Status, to) {
		return apperr.InvalidTransition(string(item.Status), string(to))
	}
	return nil
}

func (e *Engine) commitFor(item *models.WorkItem, c models.Candidate, now time.Time, reassign bool) store.AssignmentCommit {
	commit := store.AssignmentCommit{
		ItemID:           item.ID,
		ExpectedStatus:   item.Status,
		ExpectedWorkerID: item.AssignedWorkerID,
		WorkerID:         c.Worker.ID,
		Capacity:         c.Worker.DailyCapacity,
		RosterDate:       models.RosterDate(now),
		Status:           workflow.AssignedStatus(item.Kind),
		Deadline:         e.policy.Deadline(item.RiskTier, now),
		AssignedAt:       now,
	}

	prev := item.AssignedWorkerID
	if prev == "" || prev == c.Worker.ID {
		return commit
	}
	commit.AppendPrevious = prev
	if reassign {
		// Reassignment gives the superseded worker's booking back.
		commit.ReleaseWorkerID = prev
		commit.ReleaseDate = releaseDate(item, now)
	}
	return commit
}

func (e *Engine) announce(ctx context.Context, d *decision) {
	out := d.outcome
	fields := logrus.Fields{"item_id": out.ItemID, "risk_tier": d.item.RiskTier}

	if !out.Assigned {
		e.metrics.ObserveAssignment("not_assigned")
		e.log.WithFields(fields).WithField("reason", out.Reason).Warn("No eligible worker for item")
		e.alerts.Ops(ctx, models.Notification{
			EventType: models.EventNoEligibleWorker,
			ItemID:    out.ItemID,
			Title:     "No eligible worker",
			Body:      fmt.Sprintf("Work item %s could not be assigned (%s).", out.ItemID, out.Reason),
			Data:      map[string]interface{}{"reason": out.Reason, "risk_tier": d.item.RiskTier},
		})
		return
	}

	e.metrics.ObserveAssignment("assigned")
	e.log.WithFields(fields).WithFields(logrus.Fields{
		"worker_id":       out.WorkerID,
		"previous_worker": out.PreviousWorkerID,
		"load_score":      out.LoadScore,
		"deadline":        out.Deadline,
		"senior_fallback": out.SeniorFallback,
	}).Info("Work item assigned")
	e.audit.Audit("system", "assign", out.ItemID, true, map[string]interface{}{
		"worker_id":          out.WorkerID,
		"previous_worker_id": out.PreviousWorkerID,
	})

	role := d.item.Kind.WorkerRole()
	e.alerts.Emit(ctx, models.Notification{
		RecipientID: out.WorkerID,
		Role:        role,
		EventType:   models.EventAssignmentNew,
		ItemID:      out.ItemID,
		Title:       "New assignment",
		Body:        fmt.Sprintf("You have been assigned work item %s. Please act before %s.", out.ItemID, out.Deadline.Format(time.RFC3339)),
		Data:        map[string]interface{}{"deadline": out.Deadline, "risk_tier": d.item.RiskTier},
	})
	if d.previous != "" && d.previous != out.WorkerID {
		e.alerts.Emit(ctx, models.Notification{
			RecipientID: d.previous,
			Role:        role,
			EventType:   models.EventAssignmentRevoked,
			ItemID:      out.ItemID,
			Title:       "Assignment moved",
			Body:        fmt.Sprintf("Work item %s has been reassigned.", out.ItemID),
		})
	}
	if out.SeniorFallback {
		e.metrics.ObserveAssignment("senior_fallback")
		e.alerts.Ops(ctx, models.Notification{
			EventType: models.EventHighRiskNonSenior,
			ItemID:    out.ItemID,
			Urgent:    true,
			Title:     "High-risk item assigned to non-senior worker",
			Body:      fmt.Sprintf("No senior worker was available for high-risk item %s; it went to %s.", out.ItemID, out.WorkerID),
			Data:      map[string]interface{}{"worker_id": out.WorkerID},
		})
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
