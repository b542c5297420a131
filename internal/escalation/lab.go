package escalation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"care-dispatch/internal/locks"
	"care-dispatch/internal/logger"
	"care-dispatch/internal/metrics"
	"care-dispatch/internal/models"
	"care-dispatch/internal/store"

	"github.com/sirupsen/logrus"
)

// LabSettings holds the lab-side SLA windows. Result due times come from the
// collection flow; EscalationThreshold is measured from receipt.
type LabSettings struct {
	EscalationThreshold time.Duration
	CriticalAckWindow   time.Duration
}

func DefaultLabSettings() LabSettings {
	return LabSettings{
		EscalationThreshold: models.LabEscalationThreshold,
		CriticalAckWindow:   models.LabCriticalAckWindow,
	}
}

// Lab scan outcomes.
const (
	OutcomeTurnaroundBreached = "turnaround_breached"
	OutcomeCriticalUnacked    = "critical_unacknowledged"
)

type LabReport struct {
	Scanned            int `json:"scanned"`
	TurnaroundBreached int `json:"turnaround_breached"`
	CriticalUnacked    int `json:"critical_unacknowledged"`
	Failed             int `json:"failed"`
}

var awaitingResults = map[models.Status]bool{
	models.StatusSampleReceived: true,
	models.StatusProcessing:     true,
	models.StatusResultsPartial: true,
}

var labWatched = []models.Status{
	models.StatusSampleReceived,
	models.StatusProcessing,
	models.StatusResultsPartial,
	models.StatusResultsReady,
	models.StatusResultsUploaded,
}

// LabMonitor raises each lab SLA alert at most once per order.
type LabMonitor struct {
	repo     Repository
	alerts   Alerter
	log      *logrus.Entry
	metrics  metrics.Collector
	settings LabSettings
	locks    *locks.Striped
	now      func() time.Time
}

func NewLabMonitor(repo Repository, alerts Alerter, log *logger.Logger, opts ...Option) *LabMonitor {
	o := buildOptions(opts)
	return &LabMonitor{
		repo:     repo,
		alerts:   alerts,
		log:      log.WithComponent("lab_monitor"),
		metrics:  o.metrics,
		settings: o.lab,
		locks:    o.locks,
		now:      o.now,
	}
}

func (m *LabMonitor) RunScan(ctx context.Context) (LabReport, error) {
	started := m.now().UTC()
	var report LabReport
	defer func() {
		m.metrics.ObserveScanDuration(ScanLab, m.now().Sub(started))
	}()

	items, err := m.repo.ListByStatus(ctx, labWatched)
	if err != nil {
		return report, fmt.Errorf("list lab orders: %w", err)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if item.Kind != models.KindLabOrder {
			continue
		}
		report.Scanned++
		raised, err := m.check(ctx, item, started)
		if err != nil {
			report.Failed++
			m.metrics.ObserveScanItem(ScanLab, OutcomeFailed)
			m.log.WithError(err).WithField("item_id", item.ID).Error("Lab SLA check failed")
			continue
		}
		for _, outcome := range raised {
			switch outcome {
			case OutcomeTurnaroundBreached:
				report.TurnaroundBreached++
			case OutcomeCriticalUnacked:
				report.CriticalUnacked++
			}
			m.metrics.ObserveScanItem(ScanLab, outcome)
		}
	}

	m.log.WithFields(logrus.Fields{
		"scanned":                 report.Scanned,
		"turnaround_breached":     report.TurnaroundBreached,
		"critical_unacknowledged": report.CriticalUnacked,
		"failed":                  report.Failed,
	}).Info("Lab SLA scan finished")
	return report, nil
}

func (m *LabMonitor) check(ctx context.Context, listed *models.WorkItem, now time.Time) ([]string, error) {
	item, raised, pending, err := m.flag(ctx, listed.ID, now)
	if err != nil || len(raised) == 0 {
		return nil, err
	}

	for _, n := range pending {
		m.alerts.Ops(ctx, n)
		if item.RequestedBy != "" {
			n.RecipientID = item.RequestedBy
			n.Role = models.RoleDoctor
			m.alerts.Emit(ctx, n)
		}
	}
	return raised, nil
}

// flag re-reads the order under its lock, so an acknowledgement or result
// written since the listing is seen before any alert is decided.
func (m *LabMonitor) flag(ctx context.Context, itemID string, now time.Time) (*models.WorkItem, []string, []models.Notification, error) {
	unlock := m.locks.Lock(itemID)
	defer unlock()

	item, err := m.repo.GetWorkItem(ctx, itemID)
	if err != nil {
		return nil, nil, nil, err
	}
	if item.Kind != models.KindLabOrder || !slices.Contains(labWatched, item.Status) {
		return nil, nil, nil, nil
	}

	var flags store.LabAlertFlags
	var raised []string
	var pending []models.Notification

	if !item.TurnaroundAlerted && awaitingResults[item.Status] {
		if overdue, escalated := m.turnaroundBreached(item, now); overdue {
			flags.Turnaround = true
			raised = append(raised, OutcomeTurnaroundBreached)
			pending = append(pending, models.Notification{
				EventType: models.EventLabTurnaroundBreach,
				ItemID:    item.ID,
				Urgent:    escalated,
				Title:     "Lab results overdue",
				Body:      fmt.Sprintf("Lab %s has not reported results for order %s on time.", item.LabID, item.ID),
				Data:      map[string]interface{}{"lab_id": item.LabID, "results_due_at": item.ResultsDueAt},
			})
		}
	}

	if item.CriticalValue && item.CriticalAckAt == nil && !item.CriticalAlerted {
		if reported := criticalReportedAt(item); reported != nil && now.Sub(*reported) >= m.settings.CriticalAckWindow {
			flags.Critical = true
			raised = append(raised, OutcomeCriticalUnacked)
			pending = append(pending, models.Notification{
				EventType: models.EventCriticalUnacknowledged,
				ItemID:    item.ID,
				Urgent:    true,
				Title:     "Critical result not acknowledged",
				Body:      fmt.Sprintf("The critical result on order %s has not been acknowledged by %s.", item.ID, item.RequestedBy),
				Data:      map[string]interface{}{"requested_by": item.RequestedBy, "reported_at": reported},
			})
		}
	}

	if len(raised) == 0 {
		return nil, nil, nil, nil
	}

	if err := m.repo.MarkLabAlerted(ctx, item.ID, flags, now); err != nil {
		if errors.Is(err, store.ErrStale) {
			// acknowledged from another process since the read
			return nil, nil, nil, nil
		}
		return nil, nil, nil, err
	}
	return item, raised, pending, nil
}

// turnaroundBreached reports whether results are overdue, and whether the
// delay has reached the escalation threshold.
func (m *LabMonitor) turnaroundBreached(item *models.WorkItem, now time.Time) (overdue, escalated bool) {
	if received := item.Milestones.ReceivedAt; received != nil && m.settings.EscalationThreshold > 0 {
		escalated = !now.Before(received.Add(m.settings.EscalationThreshold))
	}
	overdue = escalated || (item.ResultsDueAt != nil && now.After(*item.ResultsDueAt))
	return overdue, escalated
}

func criticalReportedAt(item *models.WorkItem) *time.Time {
	if t := item.Milestones.ResultsPartialAt; t != nil {
		return t
	}
	return item.Milestones.ResultsReadyAt
}
