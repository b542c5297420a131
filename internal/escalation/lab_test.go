package escalation

import (
	"context"
	"testing"
	"time"

	"care-dispatch/internal/assignment"
	"care-dispatch/internal/collection"
	"care-dispatch/internal/models"
	"care-dispatch/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) monitor() *LabMonitor {
	return NewLabMonitor(f.store, f.alerts, f.log, WithClock(func() time.Time { return testNow }))
}

func (f *fixture) labOrder(t *testing.T, id string, status models.Status, receivedAgo time.Duration, mutate ...func(*models.WorkItem)) {
	t.Helper()
	received := testNow.Add(-receivedAgo)
	due := received.Add(models.LabResultTurnaround)
	item := &models.WorkItem{
		ID:           id,
		Kind:         models.KindLabOrder,
		Status:       status,
		RequestedBy:  "doc-1",
		LabID:        "lab-1",
		ResultsDueAt: &due,
	}
	item.Milestones.ReceivedAt = &received
	for _, fn := range mutate {
		fn(item)
	}
	require.NoError(t, f.store.CreateWorkItem(context.Background(), item))
}

func TestTurnaroundBreachAlertsOnce(t *testing.T) {
	f := newFixture(t)
	f.labOrder(t, "LO-1", models.StatusProcessing, 49*time.Hour)
	m := f.monitor()
	ctx := context.Background()

	report, err := m.RunScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, LabReport{Scanned: 1, TurnaroundBreached: 1}, report)

	alerts := f.rec.ByEvent(models.EventLabTurnaroundBreach)
	require.Len(t, alerts, 2)
	assert.False(t, alerts[0].Urgent)
	assert.Equal(t, "ops", alerts[0].RecipientID)
	assert.Equal(t, "doc-1", alerts[1].RecipientID)

	item, err := f.store.GetWorkItem(ctx, "LO-1")
	require.NoError(t, err)
	assert.True(t, item.TurnaroundAlerted)

	report, err = m.RunScan(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.TurnaroundBreached)
	assert.Len(t, f.rec.ByEvent(models.EventLabTurnaroundBreach), 2)
}

func TestTurnaroundPastThresholdIsUrgent(t *testing.T) {
	f := newFixture(t)
	f.labOrder(t, "LO-1", models.StatusSampleReceived, 73*time.Hour, func(i *models.WorkItem) { i.ResultsDueAt = nil })

	_, err := f.monitor().RunScan(context.Background())
	require.NoError(t, err)

	alerts := f.rec.ByEvent(models.EventLabTurnaroundBreach)
	require.NotEmpty(t, alerts)
	assert.True(t, alerts[0].Urgent)
}

func TestTurnaroundWithinWindowOrReported(t *testing.T) {
	f := newFixture(t)
	f.labOrder(t, "LO-1", models.StatusProcessing, 10*time.Hour)
	f.labOrder(t, "LO-2", models.StatusResultsReady, 60*time.Hour)

	report, err := f.monitor().RunScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LabReport{Scanned: 2}, report)
	assert.Empty(t, f.rec.All())
}

func TestCriticalValueUnacknowledged(t *testing.T) {
	f := newFixture(t)
	reported := testNow.Add(-90 * time.Minute)
	acked := testNow.Add(-time.Hour)
	recent := testNow.Add(-10 * time.Minute)
	critical := func(at *time.Time, ack *time.Time) func(*models.WorkItem) {
		return func(i *models.WorkItem) {
			i.CriticalValue = true
			i.CriticalAckAt = ack
			i.Milestones.ResultsReadyAt = at
		}
	}
	f.labOrder(t, "LO-1", models.StatusResultsReady, 5*time.Hour, critical(&reported, nil))
	f.labOrder(t, "LO-2", models.StatusResultsReady, 5*time.Hour, critical(&reported, &acked))
	f.labOrder(t, "LO-3", models.StatusResultsReady, 5*time.Hour, critical(&recent, nil))
	m := f.monitor()
	ctx := context.Background()

	report, err := m.RunScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CriticalUnacked)

	alerts := f.rec.ByEvent(models.EventCriticalUnacknowledged)
	require.Len(t, alerts, 2)
	for _, a := range alerts {
		assert.Equal(t, "LO-1", a.ItemID)
		assert.True(t, a.Urgent)
	}

	_, err = m.RunScan(ctx)
	require.NoError(t, err)
	assert.Len(t, f.rec.ByEvent(models.EventCriticalUnacknowledged), 2)
}

// ackAfterListing acknowledges the critical value once the scan has listed
// the order, as a doctor would from the ops API.
type ackAfterListing struct {
	*store.MemoryStore
	ackAt time.Time
}

func (r *ackAfterListing) ListByStatus(ctx context.Context, statuses []models.Status) ([]*models.WorkItem, error) {
	items, err := r.MemoryStore.ListByStatus(ctx, statuses)
	if err != nil {
		return nil, err
	}
	for _, listed := range items {
		cur, err := r.MemoryStore.GetWorkItem(ctx, listed.ID)
		if err != nil {
			return nil, err
		}
		cur.CriticalAckAt = &r.ackAt
		if err := r.MemoryStore.UpdateWorkItem(ctx, cur, cur.Status); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func TestAcknowledgementDuringScanIsKept(t *testing.T) {
	f := newFixture(t)
	ready := testNow.Add(-2 * time.Hour)
	f.labOrder(t, "LO-1", models.StatusResultsReady, 5*time.Hour, func(i *models.WorkItem) {
		i.CriticalValue = true
		i.Milestones.ResultsReadyAt = &ready
	})
	repo := &ackAfterListing{MemoryStore: f.store, ackAt: testNow.Add(-time.Minute)}
	m := NewLabMonitor(repo, f.alerts, f.log, WithClock(func() time.Time { return testNow }))

	report, err := m.RunScan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.CriticalUnacked)
	assert.Zero(t, f.rec.Count(models.EventCriticalUnacknowledged))

	item, err := f.store.GetWorkItem(context.Background(), "LO-1")
	require.NoError(t, err)
	require.NotNil(t, item.CriticalAckAt)
	assert.Equal(t, repo.ackAt, *item.CriticalAckAt)
	assert.False(t, item.CriticalAlerted)
}

func TestLabAlertFlagWriteKeepsOtherFields(t *testing.T) {
	f := newFixture(t)
	f.labOrder(t, "LO-1", models.StatusProcessing, 49*time.Hour, func(i *models.WorkItem) {
		i.IssueReason = "haemolysed"
	})

	_, err := f.monitor().RunScan(context.Background())
	require.NoError(t, err)

	item, err := f.store.GetWorkItem(context.Background(), "LO-1")
	require.NoError(t, err)
	assert.True(t, item.TurnaroundAlerted)
	assert.Equal(t, "haemolysed", item.IssueReason)
	assert.Equal(t, testNow, item.UpdatedAt)
}

func TestRecollectedSampleGetsItsOwnTurnaroundAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	drawnAt := testNow.Add(-49 * time.Hour)
	machineClock := func() time.Time { return drawnAt }

	require.NoError(t, f.store.SaveWorker(ctx, &models.Worker{
		ID: "P2", Role: models.RolePhlebotomist, Active: true, Verified: true, DailyCapacity: 5,
	}))
	// the first sample was already reported late before the lab rejected it
	f.labOrder(t, "LO-1", models.StatusSampleReceived, 80*time.Hour, func(i *models.WorkItem) {
		i.RiskTier = models.RiskMedium
		i.AssignedWorkerID = "P1"
		i.TurnaroundAlerted = true
	})

	engine := assignment.NewEngine(f.store, f.alerts, f.log, assignment.WithClock(machineClock))
	machine := collection.NewMachine(f.store, engine, f.alerts, f.log, collection.WithClock(machineClock))

	_, err := machine.ReportSampleIssue(ctx, collection.IssueCommand{ItemID: "LO-1", ActorID: "lab-1", Reason: "clotted"})
	require.NoError(t, err)
	_, err = machine.RebookCollection(ctx, collection.ActorCommand{ItemID: "LO-1", ActorID: "lab-1"})
	require.NoError(t, err)
	out, err := engine.Assign(ctx, "LO-1")
	require.NoError(t, err)
	require.True(t, out.Assigned)
	assert.Equal(t, "P2", out.WorkerID)

	_, err = machine.StartRoute(ctx, collection.ActorCommand{ItemID: "LO-1", ActorID: "P2"})
	require.NoError(t, err)
	_, err = machine.MarkCollected(ctx, collection.CollectCommand{ItemID: "LO-1", ActorID: "P2", TubeCount: 2})
	require.NoError(t, err)
	_, err = machine.StartTransit(ctx, collection.ActorCommand{ItemID: "LO-1", ActorID: "P2"})
	require.NoError(t, err)
	_, err = machine.MarkDelivered(ctx, collection.DeliverCommand{ItemID: "LO-1", ActorID: "P2", LabID: "lab-1"})
	require.NoError(t, err)
	_, err = machine.MarkReceived(ctx, collection.ReceiveCommand{ItemID: "LO-1", ActorID: "lab-1", TubeCount: 2})
	require.NoError(t, err)

	f.rec.Reset()
	report, err := f.monitor().RunScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TurnaroundBreached)

	alerts := f.rec.ByEvent(models.EventLabTurnaroundBreach)
	require.Len(t, alerts, 2)
	assert.False(t, alerts[0].Urgent)

	item, err := f.store.GetWorkItem(ctx, "LO-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"P1"}, item.PreviousWorkerIDs)
}
