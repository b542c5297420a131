package collection

import (
	"context"
	"testing"
	"time"

	"care-dispatch/internal/apperr"
	"care-dispatch/internal/logger"
	"care-dispatch/internal/models"
	"care-dispatch/internal/notify"
	"care-dispatch/internal/store"
	"care-dispatch/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)

type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Assign(ctx context.Context, itemID string, exclude ...string) (*models.AssignmentOutcome, error) {
	args := m.Called(ctx, itemID)
	out, _ := args.Get(0).(*models.AssignmentOutcome)
	return out, args.Error(1)
}

type fixture struct {
	store     *store.MemoryStore
	rec       *notify.Recorder
	scheduler *MockScheduler
	machine   *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	rec := notify.NewRecorder()
	log := logger.NewTest()
	sched := &MockScheduler{}
	alerts := notify.NewDispatcher(rec, log.WithComponent("notify"), nil, "ops")
	m := NewMachine(mem, sched, alerts, log, WithClock(func() time.Time { return testNow }))
	return &fixture{store: mem, rec: rec, scheduler: sched, machine: m}
}

func (f *fixture) order(t *testing.T, status models.Status, mutate ...func(*models.WorkItem)) *models.WorkItem {
	t.Helper()
	item := &models.WorkItem{
		ID:               "LO-1",
		Kind:             models.KindLabOrder,
		Status:           status,
		RiskTier:         models.RiskMedium,
		RequestedBy:      "doc-1",
		AssignedWorkerID: "phleb-1",
		LabID:            "lab-1",
	}
	for _, fn := range mutate {
		fn(item)
	}
	require.NoError(t, f.store.CreateWorkItem(context.Background(), item))
	return item
}

func (f *fixture) get(t *testing.T) *models.WorkItem {
	t.Helper()
	item, err := f.store.GetWorkItem(context.Background(), "LO-1")
	require.NoError(t, err)
	return item
}

func TestHappyPathThroughCollectionChain(t *testing.T) {
	f := newFixture(t)
	f.order(t, models.StatusPhlebotomistAssigned, func(i *models.WorkItem) { i.LabID = "" })
	ctx := context.Background()

	res, err := f.machine.StartRoute(ctx, ActorCommand{ItemID: "LO-1", ActorID: "phleb-1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPhlebotomistAssigned, res.From)
	assert.Equal(t, models.StatusPhlebotomistEnRoute, res.To)

	res, err = f.machine.MarkCollected(ctx, CollectCommand{ItemID: "LO-1", ActorID: "phleb-1", TubeCount: 3, FastingHours: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Flags)

	_, err = f.machine.StartTransit(ctx, ActorCommand{ItemID: "LO-1", ActorID: "phleb-1"})
	require.NoError(t, err)
	_, err = f.machine.MarkDelivered(ctx, DeliverCommand{ItemID: "LO-1", ActorID: "phleb-1", LabID: "lab-7"})
	require.NoError(t, err)
	res, err = f.machine.MarkReceived(ctx, ReceiveCommand{ItemID: "LO-1", ActorID: "lab-7", TubeCount: 3})
	require.NoError(t, err)
	assert.Empty(t, res.Flags)

	item := f.get(t)
	assert.Equal(t, models.StatusSampleReceived, item.Status)
	assert.Equal(t, "lab-7", item.LabID)
	assert.Equal(t, 3, item.CollectedTubeCount)
	assert.Equal(t, 3, item.ReceivedTubeCount)
	require.NotNil(t, item.ResultsDueAt)
	assert.Equal(t, testNow.Add(48*time.Hour), *item.ResultsDueAt)
	for _, field := range []string{models.FieldEnRouteAt, models.FieldCollectedAt, models.FieldInTransitAt, models.FieldDeliveredAt, models.FieldReceivedAt} {
		assert.NotNil(t, item.Milestones.Get(field), field)
	}
	assert.Empty(t, f.rec.All())
}

func TestActorMustBeAssignedWorker(t *testing.T) {
	f := newFixture(t)
	f.order(t, models.StatusPhlebotomistAssigned)

	_, err := f.machine.StartRoute(context.Background(), ActorCommand{ItemID: "LO-1", ActorID: "phleb-2"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, models.StatusPhlebotomistAssigned, f.get(t).Status)
}

func TestLabStepsRequireHandlingLab(t *testing.T) {
	f := newFixture(t)
	f.order(t, models.StatusDeliveredToLab)

	_, err := f.machine.MarkReceived(context.Background(), ReceiveCommand{ItemID: "LO-1", ActorID: "phleb-1", TubeCount: 2})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestInvalidTransitionsWriteNothing(t *testing.T) {
	ctx := context.Background()
	for _, from := range []models.Status{
		models.StatusOrdered, models.StatusSlotBooked, models.StatusSampleCollected,
		models.StatusClosed, models.StatusCancelled, models.StatusExpired,
	} {
		t.Run(string(from), func(t *testing.T) {
			f := newFixture(t)
			f.order(t, from)
			before := f.get(t)

			require.False(t, workflow.IsValidTransition(models.KindLabOrder, from, models.StatusPhlebotomistEnRoute))

			_, err := f.machine.StartRoute(ctx, ActorCommand{ItemID: "LO-1", ActorID: "phleb-1"})
			assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
			assert.Equal(t, before, f.get(t))
			assert.Empty(t, f.rec.All())
		})
	}
}

func TestValidationRunsBeforeLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.machine.MarkCollected(ctx, CollectCommand{ItemID: "missing", ActorID: "phleb-1", TubeCount: 0})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.machine.MarkReceived(ctx, ReceiveCommand{ItemID: "missing", ActorID: "lab-1", TubeCount: -1})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.machine.MarkFailed(ctx, FailCommand{ItemID: "missing", ActorID: "phleb-1"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.machine.StartRoute(ctx, ActorCommand{ActorID: "phleb-1"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.machine.StartRoute(ctx, ActorCommand{ItemID: "missing", ActorID: "phleb-1"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFastingViolationFlagsButDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	f.order(t, models.StatusPhlebotomistEnRoute, func(i *models.WorkItem) { i.FastingRequired = true })

	res, err := f.machine.MarkCollected(context.Background(), CollectCommand{ItemID: "LO-1", ActorID: "phleb-1", TubeCount: 2, FastingHours: 5})
	require.NoError(t, err)

	assert.Equal(t, models.StatusSampleCollected, res.To)
	assert.True(t, res.HasFlag(FlagFastingViolation))
	assert.True(t, f.get(t).FastingViolation)

	alerts := f.rec.ByEvent(models.EventFastingViolation)
	require.Len(t, alerts, 1)
	assert.Equal(t, "doc-1", alerts[0].RecipientID)
}

func TestFastingNotRequiredNeverFlags(t *testing.T) {
	f := newFixture(t)
	f.order(t, models.StatusPhlebotomistEnRoute)

	res, err := f.machine.MarkCollected(context.Background(), CollectCommand{ItemID: "LO-1", ActorID: "phleb-1", TubeCount: 2, FastingHours: 0})
	require.NoError(t, err)
	assert.False(t, res.HasFlag(FlagFastingViolation))
}

func TestTubeMismatchAlertsOperators(t *testing.T) {
	f := newFixture(t)
	f.order(t, models.StatusDeliveredToLab, func(i *models.WorkItem) { i.CollectedTubeCount = 4 })

	res, err := f.machine.MarkReceived(context.Background(), ReceiveCommand{ItemID: "LO-1", ActorID: "lab-1", TubeCount: 3})
	require.NoError(t, err)

	assert.Equal(t, models.StatusSampleReceived, res.To)
	assert.True(t, res.HasFlag(FlagTubeCountMismatch))
	assert.True(t, f.get(t).TubeCountMismatch)
	alerts := f.rec.ByEvent(models.EventTubeCountMismatch)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.RoleOperator, alerts[0].Role)
}

func TestFailedAttemptsReachLimit(t *testing.T) {
	f := newFixture(t)
	f.order(t, models.StatusPhlebotomistEnRoute)
	ctx := context.Background()

	res, err := f.machine.MarkFailed(ctx, FailCommand{ItemID: "LO-1", ActorID: "phleb-1", Reason: "patient not home"})
	require.NoError(t, err)
	assert.False(t, res.HasFlag(FlagAttemptLimitReached))
	assert.Equal(t, 1, f.get(t).CollectionAttempts)
	assert.Zero(t, f.rec.Count(models.EventCollectionAttempts))

	// Second attempt after the item was placed again with the same worker.
	item := f.get(t)
	item.Status = models.StatusPhlebotomistEnRoute
	require.NoError(t, f.store.UpdateWorkItem(ctx, item, models.StatusCollectionFailed))

	res, err = f.machine.MarkFailed(ctx, FailCommand{ItemID: "LO-1", ActorID: "phleb-1", Reason: "vein collapsed"})
	require.NoError(t, err)
	assert.True(t, res.HasFlag(FlagAttemptLimitReached))
	got := f.get(t)
	assert.Equal(t, 2, got.CollectionAttempts)
	assert.Equal(t, "vein collapsed", got.FailureReason)
	assert.Equal(t, 1, f.rec.Count(models.EventCollectionAttempts))
	assert.Empty(t, got.PreviousWorkerIDs, "attempts do not count as bounces")
}

func TestRebookDelegatesToScheduler(t *testing.T) {
	f := newFixture(t)
	f.order(t, models.StatusCollectionFailed)
	want := &models.AssignmentOutcome{ItemID: "LO-1", Assigned: true, WorkerID: "phleb-2"}
	f.scheduler.On("Assign", mock.Anything, "LO-1").Return(want, nil).Once()

	out, err := f.machine.Rebook(context.Background(), "LO-1")
	require.NoError(t, err)
	assert.Equal(t, want, out)
	f.scheduler.AssertExpectations(t)
}

func TestRebookRequiresFailedCollection(t *testing.T) {
	f := newFixture(t)
	f.order(t, models.StatusPhlebotomistEnRoute)

	_, err := f.machine.Rebook(context.Background(), "LO-1")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	f.scheduler.AssertNotCalled(t, "Assign", mock.Anything, mock.Anything)
}

func TestDeliveryToWrongLabRejected(t *testing.T) {
	f := newFixture(t)
	f.order(t, models.StatusSampleInTransit)

	_, err := f.machine.MarkDelivered(context.Background(), DeliverCommand{ItemID: "LO-1", ActorID: "phleb-1", LabID: "lab-9"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, models.StatusSampleInTransit, f.get(t).Status)
}

func TestSampleIssueAndRecollection(t *testing.T) {
	f := newFixture(t)
	f.order(t, models.StatusSampleReceived, func(i *models.WorkItem) { i.CollectedTubeCount = 2 })
	ctx := context.Background()

	res, err := f.machine.ReportSampleIssue(ctx, IssueCommand{ItemID: "LO-1", ActorID: "lab-1", Reason: "haemolysed"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSampleIssue, res.To)
	assert.Equal(t, 2, f.rec.Count(models.EventSampleIssue))

	res, err = f.machine.RebookCollection(ctx, ActorCommand{ItemID: "LO-1", ActorID: "lab-1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSlotBooked, res.To)
	item := f.get(t)
	assert.Empty(t, item.AssignedWorkerID)
	assert.Equal(t, []string{"phleb-1"}, item.PreviousWorkerIDs)
	assert.Nil(t, item.Deadline)
	assert.Equal(t, "haemolysed", item.IssueReason)
}

func TestRecollectionActorCheck(t *testing.T) {
	for _, actor := range []string{"", "phleb-1", "lab-9"} {
		f := newFixture(t)
		f.order(t, models.StatusSampleIssue)

		_, err := f.machine.RebookCollection(context.Background(), ActorCommand{ItemID: "LO-1", ActorID: actor})
		assert.ErrorIs(t, err, apperr.ErrForbidden, "actor %q", actor)
		assert.Equal(t, models.StatusSampleIssue, f.get(t).Status)
	}

	f := newFixture(t)
	f.order(t, models.StatusSampleIssue)
	_, err := f.machine.RebookCollection(context.Background(), ActorCommand{ItemID: "LO-1", ActorID: "doc-1"})
	assert.NoError(t, err)
}

func TestRecollectionClearsSampleState(t *testing.T) {
	f := newFixture(t)
	ack := testNow.Add(-time.Hour)
	due := testNow.Add(time.Hour)
	f.order(t, models.StatusSampleIssue, func(i *models.WorkItem) {
		i.PreviousWorkerIDs = []string{"phleb-0"}
		i.CollectedTubeCount = 3
		i.ReceivedTubeCount = 2
		i.FastingViolation = true
		i.TubeCountMismatch = true
		i.ResultsDueAt = &due
		i.TurnaroundAlerted = true
		i.CriticalValue = true
		i.CriticalAckAt = &ack
		i.CriticalAlerted = true
	})

	_, err := f.machine.RebookCollection(context.Background(), ActorCommand{ItemID: "LO-1", ActorID: "lab-1"})
	require.NoError(t, err)

	item := f.get(t)
	assert.Equal(t, []string{"phleb-0", "phleb-1"}, item.PreviousWorkerIDs)
	assert.Zero(t, item.CollectedTubeCount)
	assert.Zero(t, item.ReceivedTubeCount)
	assert.False(t, item.FastingViolation)
	assert.False(t, item.TubeCountMismatch)
	assert.Nil(t, item.ResultsDueAt)
	assert.False(t, item.TurnaroundAlerted)
	assert.False(t, item.CriticalValue)
	assert.Nil(t, item.CriticalAckAt)
	assert.False(t, item.CriticalAlerted)
}
