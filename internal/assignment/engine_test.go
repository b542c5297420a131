package assignment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"care-dispatch/internal/apperr"
	"care-dispatch/internal/models"
	"care-dispatch/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssign_PicksLeastLoadedDoctor(t *testing.T) {
	f := newFixture(t)
	f.worker(t, doctor("D1", 15))
	f.worker(t, doctor("D2", 15))
	f.load(t, "D1", 10)
	f.load(t, "D2", 3)
	f.consultation(t, "C1", models.RiskLow)

	out, err := f.engine.Assign(context.Background(), "C1")
	require.NoError(t, err)

	require.True(t, out.Assigned)
	assert.Equal(t, "D2", out.WorkerID)
	assert.InDelta(t, 0.2, out.LoadScore, 1e-9)
	require.NotNil(t, out.Deadline)
	assert.Equal(t, testNow.Add(4*time.Hour), *out.Deadline)
	assert.False(t, out.SeniorFallback)

	item := f.get(t, "C1")
	assert.Equal(t, models.StatusDoctorAssigned, item.Status)
	assert.Equal(t, "D2", item.AssignedWorkerID)
	assert.Empty(t, item.PreviousWorkerIDs)
	assert.Equal(t, 4, f.bookings(t, "D2"))

	news := f.rec.ByEvent(models.EventAssignmentNew)
	require.Len(t, news, 1)
	assert.Equal(t, "D2", news[0].RecipientID)
	assert.Equal(t, models.RoleDoctor, news[0].Role)
}

func TestAssign_HighRiskSeniorFirstPass(t *testing.T) {
	f := newFixture(t)
	s1 := doctor("S1", 15)
	s1.Senior = true
	f.worker(t, s1)
	f.load(t, "S1", 3)
	f.consultation(t, "C2", models.RiskHigh)

	out, err := f.engine.Assign(context.Background(), "C2")
	require.NoError(t, err)

	require.True(t, out.Assigned)
	assert.Equal(t, "S1", out.WorkerID)
	assert.False(t, out.SeniorFallback)
	assert.Equal(t, testNow.Add(time.Hour), *out.Deadline)
	assert.Zero(t, f.rec.Count(models.EventHighRiskNonSenior))
}

func TestAssign_SeniorGateIsNotARankingFactor(t *testing.T) {
	f := newFixture(t)
	s1 := doctor("S1", 15)
	s1.Senior = true
	f.worker(t, s1)
	f.worker(t, doctor("D1", 15))
	f.load(t, "S1", 12)
	f.consultation(t, "C3", models.RiskHigh)

	out, err := f.engine.Assign(context.Background(), "C3")
	require.NoError(t, err)
	assert.Equal(t, "S1", out.WorkerID)
	assert.False(t, out.SeniorFallback)
}

func TestAssign_HighRiskFallsBackToNonSenior(t *testing.T) {
	f := newFixture(t)
	busy := doctor("S1", 2)
	busy.Senior = true
	f.worker(t, busy)
	f.load(t, "S1", 2)
	f.worker(t, doctor("D1", 10))
	f.consultation(t, "C4", models.RiskHigh)

	out, err := f.engine.Assign(context.Background(), "C4")
	require.NoError(t, err)

	require.True(t, out.Assigned)
	assert.Equal(t, "D1", out.WorkerID)
	assert.True(t, out.SeniorFallback)

	alerts := f.rec.ByEvent(models.EventHighRiskNonSenior)
	require.Len(t, alerts, 1)
	assert.Equal(t, "ops", alerts[0].RecipientID)
	assert.Equal(t, models.RoleOperator, alerts[0].Role)
	assert.True(t, alerts[0].Urgent)
}

func TestAssign_NoEligibleLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	inactive := doctor("D1", 10)
	inactive.Active = false
	f.worker(t, inactive)
	unverified := doctor("D2", 10)
	unverified.Verified = false
	f.worker(t, unverified)
	f.consultation(t, "C5", models.RiskMedium)
	before := f.get(t, "C5")

	out, err := f.engine.Assign(context.Background(), "C5")
	require.NoError(t, err)

	assert.False(t, out.Assigned)
	assert.Equal(t, models.ReasonNoEligible, out.Reason)
	assert.Equal(t, 1, f.rec.Count(models.EventNoEligibleWorker))
	assert.Zero(t, f.rec.Count(models.EventAssignmentNew))

	assert.Equal(t, before, f.get(t, "C5"))
	_, err = f.store.GetRoster(context.Background(), "D1", models.RosterDate(testNow))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.store.GetRoster(context.Background(), "D2", models.RosterDate(testNow))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAssign_ZeroCapacityNeverSelected(t *testing.T) {
	f := newFixture(t)
	f.worker(t, doctor("D0", 0))
	f.worker(t, doctor("D9", 10))
	f.load(t, "D9", 9)
	f.consultation(t, "C6", models.RiskLow)
	f.consultation(t, "C7", models.RiskLow)

	out, err := f.engine.Assign(context.Background(), "C6")
	require.NoError(t, err)
	assert.Equal(t, "D9", out.WorkerID)

	out, err = f.engine.Assign(context.Background(), "C7")
	require.NoError(t, err)
	assert.False(t, out.Assigned, "D9 is full and D0 has no capacity")
	assert.Equal(t, models.ReasonNoEligible, out.Reason)
}

func TestAssign_TieBreaks(t *testing.T) {
	t.Run("older lastAssignedAt wins", func(t *testing.T) {
		f := newFixture(t)
		recent := testNow.Add(-time.Hour)
		old := testNow.Add(-5 * time.Hour)
		a := doctor("A", 10)
		a.LastAssignedAt = &recent
		b := doctor("B", 10)
		b.LastAssignedAt = &old
		f.worker(t, a)
		f.worker(t, b)
		f.consultation(t, "C8", models.RiskLow)

		out, err := f.engine.Assign(context.Background(), "C8")
		require.NoError(t, err)
		assert.Equal(t, "B", out.WorkerID)
	})

	t.Run("never assigned beats assigned", func(t *testing.T) {
		f := newFixture(t)
		old := testNow.Add(-72 * time.Hour)
		a := doctor("A", 10)
		a.LastAssignedAt = &old
		f.worker(t, a)
		f.worker(t, doctor("B", 10))
		f.consultation(t, "C9", models.RiskLow)

		out, err := f.engine.Assign(context.Background(), "C9")
		require.NoError(t, err)
		assert.Equal(t, "B", out.WorkerID)
	})

	t.Run("both never assigned picks lowest id", func(t *testing.T) {
		f := newFixture(t)
		f.worker(t, doctor("doc-b", 10))
		f.worker(t, doctor("doc-a", 10))
		f.consultation(t, "C10", models.RiskLow)

		out, err := f.engine.Assign(context.Background(), "C10")
		require.NoError(t, err)
		assert.Equal(t, "doc-a", out.WorkerID)
	})
}

func TestAssign_MatchesRoleSkillAndArea(t *testing.T) {
	f := newFixture(t)
	f.worker(t, doctor("D1", 10))
	wrongArea := phlebotomist("P1", 10)
	wrongArea.AreaTags = []string{"north"}
	f.worker(t, wrongArea)
	right := phlebotomist("P2", 10)
	right.AreaTags = []string{"south"}
	right.SkillTags = []string{"paediatric"}
	f.worker(t, right)
	f.load(t, "P2", 5)

	item := &models.WorkItem{ID: "O1", Kind: models.KindLabOrder, Status: models.StatusSlotBooked, RiskTier: models.RiskLow, Area: "south", RequiredSkill: "paediatric"}
	require.NoError(t, f.store.CreateWorkItem(context.Background(), item))

	out, err := f.engine.Assign(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, "P2", out.WorkerID)
	assert.Equal(t, models.StatusPhlebotomistAssigned, f.get(t, "O1").Status)
}

func TestAssign_ExcludesGivenAndPreviousWorkers(t *testing.T) {
	f := newFixture(t)
	f.worker(t, doctor("D1", 10))
	f.worker(t, doctor("D2", 10))
	f.worker(t, doctor("D3", 10))
	f.load(t, "D3", 5)
	item := &models.WorkItem{ID: "C11", Kind: models.KindConsultation, Status: models.StatusPendingAssignment, RiskTier: models.RiskLow, PreviousWorkerIDs: []string{"D1"}}
	require.NoError(t, f.store.CreateWorkItem(context.Background(), item))

	out, err := f.engine.Assign(context.Background(), "C11", "D2")
	require.NoError(t, err)
	assert.Equal(t, "D3", out.WorkerID)
}

func TestAssign_ValidationFailures(t *testing.T) {
	f := newFixture(t)
	f.worker(t, doctor("D1", 10))
	f.labOrder(t, "O2", models.StatusOrdered)

	_, err := f.engine.Assign(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.engine.Assign(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.engine.Assign(context.Background(), "O2")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Empty(t, f.rec.All())
}

func TestAssign_RejectsStatusWithoutAssignmentEdge(t *testing.T) {
	f := newFixture(t)
	f.worker(t, phlebotomist("P1", 10))
	require.NoError(t, f.store.CreateWorkItem(context.Background(), &models.WorkItem{
		ID: "X1", Kind: models.Kind("HOME_VISIT"), Status: models.StatusSlotBooked, RiskTier: models.RiskMedium,
	}))

	_, err := f.engine.Assign(context.Background(), "X1")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	item := f.get(t, "X1")
	assert.Equal(t, models.StatusSlotBooked, item.Status)
	assert.Empty(t, item.AssignedWorkerID)
	assert.Zero(t, f.bookings(t, "P1"))
	assert.Empty(t, f.rec.All())
}

func TestAssign_TriesNextCandidateWhenCapacityRaces(t *testing.T) {
	f := newFixture(t)
	f.worker(t, doctor("D1", 10))
	f.worker(t, doctor("D2", 10))
	f.load(t, "D2", 4)
	f.consultation(t, "C12", models.RiskLow)

	var tried []string
	f.mock.CommitAssignmentFunc = func(ctx context.Context, c store.AssignmentCommit) (*models.WorkItem, error) {
		tried = append(tried, c.WorkerID)
		if c.WorkerID == "D1" {
			return nil, store.ErrCapacityExhausted
		}
		return f.store.CommitAssignment(ctx, c)
	}

	out, err := f.engine.Assign(context.Background(), "C12")
	require.NoError(t, err)
	assert.Equal(t, []string{"D1", "D2"}, tried)
	assert.Equal(t, "D2", out.WorkerID)
}

func TestAssign_AllCandidatesFilledUp(t *testing.T) {
	f := newFixture(t)
	f.worker(t, doctor("D1", 10))
	f.consultation(t, "C13", models.RiskLow)
	f.mock.CommitAssignmentFunc = func(context.Context, store.AssignmentCommit) (*models.WorkItem, error) {
		return nil, store.ErrCapacityExhausted
	}

	out, err := f.engine.Assign(context.Background(), "C13")
	require.NoError(t, err)
	assert.False(t, out.Assigned)
	assert.Equal(t, models.ReasonCapacityExhausted, out.Reason)
	assert.Equal(t, 1, f.rec.Count(models.EventNoEligibleWorker))
}

func TestAssign_StoreErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	f.worker(t, doctor("D1", 10))
	f.consultation(t, "C14", models.RiskLow)
	f.mock.DailyLoadsFunc = func(context.Context, []string, string) (map[string]int, error) {
		return nil, errors.New("connection reset")
	}

	_, err := f.engine.Assign(context.Background(), "C14")
	require.Error(t, err)
	assert.Equal(t, models.StatusPendingAssignment, f.get(t, "C14").Status)
}

func TestAssign_NotificationFailureDoesNotFailAssignment(t *testing.T) {
	f := newFixture(t)
	f.worker(t, doctor("D1", 10))
	f.consultation(t, "C15", models.RiskLow)
	f.rec.FailWith(errors.New("push gateway down"))

	out, err := f.engine.Assign(context.Background(), "C15")
	require.NoError(t, err)
	assert.True(t, out.Assigned)
	assert.Equal(t, "D1", f.get(t, "C15").AssignedWorkerID)
}

func TestAssign_ConcurrentSameItemAssignsOnce(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"D1", "D2", "D3"} {
		f.worker(t, doctor(id, 10))
	}
	f.consultation(t, "C16", models.RiskLow)

	var wg sync.WaitGroup
	var mu sync.Mutex
	assigned := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.engine.Assign(context.Background(), "C16")
			if err != nil {
				assert.ErrorIs(t, err, apperr.ErrInvalidState)
				return
			}
			if out.Assigned {
				mu.Lock()
				assigned++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, assigned)
	total := f.bookings(t, "D1") + f.bookings(t, "D2") + f.bookings(t, "D3")
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, f.rec.Count(models.EventAssignmentNew))
}

func TestReassign_MovesItemAndReleasesSlot(t *testing.T) {
	f := newFixture(t)
	f.worker(t, doctor("D1", 10))
	f.worker(t, doctor("D2", 10))
	f.load(t, "D2", 2)
	f.consultation(t, "C17", models.RiskMedium)

	first, err := f.engine.Assign(context.Background(), "C17")
	require.NoError(t, err)
	require.Equal(t, "D1", first.WorkerID)

	out, err := f.engine.Reassign(context.Background(), "C17", []string{"D1"})
	require.NoError(t, err)
	require.True(t, out.Assigned)
	assert.Equal(t, "D2", out.WorkerID)
	assert.Equal(t, "D1", out.PreviousWorkerID)

	item := f.get(t, "C17")
	assert.Equal(t, models.StatusDoctorAssigned, item.Status)
	assert.Equal(t, "D2", item.AssignedWorkerID)
	assert.Equal(t, []string{"D1"}, item.PreviousWorkerIDs)
	assert.Equal(t, 0, f.bookings(t, "D1"))
	assert.Equal(t, 3, f.bookings(t, "D2"))

	revoked := f.rec.ByEvent(models.EventAssignmentRevoked)
	require.Len(t, revoked, 1)
	assert.Equal(t, "D1", revoked[0].RecipientID)
}

func TestReassign_AlwaysExcludesCurrentWorker(t *testing.T) {
	f := newFixture(t)
	f.worker(t, doctor("D1", 10))
	f.consultation(t, "C18", models.RiskLow)
	_, err := f.engine.Assign(context.Background(), "C18")
	require.NoError(t, err)

	out, err := f.engine.Reassign(context.Background(), "C18", nil)
	require.NoError(t, err)
	assert.False(t, out.Assigned)
	assert.Equal(t, "D1", f.get(t, "C18").AssignedWorkerID)
}

func TestReassign_RequiresAssignedStatus(t *testing.T) {
	f := newFixture(t)
	f.worker(t, doctor("D1", 10))
	f.consultation(t, "C19", models.RiskLow)

	_, err := f.engine.Reassign(context.Background(), "C19", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestAssign_RebookAfterFailedCollection(t *testing.T) {
	f := newFixture(t)
	f.worker(t, phlebotomist("P1", 10))
	f.worker(t, phlebotomist("P2", 10))
	f.load(t, "P1", 1)
	item := &models.WorkItem{
		ID:               "O3",
		Kind:             models.KindLabOrder,
		Status:           models.StatusCollectionFailed,
		RiskTier:         models.RiskLow,
		AssignedWorkerID: "P1",
	}
	require.NoError(t, f.store.CreateWorkItem(context.Background(), item))

	out, err := f.engine.Assign(context.Background(), "O3")
	require.NoError(t, err)
	assert.Equal(t, "P2", out.WorkerID)

	got := f.get(t, "O3")
	assert.Equal(t, models.StatusPhlebotomistAssigned, got.Status)
	assert.Equal(t, []string{"P1"}, got.PreviousWorkerIDs)
	assert.Equal(t, 1, f.bookings(t, "P1"), "the failed visit keeps its booking")
}

func TestEligibleWorkers_RankedWithScores(t *testing.T) {
	f := newFixture(t)
	f.worker(t, doctor("D1", 10))
	f.worker(t, doctor("D2", 10))
	f.worker(t, doctor("D3", 0))
	f.load(t, "D1", 5)

	got, err := f.engine.EligibleWorkers(context.Background(), models.Requirements{Kind: models.KindConsultation})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "D2", got[0].Worker.ID)
	assert.Equal(t, 0.0, got[0].LoadScore)
	assert.Equal(t, "D1", got[1].Worker.ID)
	assert.Equal(t, 5, got[1].ActiveCount)
	assert.InDelta(t, 0.5, got[1].LoadScore, 1e-9)
}
