package assignment

import (
	"context"
	"testing"
	"time"

	"care-dispatch/internal/logger"
	"care-dispatch/internal/models"
	"care-dispatch/internal/notify"
	"care-dispatch/internal/store"

	"github.com/stretchr/testify/require"
)

// MockDataStore delegates to a MemoryStore unless a Func override is set.
type MockDataStore struct {
	*store.MemoryStore
	ListWorkersFunc      func(ctx context.Context, role models.Role) ([]*models.Worker, error)
	DailyLoadsFunc       func(ctx context.Context, workerIDs []string, date string) (map[string]int, error)
	CommitAssignmentFunc func(ctx context.Context, c store.AssignmentCommit) (*models.WorkItem, error)
}

func (m *MockDataStore) ListWorkers(ctx context.Context, role models.Role) ([]*models.Worker, error) {
	if m.ListWorkersFunc != nil {
		return m.ListWorkersFunc(ctx, role)
	}
	return m.MemoryStore.ListWorkers(ctx, role)
}

func (m *MockDataStore) DailyLoads(ctx context.Context, workerIDs []string, date string) (map[string]int, error) {
	if m.DailyLoadsFunc != nil {
		return m.DailyLoadsFunc(ctx, workerIDs, date)
	}
	return m.MemoryStore.DailyLoads(ctx, workerIDs, date)
}

func (m *MockDataStore) CommitAssignment(ctx context.Context, c store.AssignmentCommit) (*models.WorkItem, error) {
	if m.CommitAssignmentFunc != nil {
		return m.CommitAssignmentFunc(ctx, c)
	}
	return m.MemoryStore.CommitAssignment(ctx, c)
}

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store  *store.MemoryStore
	mock   *MockDataStore
	rec    *notify.Recorder
	engine *Engine
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	mock := &MockDataStore{MemoryStore: mem}
	rec := notify.NewRecorder()
	log := logger.NewTest()
	alerts := notify.NewDispatcher(rec, log.WithComponent("notify"), nil, "ops")
	eng := NewEngine(mock, alerts, log, WithClock(func() time.Time { return testNow }))
	return &fixture{store: mem, mock: mock, rec: rec, engine: eng}
}

func (f *fixture) worker(t testing.TB, w *models.Worker) *models.Worker {
	t.Helper()
	if w.Role == "" {
		w.Role = models.RoleDoctor
	}
	require.NoError(t, f.store.SaveWorker(context.Background(), w))
	return w
}

func doctor(id string, capacity int) *models.Worker {
	return &models.Worker{ID: id, Role: models.RoleDoctor, Active: true, Verified: true, DailyCapacity: capacity}
}

func phlebotomist(id string, capacity int) *models.Worker {
	return &models.Worker{ID: id, Role: models.RolePhlebotomist, Active: true, Verified: true, DailyCapacity: capacity}
}

// load books n slots for the worker on the fixture's current day.
func (f *fixture) load(t testing.TB, workerID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.store.IncrementRoster(context.Background(), workerID, models.RosterDate(testNow), 1<<20)
		require.NoError(t, err)
	}
}

func (f *fixture) consultation(t testing.TB, id string, tier models.RiskTier) *models.WorkItem {
	t.Helper()
	item := &models.WorkItem{ID: id, Kind: models.KindConsultation, Status: models.StatusPendingAssignment, RiskTier: tier}
	require.NoError(t, f.store.CreateWorkItem(context.Background(), item))
	return item
}

func (f *fixture) labOrder(t testing.TB, id string, status models.Status) *models.WorkItem {
	t.Helper()
	item := &models.WorkItem{ID: id, Kind: models.KindLabOrder, Status: status, RiskTier: models.RiskMedium}
	require.NoError(t, f.store.CreateWorkItem(context.Background(), item))
	return item
}

func (f *fixture) get(t testing.TB, id string) *models.WorkItem {
	t.Helper()
	item, err := f.store.GetWorkItem(context.Background(), id)
	require.NoError(t, err)
	return item
}

func (f *fixture) bookings(t testing.TB, workerID string) int {
	t.Helper()
	loads, err := f.store.DailyLoads(context.Background(), []string{workerID}, models.RosterDate(testNow))
	require.NoError(t, err)
	return loads[workerID]
}
