package app

import (
	"context"
	"testing"
	"time"

	"care-dispatch/internal/config"
	"care-dispatch/internal/logger"
	"care-dispatch/internal/models"
	"care-dispatch/internal/notify"
	"care-dispatch/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNewWiresSharedStack(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	rec := notify.NewRecorder()

	a, err := New(ctx, testConfig(t), logger.NewTest(), WithStore(mem), WithNotifier(rec))
	require.NoError(t, err)
	defer a.Close()

	alerts, unsubscribe := a.Hub.Subscribe(8, nil)
	defer unsubscribe()

	require.NoError(t, mem.SaveWorker(ctx, &models.Worker{
		ID: "D1", Role: models.RoleDoctor, Active: true, Verified: true, DailyCapacity: 5,
	}))
	require.NoError(t, mem.CreateWorkItem(ctx, &models.WorkItem{
		ID: "C1", Kind: models.KindConsultation, Status: models.StatusPendingAssignment, RiskTier: models.RiskLow,
	}))

	out, err := a.Engine.Assign(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, out.Assigned)

	select {
	case n := <-alerts:
		assert.Equal(t, models.EventAssignmentNew, n.EventType)
		assert.Equal(t, "D1", n.RecipientID)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not receive the assignment notification")
	}
	require.Eventually(t, func() bool { return rec.Count(models.EventAssignmentNew) == 1 }, 2*time.Second, 10*time.Millisecond)

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "care_dispatch_assignment_outcomes_total")
}

func TestNewDefaultsToMemoryStore(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), logger.NewTest())
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.Store.(*store.MemoryStore)
	assert.True(t, ok)
}
