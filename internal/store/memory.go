package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"care-dispatch/internal/apperr"
	"care-dispatch/internal/models"
	"care-dispatch/internal/workflow"
)

// MemoryStore keeps everything in maps behind one mutex. Reads and writes
// exchange deep copies so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[string]*models.WorkItem
	workers map[string]*models.Worker
	rosters map[rosterKey]*models.DailyRoster
	now     func() time.Time
}

type rosterKey struct {
	workerID string
	date     string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   make(map[string]*models.WorkItem),
		workers: make(map[string]*models.Worker),
		rosters: make(map[rosterKey]*models.DailyRoster),
		now:     time.Now,
	}
}

func (s *MemoryStore) GetWorkItem(_ context.Context, id string) (*models.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, apperr.NotFound("work item", id)
	}
	return item.Clone(), nil
}

func (s *MemoryStore) CreateWorkItem(_ context.Context, item *models.WorkItem) error {
	if item == nil || item.ID == "" {
		return apperr.Validation("id", "work item id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return apperr.Conflict("work item "+item.ID+" already exists", nil)
	}
	c := item.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	s.items[item.ID] = c
	return nil
}

func (s *MemoryStore) UpdateWorkItem(_ context.Context, item *models.WorkItem, expected models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[item.ID]
	if !ok {
		return apperr.NotFound("work item", item.ID)
	}
	if cur.Status != expected {
		return ErrStale
	}
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *MemoryStore) MarkLabAlerted(_ context.Context, id string, flags LabAlertFlags, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[id]
	if !ok {
		return apperr.NotFound("work item", id)
	}
	if flags.Critical && cur.CriticalAckAt != nil {
		return ErrStale
	}
	cur.TurnaroundAlerted = cur.TurnaroundAlerted || flags.Turnaround
	cur.CriticalAlerted = cur.CriticalAlerted || flags.Critical
	cur.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, statuses []models.Status) ([]*models.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := statusSet(statuses)
	var out []*models.WorkItem
	for _, item := range s.items {
		if want[item.Status] {
			out = append(out, item.Clone())
		}
	}
	sortItems(out)
	return out, nil
}

func (s *MemoryStore) ListBreached(_ context.Context, statuses []models.Status, t time.Time) ([]*models.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := statusSet(statuses)
	var out []*models.WorkItem
	for _, item := range s.items {
		if want[item.Status] && item.Deadline != nil && item.Deadline.Before(t) {
			out = append(out, item.Clone())
		}
	}
	sortItems(out)
	return out, nil
}

func (s *MemoryStore) GetWorker(_ context.Context, id string) (*models.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, apperr.NotFound("worker", id)
	}
	return w.Clone(), nil
}

func (s *MemoryStore) SaveWorker(_ context.Context, w *models.Worker) error {
	if w == nil || w.ID == "" {
		return apperr.Validation("id", "worker id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.ID] = w.Clone()
	return nil
}

func (s *MemoryStore) ListWorkers(_ context.Context, role models.Role) ([]*models.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Worker
	for _, w := range s.workers {
		if role == "" || w.Role == role {
			out = append(out, w.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) OpenAssignmentCounts(_ context.Context, workerIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(workerIDs))
	for _, id := range workerIDs {
		out[id] = s.openCountLocked(id)
	}
	return out, nil
}

func (s *MemoryStore) GetRoster(_ context.Context, workerID, date string) (*models.DailyRoster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rosters[rosterKey{workerID, date}]
	if !ok {
		return nil, apperr.NotFound("roster", workerID+"/"+date)
	}
	c := *r
	return &c, nil
}

func (s *MemoryStore) DailyLoads(_ context.Context, workerIDs []string, date string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(workerIDs))
	for _, id := range workerIDs {
		if r, ok := s.rosters[rosterKey{id, date}]; ok {
			out[id] = r.TotalBookings
			continue
		}
		out[id] = s.openCountLocked(id)
	}
	return out, nil
}

func (s *MemoryStore) IncrementRoster(_ context.Context, workerID, date string, capacity int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementLocked(workerID, date, capacity)
}

func (s *MemoryStore) DecrementRoster(_ context.Context, workerID, date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decrementLocked(workerID, date), nil
}

func (s *MemoryStore) CommitAssignment(_ context.Context, c AssignmentCommit) (*models.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[c.ItemID]
	if !ok {
		return nil, apperr.NotFound("work item", c.ItemID)
	}
	if cur.Status != c.ExpectedStatus || cur.AssignedWorkerID != c.ExpectedWorkerID {
		return nil, ErrStale
	}
	w, ok := s.workers[c.WorkerID]
	if !ok {
		return nil, apperr.NotFound("worker", c.WorkerID)
	}

	// Capacity is checked before anything is written so a full roster
	// leaves the item and both rosters untouched.
	if _, err := s.incrementLocked(c.WorkerID, c.RosterDate, c.Capacity); err != nil {
		return nil, err
	}
	if c.ReleaseWorkerID != "" {
		s.decrementLocked(c.ReleaseWorkerID, c.ReleaseDate)
	}

	item := cur.Clone()
	item.AssignedWorkerID = c.WorkerID
	item.Status = c.Status
	deadline := c.Deadline
	item.Deadline = &deadline
	item.Milestones.Set(models.FieldAssignedAt, c.AssignedAt)
	if c.AppendPrevious != "" {
		item.PreviousWorkerIDs = append(item.PreviousWorkerIDs, c.AppendPrevious)
	}
	item.MaxBouncesAlerted = false
	item.UpdatedAt = c.AssignedAt
	s.items[item.ID] = item

	at := c.AssignedAt
	w.LastAssignedAt = &at
	w.UpdatedAt = at

	return item.Clone(), nil
}

func (s *MemoryStore) CommitCancellation(_ context.Context, c CancellationCommit) (*models.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[c.ItemID]
	if !ok {
		return nil, apperr.NotFound("work item", c.ItemID)
	}
	if cur.Status != c.ExpectedStatus {
		return nil, ErrStale
	}
	if c.ReleaseWorkerID != "" {
		s.decrementLocked(c.ReleaseWorkerID, c.ReleaseDate)
	}

	item := cur.Clone()
	item.Status = models.StatusCancelled
	item.CancelReason = c.Reason
	item.Milestones.Set(models.FieldCancelledAt, c.CancelledAt)
	item.UpdatedAt = c.CancelledAt
	s.items[item.ID] = item
	return item.Clone(), nil
}

func (s *MemoryStore) incrementLocked(workerID, date string, capacity int) (int, error) {
	key := rosterKey{workerID, date}
	r, ok := s.rosters[key]
	if !ok {
		r = &models.DailyRoster{WorkerID: workerID, Date: date, TotalBookings: s.openCountLocked(workerID)}
	}
	if r.TotalBookings >= capacity {
		return r.TotalBookings, ErrCapacityExhausted
	}
	r.TotalBookings++
	r.UpdatedAt = s.now().UTC()
	s.rosters[key] = r
	return r.TotalBookings, nil
}

func (s *MemoryStore) decrementLocked(workerID, date string) int {
	r, ok := s.rosters[rosterKey{workerID, date}]
	if !ok {
		return 0
	}
	if r.TotalBookings > 0 {
		r.TotalBookings--
	}
	r.UpdatedAt = s.now().UTC()
	return r.TotalBookings
}

func (s *MemoryStore) openCountLocked(workerID string) int {
	n := 0
	for _, item := range s.items {
		if item.AssignedWorkerID == workerID && workflow.HoldsRosterSlot(item.Status) {
			n++
		}
	}
	return n
}

func statusSet(statuses []models.Status) map[models.Status]bool {
	set := make(map[models.Status]bool, len(statuses))
	for _, st := range statuses {
		set[st] = true
	}
	return set
}

func sortItems(items []*models.WorkItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}
