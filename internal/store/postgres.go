package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"care-dispatch/internal/apperr"
	"care-dispatch/internal/models"
	"care-dispatch/internal/workflow"

	"github.com/lib/pq"
)

// PostgresStore implements Store on database/sql with lib/pq. Commits run in
// one transaction holding a row lock on the work item.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(conn *sql.DB) *PostgresStore {
	return &PostgresStore{db: conn}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const workItemColumns = `id, kind, status, risk_tier, required_skill, area, requested_by, lab_id,
	fasting_required, assigned_worker_id, previous_worker_ids, deadline, collection_attempts,
	collected_tube_count, received_tube_count, fasting_violation, tube_count_mismatch,
	failure_reason, issue_reason, cancel_reason, critical_value, critical_ack_at, results_due_at,
	turnaround_alerted, critical_alerted, max_bounces_alerted, milestones, created_at, updated_at`

const workerColumns = `id, name, role, active, verified, daily_capacity, last_assigned_at,
	skill_tags, area_tags, senior, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkItem(row rowScanner) (*models.WorkItem, error) {
	var (
		item       models.WorkItem
		assigned   sql.NullString
		previous   []string
		deadline   sql.NullTime
		ackAt      sql.NullTime
		dueAt      sql.NullTime
		milestones []byte
	)
	err := row.Scan(&item.ID, &item.Kind, &item.Status, &item.RiskTier, &item.RequiredSkill, &item.Area,
		&item.RequestedBy, &item.LabID, &item.FastingRequired, &assigned, pq.Array(&previous), &deadline,
		&item.CollectionAttempts, &item.CollectedTubeCount, &item.ReceivedTubeCount, &item.FastingViolation,
		&item.TubeCountMismatch, &item.FailureReason, &item.IssueReason, &item.CancelReason,
		&item.CriticalValue, &ackAt, &dueAt, &item.TurnaroundAlerted, &item.CriticalAlerted, &item.MaxBouncesAlerted, &milestones,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.AssignedWorkerID = assigned.String
	item.PreviousWorkerIDs = previous
	item.Deadline = nullTime(deadline)
	item.CriticalAckAt = nullTime(ackAt)
	item.ResultsDueAt = nullTime(dueAt)
	if len(milestones) > 0 {
		if err := json.Unmarshal(milestones, &item.Milestones); err != nil {
			return nil, fmt.Errorf("decode milestones for %s: %w", item.ID, err)
		}
	}
	return &item, nil
}

func scanWorker(row rowScanner) (*models.Worker, error) {
	var (
		w      models.Worker
		last   sql.NullTime
		skills []string
		areas  []string
	)
	if err := row.Scan(&w.ID, &w.Name, &w.Role, &w.Active, &w.Verified, &w.DailyCapacity, &last,
		pq.Array(&skills), pq.Array(&areas), &w.Senior, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.LastAssignedAt = nullTime(last)
	w.SkillTags = skills
	w.AreaTags = areas
	return &w, nil
}

func (s *PostgresStore) GetWorkItem(ctx context.Context, id string) (*models.WorkItem, error) {
	return getWorkItem(ctx, s.db, id, false)
}

func getWorkItem(ctx context.Context, q querier, id string, forUpdate bool) (*models.WorkItem, error) {
	query := "SELECT " + workItemColumns + " FROM work_items WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	item, err := scanWorkItem(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("work item", id)
	}
	if err != nil {
		return nil, apperr.Internal("failed to load work item", err)
	}
	return item, nil
}

func (s *PostgresStore) CreateWorkItem(ctx context.Context, item *models.WorkItem) error {
	milestones, err := json.Marshal(item.Milestones)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	_, err = s.db.ExecContext(ctx, "INSERT INTO work_items ("+workItemColumns+`) VALUES
		($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		 $21, $22, $23, $24, $25, $26, $27, $28, $29)`,
		item.ID, item.Kind, item.Status, item.RiskTier, item.RequiredSkill, item.Area, item.RequestedBy,
		item.LabID, item.FastingRequired, nullString(item.AssignedWorkerID), pq.Array(item.PreviousWorkerIDs),
		item.Deadline, item.CollectionAttempts, item.CollectedTubeCount, item.ReceivedTubeCount,
		item.FastingViolation, item.TubeCountMismatch, item.FailureReason, item.IssueReason, item.CancelReason,
		item.CriticalValue, item.CriticalAckAt, item.ResultsDueAt, item.TurnaroundAlerted, item.CriticalAlerted,
		item.MaxBouncesAlerted, milestones, item.CreatedAt, item.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return apperr.Conflict("work item "+item.ID+" already exists", err)
	}
	return err
}

func (s *PostgresStore) UpdateWorkItem(ctx context.Context, item *models.WorkItem, expected models.Status) error {
	milestones, err := json.Marshal(item.Milestones)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE work_items SET
		status = $2, assigned_worker_id = $3, previous_worker_ids = $4, deadline = $5,
		collection_attempts = $6, collected_tube_count = $7, received_tube_count = $8,
		fasting_violation = $9, tube_count_mismatch = $10, failure_reason = $11, issue_reason = $12,
		cancel_reason = $13, critical_value = $14, critical_ack_at = $15, results_due_at = $16,
		turnaround_alerted = $17, critical_alerted = $18, milestones = $19, lab_id = $20, updated_at = $21,
		max_bounces_alerted = $23
		WHERE id = $1 AND status = $22`,
		item.ID, item.Status, nullString(item.AssignedWorkerID), pq.Array(item.PreviousWorkerIDs), item.Deadline,
		item.CollectionAttempts, item.CollectedTubeCount, item.ReceivedTubeCount, item.FastingViolation,
		item.TubeCountMismatch, item.FailureReason, item.IssueReason, item.CancelReason, item.CriticalValue,
		item.CriticalAckAt, item.ResultsDueAt, item.TurnaroundAlerted, item.CriticalAlerted, milestones,
		item.LabID, item.UpdatedAt, expected, item.MaxBouncesAlerted)
	if err != nil {
		return apperr.Internal("failed to update work item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetWorkItem(ctx, item.ID); err != nil {
			return err
		}
		return ErrStale
	}
	return nil
}

func (s *PostgresStore) MarkLabAlerted(ctx context.Context, id string, flags LabAlertFlags, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE work_items SET
		turnaround_alerted = turnaround_alerted OR $2, critical_alerted = critical_alerted OR $3, updated_at = $4
		WHERE id = $1 AND (NOT $3 OR critical_ack_at IS NULL)`,
		id, flags.Turnaround, flags.Critical, at)
	if err != nil {
		return apperr.Internal("failed to record lab alert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetWorkItem(ctx, id); err != nil {
			return err
		}
		return ErrStale
	}
	return nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, statuses []models.Status) ([]*models.WorkItem, error) {
	return s.listWorkItems(ctx, "SELECT "+workItemColumns+" FROM work_items WHERE status = ANY($1) ORDER BY id",
		pq.Array(statusStrings(statuses)))
}

func (s *PostgresStore) ListBreached(ctx context.Context, statuses []models.Status, t time.Time) ([]*models.WorkItem, error) {
	return s.listWorkItems(ctx, "SELECT "+workItemColumns+` FROM work_items
		WHERE status = ANY($1) AND deadline IS NOT NULL AND deadline < $2 ORDER BY id`,
		pq.Array(statusStrings(statuses)), t)
}

func (s *PostgresStore) listWorkItems(ctx context.Context, query string, args ...interface{}) ([]*models.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal("failed to list work items", err)
	}
	defer rows.Close()

	var items []*models.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetWorker(ctx context.Context, id string) (*models.Worker, error) {
	w, err := scanWorker(s.db.QueryRowContext(ctx, "SELECT "+workerColumns+" FROM workers WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("worker", id)
	}
	if err != nil {
		return nil, apperr.Internal("failed to load worker", err)
	}
	return w, nil
}

func (s *PostgresStore) SaveWorker(ctx context.Context, w *models.Worker) error {
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, "INSERT INTO workers ("+workerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role,
			active = EXCLUDED.active, verified = EXCLUDED.verified,
			daily_capacity = EXCLUDED.daily_capacity, last_assigned_at = EXCLUDED.last_assigned_at,
			skill_tags = EXCLUDED.skill_tags, area_tags = EXCLUDED.area_tags,
			senior = EXCLUDED.senior, updated_at = EXCLUDED.updated_at`,
		w.ID, w.Name, w.Role, w.Active, w.Verified, w.DailyCapacity, w.LastAssignedAt,
		pq.Array(w.SkillTags), pq.Array(w.AreaTags), w.Senior, w.CreatedAt, w.UpdatedAt)
	return err
}

func (s *PostgresStore) ListWorkers(ctx context.Context, role models.Role) ([]*models.Worker, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+workerColumns+" FROM workers WHERE ($1 = '' OR role = $1) ORDER BY id", string(role))
	if err != nil {
		return nil, apperr.Internal("failed to list workers", err)
	}
	defer rows.Close()

	var workers []*models.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

func (s *PostgresStore) OpenAssignmentCounts(ctx context.Context, workerIDs []string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT assigned_worker_id, COUNT(*) FROM work_items
		WHERE assigned_worker_id = ANY($1) AND status = ANY($2) GROUP BY assigned_worker_id`,
		pq.Array(workerIDs), pq.Array(statusStrings(workflow.OpenStatuses())))
	if err != nil {
		return nil, apperr.Internal("failed to count open assignments", err)
	}
	defer rows.Close()

	out := make(map[string]int, len(workerIDs))
	for _, id := range workerIDs {
		out[id] = 0
	}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetRoster(ctx context.Context, workerID, date string) (*models.DailyRoster, error) {
	var r models.DailyRoster
	err := s.db.QueryRowContext(ctx, `SELECT worker_id, to_char(roster_date, 'YYYY-MM-DD'), total_bookings, updated_at
		FROM daily_roster WHERE worker_id = $1 AND roster_date = $2::date`, workerID, date).
		Scan(&r.WorkerID, &r.Date, &r.TotalBookings, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("roster", workerID+"/"+date)
	}
	if err != nil {
		return nil, apperr.Internal("failed to load roster", err)
	}
	return &r, nil
}

func (s *PostgresStore) DailyLoads(ctx context.Context, workerIDs []string, date string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT w.id, COALESCE(r.total_bookings, (
			SELECT COUNT(*) FROM work_items i WHERE i.assigned_worker_id = w.id AND i.status = ANY($3)
		))
		FROM unnest($1::text[]) AS w(id)
		LEFT JOIN daily_roster r ON r.worker_id = w.id AND r.roster_date = $2::date`,
		pq.Array(workerIDs), date, pq.Array(statusStrings(workflow.OpenStatuses())))
	if err != nil {
		return nil, apperr.Internal("failed to read daily loads", err)
	}
	defer rows.Close()

	out := make(map[string]int, len(workerIDs))
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (s *PostgresStore) IncrementRoster(ctx context.Context, workerID, date string, capacity int) (int, error) {
	var total int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		total, err = incrementRoster(ctx, tx, workerID, date, capacity, time.Now().UTC())
		return err
	})
	return total, err
}

func (s *PostgresStore) DecrementRoster(ctx context.Context, workerID, date string) (int, error) {
	return decrementRoster(ctx, s.db, workerID, date, time.Now().UTC())
}

// incrementRoster seeds a missing row from the live open count, then takes a
// booking only while total_bookings is below capacity.
func incrementRoster(ctx context.Context, q querier, workerID, date string, capacity int, at time.Time) (int, error) {
	if _, err := q.ExecContext(ctx, `INSERT INTO daily_roster (worker_id, roster_date, total_bookings, updated_at)
		VALUES ($1, $2::date, (SELECT COUNT(*) FROM work_items WHERE assigned_worker_id = $1 AND status = ANY($3)), $4)
		ON CONFLICT (worker_id, roster_date) DO NOTHING`,
		workerID, date, pq.Array(statusStrings(workflow.OpenStatuses())), at); err != nil {
		return 0, apperr.Internal("failed to seed roster", err)
	}

	var total int
	err := q.QueryRowContext(ctx, `UPDATE daily_roster SET total_bookings = total_bookings + 1, updated_at = $4
		WHERE worker_id = $1 AND roster_date = $2::date AND total_bookings < $3
		RETURNING total_bookings`, workerID, date, capacity, at).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrCapacityExhausted
	}
	if err != nil {
		return 0, apperr.Internal("failed to increment roster", err)
	}
	return total, nil
}

func decrementRoster(ctx context.Context, q querier, workerID, date string, at time.Time) (int, error) {
	var total int
	err := q.QueryRowContext(ctx, `UPDATE daily_roster SET total_bookings = GREATEST(total_bookings - 1, 0), updated_at = $3
		WHERE worker_id = $1 AND roster_date = $2::date
		RETURNING total_bookings`, workerID, date, at).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Internal("failed to decrement roster", err)
	}
	return total, nil
}

func (s *PostgresStore) CommitAssignment(ctx context.Context, c AssignmentCommit) (*models.WorkItem, error) {
	var out *models.WorkItem
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := getWorkItem(ctx, tx, c.ItemID, true)
		if err != nil {
			return err
		}
		if cur.Status != c.ExpectedStatus || cur.AssignedWorkerID != c.ExpectedWorkerID {
			return ErrStale
		}

		if _, err := incrementRoster(ctx, tx, c.WorkerID, c.RosterDate, c.Capacity, c.AssignedAt); err != nil {
			return err
		}
		if c.ReleaseWorkerID != "" {
			if _, err := decrementRoster(ctx, tx, c.ReleaseWorkerID, c.ReleaseDate, c.AssignedAt); err != nil {
				return err
			}
		}

		cur.AssignedWorkerID = c.WorkerID
		cur.Status = c.Status
		deadline := c.Deadline
		cur.Deadline = &deadline
		cur.Milestones.Set(models.FieldAssignedAt, c.AssignedAt)
		if c.AppendPrevious != "" {
			cur.PreviousWorkerIDs = append(cur.PreviousWorkerIDs, c.AppendPrevious)
		}
		cur.MaxBouncesAlerted = false
		cur.UpdatedAt = c.AssignedAt

		milestones, err := json.Marshal(cur.Milestones)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE work_items SET status = $2, assigned_worker_id = $3,
			previous_worker_ids = $4, deadline = $5, milestones = $6, updated_at = $7,
			max_bounces_alerted = FALSE WHERE id = $1`,
			cur.ID, cur.Status, cur.AssignedWorkerID, pq.Array(cur.PreviousWorkerIDs), cur.Deadline,
			milestones, cur.UpdatedAt); err != nil {
			return apperr.Internal("failed to update work item", err)
		}
		res, err := tx.ExecContext(ctx, "UPDATE workers SET last_assigned_at = $2, updated_at = $2 WHERE id = $1",
			c.WorkerID, c.AssignedAt)
		if err != nil {
			return apperr.Internal("failed to update worker", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("worker", c.WorkerID)
		}
		out = cur
		return nil
	})
	return out, err
}

func (s *PostgresStore) CommitCancellation(ctx context.Context, c CancellationCommit) (*models.WorkItem, error) {
	var out *models.WorkItem
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := getWorkItem(ctx, tx, c.ItemID, true)
		if err != nil {
			return err
		}
		if cur.Status != c.ExpectedStatus {
			return ErrStale
		}
		if c.ReleaseWorkerID != "" {
			if _, err := decrementRoster(ctx, tx, c.ReleaseWorkerID, c.ReleaseDate, c.CancelledAt); err != nil {
				return err
			}
		}

		cur.Status = models.StatusCancelled
		cur.CancelReason = c.Reason
		cur.Milestones.Set(models.FieldCancelledAt, c.CancelledAt)
		cur.UpdatedAt = c.CancelledAt

		milestones, err := json.Marshal(cur.Milestones)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE work_items SET status = $2, cancel_reason = $3,
			milestones = $4, updated_at = $5 WHERE id = $1`,
			cur.ID, cur.Status, cur.CancelReason, milestones, cur.UpdatedAt); err != nil {
			return apperr.Internal("failed to cancel work item", err)
		}
		out = cur
		return nil
	})
	return out, err
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Internal("failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Internal("failed to commit transaction", err)
	}
	return nil
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
