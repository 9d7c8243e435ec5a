package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"hydromate/internal/types"
)

// TaskRepository provides data access for the water_tasks table. It
// implements the store contract the lifecycle engine consumes: lookup by
// unique slot key, conflict-checked insert, filtered listing, in-place
// save, and bulk delete by owner.
type TaskRepository struct {
	db DBTX
}

// NewTaskRepository creates a new TaskRepository backed by the given
// database connection (pool or transaction).
func NewTaskRepository(db DBTX) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, openid, scheduled_at, status, water_amount, completed_at, created_at`

// FindBySlot returns the task at the unique (openid, scheduled_at) key, or
// a not_found_task AppError when no such task exists.
func (r *TaskRepository) FindBySlot(ctx context.Context, openid string, slot time.Time) (*types.WaterTask, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+taskColumns+`
		 FROM water_tasks
		 WHERE openid = $1 AND scheduled_at = $2`,
		openid, slot,
	)
	return scanTask(row)
}

// GetByID returns the task with the given id, or a not_found_task AppError.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*types.WaterTask, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM water_tasks WHERE id = $1`,
		id,
	)
	return scanTask(row)
}

// Insert creates a new task record. If the task has no ID, one is assigned
// ("wt_" + UUID). A collision on the unique (openid, scheduled_at) index is
// reported as conflict_task_exists so callers can fall back to the existing
// record; the database enforces the constraint atomically even when two
// creators race past the check-then-insert.
func (r *TaskRepository) Insert(ctx context.Context, t *types.WaterTask) error {
	if t.ID == "" {
		t.ID = "wt_" + uuid.NewString()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO water_tasks
		 (id, openid, scheduled_at, status, water_amount, completed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID,
		t.OpenID,
		t.ScheduledAt,
		string(t.Status),
		t.WaterAmount,
		t.CompletedAt,
		t.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return types.NewAppError(types.ErrCodeConflictTaskExists,
				"a task already exists for this slot", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert water task", err)
	}
	return nil
}

// List returns tasks matching the filter, ordered by scheduled_at ascending.
func (r *TaskRepository) List(ctx context.Context, filter types.TaskFilter) ([]*types.WaterTask, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if filter.OpenID != "" {
		conditions = append(conditions, fmt.Sprintf("openid = $%d", argIdx))
		args = append(args, filter.OpenID)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.SlotGTE.IsZero() {
		conditions = append(conditions, fmt.Sprintf("scheduled_at >= $%d", argIdx))
		args = append(args, filter.SlotGTE)
		argIdx++
	}
	if !filter.SlotLT.IsZero() {
		conditions = append(conditions, fmt.Sprintf("scheduled_at < $%d", argIdx))
		args = append(args, filter.SlotLT)
		argIdx++
	}
	if !filter.SlotLTE.IsZero() {
		conditions = append(conditions, fmt.Sprintf("scheduled_at <= $%d", argIdx))
		args = append(args, filter.SlotLTE)
		argIdx++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(
		`SELECT %s FROM water_tasks %s ORDER BY scheduled_at ASC`,
		taskColumns, whereClause,
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list water tasks", err)
	}
	defer rows.Close()

	var results []*types.WaterTask
	for rows.Next() {
		t, scanErr := scanTaskFromRows(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan water task row", scanErr)
		}
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating water task rows", err)
	}

	return results, nil
}

// Save updates the mutable fields of a previously fetched task in place.
func (r *TaskRepository) Save(ctx context.Context, t *types.WaterTask) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE water_tasks SET
			status = $1,
			water_amount = $2,
			completed_at = $3
		 WHERE id = $4`,
		string(t.Status),
		t.WaterAmount,
		t.CompletedAt,
		t.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save water task", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTask, "water task not found", nil)
	}
	return nil
}

// DeleteByOwner removes every task belonging to the given owner,
// unconditionally, and returns the count removed. Used for account resets.
func (r *TaskRepository) DeleteByOwner(ctx context.Context, openid string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM water_tasks WHERE openid = $1`,
		openid,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete water tasks", err)
	}
	return tag.RowsAffected(), nil
}

// scanTask scans a single task from a pgx.Row, mapping pgx.ErrNoRows to a
// not_found_task AppError.
func scanTask(row pgx.Row) (*types.WaterTask, error) {
	var (
		t           types.WaterTask
		status      string
		completedAt *time.Time
	)
	err := row.Scan(&t.ID, &t.OpenID, &t.ScheduledAt, &status, &t.WaterAmount, &completedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTask, "water task not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan water task", err)
	}
	t.Status = types.TaskStatus(status)
	t.CompletedAt = completedAt
	return &t, nil
}

// scanTaskFromRows scans a single water_tasks row from a pgx.Rows result set.
func scanTaskFromRows(rows pgx.Rows) (*types.WaterTask, error) {
	var (
		t           types.WaterTask
		status      string
		completedAt *time.Time
	)
	err := rows.Scan(&t.ID, &t.OpenID, &t.ScheduledAt, &status, &t.WaterAmount, &completedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = types.TaskStatus(status)
	t.CompletedAt = completedAt
	return &t, nil
}
