package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"hydromate/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Mock Rows ---

type mockRows struct {
	data    [][]any
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func newMockRows(data [][]any) *mockRows {
	return &mockRows{data: data, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx]
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = row[i].(string)
		case *int:
			*v = row[i].(int)
		case *bool:
			*v = row[i].(bool)
		case *time.Time:
			*v = row[i].(time.Time)
		case **time.Time:
			if row[i] == nil {
				*v = nil
			} else {
				tv := row[i].(time.Time)
				*v = &tv
			}
		}
	}
	return nil
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// --- Helpers ---

func taskRowValues(id, openid string, slot time.Time, status string, amount int, completedAt any, createdAt time.Time) []any {
	return []any{id, openid, slot, status, amount, completedAt, createdAt}
}

func requireAppCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
}

// --- FindBySlot / GetByID ---

func TestTaskRepository_FindBySlot_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	slot := time.Date(2025, 6, 1, 9, 30, 0, 0, time.Local)
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.Local)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "wt_1"
			*dest[1].(*string) = "oABC"
			*dest[2].(*time.Time) = slot
			*dest[3].(*string) = "pending"
			*dest[4].(*int) = 250
			*dest[5].(**time.Time) = nil
			*dest[6].(*time.Time) = created
			return nil
		},
	}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"oABC", slot}).Return(row)

	task, err := repo.FindBySlot(context.Background(), "oABC", slot)
	require.NoError(t, err)
	assert.Equal(t, "wt_1", task.ID)
	assert.Equal(t, types.TaskPending, task.Status)
	assert.Nil(t, task.CompletedAt)
	assert.Equal(t, 250, task.WaterAmount)

	db.AssertExpectations(t)
}

func TestTaskRepository_FindBySlot_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := repo.FindBySlot(context.Background(), "oABC", time.Now())
	requireAppCode(t, err, types.ErrCodeNotFoundTask)
}

func TestTaskRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"wt_missing"}).Return(row)

	_, err := repo.GetByID(context.Background(), "wt_missing")
	requireAppCode(t, err, types.ErrCodeNotFoundTask)
}

// --- Insert ---

func TestTaskRepository_Insert_AssignsID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	task := &types.WaterTask{
		OpenID:      "oABC",
		ScheduledAt: time.Date(2025, 6, 1, 9, 30, 0, 0, time.Local),
		Status:      types.TaskPending,
		WaterAmount: 250,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, repo.Insert(context.Background(), task))
	assert.True(t, strings.HasPrefix(task.ID, "wt_"))

	db.AssertExpectations(t)
}

func TestTaskRepository_Insert_UniqueViolation(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: uniqueViolation})

	err := repo.Insert(context.Background(), &types.WaterTask{OpenID: "oABC"})
	requireAppCode(t, err, types.ErrCodeConflictTaskExists)
}

func TestTaskRepository_Insert_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.Insert(context.Background(), &types.WaterTask{OpenID: "oABC"})
	requireAppCode(t, err, types.ErrCodeInternalDB)
}

// --- List ---

func TestTaskRepository_List_FilterComposition(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	slot := time.Date(2025, 6, 1, 9, 30, 0, 0, time.Local)
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.Local)
	completed := time.Date(2025, 6, 1, 9, 40, 0, 0, time.Local)

	rows := newMockRows([][]any{
		taskRowValues("wt_1", "oABC", slot, "completed", 250, completed, created),
		taskRowValues("wt_2", "oABC", slot.Add(90*time.Minute), "pending", 250, nil, created),
	})

	var gotSQL string
	var gotArgs []any
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			gotSQL = args.String(1)
			gotArgs = args.Get(2).([]any)
		}).
		Return(rows, nil)

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.Local)
	end := start.Add(24 * time.Hour)
	tasks, err := repo.List(context.Background(), types.TaskFilter{
		OpenID:  "oABC",
		SlotGTE: start,
		SlotLT:  end,
	})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, types.TaskCompleted, tasks[0].Status)
	require.NotNil(t, tasks[0].CompletedAt)
	assert.Nil(t, tasks[1].CompletedAt)

	assert.Contains(t, gotSQL, "openid = $1")
	assert.Contains(t, gotSQL, "scheduled_at >= $2")
	assert.Contains(t, gotSQL, "scheduled_at < $3")
	assert.Contains(t, gotSQL, "ORDER BY scheduled_at ASC")
	assert.Equal(t, []any{"oABC", start, end}, gotArgs)
}

func TestTaskRepository_List_NoFilter(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	var gotSQL string
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) { gotSQL = args.String(1) }).
		Return(newMockRows(nil), nil)

	tasks, err := repo.List(context.Background(), types.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.NotContains(t, gotSQL, "WHERE")
}

func TestTaskRepository_List_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := repo.List(context.Background(), types.TaskFilter{OpenID: "oABC"})
	requireAppCode(t, err, types.ErrCodeInternalDB)
}

// --- Save ---

func TestTaskRepository_Save_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	completed := time.Now()
	task := &types.WaterTask{
		ID:          "wt_1",
		Status:      types.TaskCompleted,
		WaterAmount: 250,
		CompletedAt: &completed,
	}

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"),
		[]any{"completed", 250, &completed, "wt_1"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.Save(context.Background(), task))
	db.AssertExpectations(t)
}

func TestTaskRepository_Save_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Save(context.Background(), &types.WaterTask{ID: "wt_gone"})
	requireAppCode(t, err, types.ErrCodeNotFoundTask)
}

// --- DeleteByOwner ---

func TestTaskRepository_DeleteByOwner(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{"oABC"}).
		Return(pgconn.NewCommandTag("DELETE 16"), nil)

	n, err := repo.DeleteByOwner(context.Background(), "oABC")
	require.NoError(t, err)
	assert.Equal(t, int64(16), n)
}

func TestTaskRepository_DeleteByOwner_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.DeleteByOwner(context.Background(), "oABC")
	requireAppCode(t, err, types.ErrCodeInternalDB)
}
