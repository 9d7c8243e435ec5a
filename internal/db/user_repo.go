package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"hydromate/internal/types"
)

// UserRepository provides data access for the users table. The lifecycle
// engine never writes users; login and subscription endpoints do, and the
// reminder/reconciliation jobs read them.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `openid, nickname, subscribed, last_reminded, created_at`

// GetByOpenID returns the user with the given openid, or a not_found_user
// AppError when absent.
func (r *UserRepository) GetByOpenID(ctx context.Context, openid string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE openid = $1`,
		openid,
	)
	var u types.User
	err := row.Scan(&u.OpenID, &u.Nickname, &u.Subscribed, &u.LastReminded, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get user", err)
	}
	return &u, nil
}

// Upsert inserts the user or, if the openid already exists, updates the
// nickname when a non-empty one is provided. The subscribed flag is only
// set on first insert; existing subscriptions are left untouched.
func (r *UserRepository) Upsert(ctx context.Context, u *types.User) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO users (openid, nickname, subscribed, created_at)
		 VALUES ($1, $2, $3, COALESCE($4, NOW()))
		 ON CONFLICT (openid) DO UPDATE SET
			nickname = CASE WHEN $2 <> '' THEN $2 ELSE users.nickname END
		 RETURNING `+userColumns,
		u.OpenID,
		u.Nickname,
		u.Subscribed,
		nilIfZeroTime(u.CreatedAt),
	)
	err := row.Scan(&u.OpenID, &u.Nickname, &u.Subscribed, &u.LastReminded, &u.CreatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert user", err)
	}
	return nil
}

// SetSubscribed flips the subscription flag for an existing user.
// Returns not_found_user when the openid is unknown.
func (r *UserRepository) SetSubscribed(ctx context.Context, openid string, subscribed bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET subscribed = $1 WHERE openid = $2`,
		subscribed, openid,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// List returns users ordered by creation time. When onlySubscribed is set,
// unsubscribed users are filtered out (the reminder dispatch path); the
// reconciler passes false and sees everyone.
func (r *UserRepository) List(ctx context.Context, onlySubscribed bool) ([]*types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at, openid`
	if onlySubscribed {
		query = `SELECT ` + userColumns + ` FROM users WHERE subscribed ORDER BY created_at, openid`
	}

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list users", err)
	}
	defer rows.Close()

	var results []*types.User
	for rows.Next() {
		var u types.User
		if err := rows.Scan(&u.OpenID, &u.Nickname, &u.Subscribed, &u.LastReminded, &u.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan user row", err)
		}
		results = append(results, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating user rows", err)
	}

	return results, nil
}

// TouchLastReminded records that a reminder was just dispatched to the user.
func (r *UserRepository) TouchLastReminded(ctx context.Context, openid string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET last_reminded = $1 WHERE openid = $2`,
		at, openid,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update last_reminded", err)
	}
	return nil
}

// nilIfZeroTime returns nil for the zero time so COALESCE can apply the
// database default.
func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
