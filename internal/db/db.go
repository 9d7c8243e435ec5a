// Package db provides PostgreSQL-backed repository implementations for the
// hydration reminder service. All repositories accept a DBTX interface that
// is satisfied by both *pgxpool.Pool (for normal queries) and pgx.Tx (for
// transactional execution).
//
// Schema (applied out of band):
//
//	CREATE TABLE users (
//	    openid        TEXT PRIMARY KEY,
//	    nickname      TEXT NOT NULL DEFAULT '用户',
//	    subscribed    BOOLEAN NOT NULL DEFAULT FALSE,
//	    last_reminded TIMESTAMP,
//	    created_at    TIMESTAMP NOT NULL DEFAULT NOW()
//	);
//
//	CREATE TABLE water_tasks (
//	    id           TEXT PRIMARY KEY,
//	    openid       TEXT NOT NULL REFERENCES users(openid),
//	    scheduled_at TIMESTAMP NOT NULL,
//	    status       TEXT NOT NULL DEFAULT 'pending',
//	    water_amount INTEGER NOT NULL,
//	    completed_at TIMESTAMP,
//	    created_at   TIMESTAMP NOT NULL,
//	    UNIQUE (openid, scheduled_at)
//	);
//
// Timestamps are stored without timezone; every value is civil time in the
// service's single configured zone. The unique (openid, scheduled_at) index
// is what makes idempotent task creation race-safe: concurrent creators for
// the same slot collide on the constraint instead of duplicating.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"
