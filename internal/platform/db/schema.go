package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of *pgxpool.Pool needed to apply DDL.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PreferenceSchema creates the table behind the Postgres preference store.
const PreferenceSchema = `CREATE TABLE IF NOT EXISTS user_preference (
    owner      VARCHAR(255) NOT NULL,
    key        VARCHAR(255) NOT NULL,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (owner, key)
)`

// EnsurePreferenceSchema creates the user_preference table if it does not
// exist. It is safe to run on every start.
func EnsurePreferenceSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, PreferenceSchema); err != nil {
		return fmt.Errorf("create user_preference table: %w", err)
	}
	return nil
}
