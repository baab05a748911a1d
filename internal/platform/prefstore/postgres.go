package prefstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultOwner is the preference namespace used when no owner is configured.
const DefaultOwner = "default"

// Querier is the subset of *pgxpool.Pool used by Postgres.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Postgres stores preferences in the user_preference table, one row per
// (owner, key).
type Postgres struct {
	db    Querier
	owner string
}

// NewPostgres creates a Postgres store for owner.
func NewPostgres(db Querier, owner string) *Postgres {
	if owner == "" {
		owner = DefaultOwner
	}
	return &Postgres{db: db, owner: owner}
}

// ForOwner returns a store over the same table scoped to another owner.
func (p *Postgres) ForOwner(owner string) *Postgres {
	return NewPostgres(p.db, owner)
}

func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRow(ctx,
		`SELECT value FROM user_preference WHERE owner = $1 AND key = $2`,
		p.owner, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference %s: %w", key, err)
	}
	return value, true, nil
}

func (p *Postgres) Set(ctx context.Context, key, value string) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO user_preference (owner, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (owner, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		p.owner, key, value)
	if err != nil {
		return fmt.Errorf("set preference %s: %w", key, err)
	}
	return nil
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}
