package migrations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"onchain-sip/internal/storage/postgres"
)

// postgresLockID serialises migration runs of concurrent processes sharing a
// database, e.g. the daemon and sipctl started together.
const postgresLockID = 0x5150_0001

const createPostgresVersions = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT        PRIMARY KEY,
		name       TEXT        NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// RunPostgresMigrations applies pending embedded migrations. Each file runs in
// its own transaction together with the row recording its version.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	all, err := loadMigrations(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, createPostgresVersions); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range all {
		if err := applyPostgres(ctx, pool, m); err != nil {
			return err
		}
	}
	return nil
}

// applyPostgres runs m unless another process recorded it first.
func applyPostgres(ctx context.Context, pool *postgres.Pool, m migration) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, postgresLockID); err != nil {
			return fmt.Errorf("lock migrations: %w", err)
		}

		var done bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version).Scan(&done)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if done {
			return nil
		}

		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
		return nil
	})
}

// AppliedPostgresVersions lists the recorded migration versions in order.
func AppliedPostgresVersions(ctx context.Context, pool *postgres.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	return versions, nil
}
