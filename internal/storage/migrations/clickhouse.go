package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	chstore "onchain-sip/internal/storage/clickhouse"
)

// ClickhouseOptions tunes the probe log schema.
type ClickhouseOptions struct {
	// ProbeLogTTLDays drops probe rows older than this many days. Zero keeps
	// rows forever and removes a retention set by an earlier run.
	ProbeLogTTLDays int
}

const createClickhouseVersions = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    String,
    name       String,
    applied_at DateTime DEFAULT now()
) ENGINE = ReplacingMergeTree()
ORDER BY version`

// RunClickhouseMigrations creates the DSN's database if needed, applies
// pending embedded migrations and sets the probe log retention. It returns a
// connection to the database for reuse.
func RunClickhouseMigrations(ctx context.Context, dsn string, opts ClickhouseOptions) (*chstore.Conn, error) {
	if opts.ProbeLogTTLDays < 0 {
		return nil, fmt.Errorf("probe log ttl must not be negative, got %d", opts.ProbeLogTTLDays)
	}
	all, err := loadMigrations(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}
	for _, m := range all {
		if err := validateNoSemicolonInStrings(m.SQL); err != nil {
			return nil, fmt.Errorf("validate migration %s: %w", m.Name, err)
		}
	}

	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := createClickhouseDatabase(ctx, dsn, dbName); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}
	if err := migrateClickhouse(ctx, conn, dbName, all, opts); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func createClickhouseDatabase(ctx context.Context, dsn, dbName string) error {
	adminConn, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse admin: %w", err)
	}
	defer adminConn.Close()

	if err := adminConn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", dbName)); err != nil {
		return fmt.Errorf("create database %s: %w", dbName, err)
	}
	return nil
}

func migrateClickhouse(ctx context.Context, conn *chstore.Conn, dbName string, all []migration, opts ClickhouseOptions) error {
	if err := conn.Exec(ctx, createClickhouseVersions); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := AppliedClickhouseVersions(ctx, conn)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	// ClickHouse has no multi-statement Exec and no DDL transactions. A file
	// that fails halfway is rerun in full, so its statements use IF NOT EXISTS.
	for _, m := range pending(all, done) {
		for _, stmt := range splitStatements(m.SQL) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
		}
		if err := conn.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
	}

	return applyProbeLogTTL(ctx, conn, dbName, opts.ProbeLogTTLDays)
}

// AppliedClickhouseVersions lists the recorded migration versions in order.
func AppliedClickhouseVersions(ctx context.Context, conn *chstore.Conn) ([]string, error) {
	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations FINAL ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// applyProbeLogTTL sets, replaces or removes the probe_log table TTL.
func applyProbeLogTTL(ctx context.Context, conn *chstore.Conn, dbName string, days int) error {
	if days > 0 {
		if err := conn.Exec(ctx, probeLogTTLStatement(days)); err != nil {
			return fmt.Errorf("set probe_log ttl: %w", err)
		}
		return nil
	}

	var engine string
	row := conn.QueryRow(ctx, `SELECT engine_full FROM system.tables WHERE database = ? AND name = 'probe_log'`, dbName)
	if err := row.Scan(&engine); err != nil {
		return fmt.Errorf("read probe_log engine: %w", err)
	}
	if !hasTableTTL(engine) {
		return nil
	}
	if err := conn.Exec(ctx, `ALTER TABLE probe_log REMOVE TTL`); err != nil {
		return fmt.Errorf("remove probe_log ttl: %w", err)
	}
	return nil
}

// probeLogTTLStatement expires rows by probed_at, stored as Unix milliseconds.
func probeLogTTLStatement(days int) string {
	return fmt.Sprintf("ALTER TABLE probe_log MODIFY TTL toDateTime(intDiv(probed_at, 1000)) + INTERVAL %d DAY", days)
}

// hasTableTTL reports whether a system.tables engine_full value carries a TTL clause.
func hasTableTTL(engineFull string) bool {
	return strings.Contains(" "+engineFull+" ", " TTL ")
}

// splitStatements splits a migration into statements on semicolons after
// dropping blank and -- comment lines. Semicolons inside string literals are
// not supported; validateNoSemicolonInStrings rejects them up front.
func splitStatements(input string) []string {
	var filtered []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		filtered = append(filtered, line)
	}
	joined := strings.Join(filtered, "\n")

	var stmts []string
	for _, part := range strings.Split(joined, ";") {
		stmt := strings.TrimSpace(part)
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings rejects SQL with a semicolon inside a
// single-quoted literal.
func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		switch ch := sql[i]; {
		case ch == '\'' && inString && i+1 < len(sql) && sql[i+1] == '\'':
			i++
		case ch == '\'':
			inString = !inString
		case ch == ';' && inString:
			return fmt.Errorf("semicolon inside string literal at offset %d", i)
		}
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	for _, r := range db {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return "", fmt.Errorf("clickhouse database %q: only letters, digits and underscores are allowed", db)
		}
	}
	return db, nil
}
