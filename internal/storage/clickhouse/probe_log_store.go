package clickhouse

import (
	"context"
	"fmt"

	"onchain-sip/internal/storage"
)

// ProbeLogStore implements storage.ProbeLogStore using ClickHouse.
type ProbeLogStore struct {
	conn *Conn
}

// NewProbeLogStore creates a new ProbeLogStore.
func NewProbeLogStore(conn *Conn) *ProbeLogStore {
	return &ProbeLogStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ProbeLogStore = (*ProbeLogStore)(nil)

// InsertBulk appends entries in a single batch.
func (s *ProbeLogStore) InsertBulk(ctx context.Context, entries []*storage.ProbeLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e == nil || e.Owner == "" || e.Outcome == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO probe_log (
			scan_id, owner, identifier, outcome, error, latency_ms, probed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range entries {
		err = batch.Append(e.ScanID, e.Owner, e.Identifier, e.Outcome, e.Error, e.LatencyMs, e.ProbedAt)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByOwner returns entries for owner ordered by probed_at DESC.
func (s *ProbeLogStore) GetByOwner(ctx context.Context, owner string, limit int) ([]*storage.ProbeLogEntry, error) {
	query := `
		SELECT scan_id, owner, identifier, outcome, error, latency_ms, probed_at
		FROM probe_log
		WHERE owner = ?
		ORDER BY probed_at DESC, identifier ASC
	`
	args := []interface{}{owner}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query probe log: %w", err)
	}
	defer rows.Close()

	var result []*storage.ProbeLogEntry
	for rows.Next() {
		var e storage.ProbeLogEntry
		if err := rows.Scan(&e.ScanID, &e.Owner, &e.Identifier, &e.Outcome, &e.Error, &e.LatencyMs, &e.ProbedAt); err != nil {
			return nil, fmt.Errorf("scan probe log row: %w", err)
		}
		result = append(result, &e)
	}

	return result, rows.Err()
}
