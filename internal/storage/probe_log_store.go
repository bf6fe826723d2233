package storage

import "context"

// ProbeLogEntry is one probe observation, kept for telemetry.
// Outcome distinguishes inactive plans from identifiers that were never written.
type ProbeLogEntry struct {
	ScanID     string // uuid of the scan that issued the probe
	Owner      string // owner hex address
	Identifier string
	Outcome    string // active | inactive | absent | error
	Error      string // empty unless Outcome is error or absent-by-fault
	LatencyMs  int64
	ProbedAt   int64 // Unix timestamp in milliseconds
}

// ProbeLogStore is an append-only log of probe outcomes.
type ProbeLogStore interface {
	// InsertBulk appends entries. An empty slice is a no-op.
	InsertBulk(ctx context.Context, entries []*ProbeLogEntry) error

	// GetByOwner returns the most recent entries for an owner, newest first.
	// limit <= 0 means no limit.
	GetByOwner(ctx context.Context, owner string, limit int) ([]*ProbeLogEntry, error)
}
