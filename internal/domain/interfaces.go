package domain

import (
	"context"
	"time"
)

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// Infrastructure implements these; the controller, collector and gate
// depend only on them.

// Catalog is the read-only side of the target database.
type Catalog interface {
	// Tables lists the user tables visible in the configured schema.
	Tables(ctx context.Context) ([]string, error)

	// RowCount counts rows in a single table.
	RowCount(ctx context.Context, table string) (int64, error)

	// DatabaseSize returns the on-disk size in bytes.
	DatabaseSize(ctx context.Context) (int64, error)

	// SlowQueries counts statements whose mean duration exceeds threshold.
	// Returns ErrNoStatistics when the database keeps no statement stats.
	SlowQueries(ctx context.Context, threshold time.Duration) (int, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// FixExecutor applies and reverts named fixes against the target.
type FixExecutor interface {
	ApplyFix(ctx context.Context, action FixAction) error
	RevertFix(ctx context.Context, action FixAction) error
}

// DocumentStore is the passive key→document persistence collaborator.
// Last write wins per key.
type DocumentStore interface {
	PutDocument(ctx context.Context, key string, v any) error
	GetDocument(ctx context.Context, key string, v any) error
	Ping() error
	Close() error
}

// BackupStore durably records backup markers and rollback results.
type BackupStore interface {
	RecordBackup(ctx context.Context, m BackupMarker) error
	RecordRollback(ctx context.Context, r RollbackRecord) error
}

// AuditLog reads back the backup markers and rollback records, newest
// first.
type AuditLog interface {
	ListBackups(ctx context.Context, limit int) ([]BackupMarker, error)
	ListRollbacks(ctx context.Context, limit int) ([]RollbackRecord, error)
}

// Document keys in the persistence store.
const (
	DocDecisions = "decisions"
	DocMetrics   = "metrics"
	DocPatterns  = "patterns"
	DocState     = "state"
)
