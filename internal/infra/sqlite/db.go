// Package sqlite provides the SQLite-backed persistence store for autodb.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/sitebook/autodb/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

var (
	_ domain.DocumentStore = (*DB)(nil)
	_ domain.BackupStore   = (*DB)(nil)
)

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Controller documents: decisions, metrics, patterns, state
		`CREATE TABLE IF NOT EXISTS documents (
			key        TEXT PRIMARY KEY,
			body       TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		// Written before every automatic fix
		`CREATE TABLE IF NOT EXISTS backup_markers (
			id          TEXT PRIMARY KEY,
			decision_id TEXT NOT NULL,
			issue_id    TEXT NOT NULL,
			action      TEXT NOT NULL,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backup_decision ON backup_markers(decision_id)`,

		`CREATE TABLE IF NOT EXISTS rollback_records (
			id          TEXT PRIMARY KEY,
			marker_id   TEXT NOT NULL REFERENCES backup_markers(id),
			decision_id TEXT NOT NULL,
			success     BOOLEAN NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			at          INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rollback_marker ON rollback_records(marker_id)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Documents ──────────────────────────────────────────────────────────────

// PutDocument stores v as JSON under key. Last write wins.
func (d *DB) PutDocument(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO documents (key, body, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			body=excluded.body,
			updated_at=excluded.updated_at`,
		key, string(body), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// GetDocument decodes the document stored under key into v. Unknown fields
// are rejected. Returns domain.ErrDocumentNotFound when the key is absent
// and domain.ErrInvalidDocument when the body cannot be decoded.
func (d *DB) GetDocument(ctx context.Context, key string, v any) error {
	var body string
	err := d.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE key = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidDocument, key, err)
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
