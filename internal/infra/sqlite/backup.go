package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sitebook/autodb/internal/domain"
)

// ─── Backup Markers ─────────────────────────────────────────────────────────

// RecordBackup durably stores a backup marker.
func (d *DB) RecordBackup(ctx context.Context, m domain.BackupMarker) error {
	action, err := json.Marshal(m.Action)
	if err != nil {
		return fmt.Errorf("encode marker action: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO backup_markers (id, decision_id, issue_id, action, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.DecisionID, m.IssueID, string(action), m.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record backup %s: %w", m.ID, err)
	}
	return nil
}

// ListBackups returns the most recent markers first.
func (d *DB) ListBackups(ctx context.Context, limit int) ([]domain.BackupMarker, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, decision_id, issue_id, action, created_at
		 FROM backup_markers ORDER BY created_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BackupMarker
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ─── Rollback Records ───────────────────────────────────────────────────────

// RecordRollback stores the result of restoring from a marker.
func (d *DB) RecordRollback(ctx context.Context, r domain.RollbackRecord) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO rollback_records (id, marker_id, decision_id, success, error, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.MarkerID, r.DecisionID, r.Success, r.Error, r.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record rollback %s: %w", r.ID, err)
	}
	return nil
}

// ListRollbacks returns the most recent rollback records first.
func (d *DB) ListRollbacks(ctx context.Context, limit int) ([]domain.RollbackRecord, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, marker_id, decision_id, success, error, at
		 FROM rollback_records ORDER BY at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RollbackRecord
	for rows.Next() {
		var r domain.RollbackRecord
		var at int64
		if err := rows.Scan(&r.ID, &r.MarkerID, &r.DecisionID, &r.Success, &r.Error, &at); err != nil {
			return nil, err
		}
		r.At = time.UnixMilli(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanMarker(s scanner) (domain.BackupMarker, error) {
	var m domain.BackupMarker
	var action string
	var createdAt int64

	if err := s.Scan(&m.ID, &m.DecisionID, &m.IssueID, &action, &createdAt); err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(action), &m.Action); err != nil {
		return m, fmt.Errorf("decode marker %s action: %w", m.ID, err)
	}
	m.CreatedAt = time.UnixMilli(createdAt)
	return m, nil
}
