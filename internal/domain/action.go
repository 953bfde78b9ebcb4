package domain

import (
	"fmt"
	"time"
)

// OperationKind names what a fix would do to the target database.
type OperationKind string

const (
	OpCreateIndex    OperationKind = "create_index"
	OpAnalyzeTable   OperationKind = "analyze_table"
	OpSchemaChange   OperationKind = "schema_change"
	OpDropIndex      OperationKind = "drop_index"
	OpDropTable      OperationKind = "drop_table"
	OpDropColumn     OperationKind = "drop_column"
	OpDataRepair     OperationKind = "data_repair"
	OpSecurityChange OperationKind = "security_change"
)

// Valid reports whether k is a known operation kind.
func (k OperationKind) Valid() bool {
	switch k {
	case OpCreateIndex, OpAnalyzeTable, OpSchemaChange, OpDropIndex,
		OpDropTable, OpDropColumn, OpDataRepair, OpSecurityChange:
		return true
	}
	return false
}

// Destructive reports whether the operation can lose data or structure.
// Destructive operations are never executed without approval.
func (k OperationKind) Destructive() bool {
	switch k {
	case OpDropIndex, OpDropTable, OpDropColumn, OpDataRepair:
		return true
	}
	return false
}

// Reversible reports whether the target knows how to undo the operation.
func (k OperationKind) Reversible() bool {
	return k == OpCreateIndex || k == OpAnalyzeTable
}

// FixAction is a named, bound remediation. The SQL it turns into is private
// to the target dialect.
type FixAction struct {
	Kind    OperationKind `json:"kind"`
	Table   string        `json:"table"`
	Columns []string      `json:"columns,omitempty"`
	Name    string        `json:"name,omitempty"`
}

// Validate checks the action is well formed.
func (a FixAction) Validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("fix: unknown kind %q", a.Kind)
	}
	if a.Table == "" {
		return fmt.Errorf("fix %s: missing table", a.Kind)
	}
	if a.Kind == OpCreateIndex && len(a.Columns) == 0 {
		return fmt.Errorf("fix %s on %s: no columns", a.Kind, a.Table)
	}
	return nil
}

// String renders the action for logs and decision contexts.
func (a FixAction) String() string {
	if len(a.Columns) == 0 {
		return fmt.Sprintf("%s %s", a.Kind, a.Table)
	}
	return fmt.Sprintf("%s %s%v", a.Kind, a.Table, a.Columns)
}

// ─── Backup / Rollback ──────────────────────────────────────────────────────

// BackupMarker is written durably before an automatic fix runs. It records
// enough to undo the action.
type BackupMarker struct {
	ID         string    `json:"id"`
	DecisionID string    `json:"decision_id"`
	IssueID    string    `json:"issue_id"`
	Action     FixAction `json:"action"`
	CreatedAt  time.Time `json:"created_at"`
}

// RollbackRecord is the result of restoring from a backup marker.
type RollbackRecord struct {
	ID         string    `json:"id"`
	MarkerID   string    `json:"marker_id"`
	DecisionID string    `json:"decision_id"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}
