package target

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sitebook/autodb/internal/domain"
)

var fixtureDDL = []string{
	`CREATE TABLE suppliers (
		id   INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE expenses (
		id          INTEGER PRIMARY KEY,
		supplier_id INTEGER REFERENCES suppliers(id),
		amount      REAL NOT NULL
	)`,
	`CREATE TABLE audit_log (
		message TEXT
	)`,
	`INSERT INTO suppliers (id, name) VALUES (1, 'acme'), (2, 'globex')`,
	`INSERT INTO expenses (id, supplier_id, amount) VALUES (1, 1, 10.5), (2, 1, 3), (3, 2, 7)`,
}

func newTestTarget(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "target.db")

	db, err := Open(ctx, Config{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, stmt := range fixtureDDL {
		if _, err := db.db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("fixture: %v\nSQL: %s", err, stmt)
		}
	}
	return db
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, Config{Driver: "db2", DSN: "x"}); !errors.Is(err, domain.ErrUnknownDialect) {
		t.Errorf("Open(db2) error = %v, want ErrUnknownDialect", err)
	}
	if _, err := Open(ctx, Config{Driver: "sqlite"}); err == nil {
		t.Error("Open() with empty dsn should fail")
	}
}

func TestCatalog(t *testing.T) {
	db := newTestTarget(t)
	ctx := context.Background()

	if db.SchemaName() != "main" {
		t.Errorf("SchemaName() = %q, want main", db.SchemaName())
	}
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}

	tables, err := db.Tables(ctx)
	if err != nil {
		t.Fatalf("Tables() error: %v", err)
	}
	want := []string{"audit_log", "expenses", "suppliers"}
	if len(tables) != len(want) {
		t.Fatalf("Tables() = %v, want %v", tables, want)
	}
	for i := range want {
		if tables[i] != want[i] {
			t.Errorf("Tables()[%d] = %q, want %q", i, tables[i], want[i])
		}
	}

	n, err := db.RowCount(ctx, "expenses")
	if err != nil {
		t.Fatalf("RowCount() error: %v", err)
	}
	if n != 3 {
		t.Errorf("RowCount(expenses) = %d, want 3", n)
	}
	if _, err := db.RowCount(ctx, "nope"); err == nil {
		t.Error("RowCount() on a missing table should fail")
	}

	size, err := db.DatabaseSize(ctx)
	if err != nil {
		t.Fatalf("DatabaseSize() error: %v", err)
	}
	if size <= 0 {
		t.Errorf("DatabaseSize() = %d, want > 0", size)
	}
}

func TestSlowQueries_NoStatistics(t *testing.T) {
	db := newTestTarget(t)
	n, err := db.SlowQueries(context.Background(), 500*time.Millisecond)
	if !errors.Is(err, domain.ErrNoStatistics) {
		t.Errorf("SlowQueries() error = %v, want ErrNoStatistics", err)
	}
	if n != 0 {
		t.Errorf("SlowQueries() = %d, want 0", n)
	}
}

func TestSchema(t *testing.T) {
	db := newTestTarget(t)
	doc, err := db.Schema(context.Background())
	if err != nil {
		t.Fatalf("Schema() error: %v", err)
	}

	exp := doc.Table("expenses")
	if exp == nil {
		t.Fatal("expenses missing from live schema")
	}
	if len(exp.Columns) != 3 {
		t.Errorf("expenses columns = %d, want 3", len(exp.Columns))
	}
	if c := exp.Column("amount"); c == nil || c.Nullable {
		t.Errorf("amount column = %+v, want NOT NULL", c)
	}
	if c := exp.Column("supplier_id"); c == nil || !c.Nullable {
		t.Errorf("supplier_id column = %+v, want nullable", c)
	}
	if len(exp.PrimaryKey) != 1 || exp.PrimaryKey[0] != "id" {
		t.Errorf("PrimaryKey = %v, want [id]", exp.PrimaryKey)
	}
	if len(exp.ForeignKeys) != 1 || exp.ForeignKeys[0].RefTable != "suppliers" {
		t.Errorf("ForeignKeys = %+v", exp.ForeignKeys)
	}
	if exp.HasLeadingIndex("supplier_id") {
		t.Error("supplier_id should not be indexed yet")
	}

	if audit := doc.Table("audit_log"); audit == nil || len(audit.PrimaryKey) != 0 {
		t.Errorf("audit_log = %+v, want no primary key", audit)
	}
}

func TestApplyAndRevertFix(t *testing.T) {
	db := newTestTarget(t)
	ctx := context.Background()

	fix := domain.FixAction{
		Kind:    domain.OpCreateIndex,
		Table:   "expenses",
		Columns: []string{"supplier_id"},
		Name:    "idx_expenses_supplier_id",
	}
	if err := db.ApplyFix(ctx, fix); err != nil {
		t.Fatalf("ApplyFix() error: %v", err)
	}
	// Idempotent.
	if err := db.ApplyFix(ctx, fix); err != nil {
		t.Fatalf("second ApplyFix() error: %v", err)
	}

	doc, err := db.Schema(ctx)
	if err != nil {
		t.Fatalf("Schema() error: %v", err)
	}
	if !doc.Table("expenses").HasLeadingIndex("supplier_id") {
		t.Fatal("index should exist after ApplyFix")
	}

	if err := db.RevertFix(ctx, fix); err != nil {
		t.Fatalf("RevertFix() error: %v", err)
	}
	doc, _ = db.Schema(ctx)
	if doc.Table("expenses").HasLeadingIndex("supplier_id") {
		t.Error("index should be gone after RevertFix")
	}
}

func TestApplyFix_Analyze(t *testing.T) {
	db := newTestTarget(t)
	fix := domain.FixAction{Kind: domain.OpAnalyzeTable, Table: "expenses"}
	if err := db.ApplyFix(context.Background(), fix); err != nil {
		t.Fatalf("ApplyFix(analyze) error: %v", err)
	}
	if err := db.RevertFix(context.Background(), fix); err != nil {
		t.Errorf("RevertFix(analyze) error: %v", err)
	}
}

func TestApplyFix_RefusesUnsupported(t *testing.T) {
	db := newTestTarget(t)
	fix := domain.FixAction{Kind: domain.OpDropTable, Table: "expenses"}
	if err := db.ApplyFix(context.Background(), fix); !errors.Is(err, domain.ErrFixNotSupported) {
		t.Errorf("ApplyFix(drop_table) error = %v, want ErrFixNotSupported", err)
	}
	n, err := db.RowCount(context.Background(), "expenses")
	if err != nil || n != 3 {
		t.Errorf("expenses should be untouched, got %d, %v", n, err)
	}
}
