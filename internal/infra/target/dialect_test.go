package target

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/sitebook/autodb/internal/domain"
)

func TestLookup_Aliases(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"sqlite", "sqlite"},
		{"SQLite3", "sqlite"},
		{"postgres", "postgres"},
		{"postgresql", "postgres"},
		{"pgx", "postgres"},
		{"mssql", "mssql"},
		{"sqlserver", "mssql"},
	}
	for _, tt := range tests {
		d, err := Lookup(tt.name)
		if err != nil {
			t.Errorf("Lookup(%q) error: %v", tt.name, err)
			continue
		}
		if d.Name() != tt.want {
			t.Errorf("Lookup(%q) = %q, want %q", tt.name, d.Name(), tt.want)
		}
	}
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("oracle")
	if !errors.Is(err, domain.ErrUnknownDialect) {
		t.Errorf("Lookup(oracle) error = %v, want ErrUnknownDialect", err)
	}
}

func TestDialects(t *testing.T) {
	if got := len(Dialects()); got != 3 {
		t.Errorf("len(Dialects()) = %d, want 3", got)
	}
}

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		d    Dialect
		in   string
		want string
	}{
		{sqliteDialect{}, "orders", `"orders"`},
		{sqliteDialect{}, `we"ird`, `"we""ird"`},
		{postgresDialect{}, "Orders", `"Orders"`},
		{mssqlDialect{}, "orders", "[orders]"},
		{mssqlDialect{}, "we]ird", "[we]]ird]"},
	}
	for _, tt := range tests {
		if got := tt.d.QuoteIdent(tt.in); got != tt.want {
			t.Errorf("%s.QuoteIdent(%q) = %q, want %q", tt.d.Name(), tt.in, got, tt.want)
		}
	}
}

func TestCreateIndexSQL(t *testing.T) {
	cols := []string{"supplier_id"}

	pg := postgresDialect{}.CreateIndexSQL("public", "expenses", "idx_expenses_supplier_id", cols)
	if want := `CREATE INDEX IF NOT EXISTS "idx_expenses_supplier_id" ON "public"."expenses" ("supplier_id")`; pg != want {
		t.Errorf("postgres CreateIndexSQL = %q, want %q", pg, want)
	}

	ms := mssqlDialect{}.CreateIndexSQL("dbo", "expenses", "idx_expenses_supplier_id", cols)
	if !strings.HasPrefix(ms, "IF NOT EXISTS") || !strings.Contains(ms, "ON [dbo].[expenses] ([supplier_id])") {
		t.Errorf("mssql CreateIndexSQL = %q", ms)
	}

	drop := postgresDialect{}.DropIndexSQL("public", "expenses", "idx_expenses_supplier_id")
	if want := `DROP INDEX IF EXISTS "public"."idx_expenses_supplier_id"`; drop != want {
		t.Errorf("postgres DropIndexSQL = %q, want %q", drop, want)
	}
}

func TestSlowQueryCountQuery(t *testing.T) {
	if _, ok := (sqliteDialect{}).SlowQueryCountQuery(500); ok {
		t.Error("sqlite should report no statement statistics")
	}
	q, ok := postgresDialect{}.SlowQueryCountQuery(500)
	if !ok || len(q.Args) != 1 || q.Args[0] != 500.0 {
		t.Errorf("postgres SlowQueryCountQuery = %+v, %v", q, ok)
	}
	q, ok = mssqlDialect{}.SlowQueryCountQuery(500)
	if !ok || q.Args[0] != int64(500_000) {
		t.Errorf("mssql threshold should be microseconds, got %+v", q.Args)
	}
}

func TestMissingStatistics(t *testing.T) {
	pg := postgresDialect{}
	if !pg.MissingStatistics(fmt.Errorf("query: %w", &pgconn.PgError{Code: "42P01"})) {
		t.Error("undefined pg_stat_statements should mean missing statistics")
	}
	if pg.MissingStatistics(&pgconn.PgError{Code: "23505"}) {
		t.Error("unique violation is not missing statistics")
	}

	ms := mssqlDialect{}
	if !ms.MissingStatistics(mssql.Error{Number: 300}) {
		t.Error("VIEW SERVER STATE denial should mean missing statistics")
	}
	if ms.MissingStatistics(errors.New("network down")) {
		t.Error("plain errors are not missing statistics")
	}
}
