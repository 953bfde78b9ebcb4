// Package target is the database collaborator: read-only catalog and metric
// queries plus a small set of named, reversible fixes, over database/sql.
//
// Each supported engine is a Dialect. Dialects own every SQL string; the
// rest of the system only ever sees domain.FixAction values.
package target

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/sitebook/autodb/internal/domain"
)

// Query is a statement and its positional arguments in the dialect's
// placeholder style.
type Query struct {
	SQL  string
	Args []any
}

// Dialect describes one database engine.
//
// Catalog queries return uniform row shapes:
//
//	Tables:      name
//	Columns:     name, type, nullable
//	PrimaryKey:  column (key order)
//	Indexes:     index name, unique, column (index name, then key order)
//	ForeignKeys: column, referenced table, referenced column
type Dialect interface {
	// Name returns the primary dialect name ("sqlite", "postgres", "mssql").
	Name() string

	// Aliases returns alternative names accepted in configuration.
	Aliases() []string

	// DefaultSchema is used when no schema is configured.
	DefaultSchema() string

	// Open connects to dsn. The returned closer releases anything beyond
	// the *sql.DB itself (e.g. a pgx pool); it may be nil.
	Open(ctx context.Context, dsn string) (*sql.DB, func(), error)

	QuoteIdent(name string) string

	TablesQuery(schema string) Query
	RowCountQuery(schema, table string) Query
	SizeQuery() Query
	ColumnsQuery(schema, table string) Query
	PrimaryKeyQuery(schema, table string) Query
	IndexesQuery(schema, table string) Query
	ForeignKeysQuery(schema, table string) Query

	// SlowQueryCountQuery counts statements whose mean duration exceeds
	// thresholdMillis. ok is false when the engine keeps no statement stats.
	SlowQueryCountQuery(thresholdMillis float64) (q Query, ok bool)

	// MissingStatistics reports whether err means statement statistics are
	// unavailable (extension not installed, permission denied).
	MissingStatistics(err error) bool

	CreateIndexSQL(schema, table, name string, columns []string) string
	DropIndexSQL(schema, table, name string) string
	AnalyzeSQL(schema, table string) string
}

// ─── Registry ───────────────────────────────────────────────────────────────

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Dialect)
)

// Register makes a dialect available under its name and aliases.
func Register(d Dialect) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Name()] = d
	for _, a := range d.Aliases() {
		registry[a] = d
	}
}

// Lookup returns the dialect registered under name (case-insensitive).
func Lookup(name string) (Dialect, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownDialect, name)
	}
	return d, nil
}

// Dialects lists the primary names of all registered dialects.
func Dialects() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, d := range registry {
		if !seen[d.Name()] {
			seen[d.Name()] = true
			out = append(out, d.Name())
		}
	}
	return out
}

func init() {
	Register(sqliteDialect{})
	Register(postgresDialect{})
	Register(mssqlDialect{})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func quoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteList(columns []string, quote func(string) string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = quote(c)
	}
	return strings.Join(parts, ", ")
}
