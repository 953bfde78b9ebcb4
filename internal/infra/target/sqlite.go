package target

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// sqliteDialect targets SQLite through the modernc driver. Catalog data
// comes from the pragma table-valued functions; SQLite keeps no statement
// statistics.
type sqliteDialect struct{}

func (sqliteDialect) Name() string          { return "sqlite" }
func (sqliteDialect) Aliases() []string     { return []string{"sqlite3"} }
func (sqliteDialect) DefaultSchema() string { return "main" }

func (sqliteDialect) Open(ctx context.Context, dsn string) (*sql.DB, func(), error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil, nil
}

func (sqliteDialect) QuoteIdent(name string) string { return quoteDouble(name) }

func (sqliteDialect) TablesQuery(string) Query {
	return Query{SQL: `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`}
}

func (d sqliteDialect) RowCountQuery(_, table string) Query {
	return Query{SQL: "SELECT COUNT(*) FROM " + d.QuoteIdent(table)}
}

func (sqliteDialect) SizeQuery() Query {
	return Query{SQL: `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`}
}

func (sqliteDialect) ColumnsQuery(_, table string) Query {
	return Query{
		SQL: `SELECT name, type, CASE WHEN "notnull" = 0 AND pk = 0 THEN 1 ELSE 0 END
			FROM pragma_table_info(?) ORDER BY cid`,
		Args: []any{table},
	}
}

func (sqliteDialect) PrimaryKeyQuery(_, table string) Query {
	return Query{
		SQL:  `SELECT name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk`,
		Args: []any{table},
	}
}

func (sqliteDialect) IndexesQuery(_, table string) Query {
	return Query{
		SQL: `SELECT il.name, il."unique", ii.name
			FROM pragma_index_list(?) AS il, pragma_index_info(il.name) AS ii
			WHERE il.origin != 'pk'
			ORDER BY il.name, ii.seqno`,
		Args: []any{table},
	}
}

func (sqliteDialect) ForeignKeysQuery(_, table string) Query {
	return Query{
		SQL: `SELECT "from", "table", COALESCE("to", '')
			FROM pragma_foreign_key_list(?) ORDER BY id, seq`,
		Args: []any{table},
	}
}

func (sqliteDialect) SlowQueryCountQuery(float64) (Query, bool) { return Query{}, false }
func (sqliteDialect) MissingStatistics(error) bool              { return false }

func (d sqliteDialect) CreateIndexSQL(_, table, name string, columns []string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		d.QuoteIdent(name), d.QuoteIdent(table), quoteList(columns, d.QuoteIdent))
}

func (d sqliteDialect) DropIndexSQL(_, _, name string) string {
	return "DROP INDEX IF EXISTS " + d.QuoteIdent(name)
}

func (d sqliteDialect) AnalyzeSQL(_, table string) string {
	return "ANALYZE " + d.QuoteIdent(table)
}
