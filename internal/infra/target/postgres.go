package target

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// PostgreSQL error codes that mean pg_stat_statements is unusable.
const (
	pgUndefinedTable           = "42P01"
	pgInsufficientPrivilege    = "42501"
	pgObjectNotInPrerequisites = "55000"
)

// postgresDialect targets PostgreSQL through a pgx pool exposed as
// database/sql. Slow queries come from pg_stat_statements when installed.
type postgresDialect struct{}

func (postgresDialect) Name() string          { return "postgres" }
func (postgresDialect) Aliases() []string     { return []string{"postgresql", "pg", "pgx"} }
func (postgresDialect) DefaultSchema() string { return "public" }

func (postgresDialect) Open(ctx context.Context, dsn string) (*sql.DB, func(), error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing dsn: %w", err)
	}
	poolCfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}
	return stdlib.OpenDBFromPool(pool), pool.Close, nil
}

func (postgresDialect) QuoteIdent(name string) string { return quoteDouble(name) }

func (d postgresDialect) qualify(schema, table string) string {
	return d.QuoteIdent(schema) + "." + d.QuoteIdent(table)
}

func (postgresDialect) TablesQuery(schema string) Query {
	return Query{
		SQL: `SELECT table_name FROM information_schema.tables
			WHERE table_schema = $1 AND table_type = 'BASE TABLE'
			ORDER BY table_name`,
		Args: []any{schema},
	}
}

func (d postgresDialect) RowCountQuery(schema, table string) Query {
	return Query{SQL: "SELECT COUNT(*) FROM " + d.qualify(schema, table)}
}

func (postgresDialect) SizeQuery() Query {
	return Query{SQL: `SELECT pg_database_size(current_database())`}
}

func (postgresDialect) ColumnsQuery(schema, table string) Query {
	return Query{
		SQL: `SELECT column_name, data_type, is_nullable = 'YES'
			FROM information_schema.columns
			WHERE table_schema = $1 AND table_name = $2
			ORDER BY ordinal_position`,
		Args: []any{schema, table},
	}
}

func (postgresDialect) PrimaryKeyQuery(schema, table string) Query {
	return Query{
		SQL: `SELECT a.attname
			FROM pg_index i
			JOIN pg_class c ON c.oid = i.indrelid
			JOIN pg_namespace n ON n.oid = c.relnamespace
			JOIN LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
			JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
			WHERE i.indisprimary AND n.nspname = $1 AND c.relname = $2
			ORDER BY k.ord`,
		Args: []any{schema, table},
	}
}

func (postgresDialect) IndexesQuery(schema, table string) Query {
	return Query{
		SQL: `SELECT ic.relname, i.indisunique, a.attname
			FROM pg_index i
			JOIN pg_class c ON c.oid = i.indrelid
			JOIN pg_class ic ON ic.oid = i.indexrelid
			JOIN pg_namespace n ON n.oid = c.relnamespace
			JOIN LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
			JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
			WHERE NOT i.indisprimary AND n.nspname = $1 AND c.relname = $2
			ORDER BY ic.relname, k.ord`,
		Args: []any{schema, table},
	}
}

func (postgresDialect) ForeignKeysQuery(schema, table string) Query {
	return Query{
		SQL: `SELECT kcu.column_name, ccu.table_name, ccu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
			  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
			JOIN information_schema.constraint_column_usage ccu
			  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
			WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1 AND tc.table_name = $2
			ORDER BY tc.constraint_name, kcu.ordinal_position`,
		Args: []any{schema, table},
	}
}

func (postgresDialect) SlowQueryCountQuery(thresholdMillis float64) (Query, bool) {
	return Query{
		SQL:  `SELECT COUNT(*) FROM pg_stat_statements WHERE mean_exec_time > $1`,
		Args: []any{thresholdMillis},
	}, true
}

func (postgresDialect) MissingStatistics(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgUndefinedTable, pgInsufficientPrivilege, pgObjectNotInPrerequisites:
		return true
	}
	return false
}

func (d postgresDialect) CreateIndexSQL(schema, table, name string, columns []string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		d.QuoteIdent(name), d.qualify(schema, table), quoteList(columns, d.QuoteIdent))
}

func (d postgresDialect) DropIndexSQL(schema, _, name string) string {
	return "DROP INDEX IF EXISTS " + d.qualify(schema, name)
}

func (d postgresDialect) AnalyzeSQL(schema, table string) string {
	return "ANALYZE " + d.qualify(schema, table)
}
