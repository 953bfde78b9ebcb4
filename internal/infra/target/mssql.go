package target

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
)

// SQL Server error numbers returned when VIEW SERVER STATE is missing.
const (
	mssqlPermissionDenied = 297
	mssqlViewServerState  = 300
)

// mssqlDialect targets SQL Server. Slow queries come from
// sys.dm_exec_query_stats, which reports elapsed time in microseconds.
type mssqlDialect struct{}

func (mssqlDialect) Name() string          { return "mssql" }
func (mssqlDialect) Aliases() []string     { return []string{"sqlserver", "sql-server"} }
func (mssqlDialect) DefaultSchema() string { return "dbo" }

func (mssqlDialect) Open(ctx context.Context, dsn string) (*sql.DB, func(), error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("opening connection: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil, nil
}

func (mssqlDialect) QuoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (d mssqlDialect) qualify(schema, table string) string {
	return d.QuoteIdent(schema) + "." + d.QuoteIdent(table)
}

func (mssqlDialect) TablesQuery(schema string) Query {
	return Query{
		SQL: `SELECT t.name FROM sys.tables t
			JOIN sys.schemas s ON s.schema_id = t.schema_id
			WHERE s.name = @p1
			ORDER BY t.name`,
		Args: []any{schema},
	}
}

func (d mssqlDialect) RowCountQuery(schema, table string) Query {
	return Query{SQL: "SELECT COUNT_BIG(*) FROM " + d.qualify(schema, table)}
}

func (mssqlDialect) SizeQuery() Query {
	return Query{SQL: `SELECT SUM(CAST(size AS BIGINT)) * 8192 FROM sys.database_files`}
}

func (mssqlDialect) ColumnsQuery(schema, table string) Query {
	return Query{
		SQL: `SELECT column_name, data_type, CASE WHEN is_nullable = 'YES' THEN 1 ELSE 0 END
			FROM information_schema.columns
			WHERE table_schema = @p1 AND table_name = @p2
			ORDER BY ordinal_position`,
		Args: []any{schema, table},
	}
}

func (mssqlDialect) PrimaryKeyQuery(schema, table string) Query {
	return Query{
		SQL: `SELECT kcu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
			  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = @p1 AND tc.table_name = @p2
			ORDER BY kcu.ordinal_position`,
		Args: []any{schema, table},
	}
}

func (d mssqlDialect) IndexesQuery(schema, table string) Query {
	return Query{
		SQL: `SELECT i.name, i.is_unique, c.name
			FROM sys.indexes i
			JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
			JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
			WHERE i.object_id = OBJECT_ID(@p1) AND i.is_primary_key = 0
			  AND i.name IS NOT NULL AND ic.is_included_column = 0
			ORDER BY i.name, ic.key_ordinal`,
		Args: []any{d.qualify(schema, table)},
	}
}

func (d mssqlDialect) ForeignKeysQuery(schema, table string) Query {
	return Query{
		SQL: `SELECT pc.name, rt.name, rc.name
			FROM sys.foreign_key_columns fkc
			JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
			JOIN sys.tables rt ON rt.object_id = fkc.referenced_object_id
			JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
			WHERE fkc.parent_object_id = OBJECT_ID(@p1)
			ORDER BY fkc.constraint_object_id, fkc.constraint_column_id`,
		Args: []any{d.qualify(schema, table)},
	}
}

func (mssqlDialect) SlowQueryCountQuery(thresholdMillis float64) (Query, bool) {
	return Query{
		SQL: `SELECT COUNT(*) FROM sys.dm_exec_query_stats
			WHERE total_elapsed_time / NULLIF(execution_count, 0) > @p1`,
		Args: []any{int64(thresholdMillis * 1000)},
	}, true
}

func (mssqlDialect) MissingStatistics(err error) bool {
	var msErr mssql.Error
	if !errors.As(err, &msErr) {
		return false
	}
	return msErr.Number == mssqlPermissionDenied || msErr.Number == mssqlViewServerState
}

func (d mssqlDialect) CreateIndexSQL(schema, table, name string, columns []string) string {
	return fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s' AND object_id = OBJECT_ID(N'%s')) CREATE INDEX %s ON %s (%s)",
		escapeLiteral(name), escapeLiteral(d.qualify(schema, table)),
		d.QuoteIdent(name), d.qualify(schema, table), quoteList(columns, d.QuoteIdent))
}

func (d mssqlDialect) DropIndexSQL(schema, table, name string) string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s ON %s", d.QuoteIdent(name), d.qualify(schema, table))
}

func (d mssqlDialect) AnalyzeSQL(schema, table string) string {
	return "UPDATE STATISTICS " + d.qualify(schema, table)
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
