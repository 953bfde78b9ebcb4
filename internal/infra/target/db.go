package target

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sitebook/autodb/internal/domain"
	"github.com/sitebook/autodb/internal/logging"
	"github.com/sitebook/autodb/internal/schema"
)

// Config selects and addresses the target database.
type Config struct {
	Driver string
	DSN    string
	Schema string
}

// DB is the target database. It implements domain.Catalog and
// domain.FixExecutor.
type DB struct {
	db      *sql.DB
	release func()
	dialect Dialect
	schema  string
}

var (
	_ domain.Catalog     = (*DB)(nil)
	_ domain.FixExecutor = (*DB)(nil)
)

// Open connects to the target described by cfg.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	d, err := Lookup(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("target: empty dsn")
	}

	db, release, err := d.Open(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}

	sch := cfg.Schema
	if sch == "" {
		sch = d.DefaultSchema()
	}
	logging.Debug("[target] connected to %s (schema %s)", d.Name(), sch)
	return &DB{db: db, release: release, dialect: d, schema: sch}, nil
}

// Close releases the connection pool.
func (t *DB) Close() error {
	err := t.db.Close()
	if t.release != nil {
		t.release()
	}
	return err
}

// Dialect returns the engine dialect.
func (t *DB) Dialect() Dialect { return t.dialect }

// SchemaName returns the inspected schema.
func (t *DB) SchemaName() string { return t.schema }

// Ping checks connectivity.
func (t *DB) Ping(ctx context.Context) error {
	return t.db.PingContext(ctx)
}

// ─── Catalog ────────────────────────────────────────────────────────────────

// Tables lists the user tables in the configured schema.
func (t *DB) Tables(ctx context.Context) ([]string, error) {
	q := t.dialect.TablesQuery(t.schema)
	rows, err := t.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// RowCount counts rows in table.
func (t *DB) RowCount(ctx context.Context, table string) (int64, error) {
	q := t.dialect.RowCountQuery(t.schema, table)
	var n int64
	if err := t.db.QueryRowContext(ctx, q.SQL, q.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows in %s: %w", table, err)
	}
	return n, nil
}

// DatabaseSize returns the on-disk size in bytes.
func (t *DB) DatabaseSize(ctx context.Context) (int64, error) {
	q := t.dialect.SizeQuery()
	var n sql.NullInt64
	if err := t.db.QueryRowContext(ctx, q.SQL, q.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("database size: %w", err)
	}
	return n.Int64, nil
}

// SlowQueries counts statements whose mean duration exceeds threshold.
func (t *DB) SlowQueries(ctx context.Context, threshold time.Duration) (int, error) {
	q, ok := t.dialect.SlowQueryCountQuery(float64(threshold) / float64(time.Millisecond))
	if !ok {
		return 0, domain.ErrNoStatistics
	}
	var n int
	if err := t.db.QueryRowContext(ctx, q.SQL, q.Args...).Scan(&n); err != nil {
		if t.dialect.MissingStatistics(err) {
			return 0, fmt.Errorf("%w: %v", domain.ErrNoStatistics, err)
		}
		return 0, fmt.Errorf("slow queries: %w", err)
	}
	return n, nil
}

// Schema reads the live catalog of every table in the configured schema.
func (t *DB) Schema(ctx context.Context) (*schema.Document, error) {
	names, err := t.Tables(ctx)
	if err != nil {
		return nil, err
	}

	doc := &schema.Document{}
	for _, name := range names {
		tb, err := t.Describe(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe %s: %w", name, err)
		}
		doc.Tables = append(doc.Tables, *tb)
	}
	return doc, nil
}

// Describe reads the columns, keys and indexes of one table.
func (t *DB) Describe(ctx context.Context, table string) (*schema.Table, error) {
	tb := &schema.Table{Name: table}

	err := t.each(ctx, t.dialect.ColumnsQuery(t.schema, table), func(s scanner) error {
		var c schema.Column
		if err := s.Scan(&c.Name, &c.Type, &c.Nullable); err != nil {
			return err
		}
		tb.Columns = append(tb.Columns, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	err = t.each(ctx, t.dialect.PrimaryKeyQuery(t.schema, table), func(s scanner) error {
		var col string
		if err := s.Scan(&col); err != nil {
			return err
		}
		tb.PrimaryKey = append(tb.PrimaryKey, col)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("primary key: %w", err)
	}

	err = t.each(ctx, t.dialect.IndexesQuery(t.schema, table), func(s scanner) error {
		var name, col string
		var unique bool
		if err := s.Scan(&name, &unique, &col); err != nil {
			return err
		}
		n := len(tb.Indexes)
		if n == 0 || tb.Indexes[n-1].Name != name {
			tb.Indexes = append(tb.Indexes, schema.Index{Name: name, Unique: unique})
			n++
		}
		tb.Indexes[n-1].Columns = append(tb.Indexes[n-1].Columns, col)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("indexes: %w", err)
	}

	err = t.each(ctx, t.dialect.ForeignKeysQuery(t.schema, table), func(s scanner) error {
		var fk schema.ForeignKey
		if err := s.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return err
		}
		tb.ForeignKeys = append(tb.ForeignKeys, fk)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}

	return tb, nil
}

// ─── Fixes ──────────────────────────────────────────────────────────────────

// ApplyFix executes a reversible fix. Other kinds are refused.
func (t *DB) ApplyFix(ctx context.Context, a domain.FixAction) error {
	stmt, err := t.fixSQL(a)
	if err != nil {
		return err
	}
	if _, err := t.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("apply %s: %w", a, err)
	}
	logging.Info("[target] applied %s", a)
	return nil
}

// RevertFix undoes a fix previously applied with ApplyFix.
func (t *DB) RevertFix(ctx context.Context, a domain.FixAction) error {
	if err := a.Validate(); err != nil {
		return err
	}
	switch a.Kind {
	case domain.OpCreateIndex:
		stmt := t.dialect.DropIndexSQL(t.schema, a.Table, a.Name)
		if _, err := t.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("revert %s: %w", a, err)
		}
		logging.Info("[target] reverted %s", a)
		return nil
	case domain.OpAnalyzeTable:
		// Refreshed statistics leave nothing to undo.
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrFixNotSupported, a.Kind)
}

func (t *DB) fixSQL(a domain.FixAction) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	switch a.Kind {
	case domain.OpCreateIndex:
		if a.Name == "" {
			return "", fmt.Errorf("fix %s: missing index name", a)
		}
		return t.dialect.CreateIndexSQL(t.schema, a.Table, a.Name, a.Columns), nil
	case domain.OpAnalyzeTable:
		return t.dialect.AnalyzeSQL(t.schema, a.Table), nil
	}
	return "", fmt.Errorf("%w: %s", domain.ErrFixNotSupported, a.Kind)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (t *DB) each(ctx context.Context, q Query, fn func(scanner) error) error {
	rows, err := t.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

