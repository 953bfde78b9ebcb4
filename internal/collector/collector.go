// Package collector inspects the target database and turns what it finds
// into a MetricsSnapshot with classified issues. It never writes to the
// target.
package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitebook/autodb/internal/domain"
	"github.com/sitebook/autodb/internal/infra/metrics"
	"github.com/sitebook/autodb/internal/logging"
	"github.com/sitebook/autodb/internal/schema"
)

// Score penalties.
const (
	SlowQueryPenalty    = 10
	MissingIndexPenalty = 5

	// Slow query counts above this are reported as high severity.
	SlowQueryHighThreshold = 5

	// Tables smaller than this never get a stale-statistics issue.
	StaleStatsMinRows = 1000
	// Relative row count change between collections that marks statistics stale.
	StaleStatsChange = 0.5
)

// Target is what the collector reads: the catalog plus a structural
// description of each table.
type Target interface {
	domain.Catalog
	Describe(ctx context.Context, table string) (*schema.Table, error)
}

// Config tunes collection.
type Config struct {
	SlowQueryThreshold time.Duration
	// Expected is the expected schema document. Nil disables drift detection.
	Expected *schema.Document
}

// Collector produces metrics snapshots.
type Collector struct {
	target Target
	cfg    Config

	mu        sync.Mutex
	rowCounts map[string]int64 // previous collection, for stale statistics

	now   func() time.Time
	newID func() string
}

// New creates a collector over target.
func New(target Target, cfg Config) *Collector {
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = 500 * time.Millisecond
	}
	return &Collector{
		target:    target,
		cfg:       cfg,
		rowCounts: make(map[string]int64),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Collect runs one collection pass. Only a failure to list tables aborts
// the pass; per-table and per-metric failures are logged and absorbed.
// Every per-table query works from the same table list.
func (c *Collector) Collect(ctx context.Context) (domain.MetricsSnapshot, error) {
	now := c.now()
	snap := domain.MetricsSnapshot{
		ID:            c.newID(),
		Timestamp:     now,
		SkippedTables: []string{},
		Issues:        []domain.Issue{},
		Predictions:   []domain.Prediction{},
	}

	tables, err := c.target.Tables(ctx)
	if err != nil {
		return domain.MetricsSnapshot{}, fmt.Errorf("collect: %w", err)
	}
	snap.TableCount = len(tables)

	skipped := make(map[string]bool)
	skip := func(t string) {
		if !skipped[t] {
			skipped[t] = true
			snap.SkippedTables = append(snap.SkippedTables, t)
		}
	}

	counts := make(map[string]int64, len(tables))
	live := &schema.Document{}
	// undescribed tables are left out of structural checks and drift
	undescribed := make(map[string]bool)
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return domain.MetricsSnapshot{}, err
		}
		if n, err := c.target.RowCount(ctx, t); err != nil {
			logging.Warn("[collector] skipping row count for %s: %v", t, err)
			skip(t)
		} else {
			counts[t] = n
			snap.TotalRows += n
		}

		tb, err := c.target.Describe(ctx, t)
		if err != nil {
			logging.Warn("[collector] skipping structure of %s: %v", t, err)
			skip(t)
			undescribed[strings.ToLower(t)] = true
			continue
		}
		live.Tables = append(live.Tables, *tb)
	}

	if size, err := c.target.DatabaseSize(ctx); err != nil {
		logging.Warn("[collector] database size unavailable: %v", err)
	} else {
		snap.DatabaseSize = size
	}

	slow, err := c.target.SlowQueries(ctx, c.cfg.SlowQueryThreshold)
	switch {
	case errors.Is(err, domain.ErrNoStatistics):
		logging.Debug("[collector] no statement statistics: %v", err)
	case err != nil:
		logging.Warn("[collector] slow query count unavailable: %v", err)
	default:
		snap.SlowQueries = slow
	}

	snap.Issues = append(snap.Issues, c.slowQueryIssues(snap.SlowQueries, now)...)
	indexIssues := c.missingIndexIssues(live, now)
	snap.MissingIndexes = len(indexIssues)
	snap.Issues = append(snap.Issues, indexIssues...)
	snap.Issues = append(snap.Issues, c.primaryKeyIssues(live, now)...)
	snap.Issues = append(snap.Issues, c.staleStatsIssues(counts, now)...)
	if c.cfg.Expected != nil {
		snap.Issues = append(snap.Issues, c.driftIssues(c.cfg.Expected, live, undescribed, now)...)
	}

	snap.PerformanceScore = Score(snap.SlowQueries, snap.MissingIndexes)
	snap.HealthStatus = domain.HealthFromScore(snap.PerformanceScore)

	c.observe(snap)
	logging.Info("[collector] snapshot %s: %d tables, %d rows, score %.0f, %d issues",
		snap.ID, snap.TableCount, snap.TotalRows, snap.PerformanceScore, len(snap.Issues))
	return snap, nil
}

// Score computes the performance score from slow queries and missing
// index hits.
func Score(slowQueries, missingIndexes int) float64 {
	return math.Max(0, 100-float64(SlowQueryPenalty*slowQueries)-float64(MissingIndexPenalty*missingIndexes))
}

// IndexName is the name given to indexes created for table.columns.
func IndexName(table string, columns []string) string {
	return "idx_" + strings.ToLower(table) + "_" + strings.ToLower(strings.Join(columns, "_"))
}

// ─── Issue Detection ────────────────────────────────────────────────────────

func (c *Collector) issue(t domain.IssueType, sev domain.Severity, sig string, now time.Time) domain.Issue {
	return domain.Issue{
		ID:         c.newID(),
		Type:       t,
		Severity:   sev,
		DetectedAt: now,
		Signature:  string(t) + "/" + sig,
	}
}

func (c *Collector) slowQueryIssues(slow int, now time.Time) []domain.Issue {
	if slow == 0 {
		return nil
	}
	sev := domain.SeverityMedium
	if slow > SlowQueryHighThreshold {
		sev = domain.SeverityHigh
	}
	is := c.issue(domain.IssuePerformance, sev, "slow_queries", now)
	is.Description = fmt.Sprintf("%d statements exceed the %s mean duration threshold", slow, c.cfg.SlowQueryThreshold)
	is.SuggestedAction = "review the slowest statements and their plans"
	return []domain.Issue{is}
}

// missingIndexIssues reports one issue per foreign key column that is not
// the leading column of any index or of the primary key.
func (c *Collector) missingIndexIssues(live *schema.Document, now time.Time) []domain.Issue {
	var out []domain.Issue
	for i := range live.Tables {
		t := &live.Tables[i]
		for _, fk := range t.ForeignKeys {
			if t.HasLeadingIndex(fk.Column) {
				continue
			}
			cols := []string{fk.Column}
			fix := &domain.FixAction{
				Kind:    domain.OpCreateIndex,
				Table:   t.Name,
				Columns: cols,
				Name:    IndexName(t.Name, cols),
			}
			is := c.issue(domain.IssuePerformance, domain.SeverityMedium, "missing_index", now)
			is.Table = t.Name
			is.Description = fmt.Sprintf("foreign key %s.%s → %s has no supporting index", t.Name, fk.Column, fk.RefTable)
			is.SuggestedAction = fmt.Sprintf("create index %s on %s(%s)", fix.Name, t.Name, fk.Column)
			is.AutoFixable = true
			is.Fix = fix
			out = append(out, is)
		}
	}
	return out
}

func (c *Collector) primaryKeyIssues(live *schema.Document, now time.Time) []domain.Issue {
	var out []domain.Issue
	for _, t := range live.Tables {
		if len(t.PrimaryKey) > 0 {
			continue
		}
		is := c.issue(domain.IssueIntegrity, domain.SeverityMedium, "missing_primary_key", now)
		is.Table = t.Name
		is.Description = fmt.Sprintf("table %s has no primary key", t.Name)
		is.SuggestedAction = "add a primary key so rows can be identified and replicated"
		out = append(out, is)
	}
	return out
}

// staleStatsIssues compares row counts with the previous pass. A large
// swing on a non-trivial table suggests planner statistics are stale.
func (c *Collector) staleStatsIssues(counts map[string]int64, now time.Time) []domain.Issue {
	c.mu.Lock()
	prev := c.rowCounts
	c.rowCounts = counts
	c.mu.Unlock()

	var out []domain.Issue
	for table, n := range counts {
		before, ok := prev[table]
		if !ok || before == 0 || max(n, before) < StaleStatsMinRows {
			continue
		}
		change := math.Abs(float64(n-before)) / float64(before)
		if change <= StaleStatsChange {
			continue
		}
		is := c.issue(domain.IssuePerformance, domain.SeverityLow, "stale_statistics", now)
		is.Table = table
		is.Description = fmt.Sprintf("row count of %s changed from %d to %d since the last pass", table, before, n)
		is.SuggestedAction = fmt.Sprintf("refresh planner statistics for %s", table)
		is.AutoFixable = true
		is.Fix = &domain.FixAction{Kind: domain.OpAnalyzeTable, Table: table}
		out = append(out, is)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}

// driftIssues reports one schema_drift issue per structural difference.
// Tables whose structure could not be read are unknown, not missing.
// Drift is never auto-fixable.
func (c *Collector) driftIssues(expected, live *schema.Document, undescribed map[string]bool, now time.Time) []domain.Issue {
	diffs := schema.Diff(expected, live)
	out := make([]domain.Issue, 0, len(diffs))
	for _, d := range diffs {
		if undescribed[strings.ToLower(d.Table)] {
			continue
		}
		is := c.issue(domain.IssueSchemaDrift, domain.SeverityHigh, string(d.Kind), now)
		is.Table = d.Table
		is.Description = d.String()
		is.SuggestedAction = "review the change and update the schema or the expected document"
		out = append(out, is)
	}
	return out
}

func (c *Collector) observe(snap domain.MetricsSnapshot) {
	metrics.TargetTables.Set(float64(snap.TableCount))
	metrics.TargetRows.Set(float64(snap.TotalRows))
	metrics.TargetSizeBytes.Set(float64(snap.DatabaseSize))
	metrics.PerformanceScore.Set(snap.PerformanceScore)
	for _, is := range snap.Issues {
		metrics.IssuesDetected.WithLabelValues(string(is.Type), string(is.Severity)).Inc()
	}
}
