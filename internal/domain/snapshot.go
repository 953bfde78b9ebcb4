package domain

import (
	"fmt"
	"time"
)

// ─── Health Status ──────────────────────────────────────────────────────────

// HealthStatus is the coarse label derived from a performance score.
type HealthStatus string

const (
	HealthExcellent HealthStatus = "excellent"
	HealthGood      HealthStatus = "good"
	HealthWarning   HealthStatus = "warning"
	HealthCritical  HealthStatus = "critical"
)

// HealthFromScore maps a performance score to its label.
// Thresholds are fixed: >=90 excellent, >=75 good, >=50 warning.
func HealthFromScore(score float64) HealthStatus {
	switch {
	case score >= 90:
		return HealthExcellent
	case score >= 75:
		return HealthGood
	case score >= 50:
		return HealthWarning
	default:
		return HealthCritical
	}
}

// ─── Issues ─────────────────────────────────────────────────────────────────

// IssueType classifies a detected problem.
type IssueType string

const (
	IssueSchemaDrift IssueType = "schema_drift"
	IssuePerformance IssueType = "performance"
	IssueIntegrity   IssueType = "integrity"
	IssueSecurity    IssueType = "security"
)

// Valid reports whether t is a known issue type.
func (t IssueType) Valid() bool {
	switch t {
	case IssueSchemaDrift, IssuePerformance, IssueIntegrity, IssueSecurity:
		return true
	}
	return false
}

// Severity ranks an issue.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Weight returns a 0–1 ordering hint for the severity.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 0.95
	case SeverityHigh:
		return 0.8
	case SeverityMedium:
		return 0.6
	default:
		return 0.4
	}
}

// Priority maps the severity onto recommendation priorities (1 = most urgent).
func (s Severity) Priority() int {
	switch s {
	case SeverityCritical:
		return 1
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 3
	default:
		return 4
	}
}

// Issue is one problem found by a collection pass. The gate consumes it
// exactly once.
type Issue struct {
	ID              string     `json:"id"`
	Type            IssueType  `json:"type"`
	Severity        Severity   `json:"severity"`
	Description     string     `json:"description"`
	AutoFixable     bool       `json:"auto_fixable"`
	SuggestedAction string     `json:"suggested_action"`
	DetectedAt      time.Time  `json:"detected_at"`
	Table           string     `json:"table,omitempty"`
	Signature       string     `json:"signature"`
	Fix             *FixAction `json:"fix,omitempty"`
}

// Operation returns the operation kind implied by the issue.
func (i Issue) Operation() OperationKind {
	if i.Fix != nil {
		return i.Fix.Kind
	}
	if i.Type == IssueSchemaDrift {
		return OpSchemaChange
	}
	return ""
}

// Validate checks an issue read from a persisted snapshot.
func (i Issue) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("issue: missing id")
	}
	if !i.Type.Valid() {
		return fmt.Errorf("issue %s: unknown type %q", i.ID, i.Type)
	}
	if !i.Severity.Valid() {
		return fmt.Errorf("issue %s: unknown severity %q", i.ID, i.Severity)
	}
	if i.Fix != nil {
		if err := i.Fix.Validate(); err != nil {
			return fmt.Errorf("issue %s: %w", i.ID, err)
		}
	}
	return nil
}

// ─── Metrics Snapshot ───────────────────────────────────────────────────────

// MetricsSnapshot is the immutable result of one monitoring cycle.
type MetricsSnapshot struct {
	ID               string       `json:"id"`
	Timestamp        time.Time    `json:"timestamp"`
	TableCount       int          `json:"table_count"`
	TotalRows        int64        `json:"total_rows"`
	DatabaseSize     int64        `json:"database_size"`
	SlowQueries      int          `json:"slow_queries"`
	MissingIndexes   int          `json:"missing_indexes"`
	SkippedTables    []string     `json:"skipped_tables"`
	PerformanceScore float64      `json:"performance_score"`
	HealthStatus     HealthStatus `json:"health_status"`
	Issues           []Issue      `json:"issues"`
	Predictions      []Prediction `json:"predictions"`
}

// Validate checks a persisted snapshot.
func (m MetricsSnapshot) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("snapshot: missing id")
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("snapshot %s: missing timestamp", m.ID)
	}
	if m.PerformanceScore < 0 || m.PerformanceScore > 100 {
		return fmt.Errorf("snapshot %s: performance_score %.1f out of range", m.ID, m.PerformanceScore)
	}
	if m.HealthStatus != HealthFromScore(m.PerformanceScore) {
		return fmt.Errorf("snapshot %s: health_status %q does not match score %.1f",
			m.ID, m.HealthStatus, m.PerformanceScore)
	}
	for _, is := range m.Issues {
		if err := is.Validate(); err != nil {
			return fmt.Errorf("snapshot %s: %w", m.ID, err)
		}
	}
	for _, p := range m.Predictions {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("snapshot %s: %w", m.ID, err)
		}
	}
	return nil
}
