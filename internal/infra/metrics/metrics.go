// Package metrics provides Prometheus metrics for autodb: cycles, health,
// fixes, decisions, issues and learning.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Cycles ─────────────────────────────────────────────────────────────────

// CycleDuration tracks controller cycle duration in seconds.
var CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "autodb",
	Name:      "cycle_duration_seconds",
	Help:      "Controller cycle duration in seconds.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
}, []string{"cycle"})

// CyclesTotal tracks finished cycles by outcome (ok, failed, recovered).
var CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "autodb",
	Name:      "cycles_total",
	Help:      "Total controller cycles by outcome.",
}, []string{"cycle", "outcome"})

// ControllerStatus is 1 for the current status, 0 for all others.
var ControllerStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "autodb",
	Name:      "controller_status",
	Help:      "Current controller status (1 = active status).",
}, []string{"status"})

// EmergencyMode is 1 while the controller is halted in emergency mode.
var EmergencyMode = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "autodb",
	Name:      "emergency_mode",
	Help:      "Emergency mode flag (1 = halted).",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// SystemHealth tracks the aggregated system health (0-100).
var SystemHealth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "autodb",
	Name:      "system_health",
	Help:      "Aggregated system health (0-100).",
})

// PerformanceScore tracks the latest snapshot performance score (0-100).
var PerformanceScore = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "autodb",
	Name:      "performance_score",
	Help:      "Latest target performance score (0-100).",
})

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "autodb",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "autodb",
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})

// ─── Target ─────────────────────────────────────────────────────────────────

// TargetTables tracks the table count of the last snapshot.
var TargetTables = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "autodb",
	Name:      "target_tables",
	Help:      "Number of tables in the target schema.",
})

// TargetRows tracks total rows of the last snapshot.
var TargetRows = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "autodb",
	Name:      "target_rows",
	Help:      "Total rows across target tables.",
})

// TargetSizeBytes tracks the database size of the last snapshot.
var TargetSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "autodb",
	Name:      "target_size_bytes",
	Help:      "Target database size in bytes.",
})

// IssuesDetected tracks detected issues by type and severity.
var IssuesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "autodb",
	Name:      "issues_detected_total",
	Help:      "Total issues detected by type and severity.",
}, []string{"type", "severity"})

// ─── Decisions ──────────────────────────────────────────────────────────────

// FixesApplied tracks executed fixes by kind and outcome.
var FixesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "autodb",
	Name:      "fixes_total",
	Help:      "Total automatic fixes by kind and outcome.",
}, []string{"kind", "outcome"})

// Rollbacks tracks rollbacks by result.
var Rollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "autodb",
	Name:      "rollbacks_total",
	Help:      "Total rollbacks after failed fixes.",
}, []string{"result"})

// RecommendationsTotal tracks deferred actions by reason.
var RecommendationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "autodb",
	Name:      "recommendations_total",
	Help:      "Total recommendations produced by reason.",
}, []string{"reason"})

// FixBudgetRemaining tracks automatic fixes left under the safety policy.
var FixBudgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "autodb",
	Name:      "fix_budget_remaining",
	Help:      "Automatic fixes remaining before the budget is exhausted.",
})

// CircuitState tracks the fix execution breaker (0=closed, 1=open, 2=half-open).
var CircuitState = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "autodb",
	Name:      "fix_circuit_state",
	Help:      "Fix execution circuit breaker state (0=closed, 1=open, 2=half-open).",
})

// ─── Learning ───────────────────────────────────────────────────────────────

// LearningProgress tracks learning progress (0-100).
var LearningProgress = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "autodb",
	Name:      "learning_progress",
	Help:      "Learning progress (0-100).",
})

// PatternsKnown tracks the number of tracked schema patterns.
var PatternsKnown = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "autodb",
	Name:      "patterns_known",
	Help:      "Number of tracked schema patterns.",
})

// Predictions tracks predictions produced by type.
var Predictions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "autodb",
	Name:      "predictions_total",
	Help:      "Total predictions produced by requirement type.",
}, []string{"type"})
