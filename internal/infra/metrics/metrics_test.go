package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// value reads the current value of a gauge or counter.
func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if out.Gauge != nil {
		return out.GetGauge().GetValue()
	}
	return out.GetCounter().GetValue()
}

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestCycleMetrics(t *testing.T) {
	CycleDuration.WithLabelValues("monitoring").Observe(0.2)
	CyclesTotal.WithLabelValues("monitoring", "ok").Inc()
	ControllerStatus.WithLabelValues("running").Set(1)
	EmergencyMode.Set(0)

	names := gatheredNames(t)
	for _, name := range []string{
		"autodb_cycle_duration_seconds",
		"autodb_cycles_total",
		"autodb_controller_status",
		"autodb_emergency_mode",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestHealthMetrics(t *testing.T) {
	SystemHealth.Set(80)
	PerformanceScore.Set(85)
	HealthCheckStatus.WithLabelValues("store").Set(1)
	HealthRecoveries.WithLabelValues("target").Inc()

	if got := value(t, SystemHealth); got != 80 {
		t.Errorf("SystemHealth = %v, want 80", got)
	}
	if got := value(t, HealthCheckStatus.WithLabelValues("store")); got != 1 {
		t.Errorf("HealthCheckStatus(store) = %v, want 1", got)
	}
}

func TestDecisionMetrics(t *testing.T) {
	before := value(t, FixesApplied.WithLabelValues("create_index", "success"))
	FixesApplied.WithLabelValues("create_index", "success").Inc()
	if got := value(t, FixesApplied.WithLabelValues("create_index", "success")); got != before+1 {
		t.Errorf("FixesApplied = %v, want %v", got, before+1)
	}

	Rollbacks.WithLabelValues("success").Inc()
	RecommendationsTotal.WithLabelValues("approval").Inc()
	FixBudgetRemaining.Set(7)
	CircuitState.Set(0)

	names := gatheredNames(t)
	for _, name := range []string{
		"autodb_fixes_total",
		"autodb_rollbacks_total",
		"autodb_recommendations_total",
		"autodb_fix_budget_remaining",
		"autodb_fix_circuit_state",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestTargetAndLearningMetrics(t *testing.T) {
	TargetTables.Set(3)
	TargetRows.Set(120)
	TargetSizeBytes.Set(4096)
	IssuesDetected.WithLabelValues("performance", "medium").Inc()
	LearningProgress.Set(12.5)
	PatternsKnown.Set(2)
	Predictions.WithLabelValues("growth").Inc()

	if got := value(t, LearningProgress); got != 12.5 {
		t.Errorf("LearningProgress = %v, want 12.5", got)
	}
	if !gatheredNames(t)["autodb_issues_detected_total"] {
		t.Error("autodb_issues_detected_total not found")
	}
}
