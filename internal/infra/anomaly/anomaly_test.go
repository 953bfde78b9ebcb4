package anomaly

import (
	"fmt"
	"testing"
	"time"

	"github.com/sitebook/autodb/internal/domain"
)

func snap(i, slow int) domain.MetricsSnapshot {
	return domain.MetricsSnapshot{
		ID:               fmt.Sprintf("m%d", i),
		Timestamp:        time.Unix(int64(i)*60, 0),
		TotalRows:        1000,
		DatabaseSize:     4096,
		SlowQueries:      slow,
		PerformanceScore: 100,
	}
}

func feed(d *Detector, slows ...int) []Result {
	var last []Result
	for i, s := range slows {
		last = d.Analyze(snap(i, s))
	}
	return last
}

func TestAnalyze_NoChecksBeforeMinSamples(t *testing.T) {
	d := NewDetector(DefaultConfig())
	for i, s := range []int{1, 200, 1, 500, 3} {
		if got := d.Analyze(snap(i, s)); len(got) != 0 {
			t.Fatalf("snapshot %d flagged %v before profile is ready", i, got)
		}
	}
}

func TestAnalyze_FlagsOutlier(t *testing.T) {
	d := NewDetector(DefaultConfig())
	got := feed(d, 1, 2, 1, 2, 1, 10)

	if len(got) != 1 {
		t.Fatalf("results = %d, want 1: %+v", len(got), got)
	}
	r := got[0]
	if r.Metric != MetricSlowQueries {
		t.Errorf("Metric = %q, want %q", r.Metric, MetricSlowQueries)
	}
	if r.Severity != SevWarning {
		t.Errorf("Severity = %v, want WARNING", r.Severity)
	}
	if r.SnapshotID != "m5" {
		t.Errorf("SnapshotID = %q, want m5", r.SnapshotID)
	}
	if r.Sigma <= SigmaThreshold {
		t.Errorf("Sigma = %.2f, want > %.1f", r.Sigma, SigmaThreshold)
	}
}

func TestAnalyze_ConstantMetricsNeverFlag(t *testing.T) {
	d := NewDetector(DefaultConfig())
	feed(d, 1, 2, 1, 2, 1, 10)

	profiles := profileMap(d)
	for _, m := range []string{MetricPerformanceScore, MetricTotalRows, MetricDatabaseSize} {
		p, ok := profiles[m]
		if !ok {
			t.Fatalf("no profile for %s", m)
		}
		if p.TotalAnomalies != 0 {
			t.Errorf("%s anomalies = %d, want 0", m, p.TotalAnomalies)
		}
	}
}

func profileMap(d *Detector) map[string]Profile {
	out := make(map[string]Profile)
	for _, p := range d.Profiles() {
		out[p.Metric] = p
	}
	return out
}

func TestProfiles_SortedByMetric(t *testing.T) {
	d := NewDetector(DefaultConfig())
	feed(d, 1, 2)

	got := d.Profiles()
	want := []string{MetricDatabaseSize, MetricPerformanceScore, MetricSlowQueries, MetricTotalRows}
	if len(got) != len(want) {
		t.Fatalf("profiles = %d, want %d", len(got), len(want))
	}
	for i, m := range want {
		if got[i].Metric != m {
			t.Errorf("profiles[%d] = %s, want %s", i, got[i].Metric, m)
		}
		if got[i].Count != 2 {
			t.Errorf("%s count = %d, want 2", m, got[i].Count)
		}
	}
}

func TestAnalyze_EscalatesConsecutive(t *testing.T) {
	d := NewDetector(Config{MaxConsecutiveAnomaly: 2})
	feed(d, 1, 2, 1, 2, 1, 10)
	got := d.Analyze(snap(6, 100))

	if len(got) != 1 {
		t.Fatalf("results = %d, want 1", len(got))
	}
	if got[0].Severity != SevCritical {
		t.Errorf("Severity = %v, want CRITICAL", got[0].Severity)
	}

	// A clean snapshot clears the streak.
	d.Analyze(snap(7, 2))
	p := profileMap(d)[MetricSlowQueries]
	if p.ConsecutiveAnomalies != 0 {
		t.Errorf("ConsecutiveAnomalies = %d, want 0", p.ConsecutiveAnomalies)
	}
	if p.TotalAnomalies != 2 {
		t.Errorf("TotalAnomalies = %d, want 2", p.TotalAnomalies)
	}
}

func TestRecentAndStats(t *testing.T) {
	d := NewDetector(Config{MaxConsecutiveAnomaly: 2})
	feed(d, 1, 2, 1, 2, 1, 10)
	d.Analyze(snap(6, 100))

	recent := d.Recent(0)
	if len(recent) != 2 {
		t.Fatalf("Recent = %d, want 2", len(recent))
	}
	if recent[0].SnapshotID != "m6" {
		t.Errorf("Recent[0] = %s, want newest m6", recent[0].SnapshotID)
	}
	if got := d.Recent(1); len(got) != 1 {
		t.Errorf("Recent(1) = %d entries, want 1", len(got))
	}

	st := d.Stats()
	if st.Snapshots != 7 || st.TotalAnomalies != 2 || st.ByMetric[MetricSlowQueries] != 2 {
		t.Errorf("Stats = %+v", st)
	}

	d.Reset()
	if st := d.Stats(); st.Snapshots != 0 || len(d.Recent(0)) != 0 {
		t.Errorf("after Reset: %+v", st)
	}
}
