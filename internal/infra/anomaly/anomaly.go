// Package anomaly flags monitoring snapshots whose metrics fall outside the
// statistical profile built from earlier snapshots.
//
// Each tracked metric keeps a running mean and variance (Welford). A value
// more than SigmaThreshold standard deviations from the mean is an outlier.
// Repeated outliers on the same metric escalate to critical.
package anomaly

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sitebook/autodb/internal/domain"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	// SigmaThreshold is the number of standard deviations for statistical outlier.
	SigmaThreshold = 3.0

	// MinSamplesForProfile is how many snapshots before statistical checks kick in.
	MinSamplesForProfile = 5

	// MaxConsecutiveAnomalies before escalation.
	MaxConsecutiveAnomalies = 3

	// RecentMaxEntries caps the retained anomaly results.
	RecentMaxEntries = 200
)

// Tracked metrics.
const (
	MetricPerformanceScore = "performance_score"
	MetricSlowQueries      = "slow_queries"
	MetricTotalRows        = "total_rows"
	MetricDatabaseSize     = "database_size"
)

// ─── Types ──────────────────────────────────────────────────────────────────

// Severity indicates how serious an anomaly is.
type Severity int

const (
	SevWarning  Severity = iota // Worth watching
	SevCritical                 // Repeated outlier
)

// String returns the severity label.
func (s Severity) String() string {
	switch s {
	case SevWarning:
		return "WARNING"
	case SevCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the severity by name in JSON reports.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Result is one flagged metric of one snapshot.
type Result struct {
	SnapshotID  string    `json:"snapshot_id"`
	Metric      string    `json:"metric"`
	Value       float64   `json:"value"`
	Mean        float64   `json:"mean"`
	Stddev      float64   `json:"stddev"`
	Sigma       float64   `json:"sigma"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// Profile holds the running statistics for one metric.
type Profile struct {
	Metric string  `json:"metric"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	M2     float64 `json:"m2"` // running variance sum

	ConsecutiveAnomalies int `json:"consecutive_anomalies"`
	TotalAnomalies       int `json:"total_anomalies"`
}

// Stddev returns the sample standard deviation.
func (p *Profile) Stddev() float64 {
	if p.Count < 2 {
		return 0
	}
	return math.Sqrt(p.M2 / float64(p.Count-1))
}

func (p *Profile) add(v float64) {
	p.Count++
	delta := v - p.Mean
	p.Mean += delta / float64(p.Count)
	p.M2 += delta * (v - p.Mean)
}

// Stats provides an overview of the detector's state.
type Stats struct {
	Snapshots      int            `json:"snapshots"`
	TotalAnomalies int            `json:"total_anomalies"`
	ByMetric       map[string]int `json:"by_metric"`
}

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the anomaly detector.
type Config struct {
	SigmaThreshold        float64 // Standard deviations for outlier (default: 3.0)
	MinSamples            int     // Minimum snapshots before statistical checks (default: 5)
	MaxConsecutiveAnomaly int     // Anomalies before escalation (default: 3)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SigmaThreshold:        SigmaThreshold,
		MinSamples:            MinSamplesForProfile,
		MaxConsecutiveAnomaly: MaxConsecutiveAnomalies,
	}
}

// ─── Detector ───────────────────────────────────────────────────────────────

// Detector runs anomaly detection on metrics snapshots.
// Thread-safe via RWMutex.
type Detector struct {
	mu        sync.RWMutex
	config    Config
	profiles  map[string]*Profile
	recent    []Result
	snapshots int
}

// NewDetector creates an anomaly detector. Zero config fields take defaults.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.SigmaThreshold <= 0 {
		cfg.SigmaThreshold = def.SigmaThreshold
	}
	if cfg.MinSamples <= 1 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.MaxConsecutiveAnomaly <= 0 {
		cfg.MaxConsecutiveAnomaly = def.MaxConsecutiveAnomaly
	}
	return &Detector{
		config:   cfg,
		profiles: make(map[string]*Profile),
	}
}

type sample struct {
	metric string
	value  float64
}

func samples(s domain.MetricsSnapshot) []sample {
	return []sample{
		{MetricPerformanceScore, s.PerformanceScore},
		{MetricSlowQueries, float64(s.SlowQueries)},
		{MetricTotalRows, float64(s.TotalRows)},
		{MetricDatabaseSize, float64(s.DatabaseSize)},
	}
}

// Analyze checks each tracked metric of snap against its profile, then
// folds the snapshot into the profiles.
func (d *Detector) Analyze(snap domain.MetricsSnapshot) []Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.snapshots++
	var out []Result
	for _, smp := range samples(snap) {
		name, v := smp.metric, smp.value
		p := d.profiles[name]
		if p == nil {
			p = &Profile{Metric: name}
			d.profiles[name] = p
		}

		flagged := false
		if p.Count >= d.config.MinSamples {
			if sd := p.Stddev(); sd > 0 {
				z := math.Abs(v-p.Mean) / sd
				if z > d.config.SigmaThreshold {
					flagged = true
					p.ConsecutiveAnomalies++
					p.TotalAnomalies++
					r := Result{
						SnapshotID:  snap.ID,
						Metric:      name,
						Value:       v,
						Mean:        p.Mean,
						Stddev:      sd,
						Sigma:       z,
						Severity:    SevWarning,
						Description: fmt.Sprintf("%s %.0f is %.1fσ from mean %.0f (stddev=%.0f)", name, v, z, p.Mean, sd),
						Timestamp:   snap.Timestamp,
					}
					if p.ConsecutiveAnomalies >= d.config.MaxConsecutiveAnomaly {
						r.Severity = SevCritical
						r.Description += fmt.Sprintf(" [ESCALATED: %d consecutive anomalies]", p.ConsecutiveAnomalies)
					}
					out = append(out, r)
				}
			}
		}
		if !flagged {
			p.ConsecutiveAnomalies = 0
		}
		p.add(v)
	}

	d.recent = append(d.recent, out...)
	if len(d.recent) > RecentMaxEntries {
		d.recent = d.recent[len(d.recent)-RecentMaxEntries:]
	}
	return out
}

// Reset drops every profile and retained result.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles = make(map[string]*Profile)
	d.recent = nil
	d.snapshots = 0
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Recent returns up to limit retained results, newest first. limit <= 0
// returns all of them.
func (d *Detector) Recent(limit int) []Result {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := len(d.recent)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Result, 0, n)
	for i := len(d.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, d.recent[i])
	}
	return out
}

// Profiles returns copies of every metric profile, sorted by metric.
func (d *Detector) Profiles() []Profile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Profile, 0, len(d.profiles))
	for _, p := range d.profiles {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out
}

// Stats returns aggregate detector metrics.
func (d *Detector) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := Stats{
		Snapshots: d.snapshots,
		ByMetric:  make(map[string]int, len(d.profiles)),
	}
	for name, p := range d.profiles {
		stats.TotalAnomalies += p.TotalAnomalies
		stats.ByMetric[name] = p.TotalAnomalies
	}
	return stats
}
