// Package learner derives recurring structural patterns and future
// requirements from the metrics history. It is pure: the same history
// always yields the same patterns and requirements.
package learner

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sitebook/autodb/internal/domain"
)

// Heuristic thresholds.
const (
	GrowthMinSnapshots      = 2
	GrowthRateThreshold     = 0.1
	GrowthConfidence        = 0.8
	PerformanceMinSnapshots = 3
	PerformanceWindow       = 3
	PerformanceThreshold    = 70.0
	PerformanceConfidence   = 0.9
	SchemaPatternThreshold  = 0.8

	baseConfidence = 0.5
	reinforcement  = 0.05

	// FullHistory is the snapshot count at which learning progress reaches 100.
	FullHistory = 48
)

// patternSpace namespaces deterministic pattern and requirement ids.
var patternSpace = uuid.MustParse("6f1d3c2a-8b4e-5f70-9a1c-2d3e4f5a6b7c")

// PatternID returns the stable id of the pattern called name.
func PatternID(name string) string {
	return uuid.NewSHA1(patternSpace, []byte(name)).String()
}

// Result is the output of one learning pass.
type Result struct {
	Patterns     []domain.SchemaPattern
	Requirements []domain.FutureRequirement
}

// Learn reprocesses history (oldest first) from scratch.
func Learn(history []domain.MetricsSnapshot) Result {
	patterns := Patterns(history)
	return Result{
		Patterns:     patterns,
		Requirements: Predict(history, patterns),
	}
}

// ─── Patterns ───────────────────────────────────────────────────────────────

// observations lists the pattern names a snapshot reinforces.
func observations(prev *domain.MetricsSnapshot, snap domain.MetricsSnapshot) []string {
	seen := make(map[string]bool)
	for _, is := range snap.Issues {
		if is.Type == domain.IssueSchemaDrift && is.Signature != "" {
			seen[is.Signature] = true
		}
	}
	if prev != nil {
		switch {
		case snap.TableCount > prev.TableCount:
			seen["table_count/increase"] = true
		case snap.TableCount < prev.TableCount:
			seen["table_count/decrease"] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Patterns tracks every pattern observed across history.
func Patterns(history []domain.MetricsSnapshot) []domain.SchemaPattern {
	byName := make(map[string]*domain.SchemaPattern)
	lastSeen := make(map[string]int)

	for i, snap := range history {
		var prev *domain.MetricsSnapshot
		if i > 0 {
			prev = &history[i-1]
		}
		for _, name := range observations(prev, snap) {
			p, ok := byName[name]
			if !ok {
				p = &domain.SchemaPattern{ID: PatternID(name), Name: name}
				byName[name] = p
			} else if lastSeen[name] < i-1 {
				p.Adaptations++
			}
			p.Frequency++
			p.LastUsed = snap.Timestamp
			p.Confidence = confidence(p.Frequency)
			lastSeen[name] = i
		}
	}

	out := make([]domain.SchemaPattern, 0, len(byName))
	for _, p := range byName {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func confidence(frequency int) float64 {
	c := baseConfidence + reinforcement*float64(frequency-1)
	// Round away float drift so repeated reinforcement lands on the cap exactly.
	c = math.Round(c*1000) / 1000
	return math.Min(domain.MaxPatternConfidence, c)
}

// ─── Predictions ────────────────────────────────────────────────────────────

// Predict derives future requirements from history and its patterns.
func Predict(history []domain.MetricsSnapshot, patterns []domain.SchemaPattern) []domain.FutureRequirement {
	var reqs []domain.FutureRequirement

	if r, ok := growth(history); ok {
		reqs = append(reqs, r)
	}
	if r, ok := performance(history); ok {
		reqs = append(reqs, r)
	}
	for _, p := range patterns {
		if p.Confidence < SchemaPatternThreshold {
			continue
		}
		reqs = append(reqs, domain.FutureRequirement{
			ID:                requirementID(domain.RequirementSchema, p.Name),
			Type:              domain.RequirementSchema,
			Description:       fmt.Sprintf("pattern %s observed %d times", p.Name, p.Frequency),
			Confidence:        p.Confidence,
			Timeframe:         "14 days",
			RecommendedAction: fmt.Sprintf("review the expected schema for recurring %s changes", p.Name),
			Priority:          3,
		})
	}
	return reqs
}

func growth(history []domain.MetricsSnapshot) (domain.FutureRequirement, bool) {
	if len(history) < GrowthMinSnapshots {
		return domain.FutureRequirement{}, false
	}
	oldest, newest := history[0], history[len(history)-1]
	if oldest.TotalRows == 0 {
		return domain.FutureRequirement{}, false
	}
	rate := float64(newest.TotalRows-oldest.TotalRows) / float64(oldest.TotalRows)
	if rate <= GrowthRateThreshold {
		return domain.FutureRequirement{}, false
	}
	return domain.FutureRequirement{
		ID:   requirementID(domain.RequirementGrowth, "total_rows"),
		Type: domain.RequirementGrowth,
		Description: fmt.Sprintf("rows grew %.0f%% (%d to %d) over %s",
			rate*100, oldest.TotalRows, newest.TotalRows, span(oldest.Timestamp, newest.Timestamp)),
		Confidence:        GrowthConfidence,
		Timeframe:         "30 days",
		RecommendedAction: "plan index optimization and storage scaling for continued growth",
		Priority:          2,
	}, true
}

func performance(history []domain.MetricsSnapshot) (domain.FutureRequirement, bool) {
	if len(history) < PerformanceMinSnapshots {
		return domain.FutureRequirement{}, false
	}
	var sum float64
	recent := history[len(history)-PerformanceWindow:]
	for _, s := range recent {
		sum += s.PerformanceScore
	}
	mean := sum / float64(len(recent))
	if mean >= PerformanceThreshold {
		return domain.FutureRequirement{}, false
	}
	return domain.FutureRequirement{
		ID:                requirementID(domain.RequirementPerformance, "score"),
		Type:              domain.RequirementPerformance,
		Description:       fmt.Sprintf("mean performance score %.1f over the last %d snapshots", mean, len(recent)),
		Confidence:        PerformanceConfidence,
		Timeframe:         "7 days",
		RecommendedAction: "review slow queries and add missing indexes",
		Priority:          1,
	}, true
}

func requirementID(t domain.RequirementType, name string) string {
	return uuid.NewSHA1(patternSpace, []byte(string(t)+"/"+name)).String()
}

func span(from, to time.Time) string {
	d := to.Sub(from)
	if d <= 0 {
		return "the observed history"
	}
	return d.Round(time.Minute).String()
}

// Progress maps the history length onto 0–100. It never drops below prev.
func Progress(prev float64, historyLen int) float64 {
	p := math.Min(100, float64(historyLen)*100/FullHistory)
	return math.Max(prev, p)
}
