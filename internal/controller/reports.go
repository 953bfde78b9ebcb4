package controller

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sitebook/autodb/internal/domain"
	"github.com/sitebook/autodb/internal/infra/anomaly"
	"github.com/sitebook/autodb/internal/infra/healing"
	"github.com/sitebook/autodb/internal/infra/selfheal"
)

// Report names.
const (
	ReportSummary         = "summary"
	ReportDecisions       = "decisions"
	ReportMetrics         = "metrics"
	ReportPatterns        = "patterns"
	ReportRecommendations = "recommendations"
	ReportIncidents       = "incidents"
	ReportAnomalies       = "anomalies"
	ReportRollbacks       = "rollbacks"
)

// AuditReportLimit caps the markers and rollback records in a report.
const AuditReportLimit = 100

// ReportNames lists every report Report accepts.
func ReportNames() []string {
	return []string{ReportSummary, ReportDecisions, ReportMetrics, ReportPatterns, ReportRecommendations, ReportIncidents, ReportAnomalies, ReportRollbacks}
}

// Summary is the one-page overview.
type Summary struct {
	GeneratedAt       time.Time                  `json:"generated_at"`
	State             domain.SystemState         `json:"state"`
	Latest            *domain.MetricsSnapshot    `json:"latest_snapshot,omitempty"`
	Snapshots         int                        `json:"snapshots"`
	Decisions         int                        `json:"decisions"`
	Outcomes          map[domain.Outcome]int     `json:"outcomes"`
	FixBudget         int                        `json:"fix_budget"`
	FixesRemaining    int                        `json:"fixes_remaining"`
	Breaker           healing.Snapshot           `json:"breaker"`
	QuarantinedTables []healing.QuarantineRecord `json:"quarantined_tables"`
	Incidents         selfheal.Stats             `json:"incidents"`
	Anomalies         anomaly.Stats              `json:"anomalies"`
}

// PatternsReport lists learned patterns and the open requirements.
type PatternsReport struct {
	Patterns     []domain.SchemaPattern     `json:"patterns"`
	Requirements []domain.FutureRequirement `json:"requirements"`
}

// IncidentsReport lists active and finished incidents, newest first.
type IncidentsReport struct {
	Active  []selfheal.Incident `json:"active"`
	History []selfheal.Incident `json:"history"`
	Stats   selfheal.Stats      `json:"stats"`
}

// AnomaliesReport lists metric outliers across retained snapshots, newest
// first.
type AnomaliesReport struct {
	Recent   []anomaly.Result  `json:"recent"`
	Profiles []anomaly.Profile `json:"profiles"`
	Stats    anomaly.Stats     `json:"stats"`
}

// RollbacksReport is the durable audit trail of fixes: the backup marker
// taken before each one and every rollback attempted from a marker.
type RollbacksReport struct {
	Backups   []domain.BackupMarker   `json:"backups"`
	Rollbacks []domain.RollbackRecord `json:"rollbacks"`
}

// Report builds the named report from copies of the current state. Only
// the rollbacks report reads the store.
func (c *Controller) Report(ctx context.Context, name string) (any, error) {
	switch name {
	case ReportSummary:
		return c.summary(), nil
	case ReportDecisions:
		return c.owner.decisionLog(), nil
	case ReportMetrics:
		return c.owner.history(), nil
	case ReportPatterns:
		p, r := c.owner.learned()
		return PatternsReport{Patterns: p, Requirements: r}, nil
	case ReportRecommendations:
		recs := c.Status().Recommendations
		sort.SliceStable(recs, func(i, j int) bool {
			if recs[i].Priority != recs[j].Priority {
				return recs[i].Priority < recs[j].Priority
			}
			return recs[i].Confidence > recs[j].Confidence
		})
		return recs, nil
	case ReportAnomalies:
		return AnomaliesReport{
			Recent:   c.anomalies.Recent(0),
			Profiles: c.anomalies.Profiles(),
			Stats:    c.anomalies.Stats(),
		}, nil
	case ReportRollbacks:
		return c.rollbacks(ctx)
	case ReportIncidents:
		return IncidentsReport{
			Active:  c.incidents.Active(),
			History: c.incidents.History(0),
			Stats:   c.incidents.Stats(),
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownReport, name)
}

func (c *Controller) rollbacks(ctx context.Context) (RollbacksReport, error) {
	rep := RollbacksReport{Backups: []domain.BackupMarker{}, Rollbacks: []domain.RollbackRecord{}}
	if c.audit == nil {
		return rep, nil
	}
	var err error
	if rep.Backups, err = c.audit.ListBackups(ctx, AuditReportLimit); err != nil {
		return RollbacksReport{}, fmt.Errorf("list backups: %w", err)
	}
	if rep.Rollbacks, err = c.audit.ListRollbacks(ctx, AuditReportLimit); err != nil {
		return RollbacksReport{}, fmt.Errorf("list rollbacks: %w", err)
	}
	return rep, nil
}

func (c *Controller) summary() Summary {
	st := c.Status()
	decisions := c.owner.decisionLog()
	outcomes := make(map[domain.Outcome]int)
	for _, d := range decisions {
		outcomes[d.Outcome]++
	}
	budget := c.gate.Policy().MaxAutomaticChanges
	remaining := budget - st.AutomaticFixes
	if remaining < 0 {
		remaining = 0
	}

	s := Summary{
		GeneratedAt:       c.now(),
		State:             st,
		Snapshots:         len(c.owner.history()),
		Decisions:         len(decisions),
		Outcomes:          outcomes,
		FixBudget:         budget,
		FixesRemaining:    remaining,
		Breaker:           c.gate.Breaker().Snapshot(),
		QuarantinedTables: c.gate.Quarantine().ActiveAll(),
		Incidents:         c.incidents.Stats(),
		Anomalies:         c.anomalies.Stats(),
	}
	if latest, ok := c.owner.latestSnapshot(); ok {
		s.Latest = &latest
	}
	return s
}
