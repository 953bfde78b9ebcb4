// Package gate decides, for every detected issue, whether a fix runs
// automatically or is deferred to a human as a recommendation.
//
// Order of evaluation:
//  1. emergency stop, schema drift, destructive operations and issues
//     without a bound fix are always deferred
//  2. operations listed in the approval policy are deferred with
//     requires_approval set
//  3. auto-fixable issues with a reversible fix run when a budget slot can
//     be reserved, the table is not quarantined and the execution breaker
//     allows it
//  4. everything else is deferred
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sitebook/autodb/internal/domain"
	"github.com/sitebook/autodb/internal/infra/healing"
	"github.com/sitebook/autodb/internal/infra/metrics"
	"github.com/sitebook/autodb/internal/logging"
)

// Ledger is the state owner the gate writes through. Reservations must be
// followed by exactly one CommitFix, FailFix or ReleaseFix.
type Ledger interface {
	// ReserveFix takes a budget slot if automatic, in-flight and failed
	// fixes stay below limit. Returns domain.ErrFixBudgetExhausted otherwise.
	ReserveFix(limit int) error
	// CommitFix counts a successful fix.
	CommitFix()
	// FailFix keeps the slot of a fix that ran and failed until the owner
	// resets its attempts. It is not counted as an automatic fix.
	FailFix()
	// ReleaseFix returns a slot whose fix never ran.
	ReleaseFix()

	AppendDecision(d domain.AIDecision) error
	// SetOutcome finalizes a pending decision. Returns domain.ErrOutcomeFinal
	// when already set.
	SetOutcome(id string, outcome domain.Outcome, impact string) error
}

// Reasons a decision was deferred.
const (
	ReasonEmergencyStop = "emergency_stop"
	ReasonSchemaDrift   = "schema_drift"
	ReasonDestructive   = "destructive"
	ReasonApproval      = "approval"
	ReasonNoFix         = "no_fix"
	ReasonIrreversible  = "irreversible"
	ReasonBudget        = "budget"
	ReasonQuarantined   = "quarantined"
	ReasonCircuitOpen   = "circuit_open"
	ReasonBackupFailed  = "backup_failed"
	ReasonPrediction    = "prediction"
)

// Executed fix confidence by kind.
var fixConfidence = map[domain.OperationKind]float64{
	domain.OpCreateIndex:  0.85,
	domain.OpAnalyzeTable: 0.75,
}

// Decision is the outcome of evaluating one issue or requirement. Exactly
// one of AIDecision and Recommendation is set.
type Decision struct {
	Executed       bool
	AIDecision     *domain.AIDecision
	Recommendation *domain.Recommendation
	Reason         string
}

// Config wires a gate.
type Config struct {
	Policy     domain.SafetyPolicy
	Ledger     Ledger
	Executor   domain.FixExecutor
	Backups    domain.BackupStore
	Breaker    *healing.CircuitBreaker
	Quarantine *healing.Quarantine
}

// Gate applies the safety policy.
type Gate struct {
	policy     domain.SafetyPolicy
	ledger     Ledger
	exec       domain.FixExecutor
	backups    domain.BackupStore
	breaker    *healing.CircuitBreaker
	quarantine *healing.Quarantine

	now   func() time.Time
	newID func() string
}

// New creates a gate. Breaker and Quarantine default to production settings.
func New(cfg Config) *Gate {
	g := &Gate{
		policy:     cfg.Policy,
		ledger:     cfg.Ledger,
		exec:       cfg.Executor,
		backups:    cfg.Backups,
		breaker:    cfg.Breaker,
		quarantine: cfg.Quarantine,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	if g.breaker == nil {
		g.breaker = healing.NewCircuitBreaker("fix-executor", healing.DefaultCircuitBreakerConfig())
	}
	if g.quarantine == nil {
		g.quarantine = healing.NewQuarantine(healing.DefaultQuarantineConfig())
	}
	g.breaker.OnStateChange(func(s healing.CBState) {
		metrics.CircuitState.Set(float64(s))
		logging.Warn("[gate] fix breaker now %s", s)
	})
	return g
}

// Policy returns the safety policy in force.
func (g *Gate) Policy() domain.SafetyPolicy { return g.policy }

// Breaker returns the execution circuit breaker.
func (g *Gate) Breaker() *healing.CircuitBreaker { return g.breaker }

// Quarantine returns the table quarantine.
func (g *Gate) Quarantine() *healing.Quarantine { return g.quarantine }

// Evaluate classifies one issue and, when permitted, executes its fix.
// A non-nil error means the ledger could not record the decision; the fix
// outcome itself is always reported through the returned Decision.
func (g *Gate) Evaluate(ctx context.Context, is domain.Issue) (Decision, error) {
	op := is.Operation()

	switch {
	case g.policy.EmergencyStop:
		return g.recommend(is, ReasonEmergencyStop, true), nil
	case is.Type == domain.IssueSchemaDrift:
		return g.recommend(is, ReasonSchemaDrift, true), nil
	case op.Destructive():
		return g.recommend(is, ReasonDestructive, true), nil
	case g.policy.RequiresApproval(is.Type, op):
		return g.recommend(is, ReasonApproval, true), nil
	case !is.AutoFixable || is.Fix == nil:
		return g.recommend(is, ReasonNoFix, false), nil
	case !is.Fix.Kind.Reversible():
		return g.recommend(is, ReasonIrreversible, true), nil
	case g.quarantine.IsQuarantined(is.Fix.Table):
		return g.recommend(is, ReasonQuarantined, false), nil
	}

	if err := g.ledger.ReserveFix(g.policy.MaxAutomaticChanges); err != nil {
		if errors.Is(err, domain.ErrFixBudgetExhausted) {
			logging.Info("[gate] issue %s: %v", is.ID, err)
			return g.recommend(is, ReasonBudget, false), nil
		}
		return Decision{}, fmt.Errorf("reserve fix for issue %s: %w", is.ID, err)
	}

	if err := g.breaker.Allow(); err != nil {
		g.ledger.ReleaseFix()
		logging.Warn("[gate] issue %s: %v", is.ID, err)
		return g.recommend(is, ReasonCircuitOpen, false), nil
	}

	return g.execute(ctx, is)
}

// execute runs a reserved, breaker-approved fix.
func (g *Gate) execute(ctx context.Context, is domain.Issue) (Decision, error) {
	fix := *is.Fix
	decisionID := g.newID()

	var marker *domain.BackupMarker
	if g.policy.BackupBeforeActions {
		m := domain.BackupMarker{
			ID:         g.newID(),
			DecisionID: decisionID,
			IssueID:    is.ID,
			Action:     fix,
			CreatedAt:  g.now(),
		}
		if err := g.backups.RecordBackup(ctx, m); err != nil {
			g.ledger.ReleaseFix()
			g.breaker.Cancel()
			logging.Error("[gate] issue %s: backup marker not recorded, fix deferred: %v", is.ID, err)
			return g.recommend(is, ReasonBackupFailed, false), nil
		}
		marker = &m
	}

	d := domain.AIDecision{
		ID:         decisionID,
		Timestamp:  g.now(),
		Context:    fmt.Sprintf("%s issue %s on %s: %s", is.Type, is.ID, is.Table, is.Description),
		Decision:   fix.String(),
		Reasoning:  fmt.Sprintf("%s is pre-approved and reversible; automatic change within the limit of %d", fix.Kind, g.policy.MaxAutomaticChanges),
		Confidence: fixConfidence[fix.Kind],
		Outcome:    domain.OutcomePending,
		IssueID:    is.ID,
	}
	if marker != nil {
		d.BackupMarkerID = marker.ID
	}
	if err := g.ledger.AppendDecision(d); err != nil {
		g.ledger.ReleaseFix()
		g.breaker.Cancel()
		return Decision{}, fmt.Errorf("append decision for issue %s: %w", is.ID, err)
	}

	applyErr := g.exec.ApplyFix(ctx, fix)
	if applyErr == nil {
		d.Outcome = domain.OutcomeSuccess
		d.Impact = fmt.Sprintf("applied %s", fix)
		d.LearningValue = 0.4
		g.ledger.CommitFix()
		g.breaker.RecordSuccess()
		g.quarantine.RecordSuccess(fix.Table)
		metrics.FixesApplied.WithLabelValues(string(fix.Kind), string(domain.OutcomeSuccess)).Inc()
		logging.Info("[gate] decision %s: applied %s for issue %s", d.ID, fix, is.ID)
	} else {
		d.Outcome = domain.OutcomeFailure
		d.Impact = fmt.Sprintf("fix failed: %v", applyErr)
		d.LearningValue = 0.8
		g.ledger.FailFix()
		g.breaker.RecordFailure()
		if rec := g.quarantine.RecordFailure(fix.Table); rec != nil {
			logging.Warn("[gate] table %s quarantined until %s", fix.Table, rec.ExpiresAt.Format(time.RFC3339))
		}
		metrics.FixesApplied.WithLabelValues(string(fix.Kind), string(domain.OutcomeFailure)).Inc()
		logging.Error("[gate] decision %s: %s for issue %s failed: %v", d.ID, fix, is.ID, applyErr)

		if g.policy.RollbackOnFailure && marker != nil {
			d.Impact += "; " + g.rollback(ctx, *marker)
		}
	}

	if err := g.ledger.SetOutcome(d.ID, d.Outcome, d.Impact); err != nil {
		return Decision{}, fmt.Errorf("record outcome of decision %s: %w", d.ID, err)
	}
	return Decision{Executed: true, AIDecision: &d}, nil
}

// rollback reverts the fix recorded by marker and reports the result.
func (g *Gate) rollback(ctx context.Context, marker domain.BackupMarker) string {
	rec := domain.RollbackRecord{
		ID:         g.newID(),
		MarkerID:   marker.ID,
		DecisionID: marker.DecisionID,
		At:         g.now(),
	}
	err := g.exec.RevertFix(ctx, marker.Action)
	if err != nil {
		rec.Error = err.Error()
		if q := g.quarantine.RecordRollbackFailure(marker.Action.Table); q != nil {
			logging.Warn("[gate] table %s quarantined until %s", q.Table, q.ExpiresAt.Format(time.RFC3339))
		}
		metrics.Rollbacks.WithLabelValues("failure").Inc()
	} else {
		rec.Success = true
		metrics.Rollbacks.WithLabelValues("success").Inc()
	}

	if werr := g.backups.RecordRollback(ctx, rec); werr != nil {
		logging.Error("[gate] rollback record %s for decision %s not written: %v", rec.ID, rec.DecisionID, werr)
	}
	if err != nil {
		logging.Error("[gate] rollback of decision %s failed: %v", marker.DecisionID, err)
		return fmt.Sprintf("rollback %s failed: %v", rec.ID, err)
	}
	logging.Info("[gate] rolled back decision %s from marker %s", marker.DecisionID, marker.ID)
	return fmt.Sprintf("rolled back via marker %s", marker.ID)
}

// EvaluateRequirement turns a predicted requirement into a recommendation.
// Predictions are never executed.
func (g *Gate) EvaluateRequirement(req domain.FutureRequirement) Decision {
	metrics.RecommendationsTotal.WithLabelValues(ReasonPrediction).Inc()
	r := domain.Recommendation{
		ID:          g.newID(),
		Key:         "prediction/" + string(req.Type) + "/" + req.ID,
		Type:        string(req.Type),
		Title:       req.RecommendedAction,
		Description: req.Description,
		Priority:    req.Priority,
		Confidence:  req.Confidence,
		Timeframe:   req.Timeframe,
		Source:      "learner",
		CreatedAt:   g.now(),
	}
	return Decision{Recommendation: &r, Reason: ReasonPrediction}
}

// recommend builds the recommendation for an issue that will not run.
func (g *Gate) recommend(is domain.Issue, reason string, approval bool) Decision {
	metrics.RecommendationsTotal.WithLabelValues(reason).Inc()
	title := is.SuggestedAction
	if title == "" {
		title = fmt.Sprintf("%s issue on %s", is.Type, is.Table)
	}
	r := domain.Recommendation{
		ID:               g.newID(),
		Key:              RecommendationKey(is),
		Type:             string(is.Type),
		Title:            title,
		Description:      is.Description,
		Priority:         is.Severity.Priority(),
		Confidence:       is.Severity.Weight(),
		Timeframe:        timeframe(is.Severity),
		RequiresApproval: approval,
		Source:           "gate:" + reason,
		CreatedAt:        g.now(),
	}
	logging.Debug("[gate] issue %s deferred (%s)", is.ID, reason)
	return Decision{Recommendation: &r, Reason: reason}
}

// RecommendationKey identifies the same finding across cycles.
func RecommendationKey(is domain.Issue) string {
	return is.Signature + "|" + is.Table + "|" + is.Description
}

func timeframe(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical:
		return "immediately"
	case domain.SeverityHigh:
		return "24 hours"
	case domain.SeverityMedium:
		return "7 days"
	default:
		return "30 days"
	}
}
