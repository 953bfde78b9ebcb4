package controller

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sitebook/autodb/internal/domain"
	"github.com/sitebook/autodb/internal/infra/healing"
	"github.com/sitebook/autodb/internal/infra/metrics"
	"github.com/sitebook/autodb/internal/infra/selfheal"
	"github.com/sitebook/autodb/internal/learner"
	"github.com/sitebook/autodb/internal/logging"
)

// ─── Monitoring ─────────────────────────────────────────────────────────────

// monitoringCycle collects a snapshot, routes every issue through the gate
// and recomputes system health.
func (c *Controller) monitoringCycle(ctx context.Context) error {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	snap = c.owner.appendSnapshot(snap)
	logging.Info("[controller] snapshot %s: score %.0f (%s), %d issue(s)",
		snap.ID, snap.PerformanceScore, snap.HealthStatus, len(snap.Issues))
	for _, a := range c.anomalies.Analyze(snap) {
		logging.Warn("[controller] anomaly %s: %s", a.Severity, a.Description)
	}

	if len(snap.Issues) > 0 {
		c.owner.transition(domain.StatusOptimizing, domain.StatusRunning)
		err = c.dispatch(ctx, snap.Issues)
		c.owner.transition(domain.StatusRunning, domain.StatusOptimizing)
		if err != nil {
			return err
		}
	}

	c.updateHealth(ctx, snap.PerformanceScore)
	return c.flush(ctx)
}

// dispatch hands each issue to the gate exactly once. A stop request is
// honored between issues, never during one. Failed fixes hold their budget
// slot until the pass ends.
func (c *Controller) dispatch(ctx context.Context, issues []domain.Issue) error {
	defer c.owner.resetAttempts()
	for i, is := range issues {
		if c.owner.isStopping() {
			logging.Info("[controller] stop requested, %d issue(s) left for the next run", len(issues)-i)
			return nil
		}
		d, err := c.gate.Evaluate(ctx, is)
		if err != nil {
			return fmt.Errorf("issue %s: %w", is.ID, err)
		}
		if d.Recommendation != nil {
			c.owner.upsertRecommendation(*d.Recommendation)
		}
	}
	return nil
}

// updateHealth combines the latest score with the health checks.
func (c *Controller) updateHealth(ctx context.Context, score float64) {
	failing := 0
	if c.checker != nil {
		c.checker.RunAll(ctx)
		failing = c.checker.Failing()
	}
	h := SystemHealth(score, failing)
	c.owner.update(func(s *domain.SystemState) { s.SystemHealth = h })
	metrics.SystemHealth.Set(h)
}

// SystemHealth is score minus HealthPenalty per failing check, floored at 0.
func SystemHealth(score float64, failingChecks int) float64 {
	return math.Max(0, math.Min(100, score-float64(HealthPenalty*failingChecks)))
}

// ─── Learning ───────────────────────────────────────────────────────────────

// learningCycle reprocesses the whole history.
func (c *Controller) learningCycle(ctx context.Context) error {
	c.owner.transition(domain.StatusLearning, domain.StatusRunning)
	defer c.owner.transition(domain.StatusRunning, domain.StatusLearning)

	history := c.owner.history()
	res := learner.Learn(history)
	prev := c.owner.status().LearningProgress
	c.owner.setLearned(res.Patterns, res.Requirements, learner.Progress(prev, len(history)))

	for _, r := range res.Requirements {
		metrics.Predictions.WithLabelValues(string(r.Type)).Inc()
	}
	logging.Info("[controller] learned %d pattern(s), %d requirement(s) from %d snapshot(s)",
		len(res.Patterns), len(res.Requirements), len(history))
	return c.flush(ctx)
}

// ─── Maintenance ────────────────────────────────────────────────────────────

// maintenanceCycle turns predicted requirements into recommendations and
// publishes the safety state.
func (c *Controller) maintenanceCycle(ctx context.Context) error {
	c.owner.transition(domain.StatusOptimizing, domain.StatusRunning)
	defer c.owner.transition(domain.StatusRunning, domain.StatusOptimizing)

	patterns, _ := c.owner.learned()
	reqs := learner.Predict(c.owner.history(), patterns)
	for _, r := range reqs {
		if c.owner.isStopping() {
			break
		}
		d := c.gate.EvaluateRequirement(r)
		c.owner.upsertRecommendation(*d.Recommendation)
	}

	st := c.owner.status()
	remaining := c.gate.Policy().MaxAutomaticChanges - st.AutomaticFixes
	metrics.FixBudgetRemaining.Set(math.Max(0, float64(remaining)))
	cb := c.gate.Breaker().Snapshot()
	metrics.CircuitState.Set(float64(cb.State))
	for _, q := range c.gate.Quarantine().ActiveAll() {
		logging.Warn("[controller] table %s quarantined (%s) until %s", q.Table, q.Reason, q.ExpiresAt.Format("2006-01-02 15:04"))
	}
	if cb.State == healing.CBOpen {
		logging.Warn("[controller] automatic fixes paused: %s breaker open since %s", cb.Name, cb.TrippedAt.Format("15:04:05"))
	}

	logging.Info("[controller] maintenance: %d requirement(s), %d recommendation(s) pending",
		len(reqs), len(st.Recommendations))
	return c.flush(ctx)
}

// ─── Healing ────────────────────────────────────────────────────────────────

// heal opens an incident for a failed cycle and runs its runbook. A
// resolved incident returns the controller to running; an escalated one
// enters emergency mode and halts the scheduler. Emergency mode entered by
// another cycle is never undone here.
func (c *Controller) heal(ctx context.Context, name string, ft selfheal.FailureType, cause error, retry func(context.Context) error) error {
	if err := c.owner.beginHealing(name); err != nil {
		logging.Warn("[controller] %s failed, not healing: %v", name, err)
		return fmt.Errorf("%s: %w: %v", name, err, cause)
	}

	inc, _ := c.incidents.Detect(name, ft, cause)
	logging.Warn("[controller] incident %s opened for %s: %v", inc.ID, name, cause)

	lastErr := cause
	for {
		if c.owner.inEmergency() {
			_ = c.incidents.Escalate(inc.ID, "emergency mode entered by another cycle")
			return fmt.Errorf("%s: %w: %v", name, domain.ErrEmergencyMode, lastErr)
		}
		steps, err := c.incidents.Remediate(inc.ID)
		if err != nil {
			return c.enterEmergency(inc.ID, name, errors.Join(lastErr, err))
		}
		for _, step := range steps {
			switch step {
			case selfheal.ActionProbeHealth:
				if c.checker != nil {
					c.checker.RunAll(ctx)
				}
			case selfheal.ActionRetryCycle:
				lastErr = retry(ctx)
				if lastErr != nil {
					c.owner.update(func(s *domain.SystemState) {
						s.ErrorCount++
						s.ConsecutiveFailures++
					})
				}
			case selfheal.ActionFlushState:
				lastErr = c.flush(ctx)
			}
			_ = c.incidents.RecordActionComplete(inc.ID, step)
		}

		state, err := c.incidents.Verify(inc.ID, lastErr == nil, lastErr)
		if err != nil {
			return c.enterEmergency(inc.ID, name, errors.Join(lastErr, err))
		}
		switch state {
		case selfheal.StateResolved:
			if !c.owner.endHealing() {
				logging.Warn("[controller] incident %s resolved but emergency mode is set, staying in error", inc.ID)
				return fmt.Errorf("%s: %w", name, domain.ErrEmergencyMode)
			}
			logging.Info("[controller] incident %s resolved, %s recovered", inc.ID, name)
			return nil
		case selfheal.StateEscalated:
			return c.enterEmergency(inc.ID, name, lastErr)
		}
	}
}

// enterEmergency is terminal until the next Start.
func (c *Controller) enterEmergency(incidentID, name string, cause error) error {
	c.owner.update(func(s *domain.SystemState) {
		s.Status = domain.StatusError
		s.EmergencyMode = true
		s.NextScheduledAction = nil
		s.LastAction = "emergency stop after " + name
		s.LastActionTime = c.now()
	})
	c.halt()
	logging.Error("[controller] incident %s escalated, emergency mode: %v", incidentID, cause)

	if err := c.flush(context.Background()); err != nil {
		logging.Error("[controller] flush after emergency failed: %v", err)
	}
	return fmt.Errorf("%s: %w: %v", name, domain.ErrEmergencyMode, cause)
}
