package controller

import (
	"fmt"
	"sync"
	"time"

	"github.com/sitebook/autodb/internal/domain"
	"github.com/sitebook/autodb/internal/infra/metrics"
)

// stateOwner holds every piece of shared controller state behind one
// mutex. The lock is never held across I/O: writers mutate memory and
// flushes copy a snapshot before touching the store.
type stateOwner struct {
	mu sync.Mutex

	state     domain.SystemState
	decisions []domain.AIDecision
	snapshots []domain.MetricsSnapshot
	patterns  []domain.SchemaPattern
	// requirements from the latest learning pass, attached to new snapshots
	requirements []domain.FutureRequirement

	inflight int
	// failed fixes of the current monitoring pass, still holding budget
	failed   int
	stopping bool
	cycles   int
	drained  chan struct{}

	now func() time.Time
}

func newStateOwner(now func() time.Time) *stateOwner {
	return &stateOwner{
		state: domain.DefaultSystemState(),
		now:   now,
	}
}

// ─── gate.Ledger ────────────────────────────────────────────────────────────

// ReserveFix takes a budget slot.
func (o *stateOwner) ReserveFix(limit int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.AutomaticFixes+o.inflight+o.failed >= limit {
		metrics.FixBudgetRemaining.Set(0)
		return fmt.Errorf("%w (%d of %d used, %d failed this pass)", domain.ErrFixBudgetExhausted, o.state.AutomaticFixes, limit, o.failed)
	}
	o.inflight++
	return nil
}

// CommitFix converts a reserved slot into an automatic fix.
func (o *stateOwner) CommitFix() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight--
	o.state.AutomaticFixes++
}

// FailFix holds a reserved slot for a fix that ran and failed.
func (o *stateOwner) FailFix() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight--
	o.failed++
}

// resetAttempts frees the slots held by failed fixes.
func (o *stateOwner) resetAttempts() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = 0
}

// ReleaseFix returns a reserved slot unused.
func (o *stateOwner) ReleaseFix() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight--
}

// AppendDecision appends to the decision log.
func (o *stateOwner) AppendDecision(d domain.AIDecision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, d)
	o.state.AIDecisions = len(o.decisions)
	o.state.LastAction = d.Decision
	o.state.LastActionTime = d.Timestamp
	return nil
}

// SetOutcome finalizes a pending decision exactly once.
func (o *stateOwner) SetOutcome(id string, outcome domain.Outcome, impact string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.decisions) - 1; i >= 0; i-- {
		d := &o.decisions[i]
		if d.ID != id {
			continue
		}
		if d.Outcome != domain.OutcomePending {
			return fmt.Errorf("decision %s: %w", id, domain.ErrOutcomeFinal)
		}
		d.Outcome = outcome
		d.Impact = impact
		if outcome == domain.OutcomeFailure {
			o.state.ErrorCount++
		}
		return nil
	}
	return fmt.Errorf("decision %s: %w", id, domain.ErrDecisionNotFound)
}

// ─── Mutations ──────────────────────────────────────────────────────────────

func (o *stateOwner) update(fn func(s *domain.SystemState)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.state)
	o.publishLocked()
}

func (o *stateOwner) publishLocked() {
	metrics.ControllerStatus.Reset()
	metrics.ControllerStatus.WithLabelValues(string(o.state.Status)).Set(1)
	if o.state.EmergencyMode {
		metrics.EmergencyMode.Set(1)
	} else {
		metrics.EmergencyMode.Set(0)
	}
}

// beginHealing records a failed cycle and moves to healing. It refuses,
// leaving the state untouched, once emergency mode is set or a stop is
// draining.
func (o *stateOwner) beginHealing(name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.state.EmergencyMode:
		return domain.ErrEmergencyMode
	case o.stopping:
		return domain.ErrStopping
	}
	o.state.ErrorCount++
	o.state.ConsecutiveFailures++
	o.state.Status = domain.StatusHealing
	o.state.LastAction = "healing " + name
	o.state.LastActionTime = o.now()
	o.publishLocked()
	return nil
}

// endHealing returns to running after a resolved incident unless another
// cycle entered emergency mode meanwhile.
func (o *stateOwner) endHealing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.EmergencyMode {
		return false
	}
	o.state.Status = domain.StatusRunning
	o.state.ConsecutiveFailures = 0
	o.publishLocked()
	return true
}

func (o *stateOwner) inEmergency() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.EmergencyMode
}

// transition moves from one of from to to. It reports whether it happened.
func (o *stateOwner) transition(to domain.Status, from ...domain.Status) bool {
	moved := false
	o.update(func(s *domain.SystemState) {
		for _, f := range from {
			if s.Status == f {
				s.Status = to
				moved = true
				return
			}
		}
	})
	return moved
}

func (o *stateOwner) appendSnapshot(snap domain.MetricsSnapshot) domain.MetricsSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.requirements {
		snap.Predictions = append(snap.Predictions, r.Prediction())
	}
	o.snapshots = append(o.snapshots, snap)
	return snap
}

// upsertRecommendation replaces the recommendation with the same key.
func (o *stateOwner) upsertRecommendation(r domain.Recommendation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.state.Recommendations {
		if o.state.Recommendations[i].Key == r.Key {
			r.ID = o.state.Recommendations[i].ID
			o.state.Recommendations[i] = r
			return
		}
	}
	o.state.Recommendations = append(o.state.Recommendations, r)
}

func (o *stateOwner) setLearned(patterns []domain.SchemaPattern, reqs []domain.FutureRequirement, progress float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.patterns = patterns
	o.requirements = reqs
	if progress > o.state.LearningProgress {
		o.state.LearningProgress = progress
	}
	metrics.LearningProgress.Set(o.state.LearningProgress)
	metrics.PatternsKnown.Set(float64(len(patterns)))
}

// enterCycle registers an in-flight cycle unless a stop is draining.
func (o *stateOwner) enterCycle() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopping {
		return domain.ErrStopping
	}
	o.cycles++
	return nil
}

func (o *stateOwner) exitCycle() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cycles--
	if o.cycles == 0 && o.drained != nil {
		close(o.drained)
		o.drained = nil
	}
}

// beginStop refuses new cycles and returns a channel closed once every
// in-flight cycle has exited.
func (o *stateOwner) beginStop() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopping = true
	if o.drained != nil {
		return o.drained
	}
	ch := make(chan struct{})
	if o.cycles == 0 {
		close(ch)
		return ch
	}
	o.drained = ch
	return ch
}

func (o *stateOwner) endStop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopping = false
}

func (o *stateOwner) isStopping() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopping
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// status returns a deep copy with uptime derived from startedAt.
func (o *stateOwner) status() domain.SystemState {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.state.Clone()
	if s.Status.Active() && !s.StartedAt.IsZero() {
		s.Uptime = o.now().Sub(s.StartedAt)
	}
	return s
}

func (o *stateOwner) history() []domain.MetricsSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.MetricsSnapshot(nil), o.snapshots...)
}

func (o *stateOwner) latestSnapshot() (domain.MetricsSnapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.snapshots) == 0 {
		return domain.MetricsSnapshot{}, false
	}
	return o.snapshots[len(o.snapshots)-1], true
}

func (o *stateOwner) decisionLog() []domain.AIDecision {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.AIDecision(nil), o.decisions...)
}

func (o *stateOwner) learned() ([]domain.SchemaPattern, []domain.FutureRequirement) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.SchemaPattern(nil), o.patterns...),
		append([]domain.FutureRequirement(nil), o.requirements...)
}

// documents copies the four persisted documents under the lock.
func (o *stateOwner) documents() documents {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.state.Clone()
	if st.Status.Active() && !st.StartedAt.IsZero() {
		st.Uptime = o.now().Sub(st.StartedAt)
	}
	return documents{
		State:     st,
		Decisions: append([]domain.AIDecision{}, o.decisions...),
		Metrics:   append([]domain.MetricsSnapshot{}, o.snapshots...),
		Patterns:  append([]domain.SchemaPattern{}, o.patterns...),
	}
}

// restore installs documents loaded at startup.
func (o *stateOwner) restore(d documents) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = domain.MergeSystemState(d.State)
	o.decisions = d.Decisions
	o.snapshots = d.Metrics
	o.patterns = d.Patterns
	o.state.AIDecisions = len(o.decisions)
}
