// Package selfheal tracks controller incidents through their lifecycle:
//
//	DETECTED → REMEDIATING → VERIFYING → RESOLVED | ESCALATED
//
// An incident is opened when a cycle fails. Its runbook lists the steps
// the controller executes (probe health checks, retry the cycle) before
// reporting the verification result. An incident that cannot be verified
// after MaxRemediationAttempts is escalated and the controller enters
// emergency mode.
package selfheal

import (
	"fmt"
	"sync"
	"time"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the incident tracker.
type Config struct {
	// MaxRemediationAttempts is how many runbook passes an incident gets
	// before it is escalated.
	MaxRemediationAttempts int

	// HistorySize caps retained resolved/escalated incidents.
	HistorySize int

	// Now is an injectable clock for testing.
	Now func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRemediationAttempts: 1,
		HistorySize:            200,
		Now:                    time.Now,
	}
}

// ─── Incident State Machine ────────────────────────────────────────────────

// IncidentState tracks the lifecycle of an incident.
type IncidentState int

const (
	StateDetected IncidentState = iota
	StateRemediating
	StateVerifying
	StateResolved
	StateEscalated
)

// String returns a human-readable state label.
func (s IncidentState) String() string {
	switch s {
	case StateDetected:
		return "DETECTED"
	case StateRemediating:
		return "REMEDIATING"
	case StateVerifying:
		return "VERIFYING"
	case StateResolved:
		return "RESOLVED"
	case StateEscalated:
		return "ESCALATED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state label in JSON reports.
func (s IncidentState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ─── Failure Type & Runbooks ────────────────────────────────────────────────

// FailureType classifies what went wrong.
type FailureType string

const (
	FailInit        FailureType = "INIT_FAILED"
	FailCycle       FailureType = "CYCLE_FAILED"
	FailStoreWrite  FailureType = "STORE_WRITE_FAILED"
	FailTargetReach FailureType = "TARGET_UNREACHABLE"
)

// Runbook step names.
const (
	ActionProbeHealth = "probe_health"
	ActionRetryCycle  = "retry_cycle"
	ActionFlushState  = "flush_state"
)

// Runbook is the ordered list of steps for a failure type.
type Runbook struct {
	FailureType FailureType
	Actions     []string
}

// DefaultRunbooks returns the built-in runbook library.
func DefaultRunbooks() map[FailureType]Runbook {
	return map[FailureType]Runbook{
		FailInit:        {FailureType: FailInit, Actions: []string{ActionProbeHealth, ActionRetryCycle}},
		FailCycle:       {FailureType: FailCycle, Actions: []string{ActionProbeHealth, ActionRetryCycle}},
		FailStoreWrite:  {FailureType: FailStoreWrite, Actions: []string{ActionProbeHealth, ActionFlushState}},
		FailTargetReach: {FailureType: FailTargetReach, Actions: []string{ActionProbeHealth, ActionRetryCycle}},
	}
}

// ─── Incident ───────────────────────────────────────────────────────────────

// Incident is one detected failure and its remediation record.
type Incident struct {
	ID              string        `json:"id"`
	Cycle           string        `json:"cycle"`
	FailureType     FailureType   `json:"failure_type"`
	State           IncidentState `json:"state"`
	Cause           string        `json:"cause"`
	DetectedAt      time.Time     `json:"detected_at"`
	ResolvedAt      time.Time     `json:"resolved_at,omitempty"`
	Attempts        int           `json:"attempts"`
	ActionsComplete []string      `json:"actions_complete,omitempty"`
	Error           string        `json:"error,omitempty"`
	MTTR            time.Duration `json:"mttr"`
}

func (inc *Incident) clone() Incident {
	out := *inc
	out.ActionsComplete = append([]string(nil), inc.ActionsComplete...)
	return out
}

// ─── Tracker ────────────────────────────────────────────────────────────────

// Tracker owns all incidents. Thread-safe.
type Tracker struct {
	mu       sync.Mutex
	cfg      Config
	runbooks map[FailureType]Runbook
	idSeq    int64

	active  map[string]*Incident
	byCycle map[string]string // cycle → active incident ID
	history []Incident

	totalMTTR    time.Duration
	resolvedCnt  int64
	escalatedCnt int64
}

// NewTracker creates an incident tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.MaxRemediationAttempts <= 0 {
		cfg.MaxRemediationAttempts = 1
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		cfg:      cfg,
		runbooks: DefaultRunbooks(),
		active:   make(map[string]*Incident),
		byCycle:  make(map[string]string),
	}
}

// Detect opens an incident for a failed cycle. A cycle with an active
// incident returns the existing one and false.
func (t *Tracker) Detect(cycle string, ft FailureType, cause error) (Incident, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byCycle[cycle]; ok {
		if inc, found := t.active[id]; found {
			return inc.clone(), false
		}
	}

	t.idSeq++
	inc := &Incident{
		ID:          fmt.Sprintf("INC-%06d", t.idSeq),
		Cycle:       cycle,
		FailureType: ft,
		State:       StateDetected,
		DetectedAt:  t.cfg.Now(),
	}
	if cause != nil {
		inc.Cause = cause.Error()
	}
	t.active[inc.ID] = inc
	t.byCycle[cycle] = inc.ID
	return inc.clone(), true
}

// Remediate moves an incident to REMEDIATING and returns its runbook steps.
// A failure type without a runbook is escalated immediately.
func (t *Tracker) Remediate(id string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	inc, ok := t.active[id]
	if !ok {
		return nil, fmt.Errorf("incident %s not found", id)
	}
	if inc.State != StateDetected {
		return nil, fmt.Errorf("incident %s in state %s, expected DETECTED", id, inc.State)
	}

	rb, exists := t.runbooks[inc.FailureType]
	if !exists {
		t.escalateLocked(inc, "no runbook for failure type: "+string(inc.FailureType))
		return nil, fmt.Errorf("no runbook for %s, escalated", inc.FailureType)
	}

	inc.State = StateRemediating
	inc.Attempts++
	return append([]string(nil), rb.Actions...), nil
}

// RecordActionComplete records a finished runbook step.
func (t *Tracker) RecordActionComplete(id, action string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	inc, ok := t.active[id]
	if !ok {
		return fmt.Errorf("incident %s not found", id)
	}
	inc.ActionsComplete = append(inc.ActionsComplete, action)
	return nil
}

// Verify reports the remediation result. A healthy result resolves the
// incident; otherwise it is retried or, once attempts are exhausted,
// escalated. The returned state is the incident's new state.
func (t *Tracker) Verify(id string, healthy bool, cause error) (IncidentState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	inc, ok := t.active[id]
	if !ok {
		return StateEscalated, fmt.Errorf("incident %s not found", id)
	}
	if inc.State != StateRemediating {
		return inc.State, fmt.Errorf("incident %s in state %s, expected REMEDIATING", id, inc.State)
	}

	now := t.cfg.Now()
	inc.State = StateVerifying

	if healthy {
		inc.State = StateResolved
		inc.ResolvedAt = now
		inc.MTTR = now.Sub(inc.DetectedAt)
		t.totalMTTR += inc.MTTR
		t.resolvedCnt++
		t.finalizeLocked(inc)
		return StateResolved, nil
	}

	if inc.Attempts >= t.cfg.MaxRemediationAttempts {
		reason := fmt.Sprintf("exhausted %d remediation attempts", inc.Attempts)
		if cause != nil {
			reason += ": " + cause.Error()
		}
		t.escalateLocked(inc, reason)
		return StateEscalated, nil
	}

	inc.State = StateDetected
	return StateDetected, nil
}

// Escalate escalates an active incident regardless of state.
func (t *Tracker) Escalate(id, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	inc, ok := t.active[id]
	if !ok {
		return fmt.Errorf("incident %s not found", id)
	}
	t.escalateLocked(inc, reason)
	return nil
}

func (t *Tracker) escalateLocked(inc *Incident, reason string) {
	now := t.cfg.Now()
	inc.State = StateEscalated
	inc.Error = reason
	inc.ResolvedAt = now
	inc.MTTR = now.Sub(inc.DetectedAt)
	t.escalatedCnt++
	t.finalizeLocked(inc)
}

// finalizeLocked moves an incident from active to history.
// Must be called with t.mu held.
func (t *Tracker) finalizeLocked(inc *Incident) {
	delete(t.active, inc.ID)
	delete(t.byCycle, inc.Cycle)
	t.history = append(t.history, inc.clone())
	if over := len(t.history) - t.cfg.HistorySize; over > 0 {
		t.history = append([]Incident(nil), t.history[over:]...)
	}
}

// ─── Inspection ─────────────────────────────────────────────────────────────

// Active returns copies of all non-terminal incidents.
func (t *Tracker) Active() []Incident {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Incident, 0, len(t.active))
	for _, inc := range t.active {
		out = append(out, inc.clone())
	}
	return out
}

// History returns up to limit finished incidents, newest first.
func (t *Tracker) History(limit int) []Incident {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 || limit > len(t.history) {
		limit = len(t.history)
	}
	out := make([]Incident, 0, limit)
	for i := len(t.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, t.history[i].clone())
	}
	return out
}

// Stats summarizes incident handling.
type Stats struct {
	ActiveIncidents int           `json:"active_incidents"`
	TotalResolved   int64         `json:"total_resolved"`
	TotalEscalated  int64         `json:"total_escalated"`
	AvgMTTR         time.Duration `json:"avg_mttr"`
	ResolutionRate  float64       `json:"resolution_rate"`
}

// Stats returns current incident statistics.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var avg time.Duration
	if t.resolvedCnt > 0 {
		avg = t.totalMTTR / time.Duration(t.resolvedCnt)
	}
	var rate float64
	if total := t.resolvedCnt + t.escalatedCnt; total > 0 {
		rate = float64(t.resolvedCnt) / float64(total) * 100.0
	}
	return Stats{
		ActiveIncidents: len(t.active),
		TotalResolved:   t.resolvedCnt,
		TotalEscalated:  t.escalatedCnt,
		AvgMTTR:         avg,
		ResolutionRate:  rate,
	}
}
