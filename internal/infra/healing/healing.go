// Package healing holds the guards around automatic fix execution.
//
// Circuit Breaker states:
//   - CLOSED    fixes run; consecutive failures beyond threshold → OPEN
//   - OPEN      fixes are deferred to humans; after timeout → HALF_OPEN
//   - HALF_OPEN one probe fix at a time; success → CLOSED, failure → OPEN
//
// Table quarantine:
//   - repeated fix failures on a table → table excluded from automatic fixes
//   - failed rollback → immediate, longer quarantine
//   - repeated quarantines inside the window → extended quarantine
package healing

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Circuit Breaker
// ═══════════════════════════════════════════════════════════════════════════

// CBState represents the circuit breaker state.
type CBState int

const (
	CBClosed   CBState = iota // fixes execute normally
	CBOpen                    // fixes are rejected immediately
	CBHalfOpen                // probing with limited fixes
)

// String returns a human-readable circuit breaker state.
func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "CLOSED"
	case CBOpen:
		return "OPEN"
	case CBHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name in JSON reports.
func (s CBState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // failures to trip (default 3)
	ResetTimeout     time.Duration // time in OPEN before HALF_OPEN (default 15m)
	HalfOpenMax      int           // successful probes to close (default 1)
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     15 * time.Minute,
		HalfOpenMax:      1,
	}
}

// CircuitBreaker implements the circuit breaker pattern.
// Thread-safe for concurrent use.
type CircuitBreaker struct {
	mu          sync.Mutex
	name        string
	config      CircuitBreakerConfig
	state       CBState
	failures    int
	successes   int // successes in HALF_OPEN state
	inflight    int // probes running in HALF_OPEN state
	lastFailure time.Time
	trippedAt   time.Time
	totalTrips  int
	onChange    func(CBState)
	now         func() time.Time // injectable clock for testing
}

// NewCircuitBreaker creates a circuit breaker with the given name and config.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &CircuitBreaker{
		name:   name,
		config: cfg,
		state:  CBClosed,
		now:    time.Now,
	}
}

// OnStateChange registers fn to be called after every transition.
// fn runs with the breaker unlocked.
func (cb *CircuitBreaker) OnStateChange(fn func(CBState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = fn
}

// Allow checks whether a fix may run. In HALF_OPEN only one probe runs at
// a time. Every nil return must be followed by RecordSuccess or
// RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	before := cb.state
	cb.advanceLocked()
	err := cb.allowLocked()
	after, notify := cb.state, cb.onChange
	cb.mu.Unlock()

	if after != before && notify != nil {
		notify(after)
	}
	return err
}

func (cb *CircuitBreaker) allowLocked() error {
	switch cb.state {
	case CBOpen:
		return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
	case CBHalfOpen:
		if cb.inflight > 0 {
			return fmt.Errorf("%s: %w (probe in flight)", cb.name, ErrCircuitOpen)
		}
		cb.inflight++
	}
	return nil
}

// RecordSuccess records a successful fix.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	before := cb.state

	switch cb.state {
	case CBHalfOpen:
		cb.inflight = 0
		cb.successes++
		if cb.successes >= cb.config.HalfOpenMax {
			cb.state = CBClosed
			cb.failures = 0
			cb.successes = 0
		}
	case CBClosed:
		cb.failures = 0
	}

	after, notify := cb.state, cb.onChange
	cb.mu.Unlock()
	if after != before && notify != nil {
		notify(after)
	}
}

// RecordFailure records a failed fix. May trip the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	before := cb.state
	cb.lastFailure = cb.now()

	switch cb.state {
	case CBClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.tripLocked()
		}
	case CBHalfOpen:
		cb.inflight = 0
		cb.tripLocked()
	}

	after, notify := cb.state, cb.onChange
	cb.mu.Unlock()
	if after != before && notify != nil {
		notify(after)
	}
}

func (cb *CircuitBreaker) tripLocked() {
	cb.state = CBOpen
	cb.trippedAt = cb.now()
	cb.totalTrips++
}

// advanceLocked moves OPEN → HALF_OPEN once the reset timeout has elapsed.
func (cb *CircuitBreaker) advanceLocked() {
	if cb.state == CBOpen && cb.now().Sub(cb.trippedAt) >= cb.config.ResetTimeout {
		cb.state = CBHalfOpen
		cb.successes = 0
		cb.inflight = 0
	}
}

// Cancel gives back a permit obtained from Allow without recording an
// outcome, for fixes abandoned before they ran.
func (cb *CircuitBreaker) Cancel() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CBHalfOpen {
		cb.inflight = 0
	}
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advanceLocked()
	return cb.state
}

// Snapshot is a point-in-time view of the circuit breaker.
type Snapshot struct {
	Name        string    `json:"name"`
	State       CBState   `json:"state"`
	Failures    int       `json:"failures"`
	TotalTrips  int       `json:"total_trips"`
	TrippedAt   time.Time `json:"tripped_at,omitempty"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// Snapshot returns the current state snapshot.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advanceLocked()
	return Snapshot{
		Name:        cb.name,
		State:       cb.state,
		Failures:    cb.failures,
		TotalTrips:  cb.totalTrips,
		TrippedAt:   cb.trippedAt,
		LastFailure: cb.lastFailure,
	}
}

// Reset forces the circuit breaker back to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	before := cb.state
	cb.state = CBClosed
	cb.failures = 0
	cb.successes = 0
	cb.inflight = 0
	notify := cb.onChange
	cb.mu.Unlock()

	if before != CBClosed && notify != nil {
		notify(CBClosed)
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ═══════════════════════════════════════════════════════════════════════════
// Table Quarantine
// ═══════════════════════════════════════════════════════════════════════════

// QuarantineReason explains why a table was quarantined.
type QuarantineReason string

const (
	QuarantineFixFailures    QuarantineReason = "fix_failures"    // repeated failed fixes
	QuarantineRollbackFailed QuarantineReason = "rollback_failed" // a revert did not succeed
)

// QuarantineRecord tracks a quarantine period for one table.
type QuarantineRecord struct {
	Table     string           `json:"table"`
	Reason    QuarantineReason `json:"reason"`
	StartedAt time.Time        `json:"started_at"`
	ExpiresAt time.Time        `json:"expires_at"`
	Released  bool             `json:"released"`
}

// IsActive reports whether the quarantine is currently in effect.
func (qr QuarantineRecord) IsActive(now time.Time) bool {
	return !qr.Released && now.Before(qr.ExpiresAt)
}

// QuarantineConfig sets quarantine durations.
type QuarantineConfig struct {
	FailureDuration  time.Duration // after FailureThreshold failed fixes (default 6h)
	RollbackDuration time.Duration // after a failed rollback (default 24h)
	ExtendedDuration time.Duration // after EscalateAfter quarantines in Window (default 7d)
	Window           time.Duration // rolling window for escalation (default 7d)
	EscalateAfter    int           // quarantines that trigger the extended period (default 3)
	FailureThreshold int           // failed fixes that trigger quarantine (default 2)
}

// DefaultQuarantineConfig returns production defaults.
func DefaultQuarantineConfig() QuarantineConfig {
	return QuarantineConfig{
		FailureDuration:  6 * time.Hour,
		RollbackDuration: 24 * time.Hour,
		ExtendedDuration: 7 * 24 * time.Hour,
		Window:           7 * 24 * time.Hour,
		EscalateAfter:    3,
		FailureThreshold: 2,
	}
}

// Quarantine excludes tables with a history of failing fixes from
// automatic execution.
type Quarantine struct {
	mu       sync.Mutex
	config   QuarantineConfig
	records  map[string][]QuarantineRecord // table → history
	failures map[string]int                // table → consecutive failed fixes
	now      func() time.Time
}

// NewQuarantine creates a table quarantine.
func NewQuarantine(cfg QuarantineConfig) *Quarantine {
	return &Quarantine{
		config:   cfg,
		records:  make(map[string][]QuarantineRecord),
		failures: make(map[string]int),
		now:      time.Now,
	}
}

func tableKey(table string) string { return strings.ToLower(table) }

// RecordFailure counts a failed fix on table. Returns the new record when
// the failure triggered a quarantine.
func (q *Quarantine) RecordFailure(table string) *QuarantineRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := tableKey(table)
	q.failures[key]++
	if q.failures[key] >= q.config.FailureThreshold {
		q.failures[key] = 0
		return q.quarantineLocked(table, QuarantineFixFailures)
	}
	return nil
}

// RecordSuccess clears the failure streak for table.
func (q *Quarantine) RecordSuccess(table string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.failures, tableKey(table))
}

// RecordRollbackFailure quarantines table immediately.
func (q *Quarantine) RecordRollbackFailure(table string) *QuarantineRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.quarantineLocked(table, QuarantineRollbackFailed)
}

// IsQuarantined checks if table is currently quarantined.
func (q *Quarantine) IsQuarantined(table string) bool {
	return q.Active(table) != nil
}

// Active returns the active quarantine record for table, if any.
func (q *Quarantine) Active(table string) *QuarantineRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for _, r := range q.records[tableKey(table)] {
		if r.IsActive(now) {
			rec := r
			return &rec
		}
	}
	return nil
}

// ActiveAll lists every active quarantine.
func (q *Quarantine) ActiveAll() []QuarantineRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var out []QuarantineRecord
	for _, recs := range q.records {
		for _, r := range recs {
			if r.IsActive(now) {
				out = append(out, r)
			}
		}
	}
	return out
}

// Release manually lifts the quarantine for table.
func (q *Quarantine) Release(table string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := tableKey(table)
	for i := range q.records[key] {
		q.records[key][i].Released = true
	}
	delete(q.failures, key)
}

func (q *Quarantine) quarantineLocked(table string, reason QuarantineReason) *QuarantineRecord {
	now := q.now()
	key := tableKey(table)

	duration := q.config.FailureDuration
	if reason == QuarantineRollbackFailed {
		duration = q.config.RollbackDuration
	}

	windowStart := now.Add(-q.config.Window)
	recent := 0
	for _, r := range q.records[key] {
		if r.StartedAt.After(windowStart) {
			recent++
		}
	}
	if recent+1 >= q.config.EscalateAfter {
		duration = q.config.ExtendedDuration
	}

	record := QuarantineRecord{
		Table:     table,
		Reason:    reason,
		StartedAt: now,
		ExpiresAt: now.Add(duration),
	}
	q.records[key] = append(q.records[key], record)
	return &record
}
