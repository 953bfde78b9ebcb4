package healing

import (
	"errors"
	"testing"
	"time"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

func newTestCB(t *testing.T) *CircuitBreaker {
	t.Helper()
	return NewCircuitBreaker("fixes", DefaultCircuitBreakerConfig())
}

func newTestCBWithClock(t *testing.T, now func() time.Time) *CircuitBreaker {
	t.Helper()
	cb := NewCircuitBreaker("fixes", CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     1 * time.Second,
		HalfOpenMax:      2,
	})
	cb.now = now
	return cb
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.RecordFailure()
	}
}

// ─── CBState ────────────────────────────────────────────────────────────────

func TestCBState_String(t *testing.T) {
	tests := []struct {
		state CBState
		want  string
	}{
		{CBClosed, "CLOSED"},
		{CBOpen, "OPEN"},
		{CBHalfOpen, "HALF_OPEN"},
		{CBState(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CBState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
		b, _ := tt.state.MarshalText()
		if string(b) != tt.want {
			t.Errorf("CBState(%d).MarshalText() = %q, want %q", tt.state, b, tt.want)
		}
	}
}

// ─── Circuit Breaker State Transitions ──────────────────────────────────────

func TestCircuitBreaker_StartsInClosed(t *testing.T) {
	cb := newTestCB(t)
	if cb.State() != CBClosed {
		t.Errorf("initial state = %s, want CLOSED", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() in CLOSED = %v, want nil", err)
	}
}

func TestCircuitBreaker_TripsToOpen(t *testing.T) {
	clock := time.Now()
	cb := newTestCBWithClock(t, func() time.Time { return clock })

	trip(cb, 2)
	if cb.State() != CBClosed {
		t.Fatalf("state after 2 failures = %s, want CLOSED", cb.State())
	}
	trip(cb, 1)
	if cb.State() != CBOpen {
		t.Fatalf("state after 3 failures = %s, want OPEN", cb.State())
	}

	err := cb.Allow()
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() in OPEN = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	clock := time.Now()
	cb := newTestCBWithClock(t, func() time.Time { return clock })

	trip(cb, 2)
	cb.RecordSuccess()
	trip(cb, 2)
	if cb.State() != CBClosed {
		t.Errorf("non-consecutive failures should not trip, state = %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpen_SingleProbe(t *testing.T) {
	clock := time.Now()
	cb := newTestCBWithClock(t, func() time.Time { return clock })
	trip(cb, 3)

	clock = clock.Add(2 * time.Second)
	if cb.State() != CBHalfOpen {
		t.Fatalf("state after timeout = %s, want HALF_OPEN", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Fatalf("first probe Allow() = %v, want nil", err)
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second concurrent probe Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_HalfOpen_Cancel(t *testing.T) {
	clock := time.Now()
	cb := newTestCBWithClock(t, func() time.Time { return clock })
	trip(cb, 3)
	clock = clock.Add(2 * time.Second)

	if err := cb.Allow(); err != nil {
		t.Fatalf("probe Allow() = %v", err)
	}
	cb.Cancel()
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() after Cancel = %v, want nil", err)
	}
	if cb.State() != CBHalfOpen {
		t.Errorf("state = %s, want HALF_OPEN", cb.State())
	}
}

func TestCircuitBreaker_HalfOpen_SuccessCloses(t *testing.T) {
	clock := time.Now()
	cb := newTestCBWithClock(t, func() time.Time { return clock })
	trip(cb, 3)
	clock = clock.Add(2 * time.Second)

	for i := 0; i < 2; i++ {
		if err := cb.Allow(); err != nil {
			t.Fatalf("probe %d Allow() = %v", i, err)
		}
		cb.RecordSuccess()
	}
	if cb.State() != CBClosed {
		t.Errorf("state after 2 probes = %s, want CLOSED", cb.State())
	}
}

func TestCircuitBreaker_HalfOpen_FailureReopens(t *testing.T) {
	clock := time.Now()
	cb := newTestCBWithClock(t, func() time.Time { return clock })
	trip(cb, 3)
	clock = clock.Add(2 * time.Second)

	if err := cb.Allow(); err != nil {
		t.Fatalf("probe Allow() = %v", err)
	}
	cb.RecordFailure()
	if cb.State() != CBOpen {
		t.Errorf("state after failed probe = %s, want OPEN", cb.State())
	}
	if snap := cb.Snapshot(); snap.TotalTrips != 2 {
		t.Errorf("TotalTrips = %d, want 2", snap.TotalTrips)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := time.Now()
	cb := newTestCBWithClock(t, func() time.Time { return clock })

	var seen []CBState
	cb.OnStateChange(func(s CBState) { seen = append(seen, s) })

	trip(cb, 3)
	clock = clock.Add(2 * time.Second)
	_ = cb.Allow()
	cb.Reset()

	want := []CBState{CBOpen, CBHalfOpen, CBClosed}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestCircuitBreaker_Snapshot(t *testing.T) {
	cb := newTestCB(t)
	cb.RecordFailure()
	snap := cb.Snapshot()
	if snap.Name != "fixes" {
		t.Errorf("Name = %q, want fixes", snap.Name)
	}
	if snap.Failures != 1 {
		t.Errorf("Failures = %d, want 1", snap.Failures)
	}
	if snap.LastFailure.IsZero() {
		t.Error("LastFailure should be set")
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Table Quarantine Tests
// ═══════════════════════════════════════════════════════════════════════════

func newTestQuarantine(t *testing.T, now func() time.Time) *Quarantine {
	t.Helper()
	q := NewQuarantine(QuarantineConfig{
		FailureDuration:  1 * time.Hour,
		RollbackDuration: 24 * time.Hour,
		ExtendedDuration: 7 * 24 * time.Hour,
		Window:           7 * 24 * time.Hour,
		EscalateAfter:    3,
		FailureThreshold: 2,
	})
	q.now = now
	return q
}

func TestQuarantine_NotQuarantinedByDefault(t *testing.T) {
	q := newTestQuarantine(t, time.Now)
	if q.IsQuarantined("expenses") {
		t.Error("table should not be quarantined by default")
	}
}

func TestQuarantine_FailureThresholdTriggers(t *testing.T) {
	clock := time.Now()
	q := newTestQuarantine(t, func() time.Time { return clock })

	if rec := q.RecordFailure("expenses"); rec != nil {
		t.Fatal("1 failure should not quarantine (threshold=2)")
	}
	rec := q.RecordFailure("Expenses")
	if rec == nil {
		t.Fatal("2nd failure should return quarantine record")
	}
	if rec.Reason != QuarantineFixFailures {
		t.Errorf("Reason = %q, want %q", rec.Reason, QuarantineFixFailures)
	}
	if !q.IsQuarantined("expenses") {
		t.Error("table should be quarantined (names are case-insensitive)")
	}
}

func TestQuarantine_SuccessClearsStreak(t *testing.T) {
	q := newTestQuarantine(t, time.Now)
	q.RecordFailure("expenses")
	q.RecordSuccess("expenses")
	if rec := q.RecordFailure("expenses"); rec != nil {
		t.Error("streak should restart after a success")
	}
}

func TestQuarantine_RollbackFailure_Immediate(t *testing.T) {
	clock := time.Now()
	q := newTestQuarantine(t, func() time.Time { return clock })

	rec := q.RecordRollbackFailure("expenses")
	if rec == nil || rec.Reason != QuarantineRollbackFailed {
		t.Fatalf("RecordRollbackFailure() = %+v", rec)
	}
	if want := clock.Add(24 * time.Hour); !rec.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", rec.ExpiresAt, want)
	}
}

func TestQuarantine_Expires(t *testing.T) {
	clock := time.Now()
	q := newTestQuarantine(t, func() time.Time { return clock })
	q.RecordFailure("expenses")
	q.RecordFailure("expenses")

	clock = clock.Add(61 * time.Minute)
	if q.IsQuarantined("expenses") {
		t.Error("quarantine should expire after 1h")
	}
}

func TestQuarantine_Release(t *testing.T) {
	q := newTestQuarantine(t, time.Now)
	q.RecordRollbackFailure("expenses")
	q.Release("expenses")
	if q.IsQuarantined("expenses") {
		t.Error("released table should not be quarantined")
	}
	if len(q.ActiveAll()) != 0 {
		t.Errorf("ActiveAll() = %v, want empty", q.ActiveAll())
	}
}

func TestQuarantine_Escalation(t *testing.T) {
	clock := time.Now()
	q := newTestQuarantine(t, func() time.Time { return clock })

	for i := 0; i < 2; i++ {
		q.RecordRollbackFailure("expenses")
		clock = clock.Add(25 * time.Hour)
	}
	rec := q.RecordRollbackFailure("expenses")
	if want := clock.Add(7 * 24 * time.Hour); !rec.ExpiresAt.Equal(want) {
		t.Errorf("3rd quarantine ExpiresAt = %v, want extended %v", rec.ExpiresAt, want)
	}
}
