// Package domain holds the pure types of the autonomous database controller.
// Nothing in this package touches a database, a clock source or the network.
package domain

import (
	"fmt"
	"time"
)

// ─── Controller Status ──────────────────────────────────────────────────────

// Status is the controller state machine position.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusLearning     Status = "learning"
	StatusOptimizing   Status = "optimizing"
	StatusHealing      Status = "healing"
	StatusStopped      Status = "stopped"
	StatusError        Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusInitializing, StatusRunning, StatusLearning, StatusOptimizing,
		StatusHealing, StatusStopped, StatusError:
		return true
	}
	return false
}

// Active reports whether the controller is scheduling cycles in this status.
func (s Status) Active() bool {
	switch s {
	case StatusInitializing, StatusRunning, StatusLearning, StatusOptimizing, StatusHealing:
		return true
	}
	return false
}

// ScheduledAction names the next cycle the scheduler will fire.
type ScheduledAction struct {
	Cycle string    `json:"cycle"`
	At    time.Time `json:"at"`
}

// ─── System State ───────────────────────────────────────────────────────────

// SystemState is the controller-owned singleton. Other components only ever
// see copies returned by Clone.
type SystemState struct {
	Status              Status           `json:"status"`
	StartedAt           time.Time        `json:"started_at"`
	Uptime              time.Duration    `json:"uptime"`
	LastAction          string           `json:"last_action"`
	LastActionTime      time.Time        `json:"last_action_time"`
	AIDecisions         int              `json:"ai_decisions"`
	AutomaticFixes      int              `json:"automatic_fixes"`
	LearningProgress    float64          `json:"learning_progress"`
	SystemHealth        float64          `json:"system_health"`
	Recommendations     []Recommendation `json:"recommendations"`
	NextScheduledAction *ScheduledAction `json:"next_scheduled_action,omitempty"`
	EmergencyMode       bool             `json:"emergency_mode"`
	ErrorCount          int              `json:"error_count"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
}

// DefaultSystemState is the state of a controller that has never run.
func DefaultSystemState() SystemState {
	return SystemState{
		Status:          StatusStopped,
		SystemHealth:    100,
		Recommendations: []Recommendation{},
	}
}

// Clone returns a deep copy safe to hand to readers.
func (s SystemState) Clone() SystemState {
	out := s
	out.Recommendations = make([]Recommendation, len(s.Recommendations))
	copy(out.Recommendations, s.Recommendations)
	if s.NextScheduledAction != nil {
		next := *s.NextScheduledAction
		out.NextScheduledAction = &next
	}
	return out
}

// Validate checks a persisted state document.
func (s SystemState) Validate() error {
	if !s.Status.Valid() {
		return fmt.Errorf("state: unknown status %q", s.Status)
	}
	if s.AutomaticFixes < 0 || s.AIDecisions < 0 || s.ErrorCount < 0 {
		return fmt.Errorf("state: negative counter")
	}
	if s.LearningProgress < 0 || s.LearningProgress > 100 {
		return fmt.Errorf("state: learning_progress %.1f out of range", s.LearningProgress)
	}
	if s.SystemHealth < 0 || s.SystemHealth > 100 {
		return fmt.Errorf("state: system_health %.1f out of range", s.SystemHealth)
	}
	for i, r := range s.Recommendations {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("state: recommendation %d: %w", i, err)
		}
	}
	return nil
}

// MergeSystemState merges a persisted state over the defaults at startup.
// Counters, progress and recommendations survive; the run-scoped fields
// (status, uptime, schedule, emergency flag) restart from the defaults.
func MergeSystemState(persisted SystemState) SystemState {
	s := DefaultSystemState()
	s.LastAction = persisted.LastAction
	s.LastActionTime = persisted.LastActionTime
	s.AutomaticFixes = persisted.AutomaticFixes
	s.LearningProgress = persisted.LearningProgress
	s.SystemHealth = persisted.SystemHealth
	s.ErrorCount = persisted.ErrorCount
	if persisted.Recommendations != nil {
		s.Recommendations = append([]Recommendation(nil), persisted.Recommendations...)
	}
	return s
}
