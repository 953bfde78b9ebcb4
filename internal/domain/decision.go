package domain

import (
	"fmt"
	"time"
)

// ─── AI Decisions ───────────────────────────────────────────────────────────

// Outcome is the result of an executed decision.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePending, OutcomeSuccess, OutcomeFailure, OutcomePartial:
		return true
	}
	return false
}

// AIDecision is one entry of the append-only decision log. Outcome is the
// only field that changes after append, and only once.
type AIDecision struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Context        string    `json:"context"`
	Decision       string    `json:"decision"`
	Reasoning      string    `json:"reasoning"`
	Confidence     float64   `json:"confidence"`
	Outcome        Outcome   `json:"outcome"`
	Impact         string    `json:"impact"`
	LearningValue  float64   `json:"learning_value"`
	IssueID        string    `json:"issue_id,omitempty"`
	BackupMarkerID string    `json:"backup_marker_id,omitempty"`
}

// Validate checks a persisted decision.
func (d AIDecision) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("decision: missing id")
	}
	if d.Timestamp.IsZero() {
		return fmt.Errorf("decision %s: missing timestamp", d.ID)
	}
	if !d.Outcome.Valid() {
		return fmt.Errorf("decision %s: unknown outcome %q", d.ID, d.Outcome)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("decision %s: confidence %.2f out of range", d.ID, d.Confidence)
	}
	return nil
}

// ─── Predictions & Recommendations ──────────────────────────────────────────

// RequirementType classifies a predicted need.
type RequirementType string

const (
	RequirementGrowth      RequirementType = "growth"
	RequirementPerformance RequirementType = "performance"
	RequirementSchema      RequirementType = "schema"
)

// Prediction is the short form attached to a metrics snapshot.
type Prediction struct {
	Type        RequirementType `json:"type"`
	Description string          `json:"description"`
	Confidence  float64         `json:"confidence"`
	Timeframe   string          `json:"timeframe"`
}

// Validate checks a prediction.
func (p Prediction) Validate() error {
	if p.Type == "" {
		return fmt.Errorf("prediction: missing type")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("prediction %s: confidence %.2f out of range", p.Type, p.Confidence)
	}
	return nil
}

// FutureRequirement is a predicted schema or maintenance need.
type FutureRequirement struct {
	ID                string          `json:"id"`
	Type              RequirementType `json:"type"`
	Description       string          `json:"description"`
	Confidence        float64         `json:"confidence"`
	Timeframe         string          `json:"timeframe"`
	RecommendedAction string          `json:"recommended_action"`
	Priority          int             `json:"priority"`
}

// Prediction converts the requirement into its snapshot form.
func (r FutureRequirement) Prediction() Prediction {
	return Prediction{
		Type:        r.Type,
		Description: r.Description,
		Confidence:  r.Confidence,
		Timeframe:   r.Timeframe,
	}
}

// Recommendation is a deferred action awaiting a human, or a prediction
// surfaced for planning.
type Recommendation struct {
	ID               string    `json:"id"`
	Key              string    `json:"key"`
	Type             string    `json:"type"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Priority         int       `json:"priority"`
	Confidence       float64   `json:"confidence"`
	Timeframe        string    `json:"timeframe"`
	RequiresApproval bool      `json:"requires_approval"`
	Source           string    `json:"source"`
	CreatedAt        time.Time `json:"created_at"`
}

// Validate checks a recommendation.
func (r Recommendation) Validate() error {
	if r.ID == "" || r.Key == "" {
		return fmt.Errorf("recommendation: missing id or key")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("recommendation %s: confidence %.2f out of range", r.ID, r.Confidence)
	}
	return nil
}

// ─── Schema Patterns ────────────────────────────────────────────────────────

// MaxPatternConfidence caps reinforcement.
const MaxPatternConfidence = 0.95

// SchemaPattern is a recurring structural change tracked by the learner.
type SchemaPattern struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Frequency   int       `json:"frequency"`
	LastUsed    time.Time `json:"last_used"`
	Confidence  float64   `json:"confidence"`
	Adaptations int       `json:"adaptations"`
}

// Validate checks a persisted pattern.
func (p SchemaPattern) Validate() error {
	if p.ID == "" || p.Name == "" {
		return fmt.Errorf("pattern: missing id or name")
	}
	if p.Frequency < 1 {
		return fmt.Errorf("pattern %s: frequency %d", p.Name, p.Frequency)
	}
	if p.Confidence < 0 || p.Confidence > MaxPatternConfidence+1e-9 {
		return fmt.Errorf("pattern %s: confidence %.2f out of range", p.Name, p.Confidence)
	}
	return nil
}
