package domain

import "fmt"

// SafetyPolicy bounds what the gate may do without a human. It is loaded
// once at startup and never mutated.
type SafetyPolicy struct {
	HumanApprovalRequired []string `json:"human_approval_required" toml:"human_approval_required"`
	MaxAutomaticChanges   int      `json:"max_automatic_changes" toml:"max_automatic_changes"`
	BackupBeforeActions   bool     `json:"backup_before_actions" toml:"backup_before_actions"`
	RollbackOnFailure     bool     `json:"rollback_on_failure" toml:"rollback_on_failure"`
	EmergencyStop         bool     `json:"emergency_stop" toml:"emergency_stop"`
}

// DefaultSafetyPolicy requires approval for every structural or destructive
// change and allows ten automatic fixes.
func DefaultSafetyPolicy() SafetyPolicy {
	return SafetyPolicy{
		HumanApprovalRequired: []string{
			string(OpSchemaChange),
			string(OpDropTable),
			string(OpDropColumn),
			string(OpDropIndex),
			string(OpDataRepair),
			string(IssueSecurity),
		},
		MaxAutomaticChanges: 10,
		BackupBeforeActions: true,
		RollbackOnFailure:   true,
	}
}

// RequiresApproval reports whether the issue type or operation kind is
// listed in HumanApprovalRequired.
func (p SafetyPolicy) RequiresApproval(t IssueType, op OperationKind) bool {
	for _, k := range p.HumanApprovalRequired {
		if k == string(t) || (op != "" && k == string(op)) {
			return true
		}
	}
	return false
}

// Validate rejects policies that name unknown kinds or a negative budget.
func (p SafetyPolicy) Validate() error {
	if p.MaxAutomaticChanges < 0 {
		return fmt.Errorf("policy: max_automatic_changes must be >= 0, got %d", p.MaxAutomaticChanges)
	}
	if p.RollbackOnFailure && !p.BackupBeforeActions {
		return fmt.Errorf("policy: rollback_on_failure requires backup_before_actions")
	}
	for _, k := range p.HumanApprovalRequired {
		if !IssueType(k).Valid() && !OperationKind(k).Valid() {
			return fmt.Errorf("policy: unknown operation kind %q in human_approval_required", k)
		}
	}
	return nil
}
