package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Controller lifecycle errors
	ErrAlreadyRunning = errors.New("controller is already running")
	ErrNotRunning     = errors.New("controller is not running")
	ErrEmergencyMode  = errors.New("emergency mode active, operator must restart the controller")
	ErrStopping       = errors.New("controller is stopping")
	ErrUnknownCycle   = errors.New("unknown cycle")
	ErrUnknownReport  = errors.New("unknown report")

	// Safety gate errors
	ErrFixBudgetExhausted = errors.New("automatic fix budget exhausted")
	ErrApprovalRequired   = errors.New("operation requires human approval")
	ErrNoFixBound         = errors.New("issue has no bound fix action")
	ErrFixNotSupported    = errors.New("fix kind not supported by target")
	ErrExecutionBlocked   = errors.New("automatic execution blocked by circuit breaker")
	ErrNotQuarantined     = errors.New("table is not quarantined")

	// Decision log errors
	ErrDecisionNotFound = errors.New("decision not found")
	ErrOutcomeFinal     = errors.New("decision outcome already recorded")

	// Persistence errors
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidDocument  = errors.New("invalid persisted document")

	// Target database errors
	ErrUnknownDialect = errors.New("unknown database dialect")
	ErrNoStatistics   = errors.New("query statistics not available")
)
