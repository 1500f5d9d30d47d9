package domain

import "time"

// StepType is the runbook phase a step belongs to. All prechecks are
// ordered before all mains, which are ordered before all postchecks
// (§4.7).
type StepType string

const (
	StepPrecheck  StepType = "precheck"
	StepMain      StepType = "main"
	StepPostcheck StepType = "postcheck"
)

// ExecutionStep is one node of a runbook's linear step list. Step numbers
// within a session form a contiguous 1..N range (§3 Invariants).
type ExecutionStep struct {
	ID               int64       `db:"id" json:"id"`
	SessionID        int64       `db:"session_id" json:"session_id"`
	StepNumber       int         `db:"step_number" json:"step_number"`
	StepType         StepType    `db:"step_type" json:"step_type"`
	Command          string      `db:"command" json:"command"`
	RollbackCommand  string      `db:"rollback_command" json:"rollback_command,omitempty"`
	Description      string      `db:"description" json:"description,omitempty"`
	RequiresApproval bool        `db:"requires_approval" json:"requires_approval"`
	Severity         string      `db:"severity" json:"severity"`
	BlastRadius      BlastRadius `db:"blast_radius" json:"blast_radius"`

	Completed bool   `db:"completed" json:"completed"`
	Success   *bool  `db:"success" json:"success,omitempty"`
	Output    string `db:"output" json:"output,omitempty"`
	Error     string `db:"error" json:"error,omitempty"`

	CredentialsUsed []string `db:"-" json:"credentials_used,omitempty"`

	Approved   *bool      `db:"approved" json:"approved,omitempty"`
	ApprovedBy *string    `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt *time.Time `db:"approved_at" json:"approved_at,omitempty"`

	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// PendingApproval reports whether this step is the session's single
// outstanding approval gate: requires approval, not yet completed, and
// not yet decided.
func (s *ExecutionStep) PendingApproval() bool {
	return s.RequiresApproval && !s.Completed && s.Approved == nil
}

// Succeeded reports whether this step completed with success=true.
func (s *ExecutionStep) Succeeded() bool {
	return s.Completed && s.Success != nil && *s.Success
}

// MarkCompleted records a terminal outcome, enforcing the invariant that
// completed=true implies completed_at is set and success is non-nil.
func (s *ExecutionStep) MarkCompleted(success bool, output, errMsg string, at time.Time) {
	s.Completed = true
	s.Success = &success
	s.Output = output
	s.Error = errMsg
	s.CompletedAt = &at
}

// StepResult is the outcome handed back by a connector Execute call,
// independent of persistence (§4.4, §4.8).
type StepResult struct {
	Success         bool
	Output          string
	Error           string
	ExitCode        int
	ConnectionError bool
	RetryCount      int
	DurationMS      int64
	Simulated       bool
	FailureKind     string
}
