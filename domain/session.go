package domain

import "time"

// SessionStatus is the execution session state machine (§3 Lifecycles).
//
//	pending -> in_progress|waiting_approval -> ... -> terminal
type SessionStatus string

const (
	SessionPending         SessionStatus = "pending"
	SessionInProgress      SessionStatus = "in_progress"
	SessionWaitingApproval SessionStatus = "waiting_approval"
	SessionPaused          SessionStatus = "paused"
	SessionCompleted       SessionStatus = "completed"
	SessionFailed          SessionStatus = "failed"
	SessionAbandoned       SessionStatus = "abandoned"
	SessionRejected        SessionStatus = "rejected"
	SessionRolledBack      SessionStatus = "rolled_back"
)

// Terminal reports whether a session in this status admits no further
// step mutation (§3 Invariants).
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionAbandoned, SessionRejected, SessionRolledBack:
		return true
	default:
		return false
	}
}

// SandboxProfile caps the blast radius a session's steps may carry.
type SandboxProfile string

const (
	ProfileDevFlex         SandboxProfile = "dev-flex"
	ProfileStagingStandard SandboxProfile = "staging-standard"
	ProfileProdStandard    SandboxProfile = "prod-standard"
	ProfileProdCritical    SandboxProfile = "prod-critical"
	ProfileDefault         SandboxProfile = "default"
)

// profileRank orders sandbox profiles from least to most permissive, used
// by the Session Builder to pick the maximum rank across all steps and by
// sandbox validation to bound a step's blast radius (§4.7).
var profileRank = map[SandboxProfile]int{
	ProfileDevFlex:         0,
	ProfileDefault:         0,
	ProfileStagingStandard: 1,
	ProfileProdStandard:    2,
	ProfileProdCritical:    3,
}

// Rank returns the profile's permissiveness rank; unknown profiles rank
// as dev-flex (the least permissive).
func (p SandboxProfile) Rank() int {
	if r, ok := profileRank[p]; ok {
		return r
	}
	return 0
}

// MaxBlastRadiusRank is the highest BlastRadius.Rank() a step may declare
// under this profile without failing sandbox validation.
func (p SandboxProfile) MaxBlastRadiusRank() int {
	return p.Rank()
}

// BlastRadius is an authoring hint for a step's potential damage.
type BlastRadius string

const (
	BlastLow    BlastRadius = "low"
	BlastMedium BlastRadius = "medium"
	BlastHigh   BlastRadius = "high"
)

var blastRadiusRank = map[BlastRadius]int{
	BlastLow:    0,
	BlastMedium: 1,
	BlastHigh:   2,
}

// Rank returns the blast radius's severity rank, comparable against a
// SandboxProfile's MaxBlastRadiusRank.
func (b BlastRadius) Rank() int { return blastRadiusRank[b] }

// ExecutionSession is one execution attempt of one runbook.
type ExecutionSession struct {
	ID                    int64          `db:"id" json:"id"`
	Tenant                string         `db:"tenant_id" json:"tenant_id"`
	RunbookID             string         `db:"runbook_id" json:"runbook_id"`
	TicketID              *string        `db:"ticket_id" json:"ticket_id,omitempty"`
	UserID                *string        `db:"user_id" json:"user_id,omitempty"`
	IssueDescription      string         `db:"issue_description" json:"issue_description"`
	Status                SessionStatus  `db:"status" json:"status"`
	CurrentStep           int            `db:"current_step" json:"current_step"`
	TotalSteps            int            `db:"total_steps" json:"total_steps"`
	WaitingForApproval     bool          `db:"waiting_for_approval" json:"waiting_for_approval"`
	ApprovalStepNumber    *int           `db:"approval_step_number" json:"approval_step_number,omitempty"`
	TransportChannel      string         `db:"transport_channel" json:"transport_channel"`
	SandboxProfile        SandboxProfile `db:"sandbox_profile" json:"sandbox_profile"`
	AssignmentRetryCount  int            `db:"assignment_retry_count" json:"assignment_retry_count"`
	LastEventSeq          int64          `db:"last_event_seq" json:"last_event_seq"`
	// PausedFromStatus remembers the status a pause() suspended, so
	// resume() can restore it rather than guessing in_progress (§4.14
	// control_execution_session "resume": "restore prior status").
	PausedFromStatus      string         `db:"paused_from_status" json:"paused_from_status,omitempty"`
	StartedAt             *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt           *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt              time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time     `db:"updated_at" json:"updated_at"`
	TotalDurationMinutes  *int64         `db:"total_duration_minutes" json:"total_duration_minutes,omitempty"`
}

// SessionFeedback is attached on completion (§4.14 complete_execution_session).
type SessionFeedback struct {
	SessionID      int64    `db:"session_id" json:"session_id"`
	WasSuccessful  bool     `db:"was_successful" json:"was_successful"`
	IssueResolved  bool     `db:"issue_resolved" json:"issue_resolved"`
	Rating         int      `db:"rating" json:"rating"`
	Feedback       string   `db:"feedback" json:"feedback,omitempty"`
	Suggestions    []string `db:"-" json:"suggestions,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// IsTerminal is a convenience wrapper over Status.Terminal().
func (s *ExecutionSession) IsTerminal() bool { return s.Status.Terminal() }

// DurationMinutes computes total_duration_minutes = floor((completed -
// started) / 60s), per §4.8 step 6.
func DurationMinutes(started, completed time.Time) int64 {
	if completed.Before(started) {
		return 0
	}
	return int64(completed.Sub(started) / time.Minute)
}
