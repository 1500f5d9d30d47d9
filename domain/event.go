package domain

import "time"

// EventType enumerates the envelope kinds published on the stream bus and
// mirrored into the execution_events table (§4.11).
type EventType string

const (
	EventSessionCreated    EventType = "session.created"
	EventCommandRequested  EventType = "session.command.requested"
	EventCommandStarted    EventType = "session.command.started"
	EventCommandOutput     EventType = "session.command.output"
	EventCommandCompleted  EventType = "session.command.completed"
	EventStepCompleted     EventType = "session.step.completed"
	EventStateTransition   EventType = "session.state.transition"
	EventWaitingApproval   EventType = "session.waiting_approval"
	EventApproved          EventType = "session.approved"
	EventRejected          EventType = "session.rejected"
	EventRollbackStarted   EventType = "session.rollback.started"
	EventRollbackCompleted EventType = "session.rollback.completed"
	EventSessionCompleted  EventType = "session.completed"
	EventSessionFailed     EventType = "session.failed"
)

// ExecutionEvent is the durable record of one envelope published through
// the stream bus; Seq is the per-session monotonic sequence number used
// to detect gaps on replay.
type ExecutionEvent struct {
	ID        int64                  `db:"id" json:"id"`
	SessionID int64                  `db:"session_id" json:"session_id"`
	Seq       int64                  `db:"seq" json:"seq"`
	Type      EventType              `db:"type" json:"type"`
	StepNumber *int                  `db:"step_number" json:"step_number,omitempty"`
	Payload   map[string]interface{} `db:"-" json:"payload,omitempty"`
	StreamID  string                 `db:"stream_id" json:"stream_id,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}

// Envelope is the wire shape published on the stream bus, distinct from
// the persisted ExecutionEvent row (no DB-assigned ID yet at publish time).
type Envelope struct {
	SessionID  int64                  `json:"session_id"`
	Seq        int64                  `json:"seq"`
	Type       EventType              `json:"type"`
	StepNumber *int                   `json:"step_number,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Tenant     string                 `json:"tenant_id"`
	APIVersion string                 `json:"api_version"`
	Timestamp  time.Time              `json:"timestamp"`
}
