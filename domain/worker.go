package domain

import "time"

// WorkerState is one worker's last-known heartbeat, kept entirely in
// process memory and evicted once LastSeen exceeds the registry TTL
// (§4.5). capabilities is treated as a set: order carries no meaning.
type WorkerState struct {
	ID             string                 `json:"id"`
	Capabilities   []string               `json:"capabilities"`
	NetworkSegment string                 `json:"network_segment,omitempty"`
	Environment    string                 `json:"environment,omitempty"`
	MaxConcurrency int                    `json:"max_concurrency"`
	CurrentLoad    int                    `json:"current_load"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	LastHeartbeat  time.Time              `json:"last_heartbeat"`
	RegisteredAt   time.Time              `json:"registered_at"`
}

// Expired reports whether this worker's heartbeat is older than ttl as of
// now, and should be evicted from the registry.
func (w *WorkerState) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(w.LastHeartbeat) > ttl
}

// AvailableSlots is max(max_concurrency - current_load, 0) (§4.5).
func (w *WorkerState) AvailableSlots() int {
	if s := w.MaxConcurrency - w.CurrentLoad; s > 0 {
		return s
	}
	return 0
}

// HasCapability reports whether the worker declares the given connector
// or tool capability, used by capability-filtered lookup.
func (w *WorkerState) HasCapability(cap string) bool {
	for _, c := range w.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// AssignmentStatus is the lifecycle of an AgentWorkerAssignment.
type AssignmentStatus string

const (
	AssignmentPending      AssignmentStatus = "pending"
	AssignmentAcknowledged AssignmentStatus = "acknowledged"
	AssignmentFailed       AssignmentStatus = "failed"
	AssignmentCancelled    AssignmentStatus = "cancelled"
)

// AgentWorkerAssignment binds one execution session to the worker chosen
// to run it. Multiple rows per session are permitted; the row with the
// highest ID is the current assignment (§3).
type AgentWorkerAssignment struct {
	ID             int64                  `db:"id" json:"id"`
	SessionID      int64                  `db:"session_id" json:"session_id"`
	WorkerID       string                 `db:"worker_id" json:"worker_id"`
	Status         AssignmentStatus       `db:"status" json:"status"`
	Details        map[string]interface{} `db:"-" json:"details,omitempty"`
	AcknowledgedAt *time.Time             `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
}
