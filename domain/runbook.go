package domain

import "time"

// RunbookStatus is the approval lifecycle of a runbook document.
type RunbookStatus string

const (
	RunbookDraft    RunbookStatus = "draft"
	RunbookApproved RunbookStatus = "approved"
	RunbookArchived RunbookStatus = "archived"
)

// Runbook is a versioned, tenant-scoped remediation document. Once
// Status == RunbookApproved the row is immutable; authoring a new
// revision creates a new row linked via ParentVersion rather than
// mutating this one.
type Runbook struct {
	ID               string                 `db:"id" json:"id"`
	Tenant           string                 `db:"tenant_id" json:"tenant_id"`
	Title            string                 `db:"title" json:"title"`
	Body             string                 `db:"body" json:"body"`
	Confidence       float64                `db:"confidence" json:"confidence"`
	ParentVersion    *string                `db:"parent_version" json:"parent_version,omitempty"`
	Status           RunbookStatus          `db:"status" json:"status"`
	Active           bool                   `db:"active" json:"active"`
	Metadata         map[string]interface{} `db:"-" json:"metadata,omitempty"`
	CreatedAt        time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time              `db:"updated_at" json:"updated_at"`
}

// Immutable reports whether this revision may no longer be edited in
// place; an approved runbook must be revised via a new row.
func (r *Runbook) Immutable() bool {
	return r.Status == RunbookApproved
}
