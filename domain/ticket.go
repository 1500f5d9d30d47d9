package domain

import "time"

// TicketStatus is the lifecycle of an externally-sourced operational ticket.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketAnalyzing  TicketStatus = "analyzing"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
	TicketClosed     TicketStatus = "closed"
	TicketEscalated  TicketStatus = "escalated"
)

// Ticket mirrors an issue pulled from an external ticketing tool (or
// monitoring system). ExternalID+Source is the natural key used to upsert
// on each poll cycle (§4.13).
type Ticket struct {
	ID                     string                 `db:"id" json:"id"`
	Tenant                 string                 `db:"tenant_id" json:"tenant_id"`
	ExternalID             string                 `db:"external_id" json:"external_id"`
	Source                 string                 `db:"source" json:"source"`
	Title                  string                 `db:"title" json:"title"`
	Description            string                 `db:"description" json:"description"`
	Severity               string                 `db:"severity" json:"severity"`
	Environment            string                 `db:"environment" json:"environment"`
	Service                string                 `db:"service" json:"service"`
	Status                 TicketStatus           `db:"status" json:"status"`
	Classification         string                 `db:"classification" json:"classification,omitempty"`
	ClassificationConfidence float64              `db:"classification_confidence" json:"classification_confidence,omitempty"`
	RawPayload             map[string]interface{} `db:"-" json:"raw_payload,omitempty"`
	Metadata               map[string]interface{} `db:"-" json:"metadata,omitempty"`
	ResolvedAt             *time.Time             `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt              time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time              `db:"updated_at" json:"updated_at"`
}

// NaturalKey is the (tenant, source, external_id) tuple tickets upsert on.
func (t *Ticket) NaturalKey() (tenant, source, externalID string) {
	return t.Tenant, t.Source, t.ExternalID
}
