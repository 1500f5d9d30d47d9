// Package storage defines the repository contracts for every §3 entity
// and provides two implementations: an in-memory store used by tests and
// by the Worker Registry's ephemeral neighbors, and a Postgres-backed
// store (via sqlx + lib/pq, per the DOMAIN STACK) for production use.
package storage

import (
	"context"

	"github.com/opsloop/orchestrator-core/domain"
)

// SessionStore persists ExecutionSession rows and their owned steps.
// Every method is tenant-scoped implicitly through the session row
// itself; callers are expected to have already checked tenant ownership
// before mutating. The façade's entry points that act on an existing
// session take no tenant argument and do not perform that check.
type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.ExecutionSession) error
	GetSession(ctx context.Context, id int64) (*domain.ExecutionSession, error)
	UpdateSession(ctx context.Context, s *domain.ExecutionSession) error

	CreateSteps(ctx context.Context, steps []*domain.ExecutionStep) error
	GetStep(ctx context.Context, sessionID int64, stepNumber int) (*domain.ExecutionStep, error)
	ListSteps(ctx context.Context, sessionID int64) ([]*domain.ExecutionStep, error)
	UpdateStep(ctx context.Context, s *domain.ExecutionStep) error

	CreateAssignment(ctx context.Context, a *domain.AgentWorkerAssignment) error
	LatestAssignment(ctx context.Context, sessionID int64) (*domain.AgentWorkerAssignment, error)

	SaveFeedback(ctx context.Context, f *domain.SessionFeedback) error
}

// EventStore persists ExecutionEvent rows with per-session monotonic ids.
type EventStore interface {
	AppendEvent(ctx context.Context, e *domain.ExecutionEvent) error
	ListEvents(ctx context.Context, sessionID int64, sinceID int64, limit int) ([]*domain.ExecutionEvent, error)
}

// RunbookStore persists Runbook rows.
type RunbookStore interface {
	GetRunbook(ctx context.Context, id string) (*domain.Runbook, error)
	CreateRunbook(ctx context.Context, r *domain.Runbook) error
}

// TicketStore persists Ticket rows, upserting on the (tenant, source,
// external_id) natural key (§4.13).
type TicketStore interface {
	GetTicket(ctx context.Context, id string) (*domain.Ticket, error)
	UpsertTicket(ctx context.Context, t *domain.Ticket) (*domain.Ticket, error)
	// UpdateTicketStatus sets status and, for the resolved and closed
	// terminal statuses, stamps resolved_at (§4.12 ticket reconciliation).
	UpdateTicketStatus(ctx context.Context, id string, status domain.TicketStatus) error
}

// CredentialStore resolves Credential rows by (tenant, alias, environment).
type CredentialStore interface {
	GetCredentialByAlias(ctx context.Context, tenant, alias, environment string) (*domain.Credential, error)
	GetCredential(ctx context.Context, id string) (*domain.Credential, error)
}

// InfrastructureConnectionStore resolves pre-registered connection
// targets by CI/server name, backing the Step Executor's "ticket CI
// lookup / cloud discovery" effective-config priority (§4.8 step 2).
type InfrastructureConnectionStore interface {
	FindByCI(ctx context.Context, tenant, ciName string) (*domain.InfrastructureConnection, error)
}

// TicketConnectionStore persists the external ticketing-tool connection
// rows the Ticket Poller (§4.13) and Resolution Verifier (§4.12) push
// status updates through. It is a thin contract: the external tool's own
// client lives outside this core (§1 Deliberately out of scope).
type TicketConnectionStore interface {
	GetConnection(ctx context.Context, id string) (*TicketConnection, error)
	ListActivePollConnections(ctx context.Context) ([]*TicketConnection, error)
	UpdateConnectionMetadata(ctx context.Context, id string, metadata map[string]interface{}) error
	UpdateSyncStatus(ctx context.Context, id string, lastSyncAt string, status string, errMsg string) error
}

// TicketConnection is the persisted record of one tenant's link to an
// external ticketing tool, including OAuth token material in Metadata.
type TicketConnection struct {
	ID                 string
	Tenant             string
	Tool               string
	ConnectionType      string // e.g. "api_poll"
	SyncIntervalMinutes int
	LastSyncAt         *string
	LastSyncStatus     string
	LastSyncError      string
	Metadata           map[string]interface{}
	Active             bool
}
