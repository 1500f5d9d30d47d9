package facade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsloop/orchestrator-core/approval"
	"github.com/opsloop/orchestrator-core/audit"
	"github.com/opsloop/orchestrator-core/config"
	"github.com/opsloop/orchestrator-core/domain"
	"github.com/opsloop/orchestrator-core/events"
	"github.com/opsloop/orchestrator-core/executor"
	"github.com/opsloop/orchestrator-core/idempotency"
	"github.com/opsloop/orchestrator-core/metadata"
	"github.com/opsloop/orchestrator-core/metrics"
	"github.com/opsloop/orchestrator-core/resolution"
	"github.com/opsloop/orchestrator-core/rollback"
	"github.com/opsloop/orchestrator-core/storage"
	"github.com/opsloop/orchestrator-core/streambus"
)

const happyPathRunbook = `
` + "```yaml" + `
title: restart service
service: checkout
steps:
  - command: echo B
    severity: safe
` + "```" + `
`

func newFacade(t *testing.T) (*Facade, *storage.MemoryStore, streambus.Bus) {
	t.Helper()
	store := storage.NewMemoryStore()
	bus := streambus.NewMemoryBus()
	sink, err := audit.Open(audit.Options{Enabled: false})
	require.NoError(t, err)

	idem := idempotency.NewMemoryStore()
	resolver := metadata.New(store)
	pub := events.New(bus, store, store, sink, "session.events", 10000, nil)
	m := metrics.NewUnregistered()
	verifier := resolution.New(store, nil, nil)
	rbEngine := rollback.New(nil, 0)
	exec := executor.New(store, store, store, store, resolver, pub, rbEngine, verifier, m, nil)
	approvals := approval.New(store, store, pub, exec, verifier, m, nil)

	cfg := config.DefaultConfig()
	f := New(store, store, store, bus, idem, resolver, pub, exec, approvals, rbEngine, verifier, m, nil, cfg)
	return f, store, bus
}

func TestCreateExecutionSession_HappyPathNoApprovals(t *testing.T) {
	f, store, _ := newFacade(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRunbook(ctx, &domain.Runbook{ID: "rb-1", Tenant: "acme", Body: happyPathRunbook, Status: domain.RunbookApproved}))

	session, err := f.CreateExecutionSession(ctx, CreateSessionRequest{RunbookID: "rb-1", Tenant: "acme", Issue: "service down"})
	require.NoError(t, err)
	assert.Equal(t, 1, session.TotalSteps)
	assert.Equal(t, domain.SessionPending, session.Status)

	started, err := f.StartExecutionSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, started.Status)

	evs, err := f.ListSessionEvents(ctx, session.ID, 0, 100)
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.Equal(t, domain.EventSessionCreated, evs[0].Type)
	assert.Equal(t, domain.EventSessionCompleted, evs[len(evs)-1].Type)
}

func TestCreateExecutionSession_IdempotentKeyReturnsSameSession(t *testing.T) {
	f, store, _ := newFacade(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRunbook(ctx, &domain.Runbook{ID: "rb-1", Tenant: "acme", Body: happyPathRunbook}))

	req := CreateSessionRequest{RunbookID: "rb-1", Tenant: "acme", IdempotencyKey: "req-1"}
	first, err := f.CreateExecutionSession(ctx, req)
	require.NoError(t, err)
	second, err := f.CreateExecutionSession(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestSubmitManualCommand_IdempotentYieldsOneStreamEntry(t *testing.T) {
	f, store, bus := newFacade(t)
	ctx := context.Background()
	session := &domain.ExecutionSession{Tenant: "acme", Status: domain.SessionInProgress}
	require.NoError(t, store.CreateSession(ctx, session))

	req := SubmitCommandRequest{SessionID: session.ID, Command: "uptime", Shell: "bash"}
	first, err := f.SubmitManualCommand(ctx, req)
	require.NoError(t, err)
	second, err := f.SubmitManualCommand(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	entries, err := bus.Read(ctx, "session.command", "0", 100, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestControlExecutionSession_PauseThenResumeExecutesNextStep(t *testing.T) {
	f, store, _ := newFacade(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRunbook(ctx, &domain.Runbook{ID: "rb-1", Tenant: "acme", Body: happyPathRunbook}))

	session, err := f.CreateExecutionSession(ctx, CreateSessionRequest{RunbookID: "rb-1", Tenant: "acme"})
	require.NoError(t, err)
	session.Status = domain.SessionInProgress
	require.NoError(t, store.UpdateSession(ctx, session))

	paused, err := f.ControlExecutionSession(ctx, session.ID, ControlPause, "investigating", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionPaused, paused.Status)

	resumed, err := f.ControlExecutionSession(ctx, session.ID, ControlResume, "", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, resumed.Status)
}

func TestAbandonExecutionSession_EscalatesTicket(t *testing.T) {
	f, store, _ := newFacade(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRunbook(ctx, &domain.Runbook{ID: "rb-1", Tenant: "acme", Body: happyPathRunbook}))
	ticket := &domain.Ticket{ID: "tk-1", Tenant: "acme", ExternalID: "EXT-1", Source: "jira", Status: domain.TicketInProgress}
	_, err := store.UpsertTicket(ctx, ticket)
	require.NoError(t, err)

	ticketID := "tk-1"
	session, err := f.CreateExecutionSession(ctx, CreateSessionRequest{RunbookID: "rb-1", Tenant: "acme", TicketID: &ticketID})
	require.NoError(t, err)

	require.NoError(t, f.AbandonExecutionSession(ctx, session.ID, "operator gave up"))

	reloaded, err := f.GetExecutionSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionAbandoned, reloaded.Status)

	reloadedTicket, err := store.GetTicket(ctx, "tk-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketEscalated, reloadedTicket.Status)
}

func TestUpdateExecutionStep_ApprovalRoutesThroughApprovalController(t *testing.T) {
	f, store, _ := newFacade(t)
	ctx := context.Background()
	session := &domain.ExecutionSession{Tenant: "acme", Status: domain.SessionWaitingApproval, WaitingForApproval: true}
	require.NoError(t, store.CreateSession(ctx, session))
	step := &domain.ExecutionStep{SessionID: session.ID, StepNumber: 1, Command: "echo hi", RequiresApproval: true}
	require.NoError(t, store.CreateSteps(ctx, []*domain.ExecutionStep{step}))
	session.TotalSteps = 1
	stepNumber := 1
	session.ApprovalStepNumber = &stepNumber
	require.NoError(t, store.UpdateSession(ctx, session))

	approved := true
	_, err := f.UpdateExecutionStep(ctx, UpdateStepRequest{SessionID: session.ID, StepNumber: 1, Approved: &approved, User: "alice"})
	require.NoError(t, err)

	reloaded, err := f.GetExecutionSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, reloaded.Status)
}
