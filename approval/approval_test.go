package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsloop/orchestrator-core/audit"
	"github.com/opsloop/orchestrator-core/domain"
	"github.com/opsloop/orchestrator-core/events"
	"github.com/opsloop/orchestrator-core/executor"
	"github.com/opsloop/orchestrator-core/metadata"
	"github.com/opsloop/orchestrator-core/metrics"
	"github.com/opsloop/orchestrator-core/resolution"
	"github.com/opsloop/orchestrator-core/rollback"
	"github.com/opsloop/orchestrator-core/storage"
	"github.com/opsloop/orchestrator-core/streambus"
)

func newController(t *testing.T) (*Controller, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	bus := streambus.NewMemoryBus()
	sink, err := audit.Open(audit.Options{Enabled: false})
	require.NoError(t, err)
	pub := events.New(bus, store, store, sink, "session.events", 10000, nil)
	resolver := metadata.New(store)
	verifier := resolution.New(store, nil, nil)
	exec := executor.New(store, store, store, store, resolver, pub, rollback.New(nil, 0), verifier, metrics.NewUnregistered(), nil)
	return New(store, store, pub, exec, verifier, metrics.NewUnregistered(), nil), store
}

func gatedSession(t *testing.T, store *storage.MemoryStore) (*domain.ExecutionSession, *domain.ExecutionStep) {
	t.Helper()
	ctx := context.Background()
	session := &domain.ExecutionSession{Tenant: "acme", Status: domain.SessionWaitingApproval, WaitingForApproval: true}
	require.NoError(t, store.CreateSession(ctx, session))
	step := &domain.ExecutionStep{
		SessionID:        session.ID,
		StepNumber:       1,
		StepType:         domain.StepMain,
		Command:          "echo hi",
		RequiresApproval: true,
	}
	require.NoError(t, store.CreateSteps(ctx, []*domain.ExecutionStep{step}))
	session.TotalSteps = 1
	stepNumber := 1
	session.ApprovalStepNumber = &stepNumber
	require.NoError(t, store.UpdateSession(ctx, session))
	return session, step
}

func TestDecide_RejectFailsSessionWithoutRunningCommand(t *testing.T) {
	c, store := newController(t)
	ctx := context.Background()
	session, step := gatedSession(t, store)

	require.NoError(t, c.Decide(ctx, session, step, "alice", false))

	assert.Equal(t, domain.SessionFailed, session.Status)
	assert.False(t, session.WaitingForApproval)
	assert.Nil(t, session.ApprovalStepNumber)

	reloadedStep, err := store.GetStep(ctx, session.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, reloadedStep.Approved)
	assert.False(t, *reloadedStep.Approved)
	assert.False(t, reloadedStep.Completed, "a rejected step is never executed")
}

func TestDecide_ApproveRunsStepAndCompletesSession(t *testing.T) {
	c, store := newController(t)
	ctx := context.Background()
	session, step := gatedSession(t, store)

	require.NoError(t, c.Decide(ctx, session, step, "alice", true))

	assert.Equal(t, domain.SessionCompleted, session.Status)
	reloadedStep, err := store.GetStep(ctx, session.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, reloadedStep.Approved)
	assert.True(t, *reloadedStep.Approved)
	assert.True(t, reloadedStep.Succeeded())
}

func TestDecide_AlreadyDecidedIsConflict(t *testing.T) {
	c, store := newController(t)
	ctx := context.Background()
	session, step := gatedSession(t, store)
	require.NoError(t, c.Decide(ctx, session, step, "alice", true))

	err := c.Decide(ctx, session, step, "bob", true)
	assert.Error(t, err)
}

func TestDecide_NotAwaitingApprovalIsRejected(t *testing.T) {
	c, store := newController(t)
	ctx := context.Background()
	session, step := gatedSession(t, store)
	step.RequiresApproval = false

	err := c.Decide(ctx, session, step, "alice", true)
	assert.Error(t, err)
}
