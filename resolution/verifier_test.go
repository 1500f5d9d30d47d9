package resolution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsloop/orchestrator-core/domain"
	"github.com/opsloop/orchestrator-core/storage"
)

func step(n int, completed bool, success *bool, stepType domain.StepType) *domain.ExecutionStep {
	if stepType == "" {
		stepType = domain.StepMain
	}
	return &domain.ExecutionStep{StepNumber: n, Completed: completed, Success: success, StepType: stepType}
}

func ptr(b bool) *bool { return &b }

func TestVerify_AllSucceededNoPostchecks(t *testing.T) {
	steps := []*domain.ExecutionStep{
		step(1, true, ptr(true), domain.StepMain),
		step(2, true, ptr(true), domain.StepMain),
	}
	v := Verify(steps)
	assert.True(t, v.Resolved)
	assert.Equal(t, 0.9, v.Confidence)
}

func TestVerify_AllSucceededButPostcheckFails(t *testing.T) {
	steps := []*domain.ExecutionStep{
		step(1, true, ptr(true), domain.StepMain),
		step(2, true, ptr(false), domain.StepPostcheck),
	}
	v := Verify(steps)
	// success_rate is 0.5 (1/2 marked successful) so this falls to the
	// mixed-results band, not the all-succeeded band.
	assert.False(t, v.Resolved)
	assert.Equal(t, 0.5, v.Confidence)
}

func TestVerify_HighSuccessRateBand(t *testing.T) {
	steps := []*domain.ExecutionStep{
		step(1, true, ptr(true), domain.StepMain),
		step(2, true, ptr(true), domain.StepMain),
		step(3, true, ptr(true), domain.StepMain),
		step(4, true, ptr(true), domain.StepMain),
		step(5, true, ptr(false), domain.StepMain),
	}
	v := Verify(steps)
	assert.True(t, v.Resolved)
	assert.Equal(t, 0.7, v.Confidence)
}

func TestVerify_MixedResultsBand(t *testing.T) {
	steps := []*domain.ExecutionStep{
		step(1, true, ptr(true), domain.StepMain),
		step(2, true, ptr(false), domain.StepMain),
	}
	v := Verify(steps)
	assert.False(t, v.Resolved)
	assert.Equal(t, 0.5, v.Confidence)
}

func TestVerify_MostlyFailedBand(t *testing.T) {
	steps := []*domain.ExecutionStep{
		step(1, true, ptr(false), domain.StepMain),
		step(2, true, ptr(false), domain.StepMain),
		step(3, true, ptr(true), domain.StepMain),
	}
	v := Verify(steps)
	assert.False(t, v.Resolved)
	assert.Equal(t, 0.9, v.Confidence)
}

func TestVerify_NoSteps(t *testing.T) {
	v := Verify(nil)
	assert.False(t, v.Resolved)
	assert.Equal(t, "step_analysis", v.Method)
}

func newTicket(store *storage.MemoryStore, id, source string) *domain.Ticket {
	t, _ := store.UpsertTicket(context.Background(), &domain.Ticket{ID: id, Tenant: "acme", ExternalID: "E-1", Source: source, Status: domain.TicketAnalyzing})
	return t
}

func TestReconcileCompleted_ResolvedSetsResolvedStatus(t *testing.T) {
	store := storage.NewMemoryStore()
	ticket := newTicket(store, "t1", "")
	v := New(store, nil, nil)
	err := v.ReconcileCompleted(context.Background(), "acme", ticket, Verification{Resolved: true, Confidence: 0.9})
	require.NoError(t, err)
	got, err := store.GetTicket(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketResolved, got.Status)
	assert.NotNil(t, got.ResolvedAt)
}

func TestReconcileCompleted_LowConfidenceNonResolutionGoesInProgress(t *testing.T) {
	store := storage.NewMemoryStore()
	ticket := newTicket(store, "t2", "")
	v := New(store, nil, nil)
	err := v.ReconcileCompleted(context.Background(), "acme", ticket, Verification{Resolved: false, Confidence: 0.5})
	require.NoError(t, err)
	got, err := store.GetTicket(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketInProgress, got.Status)
}

func TestReconcileCompleted_HighConfidenceFailureEscalates(t *testing.T) {
	store := storage.NewMemoryStore()
	ticket := newTicket(store, "t3", "")
	v := New(store, nil, nil)
	err := v.ReconcileCompleted(context.Background(), "acme", ticket, Verification{Resolved: false, Confidence: 0.9})
	require.NoError(t, err)
	got, err := store.GetTicket(context.Background(), "t3")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketEscalated, got.Status)
}

func TestReconcileTerminal_FailedAndAbandonedEscalateRejectedInProgress(t *testing.T) {
	store := storage.NewMemoryStore()
	v := New(store, nil, nil)

	failedTicket := newTicket(store, "t4", "")
	require.NoError(t, v.ReconcileTerminal(context.Background(), "acme", failedTicket, domain.SessionFailed))
	got, _ := store.GetTicket(context.Background(), "t4")
	assert.Equal(t, domain.TicketEscalated, got.Status)

	rejectedTicket := newTicket(store, "t5", "")
	require.NoError(t, v.ReconcileTerminal(context.Background(), "acme", rejectedTicket, domain.SessionRejected))
	got, _ = store.GetTicket(context.Background(), "t5")
	assert.Equal(t, domain.TicketInProgress, got.Status)

	abandonedTicket := newTicket(store, "t6", "")
	require.NoError(t, v.ReconcileTerminal(context.Background(), "acme", abandonedTicket, domain.SessionAbandoned))
	got, _ = store.GetTicket(context.Background(), "t6")
	assert.Equal(t, domain.TicketEscalated, got.Status)
}

func TestMarkFalsePositive_Closes(t *testing.T) {
	store := storage.NewMemoryStore()
	ticket := newTicket(store, "t7", "")
	v := New(store, nil, nil)
	require.NoError(t, v.MarkFalsePositive(context.Background(), "acme", ticket))
	got, err := store.GetTicket(context.Background(), "t7")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketClosed, got.Status)
	assert.NotNil(t, got.ResolvedAt)
}

type recordingPusher struct {
	calls []string
}

func (p *recordingPusher) PushStatus(_ context.Context, _ string, ticket *domain.Ticket, _ string) error {
	p.calls = append(p.calls, ticket.ID)
	return nil
}

func TestReconcileCompleted_PushesToExternalToolWhenSourceSet(t *testing.T) {
	store := storage.NewMemoryStore()
	ticket := newTicket(store, "t8", "jira")
	pusher := &recordingPusher{}
	v := New(store, pusher, nil)
	require.NoError(t, v.ReconcileCompleted(context.Background(), "acme", ticket, Verification{Resolved: true, Confidence: 0.9}))
	assert.Equal(t, []string{"t8"}, pusher.calls)
}

func TestReconcileCompleted_NoPushWithoutSource(t *testing.T) {
	store := storage.NewMemoryStore()
	ticket := newTicket(store, "t9", "")
	pusher := &recordingPusher{}
	v := New(store, pusher, nil)
	require.NoError(t, v.ReconcileCompleted(context.Background(), "acme", ticket, Verification{Resolved: true, Confidence: 0.9}))
	assert.Empty(t, pusher.calls)
}
