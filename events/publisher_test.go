package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsloop/orchestrator-core/audit"
	"github.com/opsloop/orchestrator-core/domain"
	"github.com/opsloop/orchestrator-core/storage"
	"github.com/opsloop/orchestrator-core/streambus"
)

func newTestPublisher(t *testing.T) (*Publisher, *storage.MemoryStore, streambus.Bus) {
	t.Helper()
	store := storage.NewMemoryStore()
	bus := streambus.NewMemoryBus()
	sink, err := audit.Open(audit.Options{Enabled: false})
	require.NoError(t, err)
	return New(bus, store, store, sink, "session.events", 10000, nil), store, bus
}

func TestPublish_AssignsMonotonicSeqPerSession(t *testing.T) {
	p, store, _ := newTestPublisher(t)
	ctx := context.Background()
	session := &domain.ExecutionSession{ID: 1, Tenant: "acme"}
	require.NoError(t, store.CreateSession(ctx, session))

	first, err := p.Publish(ctx, session, domain.EventSessionCreated, map[string]interface{}{"a": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Seq)

	second, err := p.Publish(ctx, session, domain.EventCommandStarted, map[string]interface{}{"b": 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, int64(2), session.LastEventSeq)
}

func TestPublish_SanitizesPayloadBeforeStreamAndAudit(t *testing.T) {
	p, store, _ := newTestPublisher(t)
	ctx := context.Background()
	session := &domain.ExecutionSession{ID: 2, Tenant: "acme"}
	require.NoError(t, store.CreateSession(ctx, session))

	row, err := p.Publish(ctx, session, domain.EventCommandCompleted, map[string]interface{}{
		"password": "hunter2",
		"output":   "ok",
	}, nil)
	require.NoError(t, err)

	inner, ok := row.Payload["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", inner["output"])
	assert.NotEqual(t, "hunter2", inner["password"])
}

func TestPublish_SetsStepNumberWhenProvided(t *testing.T) {
	p, store, _ := newTestPublisher(t)
	ctx := context.Background()
	session := &domain.ExecutionSession{ID: 3, Tenant: "acme"}
	require.NoError(t, store.CreateSession(ctx, session))

	step := 4
	row, err := p.Publish(ctx, session, domain.EventStepCompleted, map[string]interface{}{"ok": true}, &step)
	require.NoError(t, err)
	require.NotNil(t, row.StepNumber)
	assert.Equal(t, 4, *row.StepNumber)
}

func TestListEvents_UnwrapsEnvelopePayload(t *testing.T) {
	p, store, _ := newTestPublisher(t)
	ctx := context.Background()
	session := &domain.ExecutionSession{ID: 5, Tenant: "acme"}
	require.NoError(t, store.CreateSession(ctx, session))

	_, err := p.Publish(ctx, session, domain.EventSessionCreated, map[string]interface{}{"x": "y"}, nil)
	require.NoError(t, err)
	_, err = p.Publish(ctx, session, domain.EventSessionCompleted, map[string]interface{}{"z": "w"}, nil)
	require.NoError(t, err)

	out, err := p.ListEvents(ctx, session.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "y", out[0].Payload["x"])
	assert.Equal(t, domain.EventSessionCreated, out[0].Type)
	assert.False(t, out[0].Timestamp.IsZero())
}

func TestListEvents_RespectsSinceIDAndLimit(t *testing.T) {
	p, store, _ := newTestPublisher(t)
	ctx := context.Background()
	session := &domain.ExecutionSession{ID: 6, Tenant: "acme"}
	require.NoError(t, store.CreateSession(ctx, session))

	first, err := p.Publish(ctx, session, domain.EventSessionCreated, map[string]interface{}{}, nil)
	require.NoError(t, err)
	_, err = p.Publish(ctx, session, domain.EventCommandStarted, map[string]interface{}{}, nil)
	require.NoError(t, err)

	out, err := p.ListEvents(ctx, session.ID, first.ID, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.EventCommandStarted, out[0].Type)
}
