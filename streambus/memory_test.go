package streambus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishOrdering(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	id1, err := b.Publish(ctx, "session.events", map[string]interface{}{"seq": 1}, 0, false)
	require.NoError(t, err)
	id2, err := b.Publish(ctx, "session.events", map[string]interface{}{"seq": 2}, 0, false)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	entries, err := b.Read(ctx, "session.events", "0", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, id1, entries[0].ID)
	assert.Equal(t, id2, entries[1].ID)
}

func TestMemoryBus_ReadGroupFairDelivery(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()
	require.NoError(t, b.EnsureGroup(ctx, "session.result", "orchestrator"))
	// Idempotent re-creation must not error (BUSYGROUP tolerated).
	require.NoError(t, b.EnsureGroup(ctx, "session.result", "orchestrator"))

	_, _ = b.Publish(ctx, "session.result", map[string]interface{}{"a": 1}, 0, false)
	_, _ = b.Publish(ctx, "session.result", map[string]interface{}{"a": 2}, 0, false)

	first, err := b.ReadGroup(ctx, "orchestrator", "consumer-1", "session.result", 1, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := b.ReadGroup(ctx, "orchestrator", "consumer-2", "session.result", 10, 0)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestMemoryBus_MaxLenTrims(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = b.Publish(ctx, "session.assign", map[string]interface{}{"i": i}, 3, true)
	}
	assert.Equal(t, 3, b.Len("session.assign"))
}

func TestMemoryBus_DeleteRemovesEntries(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()
	id, _ := b.Publish(ctx, "session.command", map[string]interface{}{}, 0, false)
	require.NoError(t, b.Delete(ctx, "session.command", []string{id}))
	assert.Equal(t, 0, b.Len("session.command"))
}
