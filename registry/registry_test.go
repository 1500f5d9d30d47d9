package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_AvailableSlots(t *testing.T) {
	r := New()
	state := r.Register("worker-1", []string{"ssh", "database"}, "prod-a", "production", 5, nil)
	assert.Equal(t, 5, state.AvailableSlots())
	assert.Equal(t, 0, state.CurrentLoad)
}

func TestHeartbeat_UpdatesLoadAndTimestamp(t *testing.T) {
	now := time.Now()
	r := New(withClock(func() time.Time { return now }))
	r.Register("worker-1", []string{"ssh"}, "", "", 3, nil)

	now = now.Add(time.Second)
	load := 2
	require.NoError(t, r.Heartbeat("worker-1", &load))

	got, ok := r.Get("worker-1")
	require.True(t, ok)
	assert.Equal(t, 2, got.CurrentLoad)
	assert.WithinDuration(t, now, got.LastHeartbeat, time.Millisecond)
}

func TestHeartbeat_UnknownWorker(t *testing.T) {
	r := New()
	err := r.Heartbeat("ghost", nil)
	require.Error(t, err)
}

func TestCleanupStale_EvictsPastTTL(t *testing.T) {
	now := time.Now()
	r := New(WithHeartbeatTTL(time.Minute), withClock(func() time.Time { return now }))
	r.Register("stale", []string{"ssh"}, "", "", 1, nil)

	now = now.Add(2 * time.Minute)
	evicted := r.CleanupStale()
	assert.Equal(t, []string{"stale"}, evicted)

	_, ok := r.Get("stale")
	assert.False(t, ok)
}

func TestList_FiltersByCapabilityEnvironmentSegment(t *testing.T) {
	r := New()
	r.Register("w1", []string{"ssh", "database"}, "seg-a", "production", 5, nil)
	r.Register("w2", []string{"ssh"}, "seg-b", "staging", 5, nil)

	got := r.List(Filter{Capabilities: []string{"database"}})
	require.Len(t, got, 1)
	assert.Equal(t, "w1", got[0].ID)

	got = r.List(Filter{Environment: "staging"})
	require.Len(t, got, 1)
	assert.Equal(t, "w2", got[0].ID)

	got = r.List(Filter{Segment: "seg-a"})
	require.Len(t, got, 1)
	assert.Equal(t, "w1", got[0].ID)
}

func TestList_EvictsStaleBeforeFiltering(t *testing.T) {
	now := time.Now()
	r := New(WithHeartbeatTTL(time.Minute), withClock(func() time.Time { return now }))
	r.Register("w1", []string{"ssh"}, "", "", 1, nil)

	now = now.Add(2 * time.Minute)
	got := r.List(Filter{})
	assert.Empty(t, got)
}

func TestRegister_ResetsLoadOnRereg(t *testing.T) {
	r := New()
	r.Register("w1", []string{"ssh"}, "", "", 5, nil)
	load := 4
	require.NoError(t, r.Heartbeat("w1", &load))

	state := r.Register("w1", []string{"ssh"}, "", "", 5, nil)
	assert.Equal(t, 0, state.CurrentLoad)
}
