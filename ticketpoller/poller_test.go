package ticketpoller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsloop/orchestrator-core/domain"
	"github.com/opsloop/orchestrator-core/storage"
)

type fakeFetcher struct {
	tickets   []*domain.Ticket
	err       error
	refreshTo map[string]interface{}
}

func (f *fakeFetcher) Fetch(_ context.Context, conn *storage.TicketConnection, _ time.Time) ([]*domain.Ticket, error) {
	if f.refreshTo != nil {
		conn.Metadata = f.refreshTo
	}
	return f.tickets, f.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSyncOne_UpsertsFetchedTicketsAndMarksSuccess(t *testing.T) {
	store := storage.NewMemoryStore()
	conn := &storage.TicketConnection{
		ID: "conn-1", Tenant: "acme", Tool: "jira", ConnectionType: "api_poll",
		SyncIntervalMinutes: 5, Active: true, Metadata: map[string]interface{}{"access_token": "old"},
	}
	store.PutConnection(conn)

	fetcher := &fakeFetcher{tickets: []*domain.Ticket{
		{ExternalID: "EXT-1", Title: "disk full", Status: domain.TicketOpen},
	}}
	p := New(store, store, map[string]Fetcher{"jira": fetcher}, nil)
	p.now = fixedClock(time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC))

	p.syncOne(context.Background(), conn)

	reloaded, err := store.GetConnection(context.Background(), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "success", reloaded.LastSyncStatus)
	assert.Empty(t, reloaded.LastSyncError)
	require.NotNil(t, reloaded.LastSyncAt)
}

func TestSyncOne_TokenRefreshPersistedDespiteFetchError(t *testing.T) {
	store := storage.NewMemoryStore()
	conn := &storage.TicketConnection{
		ID: "conn-2", Tenant: "acme", Tool: "servicenow", ConnectionType: "api_poll",
		SyncIntervalMinutes: 5, Active: true,
		Metadata: map[string]interface{}{"access_token": "stale", "refresh_token": "r0"},
	}
	store.PutConnection(conn)

	refreshed := map[string]interface{}{"access_token": "fresh", "refresh_token": "r1"}
	fetcher := &fakeFetcher{err: errors.New("upstream 500"), refreshTo: refreshed}
	p := New(store, store, map[string]Fetcher{"servicenow": fetcher}, nil)

	p.syncOne(context.Background(), conn)

	reloaded, err := store.GetConnection(context.Background(), "conn-2")
	require.NoError(t, err)
	assert.Equal(t, "fresh", reloaded.Metadata["access_token"])
	assert.Equal(t, "failed", reloaded.LastSyncStatus)
	assert.Contains(t, reloaded.LastSyncError, "upstream 500")
}

func TestSyncOne_UnregisteredToolIsSkippedWithoutPanicking(t *testing.T) {
	store := storage.NewMemoryStore()
	conn := &storage.TicketConnection{ID: "conn-3", Tenant: "acme", Tool: "unknown", ConnectionType: "api_poll", Active: true}
	store.PutConnection(conn)

	p := New(store, store, map[string]Fetcher{}, nil)
	p.syncOne(context.Background(), conn)

	reloaded, err := store.GetConnection(context.Background(), "conn-3")
	require.NoError(t, err)
	assert.Empty(t, reloaded.LastSyncStatus)
}

func TestTick_OnlySyncsDueConnections(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	due := now.Add(-10 * time.Minute).Format(time.RFC3339)
	notDue := now.Add(-1 * time.Minute).Format(time.RFC3339)

	store.PutConnection(&storage.TicketConnection{
		ID: "conn-due", Tenant: "acme", Tool: "jira", ConnectionType: "api_poll",
		SyncIntervalMinutes: 5, Active: true, LastSyncAt: &due,
	})
	store.PutConnection(&storage.TicketConnection{
		ID: "conn-fresh", Tenant: "acme", Tool: "jira", ConnectionType: "api_poll",
		SyncIntervalMinutes: 5, Active: true, LastSyncAt: &notDue,
	})

	fetcher := &fakeFetcher{}
	p := New(store, store, map[string]Fetcher{"jira": fetcher}, nil)
	p.now = fixedClock(now)

	require.NoError(t, p.Tick(context.Background()))

	dueConn, err := store.GetConnection(context.Background(), "conn-due")
	require.NoError(t, err)
	assert.Equal(t, "success", dueConn.LastSyncStatus)

	freshConn, err := store.GetConnection(context.Background(), "conn-fresh")
	require.NoError(t, err)
	assert.Empty(t, freshConn.LastSyncStatus)
}
