// Package ticketpoller implements the Ticket Poller (§4.13): a
// single-process background loop that syncs tickets from external
// ticketing tools into the store, refreshing OAuth credentials as
// needed and persisting them independently of fetch/upsert outcome.
package ticketpoller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/opsloop/orchestrator-core/core"
	"github.com/opsloop/orchestrator-core/domain"
	"github.com/opsloop/orchestrator-core/storage"
)

// maxSyncErrorLen truncates a sync failure message before it is
// persisted on the connection row (§4.13 step 5).
const maxSyncErrorLen = 500

// defaultLookback is used as `since` the first time a connection is
// polled, when no last_sync_at is recorded yet.
const defaultLookback = time.Hour

// Fetcher is the tool-specific client each ticketing integration
// supplies; the tool's own API client lives outside this core (§1
// "external ticketing tool client: deliberately out of scope"). Fetch
// returns tickets created or updated since `since` and may mutate
// conn.Metadata in place to record a refreshed OAuth token.
type Fetcher interface {
	Fetch(ctx context.Context, conn *storage.TicketConnection, since time.Time) ([]*domain.Ticket, error)
}

// Poller drives one fetch cycle per due connection per tick.
type Poller struct {
	connections storage.TicketConnectionStore
	tickets     storage.TicketStore
	fetchers    map[string]Fetcher
	interval    time.Duration
	logger      core.Logger
	now         func() time.Time
}

// New constructs a Poller. fetchers is keyed by TicketConnection.Tool
// (e.g. "jira", "servicenow"); a connection whose tool has no
// registered fetcher is skipped with a warning.
func New(connections storage.TicketConnectionStore, tickets storage.TicketStore, fetchers map[string]Fetcher, logger core.Logger) *Poller {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Poller{
		connections: connections,
		tickets:     tickets,
		fetchers:    fetchers,
		interval:    time.Second,
		logger:      logger,
		now:         time.Now,
	}
}

// Run blocks, ticking at ~1s granularity (§4.13) until ctx is
// cancelled, calling Tick on every tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				p.logger.Warn("ticket poller tick failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// Tick enumerates active poll connections and fans a sync cycle out
// across the ones that are due. A single connection's failure never
// aborts the others' cycles, so the fan-out uses a plain errgroup
// rather than one bound to a cancellable context.
func (p *Poller) Tick(ctx context.Context) error {
	conns, err := p.connections.ListActivePollConnections(ctx)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, c := range conns {
		if !p.isDue(c) {
			continue
		}
		c := c
		g.Go(func() error {
			p.syncOne(ctx, c)
			return nil
		})
	}
	return g.Wait()
}

func (p *Poller) isDue(c *storage.TicketConnection) bool {
	if c.LastSyncAt == nil || *c.LastSyncAt == "" {
		return true
	}
	last, err := time.Parse(time.RFC3339, *c.LastSyncAt)
	if err != nil {
		return true
	}
	interval := time.Duration(c.SyncIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = defaultLookback
	}
	return p.now().Sub(last) >= interval
}

func (p *Poller) sinceFor(c *storage.TicketConnection) time.Time {
	if c.LastSyncAt != nil && *c.LastSyncAt != "" {
		if t, err := time.Parse(time.RFC3339, *c.LastSyncAt); err == nil {
			return t
		}
	}
	return p.now().Add(-defaultLookback)
}

// syncOne runs one fetch cycle for conn (§4.13 steps 1-5).
func (p *Poller) syncOne(ctx context.Context, conn *storage.TicketConnection) {
	fetcher, ok := p.fetchers[conn.Tool]
	if !ok {
		p.logger.Warn("ticket poller: no fetcher registered for tool", map[string]interface{}{
			"connection_id": conn.ID, "tool": conn.Tool,
		})
		return
	}

	since := p.sinceFor(conn)
	preToken := tokenFromMetadata(conn.Metadata)

	tickets, fetchErr := fetcher.Fetch(ctx, conn, since)

	// Token persistence invariant: a refresh that happened mid-fetch is
	// saved regardless of whether the fetch itself, or the upsert below,
	// goes on to fail.
	if tokenFromMetadata(conn.Metadata) != preToken {
		if err := p.connections.UpdateConnectionMetadata(ctx, conn.ID, conn.Metadata); err != nil {
			p.logger.Warn("ticket poller: failed to persist refreshed token", map[string]interface{}{
				"connection_id": conn.ID, "error": err.Error(),
			})
		}
	}

	if fetchErr != nil {
		p.markFailed(ctx, conn.ID, fetchErr)
		return
	}

	if err := p.upsertAll(ctx, conn, tickets); err != nil {
		p.markFailed(ctx, conn.ID, err)
		return
	}

	if err := p.connections.UpdateSyncStatus(ctx, conn.ID, p.now().Format(time.RFC3339), "success", ""); err != nil {
		p.logger.Warn("ticket poller: failed to record sync status", map[string]interface{}{
			"connection_id": conn.ID, "error": err.Error(),
		})
	}
}

func (p *Poller) upsertAll(ctx context.Context, conn *storage.TicketConnection, tickets []*domain.Ticket) error {
	var firstErr error
	for _, t := range tickets {
		t.Tenant = conn.Tenant
		t.Source = conn.Tool
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if _, err := p.tickets.UpsertTicket(ctx, t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Poller) markFailed(ctx context.Context, connID string, cause error) {
	msg := cause.Error()
	if len(msg) > maxSyncErrorLen {
		msg = msg[:maxSyncErrorLen]
	}
	if err := p.connections.UpdateSyncStatus(ctx, connID, p.now().Format(time.RFC3339), "failed", msg); err != nil {
		p.logger.Warn("ticket poller: failed to record failure status", map[string]interface{}{
			"connection_id": connID, "error": err.Error(),
		})
	}
}

// tokenFromMetadata extracts the OAuth token fields a Fetcher would
// refresh, so syncOne can detect a mid-fetch refresh by comparing the
// before/after snapshot.
func tokenFromMetadata(meta map[string]interface{}) oauth2.Token {
	var tok oauth2.Token
	if v, ok := meta["access_token"].(string); ok {
		tok.AccessToken = v
	}
	if v, ok := meta["refresh_token"].(string); ok {
		tok.RefreshToken = v
	}
	if v, ok := meta["token_type"].(string); ok {
		tok.TokenType = v
	}
	if v, ok := meta["expiry"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			tok.Expiry = t
		}
	}
	return tok
}
