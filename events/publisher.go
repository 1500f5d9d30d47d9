// Package events implements the Event Publisher (§4.11): envelope
// construction, stream publish, durable ExecutionEvent persistence, and
// best-effort audit logging, plus the list_events readback that unwraps
// the envelope for callers.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/opsloop/orchestrator-core/audit"
	"github.com/opsloop/orchestrator-core/core"
	"github.com/opsloop/orchestrator-core/domain"
	"github.com/opsloop/orchestrator-core/metadata"
	"github.com/opsloop/orchestrator-core/storage"
	"github.com/opsloop/orchestrator-core/streambus"
)

// Publisher builds and dispatches ExecutionEvent envelopes (§4.11).
type Publisher struct {
	bus      streambus.Bus
	sessions storage.SessionStore
	events   storage.EventStore
	audit    *audit.Sink
	stream   string
	maxLen   int64
	logger   core.Logger
}

// New constructs a Publisher. stream is the session.events stream name
// (config.Streams.Events); maxLen is the bus's configured MAXLEN trim.
func New(bus streambus.Bus, sessions storage.SessionStore, eventStore storage.EventStore, auditSink *audit.Sink, stream string, maxLen int64, logger core.Logger) *Publisher {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Publisher{bus: bus, sessions: sessions, events: eventStore, audit: auditSink, stream: stream, maxLen: maxLen, logger: logger}
}

// Publish builds the §4.11 envelope, writes it to the stream, persists
// an ExecutionEvent row immediately, and best-effort audit-logs it. Seq
// is session.LastEventSeq+1, persisted back onto the session row so the
// sequence survives a process restart without a separate counter
// table. A stream or store failure is returned to the caller; an audit
// failure never is (audit is explicitly best-effort per §4.3/§4.11).
func (p *Publisher) Publish(ctx context.Context, session *domain.ExecutionSession, eventType domain.EventType, payload map[string]interface{}, stepNumber *int) (*domain.ExecutionEvent, error) {
	sanitizedPayload := metadata.Sanitize(payload)

	session.LastEventSeq++
	seq := session.LastEventSeq
	timestamp := time.Now()

	wireEnv := map[string]interface{}{
		"session_id":  session.ID,
		"seq":         seq,
		"type":        string(eventType),
		"payload":     sanitizedPayload,
		"tenant_id":   session.Tenant,
		"api_version": "v1",
		"timestamp":   timestamp,
	}
	if stepNumber != nil {
		wireEnv["step_number"] = *stepNumber
	}

	streamID, err := p.bus.Publish(ctx, p.stream, wireEnv, p.maxLen, true)
	if err != nil {
		return nil, fmt.Errorf("publishing %s for session %d: %w", eventType, session.ID, err)
	}

	row := &domain.ExecutionEvent{
		SessionID:  session.ID,
		Seq:        seq,
		Type:       eventType,
		StepNumber: stepNumber,
		Payload:    wireEnv,
		StreamID:   streamID,
		CreatedAt:  timestamp,
	}
	if err := p.events.AppendEvent(ctx, row); err != nil {
		return nil, fmt.Errorf("persisting event %s for session %d: %w", eventType, session.ID, err)
	}
	if err := p.sessions.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("persisting last_event_seq for session %d: %w", session.ID, err)
	}

	if p.audit != nil {
		if err := p.audit.RecordEvent(ctx, session.ID, string(eventType), sanitizedPayload); err != nil {
			p.logger.Warn("audit log append failed", map[string]interface{}{
				"session_id": session.ID,
				"event_type": string(eventType),
				"error":      err.Error(),
			})
		}
	}

	return row, nil
}

// ListEvents returns events for sessionID with id > sinceID, ordered
// ascending, each unwrapped to surface the inner application payload
// plus the envelope timestamp rather than the raw wire envelope (§4.11
// Readback).
func (p *Publisher) ListEvents(ctx context.Context, sessionID int64, sinceID int64, limit int) ([]UnwrappedEvent, error) {
	rows, err := p.events.ListEvents(ctx, sessionID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing events for session %d: %w", sessionID, err)
	}
	out := make([]UnwrappedEvent, 0, len(rows))
	for _, r := range rows {
		innerPayload, _ := r.Payload["payload"].(map[string]interface{})
		out = append(out, UnwrappedEvent{
			ID:         r.ID,
			SessionID:  r.SessionID,
			Type:       r.Type,
			StepNumber: r.StepNumber,
			Payload:    innerPayload,
			Timestamp:  r.CreatedAt,
		})
	}
	return out, nil
}

// UnwrappedEvent is the readback shape §4.11 documents: the envelope's
// own bookkeeping fields promoted alongside the inner payload, not the
// raw nested envelope.
type UnwrappedEvent struct {
	ID         int64
	SessionID  int64
	Type       domain.EventType
	StepNumber *int
	Payload    map[string]interface{}
	Timestamp  time.Time
}
