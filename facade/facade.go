// Package facade implements the Execution Controller façade (§4.14):
// the entry points a REST/WebSocket surface calls into. The façade
// itself never speaks HTTP (that surface is an explicit Non-goal, §1);
// it only provides the operations such a surface would wire to
// handlers, with idempotency, invariant enforcement, and sanitization
// already applied.
package facade

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/opsloop/orchestrator-core/approval"
	"github.com/opsloop/orchestrator-core/config"
	"github.com/opsloop/orchestrator-core/core"
	"github.com/opsloop/orchestrator-core/domain"
	"github.com/opsloop/orchestrator-core/events"
	"github.com/opsloop/orchestrator-core/executor"
	"github.com/opsloop/orchestrator-core/idempotency"
	"github.com/opsloop/orchestrator-core/metadata"
	"github.com/opsloop/orchestrator-core/metrics"
	"github.com/opsloop/orchestrator-core/resolution"
	"github.com/opsloop/orchestrator-core/rollback"
	"github.com/opsloop/orchestrator-core/sessionbuilder"
	"github.com/opsloop/orchestrator-core/storage"
	"github.com/opsloop/orchestrator-core/streambus"
)

// Facade wires every component the §4.14 entry points need.
type Facade struct {
	sessions storage.SessionStore
	runbooks storage.RunbookStore
	tickets  storage.TicketStore

	bus         streambus.Bus
	idempotency idempotency.Store
	resolver    *metadata.Resolver
	pub         *events.Publisher
	exec        *executor.Executor
	approvals   *approval.Controller
	rollback    *rollback.Engine
	verifier    *resolution.Verifier
	metrics     *metrics.Metrics
	logger      core.Logger

	cfg *config.Config
}

// New constructs a Facade. cfg supplies stream names, idempotency TTL,
// and the worker-orchestration on/off switch (§6).
func New(
	sessions storage.SessionStore,
	runbooks storage.RunbookStore,
	tickets storage.TicketStore,
	bus streambus.Bus,
	idem idempotency.Store,
	resolver *metadata.Resolver,
	pub *events.Publisher,
	exec *executor.Executor,
	approvals *approval.Controller,
	rollbackEngine *rollback.Engine,
	verifier *resolution.Verifier,
	m *metrics.Metrics,
	logger core.Logger,
	cfg *config.Config,
) *Facade {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Facade{
		sessions: sessions, runbooks: runbooks, tickets: tickets,
		bus: bus, idempotency: idem, resolver: resolver, pub: pub,
		exec: exec, approvals: approvals, rollback: rollbackEngine,
		verifier: verifier, metrics: m, logger: logger, cfg: cfg,
	}
}

// CreateSessionRequest is the input to CreateExecutionSession.
type CreateSessionRequest struct {
	RunbookID      string
	Tenant         string
	TicketID       *string
	UserID         *string
	Issue          string
	Metadata       map[string]interface{}
	IdempotencyKey string
}

// CreateExecutionSession builds and persists a new session from a
// runbook, optionally substituting a ticket's fields into its body
// (§4.7), and publishes its initial assignment and creation event
// (§4.14). A repeated call with the same idempotency_key returns the
// session the first call created rather than building a second one.
func (f *Facade) CreateExecutionSession(ctx context.Context, req CreateSessionRequest) (*domain.ExecutionSession, error) {
	if req.IdempotencyKey != "" {
		existing, found, err := f.idempotency.Reserve(ctx, idempotency.ScopeSessionCreate, req.IdempotencyKey, f.cfg.NormalizedIdempotencyTTL())
		if err != nil {
			return nil, err
		}
		if found {
			var sessionID int64
			if err := idempotency.UnmarshalValue(existing, &sessionID); err != nil {
				return nil, fmt.Errorf("decoding idempotent session id: %w", err)
			}
			return f.sessions.GetSession(ctx, sessionID)
		}
	}

	session, err := f.buildAndPersistSession(ctx, req)
	if err != nil {
		if req.IdempotencyKey != "" {
			f.releaseBestEffort(ctx, idempotency.ScopeSessionCreate, req.IdempotencyKey)
		}
		return nil, err
	}

	if req.IdempotencyKey != "" {
		val, marshalErr := idempotency.MarshalValue(session.ID)
		if marshalErr != nil {
			return nil, marshalErr
		}
		if err := f.idempotency.Commit(ctx, idempotency.ScopeSessionCreate, req.IdempotencyKey, val, f.cfg.NormalizedIdempotencyTTL()); err != nil {
			return nil, err
		}
	}
	return session, nil
}

func (f *Facade) buildAndPersistSession(ctx context.Context, req CreateSessionRequest) (*domain.ExecutionSession, error) {
	runbook, err := f.runbooks.GetRunbook(ctx, req.RunbookID)
	if err != nil {
		return nil, err
	}

	var ticket *domain.Ticket
	if req.TicketID != nil {
		t, err := f.tickets.GetTicket(ctx, *req.TicketID)
		if err != nil {
			return nil, err
		}
		ticket = t
	}

	body := runbook.Body
	if ticket != nil {
		body = sessionbuilder.SubstitutePlaceholders(body, ticket)
	}
	parsed, err := sessionbuilder.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing runbook %s: %w", runbook.ID, err)
	}

	now := time.Now()
	session := &domain.ExecutionSession{
		Tenant:           req.Tenant,
		RunbookID:        req.RunbookID,
		TicketID:         req.TicketID,
		UserID:           req.UserID,
		IssueDescription: req.Issue,
		Status:           domain.SessionPending,
		TransportChannel: "api",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := f.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	steps, profile, err := sessionbuilder.BuildSteps(session.ID, parsed)
	if err != nil {
		return nil, fmt.Errorf("building steps for session %d: %w", session.ID, err)
	}
	if err := f.sessions.CreateSteps(ctx, steps); err != nil {
		return nil, err
	}
	session.TotalSteps = len(steps)
	session.SandboxProfile = profile
	session.CurrentStep = 1
	if err := f.sessions.UpdateSession(ctx, session); err != nil {
		return nil, err
	}

	if err := f.publishAssignment(ctx, session, req.Metadata); err != nil {
		return nil, err
	}

	if _, err := f.pub.Publish(ctx, session, domain.EventSessionCreated, map[string]interface{}{
		"runbook_id":  session.RunbookID,
		"total_steps": session.TotalSteps,
		"metadata":    req.Metadata,
	}, nil); err != nil {
		return nil, err
	}
	return session, nil
}

// publishAssignment publishes the session's assignment envelope to
// session.assign (§6 wire format: "the sanitized metadata for the
// target host plus session identity") and records an
// AgentWorkerAssignment row. A nil bus or WorkerOrchestrationOn=false
// skips both, matching §6's WORKER_ORCHESTRATION_ENABLED master switch.
func (f *Facade) publishAssignment(ctx context.Context, session *domain.ExecutionSession, stepMetadata map[string]interface{}) error {
	if f.bus == nil || !f.cfg.WorkerOrchestrationOn {
		return nil
	}
	sanitized := metadata.Sanitize(stepMetadata)
	envelope := map[string]interface{}{
		"session_id": session.ID,
		"tenant_id":  session.Tenant,
		"metadata":   sanitized,
	}
	streamID, err := f.bus.Publish(ctx, f.cfg.Streams.Assign, envelope, f.cfg.DefaultMaxLen, true)
	if err != nil {
		f.metrics.ObserveAssignment("failed")
		return fmt.Errorf("publishing assignment for session %d: %w", session.ID, err)
	}
	if err := f.sessions.CreateAssignment(ctx, &domain.AgentWorkerAssignment{
		SessionID: session.ID,
		Status:    domain.AssignmentPending,
		Details:   map[string]interface{}{"stream_id": streamID, "metadata": sanitized},
		CreatedAt: time.Now(),
	}); err != nil {
		return err
	}
	f.metrics.ObserveAssignment(string(domain.AssignmentPending))
	return nil
}

// StartExecutionSession runs step 1 (or parks at its approval gate) for
// a freshly created session (§2 control flow: "on start, the executor
// runs step 1 or waits on an approval gate").
func (f *Facade) StartExecutionSession(ctx context.Context, sessionID int64) (*domain.ExecutionSession, error) {
	session, err := f.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsTerminal() {
		return nil, fmt.Errorf("session %d is terminal: %w", sessionID, core.ErrSessionTerminal)
	}
	if err := f.exec.Start(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetExecutionSession returns session id's current row.
func (f *Facade) GetExecutionSession(ctx context.Context, id int64) (*domain.ExecutionSession, error) {
	return f.sessions.GetSession(ctx, id)
}

// ListSessionEvents is the §4.11 readback, unwrapped to the inner
// application payload plus envelope timestamp.
func (f *Facade) ListSessionEvents(ctx context.Context, sessionID int64, sinceID int64, limit int) ([]events.UnwrappedEvent, error) {
	return f.pub.ListEvents(ctx, sessionID, sinceID, limit)
}

// UpdateStepRequest is the input to UpdateExecutionStep.
type UpdateStepRequest struct {
	SessionID  int64
	StepNumber int
	Completed  *bool
	Success    *bool
	Output     *string
	Notes      *string
	Approved   *bool
	User       string
}

// UpdateExecutionStep applies an atomic patch to one step, enforcing
// that a terminal session admits no further mutation and that any
// approval decision in the patch routes through the Approval
// Controller rather than being written directly (§4.14).
func (f *Facade) UpdateExecutionStep(ctx context.Context, req UpdateStepRequest) (*domain.ExecutionStep, error) {
	session, err := f.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.IsTerminal() {
		return nil, fmt.Errorf("session %d is terminal: %w", session.ID, core.ErrSessionTerminal)
	}
	step, err := f.sessions.GetStep(ctx, req.SessionID, req.StepNumber)
	if err != nil {
		return nil, err
	}

	if req.Approved != nil {
		if err := f.approvals.Decide(ctx, session, step, req.User, *req.Approved); err != nil {
			return nil, err
		}
		return f.sessions.GetStep(ctx, req.SessionID, req.StepNumber)
	}

	if req.Completed != nil {
		step.Completed = *req.Completed
	}
	if req.Success != nil {
		step.Success = req.Success
	}
	if req.Output != nil {
		step.Output = *req.Output
	}
	if req.Notes != nil {
		step.Description = *req.Notes
	}
	if err := f.sessions.UpdateStep(ctx, step); err != nil {
		return nil, err
	}
	return step, nil
}

// SubmitCommandRequest is the input to SubmitManualCommand.
type SubmitCommandRequest struct {
	SessionID      int64
	Command        string
	Shell          string
	RunAs          string
	Reason         string
	TimeoutSeconds int
	UserID         *string
	IdempotencyKey string
}

// SubmitManualCommand publishes an operator-initiated command to
// session.command (§4.14). The idempotency key defaults to
// SHA-256(session|command|shell|run_as|reason) when the caller doesn't
// supply one, so two identical accidental double-clicks collapse onto
// one published command.
func (f *Facade) SubmitManualCommand(ctx context.Context, req SubmitCommandRequest) (string, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = commandIdempotencyKey(req.SessionID, req.Command, req.Shell, req.RunAs, req.Reason)
	}

	existing, found, err := f.idempotency.Reserve(ctx, idempotency.ScopeSessionCommand, key, f.cfg.NormalizedIdempotencyTTL())
	if err != nil {
		return "", err
	}
	if found {
		var streamID string
		if err := idempotency.UnmarshalValue(existing, &streamID); err != nil {
			return "", fmt.Errorf("decoding idempotent command stream id: %w", err)
		}
		return streamID, nil
	}

	streamID, err := f.publishCommand(ctx, req)
	if err != nil {
		f.releaseBestEffort(ctx, idempotency.ScopeSessionCommand, key)
		return "", err
	}

	val, marshalErr := idempotency.MarshalValue(streamID)
	if marshalErr != nil {
		return "", marshalErr
	}
	if err := f.idempotency.Commit(ctx, idempotency.ScopeSessionCommand, key, val, f.cfg.NormalizedIdempotencyTTL()); err != nil {
		return "", err
	}
	return streamID, nil
}

func commandIdempotencyKey(sessionID int64, command, shell, runAs, reason string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s|%s|%s", sessionID, command, shell, runAs, reason)))
	return hex.EncodeToString(sum[:])
}

func (f *Facade) publishCommand(ctx context.Context, req SubmitCommandRequest) (string, error) {
	session, err := f.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return "", err
	}

	rawMetadata := map[string]interface{}{}
	if assignment, err := f.sessions.LatestAssignment(ctx, req.SessionID); err == nil && assignment != nil {
		if md, ok := assignment.Details["metadata"].(map[string]interface{}); ok {
			rawMetadata = md
		}
	} else if err != nil && !core.IsNotFound(err) {
		return "", err
	}

	resolved, err := f.resolver.Resolve(ctx, session.Tenant, rawMetadata)
	if err != nil {
		return "", err
	}
	sanitized := metadata.Sanitize(resolved)

	wire := map[string]interface{}{
		"session_id":      session.ID,
		"command":         req.Command,
		"shell":           req.Shell,
		"run_as":          req.RunAs,
		"reason":          req.Reason,
		"timeout_seconds": req.TimeoutSeconds,
		"idempotency_key": req.IdempotencyKey,
		"metadata":        sanitized,
	}
	if req.UserID != nil {
		wire["user_id"] = *req.UserID
	} else {
		wire["user_id"] = nil
	}

	streamID, err := f.bus.Publish(ctx, f.cfg.Streams.Command, wire, f.cfg.DefaultMaxLen, true)
	if err != nil {
		return "", fmt.Errorf("publishing manual command for session %d: %w", session.ID, err)
	}

	if _, err := f.pub.Publish(ctx, session, domain.EventCommandRequested, map[string]interface{}{
		"command": req.Command,
		"shell":   req.Shell,
		"run_as":  req.RunAs,
		"reason":  req.Reason,
	}, nil); err != nil {
		return "", err
	}
	return streamID, nil
}

// ControlAction is one of the three §4.14 control_execution_session
// actions.
type ControlAction string

const (
	ControlPause    ControlAction = "pause"
	ControlResume   ControlAction = "resume"
	ControlRollback ControlAction = "rollback"
)

// ControlExecutionSession applies pause/resume/rollback to session,
// each gated on the source status §4.14 names.
func (f *Facade) ControlExecutionSession(ctx context.Context, sessionID int64, action ControlAction, reason, user string) (*domain.ExecutionSession, error) {
	session, err := f.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch action {
	case ControlPause:
		return session, f.pause(ctx, session, reason)
	case ControlResume:
		return session, f.resume(ctx, session)
	case ControlRollback:
		return session, f.rollbackSession(ctx, session, reason)
	default:
		return nil, fmt.Errorf("unknown control action %q: %w", action, core.ErrValidationFailed)
	}
}

func (f *Facade) pause(ctx context.Context, session *domain.ExecutionSession, reason string) error {
	if session.Status != domain.SessionInProgress && session.Status != domain.SessionWaitingApproval {
		return fmt.Errorf("cannot pause session %d from %s: %w", session.ID, session.Status, core.ErrConflict)
	}
	previous := session.Status
	session.PausedFromStatus = string(previous)
	session.Status = domain.SessionPaused
	if err := f.sessions.UpdateSession(ctx, session); err != nil {
		return err
	}
	f.metrics.ObserveStateTransition(string(previous), string(session.Status))
	_, err := f.pub.Publish(ctx, session, domain.EventStateTransition, map[string]interface{}{
		"from": string(previous), "to": string(session.Status), "reason": reason,
	}, nil)
	return err
}

func (f *Facade) resume(ctx context.Context, session *domain.ExecutionSession) error {
	if session.Status != domain.SessionPaused {
		return fmt.Errorf("cannot resume session %d from %s: %w", session.ID, session.Status, core.ErrConflict)
	}
	restored := domain.SessionStatus(session.PausedFromStatus)
	if restored == "" {
		restored = domain.SessionInProgress
	}
	previous := session.Status
	session.Status = restored
	session.PausedFromStatus = ""
	if err := f.sessions.UpdateSession(ctx, session); err != nil {
		return err
	}
	f.metrics.ObserveStateTransition(string(previous), string(session.Status))
	if _, err := f.pub.Publish(ctx, session, domain.EventStateTransition, map[string]interface{}{
		"from": string(previous), "to": string(session.Status),
	}, nil); err != nil {
		return err
	}

	next, err := f.sessions.GetStep(ctx, session.ID, session.CurrentStep)
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return err
	}
	if next.Completed {
		return nil
	}
	if next.RequiresApproval && next.Approved == nil {
		session.Status = domain.SessionWaitingApproval
		session.WaitingForApproval = true
		stepNumber := next.StepNumber
		session.ApprovalStepNumber = &stepNumber
		if err := f.sessions.UpdateSession(ctx, session); err != nil {
			return err
		}
		_, err := f.pub.Publish(ctx, session, domain.EventWaitingApproval, map[string]interface{}{
			"step_number": next.StepNumber,
		}, &stepNumber)
		return err
	}
	return f.exec.ExecuteStep(ctx, session, next)
}

func (f *Facade) rollbackSession(ctx context.Context, session *domain.ExecutionSession, reason string) error {
	if session.Status != domain.SessionPaused && session.Status != domain.SessionFailed {
		return fmt.Errorf("cannot roll back session %d from %s: %w", session.ID, session.Status, core.ErrConflict)
	}
	steps, err := f.sessions.ListSteps(ctx, session.ID)
	if err != nil {
		return err
	}
	cfg, err := f.exec.RollbackConnectorConfig(ctx, session)
	if err != nil {
		return err
	}

	previous := session.Status
	if _, err := f.pub.Publish(ctx, session, domain.EventRollbackStarted, map[string]interface{}{"reason": reason}, nil); err != nil {
		return err
	}
	outcomes := f.rollback.Run(ctx, steps, cfg)
	if _, err := f.pub.Publish(ctx, session, domain.EventRollbackCompleted, map[string]interface{}{"outcomes": outcomes}, nil); err != nil {
		return err
	}

	session.Status = domain.SessionRolledBack
	now := time.Now()
	session.CompletedAt = &now
	if err := f.sessions.UpdateSession(ctx, session); err != nil {
		return err
	}
	f.metrics.ObserveStateTransition(string(previous), string(session.Status))
	return nil
}

// CompleteExecutionSession attaches operator feedback (§4.14
// complete_execution_session). It is forbidden on an already-terminal
// session except to overwrite a prior feedback record, matching the
// spec's narrow carve-out.
func (f *Facade) CompleteExecutionSession(ctx context.Context, sessionID int64, wasSuccessful, issueResolved bool, rating int, feedbackText string, suggestions []string) error {
	session, err := f.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	feedback := &domain.SessionFeedback{
		SessionID:     sessionID,
		WasSuccessful: wasSuccessful,
		IssueResolved: issueResolved,
		Rating:        rating,
		Feedback:      feedbackText,
		Suggestions:   suggestions,
		CreatedAt:     time.Now(),
	}
	_ = session // terminal sessions are allowed here specifically to overwrite feedback (§4.14)
	return f.sessions.SaveFeedback(ctx, feedback)
}

// AbandonExecutionSession transitions a non-terminal session to
// abandoned and escalates its ticket (§4.14).
func (f *Facade) AbandonExecutionSession(ctx context.Context, sessionID int64, reason string) error {
	session, err := f.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.IsTerminal() {
		return fmt.Errorf("session %d is terminal: %w", sessionID, core.ErrSessionTerminal)
	}
	previous := session.Status
	now := time.Now()
	session.Status = domain.SessionAbandoned
	session.CompletedAt = &now
	if err := f.sessions.UpdateSession(ctx, session); err != nil {
		return err
	}
	f.metrics.ObserveStateTransition(string(previous), string(session.Status))

	if session.TicketID != nil {
		ticket, err := f.tickets.GetTicket(ctx, *session.TicketID)
		if err != nil {
			f.logger.Warn("abandon: could not load ticket", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
		} else if err := f.verifier.ReconcileTerminal(ctx, session.Tenant, ticket, domain.SessionAbandoned); err != nil {
			f.logger.Warn("abandon: ticket reconciliation failed", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
		}
	}

	_, err = f.pub.Publish(ctx, session, domain.EventSessionFailed, map[string]interface{}{"reason": reason, "abandoned": true}, nil)
	return err
}

func (f *Facade) releaseBestEffort(ctx context.Context, scope, key string) {
	if err := f.idempotency.Release(ctx, scope, key); err != nil {
		f.logger.Warn("idempotency release failed", map[string]interface{}{"scope": scope, "key": key, "error": err.Error()})
	}
}
