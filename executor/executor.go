// Package executor implements the Step Executor (§4.8): runs a single
// step via a connector, persists its outcome, and chains into the next
// step, an approval wait, or session completion. Grounded on
// _examples/original_source/backend/app/services/execution/step_execution_service.py
// (StepExecutionService.execute_step) and approval_service.py's
// post-approval continuation, which the Approval Controller (approval/)
// reuses by calling back into this package rather than duplicating the
// branching logic.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/opsloop/orchestrator-core/connectors"
	"github.com/opsloop/orchestrator-core/core"
	"github.com/opsloop/orchestrator-core/domain"
	"github.com/opsloop/orchestrator-core/events"
	"github.com/opsloop/orchestrator-core/metadata"
	"github.com/opsloop/orchestrator-core/metrics"
	"github.com/opsloop/orchestrator-core/resolution"
	"github.com/opsloop/orchestrator-core/rollback"
	"github.com/opsloop/orchestrator-core/storage"
)

// defaultStepTimeout is the fixed per-step connector timeout (§4.8 step 3).
const defaultStepTimeout = 30 * time.Second

// Executor runs execution steps end to end, including the chain of
// auto-executed steps that follow a success (§4.8 step 6).
type Executor struct {
	sessions storage.SessionStore
	tickets  storage.TicketStore
	runbooks storage.RunbookStore
	infra    storage.InfrastructureConnectionStore
	resolver *metadata.Resolver
	pub      *events.Publisher
	rollback *rollback.Engine
	verifier *resolution.Verifier
	metrics  *metrics.Metrics
	logger   core.Logger
}

// New constructs an Executor.
func New(
	sessions storage.SessionStore,
	tickets storage.TicketStore,
	runbooks storage.RunbookStore,
	infra storage.InfrastructureConnectionStore,
	resolver *metadata.Resolver,
	pub *events.Publisher,
	rollbackEngine *rollback.Engine,
	verifier *resolution.Verifier,
	m *metrics.Metrics,
	logger core.Logger,
) *Executor {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Executor{
		sessions: sessions, tickets: tickets, runbooks: runbooks, infra: infra,
		resolver: resolver, pub: pub, rollback: rollbackEngine, verifier: verifier,
		metrics: m, logger: logger,
	}
}

// Start drives a freshly created session's first step (§2 control flow:
// "on start, the executor runs step 1 or waits on an approval gate").
// Step 1 itself is subject to the same approval gate as any other step
// (end-to-end scenario 2: a single approval-gated main step goes
// straight from `pending` to `waiting_approval` without ever running),
// so Start checks RequiresApproval before handing off to ExecuteStep
// rather than unconditionally executing step 1.
func (e *Executor) Start(ctx context.Context, session *domain.ExecutionSession) error {
	step, err := e.sessions.GetStep(ctx, session.ID, 1)
	if err != nil {
		return err
	}
	if step.RequiresApproval {
		return e.waitForApproval(ctx, session, step)
	}
	session.CurrentStep = step.StepNumber
	return e.ExecuteStep(ctx, session, step)
}

// ExecuteStep runs step and every subsequent auto-executed step until the
// chain hits a failure, an approval gate, or session completion (§4.8
// step 6). Callers resuming after an approval pass the now-approved step
// here directly, reusing the same post-success branching rather than
// re-implementing it (§4.9).
func (e *Executor) ExecuteStep(ctx context.Context, session *domain.ExecutionSession, step *domain.ExecutionStep) error {
	current := step
	for {
		if err := e.runOne(ctx, session, current); err != nil {
			return err
		}
		if session.Status == domain.SessionFailed {
			return nil
		}

		next, err := e.nextPendingStep(ctx, session, current.StepNumber)
		if err != nil {
			return err
		}
		if next == nil {
			return e.complete(ctx, session)
		}
		if next.RequiresApproval {
			return e.waitForApproval(ctx, session, next)
		}

		session.CurrentStep = next.StepNumber
		if err := e.sessions.UpdateSession(ctx, session); err != nil {
			return err
		}
		current = next
	}
}

func (e *Executor) nextPendingStep(ctx context.Context, session *domain.ExecutionSession, afterStepNumber int) (*domain.ExecutionStep, error) {
	next, err := e.sessions.GetStep(ctx, session.ID, afterStepNumber+1)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if next.Completed {
		return nil, nil
	}
	return next, nil
}

// runOne executes a single step against its resolved connector config and
// persists the outcome (§4.8 steps 1-4, 7). Any connector-layer error
// (unresolvable connector kind, execute failure) is converted into a
// failed step result rather than propagated, per §7's "connector errors
// never escape the Step Executor".
func (e *Executor) runOne(ctx context.Context, session *domain.ExecutionSession, step *domain.ExecutionStep) error {
	previousStatus := session.Status
	if session.Status != domain.SessionInProgress && session.Status != domain.SessionWaitingApproval {
		session.Status = domain.SessionInProgress
	}
	if session.StartedAt == nil {
		now := time.Now()
		session.StartedAt = &now
	}

	ticket, runbook, err := e.loadContext(ctx, session)
	if err != nil {
		return err
	}

	raw, err := e.effectiveConnectionMetadata(ctx, session.Tenant, session, ticket, runbook)
	if err != nil {
		return err
	}
	resolved, err := e.resolver.Resolve(ctx, session.Tenant, raw)
	if err != nil {
		return err
	}
	cfg := configFromMetadata(resolved)
	step.CredentialsUsed = credentialsUsedFrom(resolved)

	start := time.Now()
	result := e.dispatch(ctx, cfg, step.Command)
	duration := time.Since(start)

	step.MarkCompleted(result.Success, result.Output, result.Error, time.Now())
	if err := e.sessions.UpdateStep(ctx, step); err != nil {
		return err
	}

	e.metrics.ObserveStepDuration(string(cfg.ConnectorType), duration.Seconds())
	e.metrics.ObserveCommand(string(cfg.ConnectorType), outcomeLabel(result.Success), duration.Seconds())

	stepNumber := step.StepNumber
	if _, err := e.pub.Publish(ctx, session, domain.EventStepCompleted, map[string]interface{}{
		"step_number": step.StepNumber,
		"success":     result.Success,
		"output":      result.Output,
		"error":       result.Error,
	}, &stepNumber); err != nil {
		return err
	}

	if !result.Success {
		return e.handleFailure(ctx, session, ticket, previousStatus)
	}
	return e.sessions.UpdateSession(ctx, session)
}

// dispatch resolves the connector for cfg and executes command, folding
// an unresolvable connector kind into the same failed-result shape a
// connector-level execution error would produce.
func (e *Executor) dispatch(ctx context.Context, cfg connectors.Config, command string) domain.StepResult {
	conn, err := connectors.New(cfg.ConnectorType)
	if err != nil {
		return domain.StepResult{Success: false, Error: err.Error()}
	}
	result, err := conn.Execute(ctx, command, cfg, defaultStepTimeout)
	if err != nil {
		return domain.StepResult{Success: false, Error: err.Error()}
	}
	return result
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// loadContext fetches the session's ticket and runbook, tolerating a
// sessionless/ticketless session (ticket is nil when TicketID is unset).
func (e *Executor) loadContext(ctx context.Context, session *domain.ExecutionSession) (*domain.Ticket, *domain.Runbook, error) {
	var ticket *domain.Ticket
	if session.TicketID != nil {
		t, err := e.tickets.GetTicket(ctx, *session.TicketID)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return nil, nil, err
		}
		ticket = t
	}
	var runbook *domain.Runbook
	if session.RunbookID != "" {
		rb, err := e.runbooks.GetRunbook(ctx, session.RunbookID)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return nil, nil, err
		}
		runbook = rb
	}
	return ticket, runbook, nil
}

// handleFailure marks the session failed, runs the rollback sweep against
// step 1's connector configuration, reconciles ticket status, and
// publishes the failure events (§4.8 step 5, §4.10).
func (e *Executor) handleFailure(ctx context.Context, session *domain.ExecutionSession, ticket *domain.Ticket, previousStatus domain.SessionStatus) error {
	now := time.Now()
	session.Status = domain.SessionFailed
	session.CompletedAt = &now
	if err := e.sessions.UpdateSession(ctx, session); err != nil {
		return err
	}
	e.metrics.ObserveStateTransition(string(previousStatus), string(session.Status))

	steps, err := e.sessions.ListSteps(ctx, session.ID)
	if err != nil {
		e.logger.Error("rollback: failed to list steps", map[string]interface{}{"session_id": session.ID, "error": err.Error()})
	} else {
		rbCfg, cfgErr := e.rollbackConnectorConfig(ctx, session, ticket)
		if cfgErr != nil {
			e.logger.Error("rollback: could not resolve step-1 connector config", map[string]interface{}{"session_id": session.ID, "error": cfgErr.Error()})
		} else {
			if _, pubErr := e.pub.Publish(ctx, session, domain.EventRollbackStarted, map[string]interface{}{}, nil); pubErr != nil {
				e.logger.Warn("failed to publish rollback.started", map[string]interface{}{"session_id": session.ID, "error": pubErr.Error()})
			}
			outcomes := e.rollback.Run(ctx, steps, rbCfg)
			if _, pubErr := e.pub.Publish(ctx, session, domain.EventRollbackCompleted, map[string]interface{}{"outcomes": outcomes}, nil); pubErr != nil {
				e.logger.Warn("failed to publish rollback.completed", map[string]interface{}{"session_id": session.ID, "error": pubErr.Error()})
			}
		}
	}

	if ticket != nil {
		if err := e.verifier.ReconcileTerminal(ctx, session.Tenant, ticket, domain.SessionFailed); err != nil {
			e.logger.Warn("failed to reconcile ticket on session failure", map[string]interface{}{"session_id": session.ID, "error": err.Error()})
		}
	}

	_, err = e.pub.Publish(ctx, session, domain.EventSessionFailed, map[string]interface{}{}, nil)
	return err
}

// RollbackConnectorConfig recomputes step 1's effective connector config
// for session (§4.10: "the same connector configuration that ran step
// 1"). Exported so the façade's control_execution_session("rollback")
// path (§4.14) can invoke the Rollback Engine outside the failure path
// handleFailure already covers.
func (e *Executor) RollbackConnectorConfig(ctx context.Context, session *domain.ExecutionSession) (connectors.Config, error) {
	var ticket *domain.Ticket
	if session.TicketID != nil {
		t, err := e.tickets.GetTicket(ctx, *session.TicketID)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return connectors.Config{}, err
		}
		ticket = t
	}
	return e.rollbackConnectorConfig(ctx, session, ticket)
}

// rollbackConnectorConfig recomputes step 1's effective connector config
// (§4.10: "the same connector configuration that ran step 1"). Recompute
// rather than caching is safe because the priority chain is a pure
// function of the session's ticket/runbook/infrastructure-connection
// state, which does not change mid-execution.
func (e *Executor) rollbackConnectorConfig(ctx context.Context, session *domain.ExecutionSession, ticket *domain.Ticket) (connectors.Config, error) {
	var runbook *domain.Runbook
	if session.RunbookID != "" {
		rb, err := e.runbooks.GetRunbook(ctx, session.RunbookID)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return connectors.Config{}, err
		}
		runbook = rb
	}
	raw, err := e.effectiveConnectionMetadata(ctx, session.Tenant, session, ticket, runbook)
	if err != nil {
		return connectors.Config{}, err
	}
	resolved, err := e.resolver.Resolve(ctx, session.Tenant, raw)
	if err != nil {
		return connectors.Config{}, err
	}
	return configFromMetadata(resolved), nil
}

// waitForApproval transitions the session into its approval gate (§4.8
// step 6, first bullet).
func (e *Executor) waitForApproval(ctx context.Context, session *domain.ExecutionSession, next *domain.ExecutionStep) error {
	previous := session.Status
	session.Status = domain.SessionWaitingApproval
	session.WaitingForApproval = true
	stepNumber := next.StepNumber
	session.ApprovalStepNumber = &stepNumber
	session.CurrentStep = next.StepNumber
	if err := e.sessions.UpdateSession(ctx, session); err != nil {
		return err
	}
	e.metrics.ObserveStateTransition(string(previous), string(session.Status))
	_, err := e.pub.Publish(ctx, session, domain.EventWaitingApproval, map[string]interface{}{
		"step_number": next.StepNumber,
	}, &stepNumber)
	return err
}

// complete transitions the session to its terminal success state,
// computes total_duration_minutes, and invokes the Resolution Verifier
// (§4.8 step 6, third bullet; §4.12).
func (e *Executor) complete(ctx context.Context, session *domain.ExecutionSession) error {
	previous := session.Status
	now := time.Now()
	session.Status = domain.SessionCompleted
	session.CompletedAt = &now
	if session.StartedAt != nil {
		d := domain.DurationMinutes(*session.StartedAt, now)
		session.TotalDurationMinutes = &d
	}
	if err := e.sessions.UpdateSession(ctx, session); err != nil {
		return err
	}
	e.metrics.ObserveStateTransition(string(previous), string(session.Status))

	if session.TicketID != nil {
		ticket, err := e.tickets.GetTicket(ctx, *session.TicketID)
		if err != nil {
			e.logger.Warn("resolution verifier: could not load ticket", map[string]interface{}{"session_id": session.ID, "error": err.Error()})
		} else {
			steps, err := e.sessions.ListSteps(ctx, session.ID)
			if err != nil {
				e.logger.Warn("resolution verifier: could not list steps", map[string]interface{}{"session_id": session.ID, "error": err.Error()})
			} else {
				verdict := resolution.Verify(steps)
				if err := e.verifier.ReconcileCompleted(ctx, session.Tenant, ticket, verdict); err != nil {
					e.logger.Warn("resolution verifier: ticket reconciliation failed", map[string]interface{}{"session_id": session.ID, "error": err.Error()})
				}
			}
		}
	}

	_, err := e.pub.Publish(ctx, session, domain.EventSessionCompleted, map[string]interface{}{}, nil)
	return err
}
