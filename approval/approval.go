// Package approval implements the Approval Controller (§4.9): decide a
// pending approval gate, failing the session on reject (no rollback
// sweep is run) or handing off to the Step Executor's post-success chain
// on approve.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/opsloop/orchestrator-core/core"
	"github.com/opsloop/orchestrator-core/domain"
	"github.com/opsloop/orchestrator-core/events"
	"github.com/opsloop/orchestrator-core/executor"
	"github.com/opsloop/orchestrator-core/metrics"
	"github.com/opsloop/orchestrator-core/resolution"
	"github.com/opsloop/orchestrator-core/storage"
)

// Controller resolves approve/reject decisions against a step sitting at
// its approval gate. It calls back into executor.Executor for the
// approve path rather than re-implementing the post-success branching
// (§4.8 step 6) a second time.
type Controller struct {
	sessions storage.SessionStore
	tickets  storage.TicketStore
	pub      *events.Publisher
	exec     *executor.Executor
	verifier *resolution.Verifier
	metrics  *metrics.Metrics
	logger   core.Logger
}

// New constructs a Controller.
func New(
	sessions storage.SessionStore,
	tickets storage.TicketStore,
	pub *events.Publisher,
	exec *executor.Executor,
	verifier *resolution.Verifier,
	m *metrics.Metrics,
	logger core.Logger,
) *Controller {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Controller{sessions: sessions, tickets: tickets, pub: pub, exec: exec, verifier: verifier, metrics: m, logger: logger}
}

// Decide applies an approve/reject decision to step (§4.9). Preconditions:
// the session is not terminal, step.RequiresApproval, and step.Approved
// is still nil (one decision per gate, §3 Invariants).
func (c *Controller) Decide(ctx context.Context, session *domain.ExecutionSession, step *domain.ExecutionStep, user string, approve bool) error {
	if session.IsTerminal() {
		return fmt.Errorf("session %d is terminal: %w", session.ID, core.ErrSessionTerminal)
	}
	if !step.RequiresApproval {
		return fmt.Errorf("step %d does not require approval: %w", step.StepNumber, core.ErrNotAwaitingApproval)
	}
	if step.Approved != nil {
		return fmt.Errorf("step %d already decided: %w", step.StepNumber, core.ErrAlreadyApproved)
	}

	now := time.Now()
	decision := approve
	step.Approved = &decision
	if user != "" {
		step.ApprovedBy = &user
	}
	step.ApprovedAt = &now
	if err := c.sessions.UpdateStep(ctx, step); err != nil {
		return err
	}

	if !approve {
		return c.reject(ctx, session, step)
	}
	return c.approveAndRun(ctx, session, step)
}

// reject fails the session, clears the gate, reconciles the ticket and
// publishes the rejected and failed events; it runs no rollback sweep,
// matching §4.9's
// "If rejected: session → failed" and end-to-end scenario 2 exactly
// (not the "rejected" terminal status also named in §3, which this
// module reserves for a future manual-rejection path outside approval
// gates — see DESIGN.md).
func (c *Controller) reject(ctx context.Context, session *domain.ExecutionSession, step *domain.ExecutionStep) error {
	previous := session.Status
	now := time.Now()
	session.Status = domain.SessionFailed
	session.WaitingForApproval = false
	session.ApprovalStepNumber = nil
	session.CompletedAt = &now
	if err := c.sessions.UpdateSession(ctx, session); err != nil {
		return err
	}
	c.metrics.ObserveStateTransition(string(previous), string(session.Status))

	if session.TicketID != nil {
		ticket, err := c.tickets.GetTicket(ctx, *session.TicketID)
		if err != nil {
			c.logger.Warn("approval reject: could not load ticket", map[string]interface{}{"session_id": session.ID, "error": err.Error()})
		} else if err := c.verifier.ReconcileTerminal(ctx, session.Tenant, ticket, domain.SessionFailed); err != nil {
			c.logger.Warn("approval reject: ticket reconciliation failed", map[string]interface{}{"session_id": session.ID, "error": err.Error()})
		}
	}

	stepNumber := step.StepNumber
	if _, err := c.pub.Publish(ctx, session, domain.EventRejected, map[string]interface{}{
		"step_number": step.StepNumber,
	}, &stepNumber); err != nil {
		return err
	}
	_, err := c.pub.Publish(ctx, session, domain.EventSessionFailed, map[string]interface{}{"reason": "approval_rejected"}, nil)
	return err
}

// approveAndRun clears the gate and executes step, chaining onward via
// ExecuteStep's ordinary post-success logic (§4.9 "execute the step via
// the Step Executor. After that returns, chain onward exactly as the
// executor's post-success logic").
func (c *Controller) approveAndRun(ctx context.Context, session *domain.ExecutionSession, step *domain.ExecutionStep) error {
	session.WaitingForApproval = false
	session.ApprovalStepNumber = nil
	if err := c.sessions.UpdateSession(ctx, session); err != nil {
		return err
	}

	stepNumber := step.StepNumber
	if _, err := c.pub.Publish(ctx, session, domain.EventApproved, map[string]interface{}{
		"step_number": step.StepNumber,
	}, &stepNumber); err != nil {
		return err
	}
	return c.exec.ExecuteStep(ctx, session, step)
}
