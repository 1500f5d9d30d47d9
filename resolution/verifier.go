// Package resolution implements the Resolution Verifier (§4.12): after a
// session terminates, decide whether the underlying ticket issue was
// actually resolved and reconcile the ticket's status accordingly.
// Confidence bands and the ticket-status reconciliation table are
// carried unchanged from
// _examples/original_source/backend/app/services/resolution_verification_service.py
// and ticket_status_service.py.
package resolution

import (
	"context"
	"fmt"

	"github.com/opsloop/orchestrator-core/core"
	"github.com/opsloop/orchestrator-core/domain"
	"github.com/opsloop/orchestrator-core/storage"
)

// StatusPusher pushes a ticket's new status and an explanatory comment
// back to the external ticketing tool. Implemented by an embedding
// service's tool-specific client; the core only calls it (§1, external
// collaborator).
type StatusPusher interface {
	PushStatus(ctx context.Context, tenant string, ticket *domain.Ticket, comment string) error
}

// Verification is the decision §4.12 computes from a terminated
// session's steps.
type Verification struct {
	Resolved         bool    `json:"resolved"`
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning"`
	Method           string  `json:"verification_method"`
	SuccessRate      float64 `json:"success_rate"`
	TotalSteps       int     `json:"total_steps"`
	SuccessfulSteps  int     `json:"successful_steps"`
	FailedSteps      int     `json:"failed_steps"`
}

// Verifier computes resolution verdicts and reconciles ticket status.
type Verifier struct {
	tickets storage.TicketStore
	pusher  StatusPusher
	logger  core.Logger
}

// New constructs a Verifier. pusher may be nil when no external
// ticketing tool is configured.
func New(tickets storage.TicketStore, pusher StatusPusher, logger core.Logger) *Verifier {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Verifier{tickets: tickets, pusher: pusher, logger: logger}
}

// Verify computes the §4.12 confidence-banded decision for a session
// that terminated with status "completed". It does not itself reconcile
// the ticket; call ReconcileCompleted with the result for that.
func Verify(steps []*domain.ExecutionStep) Verification {
	if len(steps) == 0 {
		return Verification{Method: "step_analysis", Reasoning: "no execution steps found"}
	}

	var successful, failed int
	for _, s := range steps {
		if !s.Completed {
			continue
		}
		if s.Success != nil && *s.Success {
			successful++
		} else if s.Success != nil && !*s.Success {
			failed++
		}
	}
	successRate := float64(successful) / float64(len(steps))

	postcheckSuccess := true
	hasPostchecks := false
	for _, s := range steps {
		if s.StepType != domain.StepPostcheck {
			continue
		}
		hasPostchecks = true
		if s.Completed && !(s.Success != nil && *s.Success) {
			postcheckSuccess = false
		}
	}

	v := Verification{
		Method:          "step_analysis",
		SuccessRate:     successRate,
		TotalSteps:      len(steps),
		SuccessfulSteps: successful,
		FailedSteps:     failed,
	}

	switch {
	case successRate == 1.0 && (!hasPostchecks || postcheckSuccess):
		v.Resolved, v.Confidence = true, 0.9
		v.Reasoning = "all execution steps completed successfully"
	case successRate >= 0.8:
		v.Resolved, v.Confidence = true, 0.7
		v.Reasoning = fmt.Sprintf("most steps succeeded (%d/%d)", successful, len(steps))
	case successRate >= 0.5:
		v.Resolved, v.Confidence = false, 0.5
		v.Reasoning = fmt.Sprintf("mixed results (%d/%d steps succeeded)", successful, len(steps))
	default:
		v.Resolved, v.Confidence = false, 0.9
		v.Reasoning = fmt.Sprintf("most steps failed (%d/%d steps failed)", failed, len(steps))
	}
	return v
}

// ReconcileCompleted applies the §4.12 ticket-status table for a
// "completed" execution: resolved -> resolved+resolved_at;
// low-confidence non-resolution (confidence < 0.7) -> in_progress;
// high-confidence failure -> escalated. When ticket.Source names an
// external tool, the new status plus a summary comment are pushed back
// through the configured StatusPusher (best effort: a push failure is
// logged, not returned, since the local reconciliation already
// committed).
func (v *Verifier) ReconcileCompleted(ctx context.Context, tenant string, ticket *domain.Ticket, verdict Verification) error {
	var status domain.TicketStatus
	switch {
	case verdict.Resolved:
		status = domain.TicketResolved
	case verdict.Confidence < 0.7:
		status = domain.TicketInProgress
	default:
		status = domain.TicketEscalated
	}
	if err := v.tickets.UpdateTicketStatus(ctx, ticket.ID, status); err != nil {
		return fmt.Errorf("reconcile ticket %s: %w", ticket.ID, err)
	}
	ticket.Status = status
	v.pushBestEffort(ctx, tenant, ticket, verdict.Reasoning)
	return nil
}

// ReconcileTerminal applies the table's non-"completed" rows: a failed
// execution escalates the ticket, a rejected one returns it to
// in_progress for retry, and an abandoned one escalates it.
func (v *Verifier) ReconcileTerminal(ctx context.Context, tenant string, ticket *domain.Ticket, sessionStatus domain.SessionStatus) error {
	var status domain.TicketStatus
	switch sessionStatus {
	case domain.SessionFailed:
		status = domain.TicketEscalated
	case domain.SessionRejected:
		status = domain.TicketInProgress
	case domain.SessionAbandoned:
		status = domain.TicketEscalated
	default:
		return nil
	}
	if err := v.tickets.UpdateTicketStatus(ctx, ticket.ID, status); err != nil {
		return fmt.Errorf("reconcile ticket %s: %w", ticket.ID, err)
	}
	ticket.Status = status
	v.pushBestEffort(ctx, tenant, ticket, fmt.Sprintf("execution session ended as %s", sessionStatus))
	return nil
}

// MarkFalsePositive closes a ticket classified as a false positive.
func (v *Verifier) MarkFalsePositive(ctx context.Context, tenant string, ticket *domain.Ticket) error {
	if err := v.tickets.UpdateTicketStatus(ctx, ticket.ID, domain.TicketClosed); err != nil {
		return fmt.Errorf("close ticket %s: %w", ticket.ID, err)
	}
	ticket.Status = domain.TicketClosed
	v.pushBestEffort(ctx, tenant, ticket, "classified as false positive")
	return nil
}

func (v *Verifier) pushBestEffort(ctx context.Context, tenant string, ticket *domain.Ticket, comment string) {
	if v.pusher == nil || ticket.Source == "" {
		return
	}
	if err := v.pusher.PushStatus(ctx, tenant, ticket, comment); err != nil {
		v.logger.Warn("failed to push ticket status to external tool", map[string]interface{}{
			"ticket_id": ticket.ID,
			"source":    ticket.Source,
			"error":     err.Error(),
		})
	}
}
