// Package rollback implements the Rollback Engine (§4.10): on session
// failure, unwind completed successful steps in reverse, each against
// the connector configuration that ran the session's first step.
package rollback

import (
	"context"
	"time"

	"github.com/opsloop/orchestrator-core/connectors"
	"github.com/opsloop/orchestrator-core/core"
	"github.com/opsloop/orchestrator-core/domain"
)

// DefaultTimeout is the fixed per-step rollback timeout named in §4.10.
const DefaultTimeout = 30 * time.Second

// Outcome is one step's rollback attempt result, used by the caller to
// build the session.rollback.completed event payload.
type Outcome struct {
	StepNumber int    `json:"step_number"`
	Attempted  bool   `json:"attempted"`
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Engine runs the rollback sweep. Timeout defaults to DefaultTimeout
// when zero.
type Engine struct {
	logger  core.Logger
	timeout time.Duration
}

// New constructs an Engine. A zero timeout falls back to DefaultTimeout.
func New(logger core.Logger, timeout time.Duration) *Engine {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{logger: logger, timeout: timeout}
}

// Run executes rollback_command for every completed, successful step in
// steps, descending by StepNumber, against cfg (the configuration that
// ran the session's first step). Steps with an empty rollback_command
// are skipped without an attempt. A per-step failure is logged and does
// not abort the sweep (§4.10): the caller is responsible for leaving the
// session in its failed state regardless of rollback outcome.
func (e *Engine) Run(ctx context.Context, steps []*domain.ExecutionStep, cfg connectors.Config) []Outcome {
	candidates := make([]*domain.ExecutionStep, 0, len(steps))
	for _, s := range steps {
		if s.Succeeded() {
			candidates = append(candidates, s)
		}
	}
	for i, j := 0, len(candidates)-1; i < j; i, j = i+1, j-1 {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}

	conn, err := connectors.New(cfg.ConnectorType)
	if err != nil {
		e.logger.Error("rollback sweep: unresolvable connector", map[string]interface{}{
			"connector_type": string(cfg.ConnectorType),
			"error":          err.Error(),
		})
		out := make([]Outcome, 0, len(candidates))
		for _, s := range candidates {
			out = append(out, Outcome{StepNumber: s.StepNumber, Attempted: false})
		}
		return out
	}

	out := make([]Outcome, 0, len(candidates))
	for _, s := range candidates {
		if s.RollbackCommand == "" {
			out = append(out, Outcome{StepNumber: s.StepNumber, Attempted: false})
			continue
		}
		result, execErr := conn.Execute(ctx, s.RollbackCommand, cfg, e.timeout)
		if execErr != nil {
			e.logger.Warn("rollback step failed to execute", map[string]interface{}{
				"step_number": s.StepNumber,
				"error":       execErr.Error(),
			})
			out = append(out, Outcome{StepNumber: s.StepNumber, Attempted: true, Success: false, Error: execErr.Error()})
			continue
		}
		if !result.Success {
			e.logger.Warn("rollback step command failed", map[string]interface{}{
				"step_number": s.StepNumber,
				"error":       result.Error,
			})
		}
		out = append(out, Outcome{
			StepNumber: s.StepNumber,
			Attempted:  true,
			Success:    result.Success,
			Output:     result.Output,
			Error:      result.Error,
		})
	}
	return out
}
