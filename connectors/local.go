package connectors

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/opsloop/orchestrator-core/domain"
)

// LocalConnector runs the command on the orchestrator's own host via
// os/exec, wrapped by the configured (or default) shell. It is the
// fallback connector (§4.8 step 2: "... -> local default"). It reports a
// connection error only when the shell process cannot be started; every
// other failure is a command-level exit or a timeout.
type LocalConnector struct{}

func (LocalConnector) Execute(ctx context.Context, command string, cfg Config, timeout time.Duration) (domain.StepResult, error) {
	return executeWithRetry(ctx, cfg, nil, func(attemptCtx context.Context, attemptTimeout time.Duration) domain.StepResult {
		if timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(attemptCtx, timeoutFloor(timeout, attemptTimeout))
			defer cancel()
		}
		shell := shellFor(cfg)
		argv := wrapShellCommand(shell, command)

		cmd := exec.CommandContext(attemptCtx, argv[0], argv[1:]...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		start := time.Now()
		err := cmd.Run()
		dur := time.Since(start)

		res := domain.StepResult{
			Output:     Redact(stdout.String()),
			Error:      Redact(stderr.String()),
			DurationMS: dur.Milliseconds(),
		}
		if err == nil {
			res.Success = true
			return res
		}
		if attemptCtx.Err() != nil {
			res.Error = "local command timed out"
			res.FailureKind = string(FailureTimeout)
			return res
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			if res.Error == "" {
				res.Error = err.Error()
			}
			return res
		}
		// Could not even start the process (missing shell binary, etc.) —
		// treated as a connection-level failure since it is not the
		// target command's own non-zero exit.
		res.ConnectionError = true
		res.Error = err.Error()
		return res
	}), nil
}
