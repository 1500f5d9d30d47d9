package connectors

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opsloop/orchestrator-core/domain"
)

// APIConnector treats "command" as an HTTP request body posted against
// cfg.APIBaseURL (cfg.APIMethod, default POST), for runbook steps that
// remediate via a REST call rather than a shell. Response 2xx is
// success; 4xx/5xx are command-level failures (the remote API accepted
// the connection but rejected the request); transport-level failures
// (DNS, TLS, connection refused) are connection errors. A request cut
// off by the attempt's deadline is reported as TIMEOUT, not as a
// connection error, so it is not retried.
type APIConnector struct{}

func (APIConnector) Execute(ctx context.Context, command string, cfg Config, timeout time.Duration) (domain.StepResult, error) {
	return executeWithRetry(ctx, cfg, nil, func(attemptCtx context.Context, attemptTimeout time.Duration) domain.StepResult {
		start := time.Now()
		method := cfg.APIMethod
		if method == "" {
			method = http.MethodPost
		}
		req, err := http.NewRequestWithContext(attemptCtx, method, cfg.APIBaseURL, bytes.NewBufferString(command))
		if err != nil {
			return domain.StepResult{Error: err.Error(), DurationMS: time.Since(start).Milliseconds()}
		}
		for k, v := range cfg.APIHeaders {
			req.Header.Set(k, v)
		}
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		client := &http.Client{Timeout: attemptTimeout}
		resp, err := client.Do(req)
		if err != nil {
			kind := FailureConnection
			if attemptCtx.Err() != nil {
				kind = FailureTimeout
			}
			return domain.StepResult{
				ConnectionError: kind == FailureConnection,
				FailureKind:     string(kind),
				Error:           Redact(fmt.Sprintf("api request failed: %v", err)),
				DurationMS:      time.Since(start).Milliseconds(),
			}
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		res := domain.StepResult{
			Output:     Redact(string(body)),
			ExitCode:   resp.StatusCode,
			DurationMS: time.Since(start).Milliseconds(),
		}
		res.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
		if !res.Success {
			res.Error = fmt.Sprintf("api returned status %d", resp.StatusCode)
		}
		return res
	}), nil
}
