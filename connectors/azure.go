package connectors

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/opsloop/orchestrator-core/domain"
)

// AzureConnector performs Azure Run Command against a parsed
// /subscriptions/.../resourceGroups/.../providers/.../virtualMachines/...
// resource id (§4.4 Azure Run Command specifics). Service-principal
// credentials (tenant/client/secret) are preferred when present;
// otherwise azidentity's default credential chain is used. The
// compute-plane call goes through the RunCommand function field (below)
// so unit tests can substitute a fake instead of a live ARM endpoint.
// No compute SDK is imported, and the default RunCommand
// (azureRunCommand) does not send the run-command request: it only
// acquires a token and then returns an error.
type AzureConnector struct {
	// RunCommand is swappable for tests. Defaults to azureRunCommand.
	RunCommand func(ctx context.Context, cred azcore.TokenCredential, cfg Config, script string, timeout time.Duration) (stdout, stderr string, exitCode int, err error)
}

var azureResourceIDPattern = regexp.MustCompile(
	`(?i)^/subscriptions/([^/]+)/resourceGroups/([^/]+)/providers/[^/]+/virtualMachines/([^/]+)$`)

// parseAzureResourceID splits a VM resource id into (subscription,
// resource group, vm name) per §4.4.
func parseAzureResourceID(id string) (subscription, resourceGroup, vm string, err error) {
	m := azureResourceIDPattern.FindStringSubmatch(id)
	if m == nil {
		return "", "", "", fmt.Errorf("invalid azure resource id: %s", id)
	}
	return m[1], m[2], m[3], nil
}

func azureCredential(cfg Config) (azcore.TokenCredential, error) {
	if cfg.AzureTenantID != "" && cfg.AzureClientID != "" && cfg.AzureClientSecret != "" {
		return azidentity.NewClientSecretCredential(cfg.AzureTenantID, cfg.AzureClientID, cfg.AzureClientSecret, nil)
	}
	return azidentity.NewDefaultAzureCredential(nil)
}

// azureFriendlyError maps known Azure Run Command failure substrings to
// the human-readable categories named in §4.4 (VM deallocated, 403
// forbidden, timeout, invalid resource id).
func azureFriendlyError(err error) string {
	msg := err.Error()
	switch {
	case regexp.MustCompile(`(?i)deallocat`).MatchString(msg):
		return "virtual machine is deallocated"
	case regexp.MustCompile(`\b403\b|(?i)forbidden`).MatchString(msg):
		return "forbidden: service principal lacks run-command permission"
	case regexp.MustCompile(`(?i)context deadline exceeded|(?i)timeout`).MatchString(msg):
		return "azure run command timed out"
	case regexp.MustCompile(`(?i)invalid resource id`).MatchString(msg):
		return "invalid azure resource id"
	default:
		return msg
	}
}

func (a AzureConnector) Execute(ctx context.Context, command string, cfg Config, timeout time.Duration) (domain.StepResult, error) {
	runner := a.RunCommand
	if runner == nil {
		runner = azureRunCommand
	}
	return executeWithRetry(ctx, cfg, nil, func(attemptCtx context.Context, attemptTimeout time.Duration) domain.StepResult {
		start := time.Now()
		if _, _, _, err := parseAzureResourceID(cfg.AzureResourceID); err != nil {
			return domain.StepResult{Error: "invalid azure resource id", FailureKind: string(FailureUnknown), DurationMS: time.Since(start).Milliseconds()}
		}

		cred, err := azureCredential(cfg)
		if err != nil {
			return domain.StepResult{ConnectionError: true, Error: fmt.Sprintf("azure credential init failed: %v", err), DurationMS: time.Since(start).Milliseconds()}
		}

		stdout, stderr, exitCode, err := runner(attemptCtx, cred, cfg, command, attemptTimeout)
		res := domain.StepResult{
			Output:     Redact(stdout),
			Error:      Redact(stderr),
			ExitCode:   exitCode,
			DurationMS: time.Since(start).Milliseconds(),
		}
		if err == nil {
			res.Success = exitCode == 0
			return res
		}
		friendly := azureFriendlyError(err)
		res.Error = Redact(friendly)
		if azureConflictPatterns[0].MatchString(friendly) || azureConflictPatterns[1].MatchString(friendly) {
			res.FailureKind = string(FailureAzureConflict)
			return res
		}
		res.ConnectionError = true
		return res
	}), nil
}

// azureRunCommand is the default AzureConnector.RunCommand. It acquires
// a management-plane token from cred and then returns a "transport not
// configured" error; it does not issue the ARM runCommand request, so
// with this default every Azure step fails and Execute reports it as a
// connection error.
func azureRunCommand(ctx context.Context, cred azcore.TokenCredential, cfg Config, script string, timeout time.Duration) (string, string, int, error) {
	opts := policy.TokenRequestOptions{Scopes: []string{"https://management.azure.com/.default"}}
	if _, err := cred.GetToken(ctx, opts); err != nil {
		return "", "", 0, err
	}
	return "", "", 0, fmt.Errorf("azure run command transport not configured for resource %s", cfg.AzureResourceID)
}
