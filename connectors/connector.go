// Package connectors implements the uniform command-execution contract
// of §4.4: execute(command, config, timeout) -> Result across ten
// transport variants, with shared timeout/retry/redaction/classification
// behavior. Dispatch is a small tagged variant (Kind, §9 Design Notes)
// switched once at construction, not a runtime class hierarchy.
package connectors

import (
	"context"
	"time"

	"github.com/opsloop/orchestrator-core/domain"
)

// Kind identifies a connector variant; Config.ConnectorType maps to one
// of these at dispatch time (§4.4).
type Kind string

const (
	KindLocal          Kind = "local"
	KindSSH            Kind = "ssh"
	KindWinRM          Kind = "winrm"
	KindAWSSSM         Kind = "aws_ssm"
	KindSSM            Kind = "ssm" // alias for aws_ssm
	KindAzureBastion   Kind = "azure_bastion"
	KindGCPIAP         Kind = "gcp_iap"
	KindDatabase       Kind = "database"
	KindAPI            Kind = "api"
	KindNetworkCluster Kind = "network_cluster"
	KindNetworkDevice  Kind = "network_device"
)

// Config is the per-step connection configuration hydrated by the
// Metadata Resolver (§4.6) and handed to a connector's Execute call.
type Config struct {
	ConnectorType Kind
	Host          string
	Port          int
	Shell         string // "bash", "sh", "powershell", ""
	OSType        string // "linux", "windows", ""
	User          string
	Password      string
	PrivateKey    string // PEM-encoded, SSH
	Passphrase    string

	// AWS SSM
	AWSRegion       string
	AWSAccessKey    string
	AWSSecretKey    string
	AWSSessionToken string
	InstanceID      string

	// Azure Run Command
	AzureResourceID   string // /subscriptions/.../resourceGroups/.../.../vm
	AzureTenantID     string
	AzureClientID     string
	AzureClientSecret string

	// GCP IAP
	GCPProject string
	GCPZone    string
	GCPInstance string

	// database connector
	DBDialect string // "postgres", "mysql"
	DBDSN     string

	// api connector
	APIBaseURL string
	APIHeaders map[string]string
	APIMethod  string

	// network_device / network_cluster
	DeviceVendor string

	RetryAttempts int           // override; 0 means connector default
	RetryDelay    time.Duration // override; 0 means connector default

	Metadata map[string]interface{}
}

// Connector is the uniform contract every transport variant satisfies.
type Connector interface {
	Execute(ctx context.Context, command string, cfg Config, timeout time.Duration) (domain.StepResult, error)
}

// timeoutFloor enforces max(1s, min(perAttempt, deadlineRemaining)) per
// attempt (§4.4 Common behavior).
func timeoutFloor(perAttempt, deadlineRemaining time.Duration) time.Duration {
	d := perAttempt
	if deadlineRemaining > 0 && deadlineRemaining < d {
		d = deadlineRemaining
	}
	if d < time.Second {
		d = time.Second
	}
	return d
}

func deadlineRemaining(ctx context.Context, fallback time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if r := time.Until(dl); r > 0 {
			return r
		}
		return 0
	}
	return fallback
}

// defaultRetries is the connector default when Config.RetryAttempts is 0
// (§4.4: "configurable per-connector (default 2-3)").
func defaultRetries(k Kind) int {
	switch k {
	case KindAzureBastion, KindAWSSSM, KindSSM:
		return 3
	default:
		return 2
	}
}

const defaultRetryDelay = 500 * time.Millisecond

func retryParams(cfg Config) (attempts int, delay time.Duration) {
	attempts = cfg.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetries(cfg.ConnectorType)
	}
	delay = cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	return attempts, delay
}

// shellFor picks the invocation shell per §4.4 Shell selection: explicit
// cfg.Shell wins; otherwise PowerShell on Windows, "sh" elsewhere.
func shellFor(cfg Config) string {
	if cfg.Shell != "" {
		return cfg.Shell
	}
	if cfg.OSType == "windows" {
		return "powershell"
	}
	return "sh"
}

// wrapShellCommand renders "${shell} -lc <command>" for POSIX shells, or
// "${shell} -NoProfile -NonInteractive -Command <command>" for
// PowerShell ("powershell" or "pwsh").
func wrapShellCommand(shell, command string) []string {
	if shell == "powershell" || shell == "pwsh" {
		return []string{shell, "-NoProfile", "-NonInteractive", "-Command", command}
	}
	return []string{shell, "-lc", command}
}

// executeWithRetry runs attemptFn up to attempts times, retrying only when the
// result reports ConnectionError (§4.4: "only connection errors trigger
// retry, not command-level non-zero exits"). It never retries after a
// successful attempt and tracks total retry count and duration.
func executeWithRetry(
	ctx context.Context,
	cfg Config,
	onRetry func(reason string),
	attemptFn func(ctx context.Context, attemptTimeout time.Duration) domain.StepResult,
) domain.StepResult {
	attempts, delay := retryParams(cfg)
	start := time.Now()
	var last domain.StepResult
	retryCount := 0

attemptLoop:
	for i := 1; i <= attempts; i++ {
		remaining := deadlineRemaining(ctx, 30*time.Second)
		attemptTimeout := timeoutFloor(remaining, remaining)
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		last = attemptFn(attemptCtx, attemptTimeout)
		cancel()

		if last.Success || !last.ConnectionError || i == attempts {
			break
		}
		retryCount++
		if onRetry != nil {
			onRetry(last.FailureKind)
		}
		select {
		case <-ctx.Done():
			last.Error = ctx.Err().Error()
			break attemptLoop
		case <-time.After(delay):
		}
	}

	last.RetryCount = retryCount
	last.DurationMS = time.Since(start).Milliseconds()
	if last.FailureKind == "" && !last.Success {
		last.FailureKind = string(detectFailureKind(last))
	}
	return last
}
