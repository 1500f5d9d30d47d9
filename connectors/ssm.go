package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/opsloop/orchestrator-core/domain"
)

// SSMConnector dispatches via aws-sdk-go-v2/service/ssm's SendCommand,
// using AWS-RunShellScript or AWS-RunPowerShellScript per §4.4, then
// polls GetCommandInvocation until terminal or deadline. Handles both
// the "aws_ssm" and "ssm" config aliases (dispatch.go maps both here).
type SSMConnector struct{}

func ssmClient(ctx context.Context, cfg Config) (*ssm.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	if cfg.AWSAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKey, cfg.AWSSecretKey, cfg.AWSSessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return ssm.NewFromConfig(awsCfg), nil
}

func ssmDocument(cfg Config) string {
	if shellFor(cfg) == "powershell" {
		return "AWS-RunPowerShellScript"
	}
	return "AWS-RunShellScript"
}

func (SSMConnector) Execute(ctx context.Context, command string, cfg Config, timeout time.Duration) (domain.StepResult, error) {
	return executeWithRetry(ctx, cfg, nil, func(attemptCtx context.Context, attemptTimeout time.Duration) domain.StepResult {
		start := time.Now()
		client, err := ssmClient(attemptCtx, cfg)
		if err != nil {
			return domain.StepResult{ConnectionError: true, Error: fmt.Sprintf("ssm client init failed: %v", err), DurationMS: time.Since(start).Milliseconds()}
		}

		send, err := client.SendCommand(attemptCtx, &ssm.SendCommandInput{
			InstanceIds:  []string{cfg.InstanceID},
			DocumentName: aws.String(ssmDocument(cfg)),
			Parameters:   map[string][]string{"commands": {command}},
		})
		if err != nil {
			return domain.StepResult{
				ConnectionError: true,
				Error:           Redact(fmt.Sprintf("ssm send_command failed: %v", err)),
				DurationMS:      time.Since(start).Milliseconds(),
			}
		}
		commandID := aws.ToString(send.Command.CommandId)

		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-attemptCtx.Done():
				return domain.StepResult{
					Error:       "ssm invocation deadline reached",
					FailureKind: string(FailureTimeout),
					DurationMS:  time.Since(start).Milliseconds(),
				}
			case <-ticker.C:
				inv, err := client.GetCommandInvocation(attemptCtx, &ssm.GetCommandInvocationInput{
					CommandId:  aws.String(commandID),
					InstanceId: aws.String(cfg.InstanceID),
				})
				if err != nil {
					continue // invocation record may not exist yet
				}
				switch inv.Status {
				case types.CommandInvocationStatusSuccess:
					return domain.StepResult{
						Success:    true,
						Output:     Redact(aws.ToString(inv.StandardOutputContent)),
						Error:      Redact(aws.ToString(inv.StandardErrorContent)),
						ExitCode:   int(inv.ResponseCode),
						DurationMS: time.Since(start).Milliseconds(),
					}
				case types.CommandInvocationStatusFailed:
					return domain.StepResult{
						Output:     Redact(aws.ToString(inv.StandardOutputContent)),
						Error:      Redact(aws.ToString(inv.StandardErrorContent)),
						ExitCode:   int(inv.ResponseCode),
						DurationMS: time.Since(start).Milliseconds(),
					}
				case types.CommandInvocationStatusCancelled, types.CommandInvocationStatusTimedOut:
					// §4.4: Cancelled/TimedOut statuses are reported as
					// connection errors, not plain command failures.
					return domain.StepResult{
						ConnectionError: true,
						Error:           fmt.Sprintf("ssm invocation %s", inv.Status),
						DurationMS:      time.Since(start).Milliseconds(),
					}
				default:
					continue
				}
			}
		}
	}), nil
}
