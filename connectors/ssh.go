package connectors

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/opsloop/orchestrator-core/domain"
)

// SSHConnector dials the target over golang.org/x/crypto/ssh. Paramiko's
// behavior of trying Ed25519 -> RSA -> ECDSA -> DSA in turn is expressed
// here as ssh.ParsePrivateKey's own PEM-header-driven dispatch (the Go
// library already tries the key's declared algorithm rather than
// guessing blindly); look-for-keys and agent forwarding are both off by
// construction, matching `look_for_keys=false, allow_agent=false`.
type SSHConnector struct{}

func sshAuthMethod(cfg Config) (ssh.AuthMethod, error) {
	if cfg.PrivateKey != "" {
		var signer ssh.Signer
		var err error
		if cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(cfg.PrivateKey), []byte(cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
		}
		if err != nil {
			return nil, err
		}
		return ssh.PublicKeys(signer), nil
	}
	return ssh.Password(cfg.Password), nil
}

func (s SSHConnector) Execute(ctx context.Context, command string, cfg Config, timeout time.Duration) (domain.StepResult, error) {
	shell := shellFor(cfg)
	argv := wrapShellCommand(shell, command)
	remoteCmd := shellQuoteJoin(argv)
	return s.run(ctx, remoteCmd, cfg, timeout)
}

// executeRaw sends command to the remote session verbatim, bypassing
// shellFor/wrapShellCommand's POSIX `${shell} -lc` wrapping. Vendor
// network-device CLIs (NetworkDeviceConnector) are not POSIX shells and
// would choke on that wrapping.
func (s SSHConnector) executeRaw(ctx context.Context, command string, cfg Config, timeout time.Duration) (domain.StepResult, error) {
	return s.run(ctx, command, cfg, timeout)
}

func (SSHConnector) run(ctx context.Context, remoteCmd string, cfg Config, timeout time.Duration) (domain.StepResult, error) {
	return executeWithRetry(ctx, cfg, nil, func(attemptCtx context.Context, attemptTimeout time.Duration) domain.StepResult {
		start := time.Now()
		auth, err := sshAuthMethod(cfg)
		if err != nil {
			return domain.StepResult{
				ConnectionError: true,
				Error:           fmt.Sprintf("ssh key parse failed: %v", err),
				DurationMS:      time.Since(start).Milliseconds(),
			}
		}

		port := cfg.Port
		if port == 0 {
			port = 22
		}
		addr := fmt.Sprintf("%s:%d", cfg.Host, port)

		sshCfg := &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{auth},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         attemptTimeout,
		}

		dialer := net.Dialer{Timeout: attemptTimeout}
		conn, err := dialer.DialContext(attemptCtx, "tcp", addr)
		if err != nil {
			return domain.StepResult{
				ConnectionError: true,
				Error:           Redact(fmt.Sprintf("ssh dial failed: %v", err)),
				DurationMS:      time.Since(start).Milliseconds(),
			}
		}

		sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
		if err != nil {
			conn.Close()
			return domain.StepResult{
				ConnectionError: true,
				Error:           Redact(fmt.Sprintf("ssh handshake failed: %v", err)),
				DurationMS:      time.Since(start).Milliseconds(),
			}
		}
		client := ssh.NewClient(sshConn, chans, reqs)
		defer client.Close()

		session, err := client.NewSession()
		if err != nil {
			return domain.StepResult{
				ConnectionError: true,
				Error:           Redact(fmt.Sprintf("ssh session open failed: %v", err)),
				DurationMS:      time.Since(start).Milliseconds(),
			}
		}
		defer session.Close()

		var stdout, stderr bytes.Buffer
		session.Stdout = &stdout
		session.Stderr = &stderr

		done := make(chan error, 1)
		go func() { done <- session.Run(remoteCmd) }()

		select {
		case <-attemptCtx.Done():
			session.Signal(ssh.SIGKILL)
			return domain.StepResult{
				Error:       "ssh command timed out",
				FailureKind: string(FailureTimeout),
				DurationMS:  time.Since(start).Milliseconds(),
			}
		case runErr := <-done:
			res := domain.StepResult{
				Output:     Redact(stdout.String()),
				Error:      Redact(stderr.String()),
				DurationMS: time.Since(start).Milliseconds(),
			}
			if runErr == nil {
				res.Success = true
				return res
			}
			// A channel exit-status error (non-nil *ssh.ExitError) is the
			// remote command's own non-zero exit, distinct from any
			// connection-layer failure that would arrive as a different
			// error type (matching Paramiko's exception-type vs
			// channel-exit-status distinction, §4.4 SSH specifics).
			if exitErr, ok := runErr.(*ssh.ExitError); ok {
				res.ExitCode = exitErr.ExitStatus()
				if res.Error == "" {
					res.Error = runErr.Error()
				}
				return res
			}
			res.ConnectionError = true
			res.Error = Redact(runErr.Error())
			return res
		}
	}), nil
}

// shellQuoteJoin renders argv as a single shell command line, single-
// quoting every argument after the interpreter so the remote shell sees
// it as one opaque command string (`${shell} -lc '<command>'`).
func shellQuoteJoin(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	out := argv[0]
	for _, a := range argv[1:] {
		out += " " + singleQuote(a)
	}
	return out
}

func singleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
