package connectors

import (
	"regexp"
	"strings"

	"github.com/opsloop/orchestrator-core/domain"
)

// FailureKind is the explicit taxonomy of §4.4 / §7, kept as the exact
// vocabulary every original connector in original_source/ (ssh, ssm,
// azure) independently converges on rather than inventing a new one.
type FailureKind string

const (
	FailureCommandError  FailureKind = "COMMAND_ERROR"
	FailureAzureConflict FailureKind = "AZURE_CONFLICT"
	FailureTimeout       FailureKind = "TIMEOUT"
	FailureConnection    FailureKind = "CONNECTION_ERROR"
	FailureUnknown       FailureKind = "UNKNOWN"
)

// commandErrorPatterns are stderr fragments that indicate a syntax or
// parameter mistake in the command itself, not a transport problem.
var commandErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)cannot bind argument`),
	regexp.MustCompile(`(?i)is not recognized`),
	regexp.MustCompile(`(?i)parameter cannot be found`),
	regexp.MustCompile(`(?i)command not found`),
	regexp.MustCompile(`(?i)syntax error`),
	regexp.MustCompile(`(?i)missing an argument`),
}

var azureConflictPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)execution is in progress`),
	regexp.MustCompile(`\b409\b`),
}

// detectFailureKind classifies a completed (non-exception) StepResult
// into the §4.4 taxonomy. It is pure and has no side effects so the
// executor and any post-hoc corrector can call it repeatedly.
func detectFailureKind(r domain.StepResult) FailureKind {
	if r.Success {
		return ""
	}
	text := r.Error + " " + r.Output
	for _, p := range azureConflictPatterns {
		if p.MatchString(text) {
			return FailureAzureConflict
		}
	}
	if r.ConnectionError {
		return FailureConnection
	}
	if strings.Contains(strings.ToLower(r.Error), "timeout") || strings.Contains(strings.ToLower(r.Error), "deadline exceeded") {
		return FailureTimeout
	}
	for _, p := range commandErrorPatterns {
		if p.MatchString(text) {
			return FailureCommandError
		}
	}
	if r.ExitCode != 0 {
		return FailureCommandError
	}
	return FailureUnknown
}

// DetectFailureType is the exported form §8's property references
// directly: detect_failure_type(result) returns the documented tag.
func DetectFailureType(r domain.StepResult) FailureKind {
	return detectFailureKind(r)
}

var redactionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password)\s*=\s*\S+`),
	regexp.MustCompile(`(?i)(api_key)\s*=\s*\S+`),
	regexp.MustCompile(`(?i)(secret)\s*=\s*\S+`),
	regexp.MustCompile(`(?i)(token)\s*=\s*\S+`),
}

// Redact masks password=/api_key=/secret=/token= tokens (case-insensitive)
// in connector output/error text before it is persisted (§4.4 Redaction).
func Redact(s string) string {
	out := s
	for _, p := range redactionPatterns {
		out = p.ReplaceAllString(out, "$1=***")
	}
	return out
}
