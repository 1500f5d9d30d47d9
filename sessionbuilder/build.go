package sessionbuilder

import (
	"fmt"
	"strings"
	"time"

	"github.com/opsloop/orchestrator-core/core"
	"github.com/opsloop/orchestrator-core/domain"
)

// severityMapping resolves a step's declared severity into the (sandbox
// profile, blast radius) pair named in §4.7's table. Unrecognized or
// empty severities fall into the *default* row.
func severityMapping(severity string) (domain.SandboxProfile, domain.BlastRadius) {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "critical":
		return domain.ProfileProdCritical, domain.BlastHigh
	case "high", "dangerous":
		return domain.ProfileProdStandard, domain.BlastMedium
	case "moderate":
		return domain.ProfileStagingStandard, domain.BlastMedium
	default:
		return domain.ProfileDevFlex, domain.BlastLow
	}
}

// BuildSteps materializes a ParsedRunbook into domain.ExecutionStep rows
// in prechecks-then-mains-then-postchecks order with contiguous
// step_number 1..N (§4.7), and returns the session's sandbox profile:
// the maximum profile rank across every step.
func BuildSteps(sessionID int64, parsed *ParsedRunbook) ([]*domain.ExecutionStep, domain.SandboxProfile, error) {
	type typed struct {
		spec     StepSpec
		stepType domain.StepType
	}
	ordered := make([]typed, 0, len(parsed.Prechecks)+len(parsed.MainSteps)+len(parsed.Postchecks))
	for _, s := range parsed.Prechecks {
		ordered = append(ordered, typed{s, domain.StepPrecheck})
	}
	for _, s := range parsed.MainSteps {
		ordered = append(ordered, typed{s, domain.StepMain})
	}
	for _, s := range parsed.Postchecks {
		ordered = append(ordered, typed{s, domain.StepPostcheck})
	}

	steps := make([]*domain.ExecutionStep, 0, len(ordered))
	profile := domain.ProfileDevFlex
	now := time.Now()
	for i, t := range ordered {
		stepProfile, blast := severityMapping(t.spec.Severity)
		if stepProfile.Rank() > profile.Rank() {
			profile = stepProfile
		}
		steps = append(steps, &domain.ExecutionStep{
			SessionID:        sessionID,
			StepNumber:       i + 1,
			StepType:         t.stepType,
			Command:          t.spec.Command,
			RollbackCommand:  t.spec.RollbackCommand,
			Description:      t.spec.Description,
			RequiresApproval: t.spec.RequiresApproval,
			Severity:         t.spec.Severity,
			BlastRadius:      blast,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}

	if err := ValidateSandbox(steps, profile); err != nil {
		return nil, "", err
	}
	return steps, profile, nil
}

// ValidateSandbox enforces §4.7's construction-time invariant: every
// step's blast_radius_rank must not exceed profile's
// MaxBlastRadiusRank. Callers also use this to re-check a session
// against a tenant-imposed profile ceiling distinct from the one
// BuildSteps derived.
func ValidateSandbox(steps []*domain.ExecutionStep, profile domain.SandboxProfile) error {
	max := profile.MaxBlastRadiusRank()
	for _, s := range steps {
		if s.BlastRadius.Rank() > max {
			return fmt.Errorf("step %d blast radius %q exceeds sandbox profile %q: %w",
				s.StepNumber, s.BlastRadius, profile, core.ErrSandboxViolation)
		}
	}
	return nil
}
