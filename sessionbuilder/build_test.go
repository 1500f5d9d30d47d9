package sessionbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsloop/orchestrator-core/domain"
)

func TestBuildSteps_OrderAndNumbering(t *testing.T) {
	parsed := &ParsedRunbook{
		Prechecks:  []StepSpec{{Command: "pre1", Severity: "safe"}},
		MainSteps:  []StepSpec{{Command: "main1", Severity: "high"}, {Command: "main2", Severity: "moderate"}},
		Postchecks: []StepSpec{{Command: "post1", Severity: "safe"}},
	}
	steps, profile, err := BuildSteps(42, parsed)
	require.NoError(t, err)
	require.Len(t, steps, 4)

	assert.Equal(t, domain.StepPrecheck, steps[0].StepType)
	assert.Equal(t, 1, steps[0].StepNumber)
	assert.Equal(t, domain.StepMain, steps[1].StepType)
	assert.Equal(t, 2, steps[1].StepNumber)
	assert.Equal(t, domain.StepMain, steps[2].StepType)
	assert.Equal(t, 3, steps[2].StepNumber)
	assert.Equal(t, domain.StepPostcheck, steps[3].StepType)
	assert.Equal(t, 4, steps[3].StepNumber)

	for _, s := range steps {
		assert.Equal(t, int64(42), s.SessionID)
	}

	// session profile is the max across steps: "high" -> prod-standard
	// outranks "moderate" -> staging-standard and "safe" -> dev-flex.
	assert.Equal(t, domain.ProfileProdStandard, profile)
}

func TestSeverityMapping(t *testing.T) {
	cases := []struct {
		severity        string
		wantProfile     domain.SandboxProfile
		wantBlastRadius domain.BlastRadius
	}{
		{"critical", domain.ProfileProdCritical, domain.BlastHigh},
		{"high", domain.ProfileProdStandard, domain.BlastMedium},
		{"dangerous", domain.ProfileProdStandard, domain.BlastMedium},
		{"moderate", domain.ProfileStagingStandard, domain.BlastMedium},
		{"safe", domain.ProfileDevFlex, domain.BlastLow},
		{"", domain.ProfileDevFlex, domain.BlastLow},
	}
	for _, tc := range cases {
		profile, blast := severityMapping(tc.severity)
		assert.Equal(t, tc.wantProfile, profile, "severity %q", tc.severity)
		assert.Equal(t, tc.wantBlastRadius, blast, "severity %q", tc.severity)
	}
}

func TestValidateSandbox_RejectsOverBudgetStep(t *testing.T) {
	steps := []*domain.ExecutionStep{
		{StepNumber: 1, BlastRadius: domain.BlastHigh},
	}
	err := ValidateSandbox(steps, domain.ProfileDevFlex)
	assert.Error(t, err)
}

func TestValidateSandbox_AllowsWithinBudget(t *testing.T) {
	steps := []*domain.ExecutionStep{
		{StepNumber: 1, BlastRadius: domain.BlastLow},
	}
	err := ValidateSandbox(steps, domain.ProfileProdCritical)
	assert.NoError(t, err)
}
