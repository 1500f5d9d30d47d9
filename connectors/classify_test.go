package connectors

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsloop/orchestrator-core/domain"
)

func TestDetectFailureType(t *testing.T) {
	cases := []struct {
		name string
		res  domain.StepResult
		want FailureKind
	}{
		{
			name: "success has no failure kind",
			res:  domain.StepResult{Success: true},
			want: "",
		},
		{
			name: "connection error",
			res:  domain.StepResult{ConnectionError: true, Error: "dial tcp: refused"},
			want: FailureConnection,
		},
		{
			name: "timeout text",
			res:  domain.StepResult{Error: "context deadline exceeded"},
			want: FailureTimeout,
		},
		{
			name: "azure conflict",
			res:  domain.StepResult{Error: "execution is in progress"},
			want: FailureAzureConflict,
		},
		{
			name: "command syntax error",
			res:  domain.StepResult{Error: "bash: foo: command not found"},
			want: FailureCommandError,
		},
		{
			name: "nonzero exit with no recognizable text",
			res:  domain.StepResult{ExitCode: 1, Error: "boom"},
			want: FailureCommandError,
		},
		{
			name: "unrecognized failure",
			res:  domain.StepResult{Error: ""},
			want: FailureUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectFailureType(tc.res))
		})
	}
}

func TestRedact(t *testing.T) {
	in := "user=bob password=hunter2 api_key=xyz secret=topsecret token=deadbeef"
	out := Redact(in)
	assert.Contains(t, out, "password=***")
	assert.Contains(t, out, "api_key=***")
	assert.Contains(t, out, "secret=***")
	assert.Contains(t, out, "token=***")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "topsecret")
	assert.NotContains(t, out, "deadbeef")
}
