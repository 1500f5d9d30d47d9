package sessionbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fencedRunbook = "Intro text.\n\n```yaml\n" + `title: Restart web service
service: web-app
env: production
steps:
  - command: systemctl restart web-app
    description: restart the service
    severity: high
    requires_approval: true
prechecks:
  - command: systemctl status web-app
    description: confirm current state
postchecks:
  - command: curl -sf http://localhost/healthz
    description: confirm healthy
` + "```\n"

func TestParse_FencedYAML(t *testing.T) {
	parsed, err := Parse(fencedRunbook)
	require.NoError(t, err)
	require.Len(t, parsed.MainSteps, 1)
	require.Len(t, parsed.Prechecks, 1)
	require.Len(t, parsed.Postchecks, 1)
	assert.Equal(t, "systemctl restart web-app", parsed.MainSteps[0].Command)
	assert.True(t, parsed.MainSteps[0].RequiresApproval)
	assert.Equal(t, "web-app", parsed.Metadata["service"])
}

const markdownRunbook = "## Troubleshooting Steps\n\n```bash\nsystemctl status web-app\njournalctl -u web-app -n 50\n```\n"

func TestParse_MarkdownFallback(t *testing.T) {
	parsed, err := Parse(markdownRunbook)
	require.NoError(t, err)
	require.Len(t, parsed.MainSteps, 2)
	assert.Equal(t, "systemctl status web-app", parsed.MainSteps[0].Command)
	assert.Equal(t, "moderate", parsed.MainSteps[0].Severity)
}

func TestParse_EmptyBodyYieldsPlaceholder(t *testing.T) {
	parsed, err := Parse("no commands here at all")
	require.NoError(t, err)
	require.Len(t, parsed.MainSteps, 1)
	assert.Contains(t, parsed.MainSteps[0].Command, "no commands found")
}
