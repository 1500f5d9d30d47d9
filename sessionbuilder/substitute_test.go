package sessionbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsloop/orchestrator-core/domain"
)

func TestSubstitutePlaceholders_CurlyBraces(t *testing.T) {
	ticket := &domain.Ticket{
		Service:     "web-app",
		Environment: "production",
		Metadata:    map[string]interface{}{"server_name": "web-01.internal"},
	}
	body := "ssh {{server_name}} 'systemctl restart {{service}}' # env: {{environment}}"
	out := SubstitutePlaceholders(body, ticket)
	assert.Equal(t, "ssh web-01.internal 'systemctl restart web-app' # env: production", out)
}

func TestSubstitutePlaceholders_GenericServerWord(t *testing.T) {
	ticket := &domain.Ticket{
		Service:  "web-app",
		Metadata: map[string]interface{}{"server_name": "web-01.internal"},
	}
	out := SubstitutePlaceholders("restart the service on the server now", ticket)
	assert.Contains(t, out, "web-01.internal")
	assert.NotContains(t, out, "the server")
}

func TestSubstitutePlaceholders_NoTicketReturnsBodyUnchanged(t *testing.T) {
	body := "ssh {{server_name}} uptime"
	assert.Equal(t, body, SubstitutePlaceholders(body, nil))
}

func TestSubstitutePlaceholders_NoSubstitutableValuesReturnsUnchanged(t *testing.T) {
	ticket := &domain.Ticket{}
	body := "ssh {{server_name}} uptime"
	assert.Equal(t, body, SubstitutePlaceholders(body, ticket))
}

func TestSubstitutePlaceholders_FallsBackToServiceWhenNoCIName(t *testing.T) {
	ticket := &domain.Ticket{Service: "billing-worker"}
	out := SubstitutePlaceholders("restart on {{server_name}}", ticket)
	assert.Equal(t, "restart on billing-worker", out)
}
