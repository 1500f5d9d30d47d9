package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsloop/orchestrator-core/domain"
)

func TestExtractCI_PrefersCIAssociation(t *testing.T) {
	ticket := &domain.Ticket{
		Metadata: map[string]interface{}{"ci_association": "web-01.internal", "server_name": "other-host"},
	}
	assert.Equal(t, "web-01.internal", ExtractCI(ticket))
}

func TestExtractCI_FallsBackToMetadataKeyword(t *testing.T) {
	ticket := &domain.Ticket{
		Metadata: map[string]interface{}{"hostname": "db01"},
	}
	assert.Equal(t, "db01", ExtractCI(ticket))
}

func TestExtractCI_FallsBackToDescriptionPattern(t *testing.T) {
	ticket := &domain.Ticket{
		Description: "Disk usage alert on web01, please investigate",
	}
	assert.Equal(t, "web01", ExtractCI(ticket))
}

func TestExtractCI_FallsBackToServiceField(t *testing.T) {
	ticket := &domain.Ticket{Service: "billing-worker-02"}
	assert.Equal(t, "billing-worker-02", ExtractCI(ticket))
}

func TestExtractCI_ReturnsEmptyWhenNothingMatches(t *testing.T) {
	ticket := &domain.Ticket{Description: "generic failure, no host mentioned"}
	assert.Equal(t, "", ExtractCI(ticket))
}

func TestExtractCI_NilTicket(t *testing.T) {
	assert.Equal(t, "", ExtractCI(nil))
}
