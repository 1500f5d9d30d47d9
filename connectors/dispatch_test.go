package connectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsloop/orchestrator-core/core"
)

func TestNew_KnownKinds(t *testing.T) {
	kinds := []Kind{
		KindLocal, KindSSH, KindWinRM, KindAWSSSM, KindSSM,
		KindAzureBastion, KindGCPIAP, KindDatabase, KindAPI,
		KindNetworkDevice, KindNetworkCluster,
	}
	for _, k := range kinds {
		c, err := New(k)
		require.NoError(t, err, "kind %s", k)
		assert.NotNil(t, c, "kind %s", k)
	}
}

func TestNew_AWSSSMAliasSameType(t *testing.T) {
	a, err := New(KindAWSSSM)
	require.NoError(t, err)
	b, err := New(KindSSM)
	require.NoError(t, err)
	assert.IsType(t, a, b)
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(Kind("bogus"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnknownConnector)
}
