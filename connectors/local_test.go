package connectors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalConnector_Success(t *testing.T) {
	c := LocalConnector{}
	res, err := c.Execute(context.Background(), "echo hello", Config{}, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "hello")
	assert.Equal(t, 0, res.ExitCode)
}

func TestLocalConnector_NonZeroExit(t *testing.T) {
	c := LocalConnector{}
	res, err := c.Execute(context.Background(), "exit 7", Config{}, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 7, res.ExitCode)
	assert.False(t, res.ConnectionError)
}

func TestLocalConnector_Timeout(t *testing.T) {
	c := LocalConnector{}
	res, err := c.Execute(context.Background(), "sleep 5", Config{RetryAttempts: 1}, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, string(FailureTimeout), res.FailureKind)
}

func TestLocalConnector_RedactsSecrets(t *testing.T) {
	c := LocalConnector{}
	res, err := c.Execute(context.Background(), `echo "password=hunter2 token=abc123"`, Config{}, time.Second)
	require.NoError(t, err)
	assert.Contains(t, res.Output, "password=***")
	assert.Contains(t, res.Output, "token=***")
	assert.NotContains(t, res.Output, "hunter2")
}
