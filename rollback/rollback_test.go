package rollback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsloop/orchestrator-core/connectors"
	"github.com/opsloop/orchestrator-core/core"
	"github.com/opsloop/orchestrator-core/domain"
)

func succeeded(stepNumber int, rollbackCmd string) *domain.ExecutionStep {
	success := true
	return &domain.ExecutionStep{
		StepNumber:      stepNumber,
		Completed:       true,
		Success:         &success,
		RollbackCommand: rollbackCmd,
	}
}

func TestRun_DescendingOrderAndSkipsEmptyRollbackCommand(t *testing.T) {
	steps := []*domain.ExecutionStep{
		succeeded(1, "echo undo-1"),
		succeeded(2, ""),
		succeeded(3, "echo undo-3"),
	}
	engine := New(core.NoOpLogger{}, 0)
	out := engine.Run(context.Background(), steps, connectors.Config{ConnectorType: connectors.KindLocal, Shell: "sh"})

	require.Len(t, out, 3)
	assert.Equal(t, 3, out[0].StepNumber)
	assert.True(t, out[0].Attempted)
	assert.True(t, out[0].Success)
	assert.Equal(t, 2, out[1].StepNumber)
	assert.False(t, out[1].Attempted)
	assert.Equal(t, 1, out[2].StepNumber)
	assert.True(t, out[2].Attempted)
}

func TestRun_SkipsUnsuccessfulSteps(t *testing.T) {
	failure := false
	steps := []*domain.ExecutionStep{
		succeeded(1, "echo undo-1"),
		{StepNumber: 2, Completed: true, Success: &failure, RollbackCommand: "echo undo-2"},
	}
	engine := New(core.NoOpLogger{}, 0)
	out := engine.Run(context.Background(), steps, connectors.Config{ConnectorType: connectors.KindLocal, Shell: "sh"})
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].StepNumber)
}

func TestRun_ContinuesSweepAfterAFailedRollbackCommand(t *testing.T) {
	steps := []*domain.ExecutionStep{
		succeeded(1, "echo undo-1"),
		succeeded(2, "false"),
	}
	engine := New(core.NoOpLogger{}, 0)
	out := engine.Run(context.Background(), steps, connectors.Config{ConnectorType: connectors.KindLocal, Shell: "sh"})
	require.Len(t, out, 2)
	assert.Equal(t, 2, out[0].StepNumber)
	assert.False(t, out[0].Success)
	assert.Equal(t, 1, out[1].StepNumber)
	assert.True(t, out[1].Success)
}
