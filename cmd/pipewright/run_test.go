package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
	apperrors "github.com/alexisbeaulieu97/pipewright/pkg/errors"
)

func TestRunCommand_CompletesExecution(t *testing.T) {
	configPath, _ := setupEnv(t)
	definition := writeDefinition(t, twoWaitsDefinition)

	stdout, _, err := executeCommand(configPath, "run", definition, "--json", "--timeout", "10s")
	require.NoError(t, err)

	payload := decode[executionJSON](t, stdout)
	require.Equal(t, execution.StatusSucceeded, payload.Status)
	require.Equal(t, "demo", payload.Application)
	require.Len(t, payload.Stages, 2)
	for _, s := range payload.Stages {
		require.Equal(t, execution.StatusSucceeded, s.Status, s.ID)
	}
	require.NotNil(t, payload.StartTime)
	require.NotNil(t, payload.EndTime)
}

func TestRunCommand_TextOutput(t *testing.T) {
	configPath, _ := setupEnv(t)
	definition := writeDefinition(t, twoWaitsDefinition)

	stdout, _, err := executeCommand(configPath, "run", definition, "--timeout", "10s")
	require.NoError(t, err)
	require.Contains(t, stdout, "Execution:")
	require.Contains(t, stdout, "two waits")
	// Buffers are not terminals, so ASCII icons are used.
	require.Contains(t, stdout, "[OK] SUCCEEDED")
	require.Contains(t, stdout, "STAGE")
}

func TestRunCommand_StartupFailureIsReported(t *testing.T) {
	configPath, _ := setupEnv(t)
	definition := writeDefinition(t, `application: demo
stages:
  - refId: "1"
    type: mystery
`)

	stdout, _, err := executeCommand(configPath, "run", definition, "--json")
	require.Error(t, err)

	var execErr *apperrors.ExecutionError
	require.True(t, errors.As(err, &execErr))

	payload := decode[executionJSON](t, stdout)
	require.Equal(t, execution.StatusTerminal, payload.Status)
	require.True(t, payload.Canceled)
	require.Contains(t, payload.CancellationReason, "Failed on startup")
}

func TestRunCommand_InvalidDefinition(t *testing.T) {
	configPath, _ := setupEnv(t)
	definition := writeDefinition(t, `name: missing application
stages:
  - refId: "1"
    type: wait
`)

	_, _, err := executeCommand(configPath, "run", definition)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Failed to run: launching definition")
	require.Contains(t, err.Error(), "Correct the reported field")
}

func TestRunCommand_MissingFile(t *testing.T) {
	configPath, _ := setupEnv(t)

	_, _, err := executeCommand(configPath, "run", "does-not-exist.yaml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "definition file does not exist")
}

func TestRunCommand_RejectsUnknownType(t *testing.T) {
	configPath, _ := setupEnv(t)
	definition := writeDefinition(t, twoWaitsDefinition)

	_, _, err := executeCommand(configPath, "run", definition, "--type", "workflow")
	require.Error(t, err)
	require.Contains(t, err.Error(), "reading --type")
}
