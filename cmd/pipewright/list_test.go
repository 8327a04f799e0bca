package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/pipewright/internal/domain/execution"
)

func TestListCommand_JSONOutput(t *testing.T) {
	configPath, _ := setupEnv(t)
	first := launchDefinition(t, configPath, twoWaitsDefinition)
	second := launchDefinition(t, configPath, `application: billing
stages:
  - refId: "1"
    type: wait
`)

	stdout, _, err := executeCommand(configPath, "list", "--json")
	require.NoError(t, err)
	payload := decode[listJSONPayload](t, stdout)
	require.Equal(t, 2, payload.Count)

	ids := []string{payload.Executions[0].ID, payload.Executions[1].ID}
	require.ElementsMatch(t, []string{first, second}, ids)
	for _, e := range payload.Executions {
		require.Empty(t, e.Stages)
	}

	stdout, _, err = executeCommand(configPath, "list", "--application", "billing", "--json")
	require.NoError(t, err)
	payload = decode[listJSONPayload](t, stdout)
	require.Equal(t, 1, payload.Count)
	require.Equal(t, second, payload.Executions[0].ID)
}

func TestListCommand_StatusFilter(t *testing.T) {
	configPath, _ := setupEnv(t)
	id := launchDefinition(t, configPath, twoWaitsDefinition)
	launchDefinition(t, configPath, twoWaitsDefinition)

	_, _, err := executeCommand(configPath, "cancel", id)
	require.NoError(t, err)

	stdout, _, err := executeCommand(configPath, "list", "--status", "canceled", "--json")
	require.NoError(t, err)
	payload := decode[listJSONPayload](t, stdout)
	require.Equal(t, 1, payload.Count)
	require.Equal(t, id, payload.Executions[0].ID)
	require.Equal(t, execution.StatusCanceled, payload.Executions[0].Status)
}

func TestListCommand_EmptyTable(t *testing.T) {
	configPath, _ := setupEnv(t)

	stdout, _, err := executeCommand(configPath, "list")
	require.NoError(t, err)
	require.Contains(t, stdout, "No executions found.")
}

func TestListCommand_Table(t *testing.T) {
	configPath, _ := setupEnv(t)
	id := launchDefinition(t, configPath, twoWaitsDefinition)

	stdout, _, err := executeCommand(configPath, "list")
	require.NoError(t, err)
	require.Contains(t, stdout, "APPLICATION")
	require.Contains(t, stdout, id)
	require.Contains(t, stdout, "[..] NOT_STARTED")
}

func TestListCommand_RejectsUnknownStatus(t *testing.T) {
	configPath, _ := setupEnv(t)

	_, _, err := executeCommand(configPath, "list", "--status", "sleeping")
	require.Error(t, err)
	require.Contains(t, err.Error(), "reading --status")
}
