package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

const twoWaitsDefinition = `application: demo
name: two waits
stages:
  - refId: "1"
    type: wait
    waitTime: 0
  - refId: "2"
    type: wait
    requisiteStageRefIds: ["1"]
`

// setupEnv starts an in-process Redis and writes a configuration pointing at
// it with an in-memory queue.
func setupEnv(t *testing.T) (string, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "pipewright.yaml")
	doc := fmt.Sprintf(`redis:
  primary:
    address: %s
logging:
  level: error
queue:
  backend: memory
  parallelism: 1
  poll_interval: 5ms
operator:
  retry_attempts: 2
  retry_backoff: 1ms
`, mr.Addr())
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path, mr
}

func writeDefinition(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "definition.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func executeCommand(configPath string, args ...string) (string, string, error) {
	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(append([]string{"--config", configPath}, args...))

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func decode[T any](t *testing.T, raw string) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal([]byte(raw), &out), raw)
	return out
}
