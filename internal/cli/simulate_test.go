package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coffeeScenario = `name: coffee
description: "Three concurrent edits against the same word reach one document"
initial: core
clients: [a, b, c]
steps:
  - edit: {client: a, op: {type: insert, pos: 3, text: f}}
  - edit: {client: b, op: {type: delete, pos: 2, text: r}}
  - edit: {client: c, op: {type: insert, pos: 2, text: f}}
  - send: a
  - send: b
  - send: c
  - flush: true
expect:
  text: coffe
`

const wrongScenario = `name: wrong
description: "Expects a document the edits never produce"
initial: core
clients: [a]
steps:
  - edit: {client: a, op: {type: insert, pos: 4, text: s}}
  - send: a
  - flush: true
expect:
  text: corn
`

const unsentScenario = `name: unsent
description: "An edit that never leaves its client"
initial: core
clients: [a, b]
steps:
  - edit: {client: a, op: {type: insert, pos: 0, text: x}}
`

func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestSimulateCommandMissingArgs(t *testing.T) {
	cmd := NewSimulateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestSimulateCommandMissingFile(t *testing.T) {
	cmd := NewSimulateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSimulateCommandText(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "coffee.yaml", coffeeScenario)

	buf := &bytes.Buffer{}
	cmd := NewSimulateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())

	out := buf.String()
	assert.Contains(t, out, "Scenario: coffee")
	assert.Contains(t, out, `send a [0,0] insert(3,"f") "corfe"`)
	assert.Contains(t, out, `deliver c [1,0] delete(2,"r") from b => delete(3,"r") "coffe"`)
	assert.Contains(t, out, `Server: "coffe"`)
	assert.Contains(t, out, "Converged: yes")
	assert.Contains(t, out, "✓ coffee")
}

func TestSimulateCommandJSON(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "coffee.yaml", coffeeScenario)

	buf := &bytes.Buffer{}
	cmd := NewSimulateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())

	var response struct {
		Status string `json:"status"`
		Data   struct {
			Scenario  string            `json:"scenario"`
			Pass      bool              `json:"pass"`
			Server    string            `json:"server"`
			Texts     map[string]string `json:"texts"`
			Converged bool              `json:"converged"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "coffee", response.Data.Scenario)
	assert.True(t, response.Data.Pass)
	assert.True(t, response.Data.Converged)
	assert.Equal(t, "coffe", response.Data.Server)
	assert.Equal(t, map[string]string{"a": "coffe", "b": "coffe", "c": "coffe"}, response.Data.Texts)
}

func TestSimulateCommandFailedExpectation(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "wrong.yaml", wrongScenario)

	buf := &bytes.Buffer{}
	cmd := NewSimulateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var response CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "error", response.Status)
	require.NotNil(t, response.Error)
	assert.Equal(t, "E_EXPECTATION", response.Error.Code)
}

func TestSimulateCommandDiverged(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "unsent.yaml", unsentScenario)

	buf := &bytes.Buffer{}
	cmd := NewSimulateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "Converged: no (2 distinct documents)")
	assert.Contains(t, buf.String(), "✗ unsent")
}

func TestSimulateCommandSeed(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "coffee.yaml", coffeeScenario)

	run := func() string {
		buf := &bytes.Buffer{}
		cmd := NewSimulateCommand(&RootOptions{Format: "text"})
		cmd.SetOut(buf)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{path, "--seed", "7"})
		require.NoError(t, cmd.Execute())
		return buf.String()
	}

	first := run()
	assert.Contains(t, first, "Converged: yes")

	// Session ids differ between runs; everything after them must not.
	trim := func(s string) string {
		_, rest, ok := bytes.Cut([]byte(s), []byte("\n\n"))
		require.True(t, ok)
		return string(rest)
	}
	assert.Equal(t, trim(first), trim(run()))
}

func TestSimulateCommandVerboseDump(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "coffee.yaml", coffeeScenario)

	errBuf := &bytes.Buffer{}
	cmd := NewSimulateCommand(&RootOptions{Format: "json", Verbose: true})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, errBuf.String(), "result: &harness.Result{")
}
