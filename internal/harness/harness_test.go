package harness

import (
	"context"
	"path/filepath"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saros-project/saros-sub040/internal/server"
	"github.com/saros-project/saros-sub040/internal/store"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func parseTestScenario(t *testing.T, yaml string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	return s
}

func TestRunWithGolden_Coffee(t *testing.T) {
	res, err := RunWithGolden(t, loadTestScenario(t, "coffee"))
	require.NoError(t, err)

	assert.True(t, res.Pass, "errors: %v", res.Errors)
	assert.True(t, res.Converged)
	assert.Equal(t, "coffe", res.Server)
	assert.Equal(t, map[string]string{"a": "coffe", "b": "coffe", "c": "coffe"}, res.Texts)
	assert.Equal(t, []string{"coffe"}, res.Distinct)
}

func TestRun_Scenarios(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		resyncs int
	}{
		{"coffee", "coffe", 0},
		{"late_join", "ores", 0},
		{"reset", "ab!", 1},
		{"reset_inflight", "Babc!", 1},
		{"leave", "Jello!", 0},
		{"undo", ">core", 0},
		{"normalize", "af\u00e9!\u00e9", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Run(context.Background(), loadTestScenario(t, tt.name))
			require.NoError(t, err)
			assert.True(t, res.Pass, "errors: %v", res.Errors)
			assert.Equal(t, tt.text, res.Server)
			assert.Equal(t, tt.resyncs, res.Resyncs)
		})
	}
}

func TestRun_ResetKeepsInFlightRequests(t *testing.T) {
	res, err := Run(context.Background(), loadTestScenario(t, "reset"))
	require.NoError(t, err)

	assert.Contains(t, res.Trace, "reset a epoch=1 in-flight=1")
	assert.Contains(t, res.Trace, `server resync seq=4 a "requested"`)
	assert.Contains(t, res.Trace, `send a [0,0] insert(0,"x") dropped epoch=0 current=1`)
	assert.Contains(t, res.Trace, `deliver a resync "ab" epoch=1`)
}

func TestRun_SendAfterResetConverges(t *testing.T) {
	res, err := Run(context.Background(), loadTestScenario(t, "reset_inflight"))
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)

	assert.Contains(t, res.Trace, `send a [0,0] insert(0,"0") dropped epoch=0 current=1`)
	assert.Contains(t, res.Trace, `send a [1,0] insert(0,"1") dropped epoch=0 current=1`)
	assert.Contains(t, res.Trace, `send a [0,0] insert(3,"!") "abc!"`)
}

func TestRun_NormalizesEveryReplica(t *testing.T) {
	res, err := Run(context.Background(), loadTestScenario(t, "normalize"))
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)

	want := "af\u00e9!\u00e9"
	assert.Equal(t, map[string]string{"a": want, "b": want}, res.Texts)
	assert.Contains(t, res.Trace, "edit a insert(4,\"!\u00e9\") [0,0] \"caf\u00e9!\u00e9\"")
}

func TestRun_UndoAfterRemoteEdit(t *testing.T) {
	res, err := Run(context.Background(), loadTestScenario(t, "undo"))
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)
	assert.Contains(t, res.Trace, `undo a delete(5,"s") [1,1] ">core"`)
}

func TestRun_FailedExpectation(t *testing.T) {
	s := parseTestScenario(t, `
name: wrong
description: "expects the wrong document"
initial: ab
clients: [a, b]
steps:
  - edit: {client: a, op: {type: insert, pos: 2, text: c}}
  - flush: true
expect:
  text: abd
  texts:
    z: abc
`)

	res, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	assert.True(t, res.Converged)
	assert.Len(t, res.Errors, 4) // server, a, b, missing z
}

func TestRun_Divergence(t *testing.T) {
	s := parseTestScenario(t, `
name: unflushed
description: "edits never delivered"
initial: ab
clients: [a, b]
steps:
  - edit: {client: a, op: {type: insert, pos: 0, text: x}}
`)

	res, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.False(t, res.Pass)
	assert.Equal(t, []string{"ab", "xab"}, res.Distinct)
}

func TestRun_ExpectDivergence(t *testing.T) {
	s := parseTestScenario(t, `
name: unflushed
description: "divergence is expected"
initial: ab
clients: [a, b]
steps:
  - edit: {client: a, op: {type: insert, pos: 0, text: x}}
  - send: a
expect:
  converged: false
  texts:
    a: xab
    b: ab
`)

	res, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)
	assert.Equal(t, "xab", res.Server)
}

func TestRun_StepErrors(t *testing.T) {
	tests := []struct {
		name    string
		steps   string
		wantErr string
	}{
		{"send with empty uplink", "  - send: a\n", "uplink of a is empty"},
		{"deliver with empty downlink", "  - deliver: a\n", "downlink of a is empty"},
		{"unknown client", "  - edit: {client: z, op: {type: insert, pos: 0, text: x}}\n", `unknown client "z"`},
		{"edit out of range", "  - edit: {client: a, op: {type: insert, pos: 9, text: x}}\n", "local edit"},
		{"send after leave", "  - leave: a\n  - send: a\n", `unknown client "a"`},
		{"undo without edits", "  - undo: a\n", "nothing to undo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := parseTestScenario(t, "name: x\ndescription: d\ninitial: ab\nclients: [a]\nsteps:\n"+tt.steps)
			_, err := Run(context.Background(), s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_DuplicateJoin(t *testing.T) {
	s := parseTestScenario(t, `
name: duplicate
description: "joining twice keeps the first registration"
initial: ab
clients: [a, b]
steps:
  - edit: {client: a, op: {type: insert, pos: 0, text: x}}
  - join: a
  - flush: true
expect:
  text: xab
`)

	res, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)
	assert.Contains(t, res.Trace, "join a duplicate")
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, loadTestScenario(t, "coffee"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_SessionID(t *testing.T) {
	res, err := Run(context.Background(), loadTestScenario(t, "coffee"),
		WithIDGenerator(server.NewFixedGenerator("sim-1")))
	require.NoError(t, err)
	assert.Equal(t, "sim-1", res.SessionID)
}

func TestRun_WithJournal(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	res, err := Run(ctx, loadTestScenario(t, "coffee"),
		WithJournal(st),
		WithIDGenerator(server.NewFixedGenerator("sim-1")))
	require.NoError(t, err)
	require.True(t, res.Pass)

	text, err := st.Replay(ctx, "sim-1")
	require.NoError(t, err)
	assert.Equal(t, "coffe", text)

	reqs, err := st.ReadRequests(ctx, "sim-1")
	require.NoError(t, err)
	assert.Len(t, reqs, 3)

	lifecycle, err := st.ReadLifecycle(ctx, "sim-1")
	require.NoError(t, err)
	assert.Len(t, lifecycle, 3)
}

func TestRunRandomized_Converges(t *testing.T) {
	for _, name := range []string{"coffee", "late_join", "reset", "reset_inflight", "leave", "undo", "normalize"} {
		s := loadTestScenario(t, name)
		for seed := uint64(1); seed <= 25; seed++ {
			res, err := RunRandomized(context.Background(), s, seed)
			require.NoError(t, err, "%s seed %d", name, seed)
			assert.True(t, res.Pass, "%s seed %d: %v", name, seed, res.Errors)
		}
	}
}

func TestRunRandomized_SameSeedSameTrace(t *testing.T) {
	s := parseTestScenario(t, `
name: busy
description: "concurrent edits sent during the flush"
initial: abcdef
clients: [a, b, c]
steps:
  - edit: {client: a, op: {type: insert, pos: 1, text: X}}
  - edit: {client: b, op: {type: delete, pos: 0, len: 3}}
  - edit: {client: c, op: {type: insert, pos: 6, text: Z}}
  - edit: {client: a, op: {type: delete, pos: 4, len: 2}}
  - flush: true
`)

	first, err := RunRandomized(context.Background(), s, 7)
	require.NoError(t, err)
	second, err := RunRandomized(context.Background(), s, 7)
	require.NoError(t, err)
	assert.Equal(t, first.Trace, second.Trace)
}

func TestExplore_Coffee(t *testing.T) {
	exp, err := Explore(context.Background(), loadTestScenario(t, "coffee"), 1, 30)
	require.NoError(t, err)

	assert.True(t, exp.Pass())
	assert.Equal(t, 30, exp.Runs)
	assert.True(t, mapset.NewSet(exp.Outcomes...).Equal(mapset.NewSet("coffe")))
}

func TestExplore_SendsDuringFlush(t *testing.T) {
	s := parseTestScenario(t, `
name: unsent
description: "requests reach the server in any order"
initial: core
clients: [a, b, c]
steps:
  - edit: {client: a, op: {type: insert, pos: 3, text: f}}
  - edit: {client: b, op: {type: delete, pos: 2, text: r}}
  - edit: {client: c, op: {type: insert, pos: 2, text: f}}
  - flush: true
expect:
  text: coffe
`)

	exp, err := Explore(context.Background(), s, 100, 40)
	require.NoError(t, err)
	assert.True(t, exp.Pass(), "diverged %v failed %v", exp.Diverged, exp.Failed)
	assert.Equal(t, []string{"coffe"}, exp.Outcomes)
}

func TestExplore_RejectsNoRuns(t *testing.T) {
	_, err := Explore(context.Background(), loadTestScenario(t, "coffee"), 1, 0)
	require.Error(t, err)
}
