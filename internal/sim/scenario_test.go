package sim_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dantte-lp/gorrc/internal/sim"
	"github.com/dantte-lp/gorrc/internal/transport"
)

const handoverScenario = `
steps:
  - action: attach
    imsi: 1001
    cell: 1
  - after: 50ms
    action: bearer
    imsi: 1001
    qci: 9
    erab: 5
  - after: 50ms
    action: handover
    imsi: 1001
    target: 2
  - after: 50ms
    action: detach
    imsi: 1001
`

func TestParseScenario(t *testing.T) {
	t.Parallel()

	sc, err := sim.ParseScenario([]byte(handoverScenario))
	require.NoError(t, err)
	require.Len(t, sc.Steps, 4)

	assert.Equal(t, sim.Step{Action: sim.ActionAttach, Imsi: 1001, Cell: 1}, sc.Steps[0])
	assert.Equal(t, sim.Step{After: 50 * time.Millisecond, Action: sim.ActionBearer, Imsi: 1001, Qci: 9, Erab: 5}, sc.Steps[1])
	assert.Equal(t, uint16(2), sc.Steps[2].Target)
}

func TestParseScenarioInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown action", yaml: "steps: [{action: dance, imsi: 1}]"},
		{name: "missing imsi", yaml: "steps: [{action: attach, cell: 1}]"},
		{name: "attach without cell", yaml: "steps: [{action: attach, imsi: 1}]"},
		{name: "bearer without qci", yaml: "steps: [{action: bearer, imsi: 1, erab: 5}]"},
		{name: "release without erab", yaml: "steps: [{action: release_bearer, imsi: 1}]"},
		{name: "handover without target", yaml: "steps: [{action: handover, imsi: 1}]"},
		{name: "measure without target", yaml: "steps: [{action: measure, imsi: 1}]"},
		{name: "negative delay", yaml: "steps: [{action: detach, imsi: 1, after: -1s}]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := sim.ParseScenario([]byte(tt.yaml))
			require.ErrorIs(t, err, sim.ErrInvalidScenario)
		})
	}

	_, err := sim.ParseScenario([]byte("steps: {"))
	require.Error(t, err)
}

func TestLoadScenario(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scenario.yml")
	require.NoError(t, os.WriteFile(path, []byte(handoverScenario), 0o600))

	sc, err := sim.LoadScenario(path)
	require.NoError(t, err)
	assert.Len(t, sc.Steps, 4)

	_, err = sim.LoadScenario(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}

// TestRunnerRun plays the handover scenario against two cells with the
// event loop running on its own goroutine.
func TestRunnerRun(t *testing.T) {
	t.Parallel()

	w := newWorld(t, transport.StrategyReal, 1, 2)

	ctx, cancel := context.WithCancel(t.Context())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = w.loop.Run(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	sc, err := sim.ParseScenario([]byte(handoverScenario))
	require.NoError(t, err)

	// Stop before detach to observe the terminal in the target cell.
	partial := &sim.Scenario{Steps: sc.Steps[:3]}
	require.NoError(t, w.runner.Run(ctx, partial))

	require.Eventually(t, func() bool {
		term, ok := w.network.Terminal(1001)
		return ok && term.CellID == 2 && w.cells[1].ctrl.ContextCount() == 0
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, w.runner.Run(ctx, &sim.Scenario{Steps: sc.Steps[3:]}))
	require.Eventually(t, func() bool {
		return w.cells[2].ctrl.ContextCount() == 0
	}, 2*time.Second, 5*time.Millisecond)

	term := w.terminal(t, 1001)
	assert.Equal(t, sim.TerminalReleased, term.State)
}

func TestRunnerCancelled(t *testing.T) {
	t.Parallel()

	w := newWorld(t, transport.StrategyIdeal, 1)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := w.runner.Run(ctx, &sim.Scenario{Steps: []sim.Step{
		{After: time.Hour, Action: sim.ActionAttach, Imsi: 1001, Cell: 1},
	}})
	require.ErrorIs(t, err, context.Canceled)
	_, ok := w.network.Terminal(1001)
	assert.False(t, ok)
}

func TestRunnerStopsAtFailingStep(t *testing.T) {
	t.Parallel()

	w := newWorld(t, transport.StrategyIdeal, 1)

	err := w.runner.Run(t.Context(), &sim.Scenario{Steps: []sim.Step{
		{Action: sim.ActionAttach, Imsi: 1001, Cell: 3},
		{Action: sim.ActionAttach, Imsi: 1002, Cell: 1},
	}})
	require.ErrorIs(t, err, sim.ErrUnknownCell)
	_, ok := w.network.Terminal(1002)
	assert.False(t, ok, "runner continued past a failing step")
}
