package progresslog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestWriter_appendsOneEventPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.jsonl")

	w, err := NewWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(evalmodel.ProgressEvent{Type: evalmodel.EventRunStart, TotalTests: 2}))
	require.NoError(t, w.Append(evalmodel.ProgressEvent{Type: evalmodel.EventTestComplete, ScenarioID: "s1"}))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(string(data)))
}

func TestReconstruct_firstRunStartWinsTotalTests(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.jsonl")
	w, err := NewWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(evalmodel.ProgressEvent{Type: evalmodel.EventRunStart, TotalTests: 10, Scenarios: []string{"a"}, Profiles: []string{"p"}}))
	require.NoError(t, w.Append(evalmodel.ProgressEvent{Type: evalmodel.EventRunStart, TotalTests: 4}))
	require.NoError(t, w.Close())

	grid, err := Reconstruct(path)
	require.NoError(t, err)
	assert.Equal(t, 10, grid.TotalTests)
	assert.Equal(t, []string{"a"}, grid.Scenarios)
}

func TestReconstruct_latestOutcomeWinsPerPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.jsonl")
	w, err := NewWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(evalmodel.ProgressEvent{Type: evalmodel.EventRunStart, TotalTests: 1}))
	require.NoError(t, w.Append(evalmodel.ProgressEvent{
		Type: evalmodel.EventTestComplete, ScenarioID: "s1", ProfileName: "p1", Success: ptr(false),
	}))
	require.NoError(t, w.Append(evalmodel.ProgressEvent{
		Type: evalmodel.EventTestComplete, ScenarioID: "s1", ProfileName: "p1", Success: ptr(true), OverallScore: ptr(4.0),
	}))
	require.NoError(t, w.Close())

	grid, err := Reconstruct(path)
	require.NoError(t, err)

	cell := grid.CellOutcome("s1", "p1")
	assert.Equal(t, evalmodel.OutcomeOK, cell.Outcome)
	require.NotNil(t, cell.Score)
	assert.Equal(t, 4.0, *cell.Score)
}

func TestReconstruct_countsDerivedFromEventsNotSelfReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.jsonl")
	w, err := NewWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(evalmodel.ProgressEvent{Type: evalmodel.EventRunStart, TotalTests: 99}))
	require.NoError(t, w.Append(evalmodel.ProgressEvent{Type: evalmodel.EventTestComplete, ScenarioID: "s1", ProfileName: "p1", Success: ptr(true)}))
	require.NoError(t, w.Append(evalmodel.ProgressEvent{Type: evalmodel.EventTestError, ScenarioID: "s2", ProfileName: "p1"}))
	require.NoError(t, w.Close())

	grid, err := Reconstruct(path)
	require.NoError(t, err)
	assert.Equal(t, 1, grid.Completed)
	assert.Equal(t, 1, grid.Errored)
}

func TestReconstruct_toleratesPartialTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.jsonl")
	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(evalmodel.ProgressEvent{Type: evalmodel.EventRunStart, TotalTests: 1}))
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"event_type":"test_complete","scenario_id":"s1"`) // no closing brace or newline
	require.NoError(t, err)
	require.NoError(t, f.Close())

	grid, err := Reconstruct(path)
	require.NoError(t, err)
	assert.Equal(t, 1, grid.TotalTests)
	assert.Equal(t, 0, grid.Completed)
}

func TestTail_streamsAppendedEventsUntilCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.jsonl")
	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(evalmodel.ProgressEvent{Type: evalmodel.EventRunStart, TotalTests: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan evalmodel.ProgressEvent, 4)

	go func() {
		_ = Tail(ctx, path, func(e evalmodel.ProgressEvent) { received <- e }, TailOptions{PollInterval: 10 * time.Millisecond})
	}()

	first := <-received
	assert.Equal(t, evalmodel.EventRunStart, first.Type)

	require.NoError(t, w.Append(evalmodel.ProgressEvent{Type: evalmodel.EventTestComplete, ScenarioID: "s1"}))

	second := <-received
	assert.Equal(t, evalmodel.EventTestComplete, second.Type)

	cancel()
	require.NoError(t, w.Close())
}

func countLines(s string) int {
	n := 0
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	return n
}
