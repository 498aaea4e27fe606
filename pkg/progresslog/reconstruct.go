package progresslog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
)

// Grid is the reconstructed state of a run: its declared scope (from the
// first run_start) and the latest outcome per (scenario, profile) pair.
type Grid struct {
	Scenarios  []string
	Profiles   []string
	TotalTests int

	Completed int // derived from test_complete/test_error counts, never a self-reported field
	Errored   int

	Cells map[cellKey]evalmodel.GridCell
}

type cellKey struct {
	ScenarioID  string
	ProfileName string
}

// CellOutcome returns the latest known outcome for one (scenario, profile)
// pair, or the zero GridCell ("not started") if it never appeared.
func (g Grid) CellOutcome(scenarioID, profileName string) evalmodel.GridCell {
	return g.Cells[cellKey{scenarioID, profileName}]
}

// Reconstruct replays a journal file into a Grid, applying the rules from
// spec.md §4.3: the first run_start fixes scope and total_tests (later
// resume run_start events never replace it), per-pair outcome is whatever
// event was seen last, and progress counts are derived from
// test_complete/test_error events rather than trusted from any field.
func Reconstruct(path string) (Grid, error) {
	file, err := os.Open(path)
	if err != nil {
		return Grid{}, fmt.Errorf("failed to open progress log %s: %w", path, err)
	}
	defer file.Close()

	return reconstructFrom(file)
}

func reconstructFrom(r io.Reader) (Grid, error) {
	grid := Grid{Cells: map[cellKey]evalmodel.GridCell{}}
	seenRunStart := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event evalmodel.ProgressEvent
		if err := json.Unmarshal(line, &event); err != nil {
			// A partial trailing line (writer mid-flush) is tolerated, not fatal.
			continue
		}

		switch event.Type {
		case evalmodel.EventRunStart:
			if !seenRunStart {
				grid.Scenarios = event.Scenarios
				grid.Profiles = event.Profiles
				grid.TotalTests = event.TotalTests
				seenRunStart = true
			}
		case evalmodel.EventTestComplete:
			grid.Completed++
			outcome := evalmodel.OutcomeFailed
			if event.Success != nil && *event.Success {
				outcome = evalmodel.OutcomeOK
			}
			grid.Cells[cellKey{event.ScenarioID, event.ProfileName}] = evalmodel.GridCell{
				Outcome: outcome,
				Score:   event.OverallScore,
			}
		case evalmodel.EventTestError:
			grid.Errored++
			grid.Cells[cellKey{event.ScenarioID, event.ProfileName}] = evalmodel.GridCell{
				Outcome: evalmodel.OutcomeErrored,
			}
		}
	}

	return grid, scanner.Err()
}
