package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
)

// ExportedRun is the JSON envelope ExportJSON produces and ImportPreview
// consumes. It carries the run header plus every result row so that
// parse(export(run_id)) reproduces exactly what get_results(run_id) would
// return, satisfying the round-trip law in spec.md §8.
type ExportedRun struct {
	Run     evalmodel.Run      `json:"run"`
	Results []evalmodel.Result `json:"results"`
}

// ExportJSON serializes a run and all of its results. Rendering to
// markdown or figures is a downstream CLI concern, not the store's.
func (c *Client) ExportJSON(ctx context.Context, runID string) ([]byte, error) {
	run, err := c.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	results, err := c.GetResults(ctx, runID, ResultsFilter{})
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(ExportedRun{Run: run, Results: results}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	return data, nil
}

// ImportPreview parses a previously exported document without touching the
// database, returning the same (Run, []Result) shape GetResults/GetRun
// would have produced at export time. It exists so an `export` CLI command
// can verify the round-trip law without the store owning any rendering.
func ImportPreview(data []byte) (ExportedRun, error) {
	var doc ExportedRun
	if err := json.Unmarshal(data, &doc); err != nil {
		return ExportedRun{}, fmt.Errorf("failed to parse exported run: %w", err)
	}
	return doc, nil
}
