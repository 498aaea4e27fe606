// Package evalmodel holds the data model shared by the store, the
// progress log, the dialogue engine, and the scheduler: runs, results,
// transcripts, progress events, and factorial cell coordinates.
package evalmodel

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one invocation of the harness against a scenario × configuration
// matrix. total_tests is fixed at creation and never inflated by a resume.
type Run struct {
	RunID             string
	Description       string
	TotalScenarios    int
	TotalConfigs      int
	TotalTests        int
	Status            RunStatus
	CreatedAt         time.Time
	CompletedAt       *time.Time
	Metadata          map[string]any
	CompletedProgress int // derived: distinct (scenario,profile) pairs with a success, for list_runs aggregates
}

// UpdateRunFields carries the mutable subset of Run. Zero-value fields on
// the pointer fields are "leave unchanged"; Status is only overwritten
// when non-empty, which is what makes status reversion (completed →
// running) an explicit opt-in rather than an accident.
type UpdateRunFields struct {
	Status      RunStatus
	CompletedAt *time.Time
	Metadata    map[string]any
}

// Metadata keys the scheduler relies on for resume/rejudge context.
const (
	MetaProcessID       = "process_id"
	MetaParallelism     = "parallelism"
	MetaScenarioProfile = "scenario_content_ref" // env/config ref needed to restore rubric context on rejudge
)
