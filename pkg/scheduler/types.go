// Package scheduler turns a run specification into a set of trials,
// executes them with bounded concurrency, judges each result, and commits
// outcomes — spec.md §4.5. Grounded on the teacher's pkg/queue: pool.go's
// worker-count pool and Health() shape, worker.go's poll-claim-execute
// loop and nil-guard, and orphan.go's periodic staleness sweep, all
// retargeted from ent-backed AlertSession rows to the Store's trials
// table and evalmodel.Result.
package scheduler

import (
	"context"

	"github.com/codeready-toolchain/tarsy-eval/pkg/backend"
	"github.com/codeready-toolchain/tarsy-eval/pkg/dialogue"
	"github.com/codeready-toolchain/tarsy-eval/pkg/judge"
)

// RunSpec is a run specification, per spec.md §4.5.
type RunSpec struct {
	RunID       string // caller-assigned id; the Run entrypoint generates one if empty
	Description string

	// Scenario selection.
	Scenarios    []string // explicit scenario ids
	AllScenarios bool     // every scenario the catalogue defines
	ClusterTags  []string // optional filter applied by the catalogue

	// Configuration selection. Exactly one of these should be set;
	// FactorialCells takes precedence over AllProfiles, which takes
	// precedence over an explicit Profiles list.
	Profiles       []string // explicit profile/cell names
	AllProfiles    bool     // every profile the catalogue defines, discovery order
	FactorialCells bool     // the 8 cell_1..cell_8 profiles specifically

	Replications int // trials per (scenario, configuration) pair
	Parallelism  int // worker pool size; 0 uses SchedulerConfig.Parallelism

	ModelOverrides map[backend.Role]string // per-role model override, applied by ProfileCatalogue
	JudgeProvider  string
	JudgeModel     string
	SkipRubric     bool
}

// ScenarioCatalogue resolves scenario identifiers to dialogue scripts and
// judging rubrics. It lives outside this module (spec.md §1 places
// scenario/content configuration out of scope); the Scheduler depends
// only on this seam.
type ScenarioCatalogue interface {
	Resolve(ctx context.Context, spec RunSpec) ([]dialogue.ScenarioScript, error)
	Rubric(ctx context.Context, scenarioID string) (judge.Rubric, error)
	Weights(ctx context.Context, scenarioID string) (judge.WeightDescriptor, error)
}

// ProfileCatalogue resolves profile/cell names to dialogue configuration.
// The built-in factorial cells (cell_1..cell_8) are derived mechanically
// from evalmodel.Cell; a custom profile list is resolved through here.
type ProfileCatalogue interface {
	Resolve(ctx context.Context, spec RunSpec) ([]dialogue.ProfileConfig, error)
}

// planItem is one resolved (scenario, profile) pairing, carrying
// everything a worker needs to execute and judge a trial for it. Kept
// in-memory, indexed by natural key alongside the claimable queue row —
// the trials table is a claim ticket, not a copy of the scenario/profile
// content, since that content belongs to the external catalogue and
// isn't part of this harness's persisted state (spec.md §6).
type planItem struct {
	scenario dialogue.ScenarioScript
	profile  dialogue.ProfileConfig
	rubric   judge.Rubric
	weights  judge.WeightDescriptor
}
