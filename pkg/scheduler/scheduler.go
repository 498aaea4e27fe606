package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/codeready-toolchain/tarsy-eval/pkg/backend"
	"github.com/codeready-toolchain/tarsy-eval/pkg/config"
	"github.com/codeready-toolchain/tarsy-eval/pkg/dialogue"
	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
	"github.com/codeready-toolchain/tarsy-eval/pkg/judge"
	"github.com/codeready-toolchain/tarsy-eval/pkg/progresslog"
	"github.com/codeready-toolchain/tarsy-eval/pkg/store"
	"github.com/google/uuid"
)

// Deps bundles everything the top-level Run/Resume/Rejudge/Evaluate
// entrypoints need beyond a RunSpec: the persisted state, the dialogue
// engine and judge built around the configured backends, and the
// scenario/profile catalogues the harness treats as external.
type Deps struct {
	Store       *store.Client
	Transcripts *store.TranscriptStore
	ProgressDir string
	Engine      *dialogue.Engine
	Judge       *judge.Judge
	Scenarios   ScenarioCatalogue
	Profiles    ProfileCatalogue
	Config      *config.SchedulerConfig
}

// Run creates a new run, expands its plan, and drives every trial in it to
// completion. It is the entrypoint behind the `run` command (spec.md §6).
func Run(ctx context.Context, spec RunSpec, deps Deps) (evalmodel.Run, error) {
	if spec.RunID == "" {
		spec.RunID = uuid.NewString()
	}

	p, err := buildPlan(ctx, spec.RunID, spec, deps.Scenarios, deps.Profiles)
	if err != nil {
		return evalmodel.Run{}, err
	}

	run := evalmodel.Run{
		RunID:          spec.RunID,
		Description:    spec.Description,
		TotalScenarios: p.totalScenarios,
		TotalConfigs:   p.totalConfigs,
		Metadata: map[string]any{
			evalmodel.MetaProcessID:   os.Getpid(),
			evalmodel.MetaParallelism: effectiveParallelism(spec, deps.Config),
		},
	}
	run, err = deps.Store.CreateRun(ctx, run)
	if err != nil {
		return evalmodel.Run{}, &StoreError{Op: "creating run", Err: err}
	}

	if err := runPlan(ctx, run.RunID, p, p.order, deps, spec); err != nil {
		return run, err
	}

	if err := deps.Store.CompleteRun(ctx, run.RunID); err != nil {
		return run, &StoreError{Op: "completing run", Err: err}
	}
	return deps.Store.GetRun(ctx, run.RunID)
}

// Resume re-expands runID's plan and re-drives only the trials that don't
// already have a successful Result, per spec.md §4.5's resume contract:
// success is sticky, failure is retried, and total_tests never changes.
func Resume(ctx context.Context, runID string, spec RunSpec, deps Deps) (evalmodel.Run, error) {
	run, err := deps.Store.GetRun(ctx, runID)
	if err != nil {
		return evalmodel.Run{}, &ConfigError{Reason: "loading run to resume", Err: err}
	}

	spec.RunID = runID
	p, err := buildPlan(ctx, runID, spec, deps.Scenarios, deps.Profiles)
	if err != nil {
		return evalmodel.Run{}, err
	}

	existing, err := deps.Store.GetResults(ctx, runID, store.ResultsFilter{})
	if err != nil {
		return evalmodel.Run{}, &StoreError{Op: "loading existing results", Err: err}
	}
	done := map[evalmodel.NaturalKey]bool{}
	for _, r := range existing {
		if r.Success {
			done[r.Key()] = true
		}
	}

	var remaining []evalmodel.NaturalKey
	for _, key := range p.order {
		if !done[key] {
			remaining = append(remaining, key)
		}
	}

	if len(remaining) == 0 {
		slog.Info("resume found nothing left to do", "run_id", runID)
		if err := deps.Store.CompleteRun(ctx, runID); err != nil {
			return run, &StoreError{Op: "completing run", Err: err}
		}
		return deps.Store.GetRun(ctx, runID)
	}

	if err := deps.Store.UpdateRun(ctx, runID, evalmodel.UpdateRunFields{
		Status: evalmodel.RunStatusRunning,
		Metadata: map[string]any{
			evalmodel.MetaProcessID: os.Getpid(),
		},
	}); err != nil {
		return run, &StoreError{Op: "reopening run for resume", Err: err}
	}

	if err := runPlan(ctx, runID, p, remaining, deps, spec); err != nil {
		return run, err
	}

	if err := deps.Store.CompleteRun(ctx, runID); err != nil {
		return run, &StoreError{Op: "completing run", Err: err}
	}
	return deps.Store.GetRun(ctx, runID)
}

// Rejudge re-scores a run's existing successful results against the
// current judge configuration without re-running any dialogue. By default
// every rejudged score is inserted as a new result row, preserving history
// for audit; overwrite=true replaces the prior scores on the existing row
// instead (spec.md §4.5).
func Rejudge(ctx context.Context, runID string, filter store.ResultsFilter, overwrite bool, judgeProvider, judgeModel string, deps Deps) error {
	results, err := deps.Store.GetResults(ctx, runID, filter)
	if err != nil {
		return &StoreError{Op: "loading results to rejudge", Err: err}
	}

	successful := make([]evalmodel.Result, 0, len(results))
	for _, r := range results {
		if r.Success {
			successful = append(successful, r)
		}
	}
	return rejudgeResults(ctx, runID, successful, overwrite, judgeProvider, judgeModel, deps)
}

// rejudgeResults re-scores each of results against the current judge
// configuration, in place (overwrite) or as new history rows.
func rejudgeResults(ctx context.Context, runID string, results []evalmodel.Result, overwrite bool, judgeProvider, judgeModel string, deps Deps) error {
	for _, result := range results {
		rubric, err := deps.Scenarios.Rubric(ctx, result.ScenarioID)
		if err != nil {
			return &ConfigError{Reason: fmt.Sprintf("resolving rubric for %s", result.ScenarioID), Err: err}
		}
		weights, err := deps.Scenarios.Weights(ctx, result.ScenarioID)
		if err != nil {
			return &ConfigError{Reason: fmt.Sprintf("resolving weights for %s", result.ScenarioID), Err: err}
		}

		transcript, err := deps.Transcripts.ReadByDialogueID(result.DialogueID)
		if err != nil {
			return &StoreError{Op: fmt.Sprintf("reading transcript %s", result.DialogueID), Err: err}
		}

		judgeCtx, cancel := context.WithTimeout(ctx, deps.Config.JudgeTimeout)
		resp, scores, usage, err := deps.Judge.Evaluate(judgeCtx, judgeProvider, judgeModel, backend.Limits{},
			judge.Input{Suggestions: suggestionsFromTranscript(transcript), Transcript: transcript, Rubric: rubric}, weights)
		cancel()
		if err != nil {
			slog.Warn("rejudge failed for result, leaving prior scores in place",
				"run_id", runID, "result_id", result.ID, "error", err)
			continue
		}

		payload := evalmodel.JudgePayload{
			DimensionScores:  resp.DimensionScores,
			OverallScore:     scores.OverallScore,
			BaseScore:        scores.BaseScore,
			RecognitionScore: scores.RecognitionScore,
			JudgeModel:       judgeModel,
		}

		if overwrite {
			if err := deps.Store.UpdateResultScores(ctx, result.ID, payload); err != nil {
				return &StoreError{Op: fmt.Sprintf("updating scores for result %d", result.ID), Err: err}
			}
			continue
		}

		updated := result
		updated.DimensionScores = payload.DimensionScores
		updated.OverallScore = payload.OverallScore
		updated.BaseScore = payload.BaseScore
		updated.RecognitionScore = payload.RecognitionScore
		updated.JudgeModel = payload.JudgeModel
		updated.APICalls += usage.APICalls
		updated.InputTokens += usage.InputTokens
		updated.OutputTokens += usage.OutputTokens
		updated.LatencyMS += usage.LatencyMS
		if _, err := deps.Store.StoreResult(ctx, updated, false); err != nil {
			return &StoreError{Op: fmt.Sprintf("storing rejudged result for %s/%s", result.ScenarioID, result.ProfileName), Err: err}
		}
	}

	return nil
}

// Evaluate re-scores only trials whose Result currently carries null
// scores (a skipped rubric, or a prior judge failure per spec.md §4.5's
// judge contract),
// leaving every already-scored result untouched. It is the `evaluate
// --follow` entrypoint.
func Evaluate(ctx context.Context, runID string, judgeProvider, judgeModel string, deps Deps) error {
	results, err := deps.Store.GetResults(ctx, runID, store.ResultsFilter{})
	if err != nil {
		return &StoreError{Op: "loading results to evaluate", Err: err}
	}

	pending := make([]evalmodel.Result, 0)
	for _, r := range results {
		if r.Success && r.OverallScore == nil {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	return rejudgeResults(ctx, runID, pending, true, judgeProvider, judgeModel, deps)
}

// runPlan opens runID's progress journal, emits its run_start/run_complete
// bracket, and executes keys through a freshly built Pool. The journal is
// run-scoped, so it's opened here rather than threaded in via Deps, which
// has no run ID until Run/Resume mint or look one up.
func runPlan(ctx context.Context, runID string, p *plan, keys []evalmodel.NaturalKey, deps Deps, spec RunSpec) error {
	var progress *progresslog.Writer
	if deps.ProgressDir != "" {
		var err error
		progress, err = progresslog.NewWriter(filepath.Join(deps.ProgressDir, runID+".jsonl"))
		if err != nil {
			return &StoreError{Op: "opening progress log", Err: err}
		}
		defer progress.Close()
	}

	started := time.Now()
	if progress != nil {
		if err := progress.Append(evalmodel.ProgressEvent{
			Type: evalmodel.EventRunStart, TimestampUnix: started.Unix(),
			Scenarios: p.scenarioIDs, Profiles: p.profileNames, TotalTests: len(p.order),
		}); err != nil {
			slog.Error("failed to append run_start progress event", "run_id", runID, "error", err)
		}
	}

	pool := NewPool(runID, deps.Store, deps.Transcripts, progress, p, deps.Engine, deps.Judge,
		spec.JudgeProvider, spec.JudgeModel, spec.SkipRubric, effectiveConfig(spec, deps.Config))
	if err := pool.Run(ctx, keys); err != nil {
		return err
	}

	if progress != nil {
		if err := progress.Append(evalmodel.ProgressEvent{
			Type: evalmodel.EventRunComplete, TimestampUnix: time.Now().Unix(),
			DurationMS: time.Since(started).Milliseconds(),
		}); err != nil {
			slog.Error("failed to append run_complete progress event", "run_id", runID, "error", err)
		}
	}
	return nil
}

func effectiveParallelism(spec RunSpec, cfg *config.SchedulerConfig) int {
	if spec.Parallelism > 0 {
		return spec.Parallelism
	}
	return cfg.Parallelism
}

func effectiveConfig(spec RunSpec, cfg *config.SchedulerConfig) *config.SchedulerConfig {
	if spec.Parallelism <= 0 {
		return cfg
	}
	clone := *cfg
	clone.Parallelism = spec.Parallelism
	return &clone
}

// suggestionsFromTranscript reconstructs the tutor's final structured
// suggestions from a saved transcript, the way dialogue.Engine.Run builds
// them live: one per AgentEgo ActionFinalOutput entry.
func suggestionsFromTranscript(t evalmodel.DialogueTranscript) []evalmodel.Suggestion {
	var out []evalmodel.Suggestion
	for _, entry := range t.Entries {
		if entry.Action == evalmodel.ActionFinalOutput && entry.Agent == evalmodel.AgentEgo {
			out = append(out, evalmodel.Suggestion{Kind: "tutor_response", Text: entry.Content})
		}
	}
	return out
}
