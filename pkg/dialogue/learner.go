package dialogue

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/tarsy-eval/pkg/backend"
	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
)

// runLearnerTurn produces the learner's next visible reply to the tutor's
// response. When PsychSplitLearner is set, the learner runs its own
// bounded ego/superego deliberation — reusing RevisionState recursively,
// per SPEC_FULL's "learner architecture is itself a mini ego/superego
// loop" — whose internal entries are recorded in the trace but never fed
// back to the tutor; only the synthesis step's content becomes the next
// CONTEXT_INPUT.
func (e *Engine) runLearnerTurn(
	ctx context.Context,
	out *Output,
	appendEntry func(evalmodel.TraceEntry),
	tutorResponse string,
	scenario ScenarioScript,
	profile ProfileConfig,
) (string, error) {
	initial, err := e.callModel(ctx, out, backend.RoleLearner, profile.Provider, profile.LearnerModel,
		scenario.SystemPromptLearnerEgo, []backend.Message{{Role: "user", Content: tutorResponse}}, profile.Limits)
	if err != nil {
		appendEntry(evalmodel.TraceEntry{Agent: evalmodel.AgentLearnerEgoInitial, Action: evalmodel.ActionGenerate, Timestamp: nowMS()})
		return "", fmt.Errorf("learner initial reaction failed: %w", err)
	}
	appendEntry(evalmodel.TraceEntry{Agent: evalmodel.AgentLearnerEgoInitial, Action: evalmodel.ActionGenerate, Content: initial, Timestamp: nowMS()})

	if !profile.PsychSplitLearner {
		appendEntry(evalmodel.TraceEntry{Agent: evalmodel.AgentLearnerEgoInitial, Action: evalmodel.ActionTurnAction, Content: initial, Timestamp: nowMS()})
		return initial, nil
	}

	state := RevisionState{MaxRound: profile.MaxRevisionRounds}
	current := initial

	for {
		deliberation, err := e.callModel(ctx, out, backend.RoleLearner, profile.Provider, profile.LearnerModel,
			scenario.SystemPromptLearnerSuper, []backend.Message{{Role: "user", Content: current}}, profile.Limits)
		if err != nil {
			return "", fmt.Errorf("learner superego deliberation failed: %w", err)
		}
		verdict, ok := parseSuperegoVerdict(deliberation)
		appendEntry(evalmodel.TraceEntry{
			Agent: evalmodel.AgentLearnerSuperego, Action: evalmodel.ActionDeliberation,
			Content: deliberation, ParseFailure: !ok, Timestamp: nowMS(),
		})

		if !ok || verdict.Approved || state.Exhausted() {
			synthesis, err := e.callModel(ctx, out, backend.RoleLearner, profile.Provider, profile.LearnerModel,
				scenario.SystemPromptLearnerEgo,
				[]backend.Message{{Role: "user", Content: tutorResponse}, {Role: "assistant", Content: current}},
				profile.Limits)
			if err != nil {
				return "", fmt.Errorf("learner synthesis failed: %w", err)
			}
			appendEntry(evalmodel.TraceEntry{Agent: evalmodel.AgentLearnerSynthesis, Action: evalmodel.ActionFinalOutput, Content: synthesis, Timestamp: nowMS()})
			return synthesis, nil
		}
		state.Round++

		revised, err := e.callModel(ctx, out, backend.RoleLearner, profile.Provider, profile.LearnerModel,
			scenario.SystemPromptLearnerEgo,
			[]backend.Message{{Role: "user", Content: tutorResponse}, {Role: "assistant", Content: current}, {Role: "user", Content: verdict.Feedback}},
			profile.Limits)
		if err != nil {
			return "", fmt.Errorf("learner incorporate-feedback failed: %w", err)
		}
		appendEntry(evalmodel.TraceEntry{Agent: evalmodel.AgentLearnerEgoRevision, Action: evalmodel.ActionIncorporateFeedback, Content: revised, Timestamp: nowMS()})
		current = revised
	}
}
