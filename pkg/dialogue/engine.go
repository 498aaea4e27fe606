package dialogue

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/tarsy-eval/pkg/backend"
	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
	"github.com/google/uuid"
)

// Output is everything a trial's dialogue produces: the transcript, the
// aggregate counters, and the tutor's final structured suggestions,
// exactly the three outputs spec.md §4.4 names.
type Output struct {
	Transcript   evalmodel.DialogueTranscript
	Suggestions  []evalmodel.Suggestion
	APICalls     int
	InputTokens  int64
	OutputTokens int64
	LatencyMS    int64
	Success      bool
	ErrorMessage string
}

// Engine runs the ego/superego/learner state machine against a single
// ModelBackend — already wrapped with retry and telemetry middleware by
// the caller, matching how the teacher's controllers receive an
// already-configured LLMClient rather than constructing one.
type Engine struct {
	Backend backend.ModelBackend
}

// NewEngine wires an Engine to a backend.
func NewEngine(b backend.ModelBackend) *Engine {
	return &Engine{Backend: b}
}

// Run produces one transcript for the given scenario under the given
// profile. It always returns a transcript, even on partial failure —
// unfinished turns are marked, never silently dropped.
func (e *Engine) Run(ctx context.Context, runID string, scenario ScenarioScript, profile ProfileConfig) Output {
	out := Output{
		Transcript: evalmodel.DialogueTranscript{
			DialogueID:          uuid.NewString(),
			RunID:               runID,
			ScenarioID:          scenario.ScenarioID,
			ProfileName:         profile.ProfileName,
			TutorArchitecture:   tutorArchitectureLabel(profile.MultiAgentTutor),
			LearnerArchitecture: learnerArchitectureLabel(profile.PsychSplitLearner),
		},
		Success: true,
	}

	appendEntry := func(entry evalmodel.TraceEntry) {
		entry.Index = len(out.Transcript.Entries)
		out.Transcript.Entries = append(out.Transcript.Entries, entry)
	}

	currentContext := scenario.InitialContext
	hardCap := profile.HardTurnCap
	if hardCap <= 0 {
		hardCap = scenario.MaxLearnerTurns
	}

	for turn := 0; turn < scenario.MaxLearnerTurns && turn < hardCap; turn++ {
		appendEntry(evalmodel.TraceEntry{
			Agent: evalmodel.AgentUser, Action: evalmodel.ActionContextInput,
			Content: currentContext, Timestamp: nowMS(),
		})

		finalResponse, turnErr := e.runTutorTurn(ctx, &out, appendEntry, currentContext, scenario, profile)
		out.Transcript.TotalTurns++
		if turnErr != nil {
			out.Success = false
			out.ErrorMessage = turnErr.Error()
			markLastUnfinished(&out.Transcript)
			return out
		}

		out.Suggestions = append(out.Suggestions, evalmodel.Suggestion{Kind: "tutor_response", Text: finalResponse})

		isLastTurn := turn == scenario.MaxLearnerTurns-1 || turn == hardCap-1
		if isLastTurn {
			break
		}

		nextContext, learnerErr := e.runLearnerTurn(ctx, &out, appendEntry, finalResponse, scenario, profile)
		if learnerErr != nil {
			out.Success = false
			out.ErrorMessage = learnerErr.Error()
			markLastUnfinished(&out.Transcript)
			return out
		}
		currentContext = nextContext
	}

	return out
}

// runTutorTurn drives EGO_DRAFT, the optional SUPEREGO_REVIEW/EGO_REVISE
// loop, and EMIT_RESPONSE for one external turn. Returns the tutor's
// final visible content.
func (e *Engine) runTutorTurn(
	ctx context.Context,
	out *Output,
	appendEntry func(evalmodel.TraceEntry),
	turnContext string,
	scenario ScenarioScript,
	profile ProfileConfig,
) (string, error) {
	draft, err := e.callModel(ctx, out, backend.RoleEgo, profile.Provider, profile.EgoModel,
		scenario.SystemPromptTutorEgo, []backend.Message{{Role: "user", Content: turnContext}}, profile.Limits)
	if err != nil {
		appendEntry(evalmodel.TraceEntry{Agent: evalmodel.AgentEgo, Action: evalmodel.ActionGenerate, Timestamp: nowMS()})
		return "", fmt.Errorf("ego draft failed: %w", err)
	}
	appendEntry(evalmodel.TraceEntry{Agent: evalmodel.AgentEgo, Action: evalmodel.ActionGenerate, Content: draft, Timestamp: nowMS()})

	if !profile.MultiAgentTutor || profile.MaxRevisionRounds <= 0 {
		appendEntry(evalmodel.TraceEntry{Agent: evalmodel.AgentEgo, Action: evalmodel.ActionFinalOutput, Content: draft, Timestamp: nowMS()})
		return draft, nil
	}

	state := RevisionState{MaxRound: profile.MaxRevisionRounds}
	current := draft

	for {
		verdictText, err := e.callModel(ctx, out, backend.RoleSuperego, profile.Provider, profile.SuperegoModel,
			scenario.SystemPromptTutorSuperego, []backend.Message{{Role: "user", Content: current}}, profile.Limits)
		if err != nil {
			return "", fmt.Errorf("superego review failed: %w", err)
		}

		verdict, ok := parseSuperegoVerdict(verdictText)
		parseFailed := !ok
		if parseFailed {
			verdict = superegoVerdict{Approved: true, Feedback: ""}
		}

		appendEntry(evalmodel.TraceEntry{
			Agent: evalmodel.AgentSuperego, Action: evalmodel.ActionReview,
			Content: verdictText, ParseFailure: parseFailed, Timestamp: nowMS(),
		})

		if verdict.Approved {
			appendEntry(evalmodel.TraceEntry{Agent: evalmodel.AgentEgo, Action: evalmodel.ActionFinalOutput, Content: current, Timestamp: nowMS()})
			return current, nil
		}
		state.Round++

		revised, err := e.callModel(ctx, out, backend.RoleEgo, profile.Provider, profile.EgoModel,
			scenario.SystemPromptTutorEgo,
			[]backend.Message{{Role: "user", Content: turnContext}, {Role: "assistant", Content: current}, {Role: "user", Content: verdict.Feedback}},
			profile.Limits)
		if err != nil {
			return "", fmt.Errorf("ego revision failed: %w", err)
		}
		appendEntry(evalmodel.TraceEntry{Agent: evalmodel.AgentEgo, Action: evalmodel.ActionRevise, Content: revised, Timestamp: nowMS()})
		current = revised

		// The K-th revision is never sent back for another review — it is
		// emitted forced, per the bound profile.MaxRevisionRounds promises.
		if state.Exhausted() {
			appendEntry(evalmodel.TraceEntry{
				Agent: evalmodel.AgentEgo, Action: evalmodel.ActionFinalOutput,
				Content: current, ForcedEmission: true, Timestamp: nowMS(),
			})
			return current, nil
		}
	}
}

// callModel invokes the backend and folds usage/latency/call-count into
// the output aggregates, regardless of the outcome of any individual call.
func (e *Engine) callModel(
	ctx context.Context, out *Output, role backend.Role, provider, model, systemPrompt string,
	messages []backend.Message, limits backend.Limits,
) (string, error) {
	if limits.Timeout == 0 {
		limits.Timeout = role.DefaultTimeout()
	}

	result, err := e.Backend.Call(ctx, provider, model, systemPrompt, messages, limits)
	out.APICalls++
	if result != nil {
		out.InputTokens += result.Usage.InputTokens
		out.OutputTokens += result.Usage.OutputTokens
		out.LatencyMS += result.LatencyMS
	}
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

func markLastUnfinished(t *evalmodel.DialogueTranscript) {
	if len(t.Entries) == 0 {
		return
	}
	t.Entries[len(t.Entries)-1].Unfinished = true
}

func tutorArchitectureLabel(multiAgent bool) string {
	if multiAgent {
		return "ego_superego"
	}
	return "single_agent"
}

func learnerArchitectureLabel(psychSplit bool) string {
	if psychSplit {
		return "psych_split"
	}
	return "unified"
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}
