package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/tarsy-eval/pkg/backend"
	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
)

// maxParseRetries bounds how many times the Judge asks a model to
// reformat its own response before giving up. Matches the teacher's
// maxExtractionRetries: a model that can't follow a simple output
// schema after this many nudges within the same context window won't be
// fixed by retrying longer, so there's no backoff here either — this
// failure class is a formatting problem, not a transient one.
const maxParseRetries = 5

const outputSchemaReminder = `Respond with a single JSON object (optionally inside a `+"```json```"+` fenced block) with this shape:
{"dimension_scores": [{"dimension": "...", "score": 0, "reasoning": "..."}], "required_present": {"...": true}, "forbidden_present": {"...": false}, "summary": "..."}`

// Judge scores a completed dialogue against a rubric using a dedicated
// model role, grounded on the teacher's ScoringController.Run shape: one
// evaluation turn, then reminder-and-retry turns against the same
// backend until a parseable response arrives or retries are exhausted.
type Judge struct {
	Backend backend.ModelBackend
}

// NewJudge wires a Judge to a backend.
func NewJudge(b backend.ModelBackend) *Judge {
	return &Judge{Backend: b}
}

// Evaluate scores in.Transcript/in.Suggestions against in.Rubric and
// derives Scores using w. Returns an error when a judge call fails or
// when no parseable response was obtained after retries — the caller (Scheduler) is
// responsible for recording the trial as successful-with-null-scores in
// that case, per spec.md §4.5's judge-failure contract.
func (j *Judge) Evaluate(
	ctx context.Context, provider, model string, limits backend.Limits,
	in Input, w WeightDescriptor,
) (evalmodel.JudgeResponse, Scores, Usage, error) {
	var usage Usage

	messages := []backend.Message{
		{Role: "user", Content: buildJudgePrompt(in)},
	}

	resp, callErr := j.call(ctx, provider, model, limits, messages, &usage)
	if callErr != nil {
		return evalmodel.JudgeResponse{}, Scores{}, usage, fmt.Errorf("judge call failed: %w", callErr)
	}

	parsed, parseErr := parseJudgeResponse(resp)
	for attempt := 0; parseErr != nil && attempt < maxParseRetries; attempt++ {
		messages = append(messages,
			backend.Message{Role: "assistant", Content: resp},
			backend.Message{Role: "user", Content: outputSchemaReminder},
		)
		resp, callErr = j.call(ctx, provider, model, limits, messages, &usage)
		if callErr != nil {
			return evalmodel.JudgeResponse{}, Scores{}, usage, fmt.Errorf("judge reminder call failed: %w", callErr)
		}
		parsed, parseErr = parseJudgeResponse(resp)
	}
	if parseErr != nil {
		return evalmodel.JudgeResponse{}, Scores{}, usage, fmt.Errorf("failed to parse judge response after %d retries: %w", maxParseRetries, parseErr)
	}

	scores := Derive(parsed.DimensionScores, w)
	return parsed, scores, usage, nil
}

func (j *Judge) call(ctx context.Context, provider, model string, limits backend.Limits, messages []backend.Message, usage *Usage) (string, error) {
	if limits.Timeout == 0 {
		limits.Timeout = backend.RoleJudge.DefaultTimeout()
	}
	result, err := j.Backend.Call(ctx, provider, model, judgeSystemPrompt, messages, limits)
	usage.APICalls++
	if result != nil {
		usage.InputTokens += result.Usage.InputTokens
		usage.OutputTokens += result.Usage.OutputTokens
		usage.LatencyMS += result.LatencyMS
	}
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

const judgeSystemPrompt = "You are grading a tutoring dialogue against a fixed rubric. Score strictly from the rubric, not from general impressions."

func buildJudgePrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scenario: %s\n", in.Rubric.ScenarioID)
	if len(in.Rubric.RequiredElements) > 0 {
		fmt.Fprintf(&b, "Required elements: %s\n", strings.Join(in.Rubric.RequiredElements, "; "))
	}
	if len(in.Rubric.ForbiddenElements) > 0 {
		fmt.Fprintf(&b, "Forbidden elements: %s\n", strings.Join(in.Rubric.ForbiddenElements, "; "))
	}
	if in.Rubric.ExpectedBehavior != "" {
		fmt.Fprintf(&b, "Expected behavior: %s\n", in.Rubric.ExpectedBehavior)
	}
	if len(in.Rubric.Dimensions) > 0 {
		fmt.Fprintf(&b, "Score these dimensions: %s\n", strings.Join(in.Rubric.Dimensions, ", "))
	}

	b.WriteString("\nTranscript:\n")
	for _, entry := range in.Transcript.Entries {
		fmt.Fprintf(&b, "[%s/%s] %s\n", entry.Agent, entry.Action, entry.Content)
	}

	b.WriteString("\nFinal suggestions:\n")
	for _, s := range in.Suggestions {
		fmt.Fprintf(&b, "- (%s) %s\n", s.Kind, s.Text)
	}

	b.WriteString("\n" + outputSchemaReminder)
	return b.String()
}
