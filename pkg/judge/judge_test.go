package judge

import (
	"context"
	"testing"

	"github.com/codeready-toolchain/tarsy-eval/pkg/backend"
	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInput() Input {
	return Input{
		Suggestions: []evalmodel.Suggestion{{Kind: "tutor_response", Text: "use a common denominator"}},
		Transcript: evalmodel.DialogueTranscript{
			Entries: []evalmodel.TraceEntry{
				{Agent: evalmodel.AgentEgo, Action: evalmodel.ActionFinalOutput, Content: "use a common denominator"},
			},
		},
		Rubric: Rubric{
			ScenarioID:        "scn-1",
			RequiredElements:  []string{"mentions common denominator"},
			ForbiddenElements: []string{"gives the final answer outright"},
			Dimensions:        []string{"clarity", "correctness"},
		},
	}
}

func weights() WeightDescriptor {
	return WeightDescriptor{
		Weight:                map[string]float64{"clarity": 1, "correctness": 2},
		BaseDimensions:        []string{"correctness"},
		RecognitionDimensions: nil,
	}
}

func TestEvaluate_parsesWellFormedResponseOnFirstTry(t *testing.T) {
	stub := backend.NewStub(`{"dimension_scores": [{"dimension": "clarity", "score": 4, "reasoning": "clear"}, {"dimension": "correctness", "score": 5, "reasoning": "correct"}], "required_present": {"mentions common denominator": true}, "forbidden_present": {"gives the final answer outright": false}, "summary": "good"}`)
	j := NewJudge(stub)

	resp, scores, usage, err := j.Evaluate(context.Background(), "stub", "judge-model", backend.Limits{}, sampleInput(), weights())

	require.NoError(t, err)
	assert.Equal(t, 1, usage.APICalls)
	require.Len(t, resp.DimensionScores, 2)
	require.NotNil(t, scores.OverallScore)
	assert.InDelta(t, (1*4.0+2*5.0)/3.0, *scores.OverallScore, 0.001)
	require.NotNil(t, scores.BaseScore)
	assert.InDelta(t, 5.0, *scores.BaseScore, 0.001)
	assert.Nil(t, scores.RecognitionScore)
}

func TestEvaluate_retriesOnUnparseableResponseThenSucceeds(t *testing.T) {
	stub := &backend.Stub{ResponseFunc: func(callIndex int, messages []backend.Message) string {
		if callIndex == 0 {
			return "I think this response was pretty good overall."
		}
		return `{"dimension_scores": [{"dimension": "clarity", "score": 3, "reasoning": "ok"}], "summary": "ok"}`
	}}
	j := NewJudge(stub)

	resp, scores, usage, err := j.Evaluate(context.Background(), "stub", "judge-model", backend.Limits{}, sampleInput(), weights())

	require.NoError(t, err)
	assert.Equal(t, 2, usage.APICalls)
	require.Len(t, resp.DimensionScores, 1)
	require.NotNil(t, scores.OverallScore)
	assert.Nil(t, scores.BaseScore)
}

func TestEvaluate_failsAfterExhaustingRetries(t *testing.T) {
	stub := backend.NewStub("I refuse to answer in JSON.")
	j := NewJudge(stub)

	_, _, usage, err := j.Evaluate(context.Background(), "stub", "judge-model", backend.Limits{}, sampleInput(), weights())

	require.Error(t, err)
	assert.Equal(t, 1+maxParseRetries, usage.APICalls)
}

func TestEvaluate_propagatesTransportFailure(t *testing.T) {
	stub := backend.NewFlakyStub(100, backend.ErrClassTransport, "unused")
	j := NewJudge(stub)

	_, _, usage, err := j.Evaluate(context.Background(), "stub", "judge-model", backend.Limits{}, sampleInput(), weights())

	require.Error(t, err)
	assert.Equal(t, 1, usage.APICalls)
}

func TestDerive_ignoresDimensionsMissingFromWeightDescriptor(t *testing.T) {
	scores := []evalmodel.DimensionScore{
		{Dimension: "clarity", Score: 4},
		{Dimension: "unweighted", Score: 1},
	}
	derived := Derive(scores, WeightDescriptor{Weight: map[string]float64{"clarity": 1}})

	require.NotNil(t, derived.OverallScore)
	assert.InDelta(t, 4.0, *derived.OverallScore, 0.001)
	assert.Nil(t, derived.BaseScore)
	assert.Nil(t, derived.RecognitionScore)
}

func TestDerive_returnsNilOverallWhenNothingWeighted(t *testing.T) {
	scores := []evalmodel.DimensionScore{{Dimension: "clarity", Score: 4}}
	derived := Derive(scores, WeightDescriptor{Weight: map[string]float64{}})
	assert.Nil(t, derived.OverallScore)
}

func TestParseJudgeResponse_acceptsFencedBlock(t *testing.T) {
	text := "Here is my assessment:\n```json\n{\"dimension_scores\": [{\"dimension\": \"clarity\", \"score\": 2, \"reasoning\": \"meh\"}], \"summary\": \"meh\"}\n```\nThanks."
	resp, err := parseJudgeResponse(text)
	require.NoError(t, err)
	require.Len(t, resp.DimensionScores, 1)
	assert.Equal(t, "clarity", resp.DimensionScores[0].Dimension)
}
