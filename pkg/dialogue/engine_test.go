package dialogue

import (
	"context"
	"testing"

	"github.com/codeready-toolchain/tarsy-eval/pkg/backend"
	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseScenario() ScenarioScript {
	return ScenarioScript{
		ScenarioID:                "scn-1",
		ScenarioName:              "fractions-intro",
		SystemPromptTutorEgo:      "tutor ego",
		SystemPromptTutorSuperego: "tutor superego",
		SystemPromptLearnerEgo:    "learner ego",
		SystemPromptLearnerSuper:  "learner superego",
		InitialContext:            "the learner asks about adding fractions",
		MaxLearnerTurns:           1,
	}
}

func baseProfile() ProfileConfig {
	return ProfileConfig{
		ProfileName:       "cell_1",
		MaxRevisionRounds: 2,
		Provider:          "stub",
		EgoModel:          "ego-model",
		SuperegoModel:     "superego-model",
		LearnerModel:      "learner-model",
	}
}

func entriesOf(t *testing.T, out Output) []evalmodel.TraceEntry {
	t.Helper()
	return out.Transcript.Entries
}

func TestRun_singleAgentTutorHappyPath(t *testing.T) {
	stub := backend.NewStub("two fractions need a common denominator")
	engine := NewEngine(stub)

	out := engine.Run(context.Background(), "run-1", baseScenario(), baseProfile())

	require.True(t, out.Success)
	entries := entriesOf(t, out)
	require.Len(t, entries, 3)
	assert.Equal(t, evalmodel.AgentUser, entries[0].Agent)
	assert.Equal(t, evalmodel.ActionContextInput, entries[0].Action)
	assert.Equal(t, evalmodel.AgentEgo, entries[1].Agent)
	assert.Equal(t, evalmodel.ActionGenerate, entries[1].Action)
	assert.Equal(t, evalmodel.AgentEgo, entries[2].Agent)
	assert.Equal(t, evalmodel.ActionFinalOutput, entries[2].Action)
	assert.False(t, entries[2].ForcedEmission)
	assert.Equal(t, 1, stub.CallCount())
	assert.Equal(t, 1, out.APICalls)
	require.Len(t, out.Suggestions, 1)
	assert.Equal(t, "two fractions need a common denominator", out.Suggestions[0].Text)
}

func TestRun_multiAgentTutorApprovesOnFirstReview(t *testing.T) {
	stub := &backend.Stub{ResponseFunc: func(callIndex int, messages []backend.Message) string {
		switch callIndex {
		case 0:
			return "draft explanation"
		case 1:
			return `{"approved": true, "feedback": ""}`
		}
		t.Fatalf("unexpected call %d", callIndex)
		return ""
	}}
	engine := NewEngine(stub)
	profile := baseProfile()
	profile.MultiAgentTutor = true

	out := engine.Run(context.Background(), "run-1", baseScenario(), profile)

	require.True(t, out.Success)
	entries := entriesOf(t, out)
	require.Len(t, entries, 4)
	assert.Equal(t, evalmodel.AgentSuperego, entries[2].Agent)
	assert.Equal(t, evalmodel.ActionReview, entries[2].Action)
	assert.False(t, entries[2].ParseFailure)
	assert.Equal(t, evalmodel.AgentEgo, entries[3].Agent)
	assert.Equal(t, evalmodel.ActionFinalOutput, entries[3].Action)
	assert.False(t, entries[3].ForcedEmission)
	assert.Equal(t, "draft explanation", entries[3].Content)
}

func TestRun_multiAgentTutorRevisesThenApproves(t *testing.T) {
	stub := &backend.Stub{ResponseFunc: func(callIndex int, messages []backend.Message) string {
		switch callIndex {
		case 0:
			return "first draft"
		case 1:
			return `{"approved": false, "feedback": "add a worked example"}`
		case 2:
			return "revised draft with a worked example"
		case 3:
			return `{"approved": true, "feedback": ""}`
		}
		t.Fatalf("unexpected call %d", callIndex)
		return ""
	}}
	engine := NewEngine(stub)
	profile := baseProfile()
	profile.MultiAgentTutor = true

	out := engine.Run(context.Background(), "run-1", baseScenario(), profile)

	require.True(t, out.Success)
	entries := entriesOf(t, out)
	require.Len(t, entries, 6)
	assert.Equal(t, evalmodel.ActionReview, entries[2].Action)
	assert.Equal(t, evalmodel.ActionRevise, entries[3].Action)
	assert.Equal(t, "revised draft with a worked example", entries[3].Content)
	assert.Equal(t, evalmodel.ActionReview, entries[4].Action)
	assert.Equal(t, evalmodel.ActionFinalOutput, entries[5].Action)
	assert.False(t, entries[5].ForcedEmission)
	assert.Equal(t, "revised draft with a worked example", entries[5].Content)
}

func TestRun_multiAgentTutorForcesEmissionWhenRoundsExhausted(t *testing.T) {
	stub := &backend.Stub{ResponseFunc: func(callIndex int, messages []backend.Message) string {
		switch callIndex {
		case 0:
			return "draft v0"
		case 1:
			return `{"approved": false, "feedback": "still not rigorous enough"}`
		case 2:
			return "draft v1"
		}
		t.Fatalf("unexpected call %d", callIndex)
		return ""
	}}
	engine := NewEngine(stub)
	profile := baseProfile()
	profile.MultiAgentTutor = true
	profile.MaxRevisionRounds = 1

	out := engine.Run(context.Background(), "run-1", baseScenario(), profile)

	require.True(t, out.Success)
	entries := entriesOf(t, out)
	last := entries[len(entries)-1]
	assert.Equal(t, evalmodel.ActionFinalOutput, last.Action)
	assert.True(t, last.ForcedEmission)
	assert.Equal(t, "draft v1", last.Content)
	assert.Equal(t, 3, stub.CallCount())

	reviews := 0
	for _, e := range entries {
		if e.Agent == evalmodel.AgentSuperego && e.Action == evalmodel.ActionReview {
			reviews++
		}
	}
	assert.Equal(t, 1, reviews)
}

func TestRun_superegoParseFailureIsTreatedAsApproval(t *testing.T) {
	stub := &backend.Stub{ResponseFunc: func(callIndex int, messages []backend.Message) string {
		switch callIndex {
		case 0:
			return "draft explanation"
		case 1:
			return "looks fine to me, no notes"
		}
		t.Fatalf("unexpected call %d", callIndex)
		return ""
	}}
	engine := NewEngine(stub)
	profile := baseProfile()
	profile.MultiAgentTutor = true

	out := engine.Run(context.Background(), "run-1", baseScenario(), profile)

	require.True(t, out.Success)
	entries := entriesOf(t, out)
	require.Len(t, entries, 4)
	assert.True(t, entries[2].ParseFailure)
	assert.Equal(t, evalmodel.ActionFinalOutput, entries[3].Action)
	assert.False(t, entries[3].ForcedEmission)
}

func TestRun_egoTransportFailureTerminatesDialogue(t *testing.T) {
	stub := backend.NewFlakyStub(100, backend.ErrClassTransport, "unreachable")
	engine := NewEngine(stub)

	out := engine.Run(context.Background(), "run-1", baseScenario(), baseProfile())

	require.False(t, out.Success)
	require.NotEmpty(t, out.ErrorMessage)
	entries := entriesOf(t, out)
	require.NotEmpty(t, entries)
	assert.True(t, entries[len(entries)-1].Unfinished)
}

func TestRun_unifiedLearnerProducesDirectReply(t *testing.T) {
	scenario := baseScenario()
	scenario.MaxLearnerTurns = 2
	profile := baseProfile()

	stub := &backend.Stub{ResponseFunc: func(callIndex int, messages []backend.Message) string {
		switch callIndex {
		case 0:
			return "tutor turn 1"
		case 1:
			return "learner reacts directly"
		case 2:
			return "tutor turn 2"
		}
		t.Fatalf("unexpected call %d", callIndex)
		return ""
	}}
	engine := NewEngine(stub)

	out := engine.Run(context.Background(), "run-1", scenario, profile)

	require.True(t, out.Success)
	entries := entriesOf(t, out)
	var learnerEntry *evalmodel.TraceEntry
	for i := range entries {
		if entries[i].Agent == evalmodel.AgentLearnerEgoInitial && entries[i].Action == evalmodel.ActionTurnAction {
			learnerEntry = &entries[i]
		}
	}
	require.NotNil(t, learnerEntry)
	assert.Equal(t, "learner reacts directly", learnerEntry.Content)
	assert.Equal(t, 2, out.Transcript.TotalTurns)
}

func TestRun_psychSplitLearnerDeliberatesBeforeSynthesis(t *testing.T) {
	scenario := baseScenario()
	scenario.MaxLearnerTurns = 2
	profile := baseProfile()
	profile.PsychSplitLearner = true
	profile.MaxRevisionRounds = 1

	stub := &backend.Stub{ResponseFunc: func(callIndex int, messages []backend.Message) string {
		switch callIndex {
		case 0:
			return "tutor turn 1"
		case 1:
			return "learner initial gut reaction"
		case 2:
			return `{"approved": true, "feedback": ""}`
		case 3:
			return "learner synthesized reply"
		case 4:
			return "tutor turn 2"
		}
		t.Fatalf("unexpected call %d", callIndex)
		return ""
	}}
	engine := NewEngine(stub)

	out := engine.Run(context.Background(), "run-1", scenario, profile)

	require.True(t, out.Success)
	entries := entriesOf(t, out)

	var sawInitial, sawDeliberation, sawSynthesis bool
	for _, e := range entries {
		switch {
		case e.Agent == evalmodel.AgentLearnerEgoInitial && e.Action == evalmodel.ActionGenerate:
			sawInitial = true
		case e.Agent == evalmodel.AgentLearnerSuperego && e.Action == evalmodel.ActionDeliberation:
			sawDeliberation = true
			assert.False(t, e.ForcedEmission)
		case e.Agent == evalmodel.AgentLearnerSynthesis && e.Action == evalmodel.ActionFinalOutput:
			sawSynthesis = true
			assert.Equal(t, "learner synthesized reply", e.Content)
		}
	}
	assert.True(t, sawInitial)
	assert.True(t, sawDeliberation)
	assert.True(t, sawSynthesis)
	assert.Equal(t, 5, stub.CallCount())
}

func TestRun_hardTurnCapTruncatesBeforeMaxLearnerTurns(t *testing.T) {
	scenario := baseScenario()
	scenario.MaxLearnerTurns = 5
	profile := baseProfile()
	profile.HardTurnCap = 2

	stub := backend.NewStub("tutor reply")
	engine := NewEngine(stub)

	out := engine.Run(context.Background(), "run-1", scenario, profile)

	require.True(t, out.Success)
	assert.Equal(t, 2, out.Transcript.TotalTurns)
}
