package evalmodel

import "encoding/json"

// Agent identifies which participant produced a TraceEntry.
type Agent string

// Agent values.
const (
	AgentUser               Agent = "user"
	AgentEgo                Agent = "ego"
	AgentSuperego           Agent = "superego"
	AgentLearnerEgoInitial  Agent = "learner_ego_initial"
	AgentLearnerSuperego    Agent = "learner_superego"
	AgentLearnerEgoRevision Agent = "learner_ego_revision"
	AgentLearnerSynthesis   Agent = "learner_synthesis"
	AgentSystem             Agent = "system"
)

// Action identifies what kind of step a TraceEntry records.
type Action string

// Action values.
const (
	ActionContextInput        Action = "context_input"
	ActionGenerate            Action = "generate"
	ActionRevise              Action = "revise"
	ActionIncorporateFeedback Action = "incorporate_feedback"
	ActionReview              Action = "review"
	ActionDeliberation        Action = "deliberation"
	ActionTurnAction          Action = "turn_action"
	ActionFinalOutput         Action = "final_output"
)

// TraceEntry is one step of a dialogue, in emission order. Payload is kept
// as opaque JSON (rather than decoded eagerly) so a payload shape this
// version of the engine doesn't know about round-trips unchanged —
// per spec.md's "Dynamic variant parsing" design note.
type TraceEntry struct {
	Index     int             `json:"index"`
	Agent     Agent           `json:"agent"`
	Action    Action          `json:"action"`
	Content   string          `json:"content,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp_unix_ms"`

	// Markers. Both are queryable independent of Payload so downstream
	// analysis can distinguish genuine approval from parse-auto-approval,
	// and forced emission from a voluntary one.
	ParseFailure   bool `json:"parse_failure,omitempty"`
	ForcedEmission bool `json:"forced_emission,omitempty"`
	Unfinished     bool `json:"unfinished,omitempty"`
}

// DialogueTranscript is the full record of one trial's dialogue, written
// once and read-only thereafter.
type DialogueTranscript struct {
	DialogueID            string       `json:"dialogue_id"`
	RunID                 string       `json:"run_id"`
	ScenarioID            string       `json:"scenario_id"`
	ProfileName           string       `json:"profile_name"`
	Entries               []TraceEntry `json:"entries"`
	TotalTurns            int          `json:"total_turns"`
	TutorArchitecture     string       `json:"tutor_architecture"`
	LearnerArchitecture   string       `json:"learner_architecture"`
	TransformationSummary string       `json:"transformation_analysis,omitempty"`
}

// Suggestion is one of the tutor's final structured outputs, captured for
// downstream judging. Kind discriminates the payload shape; unrecognised
// kinds are preserved via RawPayload.
type Suggestion struct {
	Kind       string          `json:"kind"`
	Text       string          `json:"text"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}

// JudgeResponse is the structured parse of a judge model's rubric
// evaluation, before weighting is applied.
type JudgeResponse struct {
	DimensionScores  []DimensionScore `json:"dimension_scores"`
	RequiredPresent  map[string]bool  `json:"required_present"`
	ForbiddenPresent map[string]bool  `json:"forbidden_present"`
	Summary          string           `json:"summary"`
	RawPayload       json.RawMessage  `json:"raw_payload,omitempty"`
}
