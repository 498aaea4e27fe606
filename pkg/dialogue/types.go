// Package dialogue implements the per-trial ego/superego/learner state
// machine described in spec.md §4.4: one DialogueEngine run produces one
// DialogueTranscript for a (scenario, profile) pair. Grounded on the
// teacher's iterate-until-terminal-condition loop
// (pkg/agent/controller/iterating.go) and its per-loop state tracker
// (pkg/agent/iteration.go's IterationState, here renamed RevisionState and
// repurposed to count superego revision rounds instead of LLM timeouts).
package dialogue

import "github.com/codeready-toolchain/tarsy-eval/pkg/backend"

// ScenarioScript is the external scenario catalogue's contribution to a
// trial: the opening context and the bound on how many learner turns the
// script defines. The catalogue itself is out of scope (spec.md §1); this
// is the slice of it the engine needs to run.
type ScenarioScript struct {
	ScenarioID   string
	ScenarioName string

	SystemPromptTutorEgo      string
	SystemPromptTutorSuperego string
	SystemPromptLearnerEgo    string
	SystemPromptLearnerSuper  string

	InitialContext  string
	MaxLearnerTurns int
}

// ProfileConfig is the resolved configuration for one of the eight
// factorial cells (or a custom profile): which architectures are active,
// the revision-round bound, and the model fingerprint to record on the
// Result.
type ProfileConfig struct {
	ProfileName string

	MultiAgentTutor   bool
	PsychSplitLearner bool

	MaxRevisionRounds int // K
	HardTurnCap       int

	Provider      string
	EgoModel      string
	SuperegoModel string
	LearnerModel  string

	Limits backend.Limits
}

// RevisionState tracks one tutor turn's superego revision loop. Renamed
// and narrowed from the teacher's IterationState, which tracked LLM-call
// timeout streaks across an open-ended tool loop; here it tracks
// approved/revise rounds bounded by K.
type RevisionState struct {
	Round    int
	MaxRound int
}

// Exhausted reports whether the K-th revision round has been reached,
// meaning the next emission must be forced regardless of approval.
func (s *RevisionState) Exhausted() bool {
	return s.Round >= s.MaxRound
}
