// Package judge implements the Judge model role: scoring a completed
// dialogue transcript against a per-scenario rubric and deriving
// overall/base/recognition scores from a weight descriptor supplied at
// call time. Grounded on the teacher's ScoringController
// (pkg/agent/controller/scoring.go) — a stateless, parameter-only
// controller that runs a scoring turn then extracts a structured result
// from free text — generalized from "one last-line integer" to
// "multiple named dimension scores plus required/forbidden flags."
package judge

import "github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"

// Rubric is the scenario-specific grading contract the Judge evaluates
// a transcript against. The scenario catalogue that produces these is
// out of scope (spec.md §1); this is the slice of it the Judge needs.
type Rubric struct {
	ScenarioID         string
	RequiredElements    []string
	ForbiddenElements   []string
	ExpectedBehavior    string
	Dimensions          []string
}

// WeightDescriptor is the data-driven formula for deriving overall_score,
// base_score, and recognition_score from dimension scores. Never
// hardcoded: the Scheduler loads one of these from rubric configuration
// and passes it to Evaluate, per spec.md §9's "score derivation" note.
type WeightDescriptor struct {
	// Weight maps a dimension name to its contribution to overall_score.
	// A dimension absent from the response contributes nothing.
	Weight map[string]float64

	// BaseDimensions and RecognitionDimensions select the subsets of
	// Weight used to compute base_score and recognition_score
	// respectively. A nil/empty slice means that score is not computed
	// (left nil on the Result).
	BaseDimensions       []string
	RecognitionDimensions []string
}

// Input is everything the Judge needs to score one trial.
type Input struct {
	Suggestions []evalmodel.Suggestion
	Transcript  evalmodel.DialogueTranscript
	Rubric      Rubric
}

// Usage accumulates the Judge's own call cost, folded into the trial's
// aggregate counters by the caller exactly like dialogue.Output's fields.
type Usage struct {
	APICalls     int
	InputTokens  int64
	OutputTokens int64
	LatencyMS    int64
}

// Scores is the derived, weighted output attached to a Result.
type Scores struct {
	OverallScore     *float64
	BaseScore        *float64
	RecognitionScore *float64
}
