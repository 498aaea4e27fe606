package evalmodel

import "time"

// Cell is the 2×2×2 factorial coordinate tagged onto a Result.
// Bit order matches cell_N = 1 + recognition*4 + tutorMulti*2 + learnerPsycho,
// i.e. cell_1 is (0,0,0) and cell_8 is (1,1,1).
type Cell struct {
	Recognition  bool
	TutorMulti   bool
	LearnerPsych bool
}

// Name returns the "cell_N" label used throughout the data model and CLI.
func (c Cell) Name() string {
	n := 1
	if c.Recognition {
		n += 4
	}
	if c.TutorMulti {
		n += 2
	}
	if c.LearnerPsych {
		n += 1
	}
	return cellNames[n]
}

var cellNames = [9]string{"", "cell_1", "cell_2", "cell_3", "cell_4", "cell_5", "cell_6", "cell_7", "cell_8"}

// CellFromName parses "cell_N" back into its three factor bits.
func CellFromName(name string) (Cell, bool) {
	for n, candidate := range cellNames {
		if n == 0 {
			continue
		}
		if candidate == name {
			idx := n - 1
			return Cell{
				Recognition:  idx&4 != 0,
				TutorMulti:   idx&2 != 0,
				LearnerPsych: idx&1 != 0,
			}, true
		}
	}
	return Cell{}, false
}

// DimensionScore is one named rubric dimension's numeric score plus the
// judge's natural-language reasoning for that score.
type DimensionScore struct {
	Dimension string
	Score     float64
	Reasoning string
}

// QualitativeAssessment is a free-form post-hoc coding pass result,
// attached after the fact by a human or automated qualitative coder.
type QualitativeAssessment struct {
	Coder     string
	Notes     string
	Blinded   bool
	CreatedAt time.Time
}

// Result is one completed (or failed) trial: scenario × profile × attempt.
// The natural key is (RunID, ScenarioID, ProfileName, AttemptOrdinal); a
// given natural key may have multiple rows across rejudge history.
type Result struct {
	ID             int64
	RunID          string
	ScenarioID     string
	ScenarioName   string
	ProfileName    string
	AttemptOrdinal int

	// Tutor configuration fingerprint.
	Provider        string
	EgoModel        string
	SuperegoModel   string
	Hyperparameters map[string]any

	DialogueID string
	Cell       Cell

	LatencyMS    int64
	APICalls     int
	InputTokens  int64
	OutputTokens int64

	Success      bool
	ErrorMessage string
	SkipRubric   bool

	DimensionScores  []DimensionScore
	OverallScore     *float64
	BaseScore        *float64
	RecognitionScore *float64
	JudgeModel       string

	PrimaryAssessment *QualitativeAssessment
	BlindedAssessment *QualitativeAssessment

	CreatedAt time.Time
}

// NaturalKey identifies the (run, scenario, profile, attempt) triple used
// for idempotent resume/rejudge merges.
type NaturalKey struct {
	RunID          string
	ScenarioID     string
	ProfileName    string
	AttemptOrdinal int
}

// Key returns the natural key this Result belongs to.
func (r *Result) Key() NaturalKey {
	return NaturalKey{r.RunID, r.ScenarioID, r.ProfileName, r.AttemptOrdinal}
}

// JudgePayload is what update_result_scores attaches to an existing
// Result row, transactionally, without touching the dialogue fields.
type JudgePayload struct {
	JudgeModel       string
	DimensionScores  []DimensionScore
	OverallScore     *float64
	BaseScore        *float64
	RecognitionScore *float64
}
