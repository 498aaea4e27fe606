package evalmodel

// ProgressEventType discriminates a ProgressEvent's payload shape.
type ProgressEventType string

// Progress event kinds, per spec.md §6's journal record format.
const (
	EventRunStart     ProgressEventType = "run_start"
	EventTestStart    ProgressEventType = "test_start"
	EventTestComplete ProgressEventType = "test_complete"
	EventTestError    ProgressEventType = "test_error"
	EventRunComplete  ProgressEventType = "run_complete"
)

// ProgressEvent is one line of a run's append-only journal. Every event
// carries Type and TimestampUnix (Unix seconds); the rest are populated
// per Type.
type ProgressEvent struct {
	Type          ProgressEventType `json:"event_type"`
	TimestampUnix int64             `json:"ts"`

	// run_start
	Scenarios  []string `json:"scenarios,omitempty"`
	Profiles   []string `json:"profiles,omitempty"`
	TotalTests int      `json:"total_tests,omitempty"`

	// test_start / test_complete / test_error (shared identity fields)
	ScenarioID   string `json:"scenario_id,omitempty"`
	ScenarioName string `json:"scenario_name,omitempty"`
	ProfileName  string `json:"profile_name,omitempty"`

	// test_complete
	Success      *bool    `json:"success,omitempty"`
	OverallScore *float64 `json:"overall_score,omitempty"`
	LatencyMS    *int64   `json:"latency_ms,omitempty"`

	// test_error
	ErrorMessage string `json:"error_message,omitempty"`

	// run_complete
	DurationMS int64 `json:"duration_ms,omitempty"`
}

// Outcome is the reconstructed state of one (scenario, profile) cell in
// the progress grid.
type Outcome string

// Outcome values, per spec.md §7 "watch and status reconstruct a grid".
const (
	OutcomeBlank   Outcome = ""      // not started
	OutcomeOK      Outcome = "ok"    // success, scored
	OutcomeFailed  Outcome = "fail"  // success=false
	OutcomeErrored Outcome = "error" // test_error
)

// GridCell is the latest known outcome for one (scenario, profile) pair.
type GridCell struct {
	Outcome Outcome
	Score   *float64
}
