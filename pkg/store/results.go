package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
)

// StoreResult inserts a new result row and returns its monotonic id. A
// given natural key (run, scenario, profile, attempt) may accumulate
// several rows across rejudge history; callers pass overwrite=true to
// signal that this row supersedes the prior one for that key, which here
// means the prior row is deleted before the insert rather than left to
// accumulate. The scheduler's --overwrite rejudge does not use this; it
// updates scores in place through UpdateResultScores.
func (c *Client) StoreResult(ctx context.Context, result evalmodel.Result, overwrite bool) (int64, error) {
	hyperparamsJSON, err := json.Marshal(result.Hyperparameters)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal hyperparameters: %w", err)
	}
	dimensionScoresJSON, err := json.Marshal(result.DimensionScores)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal dimension scores: %w", err)
	}
	primaryJSON, err := marshalNullableAssessment(result.PrimaryAssessment)
	if err != nil {
		return 0, err
	}
	blindedJSON, err := marshalNullableAssessment(result.BlindedAssessment)
	if err != nil {
		return 0, err
	}

	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if overwrite {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM results
			WHERE run_id = ? AND scenario_id = ? AND profile_name = ? AND attempt_ordinal = ?`,
			result.RunID, result.ScenarioID, result.ProfileName, result.AttemptOrdinal,
		); err != nil {
			return 0, fmt.Errorf("failed to clear prior result for overwrite: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO results (
			run_id, scenario_id, scenario_name, profile_name, attempt_ordinal,
			provider, ego_model, superego_model, hyperparameters,
			dialogue_id, cell_recognition, cell_tutor_multi, cell_learner_psych,
			latency_ms, api_calls, input_tokens, output_tokens,
			success, error_message, skip_rubric,
			dimension_scores, overall_score, base_score, recognition_score, judge_model,
			primary_assessment, blinded_assessment, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, result.ScenarioID, result.ScenarioName, result.ProfileName, result.AttemptOrdinal,
		result.Provider, result.EgoModel, result.SuperegoModel, string(hyperparamsJSON),
		result.DialogueID, boolToInt(result.Cell.Recognition), boolToInt(result.Cell.TutorMulti), boolToInt(result.Cell.LearnerPsych),
		result.LatencyMS, result.APICalls, result.InputTokens, result.OutputTokens,
		boolToInt(result.Success), result.ErrorMessage, boolToInt(result.SkipRubric),
		string(dimensionScoresJSON), result.OverallScore, result.BaseScore, result.RecognitionScore, result.JudgeModel,
		primaryJSON, blindedJSON, result.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert result: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted result id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit result insert: %w", err)
	}

	return id, nil
}

// UpdateResultScores transactionally attaches a judge's rubric and derived
// scores to an existing result row, leaving the dialogue fields untouched.
func (c *Client) UpdateResultScores(ctx context.Context, resultID int64, payload evalmodel.JudgePayload) error {
	dimensionScoresJSON, err := json.Marshal(payload.DimensionScores)
	if err != nil {
		return fmt.Errorf("failed to marshal dimension scores: %w", err)
	}

	res, err := c.db.ExecContext(ctx, `
		UPDATE results
		SET dimension_scores = ?, overall_score = ?, base_score = ?, recognition_score = ?, judge_model = ?
		WHERE id = ?`,
		string(dimensionScoresJSON), payload.OverallScore, payload.BaseScore, payload.RecognitionScore, payload.JudgeModel,
		resultID,
	)
	if err != nil {
		return fmt.Errorf("failed to update result scores: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrResultNotFound, resultID)
	}
	return nil
}

// ResultsFilter narrows GetResults.
type ResultsFilter struct {
	ScenarioID  string // empty = any
	ProfileName string // empty = any
}

// GetResults returns every result for a run, in insertion order, optionally
// narrowed to one scenario and/or profile.
func (c *Client) GetResults(ctx context.Context, runID string, filter ResultsFilter) ([]evalmodel.Result, error) {
	query := resultSelectColumns + ` FROM results WHERE run_id = ?`
	args := []any{runID}

	if filter.ScenarioID != "" {
		query += ` AND scenario_id = ?`
		args = append(args, filter.ScenarioID)
	}
	if filter.ProfileName != "" {
		query += ` AND profile_name = ?`
		args = append(args, filter.ProfileName)
	}
	query += ` ORDER BY id ASC`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []evalmodel.Result
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

// GetResult loads a single result row by id.
func (c *Client) GetResult(ctx context.Context, resultID int64) (evalmodel.Result, error) {
	row := c.db.QueryRowContext(ctx, resultSelectColumns+` FROM results WHERE id = ?`, resultID)
	result, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return evalmodel.Result{}, fmt.Errorf("%w: id %d", ErrResultNotFound, resultID)
	}
	return result, err
}

// GetFactorialCellData returns, for every successful result in a run, the
// named score column grouped by factorial cell — the shape the analysis
// layer needs to run a 2x2x2 ANOVA.
func (c *Client) GetFactorialCellData(ctx context.Context, runID string, scoreColumn ScoreColumn) (map[string][]float64, error) {
	column, err := scoreColumn.sqlColumn()
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT cell_recognition, cell_tutor_multi, cell_learner_psych, %s
		FROM results
		WHERE run_id = ? AND success = 1 AND %s IS NOT NULL`, column, column),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query factorial cell data: %w", err)
	}
	defer rows.Close()

	out := map[string][]float64{}
	for rows.Next() {
		var recognition, tutorMulti, learnerPsych int
		var score float64
		if err := rows.Scan(&recognition, &tutorMulti, &learnerPsych, &score); err != nil {
			return nil, fmt.Errorf("failed to scan factorial cell row: %w", err)
		}
		cell := evalmodel.Cell{
			Recognition:  recognition != 0,
			TutorMulti:   tutorMulti != 0,
			LearnerPsych: learnerPsych != 0,
		}
		out[cell.Name()] = append(out[cell.Name()], score)
	}
	return out, rows.Err()
}

// ScoreColumn names which score dimension GetFactorialCellData should read.
type ScoreColumn string

// Score columns available for factorial cell extraction.
const (
	ScoreColumnOverall     ScoreColumn = "overall_score"
	ScoreColumnBase        ScoreColumn = "base_score"
	ScoreColumnRecognition ScoreColumn = "recognition_score"
)

func (s ScoreColumn) sqlColumn() (string, error) {
	switch s {
	case ScoreColumnOverall, ScoreColumnBase, ScoreColumnRecognition:
		return string(s), nil
	default:
		return "", fmt.Errorf("unknown score column %q", s)
	}
}

const resultSelectColumns = `
	SELECT id, run_id, scenario_id, scenario_name, profile_name, attempt_ordinal,
	       provider, ego_model, superego_model, hyperparameters,
	       dialogue_id, cell_recognition, cell_tutor_multi, cell_learner_psych,
	       latency_ms, api_calls, input_tokens, output_tokens,
	       success, error_message, skip_rubric,
	       dimension_scores, overall_score, base_score, recognition_score, judge_model,
	       primary_assessment, blinded_assessment, created_at`

func scanResult(row rowScanner) (evalmodel.Result, error) {
	var r evalmodel.Result
	var hyperparamsRaw, dimensionScoresRaw string
	var recognition, tutorMulti, learnerPsych, success, skipRubric int
	var primaryRaw, blindedRaw sql.NullString
	var createdAtStr string

	err := row.Scan(
		&r.ID, &r.RunID, &r.ScenarioID, &r.ScenarioName, &r.ProfileName, &r.AttemptOrdinal,
		&r.Provider, &r.EgoModel, &r.SuperegoModel, &hyperparamsRaw,
		&r.DialogueID, &recognition, &tutorMulti, &learnerPsych,
		&r.LatencyMS, &r.APICalls, &r.InputTokens, &r.OutputTokens,
		&success, &r.ErrorMessage, &skipRubric,
		&dimensionScoresRaw, &r.OverallScore, &r.BaseScore, &r.RecognitionScore, &r.JudgeModel,
		&primaryRaw, &blindedRaw, &createdAtStr,
	)
	if err != nil {
		return evalmodel.Result{}, err
	}

	_ = json.Unmarshal([]byte(hyperparamsRaw), &r.Hyperparameters)
	_ = json.Unmarshal([]byte(dimensionScoresRaw), &r.DimensionScores)
	r.Cell = evalmodel.Cell{Recognition: recognition != 0, TutorMulti: tutorMulti != 0, LearnerPsych: learnerPsych != 0}
	r.Success = success != 0
	r.SkipRubric = skipRubric != 0
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)

	if primaryRaw.Valid {
		var a evalmodel.QualitativeAssessment
		if err := json.Unmarshal([]byte(primaryRaw.String), &a); err == nil {
			r.PrimaryAssessment = &a
		}
	}
	if blindedRaw.Valid {
		var a evalmodel.QualitativeAssessment
		if err := json.Unmarshal([]byte(blindedRaw.String), &a); err == nil {
			r.BlindedAssessment = &a
		}
	}

	return r, nil
}

func marshalNullableAssessment(a *evalmodel.QualitativeAssessment) (*string, error) {
	if a == nil {
		return nil, nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal qualitative assessment: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
