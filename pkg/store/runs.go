package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
)

// CreateRun inserts a new run with status=running. total_tests is computed
// once here and never inflated by a later resume (spec.md §3 invariant).
func (c *Client) CreateRun(ctx context.Context, run evalmodel.Run) (evalmodel.Run, error) {
	metadataJSON, err := json.Marshal(run.Metadata)
	if err != nil {
		return evalmodel.Run{}, fmt.Errorf("failed to marshal run metadata: %w", err)
	}

	run.Status = evalmodel.RunStatusRunning
	run.CreatedAt = time.Now().UTC()
	run.TotalTests = run.TotalScenarios * run.TotalConfigs

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, description, total_scenarios, total_configs, total_tests, status, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Description, run.TotalScenarios, run.TotalConfigs, run.TotalTests,
		run.Status, run.CreatedAt.Format(time.RFC3339Nano), string(metadataJSON),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return evalmodel.Run{}, fmt.Errorf("%w: %s", ErrRunAlreadyExists, run.RunID)
		}
		return evalmodel.Run{}, fmt.Errorf("failed to insert run: %w", err)
	}

	return run, nil
}

// GetRun loads a single run by id, without progress aggregates.
func (c *Client) GetRun(ctx context.Context, runID string) (evalmodel.Run, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT run_id, description, total_scenarios, total_configs, total_tests, status, created_at, completed_at, metadata
		FROM runs WHERE run_id = ?`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return evalmodel.Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// UpdateRun applies the mutable subset of Run. Only non-zero fields are
// written: Status is overwritten solely when non-empty, which is what
// makes status reversion (completed -> running) an explicit opt-in rather
// than an accident, and Metadata is merged rather than replaced when
// present. Matches spec.md §4.2.
func (c *Client) UpdateRun(ctx context.Context, runID string, fields evalmodel.UpdateRunFields) error {
	run, err := c.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	if fields.Status != "" {
		run.Status = fields.Status
	}
	if fields.CompletedAt != nil {
		run.CompletedAt = fields.CompletedAt
	}
	if fields.Metadata != nil {
		if run.Metadata == nil {
			run.Metadata = map[string]any{}
		}
		for k, v := range fields.Metadata {
			run.Metadata[k] = v
		}
	}

	metadataJSON, err := json.Marshal(run.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal run metadata: %w", err)
	}

	var completedAt *string
	if run.CompletedAt != nil {
		s := run.CompletedAt.Format(time.RFC3339Nano)
		completedAt = &s
	}

	res, err := c.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, completed_at = ?, metadata = ? WHERE run_id = ?`,
		run.Status, completedAt, string(metadataJSON), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return checkRowsAffected(res, runID)
}

// CompleteRun transitions a run to completed. Idempotent: completing an
// already-completed run is a no-op success, not an error.
func (c *Client) CompleteRun(ctx context.Context, runID string) error {
	now := time.Now().UTC()
	res, err := c.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, completed_at = ? WHERE run_id = ?`,
		evalmodel.RunStatusCompleted, now.Format(time.RFC3339Nano), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return checkRowsAffected(res, runID)
}

// ListRunsFilter narrows ListRuns.
type ListRunsFilter struct {
	Status evalmodel.RunStatus // empty = any
	Limit  int                 // 0 = unlimited
}

// ListRuns returns runs newest-first, each annotated with a progress
// aggregate (distinct (scenario,profile) pairs with a successful Result).
func (c *Client) ListRuns(ctx context.Context, filter ListRunsFilter) ([]evalmodel.Run, error) {
	query := `
		SELECT r.run_id, r.description, r.total_scenarios, r.total_configs, r.total_tests,
		       r.status, r.created_at, r.completed_at, r.metadata,
		       COALESCE((
		           SELECT COUNT(*) FROM (
		               SELECT DISTINCT scenario_id, profile_name FROM results
		               WHERE run_id = r.run_id AND success = 1
		           )
		       ), 0) AS completed_progress
		FROM runs r`

	var args []any
	if filter.Status != "" {
		query += ` WHERE r.status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY r.created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []evalmodel.Run
	for rows.Next() {
		run, err := scanRunWithProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// AutoCompleteStaleRuns closes any run that is still `running`, whose
// generator process is demonstrably dead (per isProcessAlive), and whose
// last result commit (or creation, if it has none) is older than
// idleThreshold. Returns the run ids closed. With dryRun=true, no writes
// happen and the same set is returned.
func (c *Client) AutoCompleteStaleRuns(ctx context.Context, idleThreshold time.Duration, dryRun bool, isProcessAlive func(pid int) bool) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT run_id, created_at, metadata FROM runs WHERE status = ?`, evalmodel.RunStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to query running runs: %w", err)
	}

	type candidate struct {
		runID    string
		pid      int
		hasPID   bool
		lastSeen time.Time
	}
	var candidates []candidate
	for rows.Next() {
		var runID, createdAtStr, metadataRaw string
		if err := rows.Scan(&runID, &createdAtStr, &metadataRaw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, createdAtStr)

		var metadata map[string]any
		_ = json.Unmarshal([]byte(metadataRaw), &metadata)
		pid, hasPID := 0, false
		if v, ok := metadata[evalmodel.MetaProcessID]; ok {
			if f, ok := v.(float64); ok {
				pid, hasPID = int(f), true
			}
		}

		lastSeen := createdAt
		if last, err := c.lastResultTime(ctx, runID); err == nil && last.After(lastSeen) {
			lastSeen = last
		}

		candidates = append(candidates, candidate{runID: runID, pid: pid, hasPID: hasPID, lastSeen: lastSeen})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := time.Now().UTC()
	var stale []string
	for _, cand := range candidates {
		if cand.hasPID && isProcessAlive(cand.pid) {
			continue
		}
		if now.Sub(cand.lastSeen) < idleThreshold {
			continue
		}
		stale = append(stale, cand.runID)
	}

	if dryRun {
		return stale, nil
	}

	for _, runID := range stale {
		meta := map[string]any{"stale": true, "stale_reason": "process dead and idle past threshold"}
		metadataJSON, _ := json.Marshal(meta)
		completedAt := now.Format(time.RFC3339Nano)
		if _, err := c.db.ExecContext(ctx, `
			UPDATE runs SET status = ?, completed_at = ?,
			       metadata = json_patch(metadata, ?)
			WHERE run_id = ?`,
			evalmodel.RunStatusCompleted, completedAt, string(metadataJSON), runID,
		); err != nil {
			return nil, fmt.Errorf("failed to mark run %s stale: %w", runID, err)
		}
	}

	return stale, nil
}

func (c *Client) lastResultTime(ctx context.Context, runID string) (time.Time, error) {
	var createdAtStr sql.NullString
	err := c.db.QueryRowContext(ctx, `
		SELECT MAX(created_at) FROM results WHERE run_id = ?`, runID).Scan(&createdAtStr)
	if err != nil || !createdAtStr.Valid {
		return time.Time{}, fmt.Errorf("no results for run")
	}
	return time.Parse(time.RFC3339Nano, createdAtStr.String)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (evalmodel.Run, error) {
	var run evalmodel.Run
	var createdAtStr string
	var completedAtStr sql.NullString
	var metadataRaw string

	err := row.Scan(&run.RunID, &run.Description, &run.TotalScenarios, &run.TotalConfigs,
		&run.TotalTests, &run.Status, &createdAtStr, &completedAtStr, &metadataRaw)
	if err != nil {
		return evalmodel.Run{}, err
	}

	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	if completedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339Nano, completedAtStr.String)
		run.CompletedAt = &t
	}
	_ = json.Unmarshal([]byte(metadataRaw), &run.Metadata)

	return run, nil
}

func scanRunWithProgress(row rowScanner) (evalmodel.Run, error) {
	var run evalmodel.Run
	var createdAtStr string
	var completedAtStr sql.NullString
	var metadataRaw string

	err := row.Scan(&run.RunID, &run.Description, &run.TotalScenarios, &run.TotalConfigs,
		&run.TotalTests, &run.Status, &createdAtStr, &completedAtStr, &metadataRaw,
		&run.CompletedProgress)
	if err != nil {
		return evalmodel.Run{}, err
	}

	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	if completedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339Nano, completedAtStr.String)
		run.CompletedAt = &t
	}
	_ = json.Unmarshal([]byte(metadataRaw), &run.Metadata)

	return run, nil
}

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
