package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
)

// TrialStatus is the lifecycle state of one queued trial row.
type TrialStatus string

// Trial statuses.
const (
	TrialStatusPending TrialStatus = "pending"
	TrialStatusClaimed TrialStatus = "claimed"
	TrialStatusDone    TrialStatus = "done"
)

// TrialRecord is one plan-expansion entry persisted as a claimable row,
// per spec.md §4.5's dispatch contract and SPEC_FULL.md's §4.5 note that
// `claimNextTrial` mirrors the teacher's `FOR UPDATE SKIP LOCKED` claim.
type TrialRecord struct {
	ID           int64
	Key          evalmodel.NaturalKey
	ScenarioName string
	Status       TrialStatus
}

// EnqueueTrials makes each of trials pending for its run. A trial whose
// natural key already has a row (Resume re-enqueuing a failed or
// interrupted trial) has that row reset to pending rather than
// duplicated, so enqueueing the same key twice still leaves one row. All
// rows are written inside a single transaction.
func (c *Client) EnqueueTrials(ctx context.Context, trials []TrialRecord) error {
	if len(trials) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin trial enqueue transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trials (run_id, scenario_id, scenario_name, profile_name, attempt_ordinal, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, scenario_id, profile_name, attempt_ordinal)
		DO UPDATE SET status = excluded.status, claimed_at = NULL`)
	if err != nil {
		return fmt.Errorf("failed to prepare trial insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trials {
		if _, err := stmt.ExecContext(ctx,
			t.Key.RunID, t.Key.ScenarioID, t.ScenarioName, t.Key.ProfileName, t.Key.AttemptOrdinal,
			TrialStatusPending, now,
		); err != nil {
			return fmt.Errorf("failed to enqueue trial %+v: %w", t.Key, err)
		}
	}

	return tx.Commit()
}

// ClaimNextTrial atomically claims the oldest pending trial for runID.
// SQLite has no `SELECT ... FOR UPDATE SKIP LOCKED`; a single-writer
// embedded database doesn't need one either, but concurrent worker
// goroutines sharing the same *sql.DB pool still race on "read pending,
// then mark claimed" unless that read-then-write is one atomic unit.
// `BEGIN IMMEDIATE` acquires SQLite's write lock up front (rather than
// on first write, like a deferred transaction would), so a second
// worker's concurrent ClaimNextTrial simply blocks until this one
// commits instead of claiming the same row — the translation of the
// teacher's row-level lock into SQLite's whole-database lock.
//
// database/sql has no API for a non-default BEGIN mode, so this uses a
// single checked-out *sql.Conn to run BEGIN IMMEDIATE / COMMIT as literal
// statements around the claim.
func (c *Client) ClaimNextTrial(ctx context.Context, runID string) (*TrialRecord, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return nil, fmt.Errorf("failed to begin immediate transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), `ROLLBACK`)
		}
	}()

	var t TrialRecord
	t.Key.RunID = runID
	row := conn.QueryRowContext(ctx, `
		SELECT id, scenario_id, scenario_name, profile_name, attempt_ordinal
		FROM trials
		WHERE run_id = ? AND status = ?
		ORDER BY id ASC
		LIMIT 1`, runID, TrialStatusPending)
	if err := row.Scan(&t.ID, &t.Key.ScenarioID, &t.ScenarioName, &t.Key.ProfileName, &t.Key.AttemptOrdinal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoTrialsAvailable
		}
		return nil, fmt.Errorf("failed to query claimable trial: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `
		UPDATE trials SET status = ?, claimed_at = ? WHERE id = ?`,
		TrialStatusClaimed, time.Now().UTC().Format(time.RFC3339Nano), t.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to claim trial %d: %w", t.ID, err)
	}

	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return nil, fmt.Errorf("failed to commit trial claim: %w", err)
	}
	committed = true

	t.Status = TrialStatusClaimed
	return &t, nil
}

// CompleteTrial marks a claimed trial row done once its worker has
// committed the corresponding Result and ProgressLog event.
func (c *Client) CompleteTrial(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx, `UPDATE trials SET status = ? WHERE id = ?`, TrialStatusDone, id)
	if err != nil {
		return fmt.Errorf("failed to complete trial %d: %w", id, err)
	}
	return nil
}

// TouchTrialHeartbeat refreshes claimed_at for a trial still being
// worked, a coarse signal that the claiming worker is still alive.
// Neither Health nor AutoCompleteStaleRuns reads claimed_at.
func (c *Client) TouchTrialHeartbeat(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE trials SET claimed_at = ? WHERE id = ? AND status = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id, TrialStatusClaimed,
	)
	if err != nil {
		return fmt.Errorf("failed to touch trial %d heartbeat: %w", id, err)
	}
	return nil
}

// CountPendingTrials reports how many trials for runID are still
// unclaimed. Resume does not use it: it decides what is left to do from
// the run's stored results.
func (c *Client) CountPendingTrials(ctx context.Context, runID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trials WHERE run_id = ? AND status = ?`, runID, TrialStatusPending,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending trials: %w", err)
	}
	return n, nil
}
