package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/shared"
)

const runColumns = `id, sequence, playlist_id, status, retire_block_id, new_block_index, degraded, warnings, search_attempts,
	last_error, failed_at, claimed_at, scheduled_at, executed_at, created_at, updated_at`

// RunRepository persists refresh runs. Status changes are compare-and-set updates.
type RunRepository struct {
	db DBTX
}

// NewRunRepository creates a new RunRepository with the given database connection
func NewRunRepository(db DBTX) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a run with generated ID and sequence
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	if run.Status == "" {
		run.Status = models.RunPreview
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	sequence, err := NextSequence(ctx, r.db, "runs")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	warnings, err := encodeWarnings(run.Warnings)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	run.ID = shared.GenerateID()
	run.Sequence = sequence
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.ScheduledAt.IsZero() {
		run.ScheduledAt = now
	}

	query := `
		INSERT INTO runs (id, sequence, playlist_id, status, retire_block_id, new_block_index, degraded, warnings,
			search_attempts, scheduled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.Sequence, run.PlaylistID, run.Status, nullString(run.RetireBlockID), run.NewBlockIndex,
		run.Degraded, warnings, run.SearchAttempts, run.ScheduledAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Get retrieves a run by ID
func (r *RunRepository) Get(ctx context.Context, id string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrRunNotFound, id)
	}
	return run, err
}

// ListForPlaylist returns the most recent runs of a playlist, newest first. A limit of zero or less returns all.
func (r *RunRepository) ListForPlaylist(ctx context.Context, playlistID string, limit int) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE playlist_id = ? ORDER BY sequence DESC`
	args := []any{playlistID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

// Transition moves a run from one status to another. It reports false, without error, when the
// run was not in the expected status.
func (r *RunRepository) Transition(ctx context.Context, id string, from, to models.RunStatus, at time.Time) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("%w: %s to %s", shared.ErrInvalidTransition, from, to)
	}

	res, err := r.db.ExecContext(ctx, `UPDATE runs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`, to, at, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update run status: %w", err)
	}
	rows, err := rowsAffected(res)
	return rows == 1, err
}

// Cancel moves a previewing run to cancelled. Runs with a recorded commit failure are left alone
// and reported as false.
func (r *RunRepository) Cancel(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE runs
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND failed_at IS NULL
	`

	res, err := r.db.ExecContext(ctx, query, models.RunCancelled, at, id, models.RunPreview)
	if err != nil {
		return false, fmt.Errorf("failed to cancel run: %w", err)
	}
	rows, err := rowsAffected(res)
	return rows == 1, err
}

// Claim marks a previewing run as committing. A committing run whose claim predates staleBefore
// may be re-claimed, which covers a commit that died mid-flight.
func (r *RunRepository) Claim(ctx context.Context, id string, at, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE runs
		SET status = ?, claimed_at = ?, updated_at = ?
		WHERE id = ? AND (status = ? OR (status = ? AND claimed_at < ?))
	`

	res, err := r.db.ExecContext(ctx, query,
		models.RunCommitting, at, at, id, models.RunPreview, models.RunCommitting, staleBefore,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim run: %w", err)
	}
	rows, err := rowsAffected(res)
	return rows == 1, err
}

// Release returns a committing run to preview and records why the commit failed.
func (r *RunRepository) Release(ctx context.Context, id, reason string, at time.Time) error {
	query := `
		UPDATE runs
		SET status = ?, claimed_at = NULL, last_error = ?, failed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	if _, err := r.db.ExecContext(ctx, query, models.RunPreview, reason, at, at, id, models.RunCommitting); err != nil {
		return fmt.Errorf("failed to release run: %w", err)
	}
	return nil
}

// Finalize marks a committing run as committed.
func (r *RunRepository) Finalize(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE runs
		SET status = ?, executed_at = ?, claimed_at = NULL, last_error = '', updated_at = ?
		WHERE id = ? AND status = ?
	`

	res, err := r.db.ExecContext(ctx, query, models.RunCommitted, at, at, id, models.RunCommitting)
	if err != nil {
		return false, fmt.Errorf("failed to finalize run: %w", err)
	}
	rows, err := rowsAffected(res)
	return rows == 1, err
}

func encodeWarnings(warnings []models.Violation) (string, error) {
	if len(warnings) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(warnings)
	if err != nil {
		return "", fmt.Errorf("failed to encode warnings: %w", err)
	}
	return string(b), nil
}

func scanRun(s scanner) (*models.Run, error) {
	var (
		run                             models.Run
		retireBlockID                   sql.NullString
		warnings                        string
		failedAt, claimedAt, executedAt sql.NullTime
	)

	err := s.Scan(&run.ID, &run.Sequence, &run.PlaylistID, &run.Status, &retireBlockID, &run.NewBlockIndex,
		&run.Degraded, &warnings, &run.SearchAttempts, &run.LastError, &failedAt, &claimedAt,
		&run.ScheduledAt, &executedAt, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if err := json.Unmarshal([]byte(warnings), &run.Warnings); err != nil {
		return nil, fmt.Errorf("failed to decode run warnings: %w", err)
	}
	run.RetireBlockID = retireBlockID.String
	run.FailedAt = timePtr(failedAt)
	run.ClaimedAt = timePtr(claimedAt)
	run.ExecutedAt = timePtr(executedAt)
	return &run, nil
}
