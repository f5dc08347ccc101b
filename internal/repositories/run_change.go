package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/shared"
)

const changeColumns = `id, run_id, change_type, track_id, artist, title, year, decade, language, genres,
	block_index, position, is_ai_suggested, is_approved, rationale, created_at`

// approvalGuard limits approval updates to additions of a run that is still in preview.
const approvalGuard = `
	change_type = 'add'
	AND EXISTS (SELECT 1 FROM runs WHERE runs.id = run_changes.run_id AND runs.status = 'preview')
`

// RunChangeRepository persists the proposed changes of a run.
// Only the approval flag of additions changes after creation.
type RunChangeRepository struct {
	db DBTX
}

// NewRunChangeRepository creates a new RunChangeRepository with the given database connection
func NewRunChangeRepository(db DBTX) *RunChangeRepository {
	return &RunChangeRepository{db: db}
}

// CreateBatch inserts the changes of a run. Removals are stored approved.
func (r *RunChangeRepository) CreateBatch(ctx context.Context, runID string, changes []models.RunChange) error {
	query := `
		INSERT INTO run_changes (id, run_id, change_type, track_id, artist, title, year, decade, language, genres,
			block_index, position, is_ai_suggested, is_approved, rationale, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	for i := range changes {
		c := &changes[i]
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}

		c.ID = shared.GenerateID()
		c.RunID = runID
		c.CreatedAt = now
		if c.Type == models.ChangeRemove {
			c.Approved = true
		}

		_, err := r.db.ExecContext(ctx, query,
			c.ID, c.RunID, c.Type, c.TrackID, c.Artist, c.Title,
			nullInt(c.Attributes.Year), nullInt(c.Attributes.Decade), languageOrOther(c.Attributes.Language),
			models.JoinGenres(c.Attributes.Genres), c.BlockIndex, c.Position, c.AISuggested, c.Approved,
			c.Rationale, c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run change: %w", err)
		}
	}
	return nil
}

// List returns a run's changes: removals first, then additions, each by position.
func (r *RunChangeRepository) List(ctx context.Context, runID string) ([]models.RunChange, error) {
	query := `SELECT ` + changeColumns + ` FROM run_changes WHERE run_id = ?
		ORDER BY CASE change_type WHEN 'remove' THEN 0 ELSE 1 END, position ASC`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run changes: %w", err)
	}
	defer rows.Close()

	var changes []models.RunChange
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return changes, nil
}

// Get retrieves one change of a run
func (r *RunChangeRepository) Get(ctx context.Context, runID, changeID string) (*models.RunChange, error) {
	query := `SELECT ` + changeColumns + ` FROM run_changes WHERE id = ? AND run_id = ?`

	c, err := scanChange(r.db.QueryRowContext(ctx, query, changeID, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrChangeNotFound, changeID)
	}
	return c, err
}

// SetApproved sets the approval flag of an addition in a single statement guarded by the run's status.
// It reports false when the change is not an addition of a previewing run.
func (r *RunChangeRepository) SetApproved(ctx context.Context, runID, changeID string, approved bool) (bool, error) {
	query := `UPDATE run_changes SET is_approved = ? WHERE id = ? AND run_id = ? AND ` + approvalGuard

	res, err := r.db.ExecContext(ctx, query, approved, changeID, runID)
	if err != nil {
		return false, fmt.Errorf("failed to update approval: %w", err)
	}
	rows, err := rowsAffected(res)
	return rows == 1, err
}

// ApproveAll approves every pending addition of a previewing run and returns how many changed.
func (r *RunChangeRepository) ApproveAll(ctx context.Context, runID string) (int64, error) {
	query := `UPDATE run_changes SET is_approved = 1 WHERE run_id = ? AND is_approved = 0 AND ` + approvalGuard

	res, err := r.db.ExecContext(ctx, query, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to approve changes: %w", err)
	}
	return rowsAffected(res)
}

// CountUnapproved returns the number of additions still awaiting approval
func (r *RunChangeRepository) CountUnapproved(ctx context.Context, runID string) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM run_changes WHERE run_id = ? AND change_type = 'add' AND is_approved = 0`
	if err := r.db.QueryRowContext(ctx, query, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unapproved changes: %w", err)
	}
	return n, nil
}

func scanChange(s scanner) (*models.RunChange, error) {
	var (
		c            models.RunChange
		year, decade sql.NullInt64
		language     string
		genres       string
	)

	err := s.Scan(&c.ID, &c.RunID, &c.Type, &c.TrackID, &c.Artist, &c.Title, &year, &decade, &language, &genres,
		&c.BlockIndex, &c.Position, &c.AISuggested, &c.Approved, &c.Rationale, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run change: %w", err)
	}

	c.Attributes = models.Attributes{
		Year:     intPtr(year),
		Decade:   intPtr(decade),
		Language: models.Language(language),
		Genres:   models.SplitGenres(genres),
	}
	return &c, nil
}
