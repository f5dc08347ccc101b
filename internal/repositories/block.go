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

// BlockRepository persists rotation blocks and their tracks. Blocks are retired, never deleted.
type BlockRepository struct {
	db DBTX
}

// NewBlockRepository creates a new BlockRepository with the given database connection
func NewBlockRepository(db DBTX) *BlockRepository {
	return &BlockRepository{db: db}
}

// Create inserts a block and its tracks. Track positions must be unique within the block.
func (r *BlockRepository) Create(ctx context.Context, b *models.Block) error {
	if b.PlaylistID == "" {
		return fmt.Errorf("%w: block requires a playlist id", shared.ErrInvalidInput)
	}
	for i := range b.Tracks {
		if err := b.Tracks[i].Validate(); err != nil {
			return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}
	}

	b.ID = shared.GenerateID()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	b.Active = true

	query := `INSERT INTO blocks (id, playlist_id, block_index, is_active, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, b.ID, b.PlaylistID, b.Index, b.Active, b.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert block: %w", err)
	}

	trackQuery := `
		INSERT INTO block_tracks (id, block_id, track_id, artist, title, year, decade, language, genres, position, reason, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i := range b.Tracks {
		t := &b.Tracks[i]
		t.ID = shared.GenerateID()
		t.BlockID = b.ID
		if t.AddedAt.IsZero() {
			t.AddedAt = b.CreatedAt
		}

		_, err := r.db.ExecContext(ctx, trackQuery,
			t.ID, t.BlockID, t.TrackID, t.Artist, t.Title,
			nullInt(t.Attributes.Year), nullInt(t.Attributes.Decade), languageOrOther(t.Attributes.Language),
			models.JoinGenres(t.Attributes.Genres), t.Position, t.Reason, t.AddedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert block track: %w", err)
		}
	}
	return nil
}

// Get retrieves a block with its tracks
func (r *BlockRepository) Get(ctx context.Context, id string) (*models.Block, error) {
	query := `SELECT id, playlist_id, block_index, is_active, created_at, retired_at FROM blocks WHERE id = ?`

	b, err := scanBlock(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrBlockNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if b.Tracks, err = r.Tracks(ctx, b.ID); err != nil {
		return nil, err
	}
	return b, nil
}

// Active returns the playlist's active blocks, oldest first, with tracks.
func (r *BlockRepository) Active(ctx context.Context, playlistID string) ([]models.Block, error) {
	return r.list(ctx, `
		SELECT id, playlist_id, block_index, is_active, created_at, retired_at
		FROM blocks
		WHERE playlist_id = ? AND is_active = 1
		ORDER BY created_at ASC, block_index ASC
	`, playlistID)
}

// List returns every block of the playlist, active and retired, by index.
func (r *BlockRepository) List(ctx context.Context, playlistID string) ([]models.Block, error) {
	return r.list(ctx, `
		SELECT id, playlist_id, block_index, is_active, created_at, retired_at
		FROM blocks
		WHERE playlist_id = ?
		ORDER BY block_index ASC
	`, playlistID)
}

// list collects block rows before loading tracks so only one result set is open at a time.
func (r *BlockRepository) list(ctx context.Context, query string, args ...any) ([]models.Block, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}

	var blocks []models.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		blocks = append(blocks, *b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	for i := range blocks {
		if blocks[i].Tracks, err = r.Tracks(ctx, blocks[i].ID); err != nil {
			return nil, err
		}
	}
	return blocks, nil
}

// MaxIndex returns the highest block index ever used by the playlist, or -1 when it has none.
func (r *BlockRepository) MaxIndex(ctx context.Context, playlistID string) (int, error) {
	var idx int
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(block_index), -1) FROM blocks WHERE playlist_id = ?`, playlistID).Scan(&idx)
	if err != nil {
		return 0, fmt.Errorf("failed to query max block index: %w", err)
	}
	return idx, nil
}

// Deactivate retires an active block. Retiring an inactive or unknown block fails with [shared.ErrBlockNotFound].
func (r *BlockRepository) Deactivate(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE blocks SET is_active = 0, retired_at = ? WHERE id = ? AND is_active = 1`, at, id)
	if err != nil {
		return fmt.Errorf("failed to retire block: %w", err)
	}

	rows, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: no active block %s", shared.ErrBlockNotFound, id)
	}
	return nil
}

// Tracks returns a block's tracks in position order
func (r *BlockRepository) Tracks(ctx context.Context, blockID string) ([]models.BlockTrack, error) {
	query := `
		SELECT id, block_id, track_id, artist, title, year, decade, language, genres, position, reason, added_at
		FROM block_tracks
		WHERE block_id = ?
		ORDER BY position ASC
	`

	rows, err := r.db.QueryContext(ctx, query, blockID)
	if err != nil {
		return nil, fmt.Errorf("failed to query block tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.BlockTrack
	for rows.Next() {
		var (
			t            models.BlockTrack
			year, decade sql.NullInt64
			language     string
			genres       string
		)
		err := rows.Scan(&t.ID, &t.BlockID, &t.TrackID, &t.Artist, &t.Title, &year, &decade, &language, &genres,
			&t.Position, &t.Reason, &t.AddedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan block track: %w", err)
		}
		t.Attributes = models.Attributes{
			Year:     intPtr(year),
			Decade:   intPtr(decade),
			Language: models.Language(language),
			Genres:   models.SplitGenres(genres),
		}
		tracks = append(tracks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tracks, nil
}

func scanBlock(s scanner) (*models.Block, error) {
	var (
		b         models.Block
		retiredAt sql.NullTime
	)
	err := s.Scan(&b.ID, &b.PlaylistID, &b.Index, &b.Active, &b.CreatedAt, &retiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan block: %w", err)
	}
	b.RetiredAt = timePtr(retiredAt)
	return &b, nil
}

func languageOrOther(l models.Language) string {
	if l == "" {
		return string(models.LanguageOther)
	}
	return string(l)
}
