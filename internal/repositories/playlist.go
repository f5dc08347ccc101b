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

const playlistColumns = `id, sequence, playlist_key, name, vibe, external_ref, home_market, schedule, auto_commit, is_active, created_at, updated_at, deleted_at`

// PlaylistRepository persists playlists and their rule sets, with soft delete support.
type PlaylistRepository struct {
	db DBTX
}

// NewPlaylistRepository creates a new PlaylistRepository with the given database connection
func NewPlaylistRepository(db DBTX) *PlaylistRepository {
	return &PlaylistRepository{db: db}
}

// Create inserts a new playlist with generated ID and sequence.
// A duplicate key fails with [shared.ErrAlreadyExists].
func (r *PlaylistRepository) Create(ctx context.Context, p *models.Playlist) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	if existing, err := r.GetByKey(ctx, p.Key); err == nil && existing != nil {
		return fmt.Errorf("%w: playlist %q", shared.ErrAlreadyExists, p.Key)
	} else if err != nil && !errors.Is(err, shared.ErrPlaylistNotFound) {
		return err
	}

	sequence, err := NextSequence(ctx, r.db, "playlists")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	now := time.Now().UTC()
	p.ID = shared.GenerateID()
	p.Sequence = sequence
	p.Active = true
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO playlists (id, sequence, playlist_key, name, vibe, external_ref, home_market, schedule, auto_commit, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		p.ID, p.Sequence, p.Key, p.Name, p.Vibe, p.ExternalRef, p.HomeMarket, p.Schedule,
		p.AutoCommit, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert playlist: %w", err)
	}
	return nil
}

// Get retrieves a playlist by ID, excluding soft-deleted playlists
func (r *PlaylistRepository) Get(ctx context.Context, id string) (*models.Playlist, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists WHERE id = ? AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id), id)
}

// GetByKey retrieves a playlist by its unique key
func (r *PlaylistRepository) GetByKey(ctx context.Context, key string) (*models.Playlist, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists WHERE playlist_key = ? AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRowContext(ctx, query, key), key)
}

// Update modifies the mutable fields of an existing playlist
func (r *PlaylistRepository) Update(ctx context.Context, p *models.Playlist) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	p.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE playlists
		SET name = ?, vibe = ?, external_ref = ?, home_market = ?, schedule = ?, auto_commit = ?, is_active = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	res, err := r.db.ExecContext(ctx, query,
		p.Name, p.Vibe, p.ExternalRef, p.HomeMarket, p.Schedule, p.AutoCommit, p.Active, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update playlist: %w", err)
	}

	rows, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, p.ID)
	}
	return nil
}

// Delete soft-deletes a playlist by ID
func (r *PlaylistRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE playlists SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete playlist: %w", err)
	}

	rows, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)
	}
	return nil
}

// List retrieves all playlists in creation order, excluding soft-deleted playlists
func (r *PlaylistRepository) List(ctx context.Context) ([]*models.Playlist, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists WHERE deleted_at IS NULL ORDER BY sequence ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var playlists []*models.Playlist
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return playlists, nil
}

// Rules returns the playlist's rule set, or [models.DefaultRuleSet] when none was saved.
func (r *PlaylistRepository) Rules(ctx context.Context, playlistID string) (models.RuleSet, error) {
	query := `
		SELECT block_size, block_count, max_tracks_per_artist, no_repeat_ever, candidate_policies
		FROM playlist_rules
		WHERE playlist_id = ?
	`

	var (
		rules    models.RuleSet
		policies string
	)
	err := r.db.QueryRowContext(ctx, query, playlistID).Scan(
		&rules.BlockSize, &rules.BlockCount, &rules.MaxTracksPerArtist, &rules.NoRepeatEver, &policies,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultRuleSet(), nil
	}
	if err != nil {
		return rules, fmt.Errorf("failed to scan rules: %w", err)
	}

	if err := json.Unmarshal([]byte(policies), &rules.Policies); err != nil {
		return rules, fmt.Errorf("%w: stored candidate policies: %v", shared.ErrInvalidRules, err)
	}
	return rules, nil
}

// SaveRules inserts or replaces the playlist's rule set
func (r *PlaylistRepository) SaveRules(ctx context.Context, playlistID string, rules models.RuleSet) error {
	if err := rules.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidRules, err)
	}

	policies, err := json.Marshal(rules.Policies)
	if err != nil {
		return fmt.Errorf("failed to encode candidate policies: %w", err)
	}

	query := `
		INSERT INTO playlist_rules (playlist_id, block_size, block_count, max_tracks_per_artist, no_repeat_ever, candidate_policies, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (playlist_id) DO UPDATE SET
			block_size = excluded.block_size,
			block_count = excluded.block_count,
			max_tracks_per_artist = excluded.max_tracks_per_artist,
			no_repeat_ever = excluded.no_repeat_ever,
			candidate_policies = excluded.candidate_policies,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		playlistID, rules.BlockSize, rules.BlockCount, rules.MaxTracksPerArtist, rules.NoRepeatEver,
		string(policies), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save rules: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanOne scans a single row into a [models.Playlist]
func (r *PlaylistRepository) scanOne(row *sql.Row, ref string) (*models.Playlist, error) {
	p, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, ref)
	}
	return p, err
}

func (r *PlaylistRepository) scan(s scanner) (*models.Playlist, error) {
	var (
		p         models.Playlist
		deletedAt sql.NullTime
	)

	err := s.Scan(&p.ID, &p.Sequence, &p.Key, &p.Name, &p.Vibe, &p.ExternalRef, &p.HomeMarket, &p.Schedule,
		&p.AutoCommit, &p.Active, &p.CreatedAt, &p.UpdatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan playlist: %w", err)
	}

	p.DeletedAt = timePtr(deletedAt)
	return &p, nil
}
