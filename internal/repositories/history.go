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

// HistoryRepository keeps one entry per track per playlist.
type HistoryRepository struct {
	db DBTX
}

// NewHistoryRepository creates a new HistoryRepository with the given database connection
func NewHistoryRepository(db DBTX) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// RecordAdded creates an entry for a newly placed track, or reactivates an existing entry.
// first_added_at is preserved on re-addition.
func (r *HistoryRepository) RecordAdded(ctx context.Context, playlistID, trackID, artist, title string, at time.Time) error {
	query := `
		INSERT INTO track_history (id, playlist_id, track_id, artist, title, first_added_at, last_removed_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (playlist_id, track_id) DO UPDATE SET
			last_removed_at = NULL,
			artist = excluded.artist,
			title = excluded.title
	`
	if _, err := r.db.ExecContext(ctx, query, shared.GenerateID(), playlistID, trackID, artist, title, at); err != nil {
		return fmt.Errorf("failed to record added track: %w", err)
	}
	return nil
}

// RecordRemoved stamps last_removed_at. A track with no entry gets one, first added at the same instant.
func (r *HistoryRepository) RecordRemoved(ctx context.Context, playlistID, trackID, artist, title string, at time.Time) error {
	query := `
		INSERT INTO track_history (id, playlist_id, track_id, artist, title, first_added_at, last_removed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (playlist_id, track_id) DO UPDATE SET
			last_removed_at = excluded.last_removed_at
	`
	if _, err := r.db.ExecContext(ctx, query, shared.GenerateID(), playlistID, trackID, artist, title, at, at); err != nil {
		return fmt.Errorf("failed to record removed track: %w", err)
	}
	return nil
}

// Get retrieves the entry for a track in a playlist
func (r *HistoryRepository) Get(ctx context.Context, playlistID, trackID string) (*models.HistoryEntry, error) {
	query := `
		SELECT id, playlist_id, track_id, artist, title, first_added_at, last_removed_at
		FROM track_history
		WHERE playlist_id = ? AND track_id = ?
	`

	h, err := scanHistory(r.db.QueryRowContext(ctx, query, playlistID, trackID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no history for %s", shared.ErrTrackNotFound, trackID)
	}
	return h, err
}

// List returns every history entry of a playlist, oldest first
func (r *HistoryRepository) List(ctx context.Context, playlistID string) ([]models.HistoryEntry, error) {
	query := `
		SELECT id, playlist_id, track_id, artist, title, first_added_at, last_removed_at
		FROM track_history
		WHERE playlist_id = ?
		ORDER BY first_added_at ASC, track_id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

func scanHistory(s scanner) (*models.HistoryEntry, error) {
	var (
		h         models.HistoryEntry
		removedAt sql.NullTime
	)
	err := s.Scan(&h.ID, &h.PlaylistID, &h.TrackID, &h.Artist, &h.Title, &h.FirstAddedAt, &removedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan history entry: %w", err)
	}
	h.LastRemovedAt = timePtr(removedAt)
	return &h, nil
}
