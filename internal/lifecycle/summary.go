package lifecycle

import (
	"time"

	"github.com/desertthunder/wissel/internal/models"
)

// TrackSummary is a track as shown in a run summary.
type TrackSummary struct {
	ChangeID    string            `json:"change_id"`
	TrackID     string            `json:"track_id"`
	Artist      string            `json:"artist"`
	Title       string            `json:"title"`
	Attributes  models.Attributes `json:"attributes"`
	Position    int               `json:"position"`
	AISuggested bool              `json:"is_ai_suggested"`
	Approved    bool              `json:"is_approved"`
	Rationale   string            `json:"rationale,omitempty"`
}

// RunSummary is the outward view of a run returned by refresh, the CLI, and the HTTP API.
type RunSummary struct {
	RunID             string             `json:"run_id"`
	Sequence          int                `json:"sequence"`
	PlaylistKey       string             `json:"playlist_key"`
	Status            models.RunStatus   `json:"status"`
	Degraded          bool               `json:"degraded"`
	Warnings          []models.Violation `json:"warnings"`
	RemovedBlockIndex int                `json:"removed_block_index"`
	RemovedTracks     []TrackSummary     `json:"removed_tracks"`
	AddedBlockIndex   int                `json:"added_block_index"`
	AddedTracks       []TrackSummary     `json:"added_tracks"`
	PendingApprovals  int                `json:"pending_approvals"`
	SyncFailed        bool               `json:"sync_failed"`
	LastError         string             `json:"last_error,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	ExecutedAt        *time.Time         `json:"executed_at,omitempty"`
}

// Summary flattens the detail into a [RunSummary].
func (d *RunDetail) Summary() RunSummary {
	s := RunSummary{
		RunID:           d.Run.ID,
		Sequence:        d.Run.Sequence,
		Status:          d.Run.Status,
		Degraded:        d.Run.Degraded,
		Warnings:        d.Run.Warnings,
		AddedBlockIndex: d.Run.NewBlockIndex,
		SyncFailed:      d.Run.SyncFailed(),
		LastError:       d.Run.LastError,
		CreatedAt:       d.Run.CreatedAt,
		ExecutedAt:      d.Run.ExecutedAt,
		RemovedTracks:   []TrackSummary{},
		AddedTracks:     []TrackSummary{},
	}
	if s.Warnings == nil {
		s.Warnings = []models.Violation{}
	}
	if d.Playlist != nil {
		s.PlaylistKey = d.Playlist.Key
	}

	for _, c := range d.Changes {
		t := TrackSummary{
			ChangeID:    c.ID,
			TrackID:     c.TrackID,
			Artist:      c.Artist,
			Title:       c.Title,
			Attributes:  c.Attributes,
			Position:    c.Position,
			AISuggested: c.AISuggested,
			Approved:    c.Approved,
			Rationale:   c.Rationale,
		}
		switch c.Type {
		case models.ChangeRemove:
			s.RemovedBlockIndex = c.BlockIndex
			s.RemovedTracks = append(s.RemovedTracks, t)
		case models.ChangeAdd:
			s.AddedTracks = append(s.AddedTracks, t)
			if !c.Approved {
				s.PendingApprovals++
			}
		}
	}
	return s
}
