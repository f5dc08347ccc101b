package models

import (
	"fmt"
	"time"
)

// Block is one rotation unit of a playlist.
type Block struct {
	ID         string       `json:"id"`
	PlaylistID string       `json:"playlist_id"`
	Index      int          `json:"block_index"`
	Active     bool         `json:"active"`
	CreatedAt  time.Time    `json:"created_at"`
	RetiredAt  *time.Time   `json:"retired_at,omitempty"`
	Tracks     []BlockTrack `json:"tracks"`
}

// TrackIDs returns the block's track identifiers in position order.
func (b *Block) TrackIDs() []string {
	ids := make([]string, len(b.Tracks))
	for i, t := range b.Tracks {
		ids[i] = t.TrackID
	}
	return ids
}

// BlockTrack is a track placed at a position within a block.
type BlockTrack struct {
	ID         string     `json:"id"`
	BlockID    string     `json:"block_id"`
	TrackID    string     `json:"track_id"`
	Artist     string     `json:"artist"`
	Title      string     `json:"title"`
	Attributes Attributes `json:"attributes"`
	Position   int        `json:"position"`
	Reason     string     `json:"reason,omitempty"`
	AddedAt    time.Time  `json:"added_at"`
}

// Validate checks required block track fields.
func (t *BlockTrack) Validate() error {
	if t.TrackID == "" {
		return fmt.Errorf("block track requires a track id")
	}
	if t.Position < 0 {
		return fmt.Errorf("block track position must not be negative")
	}
	return nil
}

// Candidate converts a placed track into the shape the validator compares against.
func (t BlockTrack) Candidate() Candidate {
	return Candidate{
		TrackID:    t.TrackID,
		Artist:     t.Artist,
		Title:      t.Title,
		Attributes: t.Attributes,
		Rationale:  t.Reason,
	}
}

// HistoryEntry records when a track was first placed in and last removed from a playlist.
type HistoryEntry struct {
	ID            string     `json:"id"`
	PlaylistID    string     `json:"playlist_id"`
	TrackID       string     `json:"track_id"`
	Artist        string     `json:"artist"`
	Title         string     `json:"title"`
	FirstAddedAt  time.Time  `json:"first_added_at"`
	LastRemovedAt *time.Time `json:"last_removed_at"` // nil while the track is active
}
