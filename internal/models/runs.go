package models

import (
	"fmt"
	"time"
)

// RunStatus is the tagged state of a [Run].
type RunStatus string

const (
	RunPreview    RunStatus = "preview"
	RunCommitting RunStatus = "committing" // claimed by a commit in flight
	RunCommitted  RunStatus = "committed"
	RunCancelled  RunStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunCommitted || s == RunCancelled
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunPreview:
		return next == RunCommitting || next == RunCancelled
	case RunCommitting:
		return next == RunCommitted || next == RunPreview
	}
	return false
}

func (s RunStatus) String() string {
	return string(s)
}

// ChangeType distinguishes additions from retirements.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeRemove ChangeType = "remove"
)

// RuleKind names the policy a violation came from.
type RuleKind string

const (
	RuleArtistLimit RuleKind = "artist_limit"
	RuleDecade      RuleKind = "decade_distribution"
	RuleYear        RuleKind = "year_distribution"
	RuleLanguage    RuleKind = "language"
	RuleGenre       RuleKind = "genre"
	RuleHistory     RuleKind = "history"
	RuleBlockSize   RuleKind = "block_size"
)

// Violation is one unmet rule. TrackID is set when a single candidate is at fault.
type Violation struct {
	Rule    RuleKind `json:"rule"`
	Message string   `json:"message"`
	TrackID string   `json:"track_id,omitempty"`
}

func (v Violation) String() string {
	if v.TrackID != "" {
		return fmt.Sprintf("%s: %s (%s)", v.Rule, v.Message, v.TrackID)
	}
	return fmt.Sprintf("%s: %s", v.Rule, v.Message)
}

// Run is one refresh attempt for a playlist.
type Run struct {
	ID             string      `json:"id"`
	Sequence       int         `json:"sequence"`
	PlaylistID     string      `json:"playlist_id"`
	Status         RunStatus   `json:"status"`
	RetireBlockID  string      `json:"retire_block_id,omitempty"`
	NewBlockIndex  int         `json:"new_block_index"`
	Degraded       bool        `json:"degraded"`
	Warnings       []Violation `json:"warnings"`
	SearchAttempts int         `json:"search_attempts"`
	LastError      string      `json:"last_error,omitempty"`
	FailedAt       *time.Time  `json:"failed_at,omitempty"`
	ClaimedAt      *time.Time  `json:"claimed_at,omitempty"`
	ScheduledAt    time.Time   `json:"scheduled_at"`
	ExecutedAt     *time.Time  `json:"executed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// SyncFailed reports whether the last commit attempt failed at the external playlist and awaits a retry.
func (r *Run) SyncFailed() bool {
	return r.Status == RunPreview && r.FailedAt != nil
}

// Validate checks required run fields.
func (r *Run) Validate() error {
	if r.PlaylistID == "" {
		return fmt.Errorf("run requires a playlist id")
	}
	switch r.Status {
	case RunPreview, RunCommitting, RunCommitted, RunCancelled:
	default:
		return fmt.Errorf("unknown run status %q", r.Status)
	}
	return nil
}

// RunChange is a proposed addition or retirement within a run.
type RunChange struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	Type        ChangeType `json:"change_type"`
	TrackID     string     `json:"track_id"`
	Artist      string     `json:"artist"`
	Title       string     `json:"title"`
	Attributes  Attributes `json:"attributes"`
	BlockIndex  int        `json:"block_index"`
	Position    int        `json:"position"`
	AISuggested bool       `json:"is_ai_suggested"`
	Approved    bool       `json:"is_approved"`
	Rationale   string     `json:"rationale,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Validate checks required change fields.
func (c *RunChange) Validate() error {
	if c.Type != ChangeAdd && c.Type != ChangeRemove {
		return fmt.Errorf("unknown change type %q", c.Type)
	}
	if c.TrackID == "" {
		return fmt.Errorf("run change requires a track id")
	}
	return nil
}

// Candidate converts the change into a validator candidate.
func (c RunChange) Candidate() Candidate {
	return Candidate{
		TrackID:     c.TrackID,
		Artist:      c.Artist,
		Title:       c.Title,
		Attributes:  c.Attributes,
		Rationale:   c.Rationale,
		AISuggested: c.AISuggested,
	}
}

// SplitChanges partitions changes into additions and removals, preserving order.
func SplitChanges(changes []RunChange) (adds, removes []RunChange) {
	for _, c := range changes {
		if c.Type == ChangeAdd {
			adds = append(adds, c)
		} else {
			removes = append(removes, c)
		}
	}
	return adds, removes
}
