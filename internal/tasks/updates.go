package tasks

import (
	"fmt"

	"github.com/desertthunder/wissel/internal/lifecycle"
	"github.com/desertthunder/wissel/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	LoadPlaylist Phase = iota
	SelectCandidates
	CreatePreview
	ApproveChanges
	CommitRun
	FetchExternal
	EnrichTracks
	CreateBlocks
)

func (p Phase) String() string {
	switch p {
	case LoadPlaylist:
		return "load_playlist"
	case SelectCandidates:
		return "select_candidates"
	case CreatePreview:
		return "create_preview"
	case ApproveChanges:
		return "approve_changes"
	case CommitRun:
		return "commit_run"
	case FetchExternal:
		return "fetch_external"
	case EnrichTracks:
		return "enrich_tracks"
	case CreateBlocks:
		return "create_blocks"
	default:
		return ""
	}
}

func selectingUpdate(step, total int, key string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SelectCandidates,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Selecting candidates for %s...", key),
	}
}

func previewCreatedUpdate(step, total int, summary *lifecycle.RunSummary) ProgressUpdate {
	msg := fmt.Sprintf("Preview #%d created: %d out, %d in", summary.Sequence, len(summary.RemovedTracks), len(summary.AddedTracks))
	if summary.Degraded {
		msg += " (degraded)"
	}
	if n := len(summary.Warnings); n > 0 {
		msg += fmt.Sprintf(", %d warning(s)", n)
	}
	return ProgressUpdate{
		Phase:   CreatePreview,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    summary,
	}
}

func approvingUpdate(step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ApproveChanges,
		Step:    step,
		Total:   total,
		Message: "Approving all additions...",
	}
}

func committedUpdate(step, total int, summary *lifecycle.RunSummary) ProgressUpdate {
	return ProgressUpdate{
		Phase:   CommitRun,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Run #%d committed: block %d retired, block %d active", summary.Sequence, summary.RemovedBlockIndex, summary.AddedBlockIndex),
		Data:    summary,
	}
}

func fetchExternalUpdate(step, total int, ref string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchExternal,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Fetching external playlist %s...", ref),
	}
}

func enrichUpdate(step, total, tracks int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   EnrichTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Enriching %d tracks...", tracks),
	}
}

func blockCreatedUpdate(step, total int, b *models.Block) ProgressUpdate {
	return ProgressUpdate{
		Phase:   CreateBlocks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Block %d (%d tracks)", step, total, b.Index, len(b.Tracks)),
		Data:    b,
	}
}
