package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/wissel/internal/formatter"
	"github.com/desertthunder/wissel/internal/models"
)

var (
	_ list.Item = playlistItem{}
	_ list.Item = runItem{}
	_ list.Item = changeItem{}
)

// playlistItem wraps [models.Playlist] to implement [list.Item].
type playlistItem struct {
	playlist *models.Playlist
}

func (i playlistItem) FilterValue() string { return i.playlist.Key }
func (i playlistItem) Title() string       { return i.playlist.Name }
func (i playlistItem) Description() string {
	desc := i.playlist.Key
	if i.playlist.Vibe != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.playlist.Vibe)
	}
	if i.playlist.Schedule != "" {
		desc = fmt.Sprintf("%s • scheduled", desc)
	}
	return desc
}

// runItem wraps [models.Run] to implement [list.Item].
type runItem struct {
	run *models.Run
}

func (i runItem) FilterValue() string { return i.run.ID }
func (i runItem) Title() string {
	return fmt.Sprintf("Run #%d • %s", i.run.Sequence, i.run.Status)
}
func (i runItem) Description() string {
	desc := i.run.CreatedAt.UTC().Format("2006-01-02 15:04")
	if i.run.SyncFailed() {
		desc = fmt.Sprintf("%s • last commit failed", desc)
	}
	if i.run.Degraded {
		desc = fmt.Sprintf("%s • degraded", desc)
	}
	return desc
}

// changeItem wraps [models.RunChange] to implement [list.Item].
type changeItem struct {
	change models.RunChange
}

func (i changeItem) FilterValue() string { return i.change.Artist + " " + i.change.Title }
func (i changeItem) Title() string {
	if i.change.Type == models.ChangeRemove {
		return styles.removed.Render(fmt.Sprintf("− %s - %s", i.change.Artist, i.change.Title))
	}
	mark := "[ ]"
	if i.change.Approved {
		mark = styles.ok.Render("[x]")
	}
	return fmt.Sprintf("%s %s - %s", mark, i.change.Artist, i.change.Title)
}
func (i changeItem) Description() string {
	if i.change.Type == models.ChangeRemove {
		return fmt.Sprintf("retiring from block %d", i.change.BlockIndex)
	}
	desc := formatter.FormatAttributes(i.change.Attributes)
	if i.change.Rationale != "" {
		if desc != "" {
			desc += " • "
		}
		desc += i.change.Rationale
	}
	return desc
}
