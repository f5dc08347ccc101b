package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/wissel/internal/lifecycle"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgPlaylistsFetched MsgKind = iota
	MsgRunsFetched
	MsgRunLoaded
	MsgProgressUpdate
	MsgRefreshComplete
	MsgCommitComplete
)

type playlistsData struct {
	playlists []*models.Playlist
	err       error
}

type runsData struct {
	runs []*models.Run
	err  error
}

type runData struct {
	detail *lifecycle.RunDetail
	status string
	err    error
}

type refreshData struct {
	summary *lifecycle.RunSummary
	err     error
}

// playlistsFetchedMsg is the constructor for [MsgPlaylistsFetched]
func playlistsFetchedMsg(playlists []*models.Playlist, err error) Msg {
	return Msg{kind: MsgPlaylistsFetched, data: playlistsData{playlists, err}}
}

// runsFetchedMsg is the constructor for [MsgRunsFetched]
func runsFetchedMsg(runs []*models.Run, err error) Msg {
	return Msg{kind: MsgRunsFetched, data: runsData{runs, err}}
}

// runLoadedMsg is the constructor for [MsgRunLoaded]. status describes the action that preceded the load.
func runLoadedMsg(detail *lifecycle.RunDetail, status string, err error) Msg {
	return Msg{kind: MsgRunLoaded, data: runData{detail, status, err}}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// refreshCompleteMsg is the constructor for [MsgRefreshComplete]
func refreshCompleteMsg(summary *lifecycle.RunSummary, err error) Msg {
	return Msg{kind: MsgRefreshComplete, data: refreshData{summary, err}}
}

// commitCompleteMsg is the constructor for [MsgCommitComplete]
func commitCompleteMsg(detail *lifecycle.RunDetail, err error) Msg {
	return Msg{kind: MsgCommitComplete, data: runData{detail: detail, err: err}}
}
