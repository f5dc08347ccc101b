// Package ui implements an interactive terminal interface for reviewing rotation runs using bubbletea's Elm architecture.
//
// The TUI provides a multi-view review workflow:
//  1. [PlaylistListView] : Browse managed playlists
//  2. [RunListView] : Browse recent runs, or start a new preview with p
//  3. [ReviewView] : Inspect the retiring block and the proposed additions, toggle approvals
//  4. [ConfirmView] : Confirm a commit or cancel
//  5. [ProgressView] : Follow a refresh or commit in progress
//  6. [ResultView] : Show the committed blocks or the commit failure
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// It talks to the run lifecycle through the [Reviewer] interface, so every approval, commit, and cancel follows the same
// state machine as the CLI and the HTTP API. Progress updates flow through a channel from the refresh engine.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, space, a, c, x, y/n, q) with contextual help displayed via
// charmbracelet/bubbles/help.
package ui
