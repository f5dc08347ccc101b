package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/wissel/internal/lifecycle"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	PlaylistListView ViewState = iota
	RunListView
	ReviewView
	ConfirmView
	ProgressView
	ResultView
)

const runListLimit = 20

// Reviewer is the subset of [lifecycle.Manager] the TUI drives.
type Reviewer interface {
	Get(ctx context.Context, runID string) (*lifecycle.RunDetail, error)
	ListRuns(ctx context.Context, playlistKey string, limit int) ([]*models.Run, error)
	Approve(ctx context.Context, runID, changeID string, approved bool) error
	ApproveAll(ctx context.Context, runID string) (int64, error)
	Commit(ctx context.Context, runID string) (*lifecycle.RunDetail, error)
	Cancel(ctx context.Context, runID string) error
}

// PlaylistLister lists managed playlists.
type PlaylistLister interface {
	List(ctx context.Context) ([]*models.Playlist, error)
}

type pendingAction int

const (
	actionNone pendingAction = iota
	actionCommit
	actionCancel
)

// Model represents the TUI application state.
type Model struct {
	ctx          context.Context
	view         ViewState
	reviewer     Reviewer
	playlists    PlaylistLister
	refresher    tasks.Refresher
	initialRun   string
	width        int
	height       int
	playlistList list.Model
	runList      list.Model
	changeList   list.Model
	playlist     *models.Playlist
	detail       *lifecycle.RunDetail
	action       pendingAction
	progressChan chan tasks.ProgressUpdate
	refreshDone  chan refreshData
	progress     tasks.ProgressUpdate
	committed    *lifecycle.RunDetail
	status       string
	statusErr    bool
	err          error
	help         help.Model
	keys         keyMap
}

// NewModel creates a TUI model. When runID is set the TUI opens that run directly.
//
// refresher may be nil, which disables creating previews from the run list.
func NewModel(ctx context.Context, reviewer Reviewer, playlists PlaylistLister, refresher tasks.Refresher, runID string) *Model {
	return &Model{
		ctx:        ctx,
		view:       PlaylistListView,
		reviewer:   reviewer,
		playlists:  playlists,
		refresher:  refresher,
		initialRun: runID,
		help:       help.New(),
		keys:       newKeyMap(),
	}
}

// Init loads either the requested run or the playlist list.
func (m *Model) Init() tea.Cmd {
	if m.initialRun != "" {
		return m.loadRun(m.initialRun, "")
	}
	return m.fetchPlaylists()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeLists()
		return m, nil

	case tea.KeyMsg:
		if m.err != nil && m.view != ResultView {
			if key.Matches(msg, m.keys.quit) {
				return m, tea.Quit
			}
			return m, nil
		}
		switch m.view {
		case PlaylistListView:
			return m.handlePlaylistListKeys(msg)
		case RunListView:
			return m.handleRunListKeys(msg)
		case ReviewView:
			return m.handleReviewKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		case ProgressView:
			if key.Matches(msg, m.keys.quit) {
				return m, tea.Quit
			}
			return m, nil
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgPlaylistsFetched:
		data := msg.data.(playlistsData)
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		items := make([]list.Item, len(data.playlists))
		for i, p := range data.playlists {
			items[i] = playlistItem{playlist: p}
		}
		m.playlistList = m.newList(items, "Playlists")
		m.view = PlaylistListView
		return m, nil

	case MsgRunsFetched:
		data := msg.data.(runsData)
		if data.err != nil {
			m.setStatus(data.err.Error(), true)
			return m, nil
		}
		items := make([]list.Item, len(data.runs))
		for i, r := range data.runs {
			items[i] = runItem{run: r}
		}
		m.runList = m.newList(items, fmt.Sprintf("Runs for '%s'", m.playlist.Name))
		m.view = RunListView
		return m, nil

	case MsgRunLoaded:
		data := msg.data.(runData)
		if data.err != nil {
			if m.detail == nil {
				m.err = data.err
				return m, nil
			}
			m.setStatus(data.err.Error(), true)
			m.view = ReviewView
			return m, nil
		}
		m.setDetail(data.detail)
		m.setStatus(data.status, false)
		m.view = ReviewView
		return m, nil

	case MsgProgressUpdate:
		m.progress = msg.data.(tasks.ProgressUpdate)
		return m, m.waitForProgress()

	case MsgRefreshComplete:
		data := msg.data.(refreshData)
		m.progressChan = nil
		m.refreshDone = nil
		if data.summary == nil {
			m.view = RunListView
			m.setStatus(data.err.Error(), true)
			return m, nil
		}
		status := fmt.Sprintf("run #%d created", data.summary.Sequence)
		if data.err != nil {
			status = data.err.Error()
		}
		return m, m.loadRun(data.summary.RunID, status)

	case MsgCommitComplete:
		data := msg.data.(runData)
		m.committed = data.detail
		m.err = data.err
		m.view = ResultView
		return m, nil
	}
	return m, nil
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

func (m *Model) setDetail(detail *lifecycle.RunDetail) {
	cursor := 0
	if m.detail != nil && m.detail.Run.ID == detail.Run.ID {
		cursor = m.changeList.Index()
	}
	m.detail = detail
	if m.playlist == nil {
		m.playlist = detail.Playlist
	}

	items := make([]list.Item, len(detail.Changes))
	for i, c := range detail.Changes {
		items[i] = changeItem{change: c}
	}
	m.changeList = m.newList(items, fmt.Sprintf("%s • Run #%d (%s)", detail.Playlist.Name, detail.Run.Sequence, detail.Run.Status))
	if cursor < len(items) {
		m.changeList.Select(cursor)
	}
}

func (m *Model) newList(items []list.Item, title string) list.Model {
	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = title
	l.SetShowHelp(false)
	if m.width > 0 {
		l.SetSize(m.width-4, m.height-10)
	}
	return l
}

// resizeLists resizes the lists built so far. A zero list.Model has no delegate and cannot be sized.
func (m *Model) resizeLists() {
	w, h := m.width-4, m.height-10
	for _, l := range []*list.Model{&m.playlistList, &m.runList, &m.changeList} {
		if l.Title != "" {
			l.SetSize(w, h)
		}
	}
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view != ResultView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case PlaylistListView:
		return m.renderPlaylistList()
	case RunListView:
		return m.renderRunList()
	case ReviewView:
		return m.renderReview()
	case ConfirmView:
		return m.renderConfirm()
	case ProgressView:
		return m.renderProgress()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handlePlaylistListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.enter):
		if item, ok := m.playlistList.SelectedItem().(playlistItem); ok {
			m.playlist = item.playlist
			return m, m.fetchRuns()
		}
	}

	var cmd tea.Cmd
	m.playlistList, cmd = m.playlistList.Update(msg)
	return m, cmd
}

func (m *Model) handleRunListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.setStatus("", false)
		m.view = PlaylistListView
		return m, nil
	case key.Matches(msg, m.keys.enter):
		if item, ok := m.runList.SelectedItem().(runItem); ok {
			return m, m.loadRun(item.run.ID, "")
		}
	case key.Matches(msg, m.keys.preview):
		if m.refresher == nil {
			m.setStatus("previews are not available here", true)
			return m, nil
		}
		m.view = ProgressView
		m.progress = tasks.ProgressUpdate{Message: "Starting refresh..."}
		return m, m.startPreview()
	}

	var cmd tea.Cmd
	m.runList, cmd = m.runList.Update(msg)
	return m, cmd
}

func (m *Model) handleReviewKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.setStatus("", false)
		if m.playlist == nil {
			return m, m.fetchPlaylists()
		}
		return m, m.fetchRuns()
	case key.Matches(msg, m.keys.toggle, m.keys.approveAll, m.keys.commit, m.keys.cancel):
		if m.detail.Run.Status != models.RunPreview {
			m.setStatus(fmt.Sprintf("run is %s", m.detail.Run.Status), true)
			return m, nil
		}
		return m.handleReviewAction(msg)
	}

	var cmd tea.Cmd
	m.changeList, cmd = m.changeList.Update(msg)
	return m, cmd
}

func (m *Model) handleReviewAction(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	runID := m.detail.Run.ID

	switch {
	case key.Matches(msg, m.keys.toggle):
		item, ok := m.changeList.SelectedItem().(changeItem)
		if !ok {
			return m, nil
		}
		if item.change.Type != models.ChangeAdd {
			m.setStatus("removals are approved with the run", true)
			return m, nil
		}
		approved := !item.change.Approved
		status := "rejected " + item.change.Title
		if approved {
			status = "approved " + item.change.Title
		}
		return m, m.act(runID, status, func() error {
			return m.reviewer.Approve(m.ctx, runID, item.change.ID, approved)
		})

	case key.Matches(msg, m.keys.approveAll):
		return m, m.actf(runID, func() (string, error) {
			n, err := m.reviewer.ApproveAll(m.ctx, runID)
			return fmt.Sprintf("approved %d changes", n), err
		})

	case key.Matches(msg, m.keys.commit):
		if pending := m.detail.Summary().PendingApprovals; pending > 0 {
			m.setStatus(fmt.Sprintf("%d additions still need approval", pending), true)
			return m, nil
		}
		m.action = actionCommit
		m.view = ConfirmView

	case key.Matches(msg, m.keys.cancel):
		m.action = actionCancel
		m.view = ConfirmView
	}
	return m, nil
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.no, m.keys.back, m.keys.quit):
		m.action = actionNone
		m.view = ReviewView
		return m, nil
	case key.Matches(msg, m.keys.yes):
		runID := m.detail.Run.ID
		action := m.action
		m.action = actionNone
		if action == actionCancel {
			return m, m.act(runID, "run cancelled", func() error {
				return m.reviewer.Cancel(m.ctx, runID)
			})
		}
		m.view = ProgressView
		m.progress = tasks.ProgressUpdate{Phase: tasks.CommitRun, Message: "Committing run..."}
		return m, m.commit(runID)
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.restart, m.keys.back):
		m.err = nil
		m.committed = nil
		return m, m.loadRun(m.detail.Run.ID, "")
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case PlaylistListView:
		m.playlistList, cmd = m.playlistList.Update(msg)
	case RunListView:
		m.runList, cmd = m.runList.Update(msg)
	case ReviewView:
		m.changeList, cmd = m.changeList.Update(msg)
	}
	return m, cmd
}

func (m *Model) fetchPlaylists() tea.Cmd {
	return func() tea.Msg {
		playlists, err := m.playlists.List(m.ctx)
		return playlistsFetchedMsg(playlists, err)
	}
}

func (m *Model) fetchRuns() tea.Cmd {
	playlistKey := m.playlist.Key
	return func() tea.Msg {
		runs, err := m.reviewer.ListRuns(m.ctx, playlistKey, runListLimit)
		return runsFetchedMsg(runs, err)
	}
}

func (m *Model) loadRun(runID, status string) tea.Cmd {
	return func() tea.Msg {
		detail, err := m.reviewer.Get(m.ctx, runID)
		return runLoadedMsg(detail, status, err)
	}
}

// act runs fn and reloads the run, reporting status on success.
func (m *Model) act(runID, status string, fn func() error) tea.Cmd {
	return m.actf(runID, func() (string, error) { return status, fn() })
}

func (m *Model) actf(runID string, fn func() (string, error)) tea.Cmd {
	return func() tea.Msg {
		status, err := fn()
		if err != nil {
			return runLoadedMsg(nil, "", err)
		}
		detail, err := m.reviewer.Get(m.ctx, runID)
		return runLoadedMsg(detail, status, err)
	}
}

func (m *Model) commit(runID string) tea.Cmd {
	return func() tea.Msg {
		detail, err := m.reviewer.Commit(m.ctx, runID)
		return commitCompleteMsg(detail, err)
	}
}

func (m *Model) startPreview() tea.Cmd {
	m.progressChan = make(chan tasks.ProgressUpdate, 50)
	m.refreshDone = make(chan refreshData, 1)

	progress, done, playlistKey := m.progressChan, m.refreshDone, m.playlist.Key
	go func() {
		summary, err := m.refresher.ExecuteRefresh(m.ctx, playlistKey, false, progress)
		done <- refreshData{summary: summary, err: err}
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	progress, done := m.progressChan, m.refreshDone
	return func() tea.Msg {
		select {
		case update := <-progress:
			return progressUpdateMsg(update)
		case result := <-done:
			return refreshCompleteMsg(result.summary, result.err)
		}
	}
}

func (m *Model) statusLine() string {
	if m.status == "" {
		return ""
	}
	if m.statusErr {
		return "\n" + styles.err.Render(m.status)
	}
	return "\n" + styles.ok.Render(m.status)
}

func (m *Model) renderPlaylistList() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.enter, m.keys.quit})
	return fmt.Sprintf("%s\n\n%s", m.playlistList.View(), helpView)
}

func (m *Model) renderRunList() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.preview, m.keys.back, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)
	return fmt.Sprintf("%s%s\n\n%s", m.runList.View(), m.statusLine(), helpView)
}

func (m *Model) renderReview() string {
	summary := m.detail.Summary()

	var b strings.Builder
	fmt.Fprintf(&b, "Removing block %d • Adding block %d • %d pending",
		summary.RemovedBlockIndex, summary.AddedBlockIndex, summary.PendingApprovals)
	if summary.Degraded {
		b.WriteString(" • " + styles.warn.Render("degraded"))
	}
	if summary.SyncFailed {
		b.WriteString("\n" + styles.err.Render("Last commit failed: "+summary.LastError))
	}
	for _, w := range summary.Warnings {
		b.WriteString("\n" + styles.warn.Render("! "+w.Message))
	}

	helpKeys := []key.Binding{m.keys.back, m.keys.quit}
	if m.detail.Run.Status == models.RunPreview {
		helpKeys = []key.Binding{m.keys.toggle, m.keys.approveAll, m.keys.commit, m.keys.cancel, m.keys.back, m.keys.quit}
	}
	helpView := m.help.ShortHelpView(helpKeys)

	return fmt.Sprintf("%s\n\n%s%s\n\n%s", m.changeList.View(), b.String(), m.statusLine(), helpView)
}

func (m *Model) renderConfirm() string {
	summary := m.detail.Summary()

	var title, info string
	switch m.action {
	case actionCancel:
		title = styles.title.Render(fmt.Sprintf("Cancel run #%d?", summary.Sequence))
		info = fmt.Sprintf("\nBlock %d stays active and the playlist is not changed.\n", summary.RemovedBlockIndex)
	default:
		title = styles.title.Render(fmt.Sprintf("Commit run #%d to '%s'?", summary.Sequence, m.detail.Playlist.Name))
		info = fmt.Sprintf("\nRemove: %d tracks (block %d)\nAdd: %d tracks (block %d)\n",
			len(summary.RemovedTracks), summary.RemovedBlockIndex, len(summary.AddedTracks), summary.AddedBlockIndex)
	}

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.yes, m.keys.no})
	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}

func (m *Model) renderProgress() string {
	var phase string
	switch m.progress.Phase {
	case tasks.LoadPlaylist:
		phase = "Loading playlist..."
	case tasks.SelectCandidates:
		phase = "Selecting candidates..."
	case tasks.CreatePreview:
		phase = "Creating preview..."
	case tasks.ApproveChanges:
		phase = "Approving changes..."
	case tasks.CommitRun:
		phase = "Updating playlist..."
	default:
		phase = "Processing..."
	}

	title := styles.title.Render("Working")
	switch {
	case m.progress.Phase == tasks.CommitRun:
		title = styles.title.Render("Committing Run")
	case m.playlist != nil:
		title = styles.title.Render(fmt.Sprintf("Refreshing '%s'", m.playlist.Name))
	}
	return fmt.Sprintf("%s\n\n%s\n%s", title, phase, styles.help.Render(m.progress.Message))
}

func (m *Model) renderResult() string {
	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Commit failed: %v\n\nThe run is still in preview. Press r to review it again, q to quit", m.err))
	}
	if m.committed == nil {
		return styles.err.Render("No result available\n\nPress r to return, q to quit")
	}

	summary := m.committed.Summary()
	title := styles.ok.Render("✓ Run Committed!")
	info := fmt.Sprintf("\nPlaylist: %s\nRetired block %d (%d tracks)\nAdded block %d (%d tracks)",
		m.committed.Playlist.Name, summary.RemovedBlockIndex, len(summary.RemovedTracks),
		summary.AddedBlockIndex, len(summary.AddedTracks))

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.restart, m.keys.quit})
	return fmt.Sprintf("%s\n%s\n\n%s", title, info, helpView)
}
