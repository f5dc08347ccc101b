package ui

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/wissel/internal/lifecycle"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/shared"
	"github.com/desertthunder/wissel/internal/tasks"
)

// fakeReviewer keeps runs in memory and applies the same status guards as the lifecycle manager.
type fakeReviewer struct {
	mu        sync.Mutex
	playlist  *models.Playlist
	runs      map[string]*lifecycle.RunDetail
	commitErr error
	approvals []string
}

func newFakeReviewer() *fakeReviewer {
	playlist := &models.Playlist{ID: "p1", Key: "sunday", Name: "Sunday"}
	run := &models.Run{ID: "run-1", Sequence: 1, PlaylistID: "p1", Status: models.RunPreview, NewBlockIndex: 2, CreatedAt: time.Now()}
	var changes []models.RunChange
	for i := range 2 {
		changes = append(changes, models.RunChange{
			ID: fmt.Sprintf("rm%d", i), RunID: run.ID, Type: models.ChangeRemove,
			TrackID: fmt.Sprintf("old%d", i), Artist: "Old", Title: fmt.Sprintf("Old %d", i), Approved: true,
		})
	}
	for i := range 2 {
		changes = append(changes, models.RunChange{
			ID: fmt.Sprintf("add%d", i), RunID: run.ID, Type: models.ChangeAdd, BlockIndex: 2, Position: i,
			TrackID: fmt.Sprintf("new%d", i), Artist: "New", Title: fmt.Sprintf("New %d", i), AISuggested: true,
		})
	}
	return &fakeReviewer{
		playlist: playlist,
		runs:     map[string]*lifecycle.RunDetail{run.ID: {Run: run, Playlist: playlist, Changes: changes}},
	}
}

func (f *fakeReviewer) copyOf(d *lifecycle.RunDetail) *lifecycle.RunDetail {
	run := *d.Run
	return &lifecycle.RunDetail{Run: &run, Playlist: d.Playlist, Changes: slices.Clone(d.Changes)}
}

func (f *fakeReviewer) Get(ctx context.Context, runID string) (*lifecycle.RunDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.runs[runID]
	if !ok {
		return nil, shared.ErrRunNotFound
	}
	return f.copyOf(d), nil
}

func (f *fakeReviewer) ListRuns(ctx context.Context, playlistKey string, limit int) ([]*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var runs []*models.Run
	for _, d := range f.runs {
		runs = append(runs, d.Run)
	}
	return runs, nil
}

func (f *fakeReviewer) Approve(ctx context.Context, runID, changeID string, approved bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.runs[runID]
	if d.Run.Status != models.RunPreview {
		return shared.ErrInvalidTransition
	}
	for i := range d.Changes {
		if d.Changes[i].ID == changeID {
			d.Changes[i].Approved = approved
			f.approvals = append(f.approvals, fmt.Sprintf("%s=%t", changeID, approved))
			return nil
		}
	}
	return shared.ErrChangeNotFound
}

func (f *fakeReviewer) ApproveAll(ctx context.Context, runID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	d := f.runs[runID]
	for i := range d.Changes {
		if d.Changes[i].Type == models.ChangeAdd && !d.Changes[i].Approved {
			d.Changes[i].Approved = true
			n++
		}
	}
	return n, nil
}

func (f *fakeReviewer) Commit(ctx context.Context, runID string) (*lifecycle.RunDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	d := f.runs[runID]
	now := time.Now()
	d.Run.Status = models.RunCommitted
	d.Run.ExecutedAt = &now
	return f.copyOf(d), nil
}

func (f *fakeReviewer) Cancel(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.runs[runID]
	if d.Run.Status != models.RunPreview {
		return shared.ErrInvalidTransition
	}
	d.Run.Status = models.RunCancelled
	return nil
}

func (f *fakeReviewer) List(ctx context.Context) ([]*models.Playlist, error) {
	return []*models.Playlist{f.playlist}, nil
}

// fakeRefresher creates run-2 as a copy of run-1 and reports one progress update.
type fakeRefresher struct {
	reviewer *fakeReviewer
}

func (r *fakeRefresher) ExecuteRefresh(ctx context.Context, key string, autoCommit bool, progress chan<- tasks.ProgressUpdate) (*lifecycle.RunSummary, error) {
	progress <- tasks.ProgressUpdate{Phase: tasks.SelectCandidates, Message: "asking for suggestions"}

	r.reviewer.mu.Lock()
	d := r.reviewer.copyOf(r.reviewer.runs["run-1"])
	d.Run.ID, d.Run.Sequence = "run-2", 2
	r.reviewer.runs["run-2"] = d
	r.reviewer.mu.Unlock()

	summary := d.Summary()
	return &summary, nil
}

func keyPress(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// drive executes cmd and feeds its message back into the model until no command remains.
func drive(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	for range 10 {
		if cmd == nil {
			return
		}
		msg := cmd()
		if msg == nil {
			return
		}
		if _, ok := msg.(Msg); !ok {
			return
		}
		_, cmd = m.Update(msg)
	}
	t.Fatal("command chain did not settle")
}

func press(t *testing.T, m *Model, keys ...string) {
	t.Helper()
	for _, k := range keys {
		_, cmd := m.Update(keyPress(k))
		drive(t, m, cmd)
	}
}

func newReviewModel(t *testing.T, reviewer *fakeReviewer) *Model {
	t.Helper()
	m := NewModel(context.Background(), reviewer, reviewer, &fakeRefresher{reviewer: reviewer}, "run-1")
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	drive(t, m, m.Init())
	if m.view != ReviewView {
		t.Fatalf("view = %v, want ReviewView", m.view)
	}
	return m
}

func TestReviewFlow(t *testing.T) {
	t.Run("Opens run directly", func(t *testing.T) {
		m := newReviewModel(t, newFakeReviewer())
		if got := len(m.changeList.Items()); got != 4 {
			t.Errorf("change list has %d items, want 4", got)
		}
		if !strings.Contains(m.View(), "2 pending") {
			t.Errorf("review view should show pending approvals, got:\n%s", m.View())
		}
	})

	t.Run("Removals cannot be toggled", func(t *testing.T) {
		reviewer := newFakeReviewer()
		m := newReviewModel(t, reviewer)
		press(t, m, " ")
		if !m.statusErr || !strings.Contains(m.status, "removals") {
			t.Errorf("status = %q, want removal error", m.status)
		}
		if len(reviewer.approvals) != 0 {
			t.Errorf("no approvals expected, got %v", reviewer.approvals)
		}
	})

	t.Run("Toggle approval", func(t *testing.T) {
		reviewer := newFakeReviewer()
		m := newReviewModel(t, reviewer)
		m.changeList.Select(2)
		press(t, m, " ")

		if !slices.Equal(reviewer.approvals, []string{"add0=true"}) {
			t.Fatalf("approvals = %v", reviewer.approvals)
		}
		if !m.detail.Changes[2].Approved {
			t.Error("reloaded detail should show the approval")
		}
		if m.changeList.Index() != 2 {
			t.Errorf("cursor = %d, want it kept at 2", m.changeList.Index())
		}

		press(t, m, " ")
		if m.detail.Changes[2].Approved {
			t.Error("second toggle should reject")
		}
	})

	t.Run("Commit requires approvals", func(t *testing.T) {
		m := newReviewModel(t, newFakeReviewer())
		press(t, m, "c")
		if m.view != ReviewView || !strings.Contains(m.status, "still need approval") {
			t.Errorf("view = %v status = %q", m.view, m.status)
		}
	})

	t.Run("Approve all and commit", func(t *testing.T) {
		m := newReviewModel(t, newFakeReviewer())
		press(t, m, "a")
		if m.status != "approved 2 changes" {
			t.Errorf("status = %q", m.status)
		}

		press(t, m, "c")
		if m.view != ConfirmView || !strings.Contains(m.View(), "Commit run #1") {
			t.Fatalf("expected commit confirmation, got:\n%s", m.View())
		}
		press(t, m, "y")
		if m.view != ResultView {
			t.Fatalf("view = %v, want ResultView", m.view)
		}
		if !strings.Contains(m.View(), "Run Committed") {
			t.Errorf("result view missing success, got:\n%s", m.View())
		}

		press(t, m, "r")
		if m.view != ReviewView || m.detail.Run.Status != models.RunCommitted {
			t.Errorf("expected committed run in review, got view %v status %s", m.view, m.detail.Run.Status)
		}
		press(t, m, "x")
		if m.view != ReviewView || !strings.Contains(m.status, "committed") {
			t.Errorf("committed run should refuse cancel, status = %q", m.status)
		}
	})

	t.Run("Commit failure", func(t *testing.T) {
		reviewer := newFakeReviewer()
		reviewer.commitErr = fmt.Errorf("%w: spotify 502", shared.ErrExternalSync)
		m := newReviewModel(t, reviewer)
		press(t, m, "a", "c", "y")
		if !strings.Contains(m.View(), "Commit failed") || !strings.Contains(m.View(), "still in preview") {
			t.Errorf("unexpected result view:\n%s", m.View())
		}
	})

	t.Run("Cancel with confirmation", func(t *testing.T) {
		m := newReviewModel(t, newFakeReviewer())
		press(t, m, "x", "n")
		if m.view != ReviewView || m.detail.Run.Status != models.RunPreview {
			t.Fatalf("declining should return to review, view %v", m.view)
		}
		press(t, m, "x", "y")
		if m.detail.Run.Status != models.RunCancelled || m.status != "run cancelled" {
			t.Errorf("status = %s, message %q", m.detail.Run.Status, m.status)
		}
	})
}

func TestBrowseAndPreview(t *testing.T) {
	reviewer := newFakeReviewer()
	m := NewModel(context.Background(), reviewer, reviewer, &fakeRefresher{reviewer: reviewer}, "")
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	drive(t, m, m.Init())

	if m.view != PlaylistListView || len(m.playlistList.Items()) != 1 {
		t.Fatalf("expected playlist list with one item, view %v", m.view)
	}

	press(t, m, "enter")
	if m.view != RunListView || len(m.runList.Items()) != 1 {
		t.Fatalf("expected run list, view %v", m.view)
	}

	press(t, m, "p")
	if m.view != ReviewView {
		t.Fatalf("view = %v, want ReviewView after preview", m.view)
	}
	if m.detail.Run.ID != "run-2" || m.status != "run #2 created" {
		t.Errorf("opened %s with status %q", m.detail.Run.ID, m.status)
	}

	press(t, m, "esc")
	if m.view != RunListView || len(m.runList.Items()) != 2 {
		t.Errorf("esc should return to a refreshed run list, view %v", m.view)
	}
}

func TestLoadError(t *testing.T) {
	reviewer := newFakeReviewer()
	m := NewModel(context.Background(), reviewer, reviewer, nil, "missing")
	drive(t, m, m.Init())

	if !errors.Is(m.err, shared.ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", m.err)
	}
	if !strings.Contains(m.View(), "Error:") {
		t.Errorf("expected error view, got:\n%s", m.View())
	}

	_, cmd := m.Update(keyPress("enter"))
	if cmd != nil {
		t.Error("keys other than quit should be ignored while an error is shown")
	}
}
