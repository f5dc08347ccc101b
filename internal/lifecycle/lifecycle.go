package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wissel/internal/locks"
	"github.com/desertthunder/wissel/internal/metrics"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/repositories"
	"github.com/desertthunder/wissel/internal/selector"
	"github.com/desertthunder/wissel/internal/services"
	"github.com/desertthunder/wissel/internal/shared"
)

// Options tunes a [Manager].
type Options struct {
	// CommitLease is how long a commit claim is honored before another commit may take it over.
	// Zero never takes over a claim.
	CommitLease time.Duration
	Now         func() time.Time
}

// Manager owns the preview, approve, commit, and cancel transitions of runs.
type Manager struct {
	store    *repositories.Store
	source   services.TrackSource
	selector *selector.Selector
	locker   locks.Locker
	opts     Options
	logger   *log.Logger

	mu        sync.Mutex
	selecting map[string]struct{}
}

// New creates a Manager. A nil locker serializes in process.
func New(store *repositories.Store, source services.TrackSource, sel *selector.Selector, locker locks.Locker, opts Options, logger *log.Logger) *Manager {
	if locker == nil {
		locker = locks.NewMemory()
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		store:    store,
		source:   source,
		selector: sel,
		locker:   locker,
		opts:      opts,
		logger:    shared.WithLogger(logger, "component", "lifecycle"),
		selecting: make(map[string]struct{}),
	}
}

// RunDetail is a run with its playlist and changes.
type RunDetail struct {
	Run      *models.Run
	Playlist *models.Playlist
	Changes  []models.RunChange
}

func (m *Manager) now() time.Time {
	return m.opts.Now().UTC()
}

// beginSelection marks the playlist as selecting. A second selection for the same playlist fails
// with [shared.ErrRefreshInProgress] until the returned func is called.
func (m *Manager) beginSelection(playlistKey string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.selecting[playlistKey]; busy {
		return nil, fmt.Errorf("%w: candidates for %s are already being selected", shared.ErrRefreshInProgress, playlistKey)
	}
	m.selecting[playlistKey] = struct{}{}
	return func() {
		m.mu.Lock()
		delete(m.selecting, playlistKey)
		m.mu.Unlock()
	}, nil
}

// CreatePreview selects replacements for the playlist's oldest active block and stores them as a
// run in preview. Only one selection per playlist runs at a time. Selection itself runs unlocked;
// the playlist lock is held only while the run is written.
//
// When the active blocks change while candidates are selected, nothing is written and
// [shared.ErrRefreshInProgress] is returned so the caller can retry against the new blocks.
func (m *Manager) CreatePreview(ctx context.Context, playlistKey string) (*RunDetail, error) {
	playlist, err := m.store.Playlists.GetByKey(ctx, playlistKey)
	if err != nil {
		return nil, err
	}
	done, err := m.beginSelection(playlist.Key)
	if err != nil {
		return nil, err
	}
	defer done()

	rules, err := m.store.Playlists.Rules(ctx, playlist.ID)
	if err != nil {
		return nil, err
	}
	active, err := m.activeBlocks(ctx, playlist)
	if err != nil {
		return nil, err
	}
	history, err := m.store.History.List(ctx, playlist.ID)
	if err != nil {
		return nil, err
	}

	logger := shared.WithLogger(m.logger, "playlist", playlist.Key)

	sel, err := m.selector.Select(ctx, selector.Request{
		Playlist: *playlist,
		Rules:    rules,
		Active:   active,
		History:  history,
	})
	if err != nil {
		return nil, fmt.Errorf("candidate selection failed: %w", err)
	}
	if len(sel.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no usable candidates for %s", shared.ErrNoChanges, playlist.Key)
	}

	unlock, err := m.locker.Lock(ctx, locks.PlaylistKey(playlist.Key))
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := m.activeBlocks(ctx, playlist)
	if err != nil {
		return nil, err
	}
	if !sameBlocks(active, current) {
		logger.Info("active blocks changed during selection, discarding candidates")
		return nil, fmt.Errorf("%w: active blocks of %s changed during selection, retry the refresh",
			shared.ErrRefreshInProgress, playlist.Key)
	}

	maxIndex, err := m.store.Blocks.MaxIndex(ctx, playlist.ID)
	if err != nil {
		return nil, err
	}

	retire := sel.RetireBlock
	run := &models.Run{
		PlaylistID:     playlist.ID,
		Status:         models.RunPreview,
		RetireBlockID:  retire.ID,
		NewBlockIndex:  maxIndex + 1,
		Degraded:       sel.Degraded,
		Warnings:       sel.Violations,
		SearchAttempts: sel.Attempts,
		ScheduledAt:    m.now(),
	}
	changes := buildChanges(retire, run.NewBlockIndex, sel.Candidates)

	err = m.store.InTx(ctx, func(tx *repositories.Store) error {
		if err := tx.Runs.Create(ctx, run); err != nil {
			return err
		}
		return tx.Changes.CreateBatch(ctx, run.ID, changes)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store preview: %w", err)
	}

	metrics.RunsCreated.WithLabelValues(playlist.Key, metrics.Bool(run.Degraded)).Inc()
	metrics.SearchAttempts.Observe(float64(run.SearchAttempts))
	for _, v := range run.Warnings {
		metrics.Violations.WithLabelValues(string(v.Rule)).Inc()
	}

	logger.Info("preview created",
		"run", run.Sequence, "retire_block", retire.Index, "new_block", run.NewBlockIndex,
		"adds", len(sel.Candidates), "warnings", len(run.Warnings), "degraded", run.Degraded)

	return &RunDetail{Run: run, Playlist: playlist, Changes: changes}, nil
}

func (m *Manager) activeBlocks(ctx context.Context, playlist *models.Playlist) ([]models.Block, error) {
	active, err := m.store.Blocks.Active(ctx, playlist.ID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("%w: playlist %s has no active blocks, bootstrap it first", shared.ErrBlockNotFound, playlist.Key)
	}
	return active, nil
}

func sameBlocks(a, b []models.Block) bool {
	ids := func(blocks []models.Block) []string {
		out := make([]string, len(blocks))
		for i, blk := range blocks {
			out[i] = blk.ID
		}
		slices.Sort(out)
		return out
	}
	return slices.Equal(ids(a), ids(b))
}

// buildChanges pairs a pre-approved removal per retired track with a pending addition per candidate.
func buildChanges(retire *models.Block, newIndex int, candidates []models.Candidate) []models.RunChange {
	changes := make([]models.RunChange, 0, len(retire.Tracks)+len(candidates))
	reason := fmt.Sprintf("Removing oldest block (index %d)", retire.Index)
	for _, t := range retire.Tracks {
		changes = append(changes, models.RunChange{
			Type:       models.ChangeRemove,
			TrackID:    t.TrackID,
			Artist:     t.Artist,
			Title:      t.Title,
			Attributes: t.Attributes,
			BlockIndex: retire.Index,
			Position:   t.Position,
			Approved:   true,
			Rationale:  reason,
		})
	}
	for i, c := range candidates {
		rationale := c.Rationale
		if rationale == "" && c.AISuggested {
			rationale = services.DefaultRationale
		}
		changes = append(changes, models.RunChange{
			Type:        models.ChangeAdd,
			TrackID:     c.TrackID,
			Artist:      c.Artist,
			Title:       c.Title,
			Attributes:  c.Attributes,
			BlockIndex:  newIndex,
			Position:    i,
			AISuggested: c.AISuggested,
			Rationale:   rationale,
		})
	}
	return changes
}

// Get returns a run with its playlist and changes.
func (m *Manager) Get(ctx context.Context, runID string) (*RunDetail, error) {
	run, err := m.store.Runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	playlist, err := m.store.Playlists.Get(ctx, run.PlaylistID)
	if err != nil {
		return nil, err
	}
	changes, err := m.store.Changes.List(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: run, Playlist: playlist, Changes: changes}, nil
}

// Changes lists a run's changes, removals first.
func (m *Manager) Changes(ctx context.Context, runID string) ([]models.RunChange, error) {
	if _, err := m.store.Runs.Get(ctx, runID); err != nil {
		return nil, err
	}
	return m.store.Changes.List(ctx, runID)
}

// ListRuns returns the most recent runs of a playlist, newest first.
func (m *Manager) ListRuns(ctx context.Context, playlistKey string, limit int) ([]*models.Run, error) {
	playlist, err := m.store.Playlists.GetByKey(ctx, playlistKey)
	if err != nil {
		return nil, err
	}
	return m.store.Runs.ListForPlaylist(ctx, playlist.ID, limit)
}

// Approve sets the approval flag of one addition. Only previewing runs accept approvals.
func (m *Manager) Approve(ctx context.Context, runID, changeID string, approved bool) error {
	ok, err := m.store.Changes.SetApproved(ctx, runID, changeID, approved)
	if err != nil {
		return err
	}
	if ok {
		m.logger.Debug("change approval set", "run", runID, "change", changeID, "approved", approved)
		return nil
	}

	run, err := m.store.Runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != models.RunPreview {
		return invalidTransition(run, "approve")
	}
	change, err := m.store.Changes.Get(ctx, runID, changeID)
	if err != nil {
		return err
	}
	if change.Type == models.ChangeRemove {
		return fmt.Errorf("%w: removals are approved implicitly", shared.ErrInvalidInput)
	}
	return fmt.Errorf("%w: change %s was not updated", shared.ErrInvalidTransition, changeID)
}

// ApproveAll approves every pending addition and returns how many changed.
func (m *Manager) ApproveAll(ctx context.Context, runID string) (int64, error) {
	run, err := m.store.Runs.Get(ctx, runID)
	if err != nil {
		return 0, err
	}
	if run.Status != models.RunPreview {
		return 0, invalidTransition(run, "approve")
	}
	return m.store.Changes.ApproveAll(ctx, runID)
}

// Cancel ends a previewing run without touching blocks or the external playlist.
//
// A run whose last commit failed may already have changed the external playlist, so it cannot be
// cancelled; retrying the commit is the only way to bring both sides back in line.
func (m *Manager) Cancel(ctx context.Context, runID string) error {
	ok, err := m.store.Runs.Cancel(ctx, runID, m.now())
	if err != nil {
		return err
	}
	run, err := m.store.Runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if !ok {
		if run.SyncFailed() {
			return fmt.Errorf("%w: run #%d failed during commit (%s) and may have changed the external playlist, retry the commit instead",
				shared.ErrInvalidTransition, run.Sequence, run.LastError)
		}
		return invalidTransition(run, "cancel")
	}

	m.finished(ctx, run)
	m.logger.Info("run cancelled", "run", run.Sequence)
	return nil
}

// Commit applies an approved run.
//
// The run is claimed first, so only one commit or cancel can win. The external playlist is updated
// next: retired tracks are removed and only additions missing from the playlist are appended, which
// makes a retry after a partial failure safe. Local state is finalized in one transaction last.
// An external failure returns the run to preview with the error recorded ([models.Run.SyncFailed]).
func (m *Manager) Commit(ctx context.Context, runID string) (*RunDetail, error) {
	run, err := m.store.Runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, invalidTransition(run, "commit")
	}

	if n, err := m.store.Changes.CountUnapproved(ctx, runID); err != nil {
		return nil, err
	} else if n > 0 {
		return nil, fmt.Errorf("%w: %d addition(s) pending", shared.ErrUnapprovedChanges, n)
	}

	changes, err := m.store.Changes.List(ctx, runID)
	if err != nil {
		return nil, err
	}
	adds, removes := models.SplitChanges(changes)
	if len(adds) == 0 || len(removes) == 0 {
		return nil, fmt.Errorf("%w: run #%d", shared.ErrNoChanges, run.Sequence)
	}

	playlist, err := m.store.Playlists.Get(ctx, run.PlaylistID)
	if err != nil {
		return nil, err
	}
	logger := shared.WithLogger(m.logger, "playlist", playlist.Key, "run", run.Sequence)

	now := m.now()
	var staleBefore time.Time
	if m.opts.CommitLease > 0 {
		staleBefore = now.Add(-m.opts.CommitLease)
	}
	claimed, err := m.store.Runs.Claim(ctx, runID, now, staleBefore)
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, err := m.store.Runs.Get(ctx, runID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.RunCommitting {
			return nil, fmt.Errorf("%w: run #%d is already being committed", shared.ErrRefreshInProgress, current.Sequence)
		}
		return nil, invalidTransition(current, "commit")
	}

	// Approvals cannot change once claimed, but one may have landed between the check and the claim.
	if n, err := m.store.Changes.CountUnapproved(ctx, runID); err != nil || n > 0 {
		m.unclaim(ctx, runID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d addition(s) pending", shared.ErrUnapprovedChanges, n)
	}

	retire, err := m.store.Blocks.Get(ctx, run.RetireBlockID)
	if err != nil || !retire.Active {
		m.unclaim(ctx, runID)
		if err != nil && !errors.Is(err, shared.ErrBlockNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: retirement block of run #%d is no longer active, cancel it and create a new preview",
			shared.ErrInvalidTransition, run.Sequence)
	}

	if err := m.sync(ctx, playlist, removes, adds, m.holdsClaim(runID, now)); err != nil {
		if errors.Is(err, shared.ErrRefreshInProgress) {
			logger.Warn("commit claim taken over by another commit, stopping", "error", err)
			return nil, err
		}
		reason := err.Error()
		if rerr := m.store.Runs.Release(context.WithoutCancel(ctx), runID, reason, m.now()); rerr != nil {
			logger.Error("failed to release run after sync failure", "error", rerr)
		}
		metrics.SyncFailures.WithLabelValues(playlist.Key).Inc()
		logger.Warn("external playlist update failed, run returned to preview", "error", err)
		return nil, fmt.Errorf("%w: %v", shared.ErrExternalSync, err)
	}

	unlock, err := m.locker.Lock(ctx, locks.PlaylistKey(playlist.Key))
	if err != nil {
		m.releaseAfterSync(ctx, runID, err, logger)
		return nil, err
	}
	defer unlock()

	if err := m.finalize(ctx, run, playlist, retire, adds, removes); err != nil {
		m.releaseAfterSync(ctx, runID, err, logger)
		return nil, err
	}

	detail, err := m.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	m.finished(ctx, detail.Run)
	logger.Info("run committed", "removed", len(removes), "added", len(adds), "new_block", run.NewBlockIndex)
	return detail, nil
}

// ApproveAndCommit approves every addition and commits, as one convenience for auto-commit.
func (m *Manager) ApproveAndCommit(ctx context.Context, runID string) (*RunDetail, error) {
	if _, err := m.ApproveAll(ctx, runID); err != nil {
		return nil, err
	}
	return m.Commit(ctx, runID)
}

// holdsClaim reports an error once the commit claim taken at claimedAt has been taken over.
func (m *Manager) holdsClaim(runID string, claimedAt time.Time) func(context.Context) error {
	return func(ctx context.Context) error {
		run, err := m.store.Runs.Get(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status != models.RunCommitting || run.ClaimedAt == nil || !run.ClaimedAt.Equal(claimedAt) {
			return fmt.Errorf("%w: run #%d commit claim was taken over", shared.ErrRefreshInProgress, run.Sequence)
		}
		return nil
	}
}

// sync removes the retired tracks and appends the missing additions. stillClaimed runs before
// the additions so a commit whose lease expired never appends alongside the commit that took over.
func (m *Manager) sync(ctx context.Context, playlist *models.Playlist, removes, adds []models.RunChange, stillClaimed func(context.Context) error) error {
	if playlist.ExternalRef == "" {
		m.logger.Debug("playlist has no external reference, skipping sync", "playlist", playlist.Key)
		return nil
	}
	if m.source == nil {
		return fmt.Errorf("%w: no track source configured", shared.ErrServiceUnavailable)
	}

	removeIDs := make([]string, len(removes))
	for i, c := range removes {
		removeIDs[i] = c.TrackID
	}
	if err := m.source.RemoveTracks(ctx, playlist.ExternalRef, removeIDs); err != nil {
		return err
	}

	current, err := m.source.PlaylistTracks(ctx, playlist.ExternalRef)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(current))
	for _, t := range current {
		present[t.ID] = true
	}

	var missing []string
	for _, c := range adds {
		if !present[c.TrackID] {
			missing = append(missing, c.TrackID)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if err := stillClaimed(ctx); err != nil {
		return err
	}
	return m.source.AddTracks(ctx, playlist.ExternalRef, missing, -1)
}

func (m *Manager) finalize(ctx context.Context, run *models.Run, playlist *models.Playlist, retire *models.Block, adds, removes []models.RunChange) error {
	now := m.now()
	return m.store.InTx(ctx, func(tx *repositories.Store) error {
		ok, err := tx.Runs.Finalize(ctx, run.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: run #%d lost its commit claim", shared.ErrInvalidTransition, run.Sequence)
		}

		if err := tx.Blocks.Deactivate(ctx, retire.ID, now); err != nil {
			return err
		}

		block := &models.Block{PlaylistID: playlist.ID, Index: run.NewBlockIndex, CreatedAt: now}
		for _, c := range adds {
			block.Tracks = append(block.Tracks, models.BlockTrack{
				TrackID:    c.TrackID,
				Artist:     c.Artist,
				Title:      c.Title,
				Attributes: c.Attributes,
				Position:   c.Position,
				Reason:     c.Rationale,
				AddedAt:    now,
			})
		}
		if err := tx.Blocks.Create(ctx, block); err != nil {
			return err
		}

		for _, c := range removes {
			if err := tx.History.RecordRemoved(ctx, playlist.ID, c.TrackID, c.Artist, c.Title, now); err != nil {
				return err
			}
		}
		for _, c := range adds {
			if err := tx.History.RecordAdded(ctx, playlist.ID, c.TrackID, c.Artist, c.Title, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// unclaim returns a run claimed by this commit to preview without recording a failure.
func (m *Manager) unclaim(ctx context.Context, runID string) {
	if _, err := m.store.Runs.Transition(context.WithoutCancel(ctx), runID, models.RunCommitting, models.RunPreview, m.now()); err != nil {
		m.logger.Error("failed to release commit claim", "run", runID, "error", err)
	}
}

// releaseAfterSync records a local failure after the external playlist was already updated.
// A retry is safe because the sync step is idempotent.
func (m *Manager) releaseAfterSync(ctx context.Context, runID string, cause error, logger *log.Logger) {
	logger.Error("local commit failed after external update", "error", cause)
	if err := m.store.Runs.Release(context.WithoutCancel(ctx), runID, cause.Error(), m.now()); err != nil {
		logger.Error("failed to release run", "error", err)
	}
}

func (m *Manager) finished(ctx context.Context, run *models.Run) {
	playlist, err := m.store.Playlists.Get(ctx, run.PlaylistID)
	key := run.PlaylistID
	if err == nil {
		key = playlist.Key
	}
	metrics.RunsFinished.WithLabelValues(key, string(run.Status)).Inc()
}

func invalidTransition(run *models.Run, action string) error {
	return fmt.Errorf("%w: cannot %s run #%d in status %s", shared.ErrInvalidTransition, action, run.Sequence, run.Status)
}
