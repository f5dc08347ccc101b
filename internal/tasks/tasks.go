package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wissel/internal/enrich"
	"github.com/desertthunder/wissel/internal/lifecycle"
	"github.com/desertthunder/wissel/internal/locks"
	"github.com/desertthunder/wissel/internal/metrics"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/repositories"
	"github.com/desertthunder/wissel/internal/selector"
	"github.com/desertthunder/wissel/internal/services"
	"github.com/desertthunder/wissel/internal/shared"
	"golang.org/x/sync/singleflight"
)

// Refresher is the trigger surface the scheduler, CLI, and HTTP API call.
type Refresher interface {
	// ExecuteRefresh creates a preview for the playlist and, with autoCommit, approves and commits it.
	ExecuteRefresh(ctx context.Context, playlistKey string, autoCommit bool, progress chan<- ProgressUpdate) (*lifecycle.RunSummary, error)
}

// DefaultRefreshTimeout bounds a shared refresh once it no longer follows its first caller.
const DefaultRefreshTimeout = 15 * time.Minute

// Options tunes a [RefreshEngine].
type Options struct {
	HomeMarket string        // used by bootstrap when the playlist has none
	Timeout    time.Duration // bounds one refresh; defaults to DefaultRefreshTimeout
	Now        func() time.Time
}

// RefreshEngine executes refreshes and bootstraps playlists.
type RefreshEngine struct {
	manager  *lifecycle.Manager
	store    *repositories.Store
	source   services.TrackSource
	enricher *enrich.Enricher
	locker   locks.Locker
	opts     Options
	group    singleflight.Group
	logger   *log.Logger
}

// NewRefreshEngine creates a RefreshEngine. A nil enricher classifies with the default heuristic.
func NewRefreshEngine(manager *lifecycle.Manager, store *repositories.Store, source services.TrackSource, enricher *enrich.Enricher, locker locks.Locker, opts Options, logger *log.Logger) *RefreshEngine {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if enricher == nil {
		enricher = enrich.New(source, nil, logger)
	}
	if locker == nil {
		locker = locks.NewMemory()
	}
	if opts.HomeMarket == "" {
		opts.HomeMarket = selector.DefaultHomeMarket
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRefreshTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &RefreshEngine{
		manager:  manager,
		store:    store,
		source:   source,
		enricher: enricher,
		locker:   locker,
		opts:     opts,
		logger:   shared.WithLogger(logger, "component", "tasks"),
	}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func (e *RefreshEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// progressRelay forwards updates to a caller's channel until the caller detaches.
type progressRelay struct {
	mu sync.Mutex
	ch chan<- ProgressUpdate
}

func (p *progressRelay) send(update ProgressUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return
	}
	select {
	case p.ch <- update:
	default:
	}
}

func (p *progressRelay) detach() {
	p.mu.Lock()
	p.ch = nil
	p.mu.Unlock()
}

// ExecuteRefresh runs one refresh cycle for a playlist.
//
// Concurrent calls for the same playlist and mode share a single execution. A call in the other
// mode fails with [shared.ErrRefreshInProgress] while candidates are being selected, so two triggers
// never select against the same retirement block. Only the first caller receives progress updates.
//
// The shared execution is detached from the callers' contexts and bounded by Options.Timeout; a
// caller whose context ends stops waiting without aborting the refresh for the others.
//
// When the auto-commit step fails, the preview summary is returned alongside the error so the run
// can be reviewed and retried manually.
func (e *RefreshEngine) ExecuteRefresh(ctx context.Context, playlistKey string, autoCommit bool, progress chan<- ProgressUpdate) (*lifecycle.RunSummary, error) {
	key := playlistKey + ":" + strconv.FormatBool(autoCommit)

	relay := &progressRelay{ch: progress}
	defer relay.detach()

	ch := e.group.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.Timeout)
		defer cancel()
		return e.refresh(runCtx, playlistKey, autoCommit, relay.send)
	})

	select {
	case res := <-ch:
		if res.Shared {
			e.logger.Debug("refresh shared with another trigger", "playlist", playlistKey)
		}
		summary, _ := res.Val.(*lifecycle.RunSummary)
		return summary, res.Err
	case <-ctx.Done():
		e.logger.Warn("caller stopped waiting for refresh", "playlist", playlistKey, "error", ctx.Err())
		return nil, ctx.Err()
	}
}

func (e *RefreshEngine) refresh(ctx context.Context, playlistKey string, autoCommit bool, send func(ProgressUpdate)) (*lifecycle.RunSummary, error) {
	start := time.Now()
	outcome := "preview"
	defer func() {
		metrics.RefreshDuration.WithLabelValues(playlistKey, outcome).Observe(time.Since(start).Seconds())
	}()

	total := 1
	if autoCommit {
		total = 3
	}

	send(selectingUpdate(1, total, playlistKey))
	detail, err := e.manager.CreatePreview(ctx, playlistKey)
	if err != nil {
		outcome = "failed"
		return nil, err
	}

	summary := detail.Summary()
	send(previewCreatedUpdate(1, total, &summary))
	if !autoCommit {
		return &summary, nil
	}

	send(approvingUpdate(2, total))
	committed, err := e.manager.ApproveAndCommit(ctx, detail.Run.ID)
	if err != nil {
		outcome = "commit_failed"
		if current, gerr := e.manager.Get(context.WithoutCancel(ctx), detail.Run.ID); gerr == nil {
			summary = current.Summary()
		}
		return &summary, fmt.Errorf("auto-commit of run #%d failed: %w", detail.Run.Sequence, err)
	}

	outcome = "committed"
	summary = committed.Summary()
	send(committedUpdate(3, total, &summary))
	return &summary, nil
}

// BootstrapResult describes the blocks created from an external playlist.
type BootstrapResult struct {
	Playlist *models.Playlist
	Blocks   []models.Block
	Tracks   int
}

// Bootstrap imports the playlist's current external contents as consecutive blocks of block_size,
// keeping a trailing partial block, and records every track in history.
//
// It refuses playlists that already have active blocks.
func (e *RefreshEngine) Bootstrap(ctx context.Context, playlistKey string, progress chan<- ProgressUpdate) (*BootstrapResult, error) {
	playlist, err := e.store.Playlists.GetByKey(ctx, playlistKey)
	if err != nil {
		return nil, err
	}
	if playlist.ExternalRef == "" {
		return nil, fmt.Errorf("%w: playlist %s has no external reference", shared.ErrInvalidInput, playlist.Key)
	}
	if e.source == nil {
		return nil, fmt.Errorf("%w: no track source configured", shared.ErrServiceUnavailable)
	}

	if active, err := e.store.Blocks.Active(ctx, playlist.ID); err != nil {
		return nil, err
	} else if len(active) > 0 {
		return nil, fmt.Errorf("%w: playlist %s already has %d active block(s)", shared.ErrAlreadyExists, playlist.Key, len(active))
	}

	rules, err := e.store.Playlists.Rules(ctx, playlist.ID)
	if err != nil {
		return nil, err
	}
	rules = rules.Normalize()

	e.sendProgress(progress, fetchExternalUpdate(1, 1, playlist.ExternalRef))
	tracks, err := e.source.PlaylistTracks(ctx, playlist.ExternalRef)
	if err != nil {
		return nil, fmt.Errorf("failed to read external playlist: %w", err)
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: external playlist %s is empty", shared.ErrInvalidInput, playlist.ExternalRef)
	}

	e.sendProgress(progress, enrichUpdate(1, 1, len(tracks)))
	market := playlist.HomeMarket
	if market == "" {
		market = e.opts.HomeMarket
	}
	attrs, err := e.enricher.EnrichBatch(ctx, market, tracks)
	if err != nil {
		return nil, err
	}

	now := e.opts.Now().UTC()
	var blocks []models.Block
	for start := 0; start < len(tracks); start += rules.BlockSize {
		end := min(start+rules.BlockSize, len(tracks))
		block := models.Block{PlaylistID: playlist.ID, Index: len(blocks), CreatedAt: now}
		for i, t := range tracks[start:end] {
			block.Tracks = append(block.Tracks, models.BlockTrack{
				TrackID:    t.ID,
				Artist:     t.Artist,
				Title:      t.Title,
				Attributes: attrs[start+i],
				Position:   i,
				AddedAt:    now,
			})
		}
		blocks = append(blocks, block)
	}

	unlock, err := e.locker.Lock(ctx, locks.PlaylistKey(playlist.Key))
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = e.store.InTx(ctx, func(tx *repositories.Store) error {
		if active, err := tx.Blocks.Active(ctx, playlist.ID); err != nil {
			return err
		} else if len(active) > 0 {
			return fmt.Errorf("%w: playlist %s was bootstrapped concurrently", shared.ErrAlreadyExists, playlist.Key)
		}

		for i := range blocks {
			if err := tx.Blocks.Create(ctx, &blocks[i]); err != nil {
				return err
			}
			for _, t := range blocks[i].Tracks {
				if err := tx.History.RecordAdded(ctx, playlist.ID, t.TrackID, t.Artist, t.Title, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, shared.ErrAlreadyExists) {
			e.logger.Error("bootstrap failed", "playlist", playlist.Key, "error", err)
		}
		return nil, err
	}

	for i := range blocks {
		e.sendProgress(progress, blockCreatedUpdate(i+1, len(blocks), &blocks[i]))
	}
	e.logger.Info("playlist bootstrapped", "playlist", playlist.Key, "blocks", len(blocks), "tracks", len(tracks))

	return &BootstrapResult{Playlist: playlist, Blocks: blocks, Tracks: len(tracks)}, nil
}
