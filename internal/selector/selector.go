package selector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wissel/internal/enrich"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/policy"
	"github.com/desertthunder/wissel/internal/services"
	"github.com/desertthunder/wissel/internal/shared"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultOversupplyFactor = 3
	DefaultConcurrency      = 4
	DefaultHomeMarket       = "NL"
)

// Options tunes a [Selector]. Zero values take the defaults.
type Options struct {
	OversupplyFactor int
	SearchBudget     int
	SuggestTimeout   time.Duration // bounds suggestion and resolution; 0 waits on ctx only
	Concurrency      int           // parallel Resolve calls
	HomeMarket       string        // used when the playlist has none
	Now              func() time.Time
}

func (o Options) withDefaults() Options {
	if o.OversupplyFactor <= 0 {
		o.OversupplyFactor = DefaultOversupplyFactor
	}
	if o.SearchBudget <= 0 {
		o.SearchBudget = DefaultSearchBudget
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.HomeMarket == "" {
		o.HomeMarket = DefaultHomeMarket
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Request is everything the selector needs about one playlist.
type Request struct {
	Playlist models.Playlist
	Rules    models.RuleSet
	Active   []models.Block // active blocks with their tracks
	History  []models.HistoryEntry
}

// Selection is a proposed replacement for the retirement block.
type Selection struct {
	Candidates  []models.Candidate
	Violations  []models.Violation // unresolved, reported as run warnings
	RetireBlock *models.Block      // nil when the playlist has no active block
	Degraded    bool               // candidates came from search instead of suggestions
	Attempts    int
	PoolSize    int
}

// Selector produces a block of candidates for a playlist.
type Selector struct {
	source    services.TrackSource
	generator services.SuggestionGenerator
	enricher  *enrich.Enricher
	opts      Options
	logger    *log.Logger
}

// New creates a Selector. generator may be nil, in which case every selection is degraded.
func New(source services.TrackSource, generator services.SuggestionGenerator, enricher *enrich.Enricher, opts Options, logger *log.Logger) *Selector {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if enricher == nil {
		enricher = enrich.New(source, nil, logger)
	}
	return &Selector{
		source:    source,
		generator: generator,
		enricher:  enricher,
		opts:      opts.withDefaults(),
		logger:    shared.WithLogger(logger, "component", "selector"),
	}
}

// RetirementTarget returns the least recently created block, or nil.
func RetirementTarget(active []models.Block) *models.Block {
	if len(active) == 0 {
		return nil
	}
	oldest := active[0]
	for _, b := range active[1:] {
		if b.CreatedAt.Before(oldest.CreatedAt) || (b.CreatedAt.Equal(oldest.CreatedAt) && b.Index < oldest.Index) {
			oldest = b
		}
	}
	return &oldest
}

// Remaining returns the candidates of every active block except the one with excludeID.
func Remaining(active []models.Block, excludeID string) []models.Candidate {
	var out []models.Candidate
	for _, b := range active {
		if b.ID == excludeID {
			continue
		}
		for _, t := range b.Tracks {
			out = append(out, t.Candidate())
		}
	}
	return out
}

// Select gathers, filters, and searches candidates for req.
//
// Generator failure, timeout, or an empty usable set falls back to [services.TrackSource.Search] on
// the playlist vibe. Only cancellation of ctx or a failed fallback search is returned as an error.
func (s *Selector) Select(ctx context.Context, req Request) (*Selection, error) {
	rules := req.Rules.Normalize()
	n := rules.BlockSize
	want := n * s.opts.OversupplyFactor
	logger := shared.WithLogger(s.logger, "playlist", req.Playlist.Key)

	retire := RetirementTarget(req.Active)
	retireID := ""
	if retire != nil {
		retireID = retire.ID
	}
	remaining := Remaining(req.Active, retireID)

	f := newFilter(req.Active, req.History, rules, s.opts.Now())

	pool, err := s.suggested(ctx, req, rules, remaining, want, f, logger)
	if err != nil {
		return nil, err
	}

	degraded := false
	if len(pool) == 0 {
		degraded = true
		logger.Warn("no usable suggestions, falling back to search", "vibe", req.Playlist.Vibe)
	}
	if len(pool) < n {
		extra, err := s.searched(ctx, req, want, f)
		if err != nil {
			if len(pool) == 0 {
				return nil, err
			}
			logger.Warn("supplementary search failed", "error", err)
		}
		pool = append(pool, extra...)
	}

	now := s.opts.Now()
	validate := func(block []models.Candidate) []models.Violation {
		return policy.ValidateAll(block, remaining, req.History, rules, now)
	}
	result := Search(pool, n, validate, s.opts.SearchBudget)

	logger.Debug("candidate search finished",
		"pool", len(pool), "attempts", result.Attempts, "violations", len(result.Violations))
	if !result.Valid() {
		logger.Warn("no fully valid block found, using best effort", "violations", len(result.Violations))
	}

	return &Selection{
		Candidates:  result.Candidates,
		Violations:  result.Violations,
		RetireBlock: retire,
		Degraded:    degraded,
		Attempts:    result.Attempts,
		PoolSize:    len(pool),
	}, nil
}

type resolved struct {
	track     services.Track
	rationale string
}

// suggested asks the generator for candidates and resolves them. Failures are logged and yield an empty pool.
func (s *Selector) suggested(ctx context.Context, req Request, rules models.RuleSet, remaining []models.Candidate, want int, f *filter, logger *log.Logger) ([]models.Candidate, error) {
	if s.generator == nil {
		return nil, nil
	}

	gctx := ctx
	if s.opts.SuggestTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, s.opts.SuggestTimeout)
		defer cancel()
	}

	artists := artistNames(remaining)
	suggestions, err := s.generator.Suggest(gctx, services.SuggestRequest{
		Vibe:           req.Playlist.Vibe,
		RuleSummary:    policy.RenderRuleSummary(rules, artists),
		ExcludeArtists: artists,
		Count:          want,
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil {
		logger.Warn("suggestion generator unavailable", "error", err)
		return nil, nil
	}

	tracks := s.resolveAll(gctx, suggestions, logger)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errors.Is(gctx.Err(), context.DeadlineExceeded) {
		logger.Warn("suggestion timeout reached during resolution", "resolved", len(tracks))
	}

	raw := make([]services.Track, len(tracks))
	for i, r := range tracks {
		raw[i] = r.track
	}
	attrs, err := s.enricher.EnrichBatch(ctx, s.homeMarket(req), raw)
	if err != nil {
		return nil, err
	}

	var pool []models.Candidate
	for i, r := range tracks {
		rationale := r.rationale
		if rationale == "" {
			rationale = services.DefaultRationale
		}
		c := models.Candidate{
			TrackID:     r.track.ID,
			Artist:      r.track.Artist,
			Title:       r.track.Title,
			Attributes:  attrs[i],
			Rationale:   rationale,
			AISuggested: true,
		}
		if f.admit(c, logger) {
			pool = append(pool, c)
		}
	}
	return pool, nil
}

// resolveAll resolves suggestions concurrently, preserving suggestion order and dropping misses.
func (s *Selector) resolveAll(ctx context.Context, suggestions []services.Suggestion, logger *log.Logger) []resolved {
	results := make([]*resolved, len(suggestions))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, sug := range suggestions {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			track, err := s.source.Resolve(ctx, sug.Artist, sug.Title)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("unresolvable suggestion", "artist", sug.Artist, "title", sug.Title, "error", err)
				}
				return nil
			}
			results[i] = &resolved{track: *track, rationale: sug.Rationale}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]resolved, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// searched sources candidates from the track source without AI rationale.
func (s *Selector) searched(ctx context.Context, req Request, want int, f *filter) ([]models.Candidate, error) {
	tracks, err := s.source.Search(ctx, req.Playlist.Vibe, want)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: fallback search: %v", shared.ErrServiceUnavailable, err)
	}

	attrs, err := s.enricher.EnrichBatch(ctx, s.homeMarket(req), tracks)
	if err != nil {
		return nil, err
	}

	var pool []models.Candidate
	for i, t := range tracks {
		c := models.Candidate{
			TrackID:    t.ID,
			Artist:     t.Artist,
			Title:      t.Title,
			Attributes: attrs[i],
		}
		if f.admit(c, s.logger) {
			pool = append(pool, c)
		}
	}
	return pool, nil
}

func (s *Selector) homeMarket(req Request) string {
	if req.Playlist.HomeMarket != "" {
		return req.Playlist.HomeMarket
	}
	return s.opts.HomeMarket
}

// filter drops duplicates, tracks already in the playlist, and tracks the history rules reject.
type filter struct {
	ids     map[string]bool
	keys    map[string]bool
	history []models.HistoryEntry
	rules   models.RuleSet
	now     time.Time
}

func newFilter(active []models.Block, history []models.HistoryEntry, rules models.RuleSet, now time.Time) *filter {
	f := &filter{
		ids:     make(map[string]bool),
		keys:    make(map[string]bool),
		history: history,
		rules:   rules,
		now:     now,
	}
	for _, b := range active {
		for _, t := range b.Tracks {
			f.ids[t.TrackID] = true
			f.keys[shared.NormalizeTrackKey(t.Title, t.Artist)] = true
		}
	}
	return f
}

func (f *filter) admit(c models.Candidate, logger *log.Logger) bool {
	key := shared.NormalizeTrackKey(c.Title, c.Artist)
	switch {
	case c.TrackID == "":
		return false
	case f.ids[c.TrackID] || f.keys[key]:
		logger.Debug("dropping duplicate candidate", "track", c.String())
		return false
	case len(policy.ValidateHistory([]models.Candidate{c}, f.history, f.rules, f.now)) > 0:
		logger.Debug("dropping candidate rejected by history", "track", c.String())
		return false
	}
	f.ids[c.TrackID] = true
	f.keys[key] = true
	return true
}

func artistNames(candidates []models.Candidate) []string {
	var names []string
	for _, c := range candidates {
		if c.Artist != "" && !slices.Contains(names, c.Artist) {
			names = append(names, c.Artist)
		}
	}
	return names
}

func normalizedArtist(c models.Candidate) string {
	return shared.NormalizeArtist(c.Artist)
}
