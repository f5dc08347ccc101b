package tasks

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/repositories"
	"github.com/desertthunder/wissel/internal/shared"
	"github.com/teambition/rrule-go"
	"golang.org/x/sync/errgroup"
)

// DefaultTickInterval is how often the scheduler checks for due playlists.
const DefaultTickInterval = time.Minute

// ParseSchedule parses an RRULE string ("FREQ=WEEKLY;BYDAY=MO;BYHOUR=8") anchored at dtstart.
func ParseSchedule(schedule string, dtstart time.Time) (*rrule.RRule, error) {
	rr, err := rrule.StrToRRule(strings.TrimPrefix(strings.TrimSpace(schedule), "RRULE:"))
	if err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %v", shared.ErrInvalidInput, schedule, err)
	}
	rr.DTStart(dtstart.UTC().Truncate(time.Second))
	return rr, nil
}

// NextOccurrence returns the first occurrence of schedule strictly after after, or the zero time.
func NextOccurrence(schedule string, dtstart, after time.Time) (time.Time, error) {
	rr, err := ParseSchedule(schedule, dtstart)
	if err != nil {
		return time.Time{}, err
	}
	return rr.After(after, false), nil
}

// Scheduler fires refreshes at each playlist's schedule occurrences.
type Scheduler struct {
	refresher   Refresher
	store       *repositories.Store
	interval    time.Duration
	concurrency int
	now         func() time.Time
	logger      *log.Logger
}

// NewScheduler creates a Scheduler that checks for due playlists every interval.
func NewScheduler(refresher Refresher, store *repositories.Store, interval time.Duration, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Scheduler{
		refresher:   refresher,
		store:       store,
		interval:    interval,
		concurrency: 2,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      shared.WithLogger(logger, "component", "scheduler"),
	}
}

// Due returns active playlists with a schedule occurrence in (since, until].
// Playlists with an invalid schedule are logged and skipped.
func (s *Scheduler) Due(ctx context.Context, since, until time.Time) ([]*models.Playlist, error) {
	playlists, err := s.store.Playlists.List(ctx)
	if err != nil {
		return nil, err
	}

	var due []*models.Playlist
	for _, p := range playlists {
		if !p.Active || p.Schedule == "" {
			continue
		}
		rr, err := ParseSchedule(p.Schedule, p.CreatedAt)
		if err != nil {
			s.logger.Warn("skipping playlist with invalid schedule", "playlist", p.Key, "error", err)
			continue
		}
		if next := rr.After(since, false); !next.IsZero() && !next.After(until) {
			due = append(due, p)
		}
	}
	return due, nil
}

// Run checks for due playlists every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last := s.now()
	s.logger.Info("scheduler started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			now := s.now()
			s.tick(ctx, last, now)
			last = now
		}
	}
}

// tick refreshes every playlist due in (since, until]. Failures are logged, not returned.
func (s *Scheduler) tick(ctx context.Context, since, until time.Time) {
	due, err := s.Due(ctx, since, until)
	if err != nil {
		s.logger.Error("failed to list due playlists", "error", err)
		return
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, p := range due {
		g.Go(func() error {
			logger := shared.WithLogger(s.logger, "playlist", p.Key)
			logger.Info("scheduled refresh", "auto_commit", p.AutoCommit)

			summary, err := s.refresher.ExecuteRefresh(ctx, p.Key, p.AutoCommit, nil)
			if err != nil {
				logger.Warn("scheduled refresh failed", "error", err)
				return nil
			}
			logger.Info("scheduled refresh finished", "run", summary.Sequence, "status", summary.Status)
			return nil
		})
	}
	_ = g.Wait()
}
