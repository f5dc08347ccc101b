package enrich

import (
	"context"
	"regexp"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/services"
)

var leadingYear = regexp.MustCompile(`^\s*(\d{4})`)

// ParseYear extracts the year from a release date of the form "YYYY", "YYYY-MM", or "YYYY-MM-DD".
// It returns nil for anything without a leading four-digit year.
func ParseYear(releaseDate string) *int {
	m := leadingYear.FindStringSubmatch(releaseDate)
	if m == nil {
		return nil
	}
	y, err := strconv.Atoi(m[1])
	if err != nil || y == 0 {
		return nil
	}
	return &y
}

// DecadeOf floors a year to its decade.
func DecadeOf(year *int) *int {
	if year == nil {
		return nil
	}
	d := *year - *year%10
	return &d
}

// Enricher turns provider tracks into [models.Attributes].
type Enricher struct {
	source     services.TrackSource
	classifier Classifier
	logger     *log.Logger
}

// New creates an Enricher. A nil classifier uses [NewHeuristic] with Dutch as target.
func New(source services.TrackSource, classifier Classifier, logger *log.Logger) *Enricher {
	if classifier == nil {
		classifier = NewHeuristic(models.LanguageDutch)
	}
	return &Enricher{source: source, classifier: classifier, logger: logger}
}

// Attributes derives attributes from a track's own fields without contacting the provider.
func (e *Enricher) Attributes(homeMarket string, t services.Track) models.Attributes {
	year := ParseYear(t.ReleaseDate)
	return models.Attributes{
		Year:   year,
		Decade: DecadeOf(year),
		Language: e.classifier.Language(LanguageInput{
			Title:      t.Title,
			Artist:     t.Artist,
			Markets:    t.Markets,
			HomeMarket: homeMarket,
		}),
		Genres: e.classifier.Genres(t.Genres),
	}
}

// EnrichBatch returns one [models.Attributes] per track, in input order.
//
// Metadata is fetched in chunks of the source's batch size. A failed chunk is logged and its
// tracks fall back to the fields already on the track; only context cancellation is an error.
func (e *Enricher) EnrichBatch(ctx context.Context, homeMarket string, tracks []services.Track) ([]models.Attributes, error) {
	out := make([]models.Attributes, len(tracks))

	size := 50
	if e.source != nil && e.source.BatchSize() > 0 {
		size = e.source.BatchSize()
	}

	for start := 0; start < len(tracks); start += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+size, len(tracks))
		chunk := tracks[start:end]
		meta := e.fetch(ctx, chunk)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i, t := range chunk {
			if m, ok := meta[t.ID]; ok {
				t = merge(t, m)
			}
			out[start+i] = e.Attributes(homeMarket, t)
		}
	}
	return out, nil
}

func (e *Enricher) fetch(ctx context.Context, chunk []services.Track) map[string]services.Metadata {
	if e.source == nil {
		return nil
	}

	ids := make([]string, 0, len(chunk))
	for _, t := range chunk {
		if t.ID != "" {
			ids = append(ids, t.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	metadata, err := e.source.TrackMetadata(ctx, ids)
	if err != nil {
		if e.logger != nil && ctx.Err() == nil {
			e.logger.Warn("metadata lookup failed, using track fields", "tracks", len(ids), "error", err)
		}
		return nil
	}

	byID := make(map[string]services.Metadata, len(metadata))
	for _, m := range metadata {
		byID[m.TrackID] = m
	}
	return byID
}

// merge prefers provider metadata over the track's own fields when present.
func merge(t services.Track, m services.Metadata) services.Track {
	if m.ReleaseDate != "" {
		t.ReleaseDate = m.ReleaseDate
	}
	if len(m.Markets) > 0 {
		t.Markets = m.Markets
	}
	if len(m.Genres) > 0 {
		t.Genres = m.Genres
	}
	return t
}
