package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/shared"
)

// ValidateAll runs every configured validator and returns the union of their violations.
//
// active should hold the tracks that remain in the playlist once the candidates are placed,
// i.e. current active tracks without the block being retired.
func ValidateAll(candidates, active []models.Candidate, history []models.HistoryEntry, rules models.RuleSet, now time.Time) []models.Violation {
	var violations []models.Violation
	violations = append(violations, ValidateArtistLimit(candidates, active, rules)...)
	violations = append(violations, ValidateDecade(candidates, rules)...)
	violations = append(violations, ValidateYear(candidates, rules)...)
	violations = append(violations, ValidateLanguage(candidates, rules)...)
	violations = append(violations, ValidateGenre(candidates, rules)...)
	violations = append(violations, ValidateHistory(candidates, history, rules, now)...)
	return violations
}

// ValidateArtistLimit reports one violation per artist whose count across active tracks and
// candidates exceeds the per-artist cap. Artist names compare case-insensitively.
func ValidateArtistLimit(candidates, active []models.Candidate, rules models.RuleSet) []models.Violation {
	limit := rules.MaxTracksPerArtist
	if limit <= 0 {
		limit = models.DefaultMaxTracksPerArtist
	}

	counts := make(map[string]int)
	for _, t := range active {
		counts[shared.NormalizeArtist(t.Artist)]++
	}

	var order []string
	display := make(map[string]string)
	for _, c := range candidates {
		key := shared.NormalizeArtist(c.Artist)
		if _, seen := display[key]; !seen {
			display[key] = c.Artist
			order = append(order, key)
		}
		counts[key]++
	}

	var violations []models.Violation
	for _, key := range order {
		if n := counts[key]; n > limit {
			violations = append(violations, models.Violation{
				Rule:    models.RuleArtistLimit,
				Message: fmt.Sprintf("artist %q would appear %d times (max %d)", display[key], n, limit),
			})
		}
	}
	return violations
}

// blockSize is the size distributions must sum to: the rule's block size, or the candidate count when unset.
func blockSize(candidates []models.Candidate, rules models.RuleSet) int {
	if rules.BlockSize > 0 {
		return rules.BlockSize
	}
	return len(candidates)
}

// ValidateDecade compares per-decade counts with the required distribution.
// Over- and under-counts are both violations, one per bucket.
func ValidateDecade(candidates []models.Candidate, rules models.RuleSet) []models.Violation {
	dist := rules.Policies.DecadeDistribution
	if len(dist) == 0 {
		return nil
	}

	var violations []models.Violation
	if size := blockSize(candidates, rules); dist.Total() != size {
		violations = append(violations, models.Violation{
			Rule:    models.RuleDecade,
			Message: fmt.Sprintf("decade distribution sums to %d but block size is %d", dist.Total(), size),
		})
	}

	counts := make(map[int]int)
	for _, c := range candidates {
		if c.Attributes.Decade != nil {
			counts[*c.Attributes.Decade]++
		}
	}

	for _, key := range dist.Keys() {
		decade, ok := models.ParseDecadeKey(key)
		if !ok {
			violations = append(violations, models.Violation{
				Rule:    models.RuleDecade,
				Message: fmt.Sprintf("invalid decade key %q", key),
			})
			continue
		}
		if want, got := dist[key], counts[decade]; got != want {
			violations = append(violations, models.Violation{
				Rule:    models.RuleDecade,
				Message: fmt.Sprintf("expected %d from %s, got %d", want, models.DecadeKey(decade), got),
			})
		}
	}
	return violations
}

// ValidateYear checks the pre/post cutoff split. Candidates beyond the pre and post targets,
// and candidates without a year, fill the wildcard bucket.
func ValidateYear(candidates []models.Candidate, rules models.RuleSet) []models.Violation {
	dist := rules.Policies.YearDistribution
	if dist == nil {
		return nil
	}

	var violations []models.Violation
	if size := blockSize(candidates, rules); dist.Total() != size {
		violations = append(violations, models.Violation{
			Rule:    models.RuleYear,
			Message: fmt.Sprintf("year distribution sums to %d but block size is %d", dist.Total(), size),
		})
	}

	cutoff := dist.CutoffYear()
	pre, post, unknown := 0, 0, 0
	for _, c := range candidates {
		switch {
		case c.Attributes.Year == nil:
			unknown++
		case *c.Attributes.Year < cutoff:
			pre++
		default:
			post++
		}
	}

	if pre < dist.PreCutoff {
		violations = append(violations, models.Violation{
			Rule:    models.RuleYear,
			Message: fmt.Sprintf("expected %d tracks before %d, got %d", dist.PreCutoff, cutoff, pre),
		})
	}
	if post < dist.PostCutoff {
		violations = append(violations, models.Violation{
			Rule:    models.RuleYear,
			Message: fmt.Sprintf("expected %d tracks from %d onwards, got %d", dist.PostCutoff, cutoff, post),
		})
	}

	remainder := max(pre-dist.PreCutoff, 0) + max(post-dist.PostCutoff, 0) + unknown
	switch {
	case dist.Wildcard > 0 && remainder < dist.Wildcard:
		violations = append(violations, models.Violation{
			Rule:    models.RuleYear,
			Message: fmt.Sprintf("expected %d wildcard tracks, got %d", dist.Wildcard, remainder),
		})
	case remainder > dist.Wildcard:
		violations = append(violations, models.Violation{
			Rule:    models.RuleYear,
			Message: fmt.Sprintf("%d tracks exceed the year targets with %d wildcard slots", remainder, dist.Wildcard),
		})
	}
	return violations
}

// ValidateLanguage enforces required, forbidden, and capped languages.
func ValidateLanguage(candidates []models.Candidate, rules models.RuleSet) []models.Violation {
	lp := rules.Policies.Language
	if lp == nil {
		return nil
	}

	var violations []models.Violation
	if lp.Required != "" && lp.Forbids(lp.Required) {
		violations = append(violations, models.Violation{
			Rule:    models.RuleLanguage,
			Message: fmt.Sprintf("contradictory language rules: %s is both required and forbidden", lp.Required),
		})
	}

	for _, c := range candidates {
		lang := c.Attributes.Language
		if lp.Required != "" && lang != lp.Required {
			violations = append(violations, models.Violation{
				Rule:    models.RuleLanguage,
				Message: fmt.Sprintf("%s is %s, %s required", c, languageName(lang), lp.Required),
				TrackID: c.TrackID,
			})
		}
		if lp.Forbids(lang) {
			violations = append(violations, models.Violation{
				Rule:    models.RuleLanguage,
				Message: fmt.Sprintf("%s is in forbidden language %s", c, lang),
				TrackID: c.TrackID,
			})
		}
	}

	if lp.MaxPerBlock != nil {
		capped := lp.CappedLanguage()
		n := 0
		for _, c := range candidates {
			if c.Attributes.Language == capped {
				n++
			}
		}
		if n > *lp.MaxPerBlock {
			violations = append(violations, models.Violation{
				Rule:    models.RuleLanguage,
				Message: fmt.Sprintf("%d %s tracks in block (max %d)", n, capped, *lp.MaxPerBlock),
			})
		}
	}
	return violations
}

func languageName(l models.Language) string {
	if l == "" {
		return "unclassified"
	}
	return string(l)
}

// ValidateGenre requires every candidate to carry at least one required tag and none of the forbidden ones.
func ValidateGenre(candidates []models.Candidate, rules models.RuleSet) []models.Violation {
	gp := rules.Policies.Genre
	if gp == nil {
		return nil
	}

	var violations []models.Violation
	for _, c := range candidates {
		if len(gp.Required) > 0 && !hasAny(c.Attributes, gp.Required) {
			violations = append(violations, models.Violation{
				Rule:    models.RuleGenre,
				Message: fmt.Sprintf("%s has none of the required genres %s", c, joinGenres(gp.Required)),
				TrackID: c.TrackID,
			})
		}
		for _, g := range gp.Forbidden {
			if c.Attributes.HasGenre(g) {
				violations = append(violations, models.Violation{
					Rule:    models.RuleGenre,
					Message: fmt.Sprintf("%s carries forbidden genre %s", c, g),
					TrackID: c.TrackID,
				})
				break
			}
		}
	}
	return violations
}

func hasAny(a models.Attributes, genres []models.Genre) bool {
	for _, g := range genres {
		if a.HasGenre(g) {
			return true
		}
	}
	return false
}

func joinGenres(genres []models.Genre) string {
	return strings.ReplaceAll(models.JoinGenres(genres), ",", ", ")
}

// ValidateHistory rejects candidates that were placed before when repeats are never allowed,
// or that were removed within the history window.
func ValidateHistory(candidates []models.Candidate, history []models.HistoryEntry, rules models.RuleSet, now time.Time) []models.Violation {
	window := rules.Policies.HistoryWindowMonths
	if !rules.NoRepeatEver && window == nil {
		return nil
	}

	byTrack := make(map[string]models.HistoryEntry, len(history))
	for _, h := range history {
		byTrack[h.TrackID] = h
	}

	var since time.Time
	if window != nil {
		since = now.AddDate(0, -*window, 0)
	}

	var violations []models.Violation
	for _, c := range candidates {
		h, ok := byTrack[c.TrackID]
		if !ok {
			continue
		}
		switch {
		case rules.NoRepeatEver:
			violations = append(violations, models.Violation{
				Rule:    models.RuleHistory,
				Message: fmt.Sprintf("%s was already played (no repeats allowed)", c),
				TrackID: c.TrackID,
			})
		case window != nil && h.LastRemovedAt != nil && h.LastRemovedAt.After(since):
			violations = append(violations, models.Violation{
				Rule: models.RuleHistory,
				Message: fmt.Sprintf("%s was removed %s, within %d months",
					c, h.LastRemovedAt.Format(time.DateOnly), *window),
				TrackID: c.TrackID,
			})
		}
	}
	return violations
}
