package policy

import (
	"fmt"
	"strings"

	"github.com/desertthunder/wissel/internal/models"
)

// MaxSummaryArtists caps the artist exclusion list included in a rule summary.
const MaxSummaryArtists = 20

var languageNames = map[models.Language]string{
	models.LanguageDutch:   "Dutch",
	models.LanguageEnglish: "English",
	models.LanguageOther:   "other-language",
}

func displayLanguage(l models.Language) string {
	if name, ok := languageNames[l]; ok {
		return name
	}
	return string(l)
}

// RenderRuleSummary renders rules as prompt text for a suggestion generator, one constraint per line.
// Current artists (at most [MaxSummaryArtists]) are appended as an exclusion hint.
func RenderRuleSummary(rules models.RuleSet, currentArtists []string) string {
	var parts []string

	if rules.MaxTracksPerArtist > 0 {
		parts = append(parts, fmt.Sprintf("Max %d track(s) per artist in the active playlist.", rules.MaxTracksPerArtist))
	}
	if rules.NoRepeatEver {
		parts = append(parts, "A track may never be repeated (no-repeat-ever).")
	}

	p := rules.Policies
	if len(p.DecadeDistribution) > 0 {
		var buckets []string
		for _, key := range p.DecadeDistribution.Keys() {
			buckets = append(buckets, fmt.Sprintf("%d from %s", p.DecadeDistribution[key], key))
		}
		parts = append(parts, "Decade distribution: "+strings.Join(buckets, ", "))
	}

	if lp := p.Language; lp != nil {
		if lp.Required != "" {
			parts = append(parts, fmt.Sprintf("Only %s language tracks", displayLanguage(lp.Required)))
		}
		for _, f := range lp.Forbidden {
			parts = append(parts, fmt.Sprintf("NO %s language tracks allowed", displayLanguage(f)))
		}
		if lp.MaxPerBlock != nil && !lp.Forbids(lp.CappedLanguage()) {
			parts = append(parts, fmt.Sprintf("Maximum %d %s language track(s) per block", *lp.MaxPerBlock, displayLanguage(lp.CappedLanguage())))
		}
	}

	if yd := p.YearDistribution; yd != nil {
		cutoff := yd.CutoffYear()
		buckets := []string{
			fmt.Sprintf("%d from before %d", yd.PreCutoff, cutoff),
			fmt.Sprintf("%d from %d or later", yd.PostCutoff, cutoff),
		}
		if yd.Wildcard > 0 {
			buckets = append(buckets, fmt.Sprintf("%d from any year", yd.Wildcard))
		}
		parts = append(parts, "Year distribution: "+strings.Join(buckets, ", "))
	}

	if w := p.HistoryWindowMonths; w != nil && *w > 0 {
		parts = append(parts, fmt.Sprintf("Tracks cannot repeat within %d months", *w))
	}

	if gp := p.Genre; gp != nil {
		if len(gp.Required) > 0 {
			parts = append(parts, "Required genres: "+joinGenres(gp.Required))
		}
		if len(gp.Forbidden) > 0 {
			parts = append(parts, "Forbidden genres: "+joinGenres(gp.Forbidden))
		}
	}

	summary := "No specific rules"
	if len(parts) > 0 {
		summary = strings.Join(parts, "\n")
	}

	if len(currentArtists) > 0 {
		artists := currentArtists
		if len(artists) > MaxSummaryArtists {
			artists = artists[:MaxSummaryArtists]
		}
		summary += "\nAvoid these artists already in the playlist: " + strings.Join(artists, ", ")
	}
	return summary
}
