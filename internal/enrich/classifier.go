package enrich

import (
	"strings"
	"unicode"

	"github.com/desertthunder/wissel/internal/models"
	"github.com/desertthunder/wissel/internal/shared"
)

// Classifier assigns language and genre tags. Implementations are best-effort.
type Classifier interface {
	Language(in LanguageInput) models.Language
	Genres(raw []string) []models.Genre
}

// LanguageInput is everything the language heuristic may look at.
type LanguageInput struct {
	Title      string
	Artist     string
	Markets    []string
	HomeMarket string
}

// minFunctionWords is the number of distinct function words a title needs before the lexical signal fires.
const minFunctionWords = 2

var functionWords = map[models.Language][]string{
	models.LanguageDutch: {
		"de", "het", "een", "en", "van", "op", "in", "voor", "met", "dit", "dat", "als", "maar",
		"niet", "ook", "te", "aan", "door", "bij", "naar", "over", "er", "uit", "om", "nog",
		"want", "zo", "mijn", "jij", "je", "ik", "wij", "we", "zijn", "wat", "waar", "nooit", "alles",
	},
	models.LanguageEnglish: {
		"the", "a", "an", "and", "of", "to", "in", "on", "is", "it", "you", "your", "me", "my",
		"i", "we", "our", "for", "with", "be", "don't", "can't", "i'm", "love", "all", "this", "that",
	},
}

// knownArtists maps normalized artist names to their singing language.
var knownArtists = map[string]models.Language{
	"acda en de munnik":  models.LanguageDutch,
	"stef bos":           models.LanguageDutch,
	"bente":              models.LanguageDutch,
	"de dijk":            models.LanguageDutch,
	"volumia!":           models.LanguageDutch,
	"volumia":            models.LanguageDutch,
	"doe maar":           models.LanguageDutch,
	"boudewijn de groot": models.LanguageDutch,
	"marco borsato":      models.LanguageDutch,
	"blof":               models.LanguageDutch,
	"bløf":               models.LanguageDutch,
	"guus meeuwis":       models.LanguageDutch,
	"suzan & freek":      models.LanguageDutch,
	"maan":               models.LanguageDutch,
	"racoon":             models.LanguageEnglish,
	"golden earring":     models.LanguageEnglish,
	"kensington":         models.LanguageEnglish,
}

// regions lists markets that share the language of a home market.
var regions = map[string][]string{
	"NL": {"NL", "BE"},
	"BE": {"BE", "NL"},
}

// genreRules is evaluated in order; the first rule with a matching keyword claims a raw genre.
var genreRules = []struct {
	tag      models.Genre
	keywords []string
}{
	{models.GenreRegionalLanguage, []string{"nederpop", "nederlandse", "dutch", "levenslied", "kleinkunst", "nederhop"}},
	{models.GenreHipHop, []string{"hip hop", "hip-hop", "rap", "trap", "drill", "grime"}},
	{models.GenreRnB, []string{"r&b", "r-n-b", "rnb"}},
	{models.GenreSoul, []string{"soul", "motown"}},
	{models.GenreJazz, []string{"jazz", "fusion", "bebop"}},
	{models.GenreFolk, []string{"folk", "singer-songwriter", "americana"}},
	{models.GenreIndie, []string{"indie"}},
	{models.GenrePop, []string{"pop"}},
	{models.GenreRock, []string{"rock", "grunge", "punk"}},
	{models.GenreElectronic, []string{"electro", "house", "techno", "edm", "trance", "dubstep", "drum and bass"}},
}

// Heuristic is the default [Classifier].
//
// Language signals, first confident one wins:
//  1. Available markets all inside the home region: the target language.
//     A non-empty market list without the home market rules the target language out.
//  2. At least two distinct function words of a language in the title.
//  3. The artist appears in the known-artist table.
//
// Anything else is [models.LanguageOther].
type Heuristic struct {
	target models.Language
}

// NewHeuristic builds a heuristic classifier for the given target language (nl when empty).
func NewHeuristic(target models.Language) *Heuristic {
	if target == "" {
		target = models.LanguageDutch
	}
	return &Heuristic{target: target}
}

// Language implements [Classifier].
func (h *Heuristic) Language(in LanguageInput) models.Language {
	home := strings.ToUpper(strings.TrimSpace(in.HomeMarket))
	targetRuledOut := false

	if home != "" && len(in.Markets) > 0 {
		region := regions[home]
		if region == nil {
			region = []string{home}
		}
		inRegion, hasHome := true, false
		for _, m := range in.Markets {
			m = strings.ToUpper(m)
			if m == home {
				hasHome = true
			}
			if !contains(region, m) {
				inRegion = false
			}
		}
		if inRegion {
			return h.target
		}
		targetRuledOut = !hasHome
	}

	words := titleWords(in.Title)
	for _, lang := range h.lexicalOrder() {
		if lang == h.target && targetRuledOut {
			continue
		}
		if countFunctionWords(words, functionWords[lang]) >= minFunctionWords {
			return lang
		}
	}

	if lang, ok := knownArtists[shared.NormalizeArtist(in.Artist)]; ok {
		if !(lang == h.target && targetRuledOut) {
			return lang
		}
	}

	return models.LanguageOther
}

// lexicalOrder checks the target language first so shared words like "in" favour it.
func (h *Heuristic) lexicalOrder() []models.Language {
	order := []models.Language{h.target}
	for _, l := range []models.Language{models.LanguageDutch, models.LanguageEnglish} {
		if l != h.target {
			order = append(order, l)
		}
	}
	return order
}

// Genres implements [Classifier]. Each raw genre maps to at most one tag; duplicates are collapsed.
func (h *Heuristic) Genres(raw []string) []models.Genre {
	var tags []models.Genre
	seen := make(map[models.Genre]bool)

	for _, g := range raw {
		g = strings.ToLower(strings.TrimSpace(g))
		if g == "" {
			continue
		}
	rules:
		for _, rule := range genreRules {
			for _, kw := range rule.keywords {
				if strings.Contains(g, kw) {
					if !seen[rule.tag] {
						seen[rule.tag] = true
						tags = append(tags, rule.tag)
					}
					break rules
				}
			}
		}
	}
	return tags
}

// titleWords lowercases a title, drops bracketed suffixes like "(feat. X)" or "- Remastered 2011", and splits on non-letters.
func titleWords(title string) []string {
	t := strings.ToLower(title)
	if i := strings.IndexAny(t, "(["); i >= 0 {
		t = t[:i]
	}
	if i := strings.Index(t, " - "); i >= 0 {
		t = t[:i]
	}
	return strings.FieldsFunc(t, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

func countFunctionWords(words, list []string) int {
	matched := make(map[string]bool)
	for _, w := range words {
		if contains(list, w) {
			matched[w] = true
		}
	}
	return len(matched)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
