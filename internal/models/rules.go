package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultBlockSize          = 5
	DefaultBlockCount         = 10
	DefaultMaxTracksPerArtist = 1
	DefaultYearCutoff         = 2000
	DefaultCapLanguage        = LanguageDutch
)

// RuleSet is a playlist's declarative rotation rules.
type RuleSet struct {
	BlockSize          int               `json:"block_size" toml:"block_size"`
	BlockCount         int               `json:"block_count" toml:"block_count"`
	MaxTracksPerArtist int               `json:"max_tracks_per_artist" toml:"max_tracks_per_artist"`
	NoRepeatEver       bool              `json:"no_repeat_ever" toml:"no_repeat_ever"`
	Policies           CandidatePolicies `json:"candidate_policies" toml:"candidate_policies"`
}

// DefaultRuleSet returns the rules a new playlist starts with.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		BlockSize:          DefaultBlockSize,
		BlockCount:         DefaultBlockCount,
		MaxTracksPerArtist: DefaultMaxTracksPerArtist,
		NoRepeatEver:       true,
	}
}

// Normalize fills zero-valued sizes with defaults.
func (r RuleSet) Normalize() RuleSet {
	if r.BlockSize <= 0 {
		r.BlockSize = DefaultBlockSize
	}
	if r.BlockCount <= 0 {
		r.BlockCount = DefaultBlockCount
	}
	if r.MaxTracksPerArtist <= 0 {
		r.MaxTracksPerArtist = DefaultMaxTracksPerArtist
	}
	return r
}

// Validate rejects rule sets that cannot be stored. Semantic problems are left to the validator.
func (r RuleSet) Validate() error {
	if r.BlockSize < 0 || r.BlockCount < 0 || r.MaxTracksPerArtist < 0 {
		return fmt.Errorf("block_size, block_count and max_tracks_per_artist must not be negative")
	}
	if w := r.Policies.HistoryWindowMonths; w != nil && *w < 0 {
		return fmt.Errorf("history_window_months must not be negative")
	}
	return nil
}

// CandidatePolicies groups the optional policies. A nil or empty field disables that policy.
type CandidatePolicies struct {
	DecadeDistribution  DecadeDistribution `json:"decade_distribution,omitempty" toml:"decade_distribution,omitempty"`
	YearDistribution    *YearDistribution  `json:"year_distribution,omitempty" toml:"year_distribution,omitempty"`
	Language            *LanguagePolicy    `json:"language,omitempty" toml:"language,omitempty"`
	Genre               *GenrePolicy       `json:"genre,omitempty" toml:"genre,omitempty"`
	HistoryWindowMonths *int               `json:"history_window_months,omitempty" toml:"history_window_months,omitempty"`
}

// UnmarshalJSON accepts the flat max_dutch_per_block and allow_dutch keys as shorthand for a language policy.
func (p *CandidatePolicies) UnmarshalJSON(data []byte) error {
	type plain CandidatePolicies
	var aux struct {
		plain
		MaxDutchPerBlock *int  `json:"max_dutch_per_block"`
		AllowDutch       *bool `json:"allow_dutch"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = CandidatePolicies(aux.plain)

	if aux.MaxDutchPerBlock == nil && aux.AllowDutch == nil {
		return nil
	}
	if p.Language == nil {
		p.Language = &LanguagePolicy{}
	}
	if aux.MaxDutchPerBlock != nil && p.Language.MaxPerBlock == nil {
		p.Language.CapLanguage = LanguageDutch
		p.Language.MaxPerBlock = aux.MaxDutchPerBlock
	}
	if aux.AllowDutch != nil && !*aux.AllowDutch && !p.Language.Forbids(LanguageDutch) {
		p.Language.Forbidden = append(p.Language.Forbidden, LanguageDutch)
	}
	return nil
}

// Empty reports whether no policy is configured.
func (p CandidatePolicies) Empty() bool {
	return len(p.DecadeDistribution) == 0 && p.YearDistribution == nil && p.Language == nil &&
		p.Genre == nil && p.HistoryWindowMonths == nil
}

// DecadeDistribution maps decade keys ("1980s") to required counts.
type DecadeDistribution map[string]int

// DecadeKey formats a decade start year as a distribution key.
func DecadeKey(decade int) string {
	return strconv.Itoa(decade) + "s"
}

// ParseDecadeKey parses "1980s" (or "1980") into 1980. Keys not aligned to a decade are rejected.
func ParseDecadeKey(key string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(key), "s"))
	if err != nil || n%10 != 0 {
		return 0, false
	}
	return n, true
}

// Keys returns the distribution keys in chronological order, unparseable keys last.
func (d DecadeDistribution) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, okA := ParseDecadeKey(keys[i])
		b, okB := ParseDecadeKey(keys[j])
		if okA != okB {
			return okA
		}
		if a != b {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Total sums the required counts.
func (d DecadeDistribution) Total() int {
	total := 0
	for _, n := range d {
		total += n
	}
	return total
}

// YearDistribution splits a block around a cutoff year.
type YearDistribution struct {
	Cutoff     int `json:"cutoff,omitempty" toml:"cutoff,omitempty"` // defaults to 2000
	PreCutoff  int `json:"pre_cutoff" toml:"pre_cutoff"`
	PostCutoff int `json:"post_cutoff" toml:"post_cutoff"`
	Wildcard   int `json:"wildcard" toml:"wildcard"`
}

// CutoffYear returns the configured cutoff or the default.
func (y YearDistribution) CutoffYear() int {
	if y.Cutoff == 0 {
		return DefaultYearCutoff
	}
	return y.Cutoff
}

// Total sums the bucket counts.
func (y YearDistribution) Total() int {
	return y.PreCutoff + y.PostCutoff + y.Wildcard
}

// LanguagePolicy constrains block languages.
type LanguagePolicy struct {
	CapLanguage Language   `json:"cap_language,omitempty" toml:"cap_language,omitempty"` // defaults to nl
	MaxPerBlock *int       `json:"max_of_language_per_block,omitempty" toml:"max_of_language_per_block,omitempty"`
	Required    Language   `json:"required_language,omitempty" toml:"required_language,omitempty"`
	Forbidden   []Language `json:"forbidden_languages,omitempty" toml:"forbidden_languages,omitempty"`
}

// CappedLanguage returns the language the per-block cap applies to.
func (l LanguagePolicy) CappedLanguage() Language {
	if l.CapLanguage == "" {
		return DefaultCapLanguage
	}
	return l.CapLanguage
}

// Forbids reports whether lang is in the forbidden list.
func (l LanguagePolicy) Forbids(lang Language) bool {
	for _, f := range l.Forbidden {
		if f == lang {
			return true
		}
	}
	return false
}

// GenrePolicy lists required and forbidden genre tags.
type GenrePolicy struct {
	Required  []Genre `json:"required,omitempty" toml:"required,omitempty"`
	Forbidden []Genre `json:"forbidden,omitempty" toml:"forbidden,omitempty"`
}

// IntPtr is a convenience for optional integer rule fields.
func IntPtr(n int) *int {
	return &n
}
