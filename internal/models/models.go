package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Language is the closed set of language codes the enricher assigns.
type Language string

const (
	LanguageDutch   Language = "nl"
	LanguageEnglish Language = "en"
	LanguageOther   Language = "other"
)

// Valid reports whether l is one of the known codes.
func (l Language) Valid() bool {
	switch l {
	case LanguageDutch, LanguageEnglish, LanguageOther:
		return true
	}
	return false
}

// Genre is a tag from the fixed genre vocabulary.
type Genre string

const (
	GenreSoul             Genre = "soul"
	GenreIndie            Genre = "indie"
	GenrePop              Genre = "pop"
	GenreRock             Genre = "rock"
	GenreElectronic       Genre = "electronic"
	GenreJazz             Genre = "jazz"
	GenreFolk             Genre = "folk"
	GenreRnB              Genre = "r&b"
	GenreHipHop           Genre = "hip-hop"
	GenreRegionalLanguage Genre = "regional-language"
)

// Genres lists the full vocabulary.
var Genres = []Genre{
	GenreSoul, GenreIndie, GenrePop, GenreRock, GenreElectronic,
	GenreJazz, GenreFolk, GenreRnB, GenreHipHop, GenreRegionalLanguage,
}

// JoinGenres encodes tags for storage as a comma-separated column.
func JoinGenres(genres []Genre) string {
	parts := make([]string, len(genres))
	for i, g := range genres {
		parts[i] = string(g)
	}
	return strings.Join(parts, ",")
}

// SplitGenres decodes a comma-separated genre column.
func SplitGenres(s string) []Genre {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	genres := make([]Genre, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			genres = append(genres, Genre(p))
		}
	}
	return genres
}

// Attributes are the semantic fields policies operate on.
type Attributes struct {
	Year     *int     `json:"year"`
	Decade   *int     `json:"decade"`
	Language Language `json:"language"`
	Genres   []Genre  `json:"genres"`
}

// HasGenre reports whether g is among the tags.
func (a Attributes) HasGenre(g Genre) bool {
	return slices.Contains(a.Genres, g)
}

// Candidate is a track considered for a block, either proposed or already placed.
type Candidate struct {
	TrackID     string     `json:"track_id"`
	Artist      string     `json:"artist"`
	Title       string     `json:"title"`
	Attributes  Attributes `json:"attributes"`
	Rationale   string     `json:"rationale,omitempty"`
	AISuggested bool       `json:"ai_suggested"`
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s - %s", c.Artist, c.Title)
}

// Playlist is a curated playlist under rotation.
type Playlist struct {
	ID          string     `json:"id"`
	Sequence    int        `json:"-"`
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Vibe        string     `json:"vibe"`
	ExternalRef string     `json:"external_ref"` // playlist ID at the track source
	HomeMarket  string     `json:"home_market"`
	Schedule    string     `json:"schedule"` // RRULE, opaque to selection and lifecycle
	AutoCommit  bool       `json:"auto_commit"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"-"`
}

// Validate checks required playlist fields.
func (p *Playlist) Validate() error {
	if strings.TrimSpace(p.Key) == "" {
		return fmt.Errorf("playlist key is required")
	}
	if strings.ContainsAny(p.Key, " /") {
		return fmt.Errorf("playlist key %q must not contain spaces or slashes", p.Key)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("playlist name is required")
	}
	return nil
}
